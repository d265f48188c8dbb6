package adapter

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain serves OpenAI compatible and Ollama models as interfaces.Generator and
// interfaces.Embedder.
type LangChain struct {
	llm            llms.Model
	embedder       embeddings.Embedder
	embeddingModel string
	temperature    float64
	maxTokens      int
}

// LangChainConfig is the connection setting of a langchaingo backed model.
type LangChainConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float64
	MaxTokens      int
}

// NewOpenAI creates a client of OpenAI or an OpenAI compatible endpoint such as OpenRouter.
func NewOpenAI(cfg LangChainConfig) (*LangChain, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.EmbeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.EmbeddingModel))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create openai client", goerr.V("base_url", cfg.BaseURL))
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create openai embedder")
	}

	return &LangChain{
		llm:            llm,
		embedder:       embedder,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
	}, nil
}

// NewOllama creates a client of an Ollama server. Embeddings use EmbeddingModel when
// set, otherwise Model.
func NewOllama(cfg LangChainConfig) (*LangChain, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create ollama client", goerr.V("base_url", cfg.BaseURL))
	}

	embeddingModel := cfg.Model
	embeddingLLM := llm
	if cfg.EmbeddingModel != "" && cfg.EmbeddingModel != cfg.Model {
		embeddingModel = cfg.EmbeddingModel
		embeddingLLM, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.EmbeddingModel),
		)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create ollama embedding client", goerr.V("base_url", cfg.BaseURL))
		}
	}

	embedder, err := embeddings.NewEmbedder(embeddingLLM)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create ollama embedder")
	}

	return &LangChain{
		llm:            llm,
		embedder:       embedder,
		embeddingModel: embeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
	}, nil
}

func (x *LangChain) EmbeddingModel() string {
	return x.embeddingModel
}

// Generate implements interfaces.Generator
func (x *LangChain) Generate(ctx context.Context, prompt string) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(x.temperature)}
	if x.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(x.maxTokens))
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, x.llm, prompt, opts...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content")
	}
	return text, nil
}

// Embed implements interfaces.Embedder
func (x *LangChain) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := x.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed text")
	}
	return vec, nil
}
