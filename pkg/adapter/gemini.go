package adapter

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

type Gemini interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Embedding(ctx context.Context, text string) (*genai.EmbedContentResponse, error)
}

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
	embeddingModel  string
	dimensionality  int32
	temperature     float32
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

// WithEmbeddingDimensionality truncates embedding vectors to n dimensions. Zero keeps the model default.
func WithEmbeddingDimensionality(n int32) GeminiOption {
	return func(g *GeminiClient) {
		g.dimensionality = n
	}
}

func WithGeminiTemperature(t float32) GeminiOption {
	return func(g *GeminiClient) {
		g.temperature = t
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: "gemini-2.5-flash",
		embeddingModel:  "gemini-embedding-001",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) EmbeddingModel() string {
	return g.embeddingModel
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content")
	}
	return resp, nil
}

func (g *GeminiClient) Embedding(ctx context.Context, text string) (*genai.EmbedContentResponse, error) {
	config := &genai.EmbedContentConfig{}
	if g.dimensionality > 0 {
		config.OutputDimensionality = &g.dimensionality
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content")
	}

	return resp, nil
}

// Generate implements interfaces.Generator
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	return generateText(ctx, g, prompt, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	})
}

// GenerateJSON requests a response constrained by the JSON schema.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string, schema *jsonschema.Schema) (string, error) {
	responseSchema, err := ConvertJSONSchemaToGenai(schema)
	if err != nil {
		return "", err
	}

	thinkingBudget := int32(0)
	return generateText(ctx, g, prompt, &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	})
}

// Embed implements interfaces.Embedder
func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedValues(ctx, g, text)
}

func generateText(ctx context.Context, gemini Gemini, prompt string, config *genai.GenerateContentConfig) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return "", err
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", goerr.New("invalid response structure from gemini")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		text += part.Text
	}
	return text, nil
}

func embedValues(ctx context.Context, gemini Gemini, text string) ([]float32, error) {
	resp, err := gemini.Embedding(ctx, text)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.New("empty embedding response from gemini")
	}
	return resp.Embeddings[0].Values, nil
}

// ConvertJSONSchemaToGenai converts JSON Schema to Gemini genai.Schema
func ConvertJSONSchemaToGenai(schema *jsonschema.Schema) (*genai.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	genaiSchema := &genai.Schema{}

	schemaType := schema.Type
	for _, t := range schema.Types {
		if t != "null" {
			schemaType = t
		} else {
			genaiSchema.Nullable = genai.Ptr(true)
		}
	}

	switch schemaType {
	case "object":
		genaiSchema.Type = genai.TypeObject
	case "string":
		genaiSchema.Type = genai.TypeString
	case "integer":
		genaiSchema.Type = genai.TypeInteger
	case "number":
		genaiSchema.Type = genai.TypeNumber
	case "boolean":
		genaiSchema.Type = genai.TypeBoolean
	case "array":
		genaiSchema.Type = genai.TypeArray
	default:
		if schemaType != "" {
			return nil, goerr.New("unsupported schema type", goerr.V("type", schemaType))
		}
	}

	genaiSchema.Description = schema.Description

	if len(schema.Enum) > 0 {
		genaiSchema.Enum = make([]string, 0, len(schema.Enum))
		for _, v := range schema.Enum {
			if s, ok := v.(string); ok {
				genaiSchema.Enum = append(genaiSchema.Enum, s)
			}
		}
	}

	if len(schema.Properties) > 0 {
		genaiSchema.Properties = make(map[string]*genai.Schema)
		for name, propSchema := range schema.Properties {
			converted, err := ConvertJSONSchemaToGenai(propSchema)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property schema",
					goerr.V("property", name))
			}
			genaiSchema.Properties[name] = converted
		}
	}

	if len(schema.Required) > 0 {
		genaiSchema.Required = schema.Required
	}

	if schema.Items != nil {
		converted, err := ConvertJSONSchemaToGenai(schema.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items schema")
		}
		genaiSchema.Items = converted
	}

	return genaiSchema, nil
}
