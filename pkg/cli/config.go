package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/adapter"
	"github.com/m-mizutani/queryscribe/pkg/interfaces"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/repository"
	"github.com/m-mizutani/queryscribe/pkg/service/executor"
	"github.com/m-mizutani/queryscribe/pkg/service/schemasource"
	"github.com/m-mizutani/queryscribe/pkg/usecase/correction"
	"github.com/m-mizutani/queryscribe/pkg/usecase/schemarag"
	"github.com/m-mizutani/queryscribe/pkg/usecase/scribe"
	"github.com/m-mizutani/queryscribe/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	// Repository
	project  string
	database string

	// LLM
	llmProvider       string
	embeddingProvider string
	anthropicAPIKey   string
	claudeModel       string
	geminiProject     string
	geminiLocation    string
	geminiModel       string
	embeddingModel    string
	openaiAPIKey      string
	openaiBaseURL     string
	openaiModel       string
	ollamaURL         string
	ollamaModel       string

	// Schema source
	schemaSource    string
	schemaFile      string
	pgSchema        string
	bigqueryDataset string
	tableNotes      string

	// Executor
	executorName     string
	databaseURL      string
	bigqueryProject  string
	bigqueryLocation string
	scanLimit        float64
	maxRows          int64
	policyDir        string

	// Snapshot storage
	storageType   string
	storageDir    string
	bucket        string
	s3Endpoint    string
	s3Region      string
	s3AccessKey   string
	s3SecretKey   string
	s3NoSSL       bool
	encryptionKey string

	// Correction loop and retrieval
	maxAttempts     int64
	generateTimeout time.Duration
	executeTimeout  time.Duration
	topK            int64
	threshold       float64
	dialect         string
	noPlan          bool
	noExplain       bool
	metricsAddr     string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID of Firestore to record sessions",
			Sources:     cli.EnvVars("QUERYSCRIBE_FIRESTORE_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("QUERYSCRIBE_FIRESTORE_DATABASE", "FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-provider",
			Usage:       "Text generation provider (gemini, claude, openai, ollama)",
			Value:       "gemini",
			Sources:     cli.EnvVars("QUERYSCRIBE_LLM_PROVIDER"),
			Destination: &cfg.llmProvider,
		},
		&cli.StringFlag{
			Name:        "embedding-provider",
			Usage:       "Embedding provider (gemini, openai, ollama)",
			Value:       "gemini",
			Sources:     cli.EnvVars("QUERYSCRIBE_EMBEDDING_PROVIDER"),
			Destination: &cfg.embeddingProvider,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model name",
			Sources:     cli.EnvVars("QUERYSCRIBE_CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini generative model name",
			Sources:     cli.EnvVars("QUERYSCRIBE_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Embedding model name of the embedding provider",
			Sources:     cli.EnvVars("QUERYSCRIBE_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "API key of OpenAI or an OpenAI compatible endpoint",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "Base URL of an OpenAI compatible endpoint",
			Sources:     cli.EnvVars("OPENAI_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Usage:       "OpenAI model name",
			Value:       "gpt-4o-mini",
			Sources:     cli.EnvVars("QUERYSCRIBE_OPENAI_MODEL"),
			Destination: &cfg.openaiModel,
		},
		&cli.StringFlag{
			Name:        "ollama-url",
			Usage:       "Ollama server URL",
			Value:       "http://localhost:11434",
			Sources:     cli.EnvVars("OLLAMA_HOST"),
			Destination: &cfg.ollamaURL,
		},
		&cli.StringFlag{
			Name:        "ollama-model",
			Usage:       "Ollama model name",
			Value:       "llama3.1",
			Sources:     cli.EnvVars("QUERYSCRIBE_OLLAMA_MODEL"),
			Destination: &cfg.ollamaModel,
		},
	}
}

// schemaFlags returns flags to locate the schema to index
func schemaFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "schema-source",
			Usage:       "Where to read the schema (file, postgres, bigquery)",
			Value:       "file",
			Sources:     cli.EnvVars("QUERYSCRIBE_SCHEMA_SOURCE"),
			Destination: &cfg.schemaSource,
		},
		&cli.StringFlag{
			Name:        "schema-file",
			Aliases:     []string{"s"},
			Usage:       "Path to a file of CREATE TABLE statements",
			Sources:     cli.EnvVars("QUERYSCRIBE_SCHEMA_FILE"),
			Destination: &cfg.schemaFile,
		},
		&cli.StringFlag{
			Name:        "pg-schema",
			Usage:       "PostgreSQL schema to introspect",
			Value:       "public",
			Sources:     cli.EnvVars("QUERYSCRIBE_PG_SCHEMA"),
			Destination: &cfg.pgSchema,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset to introspect",
			Sources:     cli.EnvVars("QUERYSCRIBE_BIGQUERY_DATASET"),
			Destination: &cfg.bigqueryDataset,
		},
		&cli.StringFlag{
			Name:        "table-notes",
			Usage:       "YAML file of table descriptions",
			Sources:     cli.EnvVars("QUERYSCRIBE_TABLE_NOTES"),
			Destination: &cfg.tableNotes,
		},
	}
}

// executorFlags returns flags of the database that runs candidate queries
func executorFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "executor",
			Aliases:     []string{"e"},
			Usage:       "Query executor (postgres, bigquery, duckdb)",
			Value:       "postgres",
			Sources:     cli.EnvVars("QUERYSCRIBE_EXECUTOR"),
			Destination: &cfg.executorName,
		},
		&cli.StringFlag{
			Name:        "database-url",
			Usage:       "PostgreSQL connection string",
			Sources:     cli.EnvVars("QUERYSCRIBE_DATABASE_URL", "DATABASE_URL"),
			Destination: &cfg.databaseURL,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project ID to run BigQuery jobs",
			Sources:     cli.EnvVars("QUERYSCRIBE_BIGQUERY_PROJECT"),
			Destination: &cfg.bigqueryProject,
		},
		&cli.StringFlag{
			Name:        "bigquery-location",
			Usage:       "BigQuery location",
			Sources:     cli.EnvVars("QUERYSCRIBE_BIGQUERY_LOCATION"),
			Destination: &cfg.bigqueryLocation,
		},
		&cli.FloatFlag{
			Name:        "scan-limit",
			Usage:       "Maximum GiB a BigQuery query may scan",
			Value:       10,
			Sources:     cli.EnvVars("QUERYSCRIBE_SCAN_LIMIT"),
			Destination: &cfg.scanLimit,
		},
		&cli.IntFlag{
			Name:        "max-rows",
			Usage:       "Maximum rows read from a query result",
			Value:       executor.DefaultMaxRows,
			Sources:     cli.EnvVars("QUERYSCRIBE_MAX_ROWS"),
			Destination: &cfg.maxRows,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of additional Rego policies to screen queries",
			Sources:     cli.EnvVars("QUERYSCRIBE_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// storageFlags returns flags of the snapshot storage
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "storage",
			Usage:       "Snapshot storage (local, gcs, s3, none)",
			Value:       "local",
			Sources:     cli.EnvVars("QUERYSCRIBE_STORAGE"),
			Destination: &cfg.storageType,
		},
		&cli.StringFlag{
			Name:        "storage-dir",
			Usage:       "Directory of the local snapshot storage",
			Value:       ".queryscribe",
			Sources:     cli.EnvVars("QUERYSCRIBE_STORAGE_DIR"),
			Destination: &cfg.storageDir,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Bucket name of GCS or S3 snapshot storage",
			Sources:     cli.EnvVars("QUERYSCRIBE_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "s3-endpoint",
			Usage:       "S3 endpoint such as s3.amazonaws.com or localhost:9000",
			Value:       "s3.amazonaws.com",
			Sources:     cli.EnvVars("QUERYSCRIBE_S3_ENDPOINT"),
			Destination: &cfg.s3Endpoint,
		},
		&cli.StringFlag{
			Name:        "s3-region",
			Usage:       "S3 region",
			Sources:     cli.EnvVars("AWS_REGION"),
			Destination: &cfg.s3Region,
		},
		&cli.StringFlag{
			Name:        "s3-access-key",
			Usage:       "S3 access key ID",
			Sources:     cli.EnvVars("AWS_ACCESS_KEY_ID"),
			Destination: &cfg.s3AccessKey,
		},
		&cli.StringFlag{
			Name:        "s3-secret-key",
			Usage:       "S3 secret access key",
			Sources:     cli.EnvVars("AWS_SECRET_ACCESS_KEY"),
			Destination: &cfg.s3SecretKey,
		},
		&cli.BoolFlag{
			Name:        "s3-no-ssl",
			Usage:       "Connect to S3 endpoint without TLS",
			Sources:     cli.EnvVars("QUERYSCRIBE_S3_NO_SSL"),
			Destination: &cfg.s3NoSSL,
		},
		&cli.StringFlag{
			Name:        "encryption-key",
			Usage:       "32 byte key to encrypt stored snapshots",
			Sources:     cli.EnvVars("QUERYSCRIBE_ENCRYPTION_KEY"),
			Destination: &cfg.encryptionKey,
		},
	}
}

// retrievalFlags returns flags of schema retrieval
func retrievalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Number of tables passed to generation",
			Value:       schemarag.DefaultTopK,
			Sources:     cli.EnvVars("QUERYSCRIBE_TOP_K"),
			Destination: &cfg.topK,
		},
		&cli.FloatFlag{
			Name:        "threshold",
			Usage:       "Minimum similarity of a relevant table",
			Value:       schemarag.DefaultThreshold,
			Sources:     cli.EnvVars("QUERYSCRIBE_THRESHOLD"),
			Destination: &cfg.threshold,
		},
	}
}

// loopFlags returns flags of the correction loop
func loopFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-attempts",
			Usage:       "Maximum generate and execute attempts per question",
			Value:       correction.DefaultMaxAttempts,
			Sources:     cli.EnvVars("QUERYSCRIBE_MAX_ATTEMPTS"),
			Destination: &cfg.maxAttempts,
		},
		&cli.DurationFlag{
			Name:        "generate-timeout",
			Usage:       "Timeout of one generation call",
			Value:       correction.DefaultGenerateTimeout,
			Sources:     cli.EnvVars("QUERYSCRIBE_GENERATE_TIMEOUT"),
			Destination: &cfg.generateTimeout,
		},
		&cli.DurationFlag{
			Name:        "execute-timeout",
			Usage:       "Timeout of one query execution",
			Value:       correction.DefaultExecuteTimeout,
			Sources:     cli.EnvVars("QUERYSCRIBE_EXECUTE_TIMEOUT"),
			Destination: &cfg.executeTimeout,
		},
		&cli.StringFlag{
			Name:        "dialect",
			Usage:       "SQL dialect told to the model. Derived from executor if empty",
			Sources:     cli.EnvVars("QUERYSCRIBE_DIALECT"),
			Destination: &cfg.dialect,
		},
		&cli.BoolFlag{
			Name:        "no-plan",
			Usage:       "Skip the analysis step before generation",
			Sources:     cli.EnvVars("QUERYSCRIBE_NO_PLAN"),
			Destination: &cfg.noPlan,
		},
		&cli.BoolFlag{
			Name:        "no-explain",
			Usage:       "Skip the explanation of the final query",
			Sources:     cli.EnvVars("QUERYSCRIBE_NO_EXPLAIN"),
			Destination: &cfg.noExplain,
		},
		&cli.StringFlag{
			Name:        "metrics-addr",
			Usage:       "Address to serve Prometheus metrics, such as :9090",
			Sources:     cli.EnvVars("QUERYSCRIBE_METRICS_ADDR"),
			Destination: &cfg.metricsAddr,
		},
	}
}

// indexFlags is the flag set of commands that build or read the schema index.
func indexFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, schemaFlags(cfg)...)
	flags = append(flags, storageFlags(cfg)...)
	flags = append(flags, retrievalFlags(cfg)...)
	return flags
}

// askFlags is the flag set of commands that run the correction loop.
func askFlags(cfg *config) []cli.Flag {
	flags := indexFlags(cfg)
	flags = append(flags, executorFlags(cfg)...)
	flags = append(flags, loopFlags(cfg)...)
	return flags
}

// newRepository creates a Firestore repository if a project is given, otherwise an
// in-memory one that lives as long as the process.
func (cfg *config) newRepository() (interfaces.Repository, error) {
	if cfg.project == "" {
		return repository.NewMemory(), nil
	}
	if cfg.database == "" {
		return nil, goerr.New("database is required")
	}

	repo, err := repository.New(cfg.project, cfg.database)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// requireRepository is for commands that read recorded sessions.
func (cfg *config) requireRepository() (interfaces.Repository, error) {
	if cfg.project == "" {
		return nil, goerr.New("project is required to read recorded sessions")
	}
	return cfg.newRepository()
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	var opts []adapter.GeminiOption
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
	}
	if cfg.embeddingModel != "" {
		opts = append(opts, adapter.WithEmbeddingModel(cfg.embeddingModel))
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newClaude creates a new Claude adapter instance
func (cfg *config) newClaude() (*adapter.ClaudeClient, error) {
	if cfg.anthropicAPIKey == "" {
		return nil, goerr.New("anthropic-api-key is required")
	}

	var opts []adapter.ClaudeOption
	if cfg.claudeModel != "" {
		opts = append(opts, adapter.WithClaudeModel(cfg.claudeModel))
	}
	return adapter.NewClaude(cfg.anthropicAPIKey, opts...), nil
}

func (cfg *config) newOpenAI() (*adapter.LangChain, error) {
	return adapter.NewOpenAI(adapter.LangChainConfig{
		BaseURL:        cfg.openaiBaseURL,
		APIKey:         cfg.openaiAPIKey,
		Model:          cfg.openaiModel,
		EmbeddingModel: cfg.embeddingModel,
	})
}

func (cfg *config) newOllama() (*adapter.LangChain, error) {
	return adapter.NewOllama(adapter.LangChainConfig{
		BaseURL:        cfg.ollamaURL,
		Model:          cfg.ollamaModel,
		EmbeddingModel: cfg.embeddingModel,
	})
}

// newGenerator creates the text generation client selected by llm-provider
func (cfg *config) newGenerator(ctx context.Context) (interfaces.Generator, error) {
	switch cfg.llmProvider {
	case "gemini":
		return cfg.newGemini(ctx)
	case "claude":
		return cfg.newClaude()
	case "openai":
		return cfg.newOpenAI()
	case "ollama":
		return cfg.newOllama()
	default:
		return nil, goerr.New("unsupported llm provider", goerr.V("provider", cfg.llmProvider))
	}
}

// newEmbedder creates the embedding client and returns the embedding model name together.
func (cfg *config) newEmbedder(ctx context.Context) (interfaces.Embedder, string, error) {
	switch cfg.embeddingProvider {
	case "gemini":
		client, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, "", err
		}
		return client, "gemini/" + client.EmbeddingModel(), nil
	case "openai":
		client, err := cfg.newOpenAI()
		if err != nil {
			return nil, "", err
		}
		return client, "openai/" + client.EmbeddingModel(), nil
	case "ollama":
		client, err := cfg.newOllama()
		if err != nil {
			return nil, "", err
		}
		return client, "ollama/" + client.EmbeddingModel(), nil
	default:
		return nil, "", goerr.New("unsupported embedding provider", goerr.V("provider", cfg.embeddingProvider))
	}
}

func (cfg *config) newBigQuery(ctx context.Context) (adapter.BigQuery, error) {
	if cfg.bigqueryProject == "" {
		return nil, goerr.New("bigquery-project is required")
	}

	var opts []adapter.BigQueryOption
	if cfg.bigqueryLocation != "" {
		opts = append(opts, adapter.WithBigQueryLocation(cfg.bigqueryLocation))
	}
	return adapter.NewBigQuery(ctx, cfg.bigqueryProject, opts...)
}

// newExecutor creates the query executor wrapped by the policy guard. The returned closer
// releases the database connection.
func (cfg *config) newExecutor(ctx context.Context, src *schemasource.Source) (interfaces.Executor, io.Closer, error) {
	var (
		exec   interfaces.Executor
		closer io.Closer = nopCloser{}
	)

	switch cfg.executorName {
	case "postgres":
		db, err := executor.OpenPostgres(ctx, cfg.databaseURL)
		if err != nil {
			return nil, nil, err
		}
		exec = executor.NewPostgres(db,
			executor.WithMaxRows(int(cfg.maxRows)),
			executor.WithStatementTimeout(cfg.executeTimeout),
		)
		closer = db

	case "bigquery":
		bq, err := cfg.newBigQuery(ctx)
		if err != nil {
			return nil, nil, err
		}
		exec = executor.NewBigQuery(bq,
			executor.WithScanLimit(cfg.scanLimit),
			executor.WithBigQueryMaxRows(int(cfg.maxRows)),
		)

	case "duckdb":
		chunks, err := schemarag.Chunk(src.Text)
		if err != nil {
			return nil, nil, err
		}
		defs := make([]string, len(chunks))
		for i, c := range chunks {
			defs[i] = c.Definition
		}
		sandbox, err := executor.NewDuckDB(ctx, defs)
		if err != nil {
			return nil, nil, err
		}
		exec, closer = sandbox, sandbox

	default:
		return nil, nil, goerr.New("unsupported executor", goerr.V("executor", cfg.executorName))
	}

	var guardOpts []executor.GuardOption
	if cfg.policyDir != "" {
		guardOpts = append(guardOpts, executor.WithPolicyDir(cfg.policyDir))
	}
	guard, err := executor.NewGuard(ctx, exec, guardOpts...)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return guard, closer, nil
}

func (cfg *config) resolveDialect() string {
	if cfg.dialect != "" {
		return cfg.dialect
	}
	switch cfg.executorName {
	case "bigquery":
		return "BigQuery GoogleSQL"
	case "duckdb":
		return "DuckDB"
	default:
		return correction.DefaultDialect
	}
}

// newStorage creates the snapshot storage. It returns nil if storage is disabled.
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	switch cfg.storageType {
	case "none", "":
		return nil, nil
	case "local":
		return adapter.NewFileStorage(cfg.storageDir)
	case "gcs":
		if cfg.bucket == "" {
			return nil, goerr.New("bucket name is required")
		}
		storage, err := adapter.NewStorage(ctx, cfg.bucket)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return storage, nil
	case "s3":
		return adapter.NewS3(adapter.S3Config{
			Endpoint:        cfg.s3Endpoint,
			Region:          cfg.s3Region,
			Bucket:          cfg.bucket,
			AccessKeyID:     cfg.s3AccessKey,
			SecretAccessKey: cfg.s3SecretKey,
			UseSSL:          !cfg.s3NoSSL,
		})
	default:
		return nil, goerr.New("unsupported storage", goerr.V("storage", cfg.storageType))
	}
}

// loadSource reads the schema from the selected source and merges table notes.
func (cfg *config) loadSource(ctx context.Context) (*schemasource.Source, error) {
	var (
		src *schemasource.Source
		err error
	)

	switch cfg.schemaSource {
	case "file":
		if cfg.schemaFile == "" {
			return nil, goerr.New("schema-file is required")
		}
		src, err = schemasource.FromFile(cfg.schemaFile)

	case "postgres":
		db, openErr := executor.OpenPostgres(ctx, cfg.databaseURL)
		if openErr != nil {
			return nil, openErr
		}
		defer db.Close()
		src, err = schemasource.FromPostgres(ctx, db, cfg.pgSchema)

	case "bigquery":
		bq, bqErr := cfg.newBigQuery(ctx)
		if bqErr != nil {
			return nil, bqErr
		}
		src, err = schemasource.FromBigQuery(ctx, bq, cfg.bigqueryProject, cfg.bigqueryDataset)

	default:
		return nil, goerr.New("unsupported schema source", goerr.V("source", cfg.schemaSource))
	}
	if err != nil {
		return nil, err
	}

	if cfg.tableNotes != "" {
		notes, err := schemasource.LoadTableNotes(cfg.tableNotes)
		if err != nil {
			return nil, err
		}
		src.Merge(notes)
	}

	logging.From(ctx).Debug("schema loaded", "source", cfg.schemaSource, "bytes", len(src.Text))
	return src, nil
}

// runtime is a set of dependencies built from config for one command.
type runtime struct {
	svc     *scribe.Service
	src     *schemasource.Source
	closers []io.Closer
}

func (r *runtime) Close() {
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			logging.Default().Warn("failed to close resource", "error", err)
		}
	}
}

// newRuntime builds the service and indexes the schema. withExecutor is false for commands
// that never run queries.
func (cfg *config) newRuntime(ctx context.Context, withExecutor bool) (*runtime, error) {
	src, err := cfg.loadSource(ctx)
	if err != nil {
		return nil, err
	}

	embedder, embeddingModel, err := cfg.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	rt := &runtime{src: src}
	var generator interfaces.Generator = nopGenerator{}
	var exec interfaces.Executor = nopExecutor{}
	if withExecutor {
		if generator, err = cfg.newGenerator(ctx); err != nil {
			return nil, err
		}
		var closer io.Closer
		if exec, closer, err = cfg.newExecutor(ctx, src); err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, closer)
	}

	repo, err := cfg.newRepository()
	if err != nil {
		rt.Close()
		return nil, err
	}
	if c, ok := repo.(io.Closer); ok {
		rt.closers = append(rt.closers, c)
	}

	opts := []scribe.Option{
		scribe.WithRepository(repo),
		scribe.WithEmbeddingModel(embeddingModel),
		scribe.WithTableDescriptions(src.Descriptions),
		scribe.WithTopK(int(cfg.topK)),
		scribe.WithThreshold(cfg.threshold),
	}
	if withExecutor {
		opts = append(opts,
			scribe.WithDialect(cfg.resolveDialect()),
			scribe.WithPlan(!cfg.noPlan),
			scribe.WithExplanation(!cfg.noExplain),
			scribe.WithGenerateTimeout(cfg.generateTimeout),
			scribe.WithLoopOptions(
				correction.WithMaxAttempts(int(cfg.maxAttempts)),
				correction.WithGenerateTimeout(cfg.generateTimeout),
				correction.WithExecuteTimeout(cfg.executeTimeout),
			),
		)
	}

	storage, err := cfg.newStorage(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if storage != nil {
		var persistOpts []schemarag.PersisterOption
		if cfg.encryptionKey != "" {
			persistOpts = append(persistOpts, schemarag.WithEncryptionKey(cfg.encryptionKey))
		}
		opts = append(opts, scribe.WithPersister(schemarag.NewPersister(storage, persistOpts...)))
	}

	rt.svc = scribe.New(embedder, generator, exec, opts...)
	if _, err := rt.svc.IndexSchema(ctx, src.Text); err != nil {
		rt.Close()
		return nil, goerr.Wrap(err, "failed to index schema")
	}
	return rt, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// nopGenerator and nopExecutor fill the service for commands that only use the index.
type nopGenerator struct{}

func (nopGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "", goerr.New("text generation is not configured")
}

type nopExecutor struct{}

func (nopExecutor) Execute(ctx context.Context, query string) (*model.Rows, error) {
	return nil, goerr.New("query execution is not configured")
}

func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
