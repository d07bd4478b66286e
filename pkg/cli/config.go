package cli

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/adapter"
	"github.com/m-mizutani/kioku/pkg/embedding"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/policy"
	"github.com/m-mizutani/kioku/pkg/repository"
	"github.com/m-mizutani/kioku/pkg/usecase/memory"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/m-mizutani/kioku/pkg/vector"
	"github.com/urfave/cli/v3"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownEmbedder   = goerr.New("unknown embedder")
	ErrUnknownStorage    = goerr.New("unknown storage")
	ErrUnknownRepository = goerr.New("unknown repository")
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	configFile string

	// Embedding
	embedder       string
	dimension      int64
	geminiProject  string
	geminiLocation string
	geminiModel    string
	openaiAPIKey   string
	openaiModel    string
	openaiBaseURL  string

	// Collection storage
	storage         string
	storageDir      string
	bucket          string
	bucketPrefix    string
	credentialsFile string

	// Repository
	repository string
	sqlitePath string
	project    string
	database   string

	// Storage policy
	policyDir  string
	skipPolicy bool
}

// fileConfig is the optional YAML configuration given by --config
type fileConfig struct {
	Retrieval  model.RetrievalConfig `yaml:"retrieval"`
	Collection struct {
		MaxElements int `yaml:"max_elements"`
		M           int `yaml:"m"`
		EfSearch    int `yaml:"ef_search"`
	} `yaml:"collection"`
	PersistInterval time.Duration `yaml:"persist_interval"`
	TokenBudget     int           `yaml:"token_budget"`
	MaxChunkLen     int           `yaml:"max_chunk_len"`
	PolicyDir       string        `yaml:"policy_dir"`
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("KIOKU_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       logging.FormatConsole,
			Sources:     cli.EnvVars("KIOKU_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to YAML config file",
			Sources:     cli.EnvVars("KIOKU_CONFIG"),
			Destination: &cfg.configFile,
		},
	}
}

// embeddingFlags returns flags for the embedding backend
func embeddingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedding backend (hash, gemini, openai)",
			Value:       "hash",
			Sources:     cli.EnvVars("KIOKU_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.IntFlag{
			Name:        "dimension",
			Usage:       "Embedding dimension. Zero uses the backend default",
			Sources:     cli.EnvVars("KIOKU_DIMENSION"),
			Destination: &cfg.dimension,
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
			Usage:       "Gemini embedding model",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Usage:       "OpenAI embedding model",
			Value:       "text-embedding-3-small",
			Sources:     cli.EnvVars("OPENAI_EMBEDDING_MODEL"),
			Destination: &cfg.openaiModel,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "OpenAI compatible API endpoint",
			Sources:     cli.EnvVars("OPENAI_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
	}
}

// storeFlags returns flags for collection storage, the repository and the
// storage policy
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "storage",
			Usage:       "Collection storage (file, gcs). Empty keeps collections in memory",
			Value:       "file",
			Sources:     cli.EnvVars("KIOKU_STORAGE"),
			Destination: &cfg.storage,
		},
		&cli.StringFlag{
			Name:        "storage-dir",
			Usage:       "Directory for file storage",
			Value:       ".kioku",
			Sources:     cli.EnvVars("KIOKU_STORAGE_DIR"),
			Destination: &cfg.storageDir,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for collections",
			Sources:     cli.EnvVars("KIOKU_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "bucket-prefix",
			Usage:       "Object key prefix in the bucket",
			Sources:     cli.EnvVars("KIOKU_BUCKET_PREFIX"),
			Destination: &cfg.bucketPrefix,
		},
		&cli.StringFlag{
			Name:        "credentials",
			Usage:       "Google Cloud credentials file",
			Sources:     cli.EnvVars("GOOGLE_APPLICATION_CREDENTIALS"),
			Destination: &cfg.credentialsFile,
		},
		&cli.StringFlag{
			Name:        "repository",
			Usage:       "Message, event and fact store (memory, sqlite, firestore). Empty disables it",
			Value:       "sqlite",
			Sources:     cli.EnvVars("KIOKU_REPOSITORY"),
			Destination: &cfg.repository,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "SQLite database file",
			Value:       ".kioku/kioku.db",
			Sources:     cli.EnvVars("KIOKU_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego storage policies. Empty uses the built-in policy",
			Sources:     cli.EnvVars("KIOKU_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.BoolFlag{
			Name:        "skip-policy",
			Usage:       "Store every message without consulting the storage policy",
			Sources:     cli.EnvVars("KIOKU_SKIP_POLICY"),
			Destination: &cfg.skipPolicy,
		},
	}
}

// allFlags returns every configuration flag
func allFlags(cfg *config) []cli.Flag {
	flags := globalFlags(cfg)
	flags = append(flags, embeddingFlags(cfg)...)
	flags = append(flags, storeFlags(cfg)...)
	return flags
}

// setupLogger installs the configured logger as default and into ctx
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, cfg.logFormat, os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// loadFile reads the YAML config file. Missing keys keep their defaults.
func (cfg *config) loadFile() (*fileConfig, error) {
	fc := &fileConfig{
		Retrieval:       model.DefaultRetrievalConfig(),
		PersistInterval: vector.DefaultPersistInterval,
		TokenBudget:     memory.DefaultTokenBudget,
		MaxChunkLen:     memory.DefaultMaxChunkLen,
	}
	fc.Collection.MaxElements = vector.DefaultMaxElements

	if cfg.configFile == "" {
		return fc, nil
	}

	raw, err := os.ReadFile(cfg.configFile)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", cfg.configFile))
	}
	if err := yaml.Unmarshal(raw, fc); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", cfg.configFile))
	}
	return fc, nil
}

func (cfg *config) clientOptions() []option.ClientOption {
	if cfg.credentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.credentialsFile)}
}

// newEmbedder creates the embedding provider for the configured backend
func (cfg *config) newEmbedder(ctx context.Context) (*embedding.Provider, error) {
	var backend adapter.Embedder
	switch cfg.embedder {
	case "hash":
		backend = adapter.NewHashEmbedder(int(cfg.dimension))
	case "gemini":
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-project is required")
		}
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
		gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
			adapter.WithEmbeddingModel(cfg.geminiModel),
			adapter.WithEmbeddingDimension(int(cfg.dimension)),
		)
		if err != nil {
			return nil, err
		}
		backend = gemini
	case "openai":
		if cfg.openaiAPIKey == "" {
			return nil, goerr.New("openai-api-key is required")
		}
		opts := []adapter.OpenAIOption{
			adapter.WithOpenAIModel(cfg.openaiModel),
			adapter.WithOpenAIDimension(int(cfg.dimension)),
		}
		if cfg.openaiBaseURL != "" {
			opts = append(opts, adapter.WithOpenAIBaseURL(cfg.openaiBaseURL))
		}
		backend = adapter.NewOpenAI(cfg.openaiAPIKey, opts...)
	default:
		return nil, goerr.Wrap(ErrUnknownEmbedder, "invalid --embedder", goerr.V("embedder", cfg.embedder))
	}

	var opts []embedding.Option
	if cfg.dimension > 0 {
		opts = append(opts, embedding.WithDimension(int(cfg.dimension)))
	}
	provider, err := embedding.New(backend, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding provider")
	}
	return provider, nil
}

// newStorage creates the collection storage. It returns nil when
// collections are kept in memory only.
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	switch cfg.storage {
	case "":
		return nil, nil
	case "file":
		storage, err := adapter.NewFileStorage(cfg.storageDir)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create file storage")
		}
		return storage, nil
	case "gcs":
		if cfg.bucket == "" {
			return nil, goerr.New("bucket is required for gcs storage")
		}
		storage, err := adapter.NewStorage(ctx, cfg.bucket, cfg.clientOptions(),
			adapter.WithStoragePrefix(cfg.bucketPrefix))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return storage, nil
	default:
		return nil, goerr.Wrap(ErrUnknownStorage, "invalid --storage", goerr.V("storage", cfg.storage))
	}
}

// newRepository creates the message, event and fact store. It returns nil
// when no repository is configured.
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	switch cfg.repository {
	case "":
		return nil, nil
	case "memory":
		return repository.NewMemory(), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.sqlitePath), 0o755); err != nil {
			return nil, goerr.Wrap(err, "failed to create database directory", goerr.V("path", cfg.sqlitePath))
		}
		repo, err := repository.NewSQLite(ctx, cfg.sqlitePath)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, nil
	case "firestore":
		if cfg.project == "" {
			return nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, goerr.New("database is required")
		}
		repo, err := repository.New(ctx, cfg.project, cfg.database, cfg.clientOptions()...)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, nil
	default:
		return nil, goerr.Wrap(ErrUnknownRepository, "invalid --repository", goerr.V("repository", cfg.repository))
	}
}

// newRegistry creates the collection registry over storage
func (cfg *config) newRegistry(storage adapter.Storage, fc *fileConfig) *vector.Registry {
	return vector.NewRegistry(storage,
		vector.WithMaxElements(fc.Collection.MaxElements),
		vector.WithRegistryDimension(int(cfg.dimension)),
		vector.WithRegistryGraphParams(fc.Collection.M, fc.Collection.EfSearch),
	)
}

// newPolicy creates the storage policy. It returns nil with --skip-policy.
func (cfg *config) newPolicy(ctx context.Context, fc *fileConfig) (*policy.Policy, error) {
	if cfg.skipPolicy {
		return nil, nil
	}
	dir := cfg.policyDir
	if dir == "" {
		dir = fc.PolicyDir
	}

	var opts []policy.Option
	if dir != "" {
		opts = append(opts, policy.WithDir(dir))
	}
	return policy.New(ctx, opts...)
}

// app bundles the memory use case with the resources it holds
type app struct {
	uc       *memory.UseCase
	registry *vector.Registry
	repo     repository.Repository
	embedder *embedding.Provider
	file     *fileConfig
}

// Close persists every collection and releases clients
func (a *app) Close(ctx context.Context) {
	if err := a.registry.Close(ctx); err != nil {
		logging.From(ctx).Error("failed to persist collections", "error", err)
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			logging.From(ctx).Warn("failed to close repository", "error", err)
		}
	}
	a.embedder.Close()
}

// newUseCase wires every component of the memory engine
func (cfg *config) newUseCase(ctx context.Context) (*app, error) {
	fc, err := cfg.loadFile()
	if err != nil {
		return nil, err
	}

	provider, err := cfg.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	storage, err := cfg.newStorage(ctx)
	if err != nil {
		provider.Close()
		return nil, err
	}

	repo, err := cfg.newRepository(ctx)
	if err != nil {
		provider.Close()
		return nil, err
	}

	p, err := cfg.newPolicy(ctx, fc)
	if err != nil {
		provider.Close()
		if repo != nil {
			_ = repo.Close()
		}
		return nil, err
	}

	registry := cfg.newRegistry(storage, fc)
	opts := []memory.Option{
		memory.WithRetrievalConfig(fc.Retrieval),
		memory.WithTokenBudget(fc.TokenBudget),
		memory.WithMaxChunkLen(fc.MaxChunkLen),
	}
	if repo != nil {
		opts = append(opts, memory.WithRepository(repo))
	}
	if p != nil {
		opts = append(opts, memory.WithPolicy(p))
	}

	return &app{
		uc:       memory.New(provider, registry, opts...),
		registry: registry,
		repo:     repo,
		embedder: provider,
		file:     fc,
	}, nil
}
