package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nikhilbhutani/courseassist/pkg/chunker"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Storage     StorageConfig
	Embedding   EmbeddingConfig
	VectorStore VectorStoreConfig
	Ingestion   IngestionConfig `yaml:"ingestion"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
	Generation  GenerationConfig
	Webhook     WebhookConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	RateLimit   float64 // requests per second per client
	RateBurst   int
	MaxUploadMB int64
}

type LogConfig struct {
	Level slog.Level
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// LockTTL bounds how long a crashed ingester can hold a document lock.
	LockTTL time.Duration
}

type StorageConfig struct {
	Backend     string // "local" or "supabase"
	UploadDir   string
	SupabaseURL string
	SupabaseKey string
	Bucket      string
}

type EmbeddingConfig struct {
	Provider   string // "ollama", "openai" or "gemini"
	Model      string
	Dimensions int // 0 means learn from the first response
	Timeout    time.Duration
	OpenAIKey  string
	GeminiKey  string
	OllamaURL  string
}

type VectorStoreConfig struct {
	Backend    string // "memory", "sqlite" or "pgvector"
	SQLitePath string
}

type IngestionConfig struct {
	Chunking          chunker.ChunkOptions `yaml:"chunking"`
	AllowedExtensions []string             `yaml:"allowed_extensions"`
	MaxAttempts       int                  `yaml:"max_attempts"`
	BackoffBase       time.Duration        `yaml:"backoff_base"`
	Concurrency       int                  `yaml:"concurrency"`
	BatchSize         int                  `yaml:"batch_size"`
	Async             bool                 `yaml:"async"`
}

type RetrievalConfig struct {
	TopK           int `yaml:"top_k"`
	MaxContextSize int `yaml:"max_context_size"`
}

// WebhookConfig points at the web layer's callback for finished background
// ingestions. An empty URL disables it.
type WebhookConfig struct {
	URL    string
	Secret string
}

type GenerationConfig struct {
	AnthropicKey string
	Model        string
	MaxTokens    int
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	rateBurst, err := getEnvInt("RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	rateLimit, err := getEnvFloat("RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	maxUpload, err := getEnvInt("MAX_UPLOAD_MB", 32)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_MB: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	lockTTL, err := getEnvDuration("INGEST_LOCK_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid INGEST_LOCK_TTL: %w", err)
	}

	dims, err := getEnvInt("EMBEDDING_DIMENSIONS", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBEDDING_DIMENSIONS: %w", err)
	}

	embedTimeout, err := getEnvDuration("EMBEDDING_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid EMBEDDING_TIMEOUT: %w", err)
	}

	maxTokens, err := getEnvInt("GENERATION_MAX_TOKENS", 1024)
	if err != nil {
		return nil, fmt.Errorf("invalid GENERATION_MAX_TOKENS: %w", err)
	}

	ingestion, err := loadIngestion()
	if err != nil {
		return nil, err
	}

	topK, err := getEnvInt("RETRIEVAL_TOP_K", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid RETRIEVAL_TOP_K: %w", err)
	}

	maxContext, err := getEnvInt("RETRIEVAL_MAX_CONTEXT", 4000)
	if err != nil {
		return nil, fmt.Errorf("invalid RETRIEVAL_MAX_CONTEXT: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        port,
			RateLimit:   rateLimit,
			RateBurst:   rateBurst,
			MaxUploadMB: int64(maxUpload),
		},
		Log: LogConfig{Level: level},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: maxConns,
			MinConns: minConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			LockTTL:  lockTTL,
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "local"),
			UploadDir:   getEnv("UPLOAD_DIR", "uploads"),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "documents"),
		},
		Embedding: EmbeddingConfig{
			Provider:   getEnv("EMBEDDING_PROVIDER", "ollama"),
			Model:      getEnv("EMBEDDING_MODEL", ""),
			Dimensions: dims,
			Timeout:    embedTimeout,
			OpenAIKey:  getEnv("OPENAI_API_KEY", ""),
			GeminiKey:  getEnv("GEMINI_API_KEY", ""),
			OllamaURL:  getEnv("OLLAMA_URL", "http://localhost:11434"),
		},
		VectorStore: VectorStoreConfig{
			Backend:    getEnv("VECTOR_STORE", "memory"),
			SQLitePath: getEnv("SQLITE_PATH", "index.db"),
		},
		Ingestion: ingestion,
		Retrieval: RetrievalConfig{
			TopK:           topK,
			MaxContextSize: maxContext,
		},
		Generation: GenerationConfig{
			AnthropicKey: getEnv("ANTHROPIC_API_KEY", ""),
			Model:        getEnv("GENERATION_MODEL", "claude-sonnet-4-20250514"),
			MaxTokens:    maxTokens,
		},
		Webhook: WebhookConfig{
			URL:    getEnv("WEBHOOK_URL", ""),
			Secret: getEnv("WEBHOOK_SECRET", ""),
		},
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func loadIngestion() (IngestionConfig, error) {
	opts := chunker.DefaultOptions()
	var err error

	if opts.ChunkSize, err = getEnvInt("CHUNK_SIZE", opts.ChunkSize); err != nil {
		return IngestionConfig{}, fmt.Errorf("invalid CHUNK_SIZE: %w", err)
	}
	if opts.ChunkOverlap, err = getEnvInt("CHUNK_OVERLAP", opts.ChunkOverlap); err != nil {
		return IngestionConfig{}, fmt.Errorf("invalid CHUNK_OVERLAP: %w", err)
	}
	opts.Strategy = chunker.Strategy(getEnv("CHUNK_STRATEGY", string(opts.Strategy)))

	attempts, err := getEnvInt("INGEST_MAX_ATTEMPTS", 3)
	if err != nil {
		return IngestionConfig{}, fmt.Errorf("invalid INGEST_MAX_ATTEMPTS: %w", err)
	}
	backoff, err := getEnvDuration("INGEST_BACKOFF_BASE", 500*time.Millisecond)
	if err != nil {
		return IngestionConfig{}, fmt.Errorf("invalid INGEST_BACKOFF_BASE: %w", err)
	}
	concurrency, err := getEnvInt("INGEST_CONCURRENCY", 4)
	if err != nil {
		return IngestionConfig{}, fmt.Errorf("invalid INGEST_CONCURRENCY: %w", err)
	}
	batchSize, err := getEnvInt("INGEST_BATCH_SIZE", 1)
	if err != nil {
		return IngestionConfig{}, fmt.Errorf("invalid INGEST_BATCH_SIZE: %w", err)
	}

	return IngestionConfig{
		Chunking:          opts,
		AllowedExtensions: getEnvList("ALLOWED_EXTENSIONS", []string{".txt", ".pdf"}),
		MaxAttempts:       attempts,
		BackoffBase:       backoff,
		Concurrency:       concurrency,
		BatchSize:         batchSize,
		Async:             getEnv("INGEST_ASYNC", "false") == "true",
	}, nil
}

// fileOverlay is the subset of settings a YAML file may override.
type fileOverlay struct {
	Ingestion *IngestionConfig `yaml:"ingestion"`
	Retrieval *RetrievalConfig `yaml:"retrieval"`
}

// applyFile overlays ingestion and retrieval tunables from a YAML file.
// Keys absent from the file keep their current values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	overlay := fileOverlay{Ingestion: &c.Ingestion, Retrieval: &c.Retrieval}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var problems []string

	if err := c.Ingestion.Chunking.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Ingestion.MaxAttempts <= 0 {
		problems = append(problems, "INGEST_MAX_ATTEMPTS must be positive")
	}
	if c.Ingestion.Concurrency <= 0 {
		problems = append(problems, "INGEST_CONCURRENCY must be positive")
	}
	if c.Ingestion.BatchSize <= 0 {
		problems = append(problems, "INGEST_BATCH_SIZE must be positive")
	}
	if len(c.Ingestion.AllowedExtensions) == 0 {
		problems = append(problems, "ALLOWED_EXTENSIONS must not be empty")
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.MaxContextSize <= 0 {
		problems = append(problems, "RETRIEVAL_TOP_K and RETRIEVAL_MAX_CONTEXT must be positive")
	}

	switch c.VectorStore.Backend {
	case "memory":
		if c.Ingestion.Async {
			problems = append(problems, "INGEST_ASYNC needs a vector store shared with the worker (sqlite or pgvector)")
		}
	case "sqlite":
	case "pgvector":
		if c.Database.URL == "" {
			problems = append(problems, "DATABASE_URL is required for the pgvector store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown VECTOR_STORE %q", c.VectorStore.Backend))
	}

	switch c.Embedding.Provider {
	case "ollama":
	case "openai":
		if c.Embedding.OpenAIKey == "" {
			problems = append(problems, "OPENAI_API_KEY is required for the openai provider")
		}
	case "gemini":
		if c.Embedding.GeminiKey == "" {
			problems = append(problems, "GEMINI_API_KEY is required for the gemini provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider))
	}

	switch c.Storage.Backend {
	case "local":
	case "supabase":
		if c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "" {
			problems = append(problems, "SUPABASE_URL and SUPABASE_SERVICE_KEY are required for supabase storage")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, item)
		}
	}
	return out
}
