// Package config loads service configuration from the environment and an
// optional .env file.
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
)

// Vector store backends.
const (
	BackendMilvus = "milvus"
	BackendQdrant = "qdrant"
)

// Config holds all environment-based configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string

	Port          int
	PortAttempts  int
	CORSOrigin    string
	MaxConcurrent int
	RateLimitRPS  float64
	LogLevel      slog.Level

	AWSRegion  string
	BucketName string

	VectorBackend     string
	MilvusHost        string
	MilvusPort        int
	MilvusUser        string
	MilvusPassword    string
	QdrantURL         string
	Collection        string
	VectorDim         int
	BootstrapAttempts int
	BootstrapDelay    time.Duration

	OpenAISecretARN       string
	GoogleSecretARN       string
	OpenAIAPIKey          string
	GoogleAPIKey          string
	GoogleCredentialsPath string
	AudioScratchDir       string

	ChatModel  string
	MaxTokens  int
	EmbedModel string

	BGEOnnxPath      string
	BGETokenizerPath string
	BGERuntimePath   string
	BGEMemoryPath    string
	OllamaURL        string
	OllamaEmbedModel string

	STTLanguage string
	TTSLanguage string
	TTSVoice    string

	ChunkSize    int
	ChunkOverlap int
	TopK         int

	NATSURL       string
	IngestSubject string

	problems []error
}

// Load reads the .env file named by ENV_FILE (default ".env") when present,
// then builds a Config from the environment. Existing environment
// variables win over the file.
func Load() Config {
	_ = godotenv.Load(envOr("ENV_FILE", ".env"))
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() Config {
	var c Config
	c.ServiceName = envOr("SERVICE_NAME", "largo-chat-lambda")
	c.ServiceVersion = envOr("SERVICE_VERSION", "1.0.0")

	c.Port = c.envInt("PORT", 8000)
	c.PortAttempts = c.envInt("PORT_ATTEMPTS", 10)
	c.CORSOrigin = envOr("CORS_ORIGIN", "*")
	c.MaxConcurrent = c.envInt("MAX_CONCURRENT", 8)
	c.RateLimitRPS = c.envFloat("RATE_LIMIT_RPS", 0)
	c.LogLevel = c.envLevel("LOG_LEVEL", slog.LevelInfo)

	c.AWSRegion = os.Getenv("AWS_REGION")
	c.BucketName = os.Getenv("BUCKET_NAME")

	c.VectorBackend = strings.ToLower(envOr("VECTOR_BACKEND", BackendMilvus))
	c.MilvusHost = envOr("MILVUS_HOST", "localhost")
	c.MilvusPort = c.envInt("MILVUS_PORT", 19530)
	c.MilvusUser = os.Getenv("MILVUS_USER")
	c.MilvusPassword = os.Getenv("MILVUS_PASSWORD")
	c.QdrantURL = envOr("QDRANT_URL", "localhost:6334")
	c.Collection = envOr("COLLECTION_NAME", "docs")
	c.VectorDim = c.envInt("VECTOR_DIM", 1024)
	c.BootstrapAttempts = c.envInt("BOOTSTRAP_ATTEMPTS", 5)
	c.BootstrapDelay = c.envDuration("BOOTSTRAP_DELAY", 3*time.Second)

	c.OpenAISecretARN = os.Getenv("OPENAI_SECRET_ARN")
	c.GoogleSecretARN = os.Getenv("GOOGLE_SECRET_ARN")
	c.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	c.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	c.GoogleCredentialsPath = envOr("GOOGLE_CREDENTIALS_PATH", "/tmp/google_credentials.json")
	c.AudioScratchDir = envOr("AUDIO_SCRATCH_DIR", os.TempDir())

	c.ChatModel = envOr("CHAT_MODEL", "gpt-4o")
	c.MaxTokens = c.envInt("MAX_TOKENS", 100)
	c.EmbedModel = envOr("EMBED_MODEL", "text-embedding-3-small")

	c.BGEOnnxPath = os.Getenv("BGE_ONNX_PATH")
	c.BGETokenizerPath = os.Getenv("BGE_TOKENIZER_PATH")
	c.BGERuntimePath = os.Getenv("BGE_RUNTIME_PATH")
	c.BGEMemoryPath = os.Getenv("BGE_MEMORY_PATH")
	c.OllamaURL = os.Getenv("OLLAMA_URL")
	c.OllamaEmbedModel = envOr("OLLAMA_EMBED_MODEL", "bge-m3")

	c.STTLanguage = envOr("STT_LANGUAGE", "et")
	c.TTSLanguage = envOr("TTS_LANGUAGE", "et-EE")
	c.TTSVoice = envOr("TTS_VOICE", "et-EE-Wavenet-A")

	c.ChunkSize = c.envInt("CHUNK_SIZE", 1000)
	c.ChunkOverlap = c.envInt("CHUNK_OVERLAP", 200)
	c.TopK = c.envInt("TOP_K", 5)

	c.NATSURL = os.Getenv("NATS_URL")
	c.IngestSubject = envOr("INGEST_SUBJECT", "largo.ingest")
	return c
}

// MilvusAddr is host:port of the Milvus server.
func (c Config) MilvusAddr() string {
	return fmt.Sprintf("%s:%d", c.MilvusHost, c.MilvusPort)
}

// Hosted reports whether credentials come from Secrets Manager.
func (c Config) Hosted() bool {
	return c.OpenAISecretARN != "" || c.GoogleSecretARN != ""
}

// Validate reports malformed values and inconsistent settings. Malformed
// values have already been replaced by their defaults.
func (c Config) Validate() error {
	errs := append([]error(nil), c.problems...)
	if c.VectorBackend != BackendMilvus && c.VectorBackend != BackendQdrant {
		errs = append(errs, fmt.Errorf("config: VECTOR_BACKEND %q: want %s or %s", c.VectorBackend, BackendMilvus, BackendQdrant))
	}
	if c.VectorDim <= 0 {
		errs = append(errs, fmt.Errorf("config: VECTOR_DIM must be positive, got %d", c.VectorDim))
	}
	if c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("config: CHUNK_OVERLAP %d must be smaller than CHUNK_SIZE %d", c.ChunkOverlap, c.ChunkSize))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("config: TOP_K must be positive, got %d", c.TopK))
	}
	if c.BootstrapAttempts <= 0 {
		errs = append(errs, fmt.Errorf("config: BOOTSTRAP_ATTEMPTS must be positive, got %d", c.BootstrapAttempts))
	}
	return errors.Join(errs...)
}

// NewLogger builds the root logger at the configured level. json selects the
// JSON handler used by servers; the text handler suits CLIs.
func (c Config) NewLogger(json bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.problems = append(c.problems, fmt.Errorf("config: %s=%q is not an integer, using %d", key, v, fallback))
		return fallback
	}
	return n
}

func (c *Config) envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		c.problems = append(c.problems, fmt.Errorf("config: %s=%q is not a number, using %g", key, v, fallback))
		return fallback
	}
	return f
}

// envDuration accepts Go durations ("3s") or bare seconds ("3").
func (c *Config) envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	c.problems = append(c.problems, fmt.Errorf("config: %s=%q is not a duration, using %s", key, v, fallback))
	return fallback
}

func (c *Config) envLevel(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		c.problems = append(c.problems, fmt.Errorf("config: %s=%q is not a log level, using %s", key, v, fallback))
		return fallback
	}
	return l
}
