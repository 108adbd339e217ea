package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Vector provider selection. "mongo" keeps everything in the metadata store
// (dense only via the Atlas vector index); "atlas-hybrid" additionally uses the
// Atlas Search lexical index for hybrid retrieval.
const (
	VectorProviderMongo       = "mongo"
	VectorProviderAtlasHybrid = "atlas-hybrid"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string
	APIKey      string

	// Redis (asynq backing store + reserve locks)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Upload handling
	UploadDir     string
	MaxFileSizeMB int

	// Queue policies
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	RetryMaxAttempts  int
	RetryBaseDelay    time.Duration

	// Quality gate defaults
	QualityMinChars    int
	QualityNoiseWarn   float64
	QualityNoiseReject float64

	// Search
	RRFK            int
	VectorProvider  string
	SearchIndexName string
	VectorIndexName string

	// Embeddings
	GeminiAPIKey   string
	EmbeddingModel string
	EmbeddingDim   int
	EmbedTimeout   time.Duration
	EmbedRPM       int

	// External converter worker
	ConverterURL     string
	CallbackBaseURL  string
	ConverterTimeout time.Duration

	// Remote folder sync
	DriveCredentialsFile string
	SyncPageSize         int
	SyncListTimeout      time.Duration
	DownloadTimeout      time.Duration

	// HTTP rate limiting
	RateLimitReqs   int
	RateLimitWindow int

	// Telemetry
	OTLPEndpoint   string
	TracingEnabled bool
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/doc_ingest"),
		DBName:      getEnv("DB_NAME", "doc_ingest"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		APIKey:      getEnv("API_KEY", ""),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		UploadDir:     getEnv("UPLOAD_DIR", "./storage"),
		MaxFileSizeMB: getEnvInt("MAX_FILE_SIZE_MB", 50),

		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 5),
		JobTimeout:        time.Duration(getEnvInt("JOB_TIMEOUT_MS", 300000)) * time.Millisecond,
		RetryMaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:    time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 5000)) * time.Millisecond,

		QualityMinChars:    getEnvInt("QUALITY_MIN_CHARS", 50),
		QualityNoiseWarn:   getEnvFloat64("QUALITY_NOISE_WARN", 0.5),
		QualityNoiseReject: getEnvFloat64("QUALITY_NOISE_REJECT", 0.8),

		RRFK:            getEnvInt("RRF_K", 60),
		VectorProvider:  getEnv("VECTOR_PROVIDER", VectorProviderMongo),
		SearchIndexName: getEnv("SEARCH_INDEX_NAME", "chunks_text"),
		VectorIndexName: getEnv("VECTOR_INDEX_NAME", "chunks_vector"),

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDim:   getEnvInt("EMBEDDING_DIMENSION", 768),
		EmbedTimeout:   time.Duration(getEnvInt("EMBED_TIMEOUT_MS", 30000)) * time.Millisecond,
		EmbedRPM:       getEnvInt("EMBED_RPM", 60),

		ConverterURL:     getEnv("CONVERTER_URL", "http://localhost:8001"),
		CallbackBaseURL:  getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),
		ConverterTimeout: time.Duration(getEnvInt("CONVERTER_TIMEOUT_MS", 300000)) * time.Millisecond,

		DriveCredentialsFile: getEnv("DRIVE_CREDENTIALS_FILE", ""),
		SyncPageSize:         getEnvInt("SYNC_PAGE_SIZE", 100),
		SyncListTimeout:      time.Duration(getEnvInt("SYNC_LIST_TIMEOUT_MS", 30000)) * time.Millisecond,
		DownloadTimeout:      time.Duration(getEnvInt("DOWNLOAD_TIMEOUT_MS", 300000)) * time.Millisecond,

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getEnv("TRACING_ENABLED", "false") == "true",
	}

	// Validate required fields
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API_KEY is required - set it in .env file")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if cfg.VectorProvider != VectorProviderMongo && cfg.VectorProvider != VectorProviderAtlasHybrid {
		return nil, fmt.Errorf("unknown VECTOR_PROVIDER: %s", cfg.VectorProvider)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
