package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Auth
	DocauditAPIKey string

	// Model endpoints
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	AnalysisModel  string
	EmbeddingModel string

	// Document-mutation side-car
	SidecarURL string

	// Worker pool
	WorkerCount           int
	MaxQueueSize          int
	MaxConcurrentAnalysis int
	MaxAttempts           int

	// Upload limits
	MaxUploadBytes int64

	// Segmentation defaults
	TokenBudget      int
	TokenHardCeiling int
	TokenOverlap     int

	// Run defaults
	PoolingStrategy string
	CostBudgetUSD   float64

	// Job state
	JobTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool
}

// Load reads configuration from the environment. A .env file in the working
// directory, or the file named by DOCAUDIT_ENV_FILE, is loaded first without
// overriding variables that are already set.
func Load() Config {
	loadDotenv()

	cfg := Config{
		Port: envOr("PORT", "8090"),

		DocauditAPIKey: os.Getenv("DOCAUDIT_API_KEY"),

		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:  envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnalysisModel:  envOr("ANALYSIS_MODEL", "gpt-5"),
		EmbeddingModel: envOr("EMBEDDING_MODEL", "text-embedding-3-small"),

		SidecarURL: envOr("SIDECAR_URL", "http://localhost:5001"),

		WorkerCount:           envInt("WORKER_COUNT", 2),
		MaxQueueSize:          envInt("MAX_QUEUE_SIZE", 100),
		MaxConcurrentAnalysis: envInt("MAX_CONCURRENT_ANALYSIS", 5),
		MaxAttempts:           envInt("MAX_ATTEMPTS", 3),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		TokenBudget:      envInt("TOKEN_BUDGET", 8000),
		TokenHardCeiling: envInt("TOKEN_HARD_CEILING", 12000),
		TokenOverlap:     envInt("TOKEN_OVERLAP", 200),

		PoolingStrategy: envOr("POOLING_STRATEGY", "attention"),
		CostBudgetUSD:   envFloat("COST_BUDGET_USD", 0),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentAnalysis <= 0 {
		cfg.MaxConcurrentAnalysis = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 8000
	}
	if cfg.TokenHardCeiling < cfg.TokenBudget {
		cfg.TokenHardCeiling = cfg.TokenBudget
	}
	if cfg.TokenOverlap < 0 {
		cfg.TokenOverlap = 0
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.DocauditAPIKey == "" {
		return &ConfigurationError{Field: "DOCAUDIT_API_KEY", Reason: "is required"}
	}
	if c.OpenAIAPIKey == "" {
		return &ConfigurationError{Field: "OPENAI_API_KEY", Reason: "is required"}
	}
	return nil
}

// Analysis builds the default run configuration from service settings.
func (c Config) Analysis() Analysis {
	a := DefaultAnalysis()
	a.TokenBudget = c.TokenBudget
	a.HardCeiling = c.TokenHardCeiling
	a.Overlap = c.TokenOverlap
	a.Concurrency = c.MaxConcurrentAnalysis
	a.MaxAttempts = c.MaxAttempts
	a.Model = c.AnalysisModel
	a.PoolingStrategy = c.PoolingStrategy
	a.CostBudgetUSD = c.CostBudgetUSD
	return a
}

func loadDotenv() {
	if path := os.Getenv("DOCAUDIT_ENV_FILE"); path != "" {
		_ = godotenv.Load(path)
		return
	}
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// ConfigurationError reports an invalid setting. It is fatal before any work starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}
