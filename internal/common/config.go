package common

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Model    ModelConfig
	Raster   RasterConfig
	Cache    CacheConfig
	Drive    DriveConfig
	Blob     BlobConfig
	Local    LocalConfig
	Tables   TablesConfig
	LogLevel slog.Level
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr       string
	GRPCAddr       string
	MaxFileSize    int64
	RequestTimeout time.Duration
	UploadWorkers  int
}

// ModelConfig holds extraction model configuration
type ModelConfig struct {
	Provider    string // "gemini" | "openai"
	GeminiModel string
	ProjectID   string
	Region      string
	OpenAIKey   string
	OpenAIURL   string
	OpenAIModel string
	Temperature float32
	Timeout     time.Duration
	RPM         int
	Parallelism int
}

// RasterConfig holds PDF rendering configuration
type RasterConfig struct {
	Pdftoppm     string
	DPI          int
	MaxDimension int
}

// CacheConfig holds the extraction cache configuration. Empty Addr disables it.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DriveConfig holds primary blob tier configuration
type DriveConfig struct {
	Enabled         bool
	RootFolderName  string
	CredentialsFile string
	UseOAuth        bool
	TokenFile       string
}

// BlobConfig holds the optional secondary blob tier configuration
type BlobConfig struct {
	Kind        string // "", "gcs" or "s3"
	GCSBucket   string
	S3Bucket    string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
}

// LocalConfig holds tertiary blob tier configuration
type LocalConfig struct {
	BasePath string
}

// TablesConfig holds table store configuration
type TablesConfig struct {
	Backend         string // "sheets" | "xlsx" | "sqlite" | "postgres"
	CredentialsFile string
	SpreadsheetID   string
	XLSXPath        string
	SQLitePath      string
	DatabaseURL     string
}

// LoadConfig loads configuration from environment variables, reading a .env file first if present.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("config.dotenv.load_failed", "error", err)
	}
	return &Config{
		Server: ServerConfig{
			HTTPAddr:       getEnv("HTTP_ADDR", ":8000"),
			GRPCAddr:       getEnv("GRPC_ADDR", ":9090"),
			MaxFileSize:    getEnvAsInt64("MAX_FILE_SIZE", 10<<20),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 5*time.Minute),
			UploadWorkers:  getEnvAsInt("UPLOAD_WORKERS", 2),
		},
		Model: ModelConfig{
			Provider:    strings.ToLower(getEnv("MODEL_PROVIDER", "gemini")),
			GeminiModel: getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
			ProjectID:   getEnv("GCP_PROJECT_ID", ""),
			Region:      getEnv("GCP_REGION", "us-central1"),
			OpenAIKey:   getEnv("OPENAI_API_KEY", ""),
			OpenAIURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			OpenAIModel: getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Temperature: getEnvAsFloat32("MODEL_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("MODEL_TIMEOUT", 90*time.Second),
			RPM:         getEnvAsInt("MODEL_RPM", 0),
			Parallelism: getEnvAsInt("EXTRACT_PARALLELISM", 1),
		},
		Raster: RasterConfig{
			Pdftoppm:     getEnv("PDFTOPPM_BIN", "pdftoppm"),
			DPI:          getEnvAsInt("RASTER_DPI", 200),
			MaxDimension: getEnvAsInt("RASTER_MAX_DIMENSION", 3072),
		},
		Cache: CacheConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("CACHE_TTL", 24*time.Hour),
		},
		Drive: DriveConfig{
			Enabled:         getEnvAsBool("GOOGLE_DRIVE_ENABLED", false),
			RootFolderName:  getEnv("GOOGLE_DRIVE_ROOT_FOLDER_NAME", "NFEs"),
			CredentialsFile: getEnv("GOOGLE_DRIVE_CREDENTIALS_FILE", "credentials.json"),
			UseOAuth:        getEnvAsBool("GOOGLE_DRIVE_USE_OAUTH", false),
			TokenFile:       getEnv("GOOGLE_DRIVE_TOKEN_FILE", "token.json"),
		},
		Blob: BlobConfig{
			Kind:        strings.ToLower(getEnv("SECONDARY_BLOB", "")),
			GCSBucket:   getEnv("GCS_BUCKET", ""),
			S3Bucket:    getEnv("S3_BUCKET", ""),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3Region:    getEnv("S3_REGION", "auto"),
			S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		},
		Local: LocalConfig{
			BasePath: getEnv("LOCAL_STORAGE_PATH", "nfes_storage"),
		},
		Tables: TablesConfig{
			Backend:         strings.ToLower(getEnv("TABLE_BACKEND", "xlsx")),
			CredentialsFile: getEnv("GOOGLE_SHEETS_CREDENTIALS_FILE", "credentials.json"),
			SpreadsheetID:   getEnv("GOOGLE_SHEETS_SPREADSHEET_ID", ""),
			XLSXPath:        getEnv("XLSX_PATH", "nfes_storage/notas.xlsx"),
			SQLitePath:      getEnv("SQLITE_PATH", "nfes_storage/notas.db"),
			DatabaseURL:     getEnv("DB_URL", ""),
		},
		LogLevel: getEnvAsLevel("LOG_LEVEL", slog.LevelInfo),
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsLevel(key string, defaultValue slog.Level) slog.Level {
	if value := os.Getenv(key); value != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(value)); err == nil {
			return lvl
		}
	}
	return defaultValue
}

// Validate checks the loaded configuration. Failures are fatal at startup.
func (c *Config) Validate() error {
	switch c.Model.Provider {
	case "gemini":
		if c.Model.ProjectID == "" {
			return NewAppError(CodeConfig, "GCP_PROJECT_ID is required for the gemini provider", ErrInvalidInput)
		}
	case "openai":
		if c.Model.OpenAIKey == "" {
			return NewAppError(CodeConfig, "OPENAI_API_KEY is required for the openai provider", ErrInvalidInput)
		}
	default:
		return NewAppError(CodeConfig, fmt.Sprintf("unknown MODEL_PROVIDER %q", c.Model.Provider), ErrInvalidInput)
	}
	if c.Raster.DPI <= 0 || c.Raster.MaxDimension <= 0 {
		return NewAppError(CodeConfig, "RASTER_DPI and RASTER_MAX_DIMENSION must be positive", ErrInvalidInput)
	}
	switch c.Tables.Backend {
	case "sheets":
		if c.Tables.SpreadsheetID == "" {
			return NewAppError(CodeConfig, "GOOGLE_SHEETS_SPREADSHEET_ID is required for the sheets backend", ErrInvalidInput)
		}
	case "postgres":
		if c.Tables.DatabaseURL == "" {
			return NewAppError(CodeConfig, "DB_URL is required for the postgres backend", ErrInvalidInput)
		}
	case "xlsx", "sqlite":
	default:
		return NewAppError(CodeConfig, fmt.Sprintf("unknown TABLE_BACKEND %q", c.Tables.Backend), ErrInvalidInput)
	}
	switch c.Blob.Kind {
	case "":
	case "gcs":
		if c.Blob.GCSBucket == "" {
			return NewAppError(CodeConfig, "GCS_BUCKET is required when SECONDARY_BLOB=gcs", ErrInvalidInput)
		}
	case "s3":
		if c.Blob.S3Bucket == "" {
			return NewAppError(CodeConfig, "S3_BUCKET is required when SECONDARY_BLOB=s3", ErrInvalidInput)
		}
	default:
		return NewAppError(CodeConfig, fmt.Sprintf("unknown SECONDARY_BLOB %q", c.Blob.Kind), ErrInvalidInput)
	}
	if c.Local.BasePath == "" {
		return NewAppError(CodeConfig, "LOCAL_STORAGE_PATH is required", ErrInvalidInput)
	}
	return nil
}
