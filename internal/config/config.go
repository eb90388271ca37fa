package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration loaded from the environment
type Config struct {
	Port       string
	BaseURL    string
	DevMode    bool
	PathPrefix string

	FreePhotoLimit    int
	MaxUploadMB       int
	AllowedMimePrefix []string

	PublicDir  string
	UploadsDir string
	DataDir    string

	LaborIndexFile string
	TradesFile     string

	StorageType          string
	DynamoDBJobsTable    string
	DynamoDBDevicesTable string
	AWSRegion            string
	PostgresDSN          string
	KinesisStream        string

	PayPalClientID     string
	PayPalClientSecret string
	PayPalPlanID       string
	PayPalEnv          string
	PaywallPrice       float64

	VapidPublicKey   string
	LegalCompanyName string

	ChromeBin           string
	ExportRetention     time.Duration
	ExportSweepInterval time.Duration
}

// Load reads an optional .env file and returns the populated configuration
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using process environment")
	}

	port := getEnv("PORT", "10000")

	return &Config{
		Port:       port,
		BaseURL:    getEnv("BASE_URL", "http://localhost:"+port),
		DevMode:    getEnvBool("DEV_MODE", false),
		PathPrefix: getEnv("PATH_PREFIX", ""),

		FreePhotoLimit:    getEnvInt("FREE_PHOTO_LIMIT", 2),
		MaxUploadMB:       getEnvInt("MAX_UPLOAD_MB", 25),
		AllowedMimePrefix: getEnvList("ALLOWED_MIME_PREFIX", "image/,video/"),

		PublicDir:  getEnv("PUBLIC_DIR", "./public"),
		UploadsDir: getEnv("UPLOADS_DIR", "./uploads"),
		DataDir:    getEnv("DATA_DIR", "./data"),

		LaborIndexFile: getEnv("LABOR_INDEX_FILE", "./config/labor_index.json"),
		TradesFile:     getEnv("TRADES_FILE", "./config/trades.json"),

		StorageType:          getEnv("STORAGE_TYPE", "file"),
		DynamoDBJobsTable:    getEnv("DYNAMODB_JOBS_TABLE", "estimate-jobs"),
		DynamoDBDevicesTable: getEnv("DYNAMODB_DEVICES_TABLE", "estimate-devices"),
		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		PostgresDSN:          getEnv("POSTGRES_DSN", "host=localhost port=5432 user=estimate password=estimate dbname=estimate sslmode=disable"),
		KinesisStream:        getEnv("KINESIS_ESTIMATE_EVENTS_STREAM", ""),

		PayPalClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
		PayPalPlanID:       getEnv("PAYPAL_PLAN_ID", ""),
		PayPalEnv:          getEnv("PAYPAL_ENV", "sandbox"),
		PaywallPrice:       getEnvFloat("PAYWALL_PRICE", 13),

		VapidPublicKey:   getEnv("VAPID_PUBLIC_KEY", ""),
		LegalCompanyName: getEnv("LEGAL_COMPANY_NAME", ""),

		ChromeBin:           getEnv("CHROME_BIN", ""),
		ExportRetention:     getEnvDuration("EXPORT_RETENTION", "720h"),
		ExportSweepInterval: getEnvDuration("EXPORT_SWEEP_INTERVAL", "1h"),
	}
}

// MaxUploadBytes returns the upload size limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err == nil {
			return n
		}
		slog.Warn("Invalid integer, using default", "key", key, "provided", value, "default", defaultValue)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return n
		}
		slog.Warn("Invalid number, using default", "key", key, "provided", value, "default", defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(value, "true")
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration gets a positive duration from environment variable
func getEnvDuration(key, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err == nil && duration <= 0 {
		slog.Warn("Non-positive duration, using default", "key", key, "provided", value, "default", defaultValue)
		duration, _ = time.ParseDuration(defaultValue)
		return duration
	}
	if err != nil {
		slog.Warn("Invalid duration, using default", "key", key, "provided", value, "default", defaultValue, "error", err)
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}
