// Package config loads process configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every environment-variable-driven setting this process
// reads at startup.
type Config struct {
	AppName string
	AppEnv  string
	Debug   bool

	// Inference Engine
	InferenceServiceURL string
	InferenceClientID   string
	InferenceAPIKey     string
	SSLVerify           bool

	// Conversation Store
	JotaDBURL    string
	JotaDBAPIKey string
	DatabaseURL  string

	// Ingress / ops
	IngressAddr string
	MetricsAddr string

	ServerShutdownTimeoutSeconds int
}

// AppConfig is assigned once at startup by Load and read thereafter.
var AppConfig *Config

// Load reads .env (if present) and the environment into AppConfig.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		AppName: getEnvOrDefault("APP_NAME", "jota-orchestrator"),
		AppEnv:  getEnvOrDefault("APP_ENV", "development"),
		Debug:   getEnvOrDefault("DEBUG", "false") == "true",

		InferenceServiceURL: getEnvOrDefault("INFERENCE_SERVICE_URL", "wss://localhost:8765"),
		InferenceClientID:   getEnvOrDefault("INFERENCE_CLIENT_ID", ""),
		InferenceAPIKey:     getEnvOrDefault("INFERENCE_API_KEY", ""),
		SSLVerify:           getEnvOrDefault("SSL_VERIFY", "true") == "true",

		JotaDBURL:    getEnvOrDefault("JOTA_DB_URL", ""),
		JotaDBAPIKey: getEnvOrDefault("JOTA_DB_API_KEY", ""),
		DatabaseURL:  getEnvOrDefault("DATABASE_URL", ""),

		IngressAddr: getEnvOrDefault("INGRESS_ADDR", ":8080"),
		MetricsAddr: getEnvOrDefault("METRICS_ADDR", ""),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),
	}

	if AppConfig.InferenceClientID == "" || AppConfig.InferenceAPIKey == "" {
		log.Println("Warning: INFERENCE_CLIENT_ID or INFERENCE_API_KEY is missing. The transport will fail auth.")
	}

	if AppConfig.DatabaseURL == "" {
		log.Println("No DATABASE_URL set, using the in-memory conversation store.")
	}

	return AppConfig
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
