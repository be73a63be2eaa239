package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"mcp-chat/internal/logger"

	"github.com/sirupsen/logrus"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	LLM       LLMConfig
	Power     PowerConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Models    *ModelsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port string
}

// StoreConfig selects the document store and the application namespace
type StoreConfig struct {
	Backend string
	AppID   string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// LLMConfig holds model backend configuration
type LLMConfig struct {
	// DefaultAPIKey is the host key for the default model family
	DefaultAPIKey  string
	DefaultBaseURL string
	RequestTimeout time.Duration
}

// PowerConfig holds power command configuration
type PowerConfig struct {
	Delay time.Duration
}

// RateLimitConfig limits chat sends per user
type RateLimitConfig struct {
	PerSecond float64
	Burst     int
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret       []byte
	TokenExpiration time.Duration
	// CredentialsKey seals stored backend API keys when set
	CredentialsKey string
}

// LoadConfig loads and validates application configuration from environment
func LoadConfig() (*AppConfig, error) {
	config := &AppConfig{}

	// Load Server config
	config.Server = ServerConfig{
		Port: getEnvOrDefault("SERVER_PORT", "8080"),
	}

	config.Store = StoreConfig{
		Backend: getEnvOrDefault("STORE_BACKEND", StoreMemory),
		AppID:   getEnvOrDefault("APP_ID", "mcp-chat"),
	}
	if config.Store.Backend != StoreMemory && config.Store.Backend != StorePostgres {
		return nil, fmt.Errorf("STORE_BACKEND must be %q or %q (got %q)", StoreMemory, StorePostgres, config.Store.Backend)
	}

	// Load Database config
	config.Database = DatabaseConfig{
		Host:     getEnvOrDefault("DB_HOST", "postgres"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		Name:     getEnvOrDefault("DB_NAME", "mcpchat"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}

	// Load LLM config
	apiKey := os.Getenv("DEFAULT_MODEL_API_KEY")
	if apiKey == "" {
		logger.Log.Warn("DEFAULT_MODEL_API_KEY environment variable not set")
	}

	config.LLM = LLMConfig{
		DefaultAPIKey:  apiKey,
		DefaultBaseURL: os.Getenv("DEFAULT_MODEL_BASE_URL"),
		RequestTimeout: getEnvAsDuration("LLM_REQUEST_TIMEOUT", 60*time.Second),
	}

	config.Power = PowerConfig{
		Delay: getEnvAsDuration("POWER_DELAY", 1500*time.Millisecond),
	}

	config.RateLimit = RateLimitConfig{
		PerSecond: getEnvAsFloat("CHAT_RATE_LIMIT", 1),
		Burst:     getEnvAsInt("CHAT_RATE_BURST", 5),
	}

	// Load Auth config
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable must be set")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters (current length: %d)", len(jwtSecret))
	}

	credentialsKey := os.Getenv("CREDENTIALS_KEY")
	if credentialsKey != "" && len(credentialsKey) < 32 {
		return nil, fmt.Errorf("CREDENTIALS_KEY must be at least 32 characters (current length: %d)", len(credentialsKey))
	}
	if credentialsKey == "" {
		logger.Log.Warn("CREDENTIALS_KEY not set, backend API keys are stored unsealed")
	}

	config.Auth = AuthConfig{
		JWTSecret:       []byte(jwtSecret),
		TokenExpiration: getEnvAsDuration("JWT_TOKEN_EXPIRATION", 24*time.Hour),
		CredentialsKey:  credentialsKey,
	}

	// Load Models config
	modelsConfigPath := os.Getenv("MODELS_CONFIG_PATH")
	if modelsConfigPath == "" {
		config.Models = DefaultModelsConfig()
	} else {
		modelsConfig, err := NewModelsConfig(modelsConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load models config: %w", err)
		}
		config.Models = modelsConfig
	}

	return config, nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid float value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil || value < 0 {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}
