package app

import (
	"mcp-chat/internal/config"
	"mcp-chat/internal/repository/db"
)

// Config holds all application dependencies and configuration
type Config struct {
	// Store is the realtime document backend
	Store db.DocumentStore
	// Centralized application configuration
	AppConfig *config.AppConfig
}

// NewConfig creates a new application configuration
func NewConfig(store db.DocumentStore, appConfig *config.AppConfig) *Config {
	return &Config{
		Store:     store,
		AppConfig: appConfig,
	}
}

func (c *Config) ModelsConfig() *config.ModelsConfig {
	return c.AppConfig.Models
}
