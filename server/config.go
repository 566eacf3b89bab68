// Copyright 2025 Nexus
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the process configuration, read once from the environment at
// startup. Per-provider API key presence gates whether that provider is
// constructed at all.
type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string

	// Provider credentials
	PortiaAPIKey  string
	GoogleAPIKey  string
	MistralAPIKey string
	OpenAIAPIKey  string

	// GitHub OAuth
	GitHubClientID     string
	GitHubClientSecret string
	JWTSecret          string

	// Orchestration tuning
	MaxRetries   int
	BaseDelay    time.Duration
	AwaitTimeout time.Duration

	// Optional YAML tool catalog replacing the built-in one
	ToolCatalogPath string
}

// LoadConfig reads configuration from environment variables, applying
// defaults that match the hosted deployment.
func LoadConfig() Config {
	cfg := Config{
		Port:        getEnv("PORT", "8000"),
		Environment: getEnv("ENVIRONMENT", "development"),

		PortiaAPIKey:  os.Getenv("PORTIA_API_KEY"),
		GoogleAPIKey:  os.Getenv("GOOGLE_API_KEY"),
		MistralAPIKey: os.Getenv("MISTRAL_API_KEY"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),

		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		JWTSecret:          os.Getenv("JWT_SECRET"),

		MaxRetries:   getEnvInt("QUERY_MAX_RETRIES", 2),
		BaseDelay:    getEnvDuration("QUERY_BASE_DELAY", time.Second),
		AwaitTimeout: getEnvDuration("QUERY_AWAIT_TIMEOUT", 60*time.Second),

		ToolCatalogPath: os.Getenv("TOOL_CATALOG_PATH"),
	}

	origins := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001")
	for _, origin := range strings.Split(origins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
