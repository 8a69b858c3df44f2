package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type QueueConfig struct {
	ServerTTL time.Duration
	AgentTTL  time.Duration
}

type BackgroundConfig struct {
	SweepInterval     time.Duration
	SchedulerInterval time.Duration
}

type AppConfig struct {
	// Core configuration (always required)
	DatabaseURL        string
	DatabaseSchema     string
	Port               string // Optional with default "8080"
	CORSAllowedOrigins string // Optional with default "*"
	Environment        string

	// Collaborator endpoints
	CatalogAPIURL string
	TagsAPIURL    string

	QueueConfig      QueueConfig
	BackgroundConfig BackgroundConfig
}

func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️ Could not load .env file, continuing with system env vars")
	}

	// Core required configuration
	databaseURL, err := getEnvRequired("DB_URL")
	if err != nil {
		return nil, err
	}

	databaseSchema, err := getEnvRequired("DB_SCHEMA")
	if err != nil {
		return nil, err
	}

	catalogAPIURL, err := getEnvRequired("CATALOG_API_URL")
	if err != nil {
		return nil, err
	}

	tagsAPIURL, err := getEnvRequired("TAGS_API_URL")
	if err != nil {
		return nil, err
	}

	serverTTLMinutes, err := getEnvIntWithDefault("SERVER_QUEUE_TTL_MINUTES", 10)
	if err != nil {
		return nil, err
	}

	agentTTLMinutes, err := getEnvIntWithDefault("AGENT_QUEUE_TTL_MINUTES", 10)
	if err != nil {
		return nil, err
	}

	sweepSeconds, err := getEnvIntWithDefault("SWEEP_INTERVAL_SECONDS", 60)
	if err != nil {
		return nil, err
	}

	schedulerSeconds, err := getEnvIntWithDefault("SCHEDULER_INTERVAL_SECONDS", 30)
	if err != nil {
		return nil, err
	}

	config := &AppConfig{
		DatabaseURL:        databaseURL,
		DatabaseSchema:     databaseSchema,
		Port:               getEnvWithDefault("PORT", "8080"),
		CORSAllowedOrigins: getEnvWithDefault("CORS_ALLOWED_ORIGINS", "*"),
		Environment:        getEnvWithDefault("ENVIRONMENT", "dev"),
		CatalogAPIURL:      catalogAPIURL,
		TagsAPIURL:         tagsAPIURL,

		QueueConfig: QueueConfig{
			ServerTTL: time.Duration(serverTTLMinutes) * time.Minute,
			AgentTTL:  time.Duration(agentTTLMinutes) * time.Minute,
		},
		BackgroundConfig: BackgroundConfig{
			SweepInterval:     time.Duration(sweepSeconds) * time.Second,
			SchedulerInterval: time.Duration(schedulerSeconds) * time.Second,
		},
	}

	return config, nil
}

func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("environment variable %s must be an integer: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("environment variable %s must be positive", key)
	}
	return parsed, nil
}
