package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`
	PublicURL   string `mapstructure:"public_url"`

	// Identity
	JWTSecret string `mapstructure:"jwt_secret"`

	// Escalation engine
	Escalation EscalationConfig `mapstructure:"escalation"`

	// Uptime provider sync
	ProviderSyncSeconds int `mapstructure:"provider_sync_seconds"`

	// Notification intent queue (PGMQ)
	NotificationQueue string `mapstructure:"notification_queue"`
}

type EscalationConfig struct {
	TickSeconds int `mapstructure:"tick_seconds"`
	BatchSize   int `mapstructure:"batch_size"`
	Concurrency int `mapstructure:"concurrency"`
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env file if present (local development convenience).
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	v := viper.New()

	// Set default values
	v.SetDefault("port", "8080")
	v.SetDefault("notification_queue", "incident_notifications")
	v.SetDefault("provider_sync_seconds", 60)
	v.SetDefault("escalation.tick_seconds", 5)
	v.SetDefault("escalation.batch_size", 50)
	v.SetDefault("escalation.concurrency", 8)

	// Config file settings
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config") // dev.config.yaml
		v.SetConfigType("yaml")
	}

	// Environment variable settings
	v.SetEnvPrefix("klaxon")

	// Bind standard environment variables (Docker/deploy compatibility).
	// This allows using standard keys like DATABASE_URL instead of KLAXON_DATABASE_URL.
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("public_url", "PUBLIC_URL")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("notification_queue", "NOTIFICATION_QUEUE")
	_ = v.BindEnv("provider_sync_seconds", "PROVIDER_SYNC_SECONDS")
	_ = v.BindEnv("escalation.tick_seconds", "ESCALATION_TICK_SECONDS")
	_ = v.BindEnv("escalation.batch_size", "ESCALATION_BATCH_SIZE")
	_ = v.BindEnv("escalation.concurrency", "ESCALATION_CONCURRENCY")

	v.AutomaticEnv()

	// 1. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("Loaded config from: %s", v.ConfigFileUsed())
	}

	// 2. Unmarshal into struct
	if err := v.Unmarshal(&App); err != nil {
		return err
	}

	// 3. Backfill environment variables for code that still reads os.Getenv().
	setEnvIfEmpty("DATABASE_URL", App.DatabaseURL)
	setEnvIfEmpty("REDIS_URL", App.RedisURL)
	setEnvIfEmpty("PORT", App.Port)
	setEnvIfEmpty("JWT_SECRET", App.JWTSecret)

	return nil
}

func setEnvIfEmpty(key, value string) {
	if value != "" && os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}
