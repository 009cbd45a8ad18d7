// Package config loads application settings from the environment
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all settings for the collector and monitor binaries
type Config struct {
	// Ingest
	SerialPort   string
	SerialBaud   int
	DeviceURL    string
	PollInterval time.Duration

	// Storage
	DBPath        string
	RetentionDays int

	// Detection and billing
	TariffBRLPerM3   float64
	LeakThresholdLPS float64
	MinWindowSamples int

	// Forecasting
	TrainingDays  int
	HorizonDays   int
	MovingAvgDays int

	// Alerting
	TelegramToken string
	AlertChatID   int64
}

// Load reads .env (if present) and the environment, applying defaults
func Load() *Config {
	// Missing .env is fine; real deployments set the environment directly
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded settings from .env")
	}

	return &Config{
		SerialPort:   getEnv("SERIAL_PORT", "/dev/ttyUSB0"),
		SerialBaud:   getEnvInt("SERIAL_BAUD", 115200),
		DeviceURL:    getEnv("DEVICE_URL", ""),
		PollInterval: getEnvDuration("POLL_INTERVAL", 2*time.Second),

		DBPath:        getEnv("DB_PATH", ""),
		RetentionDays: getEnvInt("RETENTION_DAYS", 90),

		TariffBRLPerM3:   getEnvFloat("TARIFF_BRL_PER_M3", 4.50),
		LeakThresholdLPS: getEnvFloat("LEAK_THRESHOLD_LPS", 0.2),
		MinWindowSamples: getEnvInt("LEAK_MIN_SAMPLES", 2),

		TrainingDays:  getEnvInt("FORECAST_TRAINING_DAYS", 30),
		HorizonDays:   getEnvInt("FORECAST_HORIZON_DAYS", 7),
		MovingAvgDays: getEnvInt("FORECAST_MOVING_AVG_DAYS", 7),

		TelegramToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		AlertChatID:   getEnvInt64("ALERT_CHAT_ID", 0),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s: '%s', using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("Invalid value for %s: '%s', using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Invalid value for %s: '%s', using default %g", key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid value for %s: '%s', using default %s", key, value, fallback)
		return fallback
	}
	return parsed
}
