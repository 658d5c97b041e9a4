package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DB struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
	}
	RabbitMQ struct {
		Host     string
		Port     int
		User     string
		Password string
	}
	HTTP struct {
		Port int
	}
	JWT struct {
		Secret string
	}
	Notification struct {
		BaseURL string
	}
	Scheduler struct {
		// LocalOffset is the difference between the deployment's civil time
		// (the timezone ride departure times are written in) and the clock
		// the job scheduler runs on. The original deployment ran on GMT with
		// Cairo-local departure times, so the default is 3h.
		LocalOffset  time.Duration
		Workers      int
		PollInterval time.Duration
	}
}

func LoadConfig(filename string) (*Config, error) {
	// Missing .env file is fine; plain environment variables still apply.
	if err := loadEnvFile(filename); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	cfg := &Config{}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.DB.User = getEnv("DB_USER", "carpool_user")
	cfg.DB.Password = getEnv("DB_PASS", "carpool_pass")
	cfg.DB.Database = getEnv("DB_NAME", "carpool_db")
	cfg.RabbitMQ.Host = getEnv("RABBITMQ_HOST", "localhost")
	cfg.RabbitMQ.Port = getEnvAsInt("RABBITMQ_PORT", 5672)
	cfg.RabbitMQ.User = getEnv("RABBITMQ_USER", "guest")
	cfg.RabbitMQ.Password = getEnv("RABBITMQ_PASS", "guest")
	cfg.HTTP.Port = getEnvAsInt("HTTP_PORT", 4000)
	cfg.JWT.Secret = getEnv("JWT_SECRET", "dev-secret")
	cfg.Notification.BaseURL = getEnv("NOTIFICATION_SERVICE_URL", "http://notification-service:3001")
	cfg.Scheduler.LocalOffset = getEnvAsDuration("SCHEDULER_LOCAL_OFFSET", 3*time.Hour)
	cfg.Scheduler.Workers = getEnvAsInt("SCHEDULER_WORKERS", 4)
	cfg.Scheduler.PollInterval = getEnvAsDuration("SCHEDULER_POLL_INTERVAL", time.Second)

	return cfg, nil
}

func loadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("could not set env var %s: %w", key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading env file: %w", err)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
