// Package config loads typed process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// ServerConfig controls the HTTP surface (C11).
type ServerConfig struct {
	Port     string
	APIKey   string
	Host     string
	UploadDir string
}

// StoreConfig controls the embedded video record store (C1).
type StoreConfig struct {
	Path string
}

// QueueConfig controls the job queue adapter (C5).
type QueueConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	User     string
	Password string
}

// ObjectStoreConfig controls the object-store publisher (C8).
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// UploadPolicy controls the upload validator (C2).
type UploadPolicy struct {
	MaxResumableBytes int64
	MaxDirectBytes    int64
	AllowedMimeTypes  []string
}

// WebhookConfig controls the dispatcher sweeper (C9).
type WebhookConfig struct {
	MaxAttempts   int
	SweepInterval time.Duration
}

// Config is the fully resolved process configuration.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Queue       QueueConfig
	ObjectStore ObjectStoreConfig
	Upload      UploadPolicy
	Webhook     WebhookConfig
	LogLevel    string
}

// Load reads a .env file if present (missing is not an error) and resolves
// Config from the environment. It fails only on malformed values.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// A malformed .env is worth surfacing; a missing one is normal in prod.
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	maxResumable, err := humanize.ParseBytes(getEnv("MAX_FILE_SIZE", "100mib"))
	if err != nil {
		return nil, fmt.Errorf("config: MAX_FILE_SIZE: %w", err)
	}

	sweepInterval, err := time.ParseDuration(getEnv("CALLBACK_SWEEP_INTERVAL", "60s"))
	if err != nil {
		return nil, fmt.Errorf("config: CALLBACK_SWEEP_INTERVAL: %w", err)
	}

	maxAttempts, err := getEnvInt("MAX_CALLBACK_ATTEMPTS", 4)
	if err != nil {
		return nil, fmt.Errorf("config: MAX_CALLBACK_ATTEMPTS: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      getEnv("SERVER_PORT", "8080"),
			APIKey:    getEnv("API_KEY", ""),
			Host:      getEnv("VELLUM_HOST", "localhost"),
			UploadDir: getEnv("UPLOAD_PATH", "./data/uploads"),
		},
		Store: StoreConfig{
			Path: getEnv("DB_PATH", "./data/vellum.db"),
		},
		Queue: QueueConfig{
			Brokers:  splitTrim(getEnv("QUEUE_BROKERS", "localhost:9092")),
			Topic:    getEnv("QUEUE_TOPIC", "video_processing"),
			GroupID:  getEnv("QUEUE_GROUP_ID", "vellum-workers"),
			User:     getEnv("RABBITMQ_DEFAULT_USER", ""),
			Password: getEnv("RABBITMQ_DEFAULT_PASS", ""),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:  getEnv("S3_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:    getEnv("S3_BUCKET", "vellum-videos"),
			Region:    getEnv("S3_REGION", "us-east-1"),
			UseSSL:    getEnv("S3_USE_SSL", "false") == "true",
		},
		Upload: UploadPolicy{
			MaxResumableBytes: int64(maxResumable),
			MaxDirectBytes:    200 * 1024 * 1024,
			AllowedMimeTypes:  splitTrim(getEnv("ALLOWED_FILE_TYPES", "video/mp4,video/quicktime,video/x-matroska,video/webm,video/x-msvideo")),
		},
		Webhook: WebhookConfig{
			MaxAttempts:   maxAttempts,
			SweepInterval: sweepInterval,
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
