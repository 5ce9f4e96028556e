package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/anime-shed/omr-inspector-go/internal/errors"
	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	SheetFetchTimeout  time.Duration
	MaxRequestBodySize int64

	// SettingsFile is a YAML (or JSON) file layered over the scan defaults
	SettingsFile string
	EventBuffer  int

	AzureStorageAccount string
	AzureStorageKey     string
	AWSRegion           string
	LocalSheetRoot      string
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

func LoadFromEnv() (*Config, error) {
	// Set defaults
	cfg := &Config{
		Host:                getEnvOrDefault("HOST", "0.0.0.0"),
		Port:                getEnvOrDefault("PORT", "8080"),
		RequestTimeout:      parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		SheetFetchTimeout:   parseDurationOrDefault("SHEET_FETCH_TIMEOUT", 15*time.Second),
		MaxRequestBodySize:  parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 50*1024*1024), // 50MB
		SettingsFile:        strings.TrimSpace(os.Getenv("SETTINGS_FILE")),
		EventBuffer:         int(parseIntOrDefault("EVENT_BUFFER", 500)),
		AzureStorageAccount: os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureStorageKey:     os.Getenv("AZURE_STORAGE_KEY"),
		AWSRegion:           os.Getenv("AWS_REGION"),
		LocalSheetRoot:      os.Getenv("LOCAL_SHEET_ROOT"),
	}

	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(cfg.Port))
	if err != nil || p < 1 || p > 65535 {
		return nil, fmt.Errorf("invalid PORT: %q", cfg.Port)
	}
	if cfg.MaxRequestBodySize <= 0 {
		return nil, fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", cfg.MaxRequestBodySize)
	}
	if cfg.RequestTimeout <= 0 || cfg.SheetFetchTimeout <= 0 {
		return nil, fmt.Errorf("timeouts must be > 0 (got request=%s, fetch=%s)",
			cfg.RequestTimeout, cfg.SheetFetchTimeout)
	}
	if cfg.EventBuffer <= 0 {
		return nil, fmt.Errorf("EVENT_BUFFER must be > 0 (got %d)", cfg.EventBuffer)
	}
	return cfg, nil
}

// LoadSettings reads scan settings from path over the defaults. An empty
// path returns the defaults.
func LoadSettings(path string) (models.Settings, error) {
	if path == "" {
		return models.DefaultSettings(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	return ParseSettings(data)
}

// ParseSettings decodes YAML or JSON settings over the defaults and validates
// the result. Unknown keys are rejected.
func ParseSettings(data []byte) (models.Settings, error) {
	settings := models.DefaultSettings()
	if len(bytes.TrimSpace(data)) == 0 {
		return settings, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&settings); err != nil {
		return models.Settings{}, apperrors.NewValidationError("invalid settings document", err)
	}
	if err := settings.Validate(); err != nil {
		return models.Settings{}, err
	}
	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
