// Package config loads process configuration from the environment and holds
// the runtime tunables shared by every camera pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Detector backends selectable through DETECTOR_BACKEND.
const (
	BackendDNN  = "dnn"
	BackendHTTP = "http"
	BackendGRPC = "grpc"
)

// Camera is the static configuration of one stream.
type Camera struct {
	ID  int
	URL string
}

// Config holds the process configuration.
type Config struct {
	Cameras          []Camera
	TelegramToken    string
	ChatIDs          []int64
	DebugChatIDs     []int64
	DBPath           string
	DetectorBackend  string
	DetectorEndpoint string
	ModelPath        string
	HTTPAddr         string
	TuningFile       string
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (*Config, error) {
	return Load(os.Getenv)
}

// Load reads the configuration using getenv for lookups.
func Load(getenv func(string) string) (*Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		TelegramToken:    get("TELEGRAM_TOKEN", ""),
		DBPath:           get("PETWATCH_DB", "petwatch.db"),
		DetectorBackend:  strings.ToLower(get("DETECTOR_BACKEND", BackendDNN)),
		DetectorEndpoint: get("DETECTOR_ENDPOINT", ""),
		ModelPath:        get("MODEL_PATH", "yolov8n.onnx"),
		HTTPAddr:         get("HTTP_ADDR", ":8090"),
		TuningFile:       get("TUNING_FILE", ""),
	}

	for i, url := range splitAndTrim(getenv("CAM_URLS"), ",") {
		cfg.Cameras = append(cfg.Cameras, Camera{ID: i + 1, URL: url})
	}

	var err error
	if cfg.ChatIDs, err = parseChatIDs(getenv("TELEGRAM_CHAT_IDS")); err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_IDS: %w", err)
	}
	if cfg.DebugChatIDs, err = parseChatIDs(getenv("TELEGRAM_DEBUG_CHAT_IDS")); err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_DEBUG_CHAT_IDS: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if len(c.Cameras) == 0 {
		return fmt.Errorf("CAM_URLS must list at least one stream")
	}
	switch c.DetectorBackend {
	case BackendDNN:
		if c.ModelPath == "" {
			return fmt.Errorf("MODEL_PATH is required for the %s backend", BackendDNN)
		}
	case BackendHTTP, BackendGRPC:
		if c.DetectorEndpoint == "" {
			return fmt.Errorf("DETECTOR_ENDPOINT is required for the %s backend", c.DetectorBackend)
		}
	default:
		return fmt.Errorf("unknown detector backend %q (valid: dnn|http|grpc)", c.DetectorBackend)
	}
	return nil
}

// splitAndTrim splits a string by separator and trims whitespace from each element
func splitAndTrim(s string, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseChatIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range splitAndTrim(s, ",") {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chat id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
