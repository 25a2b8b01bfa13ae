package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Defaults for the time-driven transitions of a camera pipeline.
const (
	DefaultReconnectBackoff = 5 * time.Second
	DefaultFaultSleep       = 1 * time.Second
	DefaultNotifyCooldown   = 30 * time.Second
	DefaultTraceIdle        = 3 * time.Second
)

// TuningConfig is the optional JSON tuning file. Omitted fields keep their
// defaults, so partial files are valid.
type TuningConfig struct {
	Confidence      *float64 `json:"confidence,omitempty"`
	MotionThreshold *int     `json:"motion_threshold,omitempty"`

	ReconnectBackoff *string `json:"reconnect_backoff,omitempty"` // duration string like "5s"
	FaultSleep       *string `json:"fault_sleep,omitempty"`
	NotifyCooldown   *string `json:"notify_cooldown,omitempty"`
	TraceIdle        *string `json:"trace_idle,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg TuningConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks value ranges and duration syntax.
func (c *TuningConfig) Validate() error {
	if c.Confidence != nil {
		if err := validateConfidence(*c.Confidence); err != nil {
			return err
		}
	}
	if c.MotionThreshold != nil {
		if err := validateMotionThreshold(*c.MotionThreshold); err != nil {
			return err
		}
	}
	durations := map[string]*string{
		"reconnect_backoff": c.ReconnectBackoff,
		"fault_sleep":       c.FaultSleep,
		"notify_cooldown":   c.NotifyCooldown,
		"trace_idle":        c.TraceIdle,
	}
	for name, v := range durations {
		if v == nil {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

func durationOr(v *string, fallback time.Duration) time.Duration {
	if v == nil {
		return fallback
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetReconnectBackoff returns the stream reconnect interval.
func (c *TuningConfig) GetReconnectBackoff() time.Duration {
	if c == nil {
		return DefaultReconnectBackoff
	}
	return durationOr(c.ReconnectBackoff, DefaultReconnectBackoff)
}

// GetFaultSleep returns the pause after a failed pipeline iteration.
func (c *TuningConfig) GetFaultSleep() time.Duration {
	if c == nil {
		return DefaultFaultSleep
	}
	return durationOr(c.FaultSleep, DefaultFaultSleep)
}

// GetNotifyCooldown returns the per-camera primary notification cooldown.
func (c *TuningConfig) GetNotifyCooldown() time.Duration {
	if c == nil {
		return DefaultNotifyCooldown
	}
	return durationOr(c.NotifyCooldown, DefaultNotifyCooldown)
}

// GetTraceIdle returns the idle interval that finalizes a trace.
func (c *TuningConfig) GetTraceIdle() time.Duration {
	if c == nil {
		return DefaultTraceIdle
	}
	return durationOr(c.TraceIdle, DefaultTraceIdle)
}
