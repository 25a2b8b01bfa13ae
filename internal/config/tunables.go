package config

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
)

// Defaults for the runtime tunables.
const (
	DefaultConfidence      = 0.5
	DefaultMotionThreshold = 500
)

// Keys under which tunables are persisted.
const (
	KeyConfidence      = "confidence"
	KeyMotionThreshold = "motion_threshold"
)

var (
	ErrInvalidConfidence      = errors.New("confidence must be between 0 and 1")
	ErrInvalidMotionThreshold = errors.New("motion threshold must be a positive integer")
)

// Store persists tunable values as strings.
type Store interface {
	GetConfig(key string) (string, bool, error)
	SaveConfig(key, value string) error
}

// Tunables is the thread-safe handle every camera pipeline reads on each
// frame. Values only change through the validated setters.
type Tunables struct {
	mu              sync.RWMutex
	confidence      float64
	motionThreshold int
	debugAudience   func() bool
	store           Store
}

// NewTunables creates a handle with default values. store may be nil, in
// which case values are kept in memory only. debugAudience reports whether
// anyone subscribed to debug notifications.
func NewTunables(store Store, debugAudience func() bool) *Tunables {
	return &Tunables{
		confidence:      DefaultConfidence,
		motionThreshold: DefaultMotionThreshold,
		debugAudience:   debugAudience,
		store:           store,
	}
}

// Load restores persisted values. Invalid stored values are logged and
// ignored.
func (t *Tunables) Load() error {
	if t.store == nil {
		return nil
	}

	if v, ok, err := t.store.GetConfig(KeyConfidence); err != nil {
		return fmt.Errorf("failed to load confidence: %w", err)
	} else if ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			err = validateConfidence(f)
		}
		if err != nil {
			log.Printf("[Config] warning: ignoring stored confidence %q: %v", v, err)
		} else {
			t.mu.Lock()
			t.confidence = f
			t.mu.Unlock()
		}
	}

	if v, ok, err := t.store.GetConfig(KeyMotionThreshold); err != nil {
		return fmt.Errorf("failed to load motion threshold: %w", err)
	} else if ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			err = validateMotionThreshold(n)
		}
		if err != nil {
			log.Printf("[Config] warning: ignoring stored motion threshold %q: %v", v, err)
		} else {
			t.mu.Lock()
			t.motionThreshold = n
			t.mu.Unlock()
		}
	}
	return nil
}

// Confidence returns the detection confidence threshold.
func (t *Tunables) Confidence() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.confidence
}

// MotionThreshold returns the minimum contour area counted as motion.
func (t *Tunables) MotionThreshold() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.motionThreshold
}

// DebugEnabled reports whether the debug audience is non-empty.
func (t *Tunables) DebugEnabled() bool {
	if t.debugAudience == nil {
		return false
	}
	return t.debugAudience()
}

// SetConfidence validates, stores and persists a new confidence threshold.
func (t *Tunables) SetConfidence(v float64) error {
	if err := validateConfidence(v); err != nil {
		return err
	}
	t.mu.Lock()
	t.confidence = v
	t.mu.Unlock()
	return t.persist(KeyConfidence, strconv.FormatFloat(v, 'f', -1, 64))
}

// SetMotionThreshold validates, stores and persists a new motion threshold.
func (t *Tunables) SetMotionThreshold(v int) error {
	if err := validateMotionThreshold(v); err != nil {
		return err
	}
	t.mu.Lock()
	t.motionThreshold = v
	t.mu.Unlock()
	return t.persist(KeyMotionThreshold, strconv.Itoa(v))
}

// Apply copies the tunable fields present in a tuning file.
func (t *Tunables) Apply(tc *TuningConfig) error {
	if tc == nil {
		return nil
	}
	if tc.Confidence != nil {
		if err := t.SetConfidence(*tc.Confidence); err != nil {
			return err
		}
	}
	if tc.MotionThreshold != nil {
		if err := t.SetMotionThreshold(*tc.MotionThreshold); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tunables) persist(key, value string) error {
	if t.store == nil {
		return nil
	}
	if err := t.store.SaveConfig(key, value); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}
	return nil
}

func validateConfidence(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w, got %v", ErrInvalidConfidence, v)
	}
	return nil
}

func validateMotionThreshold(v int) error {
	if v <= 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidMotionThreshold, v)
	}
	return nil
}
