// Package tracking decides when a sighting is announced and accumulates the
// positions of a continuous sighting into a trace.
//
// Tracker only computes transitions. The effects it returns are carried out
// by the caller, so the state machine runs without a notification sink.
package tracking

import (
	"image"
	"time"

	"petwatch/internal/detection"
)

// Config holds the timing of the tracker.
type Config struct {
	// Cooldown is the minimum interval between primary notifications.
	Cooldown time.Duration
	// IdleTimeout finalizes a trace when no detection arrived for this long.
	IdleTimeout time.Duration
	// MinPoints is the number of positions a trace must exceed to be drawn.
	MinPoints int
}

// DefaultConfig returns the production timing.
func DefaultConfig() Config {
	return Config{
		Cooldown:    30 * time.Second,
		IdleTimeout: 3 * time.Second,
		MinPoints:   3,
	}
}

// EffectKind identifies what the caller must do.
type EffectKind int

const (
	// EffectNotify sends a primary notification with the annotated frame.
	EffectNotify EffectKind = iota + 1
	// EffectDrawTrace draws Positions on the last annotated frame and sends
	// it to the debug audience.
	EffectDrawTrace
)

func (k EffectKind) String() string {
	switch k {
	case EffectNotify:
		return "notify"
	case EffectDrawTrace:
		return "draw-trace"
	default:
		return "unknown"
	}
}

// Effect is an action requested by a transition.
type Effect struct {
	Kind      EffectKind
	ClassID   int
	Text      string
	Positions []image.Point
}

// NotificationText returns the primary notification text for a class.
func NotificationText(classID int) string {
	if classID == detection.ClassCat {
		return "cat found"
	}
	return "dog found"
}

// Tracker is the per-camera trace state. It is not safe for concurrent use.
type Tracker struct {
	cfg              Config
	tracing          bool
	positions        []image.Point
	lastDetection    time.Time
	lastNotification time.Time
}

// NewTracker creates an idle tracker whose cooldown has already elapsed at
// now.
func NewTracker(cfg Config, now time.Time) *Tracker {
	return &Tracker{
		cfg:              cfg,
		lastNotification: now.Add(-cfg.Cooldown),
		lastDetection:    now,
	}
}

// Tracing reports whether a trace is being accumulated.
func (t *Tracker) Tracing() bool { return t.tracing }

// Positions returns a copy of the accumulated trace.
func (t *Tracker) Positions() []image.Point {
	return append([]image.Point(nil), t.positions...)
}

// LastNotification returns when the last primary notification was issued.
func (t *Tracker) LastNotification() time.Time { return t.lastNotification }

// Observe feeds one detection. Detections at or below threshold are ignored.
// An idle tracker whose cooldown elapsed announces the sighting and starts
// tracing; a tracing tracker records the detection center.
func (t *Tracker) Observe(now time.Time, d detection.Detection, threshold float64) []Effect {
	if d.Confidence <= threshold {
		return nil
	}

	var effects []Effect
	if !t.tracing && now.Sub(t.lastNotification) > t.cfg.Cooldown {
		effects = append(effects, Effect{
			Kind:    EffectNotify,
			ClassID: d.ClassID,
			Text:    NotificationText(d.ClassID),
		})
		t.lastNotification = now
		t.tracing = true
	}

	if t.tracing {
		t.positions = append(t.positions, d.Center)
		t.lastDetection = now
	}
	return effects
}

// Expire finalizes the trace once no detection arrived for the idle timeout.
// A trace with more than MinPoints positions yields EffectDrawTrace; shorter
// traces are discarded. The tracker is idle afterwards in both cases.
func (t *Tracker) Expire(now time.Time) []Effect {
	if !t.tracing || now.Sub(t.lastDetection) <= t.cfg.IdleTimeout {
		return nil
	}

	var effects []Effect
	if len(t.positions) > t.cfg.MinPoints {
		effects = append(effects, Effect{Kind: EffectDrawTrace, Positions: t.positions})
	}
	t.tracing = false
	t.positions = nil
	return effects
}
