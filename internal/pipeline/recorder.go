package pipeline

import (
	"context"
	"log"

	"petwatch/internal/database"
)

// EventStore persists events.
type EventStore interface {
	RecordEvent(ctx context.Context, ev *database.EventRecord) error
}

// Recorder writes bus events to an EventStore. Motion events are not stored.
type Recorder struct {
	store EventStore
}

// NewRecorder creates a recorder for store.
func NewRecorder(store EventStore) *Recorder {
	return &Recorder{store: store}
}

// Run drains a channel subscription until ctx is done or the channel closes.
func (r *Recorder) Run(ctx context.Context, bus *EventBus) {
	events, unsubscribe := bus.SubscribeChannel(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Record(ctx, ev)
		}
	}
}

// Record stores one event.
func (r *Recorder) Record(ctx context.Context, ev *Event) {
	if ev.Kind == EventMotion {
		return
	}
	rec := &database.EventRecord{
		CameraID:   ev.CameraID,
		Kind:       string(ev.Kind),
		Label:      ev.Label,
		Confidence: ev.Confidence,
		X:          ev.Position.X,
		Y:          ev.Position.Y,
		Points:     ev.Points,
		CreatedAt:  ev.Time,
	}
	if err := r.store.RecordEvent(ctx, rec); err != nil {
		log.Printf("[Recorder] warning: %v", err)
	}
}
