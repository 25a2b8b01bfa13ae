package ws

import (
	"time"

	"github.com/google/uuid"

	"petwatch/internal/pipeline"
)

// Position is a point in frame pixels.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// EventMessage is the JSON form of a pipeline event.
type EventMessage struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"` // "motion", "detection", "notification" or "trace"
	CameraID   int       `json:"camera_id"`
	Timestamp  time.Time `json:"timestamp"`
	Label      string    `json:"label,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Position   *Position `json:"position,omitempty"`
	Area       float64   `json:"area,omitempty"`
	Points     int       `json:"points,omitempty"`
}

// NewEventMessage converts a pipeline event.
func NewEventMessage(ev *pipeline.Event) *EventMessage {
	msg := &EventMessage{
		ID:         uuid.NewString(),
		Type:       string(ev.Kind),
		CameraID:   ev.CameraID,
		Timestamp:  ev.Time,
		Label:      ev.Label,
		Confidence: ev.Confidence,
		Area:       ev.Area,
		Points:     ev.Points,
	}
	if ev.Kind == pipeline.EventDetection || ev.Kind == pipeline.EventTrace {
		msg.Position = &Position{X: ev.Position.X, Y: ev.Position.Y}
	}
	return msg
}
