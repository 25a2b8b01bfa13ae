package pipeline

import (
	"image"
	"time"
)

// EventKind identifies what happened on a camera.
type EventKind string

const (
	EventMotion       EventKind = "motion"
	EventDetection    EventKind = "detection"
	EventNotification EventKind = "notification"
	EventTrace        EventKind = "trace"
)

// Event is published on the EventBus for every observable pipeline step.
type Event struct {
	CameraID   int         `json:"camera_id"`
	Kind       EventKind   `json:"kind"`
	Label      string      `json:"label,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Position   image.Point `json:"position"`
	// Area is the motion contour area.
	Area float64 `json:"area,omitempty"`
	// Points is the number of positions in a drawn trace.
	Points int       `json:"points,omitempty"`
	Time   time.Time `json:"time"`
}

// PipelineStats holds per-camera counters.
type PipelineStats struct {
	CameraID      int       `json:"camera_id"`
	Frames        uint64    `json:"frames"`
	MotionFrames  uint64    `json:"motion_frames"`
	Inferences    uint64    `json:"inferences"`
	Notifications uint64    `json:"notifications"`
	Traces        uint64    `json:"traces"`
	Faults        uint64    `json:"faults"`
	LastFault     string    `json:"last_fault,omitempty"`
	LastFrameTime time.Time `json:"last_frame_time"`
}
