// Package detection runs object detection on camera frames through one of
// several interchangeable engines.
package detection

import (
	"context"
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// COCO class ids of the monitored species.
const (
	ClassCat = 15
	ClassDog = 16
)

// MonitoredClasses is the class filter passed to every engine.
var MonitoredClasses = []int{ClassCat, ClassDog}

// DefaultConfidenceFloor is the minimum score an engine reports.
const DefaultConfidenceFloor = 0.2

// ErrUnavailable is returned when no healthy engine can serve a request.
var ErrUnavailable = errors.New("detection engine unavailable")

// Detection is one detected object in frame pixel coordinates.
type Detection struct {
	ClassID    int         `json:"class_id"`
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Center     image.Point `json:"center"`
	Size       image.Point `json:"size"`
}

// Box returns the bounding rectangle of the detection.
func (d Detection) Box() image.Rectangle {
	tl := d.Center.Sub(d.Size.Div(2))
	return image.Rectangle{Min: tl, Max: tl.Add(d.Size)}
}

// Request carries the per-call filters.
type Request struct {
	ConfidenceFloor float64
	Classes         []int
	// Size is the model input size, aligned to a 32 pixel grid.
	Size image.Point
}

func (r Request) wants(classID int) bool {
	if len(r.Classes) == 0 {
		return true
	}
	for _, c := range r.Classes {
		if c == classID {
			return true
		}
	}
	return false
}

// Engine scores a frame.
type Engine interface {
	Name() string
	Infer(ctx context.Context, frame gocv.Mat, req Request) ([]Detection, error)
	Healthy(ctx context.Context) bool
	Close() error
}

// AlignSize rounds width and height up to a multiple of 32.
func AlignSize(width, height int) image.Point {
	return image.Pt(alignUp(width), alignUp(height))
}

func alignUp(v int) int {
	return (v + 31) / 32 * 32
}

// ClassLabel returns a readable name for a class id.
func ClassLabel(classID int) string {
	switch classID {
	case ClassCat:
		return "cat"
	case ClassDog:
		return "dog"
	default:
		return fmt.Sprintf("class %d", classID)
	}
}

// EncodeJPEG returns the JPEG bytes of frame.
func EncodeJPEG(frame gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
