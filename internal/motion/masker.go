package motion

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"petwatch/internal/geometry"
)

var maskColor = color.RGBA{0, 0, 0, 0}

// Profile describes the regions blanked out on one camera before motion
// differencing.
type Profile struct {
	// Overlay covers the on-screen timestamp.
	Overlay image.Rectangle
	// Corridor holds the control points of an ignore corridor. Empty when
	// the camera has none.
	Corridor          []image.Point
	CorridorSamples   int
	CorridorThickness int
}

// ProfileFor returns the static mask profile of a camera. Camera 1 renders its
// timestamp at a different position than the others; camera 4 additionally
// ignores a strip of foliage.
func ProfileFor(cameraID int) Profile {
	p := Profile{Overlay: image.Rect(1755, 35, 1755+135, 35+30)}
	switch cameraID {
	case 1:
		p.Overlay = image.Rect(2245, 88, 2245+215, 88+50)
	case 4:
		p.Corridor = []image.Point{{1279, 271}, {1490, 577}, {1710, 980}}
		p.CorridorSamples = 200
		p.CorridorThickness = 45
	}
	return p
}

// Masker blacks out the regions of a Profile. The corridor path is smoothed
// once at construction.
type Masker struct {
	overlay   image.Rectangle
	corridor  []image.Point
	thickness int
}

// NewMasker builds a masker for p.
func NewMasker(p Profile) (*Masker, error) {
	m := &Masker{overlay: p.Overlay, thickness: p.CorridorThickness}
	if len(p.Corridor) > 0 {
		path, err := geometry.Smooth(p.Corridor, p.CorridorSamples)
		if err != nil {
			return nil, fmt.Errorf("failed to smooth ignore corridor: %w", err)
		}
		m.corridor = path
	}
	return m, nil
}

// Corridor returns the smoothed corridor path, nil when the camera has none.
func (m *Masker) Corridor() []image.Point {
	return m.corridor
}

// Apply masks frame in place: corridor first, then the overlay rectangle.
func (m *Masker) Apply(frame *gocv.Mat) {
	if len(m.corridor) > 1 {
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{m.corridor})
		gocv.Polylines(frame, pv, false, maskColor, m.thickness)
		pv.Close()
	}
	if !m.overlay.Empty() {
		gocv.Rectangle(frame, m.overlay, maskColor, -1)
	}
}
