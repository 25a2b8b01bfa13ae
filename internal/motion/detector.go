// Package motion flags frames that differ from the previous frame of the same
// camera by more than a configurable contour area.
package motion

import (
	"errors"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

const (
	diffThreshold = 20
	dilations     = 2
	erosions      = 1
)

var contourColor = color.RGBA{0, 255, 0, 0}

// ErrEmptyFrame is returned for frames without pixels.
var ErrEmptyFrame = errors.New("empty frame")

// Result describes the outcome of one motion check.
type Result struct {
	Motion bool
	// Area and Contour describe the first contour above the threshold.
	Area    float64
	Contour []image.Point
}

// Detector keeps the previous masked, blurred grayscale frame of a single
// camera. It is not safe for concurrent use.
type Detector struct {
	masker  *Masker
	kernel  gocv.Mat
	prev    gocv.Mat
	hasPrev bool
}

// NewDetector creates a detector. masker may be nil.
func NewDetector(masker *Masker) *Detector {
	return &Detector{
		masker: masker,
		kernel: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
	}
}

// Detect compares frame with the previous one. The first frame, and any frame
// whose size differs from the stored one, only seeds the history. Motion is
// reported when a contour area is strictly greater than minArea.
func (d *Detector) Detect(frame gocv.Mat, minArea float64) (Result, error) {
	if frame.Empty() {
		return Result{}, ErrEmptyFrame
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() == 1 {
		frame.CopyTo(&gray)
	} else {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	}
	if d.masker != nil {
		d.masker.Apply(&gray)
	}

	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	if !d.hasPrev || d.prev.Rows() != blurred.Rows() || d.prev.Cols() != blurred.Cols() {
		d.remember(blurred)
		return Result{}, nil
	}
	defer d.remember(blurred)

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(d.prev, blurred, &delta)
	gocv.Threshold(delta, &delta, diffThreshold, 255, gocv.ThresholdBinary)
	for i := 0; i < dilations; i++ {
		gocv.Dilate(delta, &delta, d.kernel)
	}
	for i := 0; i < erosions; i++ {
		gocv.Erode(delta, &delta, d.kernel)
	}

	contours := gocv.FindContours(delta, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		if area := gocv.ContourArea(c); area > minArea {
			return Result{Motion: true, Area: area, Contour: c.ToPoints()}, nil
		}
	}
	return Result{}, nil
}

// Reset drops the stored history.
func (d *Detector) Reset() {
	if d.hasPrev {
		d.prev.Close()
		d.hasPrev = false
	}
}

// Close releases native memory held by the detector.
func (d *Detector) Close() {
	d.Reset()
	d.kernel.Close()
}

func (d *Detector) remember(m gocv.Mat) {
	if d.hasPrev {
		d.prev.Close()
	}
	d.prev = m
	d.hasPrev = true
}

// DrawContour returns a copy of frame with contour outlined.
func DrawContour(frame gocv.Mat, contour []image.Point) gocv.Mat {
	out := frame.Clone()
	if len(contour) == 0 {
		return out
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{contour})
	defer pv.Close()
	gocv.DrawContours(&out, pv, -1, contourColor, 2)
	return out
}
