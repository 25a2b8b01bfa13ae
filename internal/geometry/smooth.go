// Package geometry builds smoothed point paths used for ignore masks and
// trajectory sketches.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gonum.org/v1/gonum/interp"
)

// ErrTooFewPoints is returned when fewer than two control points are given.
var ErrTooFewPoints = errors.New("at least two control points are required")

// Smooth samples a natural cubic spline through the control points.
//
// The control points are parametrized uniformly over [0,1], x and y are fitted
// independently and both splines are evaluated at samples uniformly spaced
// parameter values. Results are rounded to the nearest integer.
func Smooth(controlPoints []image.Point, samples int) ([]image.Point, error) {
	if len(controlPoints) < 2 {
		return nil, ErrTooFewPoints
	}
	if samples < 1 {
		return nil, fmt.Errorf("sample count must be positive, got %d", samples)
	}

	n := len(controlPoints)
	ts := make([]float64, n)
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range controlPoints {
		ts[i] = float64(i) / float64(n-1)
		xs[i] = float64(p.X)
		ys[i] = float64(p.Y)
	}

	fx, err := fit(ts, xs)
	if err != nil {
		return nil, fmt.Errorf("failed to fit x spline: %w", err)
	}
	fy, err := fit(ts, ys)
	if err != nil {
		return nil, fmt.Errorf("failed to fit y spline: %w", err)
	}

	out := make([]image.Point, samples)
	for i := range out {
		t := 0.0
		if samples > 1 {
			t = float64(i) / float64(samples-1)
		}
		out[i] = image.Pt(int(math.Round(fx.Predict(t))), int(math.Round(fy.Predict(t))))
	}
	return out, nil
}

// fit returns a natural cubic spline. With two knots the natural spline
// degenerates to the straight segment between them.
func fit(ts, vs []float64) (interp.Predictor, error) {
	if len(ts) == 2 {
		return linear{t0: ts[0], t1: ts[1], v0: vs[0], v1: vs[1]}, nil
	}
	var nc interp.NaturalCubic
	if err := nc.Fit(ts, vs); err != nil {
		return nil, err
	}
	return &nc, nil
}

type linear struct {
	t0, t1, v0, v1 float64
}

func (l linear) Predict(t float64) float64 {
	return l.v0 + (l.v1-l.v0)*(t-l.t0)/(l.t1-l.t0)
}
