package tracking

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var traceColor = color.RGBA{0, 255, 0, 0}

const traceThickness = 3

// DrawTrace draws arrows between consecutive positions onto frame.
func DrawTrace(frame *gocv.Mat, positions []image.Point) {
	for i := 1; i < len(positions); i++ {
		gocv.ArrowedLine(frame, positions[i-1], positions[i], traceColor, traceThickness)
	}
}
