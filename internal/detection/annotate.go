package detection

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	boxColor   = color.RGBA{255, 56, 56, 0}
	labelColor = color.RGBA{255, 255, 255, 0}
)

// Annotate returns a copy of frame with a labelled box for every detection.
func Annotate(frame gocv.Mat, detections []Detection) gocv.Mat {
	out := frame.Clone()
	for _, d := range detections {
		box := d.Box()
		gocv.Rectangle(&out, box, boxColor, 2)

		label := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
		size := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.6, 1)
		origin := image.Pt(box.Min.X, box.Min.Y-4)
		if origin.Y-size.Y < 0 {
			origin.Y = box.Min.Y + size.Y + 4
		}
		bg := image.Rect(origin.X, origin.Y-size.Y-4, origin.X+size.X+4, origin.Y+4)
		gocv.Rectangle(&out, bg, boxColor, -1)
		gocv.PutText(&out, label, image.Pt(origin.X+2, origin.Y), gocv.FontHersheySimplex, 0.6, labelColor, 1)
	}
	return out
}
