package camera

import (
	"fmt"

	"gocv.io/x/gocv"
)

// OpenCapture opens url with OpenCV's video capture.
func OpenCapture(url string) (Stream, error) {
	vc, err := gocv.OpenVideoCapture(url)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("capture is not opened")
	}
	// Keep the decoder queue short so the reader always sees recent frames.
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	return vc, nil
}
