package detection

import (
	"context"
	"fmt"
	"image"
	"log"
	"sync"

	"gocv.io/x/gocv"
)

// DNNEngine runs a YOLOv8 ONNX export through OpenCV's DNN module on the CPU.
type DNNEngine struct {
	net          gocv.Net
	modelPath    string
	nmsThreshold float32
	mu           sync.Mutex
}

// NewDNNEngine loads the model at modelPath.
func NewDNNEngine(modelPath string) (*DNNEngine, error) {
	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detection model from %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	log.Printf("[DNNEngine] Loaded model %s", modelPath)
	return &DNNEngine{net: net, modelPath: modelPath, nmsThreshold: 0.45}, nil
}

// Name implements Engine.
func (e *DNNEngine) Name() string { return "dnn" }

// Healthy implements Engine. A loaded network is always usable.
func (e *DNNEngine) Healthy(context.Context) bool { return true }

// Infer implements Engine.
func (e *DNNEngine) Infer(ctx context.Context, frame gocv.Mat, req Request) ([]Detection, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("cannot run detection on an empty frame")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := req.Size
	if size.X <= 0 || size.Y <= 0 {
		size = AlignSize(frame.Cols(), frame.Rows())
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.net.SetInput(blob, "")
	out := e.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("unexpected model output shape %v", dims)
	}
	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read model output: %w", err)
	}

	scale := [2]float64{
		float64(frame.Cols()) / float64(size.X),
		float64(frame.Rows()) / float64(size.Y),
	}
	candidates := decodeYOLO(data, dims[1], dims[2], req, scale)
	return e.suppress(candidates, req), nil
}

// suppress removes overlapping candidates with non-maximum suppression.
func (e *DNNEngine) suppress(candidates []Detection, req Request) []Detection {
	if len(candidates) < 2 {
		return candidates
	}
	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.Box()
		scores[i] = float32(c.Confidence)
	}
	keep := gocv.NMSBoxes(boxes, scores, float32(req.ConfidenceFloor), e.nmsThreshold)
	out := make([]Detection, 0, len(keep))
	for _, idx := range keep {
		out = append(out, candidates[idx])
	}
	return out
}

// Close implements Engine.
func (e *DNNEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.Close()
}

// decodeYOLO converts a YOLOv8 output tensor laid out as [attrs][n] (box
// cx, cy, w, h followed by one score per class) into detections scaled back
// to frame coordinates.
func decodeYOLO(data []float32, attrs, n int, req Request, scale [2]float64) []Detection {
	if len(data) < attrs*n {
		return nil
	}
	at := func(a, i int) float64 { return float64(data[a*n+i]) }

	var out []Detection
	for i := 0; i < n; i++ {
		classID, best := -1, 0.0
		for c := 0; c < attrs-4; c++ {
			if s := at(4+c, i); s > best {
				classID, best = c, s
			}
		}
		if classID < 0 || best < req.ConfidenceFloor || !req.wants(classID) {
			continue
		}
		out = append(out, Detection{
			ClassID:    classID,
			Label:      ClassLabel(classID),
			Confidence: best,
			Center:     image.Pt(int(at(0, i)*scale[0]), int(at(1, i)*scale[1])),
			Size:       image.Pt(int(at(2, i)*scale[0]), int(at(3, i)*scale[1])),
		})
	}
	return out
}
