package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// HTTPEngine sends frames to a remote detection service over HTTP.
type HTTPEngine struct {
	endpoint  string
	client    *http.Client
	healthTTL time.Duration

	mu          sync.Mutex
	healthy     bool
	healthCheck time.Time
}

type httpDetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`   // [x1, y1, x2, y2]
	Center     []float64 `json:"center"` // [center_x, center_y]
}

type httpDetectionResult struct {
	Detections      []httpDetection `json:"detections"`
	Count           int             `json:"count"`
	InferenceTimeMs float32         `json:"inference_time_ms"`
	Device          string          `json:"device"`
}

// NewHTTPEngine creates an engine for the service at endpoint.
func NewHTTPEngine(endpoint string) *HTTPEngine {
	return &HTTPEngine{
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		client:    &http.Client{Timeout: 5 * time.Second},
		healthTTL: 30 * time.Second,
	}
}

// Name implements Engine.
func (e *HTTPEngine) Name() string { return "http" }

// Healthy implements Engine. Successful checks are cached for 30 seconds.
func (e *HTTPEngine) Healthy(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.healthy && time.Since(e.healthCheck) < e.healthTTL {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/health", nil)
	if err != nil {
		e.healthy = false
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		log.Printf("[HTTPEngine] Health check failed: %v", err)
		e.healthy = false
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[HTTPEngine] Health check returned status %d", resp.StatusCode)
		e.healthy = false
		return false
	}
	e.healthy = true
	e.healthCheck = time.Now()
	return true
}

func (e *HTTPEngine) markUnhealthy() {
	e.mu.Lock()
	e.healthy = false
	e.mu.Unlock()
}

// Infer implements Engine.
func (e *HTTPEngine) Infer(ctx context.Context, frame gocv.Mat, req Request) ([]Detection, error) {
	jpeg, err := EncodeJPEG(frame)
	if err != nil {
		return nil, err
	}
	return e.InferJPEG(ctx, jpeg, req)
}

// InferJPEG posts an encoded frame and decodes the detections.
func (e *HTTPEngine) InferJPEG(ctx context.Context, jpeg []byte, req Request) ([]Detection, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(jpeg); err != nil {
		return nil, fmt.Errorf("failed to write frame: %w", err)
	}

	fields := map[string]string{
		"conf_threshold": strconv.FormatFloat(req.ConfidenceFloor, 'f', 2, 64),
		"classes":        joinInts(req.Classes),
	}
	if req.Size.X > 0 && req.Size.Y > 0 {
		fields["imgsz"] = joinInts([]int{req.Size.X, req.Size.Y})
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write %s field: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/detect", &b)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.markUnhealthy()
		return nil, fmt.Errorf("failed to send frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("detection failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result httpDetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	out := make([]Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		if len(d.BBox) != 4 || d.Confidence < req.ConfidenceFloor || !req.wants(d.ClassID) {
			continue
		}
		out = append(out, fromCorners(d.ClassID, d.Confidence, d.BBox, d.Center))
	}
	return out, nil
}

// Close implements Engine.
func (e *HTTPEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// fromCorners builds a Detection from an [x1, y1, x2, y2] box. center is
// optional.
func fromCorners(classID int, confidence float64, bbox, center []float64) Detection {
	c := image.Pt(int((bbox[0]+bbox[2])/2), int((bbox[1]+bbox[3])/2))
	if len(center) == 2 {
		c = image.Pt(int(center[0]), int(center[1]))
	}
	return Detection{
		ClassID:    classID,
		Label:      ClassLabel(classID),
		Confidence: confidence,
		Center:     c,
		Size:       image.Pt(int(bbox[2]-bbox[0]), int(bbox[3]-bbox[1])),
	}
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
