package detection

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPEngine_InferJPEG(t *testing.T) {
	var gotFields map[string]string
	var gotImage []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		gotFields = map[string]string{
			"conf_threshold": r.FormValue("conf_threshold"),
			"classes":        r.FormValue("classes"),
			"imgsz":          r.FormValue("imgsz"),
		}
		if f, _, err := r.FormFile("file"); assert.NoError(t, err) {
			gotImage, _ = io.ReadAll(f)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"class": "cat", "class_id": 15, "confidence": 0.8, "bbox": []float64{10, 20, 50, 60}, "center": []float64{30, 40}},
				{"class": "dog", "class_id": 16, "confidence": 0.6, "bbox": []float64{0, 0, 10, 20}},
				{"class": "person", "class_id": 0, "confidence": 0.99, "bbox": []float64{0, 0, 1, 1}},
				{"class": "cat", "class_id": 15, "confidence": 0.1, "bbox": []float64{0, 0, 1, 1}},
			},
			"count": 4,
		})
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL + "/")
	dets, err := e.InferJPEG(context.Background(), []byte("jpeg"), Request{
		ConfidenceFloor: 0.2,
		Classes:         MonitoredClasses,
		Size:            image.Pt(2688, 1536),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"conf_threshold": "0.20", "classes": "15,16", "imgsz": "2688,1536"}, gotFields)
	assert.Equal(t, []byte("jpeg"), gotImage)
	assert.Equal(t, []Detection{
		{ClassID: 15, Label: "cat", Confidence: 0.8, Center: image.Pt(30, 40), Size: image.Pt(40, 40)},
		{ClassID: 16, Label: "dog", Confidence: 0.6, Center: image.Pt(5, 10), Size: image.Pt(10, 20)},
	}, dets)
}

func TestHTTPEngine_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPEngine(srv.URL).InferJPEG(context.Background(), []byte("x"), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestHTTPEngine_HealthCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewHTTPEngine(srv.URL)
	assert.True(t, e.Healthy(context.Background()))
	assert.True(t, e.Healthy(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPEngine_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	e := NewHTTPEngine(srv.URL)
	assert.False(t, e.Healthy(context.Background()))

	srv.Close()
	assert.False(t, e.Healthy(context.Background()))
}
