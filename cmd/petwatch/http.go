package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"petwatch/internal/camera"
	"petwatch/internal/database"
	"petwatch/internal/pipeline"
	"petwatch/internal/stream"
	"petwatch/internal/ws"
)

type eventLister interface {
	ListEvents(ctx context.Context, cameraID int, limit int) ([]database.EventRecord, error)
}

type cameraStatus interface {
	Cameras() []int
	GetStats(cameraID int) (pipeline.PipelineStats, bool)
	State(cameraID int) (camera.State, bool)
}

// api serves the event feed and read-only status endpoints.
type api struct {
	hub     *ws.EventHub
	frames  *stream.MJPEGStreamManager
	events  eventLister
	cameras cameraStatus
}

func newAPI(hub *ws.EventHub, frames *stream.MJPEGStreamManager, events eventLister, cameras cameraStatus) *api {
	return &api{hub: hub, frames: frames, events: events, cameras: cameras}
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(ws.RoutePrefix, ws.NewHandler(a.hub))
	mux.Handle(stream.StreamPrefix, a.frames)
	mux.Handle(stream.SnapshotPrefix, stream.NewSnapshotHandler(a.frames))
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /api/cameras", a.handleCameras)
	mux.HandleFunc("GET /api/events", a.handleEvents)
	return mux
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type cameraResponse struct {
	ID    int                    `json:"id"`
	State string                 `json:"state"`
	Stats pipeline.PipelineStats `json:"stats"`
}

func (a *api) handleCameras(w http.ResponseWriter, r *http.Request) {
	resp := make([]cameraResponse, 0)
	for _, id := range a.cameras.Cameras() {
		state, ok := a.cameras.State(id)
		if !ok {
			continue
		}
		stats, _ := a.cameras.GetStats(id)
		resp = append(resp, cameraResponse{ID: id, State: state.String(), Stats: stats})
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventResponse struct {
	ID         string    `json:"id"`
	CameraID   int       `json:"camera_id"`
	Kind       string    `json:"kind"`
	Label      string    `json:"label,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Points     int       `json:"points,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	cameraID, err := queryInt(r, "camera", 0)
	if err != nil || cameraID < 0 {
		http.Error(w, "camera must be a non-negative number", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit < 0 {
		http.Error(w, "limit must be a non-negative number", http.StatusBadRequest)
		return
	}

	records, err := a.events.ListEvents(r.Context(), cameraID, limit)
	if err != nil {
		log.Printf("[API] error: %v", err)
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}

	resp := make([]eventResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, eventResponse{
			ID:         rec.ID,
			CameraID:   rec.CameraID,
			Kind:       rec.Kind,
			Label:      rec.Label,
			Confidence: rec.Confidence,
			X:          rec.X,
			Y:          rec.Y,
			Points:     rec.Points,
			CreatedAt:  rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] error: failed to encode response: %v", err)
	}
}

// handleHTTPServer starts the HTTP server on addr and shuts it down when ctx
// is done.
func handleHTTPServer(ctx context.Context, addr string, a *api, wg *sync.WaitGroup, errc chan error, logger *log.Logger) {
	srv := &http.Server{Addr: addr, Handler: a.routes(), ReadHeaderTimeout: time.Second * 60}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Printf("HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		<-ctx.Done()
		logger.Printf("shutting down HTTP server at %q", addr)

		// Shutdown gracefully with a 30s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Printf("failed to shutdown: %v", err)
		}
	}()
}
