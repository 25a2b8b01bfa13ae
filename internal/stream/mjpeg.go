// Package stream serves the latest annotated detection frame of each camera
// as an MJPEG feed and as single snapshots.
package stream

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Route prefixes of the handlers.
const (
	StreamPrefix   = "/video/stream/"
	SnapshotPrefix = "/video/snapshot/"
)

// MJPEGStream fans the annotated frames of one camera out to HTTP clients.
type MJPEGStream struct {
	cameraID     int
	clients      map[chan []byte]bool
	clientsMu    sync.RWMutex
	currentFrame []byte
	frameSeq     uint64
	frameMu      sync.RWMutex
}

// MJPEGStreamManager manages MJPEG streams for all cameras
type MJPEGStreamManager struct {
	streams map[int]*MJPEGStream
	mu      sync.RWMutex
}

// NewMJPEGStreamManager creates a new stream manager
func NewMJPEGStreamManager() *MJPEGStreamManager {
	return &MJPEGStreamManager{
		streams: make(map[int]*MJPEGStream),
	}
}

// GetStream returns the stream of a camera, or nil when the camera has not
// produced a frame yet.
func (m *MJPEGStreamManager) GetStream(cameraID int) *MJPEGStream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[cameraID]
}

func (m *MJPEGStreamManager) stream(cameraID int) *MJPEGStream {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[cameraID]
	if !ok {
		s = &MJPEGStream{cameraID: cameraID, clients: make(map[chan []byte]bool)}
		m.streams[cameraID] = s
	}
	return s
}

// SetAnnotatedFrame stores frameData as the camera's current frame and sends
// it to every connected client.
func (m *MJPEGStreamManager) SetAnnotatedFrame(cameraID int, frameData []byte) {
	if len(frameData) == 0 {
		return
	}
	m.stream(cameraID).SetAnnotatedFrame(frameData)
}

// Close disconnects every client.
func (m *MJPEGStreamManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.streams {
		s.Stop()
		delete(m.streams, id)
	}
}

// ServeHTTP handles MJPEG stream requests on /video/stream/{camera_id}
func (m *MJPEGStreamManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID, ok := cameraFromPath(w, r, StreamPrefix)
	if !ok {
		return
	}
	stream := m.GetStream(cameraID)
	if stream == nil {
		http.Error(w, "No stream for camera", http.StatusNotFound)
		return
	}
	stream.ServeHTTP(w, r)
}

// Stop disconnects all clients of the stream.
func (s *MJPEGStream) Stop() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
	}
}

// SetAnnotatedFrame broadcasts a frame to all clients. Slow clients skip
// frames instead of blocking the pipeline.
func (s *MJPEGStream) SetAnnotatedFrame(frameData []byte) {
	s.frameMu.Lock()
	s.currentFrame = frameData
	s.frameSeq++
	s.frameMu.Unlock()

	s.clientsMu.RLock()
	for ch := range s.clients {
		select {
		case ch <- frameData:
		default:
		}
	}
	s.clientsMu.RUnlock()
}

// GetCurrentFrame returns the last annotated frame.
func (s *MJPEGStream) GetCurrentFrame() []byte {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.currentFrame
}

// GetCurrentFrameSeq returns how many frames the stream has received.
func (s *MJPEGStream) GetCurrentFrameSeq() uint64 {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()
	return s.frameSeq
}

// ClientCount returns the number of connected clients.
func (s *MJPEGStream) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ServeHTTP serves the MJPEG stream to a client, starting with the current
// frame when there is one.
func (s *MJPEGStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientCh := make(chan []byte, 5)
	if frame := s.GetCurrentFrame(); frame != nil {
		clientCh <- frame
	}

	s.clientsMu.Lock()
	s.clients[clientCh] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, clientCh)
		s.clientsMu.Unlock()
	}()

	log.Printf("[MJPEGStream] Client connected to camera %d", s.cameraID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[MJPEGStream] Client disconnected from camera %d", s.cameraID)
			return
		case frame, ok := <-clientCh:
			if !ok {
				return
			}
			if err := writePart(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\r\n")
	return err
}

// SnapshotHandler serves single JPEG snapshots
type SnapshotHandler struct {
	manager *MJPEGStreamManager
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(manager *MJPEGStreamManager) *SnapshotHandler {
	return &SnapshotHandler{manager: manager}
}

// ServeHTTP serves the last annotated frame on /video/snapshot/{camera_id}
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cameraID, ok := cameraFromPath(w, r, SnapshotPrefix)
	if !ok {
		return
	}

	stream := h.manager.GetStream(cameraID)
	var frame []byte
	if stream != nil {
		frame = stream.GetCurrentFrame()
	}
	if frame == nil {
		http.Error(w, "No frame available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.Write(frame)
}

func cameraFromPath(w http.ResponseWriter, r *http.Request, prefix string) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if err != nil || id <= 0 {
		http.Error(w, "Invalid camera id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
