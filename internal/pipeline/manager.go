package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"petwatch/internal/camera"
	"petwatch/internal/config"
	"petwatch/internal/detection"
	"petwatch/internal/motion"
	"petwatch/internal/tracking"
)

// ManagerConfig holds what every camera pipeline shares.
type ManagerConfig struct {
	Engine   detection.Engine
	Notifier Notifier
	Tunables Tunables
	EventBus *EventBus
	// Frames receives annotated frames; may be nil.
	Frames FrameSink
	// Tuning supplies the timing intervals; nil keeps the defaults.
	Tuning *config.TuningConfig
	// Open replaces camera.OpenCapture, mostly for tests.
	Open camera.Opener
}

type cameraWorker struct {
	source   *camera.Source
	pipeline *DetectionPipeline
	done     chan struct{}
}

// Manager runs one frame source and one detection pipeline per camera.
type Manager struct {
	cfg     ManagerConfig
	mu      sync.Mutex
	workers map[int]*cameraWorker
	cancel  context.CancelFunc
	ctx     context.Context
}

// NewManager creates a manager. Pipelines start with StartCamera.
func NewManager(ctx context.Context, cfg ManagerConfig) *Manager {
	if cfg.Open == nil {
		cfg.Open = camera.OpenCapture
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		cfg:     cfg,
		workers: make(map[int]*cameraWorker),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// StartCamera starts the frame source and pipeline of cam.
func (m *Manager) StartCamera(cam config.Camera) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return fmt.Errorf("manager closed")
	}
	if _, exists := m.workers[cam.ID]; exists {
		return fmt.Errorf("pipeline already exists for camera %d", cam.ID)
	}

	masker, err := motion.NewMasker(motion.ProfileFor(cam.ID))
	if err != nil {
		return fmt.Errorf("failed to build mask for camera %d: %w", cam.ID, err)
	}

	source := camera.NewSource(camera.Config{
		CameraID:         cam.ID,
		URL:              cam.URL,
		ReconnectBackoff: m.cfg.Tuning.GetReconnectBackoff(),
		Open:             m.cfg.Open,
	})

	pcfg := DefaultConfig(cam.ID)
	pcfg.FaultSleep = m.cfg.Tuning.GetFaultSleep()
	pcfg.Tracking = tracking.Config{
		Cooldown:    m.cfg.Tuning.GetNotifyCooldown(),
		IdleTimeout: m.cfg.Tuning.GetTraceIdle(),
		MinPoints:   tracking.DefaultConfig().MinPoints,
	}

	pipeline := NewDetectionPipeline(pcfg, source, motion.NewDetector(masker), m.cfg.Engine,
		m.cfg.Notifier, m.cfg.Tunables, WithEventBus(m.cfg.EventBus), WithFrameSink(m.cfg.Frames))

	w := &cameraWorker{source: source, pipeline: pipeline, done: make(chan struct{})}
	m.workers[cam.ID] = w

	source.Start(m.ctx)
	go func() {
		defer close(w.done)
		defer pipeline.Close()
		pipeline.Run(m.ctx)
	}()

	log.Printf("[Pipeline] Started camera %d", cam.ID)
	return nil
}

// StopCamera stops the pipeline of a camera and releases its stream.
func (m *Manager) StopCamera(cameraID int) error {
	m.mu.Lock()
	w, exists := m.workers[cameraID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("pipeline not found for camera %d", cameraID)
	}
	delete(m.workers, cameraID)
	m.mu.Unlock()

	w.stop()
	log.Printf("[Pipeline] Stopped camera %d", cameraID)
	return nil
}

// stop unblocks the pipeline by stopping its source, then waits for it.
func (w *cameraWorker) stop() {
	w.source.Stop()
	<-w.done
}

// Cameras returns the ids of running cameras in ascending order.
func (m *Manager) Cameras() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// GetStats returns pipeline statistics for a camera
func (m *Manager) GetStats(cameraID int) (PipelineStats, bool) {
	m.mu.Lock()
	w, exists := m.workers[cameraID]
	m.mu.Unlock()

	if !exists {
		return PipelineStats{}, false
	}
	return w.pipeline.Stats(), true
}

// State returns the connection state of a camera's stream.
func (m *Manager) State(cameraID int) (camera.State, bool) {
	m.mu.Lock()
	w, exists := m.workers[cameraID]
	m.mu.Unlock()

	if !exists {
		return camera.StateDisconnected, false
	}
	return w.source.State(), true
}

// Close shuts down all pipelines and releases every stream handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.cancel()
	workers := m.workers
	m.workers = make(map[int]*cameraWorker)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *cameraWorker) {
			defer wg.Done()
			w.stop()
		}(w)
	}
	wg.Wait()

	log.Printf("[Pipeline] Closed all detection pipelines")
	return nil
}
