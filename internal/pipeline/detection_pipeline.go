package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"petwatch/internal/camera"
	"petwatch/internal/config"
	"petwatch/internal/detection"
	"petwatch/internal/motion"
	"petwatch/internal/tracking"
)

// TraceCaption is the debug caption of a drawn trace.
const TraceCaption = "Trace drawn."

// Config holds the static configuration of one camera pipeline.
type Config struct {
	CameraID        int
	FaultSleep      time.Duration
	ConfidenceFloor float64
	Classes         []int
	Tracking        tracking.Config
	// FPSInterval is how often the frame rate is logged while debugging.
	FPSInterval time.Duration
}

// DefaultConfig returns the production configuration for a camera.
func DefaultConfig(cameraID int) Config {
	return Config{
		CameraID:        cameraID,
		FaultSleep:      config.DefaultFaultSleep,
		ConfidenceFloor: detection.DefaultConfidenceFloor,
		Classes:         detection.MonitoredClasses,
		Tracking:        tracking.DefaultConfig(),
		FPSInterval:     10 * time.Second,
	}
}

// DetectionPipeline runs motion gating, inference and tracking for a single
// camera. Stages run strictly in sequence on the pipeline goroutine.
type DetectionPipeline struct {
	cfg      Config
	source   FrameReader
	motion   *motion.Detector
	engine   detection.Engine
	tracker  *tracking.Tracker
	notifier Notifier
	tunables Tunables
	eventBus *EventBus
	sink     FrameSink
	now      func() time.Time

	size         image.Point
	annotated    gocv.Mat
	hasAnnotated bool

	fpsStart time.Time
	fpsCount int

	stats   PipelineStats
	statsMu sync.RWMutex
}

// Option customizes a DetectionPipeline.
type Option func(*DetectionPipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *DetectionPipeline) { p.now = now }
}

// WithEventBus publishes pipeline events on bus.
func WithEventBus(bus *EventBus) Option {
	return func(p *DetectionPipeline) { p.eventBus = bus }
}

// WithFrameSink forwards annotated frames to sink.
func WithFrameSink(sink FrameSink) Option {
	return func(p *DetectionPipeline) { p.sink = sink }
}

// NewDetectionPipeline wires the stages of one camera.
func NewDetectionPipeline(cfg Config, source FrameReader, detector *motion.Detector, engine detection.Engine, notifier Notifier, tunables Tunables, opts ...Option) *DetectionPipeline {
	p := &DetectionPipeline{
		cfg:      cfg,
		source:   source,
		motion:   detector,
		engine:   engine,
		notifier: notifier,
		tunables: tunables,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.FaultSleep <= 0 {
		p.cfg.FaultSleep = config.DefaultFaultSleep
	}
	start := p.now()
	p.tracker = tracking.NewTracker(p.cfg.Tracking, start)
	p.fpsStart = start
	p.stats.CameraID = cfg.CameraID
	return p
}

// Run processes frames until ctx is cancelled or the source stops. A failing
// iteration is logged and retried after the fault sleep.
func (p *DetectionPipeline) Run(ctx context.Context) {
	log.Printf("[Pipeline] Processing loop started for camera %d", p.cfg.CameraID)
	defer log.Printf("[Pipeline] Processing loop stopped for camera %d", p.cfg.CameraID)

	for ctx.Err() == nil {
		err := p.Step(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil || errors.Is(err, camera.ErrStopped) {
			return
		}

		p.statsMu.Lock()
		p.stats.Faults++
		p.stats.LastFault = err.Error()
		p.statsMu.Unlock()
		log.Printf("[Pipeline] error: camera %d: %v", p.cfg.CameraID, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.FaultSleep):
		}
	}
}

// Step processes exactly one frame.
func (p *DetectionPipeline) Step(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in pipeline iteration: %v", r)
		}
	}()

	frame, err := p.source.Read(ctx)
	if err != nil {
		return err
	}
	defer frame.Close()

	now := p.now()
	debug := p.tunables.DebugEnabled()
	p.countFrame(now, debug)

	// A gap since the last detection closes the trace before this frame can
	// extend it.
	p.apply(ctx, now, p.tracker.Expire(now))

	res, err := p.motion.Detect(frame, float64(p.tunables.MotionThreshold()))
	if err != nil {
		return fmt.Errorf("motion detection failed: %w", err)
	}
	if !res.Motion {
		return nil
	}

	p.statsMu.Lock()
	p.stats.MotionFrames++
	p.statsMu.Unlock()
	p.publish(&Event{Kind: EventMotion, Area: res.Area, Time: now})

	if debug {
		p.sendMotionDebug(ctx, frame, res)
	}

	if p.size == (image.Point{}) {
		p.size = detection.AlignSize(frame.Cols(), frame.Rows())
	}

	p.statsMu.Lock()
	p.stats.Inferences++
	p.statsMu.Unlock()

	detections, err := p.engine.Infer(ctx, frame, detection.Request{
		ConfidenceFloor: p.cfg.ConfidenceFloor,
		Classes:         p.cfg.Classes,
		Size:            p.size,
	})
	if err != nil {
		return fmt.Errorf("inference failed: %w", err)
	}
	if len(detections) == 0 {
		return nil
	}

	threshold := p.tunables.Confidence()
	annotated := detection.Annotate(frame, detections)
	if p.sink != nil {
		if img, err := detection.EncodeJPEG(annotated); err == nil {
			p.sink.SetAnnotatedFrame(p.cfg.CameraID, img)
		} else {
			log.Printf("[Pipeline] error: camera %d: %v", p.cfg.CameraID, err)
		}
	}
	// Notifications and trace sketches use the last frame with a sighting.
	if anyAbove(detections, threshold) {
		p.setAnnotated(annotated)
	} else {
		annotated.Close()
	}

	for _, d := range detections {
		p.publish(&Event{
			Kind:       EventDetection,
			Label:      d.Label,
			Confidence: d.Confidence,
			Position:   d.Center,
			Time:       now,
		})
		p.apply(ctx, now, p.tracker.Observe(now, d, threshold))
	}
	return nil
}

// apply carries out tracker effects.
func (p *DetectionPipeline) apply(ctx context.Context, now time.Time, effects []tracking.Effect) {
	for _, effect := range effects {
		switch effect.Kind {
		case tracking.EffectNotify:
			p.notify(ctx, now, effect)
		case tracking.EffectDrawTrace:
			p.drawTrace(ctx, now, effect)
		}
	}
}

func (p *DetectionPipeline) notify(ctx context.Context, now time.Time, effect tracking.Effect) {
	if !p.hasAnnotated {
		return
	}
	img, err := detection.EncodeJPEG(p.annotated)
	if err != nil {
		log.Printf("[Pipeline] error: camera %d: %v", p.cfg.CameraID, err)
		return
	}

	p.notifier.SendPrimary(ctx, img, effect.Text)
	log.Printf("[Pipeline] Camera %d: %s", p.cfg.CameraID, effect.Text)

	p.statsMu.Lock()
	p.stats.Notifications++
	p.statsMu.Unlock()
	p.publish(&Event{
		Kind:  EventNotification,
		Label: detection.ClassLabel(effect.ClassID),
		Time:  now,
	})
}

func (p *DetectionPipeline) drawTrace(ctx context.Context, now time.Time, effect tracking.Effect) {
	if !p.hasAnnotated {
		return
	}

	p.statsMu.Lock()
	p.stats.Traces++
	p.statsMu.Unlock()
	p.publish(&Event{
		Kind:     EventTrace,
		Points:   len(effect.Positions),
		Position: effect.Positions[len(effect.Positions)-1],
		Time:     now,
	})

	if !p.tunables.DebugEnabled() {
		return
	}

	traced := p.annotated.Clone()
	defer traced.Close()
	tracking.DrawTrace(&traced, effect.Positions)

	img, err := detection.EncodeJPEG(traced)
	if err != nil {
		log.Printf("[Pipeline] error: failed to encode trace image for camera %d: %v", p.cfg.CameraID, err)
		return
	}
	p.notifier.SendDebug(ctx, img, TraceCaption)
	log.Printf("[Pipeline] Sent trace of %d points for camera %d", len(effect.Positions), p.cfg.CameraID)
}

func (p *DetectionPipeline) sendMotionDebug(ctx context.Context, frame gocv.Mat, res motion.Result) {
	outlined := motion.DrawContour(frame, res.Contour)
	defer outlined.Close()

	img, err := detection.EncodeJPEG(outlined)
	if err != nil {
		log.Printf("[Pipeline] error: failed to encode debug image for camera %d: %v", p.cfg.CameraID, err)
		return
	}
	p.notifier.SendDebug(ctx, img, fmt.Sprintf("Motion detected on camera %d with contour area: %.1f", p.cfg.CameraID, res.Area))
}

func anyAbove(detections []detection.Detection, threshold float64) bool {
	for _, d := range detections {
		if d.Confidence > threshold {
			return true
		}
	}
	return false
}

func (p *DetectionPipeline) setAnnotated(m gocv.Mat) {
	if p.hasAnnotated {
		p.annotated.Close()
	}
	p.annotated = m
	p.hasAnnotated = true
}

func (p *DetectionPipeline) countFrame(now time.Time, debug bool) {
	p.statsMu.Lock()
	p.stats.Frames++
	p.stats.LastFrameTime = now
	p.statsMu.Unlock()

	if !debug || p.cfg.FPSInterval <= 0 {
		p.fpsStart, p.fpsCount = now, 0
		return
	}
	p.fpsCount++
	if elapsed := now.Sub(p.fpsStart); elapsed > p.cfg.FPSInterval {
		log.Printf("[Pipeline] Camera %d has %.2f FPS", p.cfg.CameraID, float64(p.fpsCount)/elapsed.Seconds())
		p.fpsStart, p.fpsCount = now, 0
	}
}

func (p *DetectionPipeline) publish(ev *Event) {
	if p.eventBus == nil {
		return
	}
	ev.CameraID = p.cfg.CameraID
	p.eventBus.Publish(ev)
}

// Stats returns a copy of the pipeline counters.
func (p *DetectionPipeline) Stats() PipelineStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}

// Close releases the frames held by the pipeline.
func (p *DetectionPipeline) Close() {
	if p.hasAnnotated {
		p.annotated.Close()
		p.hasAnnotated = false
	}
	p.motion.Close()
}
