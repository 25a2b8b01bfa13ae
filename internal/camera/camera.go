// Package camera owns camera streams: a reconnecting background reader that
// keeps only the most recent decoded frame for its consumer.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// ErrStopped is returned by Read once the source has been stopped.
var ErrStopped = errors.New("frame source stopped")

// State is the connection state of a Source.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stream is an open video stream. *gocv.VideoCapture satisfies it.
type Stream interface {
	Read(dst *gocv.Mat) bool
	Close() error
}

// Opener opens the stream at url.
type Opener func(url string) (Stream, error)

// Config configures a Source.
type Config struct {
	CameraID         int
	URL              string
	ReconnectBackoff time.Duration
	Open             Opener
}

// Source reads one camera stream in the background and exposes the latest
// frame. Frames not taken before the next one arrives are discarded.
type Source struct {
	cameraID int
	url      string
	backoff  time.Duration
	open     Opener

	state   atomic.Int32
	dropped atomic.Uint64

	mu     sync.Mutex
	cond   *sync.Cond
	slot   *gocv.Mat
	closed bool

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSource creates a source in the disconnected state. Call Start to begin
// reading.
func NewSource(cfg Config) *Source {
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.Open == nil {
		cfg.Open = OpenCapture
	}
	s := &Source{
		cameraID: cfg.CameraID,
		url:      cfg.URL,
		backoff:  cfg.ReconnectBackoff,
		open:     cfg.Open,
		done:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the reader goroutine. It is a no-op after the first call.
func (s *Source) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.run(ctx)
	})
}

// State returns the current connection state.
func (s *Source) State() State {
	return State(s.state.Load())
}

// Dropped returns how many frames were overwritten before being read.
func (s *Source) Dropped() uint64 {
	return s.dropped.Load()
}

// CameraID returns the camera this source reads.
func (s *Source) CameraID() int {
	return s.cameraID
}

// Read blocks until a frame is available and returns it. The caller owns the
// returned Mat. Read only fails when ctx is done or the source is stopped.
func (s *Source) Read(ctx context.Context) (gocv.Mat, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.slot == nil && !s.closed && ctx.Err() == nil {
		s.cond.Wait()
	}
	if s.closed {
		return gocv.Mat{}, ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return gocv.Mat{}, err
	}

	frame := *s.slot
	s.slot = nil
	return frame, nil
}

// Stop ends the reader, waits for it to release the stream and discards any
// pending frame. Blocked readers return ErrStopped.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()

		if s.cancel != nil {
			s.cancel()
			<-s.done
		}

		s.mu.Lock()
		if s.slot != nil {
			s.slot.Close()
			s.slot = nil
		}
		s.mu.Unlock()

		s.state.Store(int32(StateDisconnected))
		log.Printf("[FrameSource] Stopped capture for camera %d", s.cameraID)
	})
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)
	defer s.state.Store(int32(StateDisconnected))

	log.Printf("[FrameSource] Starting capture loop for camera %d", s.cameraID)

	for {
		stream := s.connect(ctx)
		if stream == nil {
			return
		}
		// A stream that opens but never yields a frame waits out the
		// backoff like a failed open.
		if s.readLoop(ctx, stream) == 0 && !s.wait(ctx) {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// wait sleeps for the backoff interval. It reports false if ctx ended first.
func (s *Source) wait(ctx context.Context) bool {
	timer := time.NewTimer(s.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// connect opens the stream, retrying every backoff interval until it
// succeeds or ctx is done.
func (s *Source) connect(ctx context.Context) Stream {
	s.state.Store(int32(StateConnecting))

	for {
		stream, err := s.open(s.url)
		if err == nil {
			s.state.Store(int32(StateStreaming))
			log.Printf("[FrameSource] Connected to camera %d", s.cameraID)
			return stream
		}

		log.Printf("[FrameSource] warning: camera %d: failed to connect: %v (retrying in %s)", s.cameraID, err, s.backoff)
		if !s.wait(ctx) {
			return nil
		}
	}
}

// readLoop publishes frames until a read fails or ctx is done and returns the
// number of frames read. The stream is closed on every exit path.
func (s *Source) readLoop(ctx context.Context, stream Stream) (frames int) {
	defer func() {
		if err := stream.Close(); err != nil {
			log.Printf("[FrameSource] warning: camera %d: failed to release stream: %v", s.cameraID, err)
		}
	}()

	for ctx.Err() == nil {
		frame := gocv.NewMat()
		if !stream.Read(&frame) || frame.Empty() {
			frame.Close()
			if ctx.Err() == nil {
				log.Printf("[FrameSource] warning: camera %d: failed to read frame, reconnecting", s.cameraID)
				s.state.Store(int32(StateConnecting))
			}
			return frames
		}
		s.publish(frame)
		frames++
	}
	return frames
}

func (s *Source) publish(frame gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		frame.Close()
		return
	}
	if s.slot != nil {
		s.slot.Close()
		s.dropped.Add(1)
	}
	s.slot = &frame
	s.cond.Signal()
}
