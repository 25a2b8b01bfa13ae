package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"petwatch/internal/camera"
	"petwatch/internal/config"
	"petwatch/internal/database"
)

type blankStream struct {
	closed atomic.Bool
}

func (s *blankStream) Read(dst *gocv.Mat) bool {
	time.Sleep(2 * time.Millisecond)
	if s.closed.Load() {
		return false
	}
	m := blankFrame()
	dst.Close()
	*dst = m
	return true
}

func (s *blankStream) Close() error {
	s.closed.Store(true)
	return nil
}

func TestManager_StartAndClose(t *testing.T) {
	var mu sync.Mutex
	streams := map[string]*blankStream{}
	opened := make(chan string, 4)
	open := func(url string) (camera.Stream, error) {
		s := &blankStream{}
		mu.Lock()
		streams[url] = s
		mu.Unlock()
		opened <- url
		return s, nil
	}

	m := NewManager(context.Background(), ManagerConfig{
		Engine:   &fakeEngine{},
		Notifier: &fakeNotifier{},
		Tunables: fakeTunables{confidence: 0.5, motion: 500},
		EventBus: NewEventBus(),
		Open:     open,
	})

	require.NoError(t, m.StartCamera(config.Camera{ID: 1, URL: "rtsp://one"}))
	require.NoError(t, m.StartCamera(config.Camera{ID: 4, URL: "rtsp://four"}))
	assert.Error(t, m.StartCamera(config.Camera{ID: 1, URL: "rtsp://again"}))
	assert.Equal(t, []int{1, 4}, m.Cameras())

	for i := 0; i < 2; i++ {
		select {
		case <-opened:
		case <-time.After(3 * time.Second):
			t.Fatal("stream was not opened")
		}
	}

	assert.Eventually(t, func() bool {
		stats, ok := m.GetStats(4)
		return ok && stats.Frames > 2
	}, 3*time.Second, 10*time.Millisecond)

	state, ok := m.State(1)
	assert.True(t, ok)
	assert.Equal(t, camera.StateStreaming, state)

	require.NoError(t, m.Close())
	assert.Empty(t, m.Cameras())
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, streams["rtsp://one"].closed.Load())
	assert.True(t, streams["rtsp://four"].closed.Load())

	assert.Error(t, m.StartCamera(config.Camera{ID: 2, URL: "rtsp://two"}))
}

func TestManager_StopCamera(t *testing.T) {
	m := NewManager(context.Background(), ManagerConfig{
		Engine:   &fakeEngine{},
		Notifier: &fakeNotifier{},
		Tunables: fakeTunables{confidence: 0.5, motion: 500},
		Open: func(url string) (camera.Stream, error) {
			return nil, errors.New("connection refused")
		},
	})
	defer m.Close()

	require.NoError(t, m.StartCamera(config.Camera{ID: 2, URL: "rtsp://down"}))
	assert.Eventually(t, func() bool {
		state, _ := m.State(2)
		return state == camera.StateConnecting
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.StopCamera(2))
	assert.Error(t, m.StopCamera(2))
	_, ok := m.GetStats(2)
	assert.False(t, ok)
}

type memEventStore struct {
	records chan *database.EventRecord
}

func (s *memEventStore) RecordEvent(ctx context.Context, ev *database.EventRecord) error {
	s.records <- ev
	return nil
}

func TestRecorder(t *testing.T) {
	store := &memEventStore{records: make(chan *database.EventRecord, 4)}
	bus := NewEventBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewRecorder(store).Run(ctx, bus)
	}()
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.Publish(&Event{CameraID: 3, Kind: EventMotion, Area: 900, Time: at})
	bus.Publish(&Event{CameraID: 3, Kind: EventTrace, Points: 6, Time: at})

	select {
	case rec := <-store.records:
		assert.Equal(t, "trace", rec.Kind)
		assert.Equal(t, 3, rec.CameraID)
		assert.Equal(t, 6, rec.Points)
		assert.True(t, at.Equal(rec.CreatedAt))
	case <-time.After(2 * time.Second):
		t.Fatal("event was not recorded")
	}

	cancel()
	<-done
	assert.Zero(t, bus.SubscriberCount())
	assert.Empty(t, store.records)
}
