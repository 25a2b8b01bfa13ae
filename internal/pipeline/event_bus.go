package pipeline

import (
	"sync"
)

// EventBus provides pub/sub for pipeline events.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	cameraFilter int // 0 receives all cameras
	channel      chan *Event
	handler      EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for events from all cameras.
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler EventHandler) func() {
	return b.SubscribeCamera(0, handler)
}

// SubscribeCamera registers a handler for events from one camera.
// Returns an unsubscribe function
func (b *EventBus) SubscribeCamera(cameraID int, handler EventHandler) func() {
	sub := &eventSubscription{
		cameraFilter: cameraID,
		handler:      handler,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a channel that receives events from all cameras.
// Events are dropped while the channel is full.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *Event, func()) {
	return b.SubscribeCameraChannel(0, bufferSize)
}

// SubscribeCameraChannel returns a channel that receives events for a specific camera
func (b *EventBus) SubscribeCameraChannel(cameraID int, bufferSize int) (<-chan *Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *Event, bufferSize)
	sub := &eventSubscription{
		cameraFilter: cameraID,
		channel:      ch,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish sends an event to all subscribers
func (b *EventBus) Publish(ev *Event) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.cameraFilter != 0 && sub.cameraFilter != ev.CameraID {
			continue
		}

		// Handlers run synchronously so a camera's events arrive in order.
		if sub.handler != nil {
			sub.handler.OnEvent(ev)
		} else if sub.channel != nil {
			select {
			case sub.channel <- ev:
			default:
				// Channel full, skip this event
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
