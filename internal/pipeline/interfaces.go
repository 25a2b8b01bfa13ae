package pipeline

import (
	"context"

	"gocv.io/x/gocv"
)

// FrameReader delivers the latest frame of one camera. The caller owns and
// closes the returned Mat.
type FrameReader interface {
	Read(ctx context.Context) (gocv.Mat, error)
}

// Notifier delivers image notifications. Delivery is best effort and never
// reports failures to the caller.
type Notifier interface {
	SendPrimary(ctx context.Context, image []byte, text string)
	SendDebug(ctx context.Context, image []byte, text string)
}

// Tunables is the runtime configuration read on every frame.
type Tunables interface {
	Confidence() float64
	MotionThreshold() int
	DebugEnabled() bool
}

// FrameSink receives the JPEG of every annotated detection frame.
type FrameSink interface {
	SetAnnotatedFrame(cameraID int, jpeg []byte)
}

// EventHandler receives events synchronously from the EventBus.
type EventHandler interface {
	OnEvent(ev *Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ev *Event)

// OnEvent implements EventHandler.
func (f EventHandlerFunc) OnEvent(ev *Event) { f(ev) }
