package acquisition

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// HardwareEvent is one buffer-ready notification from the driver: the ring slot the frame was
// written into and the driver's frame counter for it.
type HardwareEvent struct {
	Slot      int
	HWCounter uint32
	Timestamp time.Time
}

// An EventSource delivers buffer-ready events in capture order. NextEvent blocks for at most
// timeout and returns ErrAcquisitionTimeout when nothing arrived, or the context error when ctx is
// done first. A zero timeout polls without blocking.
type EventSource interface {
	NextEvent(ctx context.Context, timeout time.Duration) (HardwareEvent, error)
}

// EventQueue adapts a callback-driven driver to an EventSource. The driver callback calls Push,
// which never blocks; readers drain it through NextEvent.
type EventQueue struct {
	events    chan HardwareEvent
	clock     clock.Clock
	overflows atomic.Uint64
}

// NewEventQueue returns a queue holding at most size pending events.
func NewEventQueue(size int, clk clock.Clock) *EventQueue {
	if size <= 0 {
		size = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	return &EventQueue{events: make(chan HardwareEvent, size), clock: clk}
}

// Push enqueues ev. When the queue is full the event is discarded and false is returned; the
// frame is then lost the same way a frame the driver never reported is lost, and shows up as a
// forward jump of the hardware counter.
func (q *EventQueue) Push(ev HardwareEvent) bool {
	select {
	case q.events <- ev:
		return true
	default:
		q.overflows.Inc()
		return false
	}
}

// Overflows returns how many events Push had to discard.
func (q *EventQueue) Overflows() uint64 {
	return q.overflows.Load()
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	return len(q.events)
}

// Drain discards all pending events.
func (q *EventQueue) Drain() {
	for {
		select {
		case <-q.events:
		default:
			return
		}
	}
}

// NextEvent implements EventSource.
func (q *EventQueue) NextEvent(ctx context.Context, timeout time.Duration) (HardwareEvent, error) {
	select {
	case ev := <-q.events:
		return ev, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return HardwareEvent{}, err
	}
	if timeout <= 0 {
		return HardwareEvent{}, ErrAcquisitionTimeout
	}

	timer := q.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case ev := <-q.events:
		return ev, nil
	case <-ctx.Done():
		return HardwareEvent{}, ctx.Err()
	case <-timer.C:
		return HardwareEvent{}, ErrAcquisitionTimeout
	}
}

// PollFunc asks the driver for the next completed buffer. ok is false when none is ready yet.
type PollFunc func() (ev HardwareEvent, ok bool, err error)

// PollingSource adapts a polling driver to an EventSource by calling poll every interval until
// an event is ready or the timeout passes.
type PollingSource struct {
	poll     PollFunc
	interval time.Duration
	clock    clock.Clock
}

// NewPollingSource returns a PollingSource calling poll every interval.
func NewPollingSource(poll PollFunc, interval time.Duration, clk clock.Clock) *PollingSource {
	if interval <= 0 {
		interval = time.Millisecond
	}
	if clk == nil {
		clk = clock.New()
	}
	return &PollingSource{poll: poll, interval: interval, clock: clk}
}

// NextEvent implements EventSource.
func (s *PollingSource) NextEvent(ctx context.Context, timeout time.Duration) (HardwareEvent, error) {
	deadline := s.clock.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return HardwareEvent{}, err
		}
		ev, ok, err := s.poll()
		if err != nil {
			return HardwareEvent{}, errors.Wrap(err, "polling driver for buffer-ready event")
		}
		if ok {
			return ev, nil
		}

		remaining := deadline.Sub(s.clock.Now())
		if remaining <= 0 {
			return HardwareEvent{}, ErrAcquisitionTimeout
		}
		wait := s.interval
		if remaining < wait {
			wait = remaining
		}
		timer := s.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return HardwareEvent{}, ctx.Err()
		case <-timer.C:
		}
	}
}
