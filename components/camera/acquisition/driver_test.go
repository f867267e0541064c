package acquisition

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// scriptedDriver is a callback-style driver whose frames are emitted by the test.
type scriptedDriver struct {
	queue *EventQueue

	mu       sync.Mutex
	pool     *RingPool
	next     int
	roi      ROI
	startErr error

	starts atomic.Int32
	stops  atomic.Int32
}

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{queue: NewEventQueue(64, nil)}
}

func (d *scriptedDriver) Start(_ context.Context, pool *RingPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.pool = pool
	d.next = 0
	d.starts.Inc()
	return nil
}

func (d *scriptedDriver) Stop(context.Context) error {
	d.stops.Inc()
	d.queue.Drain()
	return nil
}

func (d *scriptedDriver) NextEvent(ctx context.Context, timeout time.Duration) (HardwareEvent, error) {
	return d.queue.NextEvent(ctx, timeout)
}

func (d *scriptedDriver) SetROIMode(_ context.Context, roi ROI) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roi = roi
	return nil
}

func (d *scriptedDriver) Overflows() uint64 {
	return d.queue.Overflows()
}

// emit captures one frame per counter into the next ring slot. The first byte of the frame is
// the low byte of its counter.
func (d *scriptedDriver) emit(counters ...uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buffers := d.pool.Buffers()
	for _, counter := range counters {
		slot := d.next % len(buffers)
		d.next++
		buffers[slot][0] = byte(counter)
		d.queue.Push(HardwareEvent{Slot: slot, HWCounter: counter, Timestamp: time.Now()})
	}
}

// emitSlot reports a frame in an arbitrary slot.
func (d *scriptedDriver) emitSlot(slot int, counter uint32) {
	d.queue.Push(HardwareEvent{Slot: slot, HWCounter: counter})
}
