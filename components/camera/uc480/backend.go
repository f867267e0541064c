package uc480

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"go.viam.com/camacq/components/camera/acquisition"
	"go.viam.com/camacq/logging"
)

// Backend adapts a vendor Library to acquisition.Driver.
type Backend struct {
	variant Variant
	source  acquisition.EventSource
	lib     Library
	logger  logging.Logger
	clock   clock.Clock

	// queue is only set for callback variants.
	queue       *acquisition.EventQueue
	overflowLog *rate.Limiter
	running     atomic.Bool

	mu  sync.Mutex
	roi acquisition.ROI
}

var _ acquisition.Driver = (*Backend)(nil)

// NewBackend returns a backend driving lib as the given variant. lib must implement Poller for
// polling variants and Notifier for callback variants. conf is validated before its defaults are
// applied. A nil clk means the wall clock.
func NewBackend(
	variant Variant,
	lib Library,
	conf acquisition.Config,
	logger logging.Logger,
	clk clock.Clock,
) (*Backend, error) {
	if lib == nil {
		return nil, errors.Errorf("%s backend has no library", variant.Name)
	}
	if clk == nil {
		clk = clock.New()
	}
	if _, err := conf.Validate(variant.Name); err != nil {
		return nil, err
	}
	conf = conf.WithDefaults()
	b := &Backend{
		variant: variant,
		lib:     lib,
		logger:  logger.Sublogger(variant.Name),
		clock:   clk,
	}

	switch variant.Delivery {
	case DeliveryPolling:
		poller, ok := lib.(Poller)
		if !ok {
			return nil, errors.Errorf("%s library %T cannot be polled for frames", variant.Name, lib)
		}
		b.source = acquisition.NewPollingSource(b.pollFunc(poller), conf.PollInterval, clk)
	case DeliveryCallback:
		notifier, ok := lib.(Notifier)
		if !ok {
			return nil, errors.Errorf("%s library %T does not signal frame events", variant.Name, lib)
		}
		b.queue = acquisition.NewEventQueue(conf.EventQueueSize, clk)
		b.overflowLog = rate.NewLimiter(rate.Every(time.Second), 1)
		b.source = b.queue
		notifier.SetFrameHandler(b.onFrame)
	default:
		return nil, errors.Errorf("%s backend has unknown frame delivery %d", variant.Name, variant.Delivery)
	}
	return b, nil
}

// Variant returns the vendor build this backend drives.
func (b *Backend) Variant() Variant {
	return b.variant
}

func (b *Backend) pollFunc(poller Poller) acquisition.PollFunc {
	return func() (acquisition.HardwareEvent, bool, error) {
		if !b.running.Load() {
			return acquisition.HardwareEvent{}, false, nil
		}
		slot, counter, ok, err := poller.PollFrame()
		if err != nil || !ok {
			return acquisition.HardwareEvent{}, false, err
		}
		return acquisition.HardwareEvent{Slot: slot, HWCounter: counter, Timestamp: b.clock.Now()}, true, nil
	}
}

func (b *Backend) onFrame(slot int, counter uint32) {
	if !b.running.Load() {
		return
	}
	ev := acquisition.HardwareEvent{Slot: slot, HWCounter: counter, Timestamp: b.clock.Now()}
	if !b.queue.Push(ev) && b.overflowLog.Allow() {
		b.logger.Warnw("frame event queue full, dropping events",
			"slot", slot, "hw_counter", counter, "overflows", b.queue.Overflows())
	}
}

// Start implements acquisition.Driver.
func (b *Backend) Start(ctx context.Context, pool *acquisition.RingPool) error {
	if b.running.Load() {
		return errors.New("capture is already running")
	}
	if err := b.lib.SetImageMemory(ctx, pool); err != nil {
		return errors.Wrap(err, "registering image memory")
	}
	if b.queue != nil {
		b.queue.Drain()
	}
	b.running.Store(true)
	if err := b.lib.CaptureVideo(ctx); err != nil {
		b.running.Store(false)
		return errors.Wrap(err, "starting live capture")
	}
	b.logger.Debugw("live capture started", "slots", pool.Len(), "slot_size", pool.SlotSize())
	return nil
}

// Stop implements acquisition.Driver.
func (b *Backend) Stop(ctx context.Context) error {
	if !b.running.Swap(false) {
		return nil
	}
	err := b.lib.StopLiveVideo(ctx)
	if b.queue != nil {
		b.queue.Drain()
	}
	return errors.Wrap(err, "stopping live capture")
}

// NextEvent implements acquisition.Driver.
func (b *Backend) NextEvent(ctx context.Context, timeout time.Duration) (acquisition.HardwareEvent, error) {
	return b.source.NextEvent(ctx, timeout)
}

// SetROIMode implements acquisition.Driver. Both reductions are cleared before the new one is
// applied since the sensor rejects binning and subsampling on the same axis.
func (b *Backend) SetROIMode(ctx context.Context, roi acquisition.ROI) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.lib.SetBinning(ctx, 1, 1); err != nil {
		return errors.Wrap(err, "clearing binning")
	}
	if err := b.lib.SetSubsampling(ctx, 1, 1); err != nil {
		return errors.Wrap(err, "clearing subsampling")
	}
	if err := b.lib.SetAOI(ctx, roi.H.Start, roi.V.Start, roi.H.End-roi.H.Start, roi.V.End-roi.V.Start); err != nil {
		return errors.Wrap(err, "setting area of interest")
	}
	if roi.H.Bin > 1 || roi.V.Bin > 1 {
		if err := b.lib.SetBinning(ctx, roi.H.Bin, roi.V.Bin); err != nil {
			return errors.Wrap(err, "setting binning")
		}
	}
	if roi.H.Sub > 1 || roi.V.Sub > 1 {
		if err := b.lib.SetSubsampling(ctx, roi.H.Sub, roi.V.Sub); err != nil {
			return errors.Wrap(err, "setting subsampling")
		}
	}
	b.roi = roi
	return nil
}

// ROI returns the last region of interest applied to the sensor.
func (b *Backend) ROI() acquisition.ROI {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.roi
}

// Overflows returns how many frame events were lost to a full queue. Always 0 when polling.
func (b *Backend) Overflows() uint64 {
	if b.queue == nil {
		return 0
	}
	return b.queue.Overflows()
}

// Close stops capture and closes the library if it holds resources.
func (b *Backend) Close(ctx context.Context) error {
	err := b.Stop(ctx)
	if closer, ok := b.lib.(interface{ Close() error }); ok {
		if closeErr := closer.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
