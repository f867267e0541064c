// Package fake implements a simulated uc480 library. It captures frames on a clock ticker into
// the registered image memory and can be told to restart its frame counter or lose frames, so
// every reconciliation path can be driven without hardware.
package fake

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/camacq/components/camera/uc480"
	"go.viam.com/camacq/logging"
	"go.viam.com/camacq/utils"
)

// DefaultFrameInterval is the capture period when Options leaves it unset, about 100 fps.
const DefaultFrameInterval = 10 * time.Millisecond

// Options configure a simulated library.
type Options struct {
	// FrameInterval is the time between captured frames.
	FrameInterval time.Duration
	// CounterBits is the width of the frame counter; it wraps at 2^CounterBits. 0 means 32.
	CounterBits int
	// StartCounter is the counter of the first captured frame.
	StartCounter uint32
	// RestartEvery resets the counter to 0 after that many captured frames. 0 disables it.
	RestartEvery int
	// DropEvery loses one frame in transit after that many captured frames. 0 disables it.
	DropEvery int
	// Clock drives the capture ticker. nil means the wall clock.
	Clock clock.Clock
}

type finished struct {
	slot    int
	counter uint32
}

// Library is a simulated camera. It implements uc480.Library, uc480.Poller and uc480.Notifier;
// which of the last two is used depends on the variant the backend runs it as.
type Library struct {
	opts   Options
	mask   uint32
	logger logging.Logger

	// ctx lives until Close and bounds every capture loop.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	mem       uc480.ImageMemory
	handler   uc480.FrameHandler
	workers   utils.StoppableWorkers
	next      int
	counter   uint32
	captured  uint64
	lost      uint64
	ready     []finished
	pendDrop  int
	aoi       [4]int
	binning   [2]int
	subsample [2]int
	closed    bool
}

var (
	_ uc480.Library  = (*Library)(nil)
	_ uc480.Poller   = (*Library)(nil)
	_ uc480.Notifier = (*Library)(nil)
)

// NewLibrary returns a stopped simulated camera.
func NewLibrary(opts Options, logger logging.Logger) *Library {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.CounterBits <= 0 || opts.CounterBits > 32 {
		opts.CounterBits = 32
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Library{
		opts:      opts,
		mask:      uint32((uint64(1) << opts.CounterBits) - 1),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		counter:   opts.StartCounter,
		binning:   [2]int{1, 1},
		subsample: [2]int{1, 1},
	}
}

// SetImageMemory implements uc480.Library.
func (l *Library) SetImageMemory(_ context.Context, mem uc480.ImageMemory) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("library is closed")
	}
	if l.workers != nil {
		return errors.New("cannot change image memory during live capture")
	}
	if mem == nil || mem.Len() == 0 {
		return errors.New("image memory has no buffers")
	}
	l.mem = mem
	l.next = 0
	l.ready = nil
	return nil
}

// CaptureVideo implements uc480.Library. Frames are captured on every tick of the clock.
func (l *Library) CaptureVideo(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("library is closed")
	}
	if l.mem == nil {
		return errors.New("no image memory registered")
	}
	if l.workers != nil {
		return nil
	}
	l.workers = utils.NewStoppableWorkers(l.ctx, utils.TickerWorker(l.opts.Clock, l.opts.FrameInterval,
		func(context.Context) { l.Capture(1) }))
	return nil
}

// StopLiveVideo implements uc480.Library.
func (l *Library) StopLiveVideo(context.Context) error {
	l.mu.Lock()
	workers := l.workers
	l.workers = nil
	l.mu.Unlock()

	if workers != nil {
		workers.Stop()
	}
	return nil
}

// SetAOI implements uc480.Library.
func (l *Library) SetAOI(_ context.Context, x, y, width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Errorf("invalid area of interest %dx%d", width, height)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.aoi = [4]int{x, y, width, height}
	return nil
}

// SetBinning implements uc480.Library.
func (l *Library) SetBinning(_ context.Context, h, v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if (h > 1 && l.subsample[0] > 1) || (v > 1 && l.subsample[1] > 1) {
		return errors.New("binning and subsampling cannot be combined on one axis")
	}
	l.binning = [2]int{h, v}
	return nil
}

// SetSubsampling implements uc480.Library.
func (l *Library) SetSubsampling(_ context.Context, h, v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if (h > 1 && l.binning[0] > 1) || (v > 1 && l.binning[1] > 1) {
		return errors.New("binning and subsampling cannot be combined on one axis")
	}
	l.subsample = [2]int{h, v}
	return nil
}

// SetFrameHandler implements uc480.Notifier. Once a handler is set frames are no longer queued
// for PollFrame.
func (l *Library) SetFrameHandler(handler uc480.FrameHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = handler
}

// PollFrame implements uc480.Poller. Only as many finished frames as there are slots are kept;
// older ones have been overwritten and are lost.
func (l *Library) PollFrame() (int, uint32, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, 0, false, errors.New("library is closed")
	}
	if len(l.ready) == 0 {
		return 0, 0, false, nil
	}
	f := l.ready[0]
	l.ready = l.ready[1:]
	return f.slot, f.counter, true, nil
}

// Capture captures n frames immediately, as if n ticks had passed.
func (l *Library) Capture(n int) {
	for i := 0; i < n; i++ {
		l.captureOne()
	}
}

func (l *Library) captureOne() {
	l.mu.Lock()
	if l.mem == nil || l.closed {
		l.mu.Unlock()
		return
	}
	counter := l.counter & l.mask
	l.counter = (l.counter + 1) & l.mask
	l.captured++
	if l.opts.RestartEvery > 0 && l.captured%uint64(l.opts.RestartEvery) == 0 {
		l.counter = 0
	}
	if l.opts.DropEvery > 0 && l.captured%uint64(l.opts.DropEvery) == 0 {
		l.pendDrop++
	}
	if l.pendDrop > 0 {
		l.pendDrop--
		l.lost++
		l.mu.Unlock()
		return
	}

	slot := l.next % l.mem.Len()
	l.next++
	if err := l.mem.WriteSlot(slot, func(buf []byte) { stamp(buf, counter) }); err != nil {
		// the reader still holds this slot; the frame never made it into memory
		l.lost++
		l.mu.Unlock()
		l.logger.Debugw("frame lost, slot busy", "slot", slot, "hw_counter", counter)
		return
	}

	handler := l.handler
	if handler == nil {
		l.ready = append(l.ready, finished{slot: slot, counter: counter})
		if over := len(l.ready) - l.mem.Len(); over > 0 {
			l.ready = l.ready[over:]
			l.lost += uint64(over)
		}
	}
	l.mu.Unlock()

	if handler != nil {
		handler(slot, counter)
	}
}

// stamp writes the counter into the first bytes of the frame so readers can tell frames apart.
func stamp(buf []byte, counter uint32) {
	if len(buf) >= 4 {
		binary.LittleEndian.PutUint32(buf, counter)
		return
	}
	for i := range buf {
		buf[i] = byte(counter >> (8 * i))
	}
}

// FrameCounter decodes the counter stamped into a frame captured by a Library.
func FrameCounter(frame []byte) uint32 {
	if len(frame) >= 4 {
		return binary.LittleEndian.Uint32(frame)
	}
	var counter uint32
	for i, b := range frame {
		counter |= uint32(b) << (8 * i)
	}
	return counter
}

// RestartCounter makes the next captured frame carry counter 0.
func (l *Library) RestartCounter() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counter = 0
}

// DropFrames loses the next n captured frames in transit: their counters are used up but they
// are never reported.
func (l *Library) DropFrames(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pendDrop += n
}

// Captured returns the number of frames the sensor captured, reported or not.
func (l *Library) Captured() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.captured
}

// Lost returns the number of captured frames that were never reported.
func (l *Library) Lost() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lost
}

// AOI returns the area of interest as x, y, width, height.
func (l *Library) AOI() [4]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.aoi
}

// Reduction returns the binning and subsampling factors as (h, v) pairs.
func (l *Library) Reduction() (binning, subsampling [2]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.binning, l.subsample
}

// Close stops capture and makes further calls fail.
func (l *Library) Close() error {
	l.cancel()
	err := l.StopLiveVideo(context.Background())
	l.mu.Lock()
	l.closed = true
	l.mem = nil
	l.mu.Unlock()
	return err
}
