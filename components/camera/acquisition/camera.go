// Package acquisition turns a driver's stream of buffer-ready notifications into a gap-free
// sequence of logical frames.
//
// A driver captures into a fixed ring of slots (RingPool) and reports each finished slot with its
// hardware frame counter (HardwareEvent). The Reconciler compares that counter with the one it
// expects: forward jumps are frames silently lost in transit, a counter that goes backward means
// the driver restarted its counting and is handed to the configured FrameskipBehavior. Camera
// ties the pieces together and is what callers read frames from.
package acquisition

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"go.viam.com/camacq/logging"
)

// Driver is the capability set every vendor backend provides.
type Driver interface {
	EventSource

	// Start registers the pool's slots as the capture sequence and starts capturing.
	Start(ctx context.Context, pool *RingPool) error
	// Stop stops capturing. The pool is no longer written to once Stop returns.
	Stop(ctx context.Context) error
	// SetROIMode applies the region of interest and pixel reduction to the sensor.
	SetROIMode(ctx context.Context, roi ROI) error
}

// LogicalFrame is a frame handed to the caller.
type LogicalFrame struct {
	// LogicalIndex counts delivered frames from 1 with no gaps; it cannot reveal silent drops.
	LogicalIndex uint64
	Slot         int
	HWCounter    uint32
	// SkipCount is the cumulative number of frames believed lost at restarts when this frame
	// was delivered.
	SkipCount uint64
	Kind      EventKind
	Timestamp time.Time
	Data      []byte
}

// FrameInfo is the metadata of a delivered frame without its pixels.
type FrameInfo struct {
	// Framestamp is the logical index of the frame.
	Framestamp uint64
	HWCounter  uint32
	Slot       int
	Timestamp  time.Time
	SkipCount  uint64
}

// Info returns the frame metadata.
func (f LogicalFrame) Info() FrameInfo {
	return FrameInfo{
		Framestamp: f.LogicalIndex,
		HWCounter:  f.HWCounter,
		Slot:       f.Slot,
		Timestamp:  f.Timestamp,
		SkipCount:  f.SkipCount,
	}
}

var errROIWhileRunning = errors.New("cannot change the region of interest while acquisition is running")

type session struct {
	id         uuid.UUID
	ctx        context.Context
	cancel     context.CancelFunc
	pool       *RingPool
	reconciler *Reconciler
	stats      *sessionStats
	behavior   FrameskipBehavior

	// pending is an error ReadMultiple deferred to the next read. Guarded by the Camera read slot.
	pending error
}

// Camera is one open camera. All methods are safe for concurrent use; reads are serialized.
type Camera struct {
	id     string
	driver Driver
	conf   Config
	logger logging.Logger

	// readSlot admits one reader at a time. Waiting for it counts against the read timeout, and
	// Stop never takes it so a blocked read cannot delay it.
	readSlot *semaphore.Weighted

	mu        sync.Mutex
	behavior  FrameskipBehavior
	roi       ROI
	session   *session
	lastStats Stats
}

// NewCamera returns a stopped camera reading from driver.
func NewCamera(id string, driver Driver, conf Config, logger logging.Logger) (*Camera, error) {
	if id == "" {
		return nil, errors.New("camera id cannot be empty")
	}
	if driver == nil {
		return nil, errors.Errorf("camera %q has no driver", id)
	}
	if _, err := conf.Validate(id); err != nil {
		return nil, err
	}
	conf = conf.WithDefaults()
	return &Camera{
		id:       id,
		driver:   driver,
		conf:     conf,
		logger:   logger.WithFields("camera_id", id),
		readSlot: semaphore.NewWeighted(1),
		behavior: conf.FrameskipBehavior,
		roi:      FullROI(conf.Width, conf.Height),
		lastStats: Stats{
			State:             StateStopped,
			FrameskipBehavior: conf.FrameskipBehavior,
		},
	}, nil
}

// ID returns the camera identifier.
func (c *Camera) ID() string {
	return c.id
}

// Config returns the camera config with defaults applied.
func (c *Camera) Config() Config {
	return c.conf
}

// Start allocates the frame ring and starts a new acquisition session. The frameskip behavior
// in effect is the one set at this moment.
func (c *Camera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return errAlreadyRunning
	}

	width, height := c.roi.FrameSize()
	pool, err := NewRingPool(c.conf.RingSize, width*height*c.conf.BytesPerPixel)
	if err != nil {
		return errors.Wrap(err, "allocating frame ring")
	}
	rec, err := NewReconciler(c.conf.CounterBits, c.conf.PlausibleGapCeiling, c.behavior)
	if err != nil {
		return err
	}
	if err := c.driver.Start(ctx, pool); err != nil {
		pool.Free()
		return errors.Wrapf(err, "starting acquisition on camera %q", c.id)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	c.session = &session{
		id:         uuid.New(),
		ctx:        sessCtx,
		cancel:     cancel,
		pool:       pool,
		reconciler: rec,
		stats:      &sessionStats{},
		behavior:   c.behavior,
	}
	c.logger.Infow("acquisition started",
		"session_id", c.session.id.String(),
		"ring_size", c.conf.RingSize,
		"frame_width", width,
		"frame_height", height,
		"frameskip_behavior", string(c.behavior))
	return nil
}

// Stop ends the acquisition session. Pending and future reads fail with ErrAcquisitionStopped.
// Stopping a stopped camera does nothing.
func (c *Camera) Stop(ctx context.Context) error {
	c.mu.Lock()
	sess := c.session
	if sess == nil {
		c.mu.Unlock()
		return nil
	}
	c.endSessionLocked(sess)
	acquired := c.lastStats.Acquired
	c.mu.Unlock()

	c.logger.Infow("acquisition stopped", "session_id", sess.id.String(), "acquired", acquired)
	if err := c.driver.Stop(ctx); err != nil {
		return errors.Wrapf(err, "stopping acquisition on camera %q", c.id)
	}
	return nil
}

// endSessionLocked moves the camera to the stopped state and wakes blocked readers.
func (c *Camera) endSessionLocked(sess *session) {
	c.lastStats = c.statsLocked(sess)
	c.lastStats.State = StateStopped
	c.session = nil
	sess.cancel()
}

// fail stops the session after a fatal read error.
func (c *Camera) fail(ctx context.Context, sess *session, cause error) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	c.endSessionLocked(sess)
	c.mu.Unlock()

	c.logger.Errorw("acquisition stopped after fatal error", "session_id", sess.id.String(), "error", cause)
	if err := c.driver.Stop(ctx); err != nil {
		c.logger.Errorw("failed to stop driver", "error", err)
	}
}

// Close stops acquisition and releases the driver if it holds resources.
func (c *Camera) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	if closer, ok := c.driver.(interface{ Close(context.Context) error }); ok {
		if closeErr := closer.Close(ctx); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// State returns whether the camera is acquiring.
func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return StateRunning
	}
	return StateStopped
}

// SetFrameskipBehavior sets the behavior applied to hardware counter restarts. It takes effect
// at the next Start.
func (c *Camera) SetFrameskipBehavior(behavior FrameskipBehavior) error {
	if err := behavior.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.behavior = behavior
	if c.session != nil && c.session.behavior != behavior {
		c.logger.Debugw("frameskip behavior will apply from the next acquisition start",
			"current", string(c.session.behavior), "next", string(behavior))
	}
	return nil
}

// FrameskipBehavior returns the behavior the next session will use.
func (c *Camera) FrameskipBehavior() FrameskipBehavior {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.behavior
}

// SkipCount returns the number of frames believed lost at counter restarts in the current
// session, or in the last one when stopped.
func (c *Camera) SkipCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session.reconciler.SkipCount()
	}
	return c.lastStats.SkipCount
}

// Stats returns a snapshot of the acquisition counters.
func (c *Camera) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return c.lastStats
	}
	return c.statsLocked(c.session)
}

func (c *Camera) statsLocked(sess *session) Stats {
	stats := sess.stats.snapshot()
	stats.SessionID = sess.id.String()
	stats.State = StateRunning
	stats.FrameskipBehavior = sess.behavior
	if oc, ok := c.driver.(overflowCounter); ok {
		stats.QueueOverflows = oc.Overflows()
	}
	return stats
}

// GetROI returns the current region of interest.
func (c *Camera) GetROI() ROI {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roi
}

// SetROI sets the capture rectangle, clamped to the sensor. An end of 0 means the sensor edge.
func (c *Camera) SetROI(ctx context.Context, hstart, hend, vstart, vend int) (ROI, error) {
	return c.updateROI(ctx, func(roi ROI) (ROI, error) {
		return roi.WithRegion(hstart, hend, vstart, vend, c.conf.Width, c.conf.Height)
	})
}

// SetBinning enables binning; any axis binned by more than 1 stops being subsampled.
func (c *Camera) SetBinning(ctx context.Context, hbin, vbin int) (ROI, error) {
	return c.updateROI(ctx, func(roi ROI) (ROI, error) {
		return roi.WithBinning(hbin, vbin)
	})
}

// SetSubsampling enables subsampling; any axis subsampled by more than 1 stops being binned.
func (c *Camera) SetSubsampling(ctx context.Context, hsub, vsub int) (ROI, error) {
	return c.updateROI(ctx, func(roi ROI) (ROI, error) {
		return roi.WithSubsampling(hsub, vsub)
	})
}

func (c *Camera) updateROI(ctx context.Context, update func(ROI) (ROI, error)) (ROI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.roi, errROIWhileRunning
	}
	roi, err := update(c.roi)
	if err != nil {
		return c.roi, err
	}
	if err := c.driver.SetROIMode(ctx, roi); err != nil {
		return c.roi, errors.Wrapf(err, "applying region of interest on camera %q", c.id)
	}
	c.roi = roi
	return roi, nil
}
