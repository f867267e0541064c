package acquisition

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Read waits up to timeout for the next frame. A zero timeout only returns an already
// available frame; a negative timeout uses the configured read_timeout. Time spent waiting for
// a concurrent read to finish counts against timeout.
//
// Errors: ErrNoFramesAvailable on timeout, ErrFrameTransfer when the error behavior rejected a
// restarted frame, ErrAcquisitionStopped when the camera is or becomes stopped, and
// ErrInvalidSlot when the driver reported a slot it does not own, which also stops the camera.
func (c *Camera) Read(ctx context.Context, timeout time.Duration) (LogicalFrame, error) {
	sess, err := c.activeSession()
	if err != nil {
		return LogicalFrame{}, err
	}
	timeout, err = c.acquireReadSlot(ctx, sess, c.effectiveTimeout(timeout))
	if err != nil {
		return LogicalFrame{}, err
	}
	defer c.readSlot.Release(1)

	if err := sess.takePending(); err != nil {
		return LogicalFrame{}, err
	}
	return c.readOne(ctx, sess, timeout)
}

// ReadMultiple returns between 1 and maxCount frames. It waits up to timeout for the first one
// and then only takes frames that are already available, so it never blocks past timeout.
//
// When a frame after the first is rejected with ErrFrameTransfer the frames read so far are
// returned and the error is reported by the next Read or ReadMultiple. Any other failure after
// the first frame ends the batch early.
func (c *Camera) ReadMultiple(ctx context.Context, maxCount int, timeout time.Duration) ([]LogicalFrame, error) {
	if maxCount <= 0 {
		return nil, errors.Errorf("max count must be positive, got %d", maxCount)
	}
	sess, err := c.activeSession()
	if err != nil {
		return nil, err
	}
	timeout, err = c.acquireReadSlot(ctx, sess, c.effectiveTimeout(timeout))
	if err != nil {
		return nil, err
	}
	defer c.readSlot.Release(1)

	if err := sess.takePending(); err != nil {
		return nil, err
	}

	first, err := c.readOne(ctx, sess, timeout)
	if err != nil {
		return nil, err
	}
	frames := make([]LogicalFrame, 0, maxCount)
	frames = append(frames, first)
	for len(frames) < maxCount {
		frame, err := c.readOne(ctx, sess, 0)
		if err != nil {
			if errors.Is(err, ErrFrameTransfer) {
				sess.pending = err
			}
			break
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (c *Camera) effectiveTimeout(timeout time.Duration) time.Duration {
	if timeout < 0 {
		return c.conf.ReadTimeout
	}
	return timeout
}

// acquireReadSlot waits for other readers to finish, for at most timeout, and returns what is
// left of timeout. The wait ends early when sess stops or ctx is done.
func (c *Camera) acquireReadSlot(ctx context.Context, sess *session, timeout time.Duration) (time.Duration, error) {
	if c.readSlot.TryAcquire(1) {
		return timeout, nil
	}
	if timeout == 0 {
		return 0, errors.Wrapf(ErrNoFramesAvailable, "camera %q is busy with another read", c.id)
	}

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stopWatch := context.AfterFunc(sess.ctx, cancel)
	defer stopWatch()

	if err := c.readSlot.Acquire(waitCtx, 1); err != nil {
		switch {
		case sess.ctx.Err() != nil:
			return 0, ErrAcquisitionStopped
		case ctx.Err() != nil:
			return 0, ctx.Err()
		default:
			return 0, errors.Wrapf(ErrNoFramesAvailable, "camera %q after %v waiting for another read", c.id, timeout)
		}
	}
	if sess.ctx.Err() != nil {
		c.readSlot.Release(1)
		return 0, ErrAcquisitionStopped
	}
	remaining := timeout - time.Since(start)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// takePending returns and clears an error deferred by ReadMultiple. Callers hold the read slot.
func (sess *session) takePending() error {
	err := sess.pending
	sess.pending = nil
	return err
}

func (c *Camera) activeSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrAcquisitionStopped
	}
	return c.session, nil
}

// readOne waits for one event and runs it through reconciliation. Callers hold the read slot.
func (c *Camera) readOne(ctx context.Context, sess *session, timeout time.Duration) (LogicalFrame, error) {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(sess.ctx, cancel)
	defer stopWatch()

	ev, err := c.driver.NextEvent(readCtx, timeout)
	switch {
	case err == nil:
	case sess.ctx.Err() != nil:
		return LogicalFrame{}, ErrAcquisitionStopped
	case errors.Is(err, ErrAcquisitionTimeout):
		return LogicalFrame{}, errors.Wrapf(ErrNoFramesAvailable, "camera %q after %v", c.id, timeout)
	case ctx.Err() != nil:
		return LogicalFrame{}, ctx.Err()
	default:
		return LogicalFrame{}, errors.Wrapf(err, "waiting for a frame on camera %q", c.id)
	}
	return c.deliver(ctx, sess, ev)
}

// deliver holds the slot for the duration of reconciliation and the copy out, and releases it
// on every path.
func (c *Camera) deliver(ctx context.Context, sess *session, ev HardwareEvent) (LogicalFrame, error) {
	handle, err := sess.pool.Acquire(ev.Slot)
	if err != nil {
		c.fail(ctx, sess, err)
		return LogicalFrame{}, err
	}
	defer func() {
		if err := handle.Release(); err != nil {
			c.logger.Errorw("failed to release frame slot", "slot", ev.Slot, "error", err)
		}
	}()

	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return LogicalFrame{}, ErrAcquisitionStopped
	}
	prevExpected := sess.reconciler.Expected()
	out, recErr := sess.reconciler.Reconcile(ev.HWCounter)
	// recorded under mu so a concurrent Stop snapshots this frame too
	sess.stats.record(out, recErr)
	c.mu.Unlock()

	c.logOutcome(ctx, sess, ev, out, prevExpected, recErr)
	if recErr != nil {
		return LogicalFrame{}, recErr
	}

	timestamp := ev.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	src := handle.Bytes()
	data := make([]byte, len(src))
	copy(data, src)
	return LogicalFrame{
		LogicalIndex: out.LogicalIndex,
		Slot:         ev.Slot,
		HWCounter:    out.HWCounter,
		SkipCount:    out.SkipCount,
		Kind:         out.Kind,
		Timestamp:    timestamp,
		Data:         data,
	}, nil
}

func (c *Camera) logOutcome(
	ctx context.Context,
	sess *session,
	ev HardwareEvent,
	out Outcome,
	prevExpected uint32,
	err error,
) {
	switch {
	case err != nil:
		c.logger.Errorw("rejected frame after hardware counter restart",
			"session_id", sess.id.String(), "hw_counter", ev.HWCounter, "expected", prevExpected, "error", err)
	case out.Kind == EventRestart:
		c.logger.Warnw("hardware frame counter restarted",
			"session_id", sess.id.String(),
			"hw_counter", ev.HWCounter,
			"expected", prevExpected,
			"frameskip_behavior", string(sess.behavior),
			"skip_added", out.SkipAdded,
			"skip_count", out.SkipCount)
	case out.Kind == EventSilentDrop:
		c.logger.CDebugw(ctx, "frames dropped in transit",
			"session_id", sess.id.String(), "hw_counter", ev.HWCounter, "dropped", out.Dropped)
	}
}
