package acquisition

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camacq/logging"
)

const testReadTimeout = 2 * time.Second

func newTestCamera(t *testing.T, behavior FrameskipBehavior) (*Camera, *scriptedDriver) {
	t.Helper()
	driver := newScriptedDriver()
	cam, err := NewCamera("cam0", driver, Config{
		Width:             4,
		Height:            2,
		RingSize:          8,
		FrameskipBehavior: behavior,
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return cam, driver
}

func startCamera(t *testing.T, cam *Camera) {
	t.Helper()
	test.That(t, cam.Start(context.Background()), test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, cam.Stop(context.Background()), test.ShouldBeNil)
	})
}

func readN(t *testing.T, cam *Camera, n int) []LogicalFrame {
	t.Helper()
	frames := make([]LogicalFrame, 0, n)
	for i := 0; i < n; i++ {
		frame, err := cam.Read(context.Background(), testReadTimeout)
		test.That(t, err, test.ShouldBeNil)
		frames = append(frames, frame)
	}
	return frames
}

func TestNewCameraValidation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := NewCamera("", newScriptedDriver(), Config{Width: 1, Height: 1}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewCamera("cam0", nil, Config{Width: 1, Height: 1}, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewCamera("cam0", newScriptedDriver(), Config{Width: 1}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cam, err := NewCamera("cam0", newScriptedDriver(), Config{Width: 1, Height: 1}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.ID(), test.ShouldEqual, "cam0")
	test.That(t, cam.State(), test.ShouldEqual, StateStopped)
	test.That(t, cam.Config().RingSize, test.ShouldEqual, DefaultRingSize)
}

func TestReadContiguous(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipSkip)
	startCamera(t, cam)
	test.That(t, cam.State(), test.ShouldEqual, StateRunning)

	driver.emit(7, 8, 9)
	frames := readN(t, cam, 3)
	for i, frame := range frames {
		test.That(t, frame.LogicalIndex, test.ShouldEqual, uint64(i+1))
		test.That(t, frame.HWCounter, test.ShouldEqual, uint32(7+i))
		test.That(t, frame.Slot, test.ShouldEqual, i)
		test.That(t, frame.Kind, test.ShouldEqual, EventNormal)
		test.That(t, frame.Data, test.ShouldHaveLength, 8)
		test.That(t, frame.Data[0], test.ShouldEqual, byte(7+i))
		test.That(t, frame.Timestamp.IsZero(), test.ShouldBeFalse)
	}
	test.That(t, cam.Stats().Acquired, test.ShouldEqual, uint64(3))
}

func TestReadForwardGap(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipSkip)
	startCamera(t, cam)

	driver.emit(0, 1, 2, 5, 6)
	frames := readN(t, cam, 5)
	for i, frame := range frames {
		test.That(t, frame.LogicalIndex, test.ShouldEqual, uint64(i+1))
		test.That(t, frame.SkipCount, test.ShouldEqual, uint64(0))
	}
	test.That(t, frames[3].Kind, test.ShouldEqual, EventSilentDrop)
	test.That(t, cam.SkipCount(), test.ShouldEqual, uint64(0))

	stats := cam.Stats()
	test.That(t, stats.SilentDrops, test.ShouldEqual, uint64(1))
	test.That(t, stats.DroppedFrames, test.ShouldEqual, uint64(2))
	test.That(t, stats.Restarts, test.ShouldEqual, uint64(0))
}

func TestReadRestartSkip(t *testing.T) {
	driver := newScriptedDriver()
	logger, observed := logging.NewObservedTestLogger(t)
	cam, err := NewCamera("cam0", driver, Config{Width: 4, Height: 2, RingSize: 8}, logger)
	test.That(t, err, test.ShouldBeNil)
	startCamera(t, cam)

	driver.emit(0, 1, 2, 0, 1)
	frames := readN(t, cam, 5)
	for i, frame := range frames {
		test.That(t, frame.LogicalIndex, test.ShouldEqual, uint64(i+1))
	}
	test.That(t, frames[2].SkipCount, test.ShouldEqual, uint64(0))
	test.That(t, frames[3].Kind, test.ShouldEqual, EventRestart)
	test.That(t, frames[3].SkipCount, test.ShouldBeGreaterThanOrEqualTo, uint64(1))
	test.That(t, frames[4].SkipCount, test.ShouldEqual, frames[3].SkipCount)
	info := frames[4].Info()
	test.That(t, info.Framestamp, test.ShouldEqual, uint64(5))
	test.That(t, info.HWCounter, test.ShouldEqual, uint32(1))
	test.That(t, info.SkipCount, test.ShouldEqual, frames[4].SkipCount)
	test.That(t, info.Timestamp, test.ShouldEqual, frames[4].Timestamp)
	test.That(t, cam.SkipCount(), test.ShouldBeGreaterThanOrEqualTo, uint64(1))

	warnings := observed.FilterMessage("hardware frame counter restarted").All()
	test.That(t, warnings, test.ShouldHaveLength, 1)
	ctxMap := warnings[0].ContextMap()
	test.That(t, ctxMap["camera_id"], test.ShouldEqual, "cam0")
	test.That(t, ctxMap["frameskip_behavior"], test.ShouldEqual, "skip")
	test.That(t, cam.Stats().Restarts, test.ShouldEqual, uint64(1))
}

func TestReadRestartIgnore(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipIgnore)
	startCamera(t, cam)

	driver.emit(0, 1, 2, 0, 1)
	frames := readN(t, cam, 5)
	test.That(t, frames[4].LogicalIndex, test.ShouldEqual, uint64(5))
	test.That(t, cam.SkipCount(), test.ShouldEqual, uint64(0))
}

func TestReadRestartError(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipError)
	startCamera(t, cam)

	driver.emit(0, 1, 2, 0, 1)
	readN(t, cam, 3)

	_, err := cam.Read(context.Background(), testReadTimeout)
	test.That(t, errors.Is(err, ErrFrameTransfer), test.ShouldBeTrue)
	test.That(t, IsRecoverable(err), test.ShouldBeTrue)
	test.That(t, cam.State(), test.ShouldEqual, StateRunning)
	test.That(t, cam.Stats().Acquired, test.ShouldEqual, uint64(3))
	test.That(t, cam.Stats().TransferErrors, test.ShouldEqual, uint64(1))

	frame, err := cam.Read(context.Background(), testReadTimeout)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.LogicalIndex, test.ShouldEqual, uint64(4))
	test.That(t, frame.HWCounter, test.ShouldEqual, uint32(1))
}

func TestReadTimeout(t *testing.T) {
	cam, _ := newTestCamera(t, FrameskipSkip)
	startCamera(t, cam)

	_, err := cam.Read(context.Background(), 0)
	test.That(t, errors.Is(err, ErrNoFramesAvailable), test.ShouldBeTrue)
	test.That(t, IsRecoverable(err), test.ShouldBeTrue)

	start := time.Now()
	_, err = cam.Read(context.Background(), 20*time.Millisecond)
	test.That(t, errors.Is(err, ErrNoFramesAvailable), test.ShouldBeTrue)
	test.That(t, time.Since(start), test.ShouldBeLessThan, testReadTimeout)
	test.That(t, cam.State(), test.ShouldEqual, StateRunning)
}

func TestReadCallerContext(t *testing.T) {
	cam, _ := newTestCamera(t, FrameskipSkip)
	startCamera(t, cam)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cam.Read(ctx, testReadTimeout)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, cam.State(), test.ShouldEqual, StateRunning)
}

func TestStopIdempotent(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipSkip)
	test.That(t, cam.Start(context.Background()), test.ShouldBeNil)
	test.That(t, cam.Start(context.Background()), test.ShouldBeError, errAlreadyRunning)

	driver.emit(0)
	readN(t, cam, 1)

	test.That(t, cam.Stop(context.Background()), test.ShouldBeNil)
	test.That(t, cam.Stop(context.Background()), test.ShouldBeNil)
	test.That(t, driver.stops.Load(), test.ShouldEqual, int32(1))
	test.That(t, cam.State(), test.ShouldEqual, StateStopped)

	_, err := cam.Read(context.Background(), testReadTimeout)
	test.That(t, err, test.ShouldBeError, ErrAcquisitionStopped)
	_, err = cam.ReadMultiple(context.Background(), 4, testReadTimeout)
	test.That(t, err, test.ShouldBeError, ErrAcquisitionStopped)

	stats := cam.Stats()
	test.That(t, stats.State, test.ShouldEqual, StateStopped)
	test.That(t, stats.Acquired, test.ShouldEqual, uint64(1))
	test.That(t, stats.SessionID, test.ShouldNotBeEmpty)
}

func TestStopCancelsBlockedRead(t *testing.T) {
	cam, _ := newTestCamera(t, FrameskipSkip)
	test.That(t, cam.Start(context.Background()), test.ShouldBeNil)

	errCh := make(chan error, 1)
	go func() {
		_, err := cam.Read(context.Background(), time.Minute)
		errCh <- err
	}()

	// Give the reader a moment to block; Stop must wake it either way.
	time.Sleep(20 * time.Millisecond)
	test.That(t, cam.Stop(context.Background()), test.ShouldBeNil)

	select {
	case err := <-errCh:
		test.That(t, err, test.ShouldBeError, ErrAcquisitionStopped)
	case <-time.After(testReadTimeout):
		t.Fatal("read was not cancelled by stop")
	}
}

func TestConcurrentReadsHonorTimeout(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipSkip)
	startCamera(t, cam)

	first := make(chan error, 1)
	go func() {
		_, err := cam.Read(context.Background(), testReadTimeout)
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	_, err := cam.Read(context.Background(), 50*time.Millisecond)
	test.That(t, errors.Is(err, ErrNoFramesAvailable), test.ShouldBeTrue)
	test.That(t, time.Since(start) < time.Second, test.ShouldBeTrue)

	_, err = cam.ReadMultiple(context.Background(), 4, 0)
	test.That(t, errors.Is(err, ErrNoFramesAvailable), test.ShouldBeTrue)

	driver.emit(1)
	test.That(t, <-first, test.ShouldBeNil)
	test.That(t, cam.Stats().Acquired, test.ShouldEqual, uint64(1))
}

func TestStopWakesWaitingReaders(t *testing.T) {
	cam, _ := newTestCamera(t, FrameskipSkip)
	test.That(t, cam.Start(context.Background()), test.ShouldBeNil)

	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := cam.Read(context.Background(), time.Minute)
			errCh <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	test.That(t, cam.Stop(context.Background()), test.ShouldBeNil)

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			test.That(t, err, test.ShouldBeError, ErrAcquisitionStopped)
		case <-time.After(testReadTimeout):
			t.Fatal("waiting read was not cancelled by stop")
		}
	}
}

func TestStatsAfterStopCountDeliveredFrames(t *testing.T) {
	for i := 0; i < 20; i++ {
		cam, driver := newTestCamera(t, FrameskipSkip)
		test.That(t, cam.Start(context.Background()), test.ShouldBeNil)
		driver.emit(1, 2, 3, 4, 5, 6, 7, 8)

		delivered := make(chan uint64, 1)
		go func() {
			var n uint64
			for {
				if _, err := cam.Read(context.Background(), testReadTimeout); err != nil {
					delivered <- n
					return
				}
				n++
			}
		}()
		time.Sleep(time.Duration(i) * 50 * time.Microsecond)
		test.That(t, cam.Stop(context.Background()), test.ShouldBeNil)

		n := <-delivered
		test.That(t, cam.Stats().Acquired, test.ShouldEqual, n)
	}
}

func TestRestartResetsCounters(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipSkip)
	test.That(t, cam.Start(context.Background()), test.ShouldBeNil)
	driver.emit(0, 1, 2, 0)
	readN(t, cam, 4)
	firstSession := cam.Stats().SessionID
	test.That(t, cam.Stop(context.Background()), test.ShouldBeNil)

	startCamera(t, cam)
	test.That(t, cam.Stats().SessionID, test.ShouldNotEqual, firstSession)
	test.That(t, cam.SkipCount(), test.ShouldEqual, uint64(0))

	// The first event of the new session seeds the counter, whatever its value.
	driver.emit(500)
	frame := readN(t, cam, 1)[0]
	test.That(t, frame.LogicalIndex, test.ShouldEqual, uint64(1))
	test.That(t, frame.Kind, test.ShouldEqual, EventNormal)
}

func TestSetFrameskipBehaviorAppliesAtStart(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipSkip)
	test.That(t, cam.SetFrameskipBehavior("drop"), test.ShouldNotBeNil)

	test.That(t, cam.Start(context.Background()), test.ShouldBeNil)
	test.That(t, cam.SetFrameskipBehavior(FrameskipError), test.ShouldBeNil)
	test.That(t, cam.FrameskipBehavior(), test.ShouldEqual, FrameskipError)
	test.That(t, cam.Stats().FrameskipBehavior, test.ShouldEqual, FrameskipSkip)

	// The running session keeps skipping.
	driver.emit(0, 1, 0)
	frames := readN(t, cam, 3)
	test.That(t, frames[2].Kind, test.ShouldEqual, EventRestart)
	test.That(t, cam.Stop(context.Background()), test.ShouldBeNil)

	startCamera(t, cam)
	test.That(t, cam.Stats().FrameskipBehavior, test.ShouldEqual, FrameskipError)
	driver.emit(0, 1, 0)
	readN(t, cam, 2)
	_, err := cam.Read(context.Background(), testReadTimeout)
	test.That(t, errors.Is(err, ErrFrameTransfer), test.ShouldBeTrue)
}

func TestReadMultiple(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipSkip)
	startCamera(t, cam)

	_, err := cam.ReadMultiple(context.Background(), 0, testReadTimeout)
	test.That(t, err, test.ShouldNotBeNil)

	driver.emit(10, 11, 12, 13, 14)
	frames, err := cam.ReadMultiple(context.Background(), 3, testReadTimeout)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldHaveLength, 3)
	test.That(t, frames[2].LogicalIndex, test.ShouldEqual, uint64(3))

	// Fewer frames than asked for: returns what is there without waiting.
	frames, err = cam.ReadMultiple(context.Background(), 10, testReadTimeout)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldHaveLength, 2)
	test.That(t, frames[1].HWCounter, test.ShouldEqual, uint32(14))

	_, err = cam.ReadMultiple(context.Background(), 10, 10*time.Millisecond)
	test.That(t, errors.Is(err, ErrNoFramesAvailable), test.ShouldBeTrue)
}

func TestReadMultipleDefersTransferError(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipError)
	startCamera(t, cam)

	driver.emit(0, 1, 2, 0, 1)
	frames, err := cam.ReadMultiple(context.Background(), 5, testReadTimeout)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldHaveLength, 3)

	_, err = cam.Read(context.Background(), testReadTimeout)
	test.That(t, errors.Is(err, ErrFrameTransfer), test.ShouldBeTrue)

	frames, err = cam.ReadMultiple(context.Background(), 5, testReadTimeout)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frames, test.ShouldHaveLength, 1)
	test.That(t, frames[0].LogicalIndex, test.ShouldEqual, uint64(4))
}

func TestInvalidSlotStopsSession(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipSkip)
	test.That(t, cam.Start(context.Background()), test.ShouldBeNil)

	driver.emitSlot(99, 0)
	_, err := cam.Read(context.Background(), testReadTimeout)
	test.That(t, errors.Is(err, ErrInvalidSlot), test.ShouldBeTrue)
	test.That(t, IsRecoverable(err), test.ShouldBeFalse)
	test.That(t, cam.State(), test.ShouldEqual, StateStopped)
	test.That(t, driver.stops.Load(), test.ShouldEqual, int32(1))

	_, err = cam.Read(context.Background(), testReadTimeout)
	test.That(t, err, test.ShouldBeError, ErrAcquisitionStopped)
	test.That(t, cam.Stop(context.Background()), test.ShouldBeNil)
	test.That(t, driver.stops.Load(), test.ShouldEqual, int32(1))
}

func TestStartFailure(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipSkip)
	driver.startErr = errors.New("device busy")
	err := cam.Start(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "device busy")
	test.That(t, cam.State(), test.ShouldEqual, StateStopped)
}

func TestROI(t *testing.T) {
	cam, driver := newTestCamera(t, FrameskipSkip)

	roi, err := cam.SetBinning(context.Background(), 2, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, roi.H.Mode, test.ShouldEqual, ROIModeBinning)
	test.That(t, cam.GetROI(), test.ShouldResemble, roi)
	test.That(t, driver.roi, test.ShouldResemble, roi)

	roi, err = cam.SetSubsampling(context.Background(), 2, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, roi.H.Bin, test.ShouldEqual, 1)
	test.That(t, roi.H.Sub, test.ShouldEqual, 2)

	startCamera(t, cam)
	before := cam.GetROI()
	_, err = cam.SetROI(context.Background(), 0, 2, 0, 0)
	test.That(t, err, test.ShouldBeError, errROIWhileRunning)
	_, err = cam.SetBinning(context.Background(), 1, 2)
	test.That(t, err, test.ShouldBeError, errROIWhileRunning)
	test.That(t, cam.GetROI(), test.ShouldResemble, before)

	// A 4x2 sensor subsampled by 2 horizontally gives 2x2 frames.
	driver.emit(0)
	frame := readN(t, cam, 1)[0]
	test.That(t, frame.Data, test.ShouldHaveLength, 4)
}

func TestQueueOverflowIsSilentDrop(t *testing.T) {
	driver := &scriptedDriver{queue: NewEventQueue(2, nil)}
	cam, err := NewCamera("cam0", driver, Config{Width: 4, Height: 2, RingSize: 8}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	startCamera(t, cam)

	driver.emit(0, 1)
	driver.emit(2, 3)
	frames := readN(t, cam, 2)
	test.That(t, frames[1].HWCounter, test.ShouldEqual, uint32(1))

	driver.emit(4)
	frame := readN(t, cam, 1)[0]
	test.That(t, frame.Kind, test.ShouldEqual, EventSilentDrop)
	test.That(t, frame.LogicalIndex, test.ShouldEqual, uint64(3))

	stats := cam.Stats()
	test.That(t, stats.QueueOverflows, test.ShouldEqual, uint64(2))
	test.That(t, stats.DroppedFrames, test.ShouldEqual, uint64(2))
}
