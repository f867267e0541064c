package acquisition

import "github.com/pkg/errors"

var (
	// ErrInvalidSlot is returned when a slot index is out of range, the pool is not allocated, or
	// the slot already has a live handle. It indicates a driver contract violation and is fatal
	// to the acquisition session.
	ErrInvalidSlot = errors.New("invalid frame buffer slot")

	// ErrAcquisitionTimeout is returned by an EventSource when no buffer-ready event arrived in time.
	ErrAcquisitionTimeout = errors.New("timed out waiting for a buffer-ready event")

	// ErrNoFramesAvailable is returned by reads that timed out before any frame was reconciled.
	ErrNoFramesAvailable = errors.New("no frames available")

	// ErrFrameTransfer is returned by reads when the error frameskip behavior rejects a restart event.
	ErrFrameTransfer = errors.New("frame transfer error: hardware frame counter restarted")

	// ErrAcquisitionStopped is returned by every read on a stopped acquisition.
	ErrAcquisitionStopped = errors.New("acquisition is stopped")

	errAlreadyRunning = errors.New("acquisition is already running")
)

// IsRecoverable reports whether err leaves the session usable, i.e. the caller may simply read again.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrAcquisitionTimeout) ||
		errors.Is(err, ErrNoFramesAvailable) ||
		errors.Is(err, ErrFrameTransfer)
}
