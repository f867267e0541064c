package acquisition

import "go.uber.org/atomic"

// State is the lifecycle state of a camera's acquisition.
type State int

const (
	// StateStopped means no acquisition session is active; reads fail with ErrAcquisitionStopped.
	StateStopped State = iota
	// StateRunning means frames are being captured and can be read.
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Stats is a snapshot of a camera's acquisition counters. After Stop it keeps describing the
// last session.
type Stats struct {
	SessionID         string
	State             State
	FrameskipBehavior FrameskipBehavior
	// Acquired is the number of frames delivered to the caller.
	Acquired uint64
	// SkipCount is the number of frames believed lost at counter restarts.
	SkipCount uint64
	// Restarts counts hardware counter restarts, whatever the behavior did with them.
	Restarts uint64
	// SilentDrops counts forward counter jumps; DroppedFrames sums their sizes.
	SilentDrops   uint64
	DroppedFrames uint64
	// TransferErrors counts reads failed by the error behavior.
	TransferErrors uint64
	// QueueOverflows counts events a callback driver could not enqueue.
	QueueOverflows uint64
}

// sessionStats are updated by the read path under the camera lock, next to reconciliation.
type sessionStats struct {
	acquired       atomic.Uint64
	skipCount      atomic.Uint64
	restarts       atomic.Uint64
	silentDrops    atomic.Uint64
	droppedFrames  atomic.Uint64
	transferErrors atomic.Uint64
}

func (s *sessionStats) record(out Outcome, err error) {
	switch out.Kind {
	case EventSilentDrop:
		s.silentDrops.Inc()
		s.droppedFrames.Add(uint64(out.Dropped))
	case EventRestart:
		s.restarts.Inc()
	case EventNormal:
	}
	if err != nil {
		s.transferErrors.Inc()
		return
	}
	s.acquired.Store(out.LogicalIndex)
	s.skipCount.Store(out.SkipCount)
}

func (s *sessionStats) snapshot() Stats {
	return Stats{
		Acquired:       s.acquired.Load(),
		SkipCount:      s.skipCount.Load(),
		Restarts:       s.restarts.Load(),
		SilentDrops:    s.silentDrops.Load(),
		DroppedFrames:  s.droppedFrames.Load(),
		TransferErrors: s.transferErrors.Load(),
	}
}

// overflowCounter is implemented by drivers that buffer events in an EventQueue.
type overflowCounter interface {
	Overflows() uint64
}
