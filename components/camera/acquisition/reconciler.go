package acquisition

import "github.com/pkg/errors"

// EventKind classifies a reconciled event.
type EventKind int

const (
	// EventNormal is a frame carrying exactly the expected hardware counter.
	EventNormal EventKind = iota
	// EventSilentDrop is a frame whose counter jumped forward by less than the plausible gap
	// ceiling. The skipped frames left no event of their own and are not recoverable.
	EventSilentDrop
	// EventRestart is a frame whose counter went backward (or jumped implausibly far), meaning
	// the driver restarted its frame counting.
	EventRestart
)

func (k EventKind) String() string {
	switch k {
	case EventNormal:
		return "normal"
	case EventSilentDrop:
		return "silent_drop"
	case EventRestart:
		return "restart"
	}
	return "unknown"
}

// Outcome is the result of reconciling one hardware event.
type Outcome struct {
	Kind      EventKind
	HWCounter uint32
	// Accepted is false only when the error behavior rejected a restart.
	Accepted bool
	// LogicalIndex is the acquired count after this event; for a rejected frame it is the
	// index of the last accepted frame.
	LogicalIndex uint64
	// Dropped is the number of frames inferred lost by a silent drop.
	Dropped uint32
	// SkipAdded is how much this event added to the skip count.
	SkipAdded uint64
	// SkipCount is the cumulative skip count at delivery.
	SkipCount uint64
}

type counters struct {
	mask     uint32
	seeded   bool
	expected uint32
	acquired uint64
	skipped  uint64
}

// Reconciler maps hardware frame counters onto a gap-free logical frame index. It is not safe
// for concurrent use; the owner serializes calls to Reconcile.
type Reconciler struct {
	c        counters
	ceiling  uint32
	behavior FrameskipBehavior
}

// NewReconciler returns a reconciler for a counterBits wide hardware counter. Forward jumps of
// less than gapCeiling frames are treated as silent drops; anything else that is not the
// expected counter is a restart handled by behavior.
func NewReconciler(counterBits int, gapCeiling uint32, behavior FrameskipBehavior) (*Reconciler, error) {
	if counterBits < minCounterBits || counterBits > maxCounterBits {
		return nil, errors.Errorf("counter bits must be in [%d, %d], got %d", minCounterBits, maxCounterBits, counterBits)
	}
	if gapCeiling == 0 || uint64(gapCeiling) >= uint64(1)<<(counterBits-1) {
		return nil, errors.Errorf("plausible gap ceiling must be in [1, 2^%d), got %d", counterBits-1, gapCeiling)
	}
	if err := behavior.Validate(); err != nil {
		return nil, err
	}
	mask := uint32((uint64(1) << counterBits) - 1)
	return &Reconciler{c: counters{mask: mask}, ceiling: gapCeiling, behavior: behavior}, nil
}

// Reconcile classifies hw and updates the counters. It returns an error wrapping
// ErrFrameTransfer when the error behavior rejects a restart; the outcome is still filled in.
func (r *Reconciler) Reconcile(hw uint32) (Outcome, error) {
	c := &r.c
	hw &= c.mask

	// The counter starts at a driver-defined value, so the first event defines the baseline.
	if !c.seeded {
		c.seeded = true
		c.expected = hw
	}

	delta := (hw - c.expected) & c.mask
	switch {
	case delta == 0:
		return r.accept(EventNormal, hw, 0), nil
	case delta < r.ceiling:
		return r.accept(EventSilentDrop, hw, delta), nil
	default:
		return r.behavior.applyRestart(c, hw)
	}
}

func (r *Reconciler) accept(kind EventKind, hw, dropped uint32) Outcome {
	c := &r.c
	c.expected = (hw + 1) & c.mask
	c.acquired++
	return Outcome{
		Kind:         kind,
		HWCounter:    hw,
		Accepted:     true,
		LogicalIndex: c.acquired,
		Dropped:      dropped,
		SkipCount:    c.skipped,
	}
}

// Expected returns the hardware counter the next normal frame will carry.
func (r *Reconciler) Expected() uint32 {
	return r.c.expected
}

// Acquired returns the number of frames accepted so far.
func (r *Reconciler) Acquired() uint64 {
	return r.c.acquired
}

// SkipCount returns the number of frames believed lost at restarts.
func (r *Reconciler) SkipCount() uint64 {
	return r.c.skipped
}

// Behavior returns the frameskip behavior this reconciler was built with.
func (r *Reconciler) Behavior() FrameskipBehavior {
	return r.behavior
}
