package acquisition

import (
	"strings"

	"github.com/pkg/errors"
)

// FrameskipBehavior decides what happens to a frame whose hardware counter went backward.
type FrameskipBehavior string

const (
	// FrameskipIgnore accepts the frame as if nothing happened; frames lost at the restart are
	// indistinguishable from delivered ones downstream.
	FrameskipIgnore FrameskipBehavior = "ignore"
	// FrameskipSkip accepts the frame and adds the estimated number of lost frames to the skip count.
	FrameskipSkip FrameskipBehavior = "skip"
	// FrameskipError rejects the frame and fails the read with ErrFrameTransfer.
	FrameskipError FrameskipBehavior = "error"
)

// FrameskipBehaviors lists every supported behavior.
var FrameskipBehaviors = []FrameskipBehavior{FrameskipIgnore, FrameskipSkip, FrameskipError}

// ParseFrameskipBehavior parses a case-insensitive behavior name.
func ParseFrameskipBehavior(s string) (FrameskipBehavior, error) {
	b := FrameskipBehavior(strings.ToLower(strings.TrimSpace(s)))
	if err := b.Validate(); err != nil {
		return "", err
	}
	return b, nil
}

// Validate returns an error for unknown behaviors.
func (b FrameskipBehavior) Validate() error {
	switch b {
	case FrameskipIgnore, FrameskipSkip, FrameskipError:
		return nil
	}
	return errors.Errorf("unknown frameskip behavior %q (expected one of ignore, skip, error)", string(b))
}

// restartLossEstimate guesses how many frames were lost at a restart boundary. A counter that
// went backward to hw means the driver counted hw frames since its reset that never reached us.
// The result is never below 1.
func restartLossEstimate(hw, expected uint32) uint64 {
	if hw < expected && hw > 0 {
		return uint64(hw)
	}
	return 1
}

// applyRestart runs the configured behavior on a restart event. The counters are always rebased
// to the observed value so that one restart is reported once; the error behavior still refuses
// the frame itself.
func (b FrameskipBehavior) applyRestart(c *counters, hw uint32) (Outcome, error) {
	out := Outcome{Kind: EventRestart, HWCounter: hw}
	prevExpected := c.expected
	lost := restartLossEstimate(hw, prevExpected)
	c.expected = (hw + 1) & c.mask

	switch b {
	case FrameskipIgnore:
	case FrameskipSkip:
		c.skipped += lost
		out.SkipAdded = lost
	case FrameskipError:
		out.SkipCount = c.skipped
		out.LogicalIndex = c.acquired
		return out, errors.Wrapf(ErrFrameTransfer, "hardware counter %d, expected %d", hw, prevExpected)
	default:
		return out, b.Validate()
	}

	c.acquired++
	out.Accepted = true
	out.LogicalIndex = c.acquired
	out.SkipCount = c.skipped
	return out, nil
}
