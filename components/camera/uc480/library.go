// Package uc480 drives Thorlabs uc480 and IDS uEye cameras through the acquisition core.
//
// Both vendors ship the same driver family under different names. They differ in how a finished
// frame is announced: the Thorlabs build is polled for the last completed sequence buffer, the
// IDS build signals a frame event. A Variant records which one applies; Backend adapts either to
// an acquisition.Driver.
package uc480

import "context"

// ImageMemory is the frame ring a library captures into.
type ImageMemory interface {
	Len() int
	SlotSize() int
	// Buffers returns the slot memory in capture sequence order.
	Buffers() [][]byte
	// WriteSlot fills one slot; it fails while the slot is being read.
	WriteSlot(index int, fill func(buf []byte)) error
}

// Library is the part of the vendor driver the backend needs. Device lookup, library loading
// and exposure control happen before a Library is handed over.
type Library interface {
	// SetImageMemory registers mem as the capture sequence, replacing any previous one.
	SetImageMemory(ctx context.Context, mem ImageMemory) error
	// CaptureVideo starts continuous capture into the sequence.
	CaptureVideo(ctx context.Context) error
	// StopLiveVideo stops capture. No slot is written after it returns.
	StopLiveVideo(ctx context.Context) error
	// SetAOI sets the area of interest in sensor pixels.
	SetAOI(ctx context.Context, x, y, width, height int) error
	SetBinning(ctx context.Context, h, v int) error
	SetSubsampling(ctx context.Context, h, v int) error
}

// Poller is implemented by libraries that report finished frames when asked.
type Poller interface {
	// PollFrame returns the oldest finished frame not reported yet. ok is false if there is none.
	PollFrame() (slot int, counter uint32, ok bool, err error)
}

// FrameHandler is called by a Notifier once per finished frame, in capture order.
type FrameHandler func(slot int, counter uint32)

// Notifier is implemented by libraries that signal finished frames. The handler must not block.
type Notifier interface {
	SetFrameHandler(handler FrameHandler)
}
