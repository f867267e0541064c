package acquisition

import (
	"sync"

	"github.com/pkg/errors"
)

// RingPool is a fixed set of equal-sized frame slots allocated when acquisition starts. The
// driver writes frames into slot memory; the reader borrows a slot through a SlotHandle between
// reconciliation and delivery.
type RingPool struct {
	mu       sync.Mutex
	slots    [][]byte
	held     []bool
	slotSize int
}

// SlotHandle is a live borrow of one slot. It must be released exactly once.
type SlotHandle struct {
	pool  *RingPool
	index int
}

// NewRingPool allocates n slots of slotSize bytes each.
func NewRingPool(n, slotSize int) (*RingPool, error) {
	if n <= 0 {
		return nil, errors.Errorf("ring size must be positive, got %d", n)
	}
	if slotSize <= 0 {
		return nil, errors.Errorf("slot size must be positive, got %d", slotSize)
	}
	backing := make([]byte, n*slotSize)
	slots := make([][]byte, n)
	for i := range slots {
		slots[i] = backing[i*slotSize : (i+1)*slotSize : (i+1)*slotSize]
	}
	return &RingPool{slots: slots, held: make([]bool, n), slotSize: slotSize}, nil
}

// Len returns the number of slots, or 0 for a nil or freed pool.
func (p *RingPool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// SlotSize returns the capacity of each slot in bytes.
func (p *RingPool) SlotSize() int {
	return p.slotSize
}

// Buffers returns the slot memory in index order so a driver can register it as its capture sequence.
func (p *RingPool) Buffers() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.slots...)
}

// Held reports whether slot index currently has a live handle. Drivers must not write into a held slot.
func (p *RingPool) Held(index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return index >= 0 && index < len(p.held) && p.held[index]
}

// Acquire borrows slot index.
func (p *RingPool) Acquire(index int) (*SlotHandle, error) {
	if p == nil {
		return nil, errors.Wrap(ErrInvalidSlot, "frame buffer pool is not allocated")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.slots == nil {
		return nil, errors.Wrap(ErrInvalidSlot, "frame buffer pool is not allocated")
	}
	if index < 0 || index >= len(p.slots) {
		return nil, errors.Wrapf(ErrInvalidSlot, "slot %d out of range [0, %d)", index, len(p.slots))
	}
	if p.held[index] {
		return nil, errors.Wrapf(ErrInvalidSlot, "slot %d already has a live handle", index)
	}
	p.held[index] = true
	return &SlotHandle{pool: p, index: index}, nil
}

// WriteSlot lets a driver fill slot index. The slot is skipped with ErrInvalidSlot while a reader
// holds it, so a frame is never overwritten mid copy.
func (p *RingPool) WriteSlot(index int, fill func(buf []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slots == nil {
		return errors.Wrap(ErrInvalidSlot, "frame buffer pool is not allocated")
	}
	if index < 0 || index >= len(p.slots) {
		return errors.Wrapf(ErrInvalidSlot, "slot %d out of range [0, %d)", index, len(p.slots))
	}
	if p.held[index] {
		return errors.Wrapf(ErrInvalidSlot, "slot %d is being read", index)
	}
	fill(p.slots[index])
	return nil
}

// Free drops the slot memory. Outstanding handles become invalid.
func (p *RingPool) Free() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots = nil
	p.held = nil
}

// Index returns the slot index this handle refers to.
func (h *SlotHandle) Index() int {
	return h.index
}

// Bytes returns the slot memory. It is only valid until Release.
func (h *SlotHandle) Bytes() []byte {
	p := h.pool
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.slots == nil {
		return nil
	}
	return p.slots[h.index]
}

// Release returns the slot to the driver. Releasing twice is an error.
func (h *SlotHandle) Release() error {
	if h.pool == nil {
		return errors.Wrap(ErrInvalidSlot, "slot handle already released")
	}
	p := h.pool
	h.pool = nil

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held == nil {
		// pool freed underneath us; nothing to return the slot to
		return nil
	}
	p.held[h.index] = false
	return nil
}
