package camera

import (
	"sync"

	"visionpharma/internal/model"
)

// FrameBuffer holds the most recently published frame.
//
// A published frame is never mutated afterwards, so the lock only guards the
// pointer swap; copies are made outside the critical section.
type FrameBuffer struct {
	mu    sync.RWMutex
	frame *model.Frame
}

// NewFrameBuffer returns an empty buffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Publish replaces the held frame with a private copy of f.
func (b *FrameBuffer) Publish(f model.Frame) error {
	if !f.Complete() {
		return ErrIncompleteFrame
	}
	c := f.Clone()

	b.mu.Lock()
	b.frame = &c
	b.mu.Unlock()
	return nil
}

// Read returns a caller-owned copy of the latest frame, or false when no
// frame has been published yet.
func (b *FrameBuffer) Read() (model.Frame, bool) {
	b.mu.RLock()
	f := b.frame
	b.mu.RUnlock()

	if f == nil {
		return model.Frame{}, false
	}
	return f.Clone(), true
}

// Seq returns the sequence number of the held frame without copying it.
func (b *FrameBuffer) Seq() (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.frame == nil {
		return 0, false
	}
	return b.frame.Seq, true
}
