// Package fifo is a bounded single-producer, single-consumer byte FIFO with
// coalesced edge notifications. It models a peripheral's hardware FIFO.
package fifo

import "sync/atomic"

// FIFO holds up to a power-of-two number of bytes.
type FIFO struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	readable chan struct{} // empty -> non-empty edge
	writable chan struct{} // full -> non-full edge
}

// New returns a FIFO of size bytes. size must be a power of two >= 2.
func New(size int) *FIFO {
	if size < 2 || (size&(size-1)) != 0 {
		panic("fifo: size must be power of two >= 2")
	}
	return &FIFO{
		buf:      make([]byte, size),
		mask:     uint32(size - 1),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

// Len returns the number of queued bytes.
func (f *FIFO) Len() int { return int(f.wr.Load() - f.rd.Load()) }

// Space returns the number of free slots.
func (f *FIFO) Space() int { return len(f.buf) - f.Len() }

func (f *FIFO) Full() bool  { return f.Space() == 0 }
func (f *FIFO) Empty() bool { return f.Len() == 0 }

// Put appends b. It reports false, dropping b, when the FIFO is full.
func (f *FIFO) Put(b byte) bool {
	rd := f.rd.Load()
	wr := f.wr.Load()
	if wr-rd == uint32(len(f.buf)) {
		return false
	}
	f.buf[wr&f.mask] = b
	f.wr.Store(wr + 1) // release
	if wr == rd {
		notify(f.readable)
	}
	return true
}

// Get removes the oldest byte.
func (f *FIFO) Get() (byte, bool) {
	rd := f.rd.Load()
	wr := f.wr.Load() // acquire
	if wr == rd {
		return 0, false
	}
	b := f.buf[rd&f.mask]
	f.rd.Store(rd + 1) // release
	if wr-rd == uint32(len(f.buf)) {
		notify(f.writable)
	}
	return b, true
}

// Peek returns the oldest byte without removing it.
func (f *FIFO) Peek() (byte, bool) {
	rd := f.rd.Load()
	if f.wr.Load() == rd {
		return 0, false
	}
	return f.buf[rd&f.mask], true
}

func (f *FIFO) Readable() <-chan struct{} { return f.readable }
func (f *FIFO) Writable() <-chan struct{} { return f.writable }

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
