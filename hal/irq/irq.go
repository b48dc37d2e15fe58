// Package irq models the interrupt controller and the processor event
// register. Handlers run on a single dispatch goroutine, which stands in for
// interrupt context: each handler runs to completion and is never re-entered.
package irq

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// IRQ is an interrupt line number.
type IRQ uint8

// RP2040 lines used here.
const (
	UART0 IRQ = 20

	numIRQ = 32
)

// Controller holds per-line enable and pending bits.
// A pending line is delivered only while it is unmasked.
type Controller struct {
	mu       sync.Mutex
	handlers [numIRQ]func()
	levels   [numIRQ]func() bool
	enabled  uint32
	pending  uint32

	kick     chan struct{}
	running  atomic.Bool
	serviced atomic.Uint32
}

func NewController() *Controller {
	return &Controller{kick: make(chan struct{}, 1)}
}

// Register installs h for line n. It does not unmask the line.
func (c *Controller) Register(n IRQ, h func()) {
	if n >= numIRQ {
		return
	}
	c.mu.Lock()
	c.handlers[n] = h
	c.mu.Unlock()
}

// SetLevel makes line n level-sensitive: after each handler run the line is
// pended again for as long as asserted reports true.
func (c *Controller) SetLevel(n IRQ, asserted func() bool) {
	if n >= numIRQ {
		return
	}
	c.mu.Lock()
	c.levels[n] = asserted
	c.mu.Unlock()
}

// Unmask enables delivery of line n. A line that was pended while masked
// is delivered now.
func (c *Controller) Unmask(n IRQ) {
	if n >= numIRQ {
		return
	}
	c.mu.Lock()
	c.enabled |= 1 << n
	ready := c.pending&(1<<n) != 0
	c.mu.Unlock()
	if ready {
		c.wake()
	}
}

// Mask disables delivery of line n; pending state is kept.
func (c *Controller) Mask(n IRQ) {
	if n >= numIRQ {
		return
	}
	c.mu.Lock()
	c.enabled &^= 1 << n
	c.mu.Unlock()
}

func (c *Controller) Enabled(n IRQ) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return n < numIRQ && c.enabled&(1<<n) != 0
}

func (c *Controller) Pending(n IRQ) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return n < numIRQ && c.pending&(1<<n) != 0
}

// Pend asserts line n. Safe to call from any goroutine, including a
// hardware ISR: it never blocks.
func (c *Controller) Pend(n IRQ) {
	if n >= numIRQ {
		return
	}
	c.mu.Lock()
	c.pending |= 1 << n
	ready := c.enabled&(1<<n) != 0
	c.mu.Unlock()
	if ready {
		c.wake()
	}
}

// Serviced returns the number of handler invocations so far.
func (c *Controller) Serviced() uint32 { return c.serviced.Load() }

// Run is the interrupt context. It returns when ctx is done.
// Only the first concurrent call dispatches; others return immediately.
func (c *Controller) Run(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	defer c.running.Store(false)
	for {
		c.dispatch()
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
		}
	}
}

// dispatch services ready lines lowest number first until none remain or a
// level-sensitive line is re-asserted.
func (c *Controller) dispatch() {
	for {
		c.mu.Lock()
		ready := c.pending & c.enabled
		if ready == 0 {
			c.mu.Unlock()
			return
		}
		var n IRQ
		for ready&(1<<n) == 0 {
			n++
		}
		c.pending &^= 1 << n
		h, level := c.handlers[n], c.levels[n]
		c.mu.Unlock()

		if h != nil {
			h()
		}
		c.serviced.Add(1)

		if level != nil && level() {
			// Still asserted. Go back through Run so ctx is seen and the
			// main flow gets a turn before the next entry.
			c.mu.Lock()
			c.pending |= 1 << n
			c.mu.Unlock()
			c.wake()
			runtime.Gosched()
			return
		}
	}
}

func (c *Controller) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}
