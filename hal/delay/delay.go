// Package delay is a busy-wait delay derived from the core clock, the way
// the SysTick counter is used for fixed blocking delays.
package delay

import (
	"runtime"
	"time"

	"uartecho/x/timex"
)

// SysTick is the core timer. It is handed out with the core register group.
type SysTick struct{}

// Delay returns a delay source counting at sysHz.
func (s *SysTick) Delay(sysHz uint32) *Delay {
	return &Delay{hz: sysHz, yield: runtime.Gosched}
}

// Delay spins for a fixed number of core cycles. Between polls it yields so
// the interrupt dispatch goroutine keeps preempting it.
type Delay struct {
	hz    uint32
	yield func()
}

func (d *Delay) Hz() uint32 { return d.hz }

// DelayMs blocks for ms milliseconds worth of cycles.
func (d *Delay) DelayMs(ms uint32) {
	timex.Spin(timex.DurationOf(timex.CyclesFor(ms, d.hz), d.hz), d.yield)
}

// DelayFor blocks for dur, truncated to whole milliseconds.
func (d *Delay) DelayFor(dur time.Duration) {
	d.DelayMs(uint32(dur / time.Millisecond))
}
