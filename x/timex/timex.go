package timex

import (
	"time"

	"uartecho/x/mathx"
)

// CyclesFor returns the number of core cycles in ms milliseconds at hz.
func CyclesFor(ms uint32, hz uint32) uint64 {
	return uint64(ms) * uint64(hz) / 1000
}

// DurationOf converts a cycle count at hz to wall time, rounding any
// fraction of a nanosecond up. hz==0 is coerced to 1 to avoid division by zero.
func DurationOf(cycles uint64, hz uint32) time.Duration {
	if hz == 0 {
		hz = 1
	}
	secs := cycles / uint64(hz)
	rem := cycles % uint64(hz)
	return time.Duration(secs)*time.Second + time.Duration(mathx.CeilDiv(rem*uint64(time.Second), uint64(hz)))
}

// Spin busy-waits for d. yield, when non-nil, is called between polls so
// that other goroutines on a cooperative scheduler keep running.
func Spin(d time.Duration, yield func()) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if yield != nil {
			yield()
		}
	}
}
