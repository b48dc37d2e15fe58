// Package periph models register groups that may be claimed once per run.
package periph

import (
	"sync/atomic"

	"uartecho/errcode"
)

// Singleton is a claimed/unclaimed flag with a checked acquire.
type Singleton struct {
	Name  string
	taken atomic.Bool
}

// Take claims the singleton. The first call succeeds; every later call
// returns errcode.PeripheralTaken.
func (s *Singleton) Take() error {
	if !s.taken.CompareAndSwap(false, true) {
		return errcode.Wrap(errcode.PeripheralTaken, "periph.Take", s.Name, nil)
	}
	return nil
}

func (s *Singleton) Taken() bool { return s.taken.Load() }
