// Package critical provides the critical section shared by main flow and
// interrupt context, and a single-slot cell whose every access happens
// inside it.
//
// There is one global section, as with disabling interrupts on a single
// core. Sections do not nest.
package critical

import "sync"

var section sync.Mutex

// With runs fn inside the critical section.
func With(fn func()) {
	section.Lock()
	defer section.Unlock()
	fn()
}

// Cell holds an optional value of type T. The zero Cell is empty.
type Cell[T any] struct {
	v   T
	set bool
}

// Put publishes v, replacing any previous value, and returns what was there.
func (c *Cell[T]) Put(v T) (old T, had bool) {
	With(func() {
		old, had = c.v, c.set
		c.v, c.set = v, true
	})
	return old, had
}

// Access runs fn on the held value inside the critical section. It reports
// false, without calling fn, when the cell is empty.
func (c *Cell[T]) Access(fn func(v *T)) bool {
	ran := false
	With(func() {
		if !c.set {
			return
		}
		ran = true
		fn(&c.v)
	})
	return ran
}

func (c *Cell[T]) Populated() bool {
	var ok bool
	With(func() { ok = c.set })
	return ok
}
