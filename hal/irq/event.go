package irq

import "context"

// Event is a one-bit event register. Signal sets it (SEV); Wait blocks until
// it is set and clears it (WFE). Signals before a Wait coalesce into one wake.
type Event struct {
	ch chan struct{}
}

func NewEvent() *Event { return &Event{ch: make(chan struct{}, 1)} }

func (e *Event) Signal() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

func (e *Event) Wait() { <-e.ch }

// WaitContext is Wait bounded by ctx.
func (e *Event) WaitContext(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
