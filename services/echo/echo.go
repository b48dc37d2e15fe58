// Package echo is the firmware: an interrupt-driven UART echo with an
// activity LED.
package echo

import (
	"context"
	"time"

	"uartecho/hal"
	"uartecho/hal/critical"
	"uartecho/hal/irq"
)

// Transform maps a received byte to the byte sent back.
func Transform(b byte) byte { return b + 1 }

// Receiver is the UART receive interrupt handler.
type Receiver struct {
	port *critical.Cell[hal.UARTPort]
	ev   *irq.Event
}

func NewReceiver(port *critical.Cell[hal.UARTPort], ev *irq.Event) *Receiver {
	return &Receiver{port: port, ev: ev}
}

// HandleIRQ drains the receive FIFO, answering each byte, then wakes the
// main flow. Before the port is published it only signals.
func (r *Receiver) HandleIRQ() {
	r.port.Access(func(p *hal.UARTPort) {
		u := *p
		for {
			b, err := u.ReadByte()
			if err != nil {
				return
			}
			_ = u.WriteByte(Transform(b))
		}
	})
	r.ev.Signal()
}

// Delayer blocks for a number of milliseconds.
type Delayer interface {
	DelayMs(ms uint32)
}

// Indicator pulses the LED once per wake of the main flow.
type Indicator struct {
	pin   hal.OutputPin
	delay Delayer
	ev    *irq.Event
	pulse uint32
}

func NewIndicator(pin hal.OutputPin, d Delayer, ev *irq.Event, pulse time.Duration) *Indicator {
	return &Indicator{pin: pin, delay: d, ev: ev, pulse: uint32(pulse / time.Millisecond)}
}

// Run waits for an event, then drives the pin high for the pulse length and
// low again. It returns only when ctx ends.
func (in *Indicator) Run(ctx context.Context) error {
	for {
		if err := in.ev.WaitContext(ctx); err != nil {
			return err
		}
		in.pin.High()
		in.delay.DelayMs(in.pulse)
		in.pin.Low()
	}
}
