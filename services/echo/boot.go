package echo

import (
	"context"

	"uartecho/boards"
	"uartecho/errcode"
	"uartecho/hal"
	"uartecho/hal/clock"
	"uartecho/hal/critical"
	"uartecho/hal/irq"
)

// System is a booted firmware instance.
type System struct {
	Port      *critical.Cell[hal.UARTPort]
	Receiver  *Receiver
	Indicator *Indicator
	Clocks    clock.Frequencies
}

// Boot brings the board up in a fixed order and returns the first fatal
// error. The receive line is live before the port is published; the handler
// ignores interrupts until then.
func Boot(p hal.Platform, b boards.Board) (*System, error) {
	chip, err := p.TakeChip()
	if err != nil {
		return nil, err
	}
	core, err := p.TakeCore()
	if err != nil {
		return nil, err
	}

	f, err := clock.Init(clock.Default(b.XOSCHz), chip.Watchdog, chip.Clocks)
	if err != nil {
		return nil, err
	}
	println("[echo] clocks: sys", f.System, "peri", f.Peripheral)
	d := core.SysTick.Delay(f.System)

	if err := chip.Pins.UART(b.UART0TX, b.UART0RX); err != nil {
		return nil, err
	}
	port, err := chip.UART0.Enable(b.Serial, f.Peripheral)
	if err != nil {
		return nil, err
	}
	println("[echo] uart0:", b.Serial.Baud, b.Serial.Frame(), "tx", b.UART0TX, "rx", b.UART0RX)

	sys := &System{Port: &critical.Cell[hal.UARTPort]{}, Clocks: f}
	sys.Receiver = NewReceiver(sys.Port, core.Event)
	core.NVIC.Register(irq.UART0, sys.Receiver.HandleIRQ)
	core.NVIC.Unmask(irq.UART0)
	port.EnableRxInterrupt()

	port.WriteFullBlocking([]byte(b.Banner))
	sys.Port.Put(port)

	led, err := chip.Pins.Output(b.LED)
	if err != nil {
		return nil, err
	}
	sys.Indicator = NewIndicator(led, d, core.Event, b.Pulse)
	println("[echo] ready")
	return sys, nil
}

// Run boots and then services the indicator until ctx ends. A boot failure
// halts.
func Run(ctx context.Context, p hal.Platform, b boards.Board) {
	sys, err := Boot(p, b)
	if err != nil {
		halt(err)
		return
	}
	_ = sys.Indicator.Run(ctx)
}

var halt = Halt

// Halt reports a fatal error and parks the caller forever.
func Halt(err error) {
	println("[echo] fatal:", string(errcode.Of(err)), err.Error())
	select {}
}
