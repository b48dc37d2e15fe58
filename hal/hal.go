// Package hal defines the peripheral contracts the firmware is written
// against. Platforms (RP2 hardware, host simulator) implement them.
package hal

import (
	"tinygo.org/x/drivers"

	"uartecho/hal/clock"
	"uartecho/hal/delay"
	"uartecho/hal/irq"
	"uartecho/types"
)

// ---------------- UART ----------------

// UARTPort is an enabled UART.
//
// ReadByte and WriteByte never block. ReadByte fails with errcode.RxEmpty
// when nothing is waiting, or with a line error (framing, parity, overrun)
// for a byte that arrived damaged. WriteByte fails with errcode.TxFull when
// the transmit FIFO has no space.
//
// The embedded drivers.UART is the buffered stream view of the same port.
type UARTPort interface {
	drivers.UART

	ReadByte() (byte, error)
	WriteByte(b byte) error
	WriteFullBlocking(p []byte)

	EnableRxInterrupt()
	DisableRxInterrupt()
}

// UARTDevice is a UART instance that is not yet enabled.
type UARTDevice interface {
	Enable(cfg types.UARTConfig, periHz uint32) (UARTPort, error)
}

// ---------------- GPIO ----------------

// OutputPin is a push-pull digital output.
type OutputPin interface {
	High()
	Low()
}

// PinBank is the GPIO bank controller.
type PinBank interface {
	// UART muxes tx and rx to the UART function with no pull resistor.
	UART(tx, rx int) error
	// Output configures n as a push-pull output driven low.
	Output(n int) (OutputPin, error)
}

// ---------------- Interrupts ----------------

type InterruptController interface {
	Register(n irq.IRQ, h func())
	Unmask(n irq.IRQ)
	Mask(n irq.IRQ)
}

// ---------------- Register groups ----------------

// Chip is the chip-specific peripheral group.
type Chip struct {
	Watchdog clock.Watchdog
	Clocks   clock.Controller
	Pins     PinBank
	UART0    UARTDevice
}

// Core is the processor core peripheral group.
type Core struct {
	SysTick *delay.SysTick
	NVIC    InterruptController
	Event   *irq.Event
}

// Platform hands out each register group once per run. A second Take
// fails with errcode.PeripheralTaken.
type Platform interface {
	TakeChip() (*Chip, error)
	TakeCore() (*Core, error)
}
