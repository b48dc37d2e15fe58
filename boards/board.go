package boards

import (
	"time"

	"uartecho/types"
)

// Board describes what the PCB/SoC can do and how this firmware wires it.
// All values are fixed at build time; there is no runtime configuration.
type Board struct {
	Name             string
	GPIOMin, GPIOMax int

	// Crystal oscillator frequency feeding both PLLs.
	XOSCHz uint32

	UART0TX, UART0RX int
	LED              int // active high

	Serial types.UARTConfig
	Banner string

	// Indicator pulse width per wake.
	Pulse time.Duration
}

// Pico is the Raspberry Pi Pico: RP2040, 12 MHz crystal, onboard LED on GP25.
var Pico = Board{
	Name:    "pico",
	GPIOMin: 0,
	GPIOMax: 28,
	XOSCHz:  12_000_000,

	UART0TX: 0,
	UART0RX: 1,
	LED:     25,

	Serial: types.UARTConfig{
		Baud:     9600,
		DataBits: 8,
		Parity:   types.ParityNone,
		StopBits: 1,
	},
	Banner: "uartecho: irq echo started\n",
	Pulse:  100 * time.Millisecond,
}

// ValidPin reports whether n is a user GPIO on this board.
func (b Board) ValidPin(n int) bool { return n >= b.GPIOMin && n <= b.GPIOMax }
