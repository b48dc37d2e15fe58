// Package pl011 holds the register arithmetic for the ARM PL011 UART used on
// RP2040/RP2350. It has no hardware access and is shared by all platforms.
package pl011

import (
	"uartecho/errcode"
	"uartecho/types"
	"uartecho/x/mathx"
)

// UARTLCR_H fields.
const (
	LCR_H_PEN      = 1 << 1
	LCR_H_EPS      = 1 << 2
	LCR_H_STP2     = 1 << 3
	LCR_H_FEN      = 1 << 4
	LCR_H_WLEN_Pos = 5
)

// FIFODepth is the depth of each of the RX and TX FIFOs.
const FIFODepth = 32

// Divisors returns the integer and fractional baud divisors for clkHz and
// the baud rate they actually produce. A baud rate whose integer divisor
// falls outside 1..65534 cannot be generated and returns BaudUnreachable.
func Divisors(clkHz, baud uint32) (ibrd, fbrd, actual uint32, err error) {
	if baud == 0 || clkHz == 0 {
		return 0, 0, 0, errcode.Wrap(errcode.BaudUnreachable, "pl011.Divisors", "zero clock or baud", nil)
	}
	div := 8 * uint64(clkHz) / uint64(baud)
	ib := div >> 7
	if !mathx.Between(ib, 1, 65534) {
		return 0, 0, 0, errcode.Wrap(errcode.BaudUnreachable, "pl011.Divisors", "integer divisor outside 1..65534", nil)
	}
	fb := ((div & 0x7f) + 1) / 2
	act := mathx.RoundDiv(4*uint64(clkHz), 64*ib+fb)
	return uint32(ib), uint32(fb), uint32(act), nil
}

// LineControl returns the UARTLCR_H word for cfg with FIFOs enabled.
func LineControl(cfg types.UARTConfig) (uint32, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	v := uint32(cfg.DataBits-5)<<LCR_H_WLEN_Pos | LCR_H_FEN
	if cfg.StopBits == 2 {
		v |= LCR_H_STP2
	}
	switch cfg.Parity {
	case types.ParityEven:
		v |= LCR_H_PEN | LCR_H_EPS
	case types.ParityOdd:
		v |= LCR_H_PEN
	}
	return v, nil
}
