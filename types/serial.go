package types

import "uartecho/errcode"

// ------------------------
// Serial
// ------------------------

type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "none"
	}
}

// UARTConfig is the line configuration handed to a UART when it is enabled.
type UARTConfig struct {
	Baud     uint32
	DataBits uint8
	Parity   Parity
	StopBits uint8
}

// Validate checks the record against what a PL011 can frame.
func (c UARTConfig) Validate() error {
	switch {
	case c.Baud == 0:
		return errcode.Wrap(errcode.InvalidFormat, "uart", "baud is zero", nil)
	case c.DataBits < 5 || c.DataBits > 8:
		return errcode.Wrap(errcode.InvalidFormat, "uart", "data bits outside 5..8", nil)
	case c.StopBits != 1 && c.StopBits != 2:
		return errcode.Wrap(errcode.InvalidFormat, "uart", "stop bits not 1 or 2", nil)
	case c.Parity > ParityOdd:
		return errcode.Wrap(errcode.InvalidFormat, "uart", "unknown parity", nil)
	}
	return nil
}

// Frame returns the conventional short form, e.g. "8N1".
func (c UARTConfig) Frame() string {
	p := byte('N')
	switch c.Parity {
	case ParityEven:
		p = 'E'
	case ParityOdd:
		p = 'O'
	}
	return string([]byte{'0' + c.DataBits, p, '0' + c.StopBits})
}
