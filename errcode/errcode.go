package errcode

// Code is a stable error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Bring-up (fatal).
	PeripheralTaken Code = "peripheral_taken"
	ClockConfig     Code = "clock_config"
	ClockUnstable   Code = "clock_unstable"
	InvalidPin      Code = "invalid_pin"
	PinInUse        Code = "pin_in_use"
	InvalidFormat   Code = "invalid_format"
	BaudUnreachable Code = "baud_unreachable"

	// Steady state (swallowed by the receive path).
	RxEmpty   Code = "rx_empty"
	RxFraming Code = "rx_framing"
	RxParity  Code = "rx_parity"
	RxOverrun Code = "rx_overrun"
	TxFull    Code = "tx_full"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.X) match a wrapped code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap builds an *E for op with code c and an optional cause.
func Wrap(c Code, op, msg string, cause error) *E {
	return &E{C: c, Op: op, Msg: msg, Err: cause}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
