// Package clock computes and validates the RP2040 clock tree: crystal
// oscillator, system and USB PLLs, and the clocks derived from them.
package clock

import (
	"uartecho/errcode"
	"uartecho/x/mathx"
)

const (
	MHz = 1_000_000

	minXOSC = 1 * MHz
	maxXOSC = 15 * MHz

	minVCO = 750 * MHz
	maxVCO = 1600 * MHz

	minPFDRef = 5 * MHz

	rtcDiv = 1024
)

// PLL holds one PLL's dividers: out = ref / RefDiv * FBDiv / (PostDiv1 * PostDiv2).
type PLL struct {
	RefDiv   uint32
	FBDiv    uint32
	PostDiv1 uint32
	PostDiv2 uint32
}

// VCO returns the oscillator frequency for a reference input.
func (p PLL) VCO(refHz uint32) uint64 {
	if p.RefDiv == 0 {
		return 0
	}
	return uint64(refHz) / uint64(p.RefDiv) * uint64(p.FBDiv)
}

// Output returns the post-divided frequency.
func (p PLL) Output(refHz uint32) uint32 {
	div := uint64(p.PostDiv1) * uint64(p.PostDiv2)
	if div == 0 {
		return 0
	}
	return uint32(p.VCO(refHz) / div)
}

// Validate checks the dividers against the PLL's operating limits.
func (p PLL) Validate(refHz uint32) error {
	switch {
	case !mathx.Between(p.RefDiv, 1, 63):
		return errcode.Wrap(errcode.ClockConfig, "pll", "refdiv outside 1..63", nil)
	case !mathx.Between(p.FBDiv, 16, 320):
		return errcode.Wrap(errcode.ClockConfig, "pll", "fbdiv outside 16..320", nil)
	case !mathx.Between(p.PostDiv1, 1, 7) || !mathx.Between(p.PostDiv2, 1, 7):
		return errcode.Wrap(errcode.ClockConfig, "pll", "postdiv outside 1..7", nil)
	case p.PostDiv1 < p.PostDiv2:
		return errcode.Wrap(errcode.ClockConfig, "pll", "postdiv1 below postdiv2", nil)
	case refHz/p.RefDiv < minPFDRef:
		return errcode.Wrap(errcode.ClockConfig, "pll", "reference below 5 MHz after refdiv", nil)
	}
	if v := p.VCO(refHz); !mathx.Between(v, minVCO, maxVCO) {
		return errcode.Wrap(errcode.ClockConfig, "pll", "vco outside 750..1600 MHz", nil)
	}
	return nil
}

// Config is the requested clock tree.
type Config struct {
	XOSCHz uint32
	Sys    PLL
	USB    PLL
}

// Default returns the standard Pico tree: 125 MHz system, 48 MHz USB.
func Default(xoscHz uint32) Config {
	return Config{
		XOSCHz: xoscHz,
		Sys:    PLL{RefDiv: 1, FBDiv: 125, PostDiv1: 6, PostDiv2: 2},
		USB:    PLL{RefDiv: 1, FBDiv: 100, PostDiv1: 5, PostDiv2: 5},
	}
}

// Frequencies are the resulting clock rates in Hz.
type Frequencies struct {
	XOSC       uint32
	Ref        uint32
	System     uint32
	Peripheral uint32
	USB        uint32
	ADC        uint32
	RTC        uint32
}

// Compute validates cfg and derives every clock from it.
func Compute(cfg Config) (Frequencies, error) {
	if !mathx.Between(cfg.XOSCHz, minXOSC, maxXOSC) {
		return Frequencies{}, errcode.Wrap(errcode.ClockConfig, "xosc", "crystal outside 1..15 MHz", nil)
	}
	if err := cfg.Sys.Validate(cfg.XOSCHz); err != nil {
		return Frequencies{}, errcode.Wrap(errcode.ClockConfig, "pll_sys", err.Error(), err)
	}
	if err := cfg.USB.Validate(cfg.XOSCHz); err != nil {
		return Frequencies{}, errcode.Wrap(errcode.ClockConfig, "pll_usb", err.Error(), err)
	}
	sys := cfg.Sys.Output(cfg.XOSCHz)
	usb := cfg.USB.Output(cfg.XOSCHz)
	return Frequencies{
		XOSC:       cfg.XOSCHz,
		Ref:        cfg.XOSCHz,
		System:     sys,
		Peripheral: sys,
		USB:        usb,
		ADC:        usb,
		RTC:        usb / rtcDiv,
	}, nil
}

// Watchdog supplies the 1 µs tick that the timer and clock start-up rely on.
type Watchdog interface {
	StartTick(refHz uint32) error
}

// Controller programs the oscillator, PLLs and clock muxes, and reports
// errcode.ClockUnstable if anything fails to lock.
type Controller interface {
	Apply(cfg Config, f Frequencies) error
}

// Init starts the watchdog tick, computes the tree and applies it.
func Init(cfg Config, wd Watchdog, ctl Controller) (Frequencies, error) {
	f, err := Compute(cfg)
	if err != nil {
		return Frequencies{}, err
	}
	if err := wd.StartTick(cfg.XOSCHz); err != nil {
		return Frequencies{}, errcode.Wrap(errcode.ClockConfig, "watchdog", "tick", err)
	}
	if err := ctl.Apply(cfg, f); err != nil {
		if errcode.Of(err) == errcode.Error {
			return Frequencies{}, errcode.Wrap(errcode.ClockUnstable, "clock.Init", "apply", err)
		}
		return Frequencies{}, err
	}
	return f, nil
}
