// hal/platform/platform_rp2.go
//go:build rp2040

package platform

import (
	"context"
	"device/arm"
	"device/rp"
	"machine"
	"sync"
	"time"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"uartecho/errcode"
	"uartecho/hal"
	"uartecho/hal/clock"
	"uartecho/hal/delay"
	"uartecho/hal/irq"
	"uartecho/hal/periph"
	"uartecho/hal/pl011"
	"uartecho/types"
)

// -----------------------------------------------------------------------------
// Raspberry Pi Pico (RP2040)
// -----------------------------------------------------------------------------

const (
	gpioMax     = 28
	lockTimeout = 10 * time.Millisecond
)

type rp2Platform struct {
	chip, core periph.Singleton
	nvic       *rp2NVIC
}

var rp2 = &rp2Platform{
	chip: periph.Singleton{Name: "chip"},
	core: periph.Singleton{Name: "core"},
	nvic: &rp2NVIC{Controller: irq.NewController()},
}

// Default returns the RP2040 platform.
func Default() hal.Platform { return rp2 }

func (p *rp2Platform) TakeChip() (*hal.Chip, error) {
	if err := p.chip.Take(); err != nil {
		return nil, err
	}
	pins := &rp2Pins{modes: map[int]uint8{}, uartTX: machine.NoPin, uartRX: machine.NoPin}
	return &hal.Chip{
		Watchdog: rp2Watchdog{},
		Clocks:   rp2Clocks{},
		Pins:     pins,
		UART0:    &rp2UART{dev: uartx.UART0, nvic: p.nvic, line: irq.UART0, pins: pins},
	}, nil
}

// TakeCore claims the core group. The dispatch goroutine is the interrupt
// context for handlers registered with the NVIC.
func (p *rp2Platform) TakeCore() (*hal.Core, error) {
	if err := p.core.Take(); err != nil {
		return nil, err
	}
	go p.nvic.Run(context.Background())
	return &hal.Core{
		SysTick: &delay.SysTick{},
		NVIC:    p.nvic,
		Event:   irq.NewEvent(),
	}, nil
}

// ---- NVIC ----

// rp2NVIC gates the hardware UART line alongside the dispatch mask.
type rp2NVIC struct {
	*irq.Controller
}

func (n *rp2NVIC) Unmask(line irq.IRQ) {
	n.Controller.Unmask(line)
	if line == irq.UART0 {
		arm.EnableIRQ(rp.IRQ_UART0_IRQ)
	}
}

func (n *rp2NVIC) Mask(line irq.IRQ) {
	if line == irq.UART0 {
		arm.DisableIRQ(rp.IRQ_UART0_IRQ)
	}
	n.Controller.Mask(line)
}

// ---- Watchdog ----

type rp2Watchdog struct{}

// StartTick divides clk_ref down to the 1 µs watchdog tick.
func (rp2Watchdog) StartTick(refHz uint32) error {
	cycles := refHz / clock.MHz
	if cycles == 0 || cycles > 0x1ff {
		return errcode.Wrap(errcode.ClockConfig, "watchdog", "tick divider outside 1..511", nil)
	}
	rp.WATCHDOG.TICK.Set(cycles | rp.WATCHDOG_TICK_ENABLE)
	return nil
}

// ---- Clocks ----

type rp2Clocks struct{}

// Apply confirms the tree the runtime brought up matches cfg: crystal
// stable, both PLLs locked, core running at the computed system clock.
func (rp2Clocks) Apply(cfg clock.Config, f clock.Frequencies) error {
	if !waitBits(func() bool { return rp.XOSC.STATUS.HasBits(rp.XOSC_STATUS_STABLE) }) {
		return errcode.Wrap(errcode.ClockUnstable, "clocks.Apply", "xosc not stable", nil)
	}
	if !waitBits(func() bool { return rp.PLL_SYS.CS.HasBits(rp.PLL_SYS_CS_LOCK) }) {
		return errcode.Wrap(errcode.ClockUnstable, "clocks.Apply", "pll_sys not locked", nil)
	}
	if !waitBits(func() bool { return rp.PLL_USB.CS.HasBits(rp.PLL_SYS_CS_LOCK) }) {
		return errcode.Wrap(errcode.ClockUnstable, "clocks.Apply", "pll_usb not locked", nil)
	}
	if got := machine.CPUFrequency(); got != f.System {
		return errcode.Wrap(errcode.ClockUnstable, "clocks.Apply", "clk_sys differs from configured tree", nil)
	}
	return nil
}

func waitBits(ok func() bool) bool {
	deadline := time.Now().Add(lockTimeout)
	for !ok() {
		if time.Now().After(deadline) {
			return false
		}
	}
	return true
}

// ---- GPIO ----

const (
	modeUART uint8 = iota + 1
	modeOutput
)

type rp2Pins struct {
	mu    sync.Mutex
	modes map[int]uint8

	// Claimed for UART0; uartx muxes them when the UART is configured.
	uartTX, uartRX machine.Pin
}

func (p *rp2Pins) claim(n int, mode uint8) error {
	if n < 0 || n > gpioMax {
		return errcode.Wrap(errcode.InvalidPin, "pins", "", nil)
	}
	if m, ok := p.modes[n]; ok && m != mode {
		return errcode.Wrap(errcode.PinInUse, "pins", "", nil)
	}
	p.modes[n] = mode
	return nil
}

func (p *rp2Pins) UART(tx, rx int) error {
	if tx == rx {
		return errcode.Wrap(errcode.InvalidPin, "pins.UART", "", nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.claim(tx, modeUART); err != nil {
		return err
	}
	if err := p.claim(rx, modeUART); err != nil {
		return err
	}
	p.uartTX, p.uartRX = machine.Pin(tx), machine.Pin(rx)
	return nil
}

func (p *rp2Pins) uart() (tx, rx machine.Pin, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uartTX, p.uartRX, p.uartTX != machine.NoPin && p.uartRX != machine.NoPin
}

func (p *rp2Pins) Output(n int) (hal.OutputPin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.claim(n, modeOutput); err != nil {
		return nil, err
	}
	pin := machine.Pin(n)
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pin.Low()
	return pin, nil
}

// ---- UART ----

var _ hal.UARTPort = (*rp2UART)(nil)

// rp2UART wraps uartx.UART0. The uartx ISR drains the hardware RX FIFO into
// its ring and signals Readable; a pump goroutine turns that into a pend on
// the receive line while the RX interrupt condition is enabled. The line is
// level-sensitive: it stays asserted while the ring holds data.
type rp2UART struct {
	dev  *uartx.UART
	nvic *rp2NVIC
	line irq.IRQ
	pins *rp2Pins

	mu    sync.Mutex
	rxIRQ bool
	pump  sync.Once
}

func (u *rp2UART) Enable(cfg types.UARTConfig, periHz uint32) (hal.UARTPort, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tx, rx, ok := u.pins.uart()
	if !ok {
		return nil, errcode.Wrap(errcode.InvalidPin, "uart.Enable", "pins not muxed to UART", nil)
	}
	if _, _, _, err := pl011.Divisors(periHz, cfg.Baud); err != nil {
		return nil, err
	}
	err := u.dev.Configure(machine.UARTConfig{
		BaudRate: cfg.Baud,
		TX:       tx,
		RX:       rx,
	})
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidFormat, "uart.Enable", "configure", err)
	}
	if err := u.dev.SetFormat(cfg.DataBits, cfg.StopBits, toParity(cfg.Parity)); err != nil {
		return nil, errcode.Wrap(errcode.InvalidFormat, "uart.Enable", "format", err)
	}
	// Configure unmasks the line and RX condition; both stay off until asked.
	arm.DisableIRQ(rp.IRQ_UART0_IRQ)
	u.dev.Bus.UARTIMSC.ClearBits(rp.UART0_UARTIMSC_RXIM | rp.UART0_UARTIMSC_RTIM)

	u.nvic.SetLevel(u.line, u.rxAsserted)
	u.pump.Do(func() { go u.pumpRx() })
	return u, nil
}

func (u *rp2UART) rxAsserted() bool {
	u.mu.Lock()
	on := u.rxIRQ
	u.mu.Unlock()
	return on && u.dev.Buffered() > 0
}

func (u *rp2UART) pumpRx() {
	for range u.dev.Readable() {
		u.mu.Lock()
		on := u.rxIRQ
		u.mu.Unlock()
		if on {
			u.nvic.Pend(u.line)
		}
	}
}

func toParity(p types.Parity) uartx.UARTParity {
	switch p {
	case types.ParityEven:
		return uartx.ParityEven
	case types.ParityOdd:
		return uartx.ParityOdd
	default:
		return uartx.ParityNone
	}
}

func (u *rp2UART) ReadByte() (byte, error) {
	b, err := u.dev.ReadByte()
	if err != nil {
		return 0, errcode.RxEmpty
	}
	return b, nil
}

// WriteByte refuses rather than waits when the TX FIFO is full.
func (u *rp2UART) WriteByte(b byte) error {
	if u.dev.Bus.UARTFR.HasBits(rp.UART0_UARTFR_TXFF) {
		return errcode.TxFull
	}
	if u.dev.TryWrite([]byte{b}) == 0 {
		return errcode.TxFull
	}
	return nil
}

func (u *rp2UART) WriteFullBlocking(p []byte) {
	_, _ = u.dev.Write(p)
	_ = u.dev.Flush()
}

func (u *rp2UART) EnableRxInterrupt() {
	u.mu.Lock()
	u.rxIRQ = true
	u.mu.Unlock()
	u.dev.Bus.UARTIMSC.SetBits(rp.UART0_UARTIMSC_RXIM | rp.UART0_UARTIMSC_RTIM)
	if u.dev.Buffered() > 0 {
		u.nvic.Pend(u.line)
	}
}

func (u *rp2UART) DisableRxInterrupt() {
	u.dev.Bus.UARTIMSC.ClearBits(rp.UART0_UARTIMSC_RXIM | rp.UART0_UARTIMSC_RTIM)
	u.mu.Lock()
	u.rxIRQ = false
	u.mu.Unlock()
}

func (u *rp2UART) Read(p []byte) (int, error)  { return u.dev.Read(p) }
func (u *rp2UART) Write(p []byte) (int, error) { return u.dev.Write(p) }
func (u *rp2UART) Buffered() int               { return u.dev.Buffered() }
