// hal/platform/sim_host.go
//go:build !rp2040

package platform

import (
	"context"
	"sync"
	"time"

	"uartecho/boards"
	"uartecho/errcode"
	"uartecho/hal"
	"uartecho/hal/clock"
	"uartecho/hal/delay"
	"uartecho/hal/irq"
	"uartecho/hal/periph"
	"uartecho/hal/pl011"
	"uartecho/types"
	"uartecho/x/fifo"
)

// Sim is a host-side RP2040 stand-in. Register groups are claimed once per
// Sim; the interrupt controller dispatches on a goroutine tied to the Sim.
type Sim struct {
	chip, core periph.Singleton

	NVIC     *irq.Controller
	Event    *irq.Event
	Watchdog *SimWatchdog
	Clocks   *SimClocks
	Pins     *SimPins
	UART0    *SimUART

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSim builds a simulator for board b.
func NewSim(b boards.Board) *Sim {
	ctx, cancel := context.WithCancel(context.Background())
	nvic := irq.NewController()
	pins := &SimPins{board: b, modes: map[int]PinMode{}, pins: map[int]*SimPin{}}
	return &Sim{
		chip:     periph.Singleton{Name: "chip"},
		core:     periph.Singleton{Name: "core"},
		NVIC:     nvic,
		Event:    irq.NewEvent(),
		Watchdog: &SimWatchdog{},
		Clocks:   &SimClocks{},
		Pins:     pins,
		UART0:    newSimUART(nvic, irq.UART0, pins, b.UART0TX, b.UART0RX),
		ctx:      ctx,
		cancel:   cancel,
	}
}

var defaultSim = sync.OnceValue(func() *Sim { return NewSim(boards.Pico) })

// Default returns the process-wide simulator.
func Default() hal.Platform { return defaultSim() }

func (s *Sim) TakeChip() (*hal.Chip, error) {
	if err := s.chip.Take(); err != nil {
		return nil, err
	}
	return &hal.Chip{
		Watchdog: s.Watchdog,
		Clocks:   s.Clocks,
		Pins:     s.Pins,
		UART0:    s.UART0,
	}, nil
}

// TakeCore claims the core group and starts interrupt dispatch.
func (s *Sim) TakeCore() (*hal.Core, error) {
	if err := s.core.Take(); err != nil {
		return nil, err
	}
	go s.NVIC.Run(s.ctx)
	return &hal.Core{
		SysTick: &delay.SysTick{},
		NVIC:    s.NVIC,
		Event:   s.Event,
	}, nil
}

// Close stops interrupt dispatch.
func (s *Sim) Close() { s.cancel() }

// ----------------------------- Watchdog --------------------------------------

// SimWatchdog records the tick divider.
type SimWatchdog struct {
	mu         sync.Mutex
	tickCycles uint32
}

func (w *SimWatchdog) StartTick(refHz uint32) error {
	cycles := refHz / clock.MHz
	if cycles == 0 || cycles > 0x1ff {
		return errcode.Wrap(errcode.ClockConfig, "watchdog", "tick divider outside 1..511", nil)
	}
	w.mu.Lock()
	w.tickCycles = cycles
	w.mu.Unlock()
	return nil
}

func (w *SimWatchdog) TickCycles() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tickCycles
}

// ----------------------------- Clocks ----------------------------------------

// SimClocks records the applied tree. Setting Fault makes Apply fail as a
// PLL that never locks would.
type SimClocks struct {
	mu      sync.Mutex
	Fault   error
	applied *clock.Frequencies
}

func (c *SimClocks) Apply(_ clock.Config, f clock.Frequencies) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fault != nil {
		return c.Fault
	}
	c.applied = &f
	return nil
}

func (c *SimClocks) Applied() (clock.Frequencies, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applied == nil {
		return clock.Frequencies{}, false
	}
	return *c.applied, true
}

// ----------------------------- GPIO ------------------------------------------

type PinMode uint8

const (
	PinUnused PinMode = iota
	PinUART
	PinOutput
)

// SimPins is the GPIO bank.
type SimPins struct {
	mu    sync.Mutex
	board boards.Board
	modes map[int]PinMode
	pins  map[int]*SimPin
}

func (p *SimPins) UART(tx, rx int) error {
	if !p.board.ValidPin(tx) || !p.board.ValidPin(rx) || tx == rx {
		return errcode.Wrap(errcode.InvalidPin, "pins.UART", "", nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range []int{tx, rx} {
		if m := p.modes[n]; m != PinUnused && m != PinUART {
			return errcode.Wrap(errcode.PinInUse, "pins.UART", "", nil)
		}
	}
	p.modes[tx], p.modes[rx] = PinUART, PinUART
	return nil
}

func (p *SimPins) Output(n int) (hal.OutputPin, error) {
	if !p.board.ValidPin(n) {
		return nil, errcode.Wrap(errcode.InvalidPin, "pins.Output", "", nil)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if m := p.modes[n]; m != PinUnused && m != PinOutput {
		return nil, errcode.Wrap(errcode.PinInUse, "pins.Output", "", nil)
	}
	p.modes[n] = PinOutput
	pin, ok := p.pins[n]
	if !ok {
		pin = &SimPin{}
		p.pins[n] = pin
	}
	return pin, nil
}

func (p *SimPins) Mode(n int) PinMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modes[n]
}

// Pin exposes the underlying *SimPin for tests.
func (p *SimPins) Pin(n int) (*SimPin, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, ok := p.pins[n]
	return pin, ok
}

// SimPin is an output that records every level it is driven to.
type SimPin struct {
	mu      sync.Mutex
	level   bool
	history []bool
}

func (p *SimPin) High() { p.set(true) }
func (p *SimPin) Low()  { p.set(false) }

func (p *SimPin) set(v bool) {
	p.mu.Lock()
	p.level = v
	p.history = append(p.history, v)
	p.mu.Unlock()
}

func (p *SimPin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *SimPin) History() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.history...)
}

// ----------------------------- UART ------------------------------------------

// LineError marks a received byte as damaged on the wire.
type LineError uint8

const (
	LineOK LineError = iota
	LineFraming
	LineParity
	LineOverrun
)

var _ hal.UARTPort = (*SimUART)(nil)

// SimUART models a PL011 with 32-entry FIFOs. Bytes sent from the far end
// go in with Inject; bytes the firmware transmits leave through Wire.
type SimUART struct {
	mu   sync.Mutex
	nvic *irq.Controller
	line irq.IRQ
	pins *SimPins

	tx, rx   int
	enabled  bool
	cfg      types.UARTConfig
	baud     uint32
	lcr      uint32
	rxIRQ    bool
	stallTx  bool
	overruns int
	attempts int

	rxData  *fifo.FIFO
	rxFlags *fifo.FIFO
	txFIFO  *fifo.FIFO

	wire     []byte
	wireNote chan struct{}
}

func newSimUART(nvic *irq.Controller, line irq.IRQ, pins *SimPins, tx, rx int) *SimUART {
	return &SimUART{
		nvic:     nvic,
		line:     line,
		pins:     pins,
		tx:       tx,
		rx:       rx,
		rxData:   fifo.New(pl011.FIFODepth),
		rxFlags:  fifo.New(pl011.FIFODepth),
		txFIFO:   fifo.New(pl011.FIFODepth),
		wireNote: make(chan struct{}, 1),
	}
}

// Enable checks pins, format and divisors, then turns the UART on.
func (u *SimUART) Enable(cfg types.UARTConfig, periHz uint32) (hal.UARTPort, error) {
	if u.pins.Mode(u.tx) != PinUART || u.pins.Mode(u.rx) != PinUART {
		return nil, errcode.Wrap(errcode.InvalidPin, "uart.Enable", "pins not muxed to UART", nil)
	}
	lcr, err := pl011.LineControl(cfg)
	if err != nil {
		return nil, err
	}
	_, _, actual, err := pl011.Divisors(periHz, cfg.Baud)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	u.enabled, u.cfg, u.baud, u.lcr = true, cfg, actual, lcr
	u.mu.Unlock()
	u.nvic.SetLevel(u.line, u.rxAsserted)
	return u, nil
}

// rxAsserted is the RX interrupt output: enabled and data waiting.
func (u *SimUART) rxAsserted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rxIRQ && !u.rxData.Empty()
}

// Baud returns the achieved baud rate and LCR_H word after Enable.
func (u *SimUART) Baud() (uint32, uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.baud, u.lcr
}

func (u *SimUART) ReadByte() (byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	b, ok := u.rxData.Get()
	if !ok {
		return 0, errcode.RxEmpty
	}
	f, _ := u.rxFlags.Get()
	switch LineError(f) {
	case LineFraming:
		return b, errcode.RxFraming
	case LineParity:
		return b, errcode.RxParity
	case LineOverrun:
		return b, errcode.RxOverrun
	}
	return b, nil
}

func (u *SimUART) WriteByte(b byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.attempts++
	if !u.txFIFO.Put(b) {
		return errcode.TxFull
	}
	if !u.stallTx {
		u.shiftOutLocked()
	}
	return nil
}

// WriteFullBlocking waits for FIFO space byte by byte until p is queued.
func (u *SimUART) WriteFullBlocking(p []byte) {
	for _, b := range p {
		for u.WriteByte(b) != nil {
			select {
			case <-u.txFIFO.Writable():
			case <-time.After(time.Millisecond):
			}
		}
	}
}

func (u *SimUART) EnableRxInterrupt() {
	u.mu.Lock()
	u.rxIRQ = true
	level := !u.rxData.Empty()
	u.mu.Unlock()
	if level {
		u.nvic.Pend(u.line)
	}
}

func (u *SimUART) DisableRxInterrupt() {
	u.mu.Lock()
	u.rxIRQ = false
	u.mu.Unlock()
}

// Read drains whatever is available without blocking; line errors end it.
func (u *SimUART) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		b, err := u.ReadByte()
		if err != nil {
			break
		}
		p[n] = b
		n++
	}
	return n, nil
}

func (u *SimUART) Write(p []byte) (int, error) {
	u.WriteFullBlocking(p)
	return len(p), nil
}

func (u *SimUART) Buffered() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rxData.Len()
}

// ---- far end ----

// Inject delivers p from the far end. Bytes arriving at a disabled UART are
// lost; bytes that find the RX FIFO full are dropped and counted.
func (u *SimUART) Inject(p ...byte) {
	u.inject(LineOK, p)
}

// InjectError delivers one damaged byte.
func (u *SimUART) InjectError(kind LineError) {
	u.inject(kind, []byte{0})
}

func (u *SimUART) inject(flag LineError, p []byte) {
	u.mu.Lock()
	if !u.enabled {
		u.mu.Unlock()
		return
	}
	for _, b := range p {
		if u.rxData.Full() {
			u.overruns++
			continue
		}
		u.rxData.Put(b)
		u.rxFlags.Put(byte(flag))
	}
	raise := u.rxIRQ && !u.rxData.Empty()
	u.mu.Unlock()
	if raise {
		u.nvic.Pend(u.line)
	}
}

// StallTx holds transmitted bytes in the TX FIFO (as with a blocked line)
// until called again with false.
func (u *SimUART) StallTx(on bool) {
	u.mu.Lock()
	u.stallTx = on
	if !on {
		u.shiftOutLocked()
	}
	u.mu.Unlock()
}

func (u *SimUART) shiftOutLocked() {
	moved := false
	for {
		b, ok := u.txFIFO.Get()
		if !ok {
			break
		}
		u.wire = append(u.wire, b)
		moved = true
	}
	if moved {
		select {
		case u.wireNote <- struct{}{}:
		default:
		}
	}
}

// Wire returns a copy of every byte transmitted so far.
func (u *SimUART) Wire() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]byte(nil), u.wire...)
}

// WaitWire blocks until at least n bytes have been transmitted.
func (u *SimUART) WaitWire(ctx context.Context, n int) ([]byte, error) {
	for {
		if w := u.Wire(); len(w) >= n {
			return w, nil
		}
		select {
		case <-u.wireNote:
		case <-ctx.Done():
			return u.Wire(), ctx.Err()
		}
	}
}

// TxAttempts counts WriteByte calls, including refused ones.
func (u *SimUART) TxAttempts() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.attempts
}

func (u *SimUART) Overruns() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.overruns
}
