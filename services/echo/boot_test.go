//go:build !rp2040

package echo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"uartecho/boards"
	"uartecho/errcode"
	"uartecho/hal"
	"uartecho/hal/clock"
	"uartecho/hal/critical"
	"uartecho/hal/delay"
	"uartecho/hal/irq"
	"uartecho/hal/platform"
	"uartecho/types"
)

// ---- recording platform ----

type recorder struct{ calls []string }

func (r *recorder) note(s string) { r.calls = append(r.calls, s) }

type recPlatform struct{ r *recorder }

func (p recPlatform) TakeChip() (*hal.Chip, error) {
	p.r.note("chip")
	return &hal.Chip{
		Watchdog: recWatchdog{p.r},
		Clocks:   recClocks{p.r},
		Pins:     recPins{p.r},
		UART0:    recUARTDevice{p.r},
	}, nil
}

func (p recPlatform) TakeCore() (*hal.Core, error) {
	p.r.note("core")
	return &hal.Core{SysTick: &delay.SysTick{}, NVIC: recNVIC{p.r}, Event: irq.NewEvent()}, nil
}

type recWatchdog struct{ r *recorder }

func (w recWatchdog) StartTick(uint32) error { w.r.note("watchdog"); return nil }

type recClocks struct{ r *recorder }

func (c recClocks) Apply(clock.Config, clock.Frequencies) error { c.r.note("clocks"); return nil }

type recPins struct{ r *recorder }

func (p recPins) UART(tx, rx int) error { p.r.note("pins.uart"); return nil }
func (p recPins) Output(n int) (hal.OutputPin, error) {
	p.r.note("pins.led")
	return recPin{}, nil
}

type recPin struct{}

func (recPin) High() {}
func (recPin) Low()  {}

type recUARTDevice struct{ r *recorder }

func (d recUARTDevice) Enable(types.UARTConfig, uint32) (hal.UARTPort, error) {
	d.r.note("uart.enable")
	return &recPort{r: d.r}, nil
}

type recPort struct {
	fakePort
	r *recorder
}

func (p *recPort) EnableRxInterrupt()         { p.r.note("uart.rxirq") }
func (p *recPort) WriteFullBlocking(b []byte) { p.r.note("banner") }

type recNVIC struct{ r *recorder }

func (n recNVIC) Register(irq.IRQ, func()) { n.r.note("nvic.register") }
func (n recNVIC) Unmask(irq.IRQ)           { n.r.note("nvic.unmask") }
func (n recNVIC) Mask(irq.IRQ)             { n.r.note("nvic.mask") }

func TestBootOrder(t *testing.T) {
	r := &recorder{}
	sys, err := Boot(recPlatform{r}, boards.Pico)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	want := []string{
		"chip", "core", "watchdog", "clocks", "pins.uart", "uart.enable",
		"nvic.register", "nvic.unmask", "uart.rxirq", "banner", "pins.led",
	}
	if strings.Join(r.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("boot order:\n got %v\nwant %v", r.calls, want)
	}
	if !sys.Port.Populated() {
		t.Fatalf("port not published")
	}
	if sys.Clocks.System != 125*clock.MHz || sys.Clocks.Peripheral != 125*clock.MHz {
		t.Fatalf("clocks = %+v", sys.Clocks)
	}
}

// ---- simulator ----

func TestBootOnSimulator(t *testing.T) {
	sim := platform.NewSim(boards.Pico)
	defer sim.Close()

	sys, err := Boot(sim, boards.Pico)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w, err := sim.UART0.WaitWire(ctx, len(boards.Pico.Banner))
	if err != nil || string(w) != boards.Pico.Banner {
		t.Fatalf("banner = %q, %v", w, err)
	}
	if baud, lcr := sim.UART0.Baud(); baud != 9600 || lcr != 0x70 {
		t.Fatalf("uart baud=%d lcr=%#x", baud, lcr)
	}
	if sim.Pins.Mode(0) != platform.PinUART || sim.Pins.Mode(1) != platform.PinUART {
		t.Fatalf("UART pins not muxed")
	}
	if sim.Pins.Mode(25) != platform.PinOutput {
		t.Fatalf("LED pin not an output")
	}
	if sim.Watchdog.TickCycles() != 12 {
		t.Fatalf("watchdog tick = %d", sim.Watchdog.TickCycles())
	}
	if !sim.NVIC.Enabled(irq.UART0) {
		t.Fatalf("UART0 line masked")
	}
	if !sys.Port.Populated() {
		t.Fatalf("port not published")
	}
}

func TestBootFatalPaths(t *testing.T) {
	for _, c := range []struct {
		name  string
		setup func(*platform.Sim, *boards.Board)
		want  errcode.Code
	}{
		{"chip already taken", func(s *platform.Sim, _ *boards.Board) { _, _ = s.TakeChip() }, errcode.PeripheralTaken},
		{"core already taken", func(s *platform.Sim, _ *boards.Board) { _, _ = s.TakeCore() }, errcode.PeripheralTaken},
		{"pll does not lock", func(s *platform.Sim, _ *boards.Board) { s.Clocks.Fault = errors.New("lock timeout") }, errcode.ClockUnstable},
		{"crystal out of range", func(_ *platform.Sim, b *boards.Board) { b.XOSCHz = 40_000_000 }, errcode.ClockConfig},
		{"baud unreachable", func(_ *platform.Sim, b *boards.Board) { b.Serial.Baud = 50 }, errcode.BaudUnreachable},
		{"bad frame", func(_ *platform.Sim, b *boards.Board) { b.Serial.DataBits = 9 }, errcode.InvalidFormat},
		{"led off chip", func(_ *platform.Sim, b *boards.Board) { b.LED = 40 }, errcode.InvalidPin},
		{"led on uart pin", func(_ *platform.Sim, b *boards.Board) { b.LED = 1 }, errcode.PinInUse},
	} {
		t.Run(c.name, func(t *testing.T) {
			b := boards.Pico
			sim := platform.NewSim(b)
			defer sim.Close()
			c.setup(sim, &b)
			if _, err := Boot(sim, b); !errors.Is(err, c.want) {
				t.Fatalf("Boot = %v, want %s", err, c.want)
			}
		})
	}
}

func TestEchoEndToEnd(t *testing.T) {
	sim := platform.NewSim(boards.Pico)
	defer sim.Close()
	sys, err := Boot(sim, boards.Pico)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = sys.Indicator.Run(ctx) }()

	sim.UART0.Inject('A', 'B', 0xff)
	n := len(boards.Pico.Banner)
	w, err := sim.UART0.WaitWire(ctx, n+3)
	if err != nil {
		t.Fatalf("WaitWire: %v (wire %q)", err, w)
	}
	if got := w[n:]; string(got) != "BC\x00" {
		t.Fatalf("echo = %q", got)
	}

	led, _ := sim.Pins.Pin(25)
	for {
		h := led.History()
		if len(h) >= 2 {
			if !h[0] || h[1] {
				t.Fatalf("LED history %v, want high then low", h)
			}
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("LED never pulsed: %v", h)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEchoResumesAfterLineError(t *testing.T) {
	sim := platform.NewSim(boards.Pico)
	defer sim.Close()
	if _, err := Boot(sim, boards.Pico); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	// Queue a good byte, a damaged one and another good one, then let the
	// interrupt in: the drain stops at the damaged byte and the held line
	// brings the handler back for the rest.
	sim.UART0.DisableRxInterrupt()
	sim.UART0.Inject('1')
	sim.UART0.InjectError(platform.LineFraming)
	sim.UART0.Inject('5')
	sim.UART0.EnableRxInterrupt()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n := len(boards.Pico.Banner)
	w, err := sim.UART0.WaitWire(ctx, n+2)
	if err != nil {
		t.Fatalf("wire after banner = %q, %v (buffered %d)", w[n:], err, sim.UART0.Buffered())
	}
	if got := string(w[n:]); got != "26" {
		t.Fatalf("echo = %q, want \"26\"", got)
	}
}

func TestBytesBeforePublishEchoedAfter(t *testing.T) {
	sim := platform.NewSim(boards.Pico)
	defer sim.Close()
	core, err := sim.TakeCore()
	if err != nil {
		t.Fatalf("TakeCore: %v", err)
	}
	if err := sim.Pins.UART(0, 1); err != nil {
		t.Fatalf("pins: %v", err)
	}
	port, err := sim.UART0.Enable(boards.Pico.Serial, 125*clock.MHz)
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}

	// Line live, cell still empty: the handler can only return.
	cell := &critical.Cell[hal.UARTPort]{}
	core.NVIC.Register(irq.UART0, NewReceiver(cell, core.Event).HandleIRQ)
	core.NVIC.Unmask(irq.UART0)
	port.EnableRxInterrupt()
	sim.UART0.Inject('x')

	time.Sleep(20 * time.Millisecond)
	if len(sim.UART0.Wire()) != 0 || sim.UART0.Buffered() != 1 {
		t.Fatalf("byte handled before publish: wire=%q buffered=%d", sim.UART0.Wire(), sim.UART0.Buffered())
	}

	cell.Put(port)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w, err := sim.UART0.WaitWire(ctx, 1)
	if err != nil || string(w) != "y" {
		t.Fatalf("wire after publish = %q, %v", w, err)
	}
}

func TestRunHaltsOnBootFailure(t *testing.T) {
	sim := platform.NewSim(boards.Pico)
	defer sim.Close()
	_, _ = sim.TakeChip()

	var got error
	halt = func(err error) { got = err }
	defer func() { halt = Halt }()

	Run(context.Background(), sim, boards.Pico)
	if !errors.Is(got, errcode.PeripheralTaken) {
		t.Fatalf("halt(%v), want peripheral_taken", got)
	}
}
