package echo

import (
	"context"
	"sync"
	"testing"
	"time"

	"uartecho/errcode"
	"uartecho/hal"
	"uartecho/hal/critical"
	"uartecho/hal/irq"
)

// fakePort is a UART whose receive side is a scripted list of results.
type fakePort struct {
	rx       []rxResult
	sent     []byte
	attempts int
	txFull   bool
}

type rxResult struct {
	b   byte
	err error
}

func (p *fakePort) ReadByte() (byte, error) {
	if len(p.rx) == 0 {
		return 0, errcode.RxEmpty
	}
	r := p.rx[0]
	p.rx = p.rx[1:]
	return r.b, r.err
}

func (p *fakePort) WriteByte(b byte) error {
	p.attempts++
	if p.txFull {
		return errcode.TxFull
	}
	p.sent = append(p.sent, b)
	return nil
}

func (p *fakePort) WriteFullBlocking(b []byte)  { p.sent = append(p.sent, b...) }
func (p *fakePort) EnableRxInterrupt()          {}
func (p *fakePort) DisableRxInterrupt()         {}
func (p *fakePort) Read(b []byte) (int, error)  { return 0, nil }
func (p *fakePort) Write(b []byte) (int, error) { p.sent = append(p.sent, b...); return len(b), nil }
func (p *fakePort) Buffered() int               { return len(p.rx) }

func bytesOf(p ...byte) []rxResult {
	out := make([]rxResult, len(p))
	for i, b := range p {
		out[i] = rxResult{b: b}
	}
	return out
}

func signalled(ev *irq.Event) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	return ev.WaitContext(ctx) == nil
}

func TestTransformAllBytes(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		if got, want := Transform(b), byte((i+1)%256); got != want {
			t.Fatalf("Transform(%#02x) = %#02x, want %#02x", b, got, want)
		}
	}
	if Transform(0x41) != 0x42 || Transform(0xff) != 0x00 {
		t.Fatalf("Transform boundary values wrong")
	}
}

func TestHandleIRQDrainsInOrder(t *testing.T) {
	port := &fakePort{rx: bytesOf('a', 'b', 'c', 0xff)}
	cell := &critical.Cell[hal.UARTPort]{}
	cell.Put(port)
	ev := irq.NewEvent()

	NewReceiver(cell, ev).HandleIRQ()

	if port.attempts != 4 {
		t.Fatalf("attempts = %d, want 4", port.attempts)
	}
	if got := string(port.sent); got != "bcd\x00" {
		t.Fatalf("sent = %q", got)
	}
	if !signalled(ev) {
		t.Fatalf("event not signalled")
	}
}

func TestHandleIRQEmptyFIFO(t *testing.T) {
	port := &fakePort{}
	cell := &critical.Cell[hal.UARTPort]{}
	cell.Put(port)
	ev := irq.NewEvent()

	NewReceiver(cell, ev).HandleIRQ()

	if port.attempts != 0 {
		t.Fatalf("attempts = %d on empty FIFO", port.attempts)
	}
	if !signalled(ev) {
		t.Fatalf("event not signalled")
	}
}

func TestHandleIRQBeforePublish(t *testing.T) {
	cell := &critical.Cell[hal.UARTPort]{}
	ev := irq.NewEvent()

	NewReceiver(cell, ev).HandleIRQ()

	if cell.Populated() {
		t.Fatalf("cell populated by handler")
	}
	if !signalled(ev) {
		t.Fatalf("event not signalled")
	}
}

func TestHandleIRQStopsAtLineError(t *testing.T) {
	port := &fakePort{rx: []rxResult{
		{b: '1'},
		{b: 0, err: errcode.RxFraming},
		{b: '2'},
	}}
	cell := &critical.Cell[hal.UARTPort]{}
	cell.Put(port)

	NewReceiver(cell, irq.NewEvent()).HandleIRQ()

	if string(port.sent) != "2" || len(port.rx) != 1 {
		t.Fatalf("sent=%q left=%d", port.sent, len(port.rx))
	}
}

func TestHandleIRQIgnoresTxFull(t *testing.T) {
	port := &fakePort{rx: bytesOf(1, 2, 3), txFull: true}
	cell := &critical.Cell[hal.UARTPort]{}
	cell.Put(port)

	NewReceiver(cell, irq.NewEvent()).HandleIRQ()

	if port.attempts != 3 || len(port.rx) != 0 {
		t.Fatalf("attempts=%d left=%d", port.attempts, len(port.rx))
	}
}

// ---- indicator ----

type trace struct {
	mu  sync.Mutex
	ops []string
}

func (tr *trace) add(op string) {
	tr.mu.Lock()
	tr.ops = append(tr.ops, op)
	tr.mu.Unlock()
}

func (tr *trace) snapshot() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.ops...)
}

type tracePin struct{ tr *trace }

func (p tracePin) High() { p.tr.add("high") }
func (p tracePin) Low()  { p.tr.add("low") }

type traceDelay struct{ tr *trace }

func (d traceDelay) DelayMs(ms uint32) {
	if ms == 100 {
		d.tr.add("delay100")
	} else {
		d.tr.add("delay?")
	}
}

func TestIndicatorPulsePerWake(t *testing.T) {
	tr := &trace{}
	ev := irq.NewEvent()
	in := NewIndicator(tracePin{tr}, traceDelay{tr}, ev, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	if len(tr.snapshot()) != 0 {
		t.Fatalf("pulsed without a wake")
	}
	for wake := 1; wake <= 3; wake++ {
		ev.Signal()
		deadline := time.After(time.Second)
		for len(tr.snapshot()) < wake*3 {
			select {
			case <-deadline:
				t.Fatalf("wake %d: trace %v", wake, tr.snapshot())
			case <-time.After(time.Millisecond):
			}
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run returned %v", err)
	}
	ops := tr.snapshot()
	if len(ops) != 9 {
		t.Fatalf("trace %v", ops)
	}
	for i := 0; i < len(ops); i += 3 {
		if ops[i] != "high" || ops[i+1] != "delay100" || ops[i+2] != "low" {
			t.Fatalf("pulse %d = %v", i/3, ops[i:i+3])
		}
	}
}
