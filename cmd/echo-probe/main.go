// Command echo-probe checks a flashed board over its serial port: it waits
// for the banner, sends every byte value and verifies each reply.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-tty"
	"go.bug.st/serial"

	"uartecho/boards"
	"uartecho/hal/pl011"
	"uartecho/x/mathx"
)

const (
	green = "\x1b[32m"
	red   = "\x1b[31m"
	reset = "\x1b[0m"
)

func main() {
	var (
		port     = flag.String("port", "", "serial port (e.g. /dev/ttyUSB0)")
		list     = flag.Bool("list", false, "list serial ports and exit")
		interact = flag.Bool("i", false, "interactive: echo keystrokes through the board")
		banner   = flag.Duration("banner", 0, "wait this long for the startup banner (0 skips)")
		timeout  = flag.Duration("timeout", 2*time.Second, "reply timeout per chunk")
		chunk    = flag.Int("chunk", 16, "bytes per burst, at most the UART FIFO depth")
	)
	flag.Parse()

	out := colorable.NewColorableStdout()

	if *list {
		ports, err := serial.GetPortsList()
		if err != nil {
			fatalf(out, "list ports: %v", err)
		}
		for _, p := range ports {
			fmt.Fprintln(out, p)
		}
		return
	}
	if *port == "" {
		fatalf(out, "-port is required")
	}

	s := boards.Pico.Serial
	sp, err := serial.Open(*port, &serial.Mode{
		BaudRate: int(s.Baud),
		DataBits: int(s.DataBits),
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		fatalf(out, "open %s: %v", *port, err)
	}
	defer sp.Close()
	if err := sp.SetReadTimeout(50 * time.Millisecond); err != nil {
		fatalf(out, "read timeout: %v", err)
	}

	if *banner > 0 {
		fmt.Fprintf(out, "[probe] waiting %s for banner on %s\n", *banner, *port)
		if _, err := readUntil(sp, []byte(boards.Pico.Banner), *banner); err != nil {
			fatalf(out, "banner: %v", err)
		}
	}
	_ = sp.ResetInputBuffer()

	if *interact {
		if err := interactive(out, sp, *timeout); err != nil {
			fatalf(out, "%v", err)
		}
		return
	}

	sent := Pattern()
	got, err := Exchange(sp, sent, mathx.Clamp(*chunk, 1, pl011.FIFODepth), *timeout)
	r := Compare(sent, got)
	fmt.Fprintf(out, "[probe] %s %s: sent %d, received %d, crc want %04X got %04X\n",
		*port, s.Frame(), len(r.Sent), len(r.Got), r.WantCRC, r.GotCRC)
	if err != nil || !r.OK() {
		if r.Mismatch >= 0 && r.Mismatch < len(got) {
			fmt.Fprintf(out, "[probe] first mismatch at %d: sent %02X got %02X\n",
				r.Mismatch, sent[r.Mismatch], got[r.Mismatch])
		}
		if err != nil {
			fmt.Fprintf(out, "[probe] %v\n", err)
		}
		fmt.Fprintf(out, "%sFAIL%s\n", red, reset)
		os.Exit(1)
	}
	fmt.Fprintf(out, "%sPASS%s\n", green, reset)
}

// interactive forwards each key to the board and prints what comes back.
func interactive(out io.Writer, sp serial.Port, d time.Duration) error {
	t, err := tty.Open()
	if err != nil {
		return err
	}
	defer t.Close()

	fmt.Fprintln(out, "[probe] interactive, Ctrl-C to quit")
	for {
		r, err := t.ReadRune()
		if err != nil {
			return err
		}
		if r == 3 {
			return nil
		}
		if r > 0xff {
			continue
		}
		b := byte(r)
		got, err := Exchange(sp, []byte{b}, 1, d)
		if err != nil {
			fmt.Fprintf(out, "%s%02X -> (none)%s\n", red, b, reset)
			continue
		}
		colour := green
		if got[0] != Expected([]byte{b})[0] {
			colour = red
		}
		fmt.Fprintf(out, "%s%02X -> %02X %q%s\n", colour, b, got[0], got[0], reset)
	}
}

func fatalf(out io.Writer, format string, a ...any) {
	fmt.Fprintf(out, "%s[probe] "+format+"%s\n", append(append([]any{red}, a...), reset)...)
	os.Exit(2)
}
