package main

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/sigurn/crc16"

	"uartecho/services/echo"
)

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

var errTimeout = errors.New("timed out")

// Report is the outcome of one pattern run.
type Report struct {
	Sent     []byte
	Got      []byte
	WantCRC  uint16
	GotCRC   uint16
	Mismatch int // index of first wrong reply, -1 if none
}

func (r Report) OK() bool {
	return r.Mismatch < 0 && len(r.Got) == len(r.Sent) && r.WantCRC == r.GotCRC
}

// Expected returns the replies the firmware should send for p.
func Expected(p []byte) []byte {
	out := make([]byte, len(p))
	for i, b := range p {
		out[i] = echo.Transform(b)
	}
	return out
}

// Pattern returns every byte value once, in order.
func Pattern() []byte {
	p := make([]byte, 256)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

// Compare builds a report for sent against what came back.
func Compare(sent, got []byte) Report {
	want := Expected(sent)
	r := Report{
		Sent:     sent,
		Got:      got,
		WantCRC:  crc16.Checksum(want, crcTable),
		GotCRC:   crc16.Checksum(got, crcTable),
		Mismatch: -1,
	}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			r.Mismatch = i
			break
		}
	}
	return r
}

// readUntil collects bytes until they contain want or the deadline passes.
func readUntil(r io.Reader, want []byte, d time.Duration) ([]byte, error) {
	var got []byte
	deadline := time.Now().Add(d)
	buf := make([]byte, 64)
	for !bytes.Contains(got, want) {
		if time.Now().After(deadline) {
			return got, errTimeout
		}
		n, err := r.Read(buf)
		if err != nil {
			return got, err
		}
		got = append(got, buf[:n]...)
	}
	return got, nil
}

// readN collects n bytes or whatever arrived by the deadline.
func readN(r io.Reader, n int, d time.Duration) ([]byte, error) {
	got := make([]byte, 0, n)
	deadline := time.Now().Add(d)
	buf := make([]byte, 64)
	for len(got) < n {
		if time.Now().After(deadline) {
			return got, errTimeout
		}
		c, err := r.Read(buf[:min(len(buf), n-len(got))])
		if err != nil {
			return got, err
		}
		got = append(got, buf[:c]...)
	}
	return got, nil
}

// Exchange sends p in chunks no larger than the UART FIFO and collects the
// replies. Larger bursts would overrun the receive FIFO of the firmware.
func Exchange(rw io.ReadWriter, p []byte, chunk int, d time.Duration) ([]byte, error) {
	var got []byte
	for len(p) > 0 {
		n := min(chunk, len(p))
		if _, err := rw.Write(p[:n]); err != nil {
			return got, err
		}
		reply, err := readN(rw, n, d)
		got = append(got, reply...)
		if err != nil {
			return got, err
		}
		p = p[n:]
	}
	return got, nil
}
