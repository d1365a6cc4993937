/*
 * kcore - GDB remote serial protocol framing.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package gdbstub implements a single-session GDB remote serial protocol
// server for the interpreter: packet framing, the command table, the
// run/step/stop state machine, and breakpoint/watchpoint bookkeeping.
package gdbstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"time"
)

const ctrlC = 0x03

// checksum returns the 8-bit modular sum of payload, per RSP framing.
func checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return sum
}

const hexDigits = "0123456789abcdef"

func hexEncode(data []byte) string {
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		out = append(out, hexDigits[b>>4], hexDigits[b&0xF])
	}
	return string(out)
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("gdbstub: odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, ok1 := hexNibble(s[2*i])
		lo, ok2 := hexNibble(s[2*i+1])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("gdbstub: bad hex digit in %q", s)
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

// unescapeBinary reverses GDB's 0x7d escaping used by the `X` packet: an
// escaped byte is encoded as 0x7d followed by (original ^ 0x20).
func unescapeBinary(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == 0x7d && i+1 < len(data) {
			i++
			out = append(out, data[i]^0x20)
			continue
		}
		out = append(out, data[i])
	}
	return out
}

// conn is the minimal framing layer around a byte stream: packet read/send
// with checksum verification and ACK/NACK, plus out-of-band Ctrl-C.
type conn struct {
	r  *bufio.Reader
	w  io.Writer
	nc net.Conn // non-nil when the stream supports read deadlines
}

func newConn(rw io.ReadWriter) *conn {
	c := &conn{r: bufio.NewReader(rw), w: rw}
	if nc, ok := rw.(net.Conn); ok {
		c.nc = nc
	}
	return c
}

// pollCtrlC makes a short, deadline-bounded read attempt so the continue
// loop can notice an out-of-band Ctrl-C without blocking the single
// simulator thread indefinitely (spec.md §5's polling model). If a byte
// other than Ctrl-C arrives it is pushed back for the next readPacket.
func (c *conn) pollCtrlC(timeout time.Duration) (isCtrlC bool, pending bool) {
	if c.nc != nil {
		c.nc.SetReadDeadline(time.Now().Add(timeout))
		defer c.nc.SetReadDeadline(time.Time{})
	}
	b, err := c.r.ReadByte()
	if err != nil {
		return false, false
	}
	if b == ctrlC {
		return true, false
	}
	c.r.UnreadByte()
	return false, true
}

// readPacket blocks for the next complete packet, returning its payload.
// It returns ctrlC=true (payload empty) if a bare 0x03 arrives outside
// framing, per spec.md §4.6.1.
func (c *conn) readPacket() (payload string, isCtrlC bool, err error) {
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return "", false, err
		}
		switch b {
		case ctrlC:
			return "", true, nil
		case '$':
			// fall through to frame body below
		default:
			continue
		}

		var buf []byte
		for {
			b, err := c.r.ReadByte()
			if err != nil {
				return "", false, err
			}
			if b == '#' {
				break
			}
			buf = append(buf, b)
		}
		csHex := make([]byte, 2)
		if _, err := io.ReadFull(c.r, csHex); err != nil {
			return "", false, err
		}
		want, err := hexDecode(string(csHex))
		if err != nil || len(want) != 1 || want[0] != checksum(buf) {
			c.w.Write([]byte{'-'})
			continue
		}
		c.w.Write([]byte{'+'})
		return string(buf), false, nil
	}
}

func (c *conn) sendPacket(payload string) error {
	cs := checksum([]byte(payload))
	frame := fmt.Sprintf("$%s#%02x", payload, cs)
	_, err := c.w.Write([]byte(frame))
	return err
}
