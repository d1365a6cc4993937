/*
 * kcore - CLINT device model.
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

package device

// CLINT register offsets.
const (
	CLINTMsip     = 0x0000
	CLINTMtimecmp = 0x4000
	CLINTMtime    = 0xBFF8
)

// CLINT models the core-local interruptor: software and timer interrupt
// sources. Mtime advances once per retired instruction via Tick.
type CLINT struct {
	msip     uint32
	mtimecmp uint64
	mtime    uint64
}

func (c *CLINT) Read(offset uint32) uint32 {
	switch offset {
	case CLINTMsip:
		return c.msip
	case CLINTMtimecmp:
		return uint32(c.mtimecmp)
	case CLINTMtimecmp + 4:
		return uint32(c.mtimecmp >> 32)
	case CLINTMtime:
		return uint32(c.mtime)
	case CLINTMtime + 4:
		return uint32(c.mtime >> 32)
	default:
		return 0
	}
}

func (c *CLINT) Write(offset uint32, value uint32) {
	switch offset {
	case CLINTMsip:
		c.msip = value & 1
	case CLINTMtimecmp:
		c.mtimecmp = (c.mtimecmp &^ 0xFFFFFFFF) | uint64(value)
	case CLINTMtimecmp + 4:
		c.mtimecmp = (c.mtimecmp & 0xFFFFFFFF) | (uint64(value) << 32)
	case CLINTMtime:
		c.mtime = (c.mtime &^ 0xFFFFFFFF) | uint64(value)
	case CLINTMtime + 4:
		c.mtime = (c.mtime & 0xFFFFFFFF) | (uint64(value) << 32)
	}
}

// Tick advances mtime by one; called once per retired instruction.
func (c *CLINT) Tick() { c.mtime++ }

// Mtime returns the current timer value (used to drive the `time`/`timeh` CSRs).
func (c *CLINT) Mtime() uint64 { return c.mtime }

func (c *CLINT) TimerPending() bool    { return c.mtime >= c.mtimecmp }
func (c *CLINT) SoftwarePending() bool { return c.msip != 0 }
