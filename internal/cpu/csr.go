/*
 * kcore - CSR file.
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

package cpu

import "log/slog"

// Recognized machine-mode CSR addresses.
const (
	CSRMstatus  = 0x300
	CSRMisa     = 0x301
	CSRMie      = 0x304
	CSRMtvec    = 0x305
	CSRMscratch = 0x340
	CSRMepc     = 0x341
	CSRMcause   = 0x342
	CSRMtval    = 0x343
	CSRMip      = 0x344

	CSRCycle    = 0xC00
	CSRTime     = 0xC01
	CSRInstret  = 0xC02
	CSRCycleH   = 0xC80
	CSRTimeH    = 0xC81
	CSRInstretH = 0xC82

	misaRV32IMA = 0x40101105

	mstatusMask = 0x00001888
	mieMipMask  = 0x888

	mstatusMIEBit  = 1 << 3
	mstatusMPIEBit = 1 << 7
)

// csrName maps an address to the name used in commit trace lines; unknown
// addresses fall back to "unknown".
func csrName(addr uint32) string {
	switch addr {
	case CSRMstatus:
		return "mstatus"
	case CSRMisa:
		return "misa"
	case CSRMie:
		return "mie"
	case CSRMtvec:
		return "mtvec"
	case CSRMscratch:
		return "mscratch"
	case CSRMepc:
		return "mepc"
	case CSRMcause:
		return "mcause"
	case CSRMtval:
		return "mtval"
	case CSRMip:
		return "mip"
	case CSRCycle:
		return "cycle"
	case CSRTime:
		return "time"
	case CSRInstret:
		return "instret"
	case CSRCycleH:
		return "cycleh"
	case CSRTimeH:
		return "timeh"
	case CSRInstretH:
		return "instreth"
	default:
		return "unknown"
	}
}

// csrFile holds the machine-mode CSR subset the simulator exposes. The
// counter CSRs are not stored here: cycle/instret read CPU.InstCount and
// time/timeh read the CLINT (spec.md §9 open question, resolved in
// SPEC_FULL.md §4.4).
type csrFile struct {
	mstatus  uint32
	mie      uint32
	mtvec    uint32
	mscratch uint32
	mepc     uint32
	mcause   uint32
	mtval    uint32
	mip      uint32
}

// mtimeSource supplies the `time`/`timeh` CSR values from the CLINT.
type mtimeSource interface {
	Mtime() uint64
}

func (c *CPU) readCSR(addr uint32) uint32 {
	switch addr {
	case CSRMstatus:
		return c.csr.mstatus
	case CSRMisa:
		return misaRV32IMA
	case CSRMie:
		return c.csr.mie
	case CSRMtvec:
		return c.csr.mtvec
	case CSRMscratch:
		return c.csr.mscratch
	case CSRMepc:
		return c.csr.mepc
	case CSRMcause:
		return c.csr.mcause
	case CSRMtval:
		return c.csr.mtval
	case CSRMip:
		return c.csr.mip
	case CSRCycle, CSRInstret:
		return uint32(c.InstCount)
	case CSRCycleH, CSRInstretH:
		return uint32(c.InstCount >> 32)
	case CSRTime:
		if c.clint != nil {
			return uint32(c.clint.Mtime())
		}
		return 0
	case CSRTimeH:
		if c.clint != nil {
			return uint32(c.clint.Mtime() >> 32)
		}
		return 0
	default:
		slog.Warn("reading unknown CSR", "csr", addr)
		return 0
	}
}

func (c *CPU) writeCSR(addr uint32, value uint32) {
	switch addr {
	case CSRMstatus:
		c.csr.mstatus = value & mstatusMask
	case CSRMisa:
		// read-only
	case CSRMie:
		c.csr.mie = value & mieMipMask
	case CSRMtvec:
		c.csr.mtvec = value
	case CSRMscratch:
		c.csr.mscratch = value
	case CSRMepc:
		c.csr.mepc = value &^ 3
	case CSRMcause:
		c.csr.mcause = value
	case CSRMtval:
		c.csr.mtval = value
	case CSRMip:
		c.csr.mip = value & mieMipMask
	case CSRCycle, CSRInstret, CSRCycleH, CSRInstretH, CSRTime, CSRTimeH:
		// counter CSRs are read-only views driven internally
	default:
		slog.Warn("writing unknown CSR", "csr", addr, "value", value)
	}
}
