/*
 * kcore - RV32IMAC interpreter core.
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

// Package cpu implements the RV32IMA (plus Zicsr) fetch-decode-execute
// cycle, CSR file and trap delivery.
package cpu

import (
	"fmt"
	"log/slog"

	"github.com/kuopinghsu/kcore/internal/memory"
)

// Trap causes, per the privileged spec subset this simulator implements.
const (
	CauseIllegalInstruction  = 2
	CauseBreakpoint          = 3
	CauseLoadAddrMisaligned  = 4
	CauseStoreAddrMisaligned = 6
	CauseECallFromM          = 11
	CauseMachineSoftwareIRQ  = 0x80000003
	CauseMachineTimerIRQ     = 0x80000007
)

// StopReason explains why Step returned with Stop set.
type StopReason int

const (
	StopNone StopReason = iota
	StopBreakpoint
	StopECall
	StopExit
	StopIllegal
)

// reservation models the LR.W/SC.W pair; this simulator is single-hart so
// SC.W always succeeds when a reservation is outstanding (spec.md §4.5,
// open question resolved in SPEC_FULL.md: SC.W always succeeds).
type reservation struct {
	valid bool
	addr  uint32
}

// CPU is the complete machine-mode hart state: general registers, PC, CSR
// file and a reference to the memory/device fabric it executes against.
type CPU struct {
	Regs [32]uint32
	PC   uint32

	csr csrFile
	lr  reservation

	Mem   *memory.Memory
	clint mtimeSource

	InstCount       uint64
	MaxInstructions uint64

	// CommitLog, when non-nil, receives one line per retired instruction
	// in the simulator's trace format (spec.md §4.5.4).
	CommitLog func(line string)

	trapped bool

	// Fields below capture the single GPR write, CSR write, or memory
	// access (at most one of each) a retiring instruction performed, for
	// commit-trace formatting; reset at the top of every Step.
	traceRdSet    bool
	traceRd       uint32
	traceCSRSet   bool
	traceCSR      uint32
	traceMemSet   bool
	traceMemAddr  uint32
	traceMemVal   uint32
	traceMemStore bool
}

// New returns a CPU wired to mem, with a timer source for the time/timeh
// CSRs (typically the CLINT); clint may be nil.
func New(mem *memory.Memory, clint mtimeSource) *CPU {
	c := &CPU{Mem: mem, clint: clint, MaxInstructions: 100_000_000}
	c.csr.mstatus = mstatusMIEBit
	return c
}

// Reset restores the hart to its power-on state, resuming at entry.
func (c *CPU) Reset(entry uint32) {
	c.Regs = [32]uint32{}
	c.PC = entry
	c.csr = csrFile{mstatus: mstatusMIEBit}
	c.lr = reservation{}
	c.InstCount = 0
}

func signExtend(value uint32, bits uint) uint32 {
	shift := 32 - bits
	return uint32(int32(value<<shift) >> shift)
}

// interruptPending reports the highest-priority pending, enabled interrupt
// cause, or 0 if none. Timer outranks software per spec.md §4.5.2.
func (c *CPU) interruptPending() uint32 {
	if c.csr.mstatus&mstatusMIEBit == 0 {
		return 0
	}
	timerPending := c.clint != nil && c.timerPending()
	swPending := c.clint != nil && c.softwarePending()

	if timerPending {
		c.csr.mip |= 0x080
	} else {
		c.csr.mip &^= 0x080
	}
	if swPending {
		c.csr.mip |= 0x008
	} else {
		c.csr.mip &^= 0x008
	}

	enabledTimer := c.csr.mie&0x080 != 0 && timerPending
	enabledSW := c.csr.mie&0x008 != 0 && swPending

	switch {
	case enabledTimer:
		return CauseMachineTimerIRQ
	case enabledSW:
		return CauseMachineSoftwareIRQ
	default:
		return 0
	}
}

// timerPending/softwarePending adapt the CLINT's concrete interface; CLINT
// exposes TimerPending/SoftwarePending in addition to Mtime, asserted here
// via a local interface so cpu need not import the concrete device type.
func (c *CPU) timerPending() bool {
	type pendingSource interface{ TimerPending() bool }
	if p, ok := c.clint.(pendingSource); ok {
		return p.TimerPending()
	}
	return false
}

func (c *CPU) softwarePending() bool {
	type pendingSource interface{ SoftwarePending() bool }
	if p, ok := c.clint.(pendingSource); ok {
		return p.SoftwarePending()
	}
	return false
}

// takeTrap delivers a trap (exception or interrupt) per spec.md §4.5.2:
// mepc/mcause/mtval are latched, MPIE takes MIE, MIE clears, and PC jumps
// to mtvec (direct mode only, low two bits masked).
func (c *CPU) takeTrap(cause uint32, tval uint32) {
	c.trapped = true
	c.csr.mepc = c.PC
	c.csr.mcause = cause
	c.csr.mtval = tval

	mstatus := c.csr.mstatus
	if mstatus&mstatusMIEBit != 0 {
		mstatus |= mstatusMPIEBit
	} else {
		mstatus &^= mstatusMPIEBit
	}
	mstatus &^= mstatusMIEBit
	c.csr.mstatus = mstatus

	c.PC = c.csr.mtvec &^ 3
}

func (c *CPU) mret() {
	mstatus := c.csr.mstatus
	if mstatus&mstatusMPIEBit != 0 {
		mstatus |= mstatusMIEBit
	} else {
		mstatus &^= mstatusMIEBit
	}
	mstatus |= mstatusMPIEBit
	c.csr.mstatus = mstatus
	c.PC = c.csr.mepc
}

// StepResult reports what happened during one Step call.
type StepResult struct {
	Stop   bool
	Reason StopReason
}

// Step executes exactly one retired instruction (or delivers exactly one
// trap), then returns. Compressed (16-bit) encodings are not decoded by
// this interpreter; an instruction whose low two bits are not 0b11 raises
// an illegal-instruction exception (spec.md §9 open question, resolved in
// SPEC_FULL.md: unsupported-encoding fault, not silent skip).
func (c *CPU) Step() StepResult {
	if c.clint != nil {
		if t, ok := c.clint.(interface{ Tick() }); ok {
			t.Tick()
		}
	}

	c.trapped = false
	c.traceRdSet, c.traceCSRSet, c.traceMemSet = false, false, false

	if cause := c.interruptPending(); cause != 0 {
		c.takeTrap(cause, 0)
		return StepResult{}
	}

	retiredPC := c.PC
	c.Mem.PC = c.PC
	inst := c.Mem.ReadWord(c.PC)

	if inst&3 != 3 {
		c.takeTrap(CauseIllegalInstruction, inst)
		return StepResult{Stop: true, Reason: StopIllegal}
	}

	nextPC := c.PC + 4
	stop, reason := c.execute(inst, &nextPC)

	c.Regs[0] = 0
	if !c.trapped {
		c.PC = nextPC
	}
	c.InstCount++

	if c.CommitLog != nil {
		c.CommitLog(c.traceLine(retiredPC, inst))
	}

	if c.MaxInstructions != 0 && c.InstCount >= c.MaxInstructions {
		slog.Warn("instruction count limit reached", "limit", c.MaxInstructions)
		stop, reason = true, StopExit
	}

	return StepResult{Stop: stop, Reason: reason}
}

// traceLine formats one retired instruction per spec.md §6:
// `core 0: 3 0x<pc8> (0x<instr8>) [x<rd> 0x<val8>] [c<csr3>_<name> 0x<val8>] [mem 0x<addr8> [0x<val8>]]`
// The GPR and CSR fields are mutually exclusive; a CSR write suppresses the
// GPR-write field on that line.
func (c *CPU) traceLine(pc, inst uint32) string {
	line := fmt.Sprintf("core 0: 3 0x%08x (0x%08x)", pc, inst)

	switch {
	case c.traceCSRSet:
		line += fmt.Sprintf(" c%03x_%s 0x%08x", c.traceCSR, csrName(c.traceCSR), c.readCSR(c.traceCSR))
	case c.traceRdSet:
		line += fmt.Sprintf(" x%d 0x%08x", c.traceRd, c.Regs[c.traceRd])
	}

	if c.traceMemSet {
		line += fmt.Sprintf(" mem 0x%08x", c.traceMemAddr)
		if c.traceMemStore {
			line += fmt.Sprintf(" 0x%08x", c.traceMemVal)
		}
	}

	return line
}

// GDB/console accessor surface -----------------------------------------

// ReadReg returns general register n (0..31) or PC at index 32, matching
// the GDB `g`/`p` register numbering for RV32 targets.
func (c *CPU) ReadReg(n int) uint32 {
	if n == 32 {
		return c.PC
	}
	if n < 0 || n > 31 {
		return 0
	}
	return c.Regs[n]
}

func (c *CPU) WriteReg(n int, v uint32) {
	switch {
	case n == 32:
		c.PC = v
	case n == 0:
		// x0 hardwired
	case n > 0 && n <= 31:
		c.Regs[n] = v
	}
}

func (c *CPU) GetPC() uint32   { return c.PC }
func (c *CPU) SetPC(pc uint32) { c.PC = pc }

func (c *CPU) ReadMem(addr uint32, size int) uint32     { return c.Mem.Read(addr, size) }
func (c *CPU) WriteMem(addr uint32, v uint32, size int) { c.Mem.Write(addr, v, size) }
