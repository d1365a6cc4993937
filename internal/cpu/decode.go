/*
 * kcore - RV32IMA instruction decode and execute.
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

// Major opcodes (bits [6:2], since [1:0] == 0b11 for all 32-bit encodings).
const (
	opLoad     = 0b00000
	opMiscMem  = 0b00011
	opOpImm    = 0b00100
	opAuipc    = 0b00101
	opStore    = 0b01000
	opAmo      = 0b01011
	opOp       = 0b01100
	opLui      = 0b01101
	opBranch   = 0b11000
	opJalr     = 0b11001
	opJal      = 0b11011
	opSystem   = 0b11100
)

type decoded struct {
	opcode uint32
	rd     uint32
	rs1    uint32
	rs2    uint32
	funct3 uint32
	funct7 uint32
	immI   uint32
	immS   uint32
	immB   uint32
	immU   uint32
	immJ   uint32
}

func decode(inst uint32) decoded {
	var d decoded
	d.opcode = (inst >> 2) & 0x1F
	d.rd = (inst >> 7) & 0x1F
	d.funct3 = (inst >> 12) & 0x7
	d.rs1 = (inst >> 15) & 0x1F
	d.rs2 = (inst >> 20) & 0x1F
	d.funct7 = (inst >> 25) & 0x7F

	d.immI = signExtend(inst>>20, 12)
	d.immS = signExtend(((inst>>25)<<5)|((inst>>7)&0x1F), 12)

	immB := ((inst >> 7) & 1 << 11) | ((inst >> 25) & 0x3F << 5) | ((inst >> 8) & 0xF << 1) | ((inst >> 31) & 1 << 12)
	d.immB = signExtend(immB, 13)

	d.immU = inst & 0xFFFFF000

	immJ := ((inst >> 21) & 0x3FF << 1) | ((inst >> 20) & 1 << 11) | ((inst >> 12) & 0xFF << 12) | ((inst >> 31) & 1 << 20)
	d.immJ = signExtend(immJ, 21)

	return d
}

// execute runs one decoded instruction, advancing *nextPC for control-flow
// instructions. Returns (stop, reason) when the instruction should end the
// run loop (EBREAK, ECALL, or a fault this simulator treats as fatal).
func (c *CPU) execute(inst uint32, nextPC *uint32) (bool, StopReason) {
	d := decode(inst)
	pc := c.PC

	switch d.opcode {
	case opLui:
		c.setReg(d.rd, d.immU)

	case opAuipc:
		c.setReg(d.rd, pc+d.immU)

	case opJal:
		c.setReg(d.rd, pc+4)
		*nextPC = pc + d.immJ

	case opJalr:
		target := (c.reg(d.rs1) + d.immI) &^ 1
		c.setReg(d.rd, pc+4)
		*nextPC = target

	case opBranch:
		taken := c.branchTaken(d)
		if taken {
			*nextPC = pc + d.immB
		}

	case opLoad:
		return c.execLoad(d)

	case opStore:
		return c.execStore(d)

	case opOpImm:
		c.execOpImm(d)

	case opOp:
		return c.execOp(d)

	case opMiscMem:
		// FENCE / FENCE.I: single-hart in-order model, no-op.

	case opSystem:
		stop, reason := c.execSystem(d, inst)
		if inst == 0x30200073 { // MRET: resume at the mepc that mret() loaded
			*nextPC = c.PC
		}
		return stop, reason

	case opAmo:
		return c.execAmo(d)

	default:
		c.takeTrap(CauseIllegalInstruction, inst)
		return true, StopIllegal
	}

	return false, StopNone
}

func (c *CPU) reg(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return c.Regs[n]
}

func (c *CPU) setReg(n uint32, v uint32) {
	if n != 0 {
		c.Regs[n] = v
		c.traceRdSet, c.traceRd = true, n
	}
}

func (c *CPU) branchTaken(d decoded) bool {
	a, b := c.reg(d.rs1), c.reg(d.rs2)
	switch d.funct3 {
	case 0b000: // BEQ
		return a == b
	case 0b001: // BNE
		return a != b
	case 0b100: // BLT
		return int32(a) < int32(b)
	case 0b101: // BGE
		return int32(a) >= int32(b)
	case 0b110: // BLTU
		return a < b
	case 0b111: // BGEU
		return a >= b
	default:
		return false
	}
}

func (c *CPU) execLoad(d decoded) (bool, StopReason) {
	addr := c.reg(d.rs1) + d.immI
	c.traceMemSet, c.traceMemAddr, c.traceMemStore = true, addr, false
	switch d.funct3 {
	case 0b000: // LB
		c.setReg(d.rd, signExtend(c.Mem.Read(addr, 1), 8))
	case 0b001: // LH
		c.setReg(d.rd, signExtend(c.Mem.Read(addr, 2), 16))
	case 0b010: // LW
		c.setReg(d.rd, c.Mem.Read(addr, 4))
	case 0b100: // LBU
		c.setReg(d.rd, c.Mem.Read(addr, 1))
	case 0b101: // LHU
		c.setReg(d.rd, c.Mem.Read(addr, 2))
	default:
		c.takeTrap(CauseIllegalInstruction, 0)
		return true, StopIllegal
	}
	return false, StopNone
}

func (c *CPU) execStore(d decoded) (bool, StopReason) {
	addr := c.reg(d.rs1) + d.immS
	val := c.reg(d.rs2)
	c.traceMemSet, c.traceMemAddr, c.traceMemVal, c.traceMemStore = true, addr, val, true
	switch d.funct3 {
	case 0b000: // SB
		c.Mem.Write(addr, val, 1)
	case 0b001: // SH
		c.Mem.Write(addr, val, 2)
	case 0b010: // SW
		c.Mem.Write(addr, val, 4)
	default:
		c.takeTrap(CauseIllegalInstruction, 0)
		return true, StopIllegal
	}
	return false, StopNone
}

func (c *CPU) execOpImm(d decoded) {
	a := c.reg(d.rs1)
	switch d.funct3 {
	case 0b000: // ADDI
		c.setReg(d.rd, a+d.immI)
	case 0b010: // SLTI
		c.setReg(d.rd, boolToWord(int32(a) < int32(d.immI)))
	case 0b011: // SLTIU
		c.setReg(d.rd, boolToWord(a < d.immI))
	case 0b100: // XORI
		c.setReg(d.rd, a^d.immI)
	case 0b110: // ORI
		c.setReg(d.rd, a|d.immI)
	case 0b111: // ANDI
		c.setReg(d.rd, a&d.immI)
	case 0b001: // SLLI
		c.setReg(d.rd, a<<(d.immI&0x1F))
	case 0b101: // SRLI/SRAI
		shamt := d.immI & 0x1F
		if d.immI&0x400 != 0 {
			c.setReg(d.rd, uint32(int32(a)>>shamt))
		} else {
			c.setReg(d.rd, a>>shamt)
		}
	}
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (c *CPU) execOp(d decoded) (bool, StopReason) {
	a, b := c.reg(d.rs1), c.reg(d.rs2)

	if d.funct7 == 0b0000001 {
		// RV32M: multiply/divide.
		switch d.funct3 {
		case 0b000: // MUL
			c.setReg(d.rd, a*b)
		case 0b001: // MULH
			c.setReg(d.rd, uint32(int64(int32(a))*int64(int32(b))>>32))
		case 0b010: // MULHSU
			c.setReg(d.rd, uint32((int64(int32(a))*int64(uint64(b)))>>32))
		case 0b011: // MULHU
			c.setReg(d.rd, uint32((uint64(a)*uint64(b))>>32))
		case 0b100: // DIV
			c.setReg(d.rd, divSigned(int32(a), int32(b)))
		case 0b101: // DIVU
			c.setReg(d.rd, divUnsigned(a, b))
		case 0b110: // REM
			c.setReg(d.rd, remSigned(int32(a), int32(b)))
		case 0b111: // REMU
			c.setReg(d.rd, remUnsigned(a, b))
		}
		return false, StopNone
	}

	switch {
	case d.funct3 == 0b000 && d.funct7 == 0b0000000: // ADD
		c.setReg(d.rd, a+b)
	case d.funct3 == 0b000 && d.funct7 == 0b0100000: // SUB
		c.setReg(d.rd, a-b)
	case d.funct3 == 0b001: // SLL
		c.setReg(d.rd, a<<(b&0x1F))
	case d.funct3 == 0b010: // SLT
		c.setReg(d.rd, boolToWord(int32(a) < int32(b)))
	case d.funct3 == 0b011: // SLTU
		c.setReg(d.rd, boolToWord(a < b))
	case d.funct3 == 0b100: // XOR
		c.setReg(d.rd, a^b)
	case d.funct3 == 0b101 && d.funct7 == 0b0000000: // SRL
		c.setReg(d.rd, a>>(b&0x1F))
	case d.funct3 == 0b101 && d.funct7 == 0b0100000: // SRA
		c.setReg(d.rd, uint32(int32(a)>>(b&0x1F)))
	case d.funct3 == 0b110: // OR
		c.setReg(d.rd, a|b)
	case d.funct3 == 0b111: // AND
		c.setReg(d.rd, a&b)
	default:
		c.takeTrap(CauseIllegalInstruction, 0)
		return true, StopIllegal
	}
	return false, StopNone
}

// divSigned/remSigned implement RISC-V's defined div-by-zero and
// signed-overflow results (section 7.2 of the unprivileged spec): division
// by zero does not trap, and INT_MIN/-1 does not overflow-trap either.
func divSigned(a, b int32) uint32 {
	switch {
	case b == 0:
		return 0xFFFFFFFF
	case a == -0x80000000 && b == -1:
		return uint32(a)
	default:
		return uint32(a / b)
	}
}

func divUnsigned(a, b uint32) uint32 {
	if b == 0 {
		return 0xFFFFFFFF
	}
	return a / b
}

func remSigned(a, b int32) uint32 {
	switch {
	case b == 0:
		return uint32(a)
	case a == -0x80000000 && b == -1:
		return 0
	default:
		return uint32(a % b)
	}
}

func remUnsigned(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	return a % b
}

func (c *CPU) execSystem(d decoded, inst uint32) (bool, StopReason) {
	switch d.funct3 {
	case 0b000:
		switch inst {
		case 0x00000073: // ECALL
			c.takeTrap(CauseECallFromM, 0)
			return true, StopECall
		case 0x00100073: // EBREAK
			c.takeTrap(CauseBreakpoint, c.PC)
			return true, StopBreakpoint
		case 0x30200073: // MRET
			c.mret()
			return false, StopNone
		default:
			c.takeTrap(CauseIllegalInstruction, inst)
			return true, StopIllegal
		}

	case 0b001: // CSRRW
		csr := d.funct7<<5 | d.rs2
		old := c.readCSR(csr)
		c.writeCSR(csr, c.reg(d.rs1))
		c.traceCSRSet, c.traceCSR = true, csr
		c.setReg(d.rd, old)
	case 0b010: // CSRRS
		csr := d.funct7<<5 | d.rs2
		old := c.readCSR(csr)
		if d.rs1 != 0 {
			c.writeCSR(csr, old|c.reg(d.rs1))
			c.traceCSRSet, c.traceCSR = true, csr
		}
		c.setReg(d.rd, old)
	case 0b011: // CSRRC
		csr := d.funct7<<5 | d.rs2
		old := c.readCSR(csr)
		if d.rs1 != 0 {
			c.writeCSR(csr, old&^c.reg(d.rs1))
			c.traceCSRSet, c.traceCSR = true, csr
		}
		c.setReg(d.rd, old)
	case 0b101: // CSRRWI
		csr := d.funct7<<5 | d.rs2
		old := c.readCSR(csr)
		c.writeCSR(csr, d.rs1)
		c.traceCSRSet, c.traceCSR = true, csr
		c.setReg(d.rd, old)
	case 0b110: // CSRRSI
		csr := d.funct7<<5 | d.rs2
		old := c.readCSR(csr)
		if d.rs1 != 0 {
			c.writeCSR(csr, old|d.rs1)
			c.traceCSRSet, c.traceCSR = true, csr
		}
		c.setReg(d.rd, old)
	case 0b111: // CSRRCI
		csr := d.funct7<<5 | d.rs2
		old := c.readCSR(csr)
		if d.rs1 != 0 {
			c.writeCSR(csr, old&^d.rs1)
			c.traceCSRSet, c.traceCSR = true, csr
		}
		c.setReg(d.rd, old)
	default:
		c.takeTrap(CauseIllegalInstruction, inst)
		return true, StopIllegal
	}
	return false, StopNone
}

// execAmo implements the A extension: LR.W, SC.W and the AMO*.W family.
// Single-hart, so SC.W always succeeds while a reservation is outstanding
// (SPEC_FULL.md resolution of the open question in spec.md §4.5).
func (c *CPU) execAmo(d decoded) (bool, StopReason) {
	funct5 := d.funct7 >> 2
	addr := c.reg(d.rs1)

	switch funct5 {
	case 0b00010: // LR.W
		val := c.Mem.Read(addr, 4)
		c.traceMemSet, c.traceMemAddr, c.traceMemStore = true, addr, false
		c.lr = reservation{valid: true, addr: addr}
		c.setReg(d.rd, val)
		return false, StopNone
	case 0b00011: // SC.W
		if c.lr.valid && c.lr.addr == addr {
			val := c.reg(d.rs2)
			c.Mem.Write(addr, val, 4)
			c.traceMemSet, c.traceMemAddr, c.traceMemVal, c.traceMemStore = true, addr, val, true
			c.setReg(d.rd, 0)
		} else {
			c.setReg(d.rd, 1)
		}
		c.lr = reservation{}
		return false, StopNone
	}

	old := c.Mem.Read(addr, 4)
	rs2 := c.reg(d.rs2)
	var result uint32
	switch funct5 {
	case 0b00001: // AMOSWAP.W
		result = rs2
	case 0b00000: // AMOADD.W
		result = old + rs2
	case 0b00100: // AMOXOR.W
		result = old ^ rs2
	case 0b01100: // AMOAND.W
		result = old & rs2
	case 0b01000: // AMOOR.W
		result = old | rs2
	case 0b10000: // AMOMIN.W
		if int32(old) < int32(rs2) {
			result = old
		} else {
			result = rs2
		}
	case 0b10100: // AMOMAX.W
		if int32(old) > int32(rs2) {
			result = old
		} else {
			result = rs2
		}
	case 0b11000: // AMOMINU.W
		if old < rs2 {
			result = old
		} else {
			result = rs2
		}
	case 0b11100: // AMOMAXU.W
		if old > rs2 {
			result = old
		} else {
			result = rs2
		}
	default:
		c.takeTrap(CauseIllegalInstruction, 0)
		return true, StopIllegal
	}

	c.Mem.Write(addr, result, 4)
	c.traceMemSet, c.traceMemAddr, c.traceMemVal, c.traceMemStore = true, addr, result, true
	c.setReg(d.rd, old)
	c.lr = reservation{}
	return false, StopNone
}
