package cpu

import (
	"testing"

	"github.com/kuopinghsu/kcore/internal/memory"
)

func newTestCPU() (*CPU, *memory.Memory) {
	mem := memory.New(memory.DefaultBase, 4096)
	c := New(mem, nil)
	c.Reset(memory.DefaultBase)
	return c, mem
}

func asm(mem *memory.Memory, pc uint32, words ...uint32) {
	for i, w := range words {
		mem.WriteWord(pc+uint32(i*4), w)
	}
}

// encodeI builds an I-type instruction.
func encodeI(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return (uint32(imm)&0xFFF)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func TestX0AlwaysReadsZero(t *testing.T) {
	c, mem := newTestCPU()
	// ADDI x0, x0, 5
	asm(mem, c.PC, encodeI(0b0010011, 0, 0, 0, 5))
	c.Step()
	if c.Regs[0] != 0 {
		t.Fatalf("x0 = %d, want 0", c.Regs[0])
	}
}

func TestAddImmediate(t *testing.T) {
	c, mem := newTestCPU()
	// ADDI x1, x0, 42
	asm(mem, c.PC, encodeI(0b0010011, 1, 0, 0, 42))
	c.Step()
	if c.Regs[1] != 42 {
		t.Fatalf("x1 = %d, want 42", c.Regs[1])
	}
	if c.PC != memory.DefaultBase+4 {
		t.Fatalf("pc = %#x, want base+4", c.PC)
	}
}

func TestDivisionByZero(t *testing.T) {
	c, mem := newTestCPU()
	// ADDI x1, x0, 10 ; ADDI x2, x0, 0 ; DIV x3, x1, x2 ; DIVU x4, x1, x2
	base := c.PC
	asm(mem, base,
		encodeI(0b0010011, 1, 0, 0, 10),
		encodeI(0b0010011, 2, 0, 0, 0),
		encodeR(0b0110011, 3, 0b100, 1, 2, 0b0000001),
		encodeR(0b0110011, 4, 0b101, 1, 2, 0b0000001),
	)
	for i := 0; i < 4; i++ {
		c.Step()
	}
	if c.Regs[3] != 0xFFFFFFFF {
		t.Fatalf("DIV by zero = %#x, want all-ones", c.Regs[3])
	}
	if c.Regs[4] != 0xFFFFFFFF {
		t.Fatalf("DIVU by zero = %#x, want all-ones", c.Regs[4])
	}
}

func TestDivisionOverflow(t *testing.T) {
	c, mem := newTestCPU()
	base := c.PC
	// x1 = INT_MIN, x2 = -1
	asm(mem, base,
		encodeI(0b0110111, 1, 0, 0, 0), // placeholder, fixed below via direct reg write
	)
	c.Regs[1] = 0x80000000
	c.Regs[2] = 0xFFFFFFFF
	asm(mem, base, encodeR(0b0110011, 3, 0b100, 1, 2, 0b0000001)) // DIV x3, x1, x2
	c.Step()
	if c.Regs[3] != 0x80000000 {
		t.Fatalf("INT_MIN/-1 = %#x, want 0x80000000", c.Regs[3])
	}
}

func TestTrapAndMret(t *testing.T) {
	c, mem := newTestCPU()
	c.writeCSR(CSRMtvec, 0x80000100)

	base := c.PC
	asm(mem, base, 0x00100073) // EBREAK
	res := c.Step()
	if !res.Stop || res.Reason != StopBreakpoint {
		t.Fatalf("expected breakpoint stop, got %+v", res)
	}
	if c.PC != 0x80000100 {
		t.Fatalf("pc after trap = %#x, want mtvec", c.PC)
	}
	if c.readCSR(CSRMepc) != base {
		t.Fatalf("mepc = %#x, want %#x", c.readCSR(CSRMepc), base)
	}
	if c.csr.mstatus&mstatusMIEBit != 0 {
		t.Fatalf("MIE should be cleared after trap")
	}

	// MRET
	asm(mem, c.PC, 0x30200073)
	c.Step()
	if c.PC != base {
		t.Fatalf("pc after mret = %#x, want %#x", c.PC, base)
	}
}

func TestLoadStoreRoundTrip(t *testing.T) {
	c, mem := newTestCPU()
	base := c.PC
	c.Regs[1] = memory.DefaultBase + 0x100
	c.Regs[2] = 0xDEADBEEF

	asm(mem, base,
		encodeI(0b0100011, 0, 0b010, 1, 0), // placeholder overwritten below
	)
	// SW x2, 0(x1)
	swInst := (uint32(0)&0x1F)<<7 | 1<<15 | 0b010<<12 | 2<<20 | 0b0100011
	mem.WriteWord(base, swInst)
	c.Step()
	if v := mem.ReadWord(memory.DefaultBase + 0x100); v != 0xDEADBEEF {
		t.Fatalf("stored value = %#x, want 0xDEADBEEF", v)
	}

	// LW x3, 0(x1)
	lwInst := encodeI(0b0000011, 3, 0b010, 1, 0)
	mem.WriteWord(c.PC, lwInst)
	c.Step()
	if c.Regs[3] != 0xDEADBEEF {
		t.Fatalf("loaded value = %#x, want 0xDEADBEEF", c.Regs[3])
	}
}

func TestCompressedEncodingFaults(t *testing.T) {
	c, mem := newTestCPU()
	mem.WriteWord(c.PC, 0x00000001) // low bits != 11, looks like a C extension opcode
	res := c.Step()
	if !res.Stop || res.Reason != StopIllegal {
		t.Fatalf("expected illegal-instruction stop for compressed encoding, got %+v", res)
	}
	if c.readCSR(CSRMcause) != CauseIllegalInstruction {
		t.Fatalf("mcause = %d, want illegal instruction", c.readCSR(CSRMcause))
	}
}
