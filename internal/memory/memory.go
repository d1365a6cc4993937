/*
 * kcore - Physical memory and address routing.
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

// Package memory implements the simulator's single physical RAM window
// plus address routing to the UART, CLINT and magic-address sinks.
package memory

import (
	"log/slog"
)

// Default memory map, per spec.
const (
	DefaultBase = 0x80000000
	DefaultSize = 2 * 1024 * 1024

	UARTBase = 0x10000000
	UARTSize = 0x1000

	CLINTBase = 0x02000000
	CLINTSize = 0x10000

	ConsoleMagicAddr = 0xFFFFFFF4
	ExitMagicAddr    = 0xFFFFFFF0
)

// Device is a memory-mapped peripheral addressed by an offset from its base.
type Device interface {
	Read(offset uint32) uint32
	Write(offset uint32, value uint32)
}

// AccessKind distinguishes watchpoint match kinds.
type AccessKind int

const (
	AccessRead AccessKind = iota
	AccessWrite
)

// Watcher is consulted on every non-fetch memory access so the GDB stub
// can implement watchpoints without the memory package knowing about GDB.
type Watcher interface {
	// Check is told about one access; a watcher that matches it records
	// whatever context (hit address) it needs to stop the run later.
	Check(addr uint32, size int, kind AccessKind)
}

// Memory owns the RAM window and routes accesses to it or to devices.
type Memory struct {
	Base uint32
	Size uint32
	Data []byte

	UART  Device
	CLINT Device

	// TohostAddr is resolved by the ELF loader; zero means "not present".
	TohostAddr uint32

	// ExitRequested/ExitCode are set by a write to the exit magic address
	// or a non-zero write to TohostAddr.
	ExitRequested bool
	ExitCode      uint32

	// Console receives bytes written to the console magic address.
	Console func(b byte)

	Watcher Watcher

	// PC is read on every access to exempt instruction fetch from
	// watchpoint matching (spec: "fetch is exempt").
	PC uint32
}

// New allocates a zeroed RAM window of size bytes starting at base.
func New(base, size uint32) *Memory {
	return &Memory{
		Base: base,
		Size: size,
		Data: make([]byte, size),
	}
}

func (m *Memory) inRAM(addr uint32, size uint32) bool {
	return addr >= m.Base && addr+size <= m.Base+m.Size && addr+size >= addr
}

func (m *Memory) checkWatch(addr uint32, size int, kind AccessKind) {
	if m.Watcher == nil {
		return
	}
	if addr == m.PC {
		return
	}
	m.Watcher.Check(addr, size, kind)
}

// Read performs a size-byte (1, 2 or 4) little-endian load.
func (m *Memory) Read(addr uint32, size int) uint32 {
	if addr != m.PC {
		m.checkWatch(addr, size, AccessRead)
	}

	switch {
	case addr == ConsoleMagicAddr:
		return 0
	case addr == ExitMagicAddr:
		return 0
	case addr >= UARTBase && addr < UARTBase+UARTSize:
		if m.UART != nil {
			return m.UART.Read(addr - UARTBase)
		}
		return 0
	case addr >= CLINTBase && addr < CLINTBase+CLINTSize:
		if m.CLINT != nil {
			return m.CLINT.Read(addr - CLINTBase)
		}
		return 0
	case m.TohostAddr != 0 && addr == m.TohostAddr:
		return 0
	case m.inRAM(addr, uint32(size)):
		off := addr - m.Base
		v := uint32(0)
		for i := 0; i < size; i++ {
			v |= uint32(m.Data[off+uint32(i)]) << (8 * i)
		}
		return v
	default:
		if addr != m.PC {
			slog.Warn("memory read out of bounds", "addr", addr, "size", size, "pc", m.PC)
		}
		return 0
	}
}

// Write performs a size-byte (1, 2 or 4) little-endian store.
func (m *Memory) Write(addr uint32, value uint32, size int) {
	m.checkWatch(addr, size, AccessWrite)

	switch {
	case addr == ConsoleMagicAddr:
		if m.Console != nil {
			m.Console(byte(value))
		}
		return
	case addr == ExitMagicAddr:
		m.ExitCode = (value >> 1) & 0x7fffffff
		m.ExitRequested = true
		return
	case addr >= UARTBase && addr < UARTBase+UARTSize:
		if m.UART != nil {
			m.UART.Write(addr-UARTBase, value)
		}
		return
	case addr >= CLINTBase && addr < CLINTBase+CLINTSize:
		if m.CLINT != nil {
			m.CLINT.Write(addr-CLINTBase, value)
		}
		return
	case m.TohostAddr != 0 && addr == m.TohostAddr:
		if value != 0 {
			m.ExitCode = (value >> 1) & 0x7fffffff
			m.ExitRequested = true
		}
		return
	case m.inRAM(addr, uint32(size)):
		off := addr - m.Base
		for i := 0; i < size; i++ {
			m.Data[off+uint32(i)] = byte(value >> (8 * i))
		}
		return
	default:
		slog.Warn("memory write out of bounds", "addr", addr, "size", size, "value", value, "pc", m.PC)
	}
}

// ReadByte/ReadHalf/ReadWord are fixed-width convenience wrappers over
// Read/Write, used by instruction fetch, the operator console and tests.
func (m *Memory) ReadByte(addr uint32) uint8  { return uint8(m.Read(addr, 1)) }
func (m *Memory) ReadHalf(addr uint32) uint16 { return uint16(m.Read(addr, 2)) }
func (m *Memory) ReadWord(addr uint32) uint32 { return m.Read(addr, 4) }

func (m *Memory) WriteByte(addr uint32, v uint8)  { m.Write(addr, uint32(v), 1) }
func (m *Memory) WriteHalf(addr uint32, v uint16) { m.Write(addr, uint32(v), 2) }
func (m *Memory) WriteWord(addr uint32, v uint32) { m.Write(addr, v, 4) }

// LoadSegment copies data into the RAM window at paddr, truncating the
// tail to fit the configured window and zero-filling [len(data), memsz).
// A segment whose start address lies outside the window is skipped whole,
// even when its later bytes would fall inside it. Never touches memory
// outside the window.
func (m *Memory) LoadSegment(paddr uint32, data []byte, memsz uint32) {
	if paddr < m.Base || paddr >= m.Base+m.Size {
		slog.Warn("segment outside memory window, skipped", "paddr", paddr)
		return
	}
	off := paddr - m.Base
	avail := m.Size - off

	n := uint32(len(data))
	if n > avail {
		n = avail
	}
	copy(m.Data[off:off+n], data[:n])

	if memsz > n {
		zlen := memsz - n
		if zlen > avail-n {
			zlen = avail - n
		}
		clear(m.Data[off+n : off+n+zlen])
	}
}
