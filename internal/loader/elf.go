/*
 * kcore - ELF32 program loader.
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

// Package loader parses 32-bit ELF program images (or raw binaries) into
// the simulator's physical memory, resolving the tohost/begin_signature/
// end_signature symbols, and extracts architectural test signatures.
package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/kuopinghsu/kcore/internal/memory"
)

const elfMagic = "\x7FELF"

const (
	ptLoad   = 1
	shtSymtab = 2
)

type elf32Ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type elf32Phdr struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

type elf32Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	Addralign uint32
	Entsize   uint32
}

type elf32Sym struct {
	Name  uint32
	Value uint32
	Size  uint32
	Info  uint8
	Other uint8
	Shndx uint16
}

// LoadResult reports what the loader discovered: the PC to seed, and any
// symbols relevant to host-exit handling and signature extraction.
type LoadResult struct {
	Entry          uint32
	TohostAddr     uint32
	SignatureStart uint32
	SignatureEnd   uint32
	HasSignature   bool
}

// Load reads path into mem. ELF images (magic "\x7FELF") are parsed per
// spec.md §4.7; anything else loads as a raw binary at mem.Base.
func Load(path string, mem *memory.Memory) (LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, fmt.Errorf("loader: read %s: %w", path, err)
	}

	if len(data) >= 4 && string(data[:4]) == elfMagic {
		return loadELF(data, mem)
	}
	mem.LoadSegment(mem.Base, data, uint32(len(data)))
	return LoadResult{Entry: mem.Base}, nil
}

func loadELF(data []byte, mem *memory.Memory) (LoadResult, error) {
	r := bytes.NewReader(data)
	var ehdr elf32Ehdr
	if err := binary.Read(r, binary.LittleEndian, &ehdr); err != nil {
		return LoadResult{}, fmt.Errorf("loader: reading ELF header: %w", err)
	}
	if string(ehdr.Ident[:4]) != elfMagic {
		return LoadResult{}, fmt.Errorf("loader: bad ELF magic")
	}

	result := LoadResult{Entry: ehdr.Entry}

	for i := 0; i < int(ehdr.Phnum); i++ {
		off := int64(ehdr.Phoff) + int64(i)*int64(ehdr.Phentsize)
		phdr, err := readPhdr(data, off)
		if err != nil {
			return LoadResult{}, err
		}
		if phdr.Type != ptLoad {
			continue
		}
		if int(phdr.Offset)+int(phdr.Filesz) > len(data) {
			return LoadResult{}, fmt.Errorf("loader: PT_LOAD segment truncated in file")
		}
		seg := data[phdr.Offset : phdr.Offset+phdr.Filesz]
		mem.LoadSegment(phdr.Paddr, seg, phdr.Memsz)
	}

	for i := 0; i < int(ehdr.Shnum); i++ {
		off := int64(ehdr.Shoff) + int64(i)*int64(ehdr.Shentsize)
		shdr, err := readShdr(data, off)
		if err != nil {
			return LoadResult{}, err
		}
		if shdr.Type != shtSymtab {
			continue
		}

		strtabOff := int64(ehdr.Shoff) + int64(shdr.Link)*int64(ehdr.Shentsize)
		strtabHdr, err := readShdr(data, strtabOff)
		if err != nil {
			return LoadResult{}, err
		}
		strtab := data[strtabHdr.Offset : strtabHdr.Offset+strtabHdr.Size]

		symCount := int(shdr.Size) / 16
		for j := 0; j < symCount; j++ {
			sym, err := readSym(data, int64(shdr.Offset)+int64(j)*16)
			if err != nil {
				return LoadResult{}, err
			}
			name := cString(strtab, sym.Name)
			switch name {
			case "tohost":
				result.TohostAddr = sym.Value
			case "begin_signature":
				result.SignatureStart = sym.Value
				result.HasSignature = true
			case "end_signature":
				result.SignatureEnd = sym.Value
				result.HasSignature = true
			}
		}
	}

	return result, nil
}

func readPhdr(data []byte, off int64) (elf32Phdr, error) {
	var p elf32Phdr
	err := binary.Read(bytes.NewReader(sliceFrom(data, off)), binary.LittleEndian, &p)
	return p, err
}

func readShdr(data []byte, off int64) (elf32Shdr, error) {
	var s elf32Shdr
	err := binary.Read(bytes.NewReader(sliceFrom(data, off)), binary.LittleEndian, &s)
	return s, err
}

func readSym(data []byte, off int64) (elf32Sym, error) {
	var s elf32Sym
	err := binary.Read(bytes.NewReader(sliceFrom(data, off)), binary.LittleEndian, &s)
	return s, err
}

func sliceFrom(data []byte, off int64) []byte {
	if off < 0 || off >= int64(len(data)) {
		return nil
	}
	return data[off:]
}

func cString(strtab []byte, off uint32) string {
	if int(off) >= len(strtab) {
		return ""
	}
	end := bytes.IndexByte(strtab[off:], 0)
	if end < 0 {
		return string(strtab[off:])
	}
	return string(strtab[off : int(off)+end])
}
