package loader

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/kuopinghsu/kcore/internal/memory"
)

// buildMinimalELF assembles a tiny ELF32 image with one PT_LOAD segment
// and a symbol table naming tohost/begin_signature/end_signature, enough
// to exercise loadELF's program-header and symbol-table walks.
func buildMinimalELF(t *testing.T) []byte {
	t.Helper()

	const (
		entry    = memory.DefaultBase
		code     = "\x13\x00\x00\x00" // ADDI x0, x0, 0 (NOP)
		ehdrSize = 52
		phdrSize = 32
		shdrSize = 40
	)

	phdrOff := uint32(ehdrSize)
	codeOff := phdrOff + phdrSize
	codeLen := uint32(len(code))

	strtab := []byte{0}
	nameOff := map[string]uint32{}
	for _, n := range []string{"tohost", "begin_signature", "end_signature"} {
		nameOff[n] = uint32(len(strtab))
		strtab = append(strtab, append([]byte(n), 0)...)
	}
	strtabOff := codeOff + codeLen
	symtabOff := strtabOff + uint32(len(strtab))

	syms := []elf32Sym{
		{Name: nameOff["tohost"], Value: entry + 0x1000},
		{Name: nameOff["begin_signature"], Value: entry + 0x2000},
		{Name: nameOff["end_signature"], Value: entry + 0x2010},
	}
	var symBuf bytes.Buffer
	for _, s := range syms {
		binary.Write(&symBuf, binary.LittleEndian, s)
	}
	shOff := symtabOff + uint32(symBuf.Len())

	var buf bytes.Buffer
	ehdr := elf32Ehdr{
		Entry: entry, Phoff: phdrOff, Shoff: shOff,
		Phnum: 1, Phentsize: phdrSize, Shentsize: shdrSize, Shnum: 2,
	}
	copy(ehdr.Ident[:4], elfMagic)
	binary.Write(&buf, binary.LittleEndian, ehdr)

	phdr := elf32Phdr{Type: ptLoad, Offset: codeOff, Paddr: entry, Filesz: codeLen, Memsz: codeLen}
	binary.Write(&buf, binary.LittleEndian, phdr)

	buf.WriteString(code)
	buf.Write(strtab)
	symBuf.WriteTo(&buf)

	shdrs := []elf32Shdr{
		{Type: 3, Offset: strtabOff, Size: uint32(len(strtab))},                                 // SHT_STRTAB
		{Type: shtSymtab, Offset: symtabOff, Size: shOff - symtabOff, Link: 0},                   // SHT_SYMTAB, linked to section 0
	}
	for _, s := range shdrs {
		binary.Write(&buf, binary.LittleEndian, s)
	}

	return buf.Bytes()
}

func TestLoadELFResolvesSymbolsAndSegments(t *testing.T) {
	data := buildMinimalELF(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "test.elf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	mem := memory.New(memory.DefaultBase, memory.DefaultSize)
	result, err := Load(path, mem)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if result.Entry != memory.DefaultBase {
		t.Fatalf("entry = %#x, want %#x", result.Entry, memory.DefaultBase)
	}
	if result.TohostAddr != memory.DefaultBase+0x1000 {
		t.Fatalf("tohost = %#x, want %#x", result.TohostAddr, memory.DefaultBase+0x1000)
	}
	if !result.HasSignature || result.SignatureStart != memory.DefaultBase+0x2000 || result.SignatureEnd != memory.DefaultBase+0x2010 {
		t.Fatalf("signature range = [%#x, %#x), has=%v", result.SignatureStart, result.SignatureEnd, result.HasSignature)
	}
	if v := mem.ReadWord(memory.DefaultBase); v != 0x00000013 {
		t.Fatalf("loaded code word = %#x, want 0x13 (NOP)", v)
	}
}

func TestLoadRawBinaryFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.bin")
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	mem := memory.New(memory.DefaultBase, memory.DefaultSize)
	result, err := Load(path, mem)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.Entry != memory.DefaultBase {
		t.Fatalf("entry = %#x, want mem base", result.Entry)
	}
	if v := mem.ReadWord(memory.DefaultBase); v != 0xEFBEADDE {
		t.Fatalf("raw load = %#x, want 0xEFBEADDE", v)
	}
}
