package gdbstub

import "testing"

func TestChecksumAndHexRoundTrip(t *testing.T) {
	payload := []byte("g")
	cs := checksum(payload)
	if cs != 'g' {
		t.Fatalf("checksum(%q) = %#x, want %#x", payload, cs, 'g')
	}

	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	enc := hexEncode(data)
	if enc != "deadbeef" {
		t.Fatalf("hexEncode = %q, want deadbeef", enc)
	}
	dec, err := hexDecode(enc)
	if err != nil {
		t.Fatalf("hexDecode: %v", err)
	}
	if string(dec) != string(data) {
		t.Fatalf("round trip = %x, want %x", dec, data)
	}
}

func TestHexDecodeRejectsOddLength(t *testing.T) {
	if _, err := hexDecode("abc"); err == nil {
		t.Fatalf("expected error for odd-length hex string")
	}
}

func TestUnescapeBinary(t *testing.T) {
	// 0x7d escapes 0x23 ('#') as 0x7d 0x03 (0x23 ^ 0x20).
	in := []byte{0x41, 0x7d, 0x03, 0x42}
	out := unescapeBinary(in)
	want := []byte{0x41, 0x23, 0x42}
	if string(out) != string(want) {
		t.Fatalf("unescapeBinary = %x, want %x", out, want)
	}
}

func TestBreakpointDedupAndRemove(t *testing.T) {
	b := newBreakState()
	if !b.addBreakpoint(0x1000) {
		t.Fatalf("first insert should succeed")
	}
	if !b.addBreakpoint(0x1000) {
		t.Fatalf("re-inserting the same address should succeed (re-enable semantics)")
	}
	if !b.hasBreakpoint(0x1000) {
		t.Fatalf("expected breakpoint at 0x1000")
	}
	b.removeBreakpoint(0x1000)
	if b.hasBreakpoint(0x1000) {
		t.Fatalf("breakpoint should be removed")
	}
}

func TestBreakpointCapacityLimit(t *testing.T) {
	b := newBreakState()
	for i := 0; i < maxBreakpoints; i++ {
		if !b.addBreakpoint(uint32(i * 4)) {
			t.Fatalf("insert %d should succeed within capacity", i)
		}
	}
	if b.addBreakpoint(0xFFFF) {
		t.Fatalf("insert beyond capacity should fail")
	}
}
