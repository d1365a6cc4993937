package device

import (
	"bytes"
	"testing"
)

func TestUARTTxFlushesToSink(t *testing.T) {
	var buf bytes.Buffer
	u := NewUART(&buf)

	for _, c := range "Hi\n" {
		u.Write(UARTDataReg, uint32(c))
	}

	if got := buf.String(); got != "Hi\n" {
		t.Fatalf("sink = %q, want %q", got, "Hi\n")
	}
}

func TestUARTRxFIFO(t *testing.T) {
	u := NewUART(nil)

	if status := u.Read(UARTStatusReg); status&uartStatusRXReady != 0 {
		t.Fatalf("RX ready bit set on empty fifo")
	}

	u.PushRX('A')
	if status := u.Read(UARTStatusReg); status&uartStatusRXReady == 0 {
		t.Fatalf("RX ready bit not set after push")
	}
	if v := u.Read(UARTDataReg); v != 'A' {
		t.Fatalf("read data = %#x, want 'A'", v)
	}
	if v := u.Read(UARTDataReg); v != 0 {
		t.Fatalf("read on empty fifo = %#x, want 0", v)
	}
}

func TestCLINTMtimeRegisters(t *testing.T) {
	var c CLINT

	c.Write(CLINTMtimecmp, 0x10)
	c.Write(CLINTMtimecmp+4, 0x1)
	if got := c.mtimecmp; got != 0x100000010 {
		t.Fatalf("mtimecmp = %#x, want 0x100000010", got)
	}

	for i := 0; i < 5; i++ {
		c.Tick()
	}
	if c.Mtime() != 5 {
		t.Fatalf("mtime = %d, want 5", c.Mtime())
	}
	if c.TimerPending() {
		t.Fatalf("timer pending too early")
	}

	c.Write(CLINTMtimecmp, 5)
	c.Write(CLINTMtimecmp+4, 0)
	if !c.TimerPending() {
		t.Fatalf("mtimecmp == mtime should be pending")
	}
}

func TestCLINTSoftwareInterrupt(t *testing.T) {
	var c CLINT
	if c.SoftwarePending() {
		t.Fatalf("msip pending before write")
	}
	c.Write(CLINTMsip, 0xff)
	if c.Read(CLINTMsip) != 1 {
		t.Fatalf("msip should retain only bit 0")
	}
	if !c.SoftwarePending() {
		t.Fatalf("msip should be pending")
	}
}
