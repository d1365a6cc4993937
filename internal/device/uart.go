/*
 * kcore - UART device model.
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

// Package device implements the simulator's register-level UART and
// CLINT models, memory-mapped per the simulator's address map.
package device

import "io"

// UART register offsets.
const (
	UARTDataReg   = 0x00
	UARTStatusReg = 0x04

	uartStatusTXBusy  = 0x01
	uartStatusRXReady = 0x04
)

// UART is a register-level model: a TX byte queue flushed to Sink, and an
// RX byte queue the host driver may populate (not modeled beyond presence
// of the queue, per spec).
type UART struct {
	Sink io.Writer

	txFIFO []byte
	rxFIFO []byte
}

// NewUART returns a UART whose TX data is written to sink.
func NewUART(sink io.Writer) *UART {
	return &UART{Sink: sink}
}

// PushRX queues a byte for the guest to read; not driven internally.
func (u *UART) PushRX(b byte) {
	u.rxFIFO = append(u.rxFIFO, b)
}

func (u *UART) Read(offset uint32) uint32 {
	switch offset {
	case UARTDataReg:
		if len(u.rxFIFO) == 0 {
			return 0
		}
		b := u.rxFIFO[0]
		u.rxFIFO = u.rxFIFO[1:]
		return uint32(b)
	case UARTStatusReg:
		// TX is instant in this simulator, so uartStatusTXBusy never sets.
		var status uint32
		if len(u.rxFIFO) != 0 {
			status |= uartStatusRXReady
		}
		return status
	default:
		return 0
	}
}

func (u *UART) Write(offset uint32, value uint32) {
	if offset != UARTDataReg {
		return // status is read-only
	}
	b := byte(value)
	u.txFIFO = append(u.txFIFO, b)
	if u.Sink != nil {
		u.Sink.Write([]byte{b})
	}
}
