/*
 * kcore - GDB breakpoint and watchpoint tables.
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

package gdbstub

import (
	"sync"

	"github.com/kuopinghsu/kcore/internal/memory"
)

const (
	maxBreakpoints = 64
	maxWatchpoints = 32
)

// watchKind mirrors the GDB `Z`/`z` type field for memory watchpoints.
type watchKind int

const (
	watchWrite watchKind = iota
	watchRead
	watchAccess
)

type watchpoint struct {
	addr   uint32
	length uint32
	kind   watchKind
}

// breakState owns the breakpoint/watchpoint tables and implements
// memory.Watcher so the interpreter's memory subsystem can report matches
// without knowing anything about GDB (spec.md §4.6.3).
type breakState struct {
	mu sync.Mutex

	breakpoints map[uint32]bool
	watchpoints []watchpoint

	watchHit   uint32
	watchHitOK bool
}

func newBreakState() *breakState {
	return &breakState{breakpoints: make(map[uint32]bool)}
}

func (b *breakState) addBreakpoint(addr uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.breakpoints) >= maxBreakpoints {
		return false
	}
	b.breakpoints[addr] = true
	return true
}

func (b *breakState) removeBreakpoint(addr uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.breakpoints, addr)
}

func (b *breakState) hasBreakpoint(addr uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.breakpoints[addr]
}

func (b *breakState) addWatchpoint(kind watchKind, addr, length uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.watchpoints) >= maxWatchpoints {
		return false
	}
	b.watchpoints = append(b.watchpoints, watchpoint{addr: addr, length: length, kind: kind})
	return true
}

func (b *breakState) removeWatchpoint(kind watchKind, addr, length uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.watchpoints {
		if w.kind == kind && w.addr == addr && w.length == length {
			b.watchpoints = append(b.watchpoints[:i], b.watchpoints[i+1:]...)
			return
		}
	}
}

func (b *breakState) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breakpoints = make(map[uint32]bool)
	b.watchpoints = nil
	b.watchHitOK = false
}

// Check implements memory.Watcher: called on every non-fetch access.
func (b *breakState) Check(addr uint32, size int, kind memory.AccessKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watchHitOK {
		return // one pending hit at a time is enough to stop the run
	}
	for _, w := range b.watchpoints {
		lo, hi := w.addr, w.addr+w.length
		if addr+uint32(size) <= lo || addr >= hi {
			continue
		}
		match := w.kind == watchAccess ||
			(w.kind == watchWrite && kind == memory.AccessWrite) ||
			(w.kind == watchRead && kind == memory.AccessRead)
		if match {
			b.watchHit = w.addr
			b.watchHitOK = true
			return
		}
	}
}

// takeWatchHit consumes and clears any pending watchpoint hit, per
// spec.md §4.6.4 ("the hit-address is consumed after reporting").
func (b *breakState) takeWatchHit() (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.watchHitOK {
		return 0, false
	}
	b.watchHitOK = false
	return b.watchHit, true
}
