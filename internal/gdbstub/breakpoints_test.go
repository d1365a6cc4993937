package gdbstub

import (
	"testing"

	"github.com/kuopinghsu/kcore/internal/memory"
)

func TestWatchpointHitAndConsume(t *testing.T) {
	b := newBreakState()
	if !b.addWatchpoint(watchWrite, 0x2000, 4) {
		t.Fatalf("addWatchpoint failed")
	}

	b.Check(0x2000, 4, memory.AccessRead)
	if _, ok := b.takeWatchHit(); ok {
		t.Fatalf("read access should not hit a write watchpoint")
	}

	b.Check(0x2000, 4, memory.AccessWrite)
	addr, ok := b.takeWatchHit()
	if !ok || addr != 0x2000 {
		t.Fatalf("expected watch hit at 0x2000, got %#x ok=%v", addr, ok)
	}

	if _, ok := b.takeWatchHit(); ok {
		t.Fatalf("watch hit should be consumed after first read")
	}
}

func TestWatchpointOverlap(t *testing.T) {
	b := newBreakState()
	b.addWatchpoint(watchAccess, 0x3000, 4)

	b.Check(0x3002, 1, memory.AccessRead)
	if _, ok := b.takeWatchHit(); !ok {
		t.Fatalf("partial overlap should still hit")
	}

	b.Check(0x4000, 1, memory.AccessRead)
	if _, ok := b.takeWatchHit(); ok {
		t.Fatalf("disjoint access should not hit")
	}
}
