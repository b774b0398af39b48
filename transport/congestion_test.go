package transport

import (
	"testing"
	"time"
)

func testTime(seconds int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, seconds, 0, time.UTC)
}

func TestNewRenoSlowStartGrows(t *testing.T) {
	c := newNewReno()
	start := c.window()
	c.onPacketAcked(MaxPacketSize, testTime(0), testTime(1))
	if c.window() <= start {
		t.Fatalf("window did not grow in slow start: %d -> %d", start, c.window())
	}
}

func TestNewRenoLossHalvesWindow(t *testing.T) {
	c := newNewReno()
	before := c.window()
	c.onPacketsLost(1000, testTime(1))
	if c.window() >= before {
		t.Fatalf("window should shrink on loss: %d -> %d", before, c.window())
	}
	if c.window() < minWindow {
		t.Fatalf("window fell below minimum: %d < %d", c.window(), minWindow)
	}
}

func TestNewRenoIgnoresAckDuringRecovery(t *testing.T) {
	c := newNewReno()
	c.onPacketsLost(1000, testTime(5))
	before := c.window()
	// A packet sent before recovery started must not grow the window.
	c.onPacketAcked(MaxPacketSize, testTime(1), testTime(6))
	if c.window() != before {
		t.Fatalf("window changed for pre-recovery packet: %d -> %d", before, c.window())
	}
}

func TestCubicLossShrinksWindow(t *testing.T) {
	c := newCubic()
	before := c.window()
	c.onPacketsLost(1000, testTime(1))
	if c.window() >= before {
		t.Fatalf("cubic window should shrink on loss: %d -> %d", before, c.window())
	}
}

func TestNewRenoPersistentCongestionCollapsesWindow(t *testing.T) {
	c := newNewReno()
	c.onPacketAcked(MaxPacketSize, testTime(0), testTime(1))
	if c.window() <= minWindow {
		t.Fatalf("window should have grown past minimum before collapse: %d", c.window())
	}
	c.onPersistentCongestion()
	if c.window() != minWindow {
		t.Fatalf("window = %d, want minimum %d after persistent congestion", c.window(), minWindow)
	}
}

func TestCubicPersistentCongestionCollapsesWindow(t *testing.T) {
	c := newCubic()
	c.onPacketsLost(1000, testTime(1)) // grows wMax, enters recovery
	c.onPersistentCongestion()
	if c.window() != minWindow {
		t.Fatalf("window = %d, want minimum %d after persistent congestion", c.window(), minWindow)
	}
}
