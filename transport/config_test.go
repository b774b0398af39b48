package transport

import "testing"

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig(nil)
	if c.Version != versionQUIC1 {
		t.Fatalf("Version = %x, want %x", c.Version, versionQUIC1)
	}
	if c.Params.InitialMaxData == 0 {
		t.Fatal("expected default parameters to be populated")
	}
	if _, ok := c.newCongestionController().(*newRenoController); !ok {
		t.Fatal("expected NewReno controller by default")
	}
}

func TestConfigCubicSelection(t *testing.T) {
	c := NewConfig(nil)
	c.CongestionControl = CongestionControlCubic
	if _, ok := c.newCongestionController().(*cubicController); !ok {
		t.Fatal("expected Cubic controller when selected")
	}
}
