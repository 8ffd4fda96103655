// internal/poller/modbus/client_test.go
package modbus

import (
	"testing"
)

func TestUnpackBits(t *testing.T) {
	got := unpackBits([]byte{0x05}, 8)
	want := []bool{true, false, true, false, false, false, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bit %d: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestUnpackBits_ShortData(t *testing.T) {
	got := unpackBits([]byte{0xFF}, 10)
	if len(got) != 10 {
		t.Fatalf("expected 10 bits, got %d", len(got))
	}
	if got[8] || got[9] {
		t.Fatalf("bits past data must read false")
	}
}

func TestNew_RequiresEndpoint(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
