package rtmp

import "testing"

func TestTimestampGreaterWraparound(t *testing.T) {
	cases := []struct {
		a, b uint32
		want bool
	}{
		{10, 5, true},
		{5, 10, false},
		{5, 5, false},
		{1, 0xFFFFFFFF, true},    // 1 is "after" wraparound from max
		{0xFFFFFFFF, 1, false},
	}
	for _, c := range cases {
		if got := timestampGreater(c.a, c.b); got != c.want {
			t.Errorf("timestampGreater(%d, %d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestOutboundTimestampManglerRebasesToZero(t *testing.T) {
	var m outboundTimestampMangler

	if got := m.mangle(0); got != 0 {
		t.Fatalf("first call with 0 = %d, want 0", got)
	}
	if got := m.mangle(1000); got != 0 {
		t.Fatalf("first nonzero call = %d, want rebased to 0", got)
	}
	if got := m.mangle(1010); got != 10 {
		t.Fatalf("second call = %d, want 10", got)
	}
}

func TestOutboundTimestampManglerIdempotentBase(t *testing.T) {
	var m outboundTimestampMangler
	m.mangle(500) // arms at base=500
	a := m.mangle(600)
	b := m.mangle(600)
	if a != b {
		t.Fatalf("mangle not idempotent for repeated input: %d != %d", a, b)
	}
}
