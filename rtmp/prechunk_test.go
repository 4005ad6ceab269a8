package rtmp

import "testing"

func TestPrechunkInsertsContinuationHeaders(t *testing.T) {
	pool := NewPagePool(4096)
	var out PageList
	ctx := &prechunkContext{}

	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i)
	}

	prechunk(pool, &out, ctx, 4, 4, payload, true)
	got := out.Bytes()

	// chunkSize=4, payload len=10: fragments of 4,4,2 bytes, with a
	// 1-byte Type-3 continuation header before the 2nd and 3rd fragments.
	want := []byte{
		0, 1, 2, 3,
		0xC0 | 4,
		4, 5, 6, 7,
		0xC0 | 4,
		8, 9,
	}
	if string(got) != string(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPrechunkRoundTripStripsContinuationHeaders(t *testing.T) {
	pool := NewPagePool(4096)
	var out PageList
	ctx := &prechunkContext{}

	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i)
	}

	prechunk(pool, &out, ctx, 5, 6, payload, true)
	framed := out.Bytes()

	var recovered []byte
	for i := 0; i < len(framed); {
		if i > 0 && framed[i] == (0xC0|5) {
			i++
			continue
		}
		n := 6
		if len(framed)-i < n {
			n = len(framed) - i
		}
		recovered = append(recovered, framed[i:i+n]...)
		i += n
	}

	if string(recovered) != string(payload) {
		t.Fatalf("round trip mismatch: got %v, want %v", recovered, payload)
	}
}

func TestPrechunkContinuationAcrossCalls(t *testing.T) {
	pool := NewPagePool(4096)
	var out PageList
	ctx := &prechunkContext{}

	// First call exactly fills one chunk (no trailing partial fragment).
	prechunk(pool, &out, ctx, 2, 4, []byte{1, 2, 3, 4}, true)
	if ctx.offset != 0 {
		t.Fatalf("offset after exact-boundary call = %d, want 0", ctx.offset)
	}

	// Second call resumes exactly on a boundary: its first byte starts a
	// new fragment and must get a continuation header.
	prechunk(pool, &out, ctx, 2, 4, []byte{5, 6}, true)
	got := out.Bytes()
	want := []byte{1, 2, 3, 4, 0xC0 | 2, 5, 6}
	if string(got) != string(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
