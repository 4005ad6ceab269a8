package rtmp

import "testing"

func TestBasicHeaderRoundTrip(t *testing.T) {
	ids := []uint32{2, 3, 63, 64, 65, 318, 319, 320, 1000, 65599}
	for _, id := range ids {
		for fmtType := byte(0); fmtType <= 3; fmtType++ {
			enc := encodeBasicHeader(fmtType, id)
			n := basicHeaderLen(enc[0])
			if n != len(enc) {
				t.Fatalf("id=%d fmt=%d: basicHeaderLen=%d, encoded len=%d", id, fmtType, n, len(enc))
			}
			gotFmt, gotID := decodeBasicHeader(enc)
			if gotFmt != fmtType || gotID != id {
				t.Fatalf("id=%d fmt=%d: round trip got fmt=%d id=%d", id, fmtType, gotFmt, gotID)
			}
		}
	}
}

func TestBasicHeaderWireBytes(t *testing.T) {
	cases := []struct {
		fmtType byte
		cid     uint32
		want    []byte
	}{
		{0, 2, []byte{0x02}},
		{3, 63, []byte{0xc0 | 0x3f}},
		{1, 64, []byte{1 << 6, 0x00}},
		{1, 319, []byte{1 << 6, 0xff}},
		{0, 320, []byte{0x01, 0x00, 0x01}},
		{2, 65599, []byte{2<<6 | 1, 0xff, 0xff}},
	}
	for _, c := range cases {
		enc := encodeBasicHeader(c.fmtType, c.cid)
		if len(enc) != len(c.want) {
			t.Fatalf("cid=%d: encoded len=%d, want %d", c.cid, len(enc), len(c.want))
		}
		for i := range enc {
			if enc[i] != c.want[i] {
				t.Fatalf("cid=%d: encoded=% x, want % x", c.cid, enc, c.want)
			}
		}
	}
}

func TestMessageHeaderType0RoundTrip(t *testing.T) {
	enc := encodeMessageHeader(ChunkType0, 12345, 678, MsgVideo, 9)
	if len(enc) != chunkHeaderSize[ChunkType0] {
		t.Fatalf("encoded length = %d, want %d", len(enc), chunkHeaderSize[ChunkType0])
	}

	cs := &ChunkStream{}
	compactTS := decodeMessageHeader(cs, ChunkType0, enc)
	if compactTS != 12345 {
		t.Fatalf("compactTS = %d, want 12345", compactTS)
	}
	if cs.InTimestamp != 12345 || cs.InMsgLen != 678 || cs.InMsgTypeID != MsgVideo || cs.InMsgStreamID != 9 {
		t.Fatalf("decoded fields mismatch: %+v", cs)
	}
}

func TestMessageHeaderType2RoundTrip(t *testing.T) {
	enc := encodeMessageHeader(ChunkType2, 40, 0, 0, 0)
	if len(enc) != chunkHeaderSize[ChunkType2] {
		t.Fatalf("encoded length = %d, want %d", len(enc), chunkHeaderSize[ChunkType2])
	}
	cs := &ChunkStream{}
	compactTS := decodeMessageHeader(cs, ChunkType2, enc)
	if compactTS != 40 || cs.InTimestampDelta != 40 {
		t.Fatalf("delta mismatch: compactTS=%d cs.InTimestampDelta=%d", compactTS, cs.InTimestampDelta)
	}
}
