package rtmp

import "testing"

func TestSelectHeaderTypeCompressionSequence(t *testing.T) {
	pool := NewPagePool(4096)
	cs := &ChunkStream{ID: DefaultVideoChunkStreamId}
	ctx := &prechunkContext{}

	msg := func(ts uint32, payload []byte) outboundMessage {
		return outboundMessage{
			chunkStreamID: DefaultVideoChunkStreamId,
			timestamp:     ts,
			msgTypeID:     MsgVideo,
			msgStreamID:   DefaultMessageStreamId,
			payload:       payload,
		}
	}

	// First message on a fresh chunk stream is always Type-0.
	var out PageList
	first := msg(1000, []byte("frame one"))
	fmtType := selectHeaderType(cs, first.msgStreamID, first.msgTypeID, uint32(len(first.payload)), first.timestamp)
	if fmtType != ChunkType0 {
		t.Fatalf("first message: fmtType = %d, want ChunkType0", fmtType)
	}
	serializeMessage(pool, &out, cs, ctx, 128, first)

	// Same stream/type id, different length -> Type-1.
	second := msg(1040, []byte("a longer frame two"))
	delta := second.timestamp - cs.OutTimestamp
	fmtType = selectHeaderType(cs, second.msgStreamID, second.msgTypeID, uint32(len(second.payload)), delta)
	if fmtType != ChunkType1 {
		t.Fatalf("second message: fmtType = %d, want ChunkType1", fmtType)
	}
	serializeMessage(pool, &out, cs, ctx, 128, second)

	// Same length as the prior message but a different delta -> Type-2.
	third := msg(1100, []byte("a longer frame two"))
	delta = third.timestamp - cs.OutTimestamp
	fmtType = selectHeaderType(cs, third.msgStreamID, third.msgTypeID, uint32(len(third.payload)), delta)
	if fmtType != ChunkType2 {
		t.Fatalf("third message: fmtType = %d, want ChunkType2", fmtType)
	}
	serializeMessage(pool, &out, cs, ctx, 128, third)

	// Same length and the same delta as the prior message -> Type-3.
	fourth := msg(1160, []byte("a longer frame two"))
	delta = fourth.timestamp - cs.OutTimestamp
	fmtType = selectHeaderType(cs, fourth.msgStreamID, fourth.msgTypeID, uint32(len(fourth.payload)), delta)
	if fmtType != ChunkType3 {
		t.Fatalf("fourth message: fmtType = %d, want ChunkType3", fmtType)
	}
}

func TestSerializeMessageExtendedTimestampRoundTrip(t *testing.T) {
	pool := NewPagePool(4096)
	streams := newChunkStreamTable()
	ctx := &prechunkContext{}
	cs := streams.getOrCreate(DefaultVideoChunkStreamId, true)

	payload := []byte("keyframe requiring an extended timestamp")

	var wire PageList
	serializeMessage(pool, &wire, cs, ctx, 128, outboundMessage{
		chunkStreamID: DefaultVideoChunkStreamId,
		timestamp:     extendedTimestampSentinel + 5000,
		msgTypeID:     MsgVideo,
		msgStreamID:   DefaultMessageStreamId,
		payload:       payload,
	})

	var got completedMessage
	d := newInboundDemuxer(pool, newChunkStreamTable())
	d.onMessage = func(m completedMessage) error {
		got = m
		return nil
	}
	if err := d.feed(wire.Bytes()); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if got.timestamp != extendedTimestampSentinel+5000 {
		t.Fatalf("timestamp = %d, want %d", got.timestamp, extendedTimestampSentinel+5000)
	}
	if string(got.payload) != string(payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestNeedsFixHeaderOnlyWhenSplittingWithExtendedTimestamp(t *testing.T) {
	cs := &ChunkStream{ID: DefaultVideoChunkStreamId}
	msg := outboundMessage{
		chunkStreamID: DefaultVideoChunkStreamId,
		timestamp:     extendedTimestampSentinel + 1,
		msgTypeID:     MsgVideo,
		msgStreamID:   DefaultMessageStreamId,
	}

	if needsFixHeader(cs, msg, 200000, false) {
		t.Fatalf("needsFixHeader = true when willSplit is false, want false")
	}
	if !needsFixHeader(cs, msg, 200000, true) {
		t.Fatalf("needsFixHeader = false for a large, splitting, extended-timestamp message, want true")
	}

	small := msg
	small.timestamp = 40
	if needsFixHeader(cs, small, 200000, true) {
		t.Fatalf("needsFixHeader = true for a small timestamp that needs no extended field, want false")
	}
}

// TestSendWithFixHeaderProducesPlainContinuations exercises spec.md §8
// Scenario S4: a large-timestamp, multi-chunk message must go out as a
// zero-length dummy Type-0/1 header (absorbing the extended timestamp)
// immediately followed by a Type-1 header with delta 0 carrying the real
// msg_len/msg_type_id, so that subsequent Type-3 continuation chunks
// carry no extended-timestamp field.
func TestSendWithFixHeaderProducesPlainContinuations(t *testing.T) {
	pool := NewPagePool(65536)
	streams := newChunkStreamTable()
	ctx := &prechunkContext{}
	cs := streams.getOrCreate(DefaultVideoChunkStreamId, true)

	payload := make([]byte, 200000)
	for i := range payload {
		payload[i] = byte(i)
	}

	msg := outboundMessage{
		chunkStreamID: DefaultVideoChunkStreamId,
		timestamp:     0x01000000,
		msgTypeID:     MsgVideo,
		msgStreamID:   DefaultMessageStreamId,
		payload:       payload,
	}

	if !needsFixHeader(cs, msg, uint32(len(payload)), true) {
		t.Fatalf("needsFixHeader = false, want true for scenario S4's message")
	}

	var wire PageList
	sendWithFixHeader(pool, &wire, cs, ctx, 65536, msg)

	var got completedMessage
	d := newInboundDemuxer(pool, newChunkStreamTable())
	// The sender chunks at 65536 bytes; a real peer would have announced
	// that with Set Chunk Size before sending.
	d.chunkSize = 65536
	d.onMessage = func(m completedMessage) error {
		got = m
		return nil
	}
	if err := d.feed(wire.Bytes()); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if got.timestamp != 0x01000000 || got.msgTypeID != MsgVideo {
		t.Fatalf("reassembled message fields wrong: %+v", got)
	}
	if string(got.payload) != string(payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(got.payload), len(payload))
	}
}
