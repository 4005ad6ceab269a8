package rtmp

import "testing"

func TestDemuxReassemblesSerializedMessage(t *testing.T) {
	pool := NewPagePool(4096)
	streams := newChunkStreamTable()
	ctx := &prechunkContext{}
	cs := streams.getOrCreate(DefaultAudioChunkStreamId, true)

	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}

	var wire PageList
	serializeMessage(pool, &wire, cs, ctx, 128, outboundMessage{
		chunkStreamID: DefaultAudioChunkStreamId,
		timestamp:     1000,
		msgTypeID:     MsgAudio,
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

	if got.msgTypeID != MsgAudio || got.msgStreamID != DefaultMessageStreamId || got.timestamp != 1000 {
		t.Fatalf("message fields mismatch: %+v", got)
	}
	if string(got.payload) != string(payload) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(got.payload), len(payload))
	}
}

func TestDemuxByteAtATimeFeed(t *testing.T) {
	pool := NewPagePool(4096)
	streams := newChunkStreamTable()
	ctx := &prechunkContext{}
	cs := streams.getOrCreate(DefaultVideoChunkStreamId, true)

	payload := []byte("short video frame")

	var wire PageList
	serializeMessage(pool, &wire, cs, ctx, 128, outboundMessage{
		chunkStreamID: DefaultVideoChunkStreamId,
		timestamp:     42,
		msgTypeID:     MsgVideo,
		msgStreamID:   DefaultMessageStreamId,
		payload:       payload,
	})

	var delivered bool
	d := newInboundDemuxer(pool, newChunkStreamTable())
	d.onMessage = func(m completedMessage) error {
		delivered = true
		if string(m.payload) != string(payload) {
			t.Fatalf("payload mismatch: %q != %q", m.payload, payload)
		}
		return nil
	}

	b := wire.Bytes()
	for i := range b {
		if err := d.feed(b[i : i+1]); err != nil {
			t.Fatalf("feed byte %d: %v", i, err)
		}
	}

	if !delivered {
		t.Fatalf("message never delivered")
	}
}
