package rtmp

// ChunkStream holds the per-direction header-compression state for one
// chunk-stream-id on a connection (spec.md §3). Inbound and outbound
// state are folded into a single record, as the original engine does,
// because both directions of a chunk stream share nothing but the ID.
type ChunkStream struct {
	ID uint32

	// Inbound state.
	InHeaderValid       bool
	InTimestamp         uint32
	InTimestampDelta    uint32
	InMsgLen            uint32
	InMsgTypeID         byte
	InMsgStreamID       uint32
	InMsgOffset         uint32
	inPrechunkCtx       prechunkContext // fragment offset for the in-flight message's fast-path copy
	inPayload           PageList
	inPrechunkedPayload PageList // parallel copy for audio/video fast-path (spec.md §4.5)

	// Outbound state.
	OutHeaderValid    bool
	OutTimestamp      uint32
	OutTimestampDelta uint32
	OutMsgLen         uint32
	OutMsgTypeID      byte
	OutMsgStreamID    uint32
}

// chunkStreamTable maps chunk-stream-id to its ChunkStream record
// (spec.md §4.2). Owned exclusively by one Connection.
type chunkStreamTable struct {
	streams map[uint32]*ChunkStream
}

func newChunkStreamTable() *chunkStreamTable {
	return &chunkStreamTable{streams: make(map[uint32]*ChunkStream)}
}

// getOrCreate returns the existing entry for id, or, if create is
// true, a freshly zeroed one. Returns nil if no entry exists and
// create is false.
func (t *chunkStreamTable) getOrCreate(id uint32, create bool) *ChunkStream {
	if cs, ok := t.streams[id]; ok {
		return cs
	}
	if !create {
		return nil
	}
	cs := &ChunkStream{ID: id}
	t.streams[id] = cs
	return cs
}
