package rtmp

// outboundMessage is the serializer's input: one complete message to be
// chunked onto the wire for a given chunk-stream-id (spec.md §4.4).
type outboundMessage struct {
	chunkStreamID uint32
	timestamp     uint32
	msgTypeID     byte
	msgStreamID   uint32
	payload       []byte
}

// selectHeaderType picks the Type-0/1/2/3 header for the next message on
// cs given the new message's fields, per spec.md §4.4's compression
// table: reuse as much of the previous header as still matches, falling
// back to Type-0 the first time a chunk-stream-id is used.
func selectHeaderType(cs *ChunkStream, msgStreamID uint32, msgTypeID byte, msgLen uint32, delta uint32) byte {
	if !cs.OutHeaderValid || cs.OutMsgStreamID != msgStreamID {
		return ChunkType0
	}
	if cs.OutMsgTypeID != msgTypeID || cs.OutMsgLen != msgLen {
		return ChunkType1
	}
	if cs.OutTimestampDelta != delta {
		return ChunkType2
	}
	return ChunkType3
}

// serializeHeader writes the Type-0/1/2/3 header for msg onto cs (basic
// header, message header, and extended timestamp when needed), updating
// cs's outbound compression state as if a msgLen-byte payload followed
// (spec.md §4.4). It never touches the payload itself, so both
// serializeMessage (which prechunks msg.payload right after) and the
// prechunked-reuse fast path (Connection.sendPrechunkedAV, which appends
// an already-fragmented body instead) share the same header-selection
// and state-update rules.
func serializeHeader(pool *PagePool, out *PageList, cs *ChunkStream, msgLen uint32, msg outboundMessage) byte {
	delta := msg.timestamp - cs.OutTimestamp
	if !cs.OutHeaderValid {
		delta = msg.timestamp
	}

	fmtType := selectHeaderType(cs, msg.msgStreamID, msg.msgTypeID, msgLen, delta)

	ts := delta
	if fmtType == ChunkType0 {
		ts = msg.timestamp
	}

	ext := ts >= extendedTimestampSentinel
	compactTS := ts
	if ext {
		compactTS = extendedTimestampSentinel
	}

	out.Append(pool, encodeBasicHeader(fmtType, msg.chunkStreamID))
	out.Append(pool, encodeMessageHeader(fmtType, compactTS, msgLen, msg.msgTypeID, msg.msgStreamID))
	if ext {
		var b [4]byte
		putUint32BE(b[:], ts)
		out.Append(pool, b[:])
	}

	cs.OutHeaderValid = true
	cs.OutMsgStreamID = msg.msgStreamID
	cs.OutMsgTypeID = msg.msgTypeID
	cs.OutMsgLen = msgLen
	cs.OutTimestamp = msg.timestamp
	cs.OutTimestampDelta = delta

	return fmtType
}

// serializeMessage appends msg's wire-chunked bytes to out, updating cs's
// outbound compression state and advancing ctx across the payload's
// fragments (spec.md §4.3, §4.4). chunkSize is the negotiated outbound
// chunk size currently in effect for the connection.
//
// Large timestamps (delta or absolute value requiring the extended
// timestamp field) combined with a header type that would need to grow
// past what a subscriber's already-prechunked Type-3 continuation bytes
// assume are handled by the caller via the fix-header workaround
// (sendWithFixHeader below); serializeMessage itself always emits a
// single, self-consistent header.
func serializeMessage(pool *PagePool, out *PageList, cs *ChunkStream, ctx *prechunkContext, chunkSize uint32, msg outboundMessage) {
	serializeHeader(pool, out, cs, uint32(len(msg.payload)), msg)
	prechunk(pool, out, ctx, msg.chunkStreamID, chunkSize, msg.payload, true)
}

// putUint32BE is a 4-byte-only helper kept local to avoid importing
// encoding/binary a second time for this one call site.
func putUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// sendWithFixHeader implements spec.md §4.4's fix-header workaround: a
// subscriber's chunk stream may already hold pre-fragmented Type-3
// continuation bytes computed against a dummy zero-length message, so a
// real message whose true header would not fit the same shape is instead
// split into two serializeMessage calls sharing one prechunkContext — a
// zero-length dummy Data_AMF0 message (forcing Type-0 or Type-1, per
// cs's current state) immediately followed by the real payload as a
// Type-1 continuation with delta 0. This lets prechunked continuation
// pages generated against the dummy's fragment boundaries be reused
// unmodified for the real payload (original_source/moment/rtmp_connection.cpp
// fix_header logic).
func sendWithFixHeader(pool *PagePool, out *PageList, cs *ChunkStream, ctx *prechunkContext, chunkSize uint32, msg outboundMessage) {
	dummy := outboundMessage{
		chunkStreamID: msg.chunkStreamID,
		timestamp:     msg.timestamp,
		msgTypeID:     MsgDataAMF0,
		msgStreamID:   msg.msgStreamID,
		payload:       nil,
	}
	serializeMessage(pool, out, cs, ctx, chunkSize, dummy)

	real := outboundMessage{
		chunkStreamID: msg.chunkStreamID,
		timestamp:     msg.timestamp,
		msgTypeID:     msg.msgTypeID,
		msgStreamID:   msg.msgStreamID,
		payload:       msg.payload,
	}
	serializeMessage(pool, out, cs, ctx, chunkSize, real)
}

// needsFixHeader reports whether a msgLen-byte message's header would
// require the extended-timestamp field while also changing shape
// (Type-0/1) from what cs's already-prechunked pages assume, per
// spec.md §4.4. willSplit is the caller's verdict on whether the message
// will actually be fragmented into multiple chunks (if it fits in one
// chunk there are no Type-3 continuations to protect, so the workaround
// is unnecessary). Uniform prechunking (which would make this
// unnecessary even for fragmented messages) stays disabled per spec.md §9.
func needsFixHeader(cs *ChunkStream, msg outboundMessage, msgLen uint32, willSplit bool) bool {
	if !willSplit {
		return false
	}
	delta := msg.timestamp - cs.OutTimestamp
	if !cs.OutHeaderValid {
		delta = msg.timestamp
	}
	fmtType := selectHeaderType(cs, msg.msgStreamID, msg.msgTypeID, msgLen, delta)
	if fmtType > ChunkType1 {
		return false
	}
	ts := delta
	if fmtType == ChunkType0 {
		ts = msg.timestamp
	}
	return ts >= extendedTimestampSentinel
}

// serializeHeaderWithFix mirrors sendWithFixHeader for the
// prechunked-reuse fast path: it writes only the dummy-then-real header
// pair, leaving the caller to append the already-fragmented body bytes.
func serializeHeaderWithFix(pool *PagePool, out *PageList, cs *ChunkStream, msgLen uint32, msg outboundMessage) {
	dummy := outboundMessage{
		chunkStreamID: msg.chunkStreamID,
		timestamp:     msg.timestamp,
		msgTypeID:     MsgDataAMF0,
		msgStreamID:   msg.msgStreamID,
	}
	serializeHeader(pool, out, cs, 0, dummy)
	serializeHeader(pool, out, cs, msgLen, msg)
}

// encodeSetChunkSize builds the Protocol Control Set Chunk Size message
// body (spec.md §4.7). The message itself always goes out at the
// connection's current outbound chunk size to avoid the circularity of
// a control message needing re-chunking under the size it's announcing.
func encodeSetChunkSize(size uint32) []byte {
	b := make([]byte, 4)
	putUint32BE(b, size)
	return b
}
