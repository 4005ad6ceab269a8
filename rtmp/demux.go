package rtmp

// completedMessage is handed from the demultiplexer to the connection
// once every fragment of a message has been reassembled (spec.md §4.5).
type completedMessage struct {
	chunkStreamID uint32
	timestamp     uint32
	msgTypeID     byte
	msgStreamID   uint32
	payload       []byte

	// prechunked carries the fast-path copy built alongside payload for
	// Audio/Video messages (spec.md §4.5): payload already re-fragmented
	// at PrechunkSize boundaries with Type-3 continuation headers, as if
	// targeted at DefaultAudioChunkStreamId/DefaultVideoChunkStreamId, so
	// a subscriber fan-out can reuse it verbatim instead of re-chunking.
	// Empty when prechunking is disabled or the message isn't Audio/Video.
	prechunked []byte
}

// inboundDemuxer is the inbound chunk-stream automaton (spec.md §4.5):
// it turns a byte stream of interleaved chunks from any number of
// chunk-stream-ids into a sequence of completed messages, tracking each
// chunk-stream's header-compression and extended-timestamp state.
//
// feed is re-entrant across arbitrarily-sized reads from the transport;
// partially received headers or payload survive across calls. This
// favors a simple accumulate-then-reparse buffer over a hand-rolled
// resumable parser, matching the teacher's own ReadChunk, which also
// works off one contiguous per-session buffer.
type inboundDemuxer struct {
	pool    *PagePool
	streams *chunkStreamTable

	chunkSize          uint32 // negotiated inbound max chunk size, spec.md §4.7
	windowAckSize      uint32
	bytesReceived      uint32
	bytesAtLastAck     uint32
	prechunkingEnabled bool // spec.md §3 prechunking_enabled, default true

	// extTimestamp remembers, per chunk-stream, whether the chunk that
	// established the current message header used the extended
	// timestamp field — Type-3 continuations repeat that 4-byte field
	// with no compact counterpart to signal it (spec.md §4.4/§9).
	extTimestamp map[uint32]bool

	buf []byte // unconsumed bytes carried across feed() calls

	onMessage          func(completedMessage) error
	onSetChunkSize     func(uint32)
	onAckRequired      func(bytesReceived uint32)
	onWindowAckSize    func(uint32)
	onSetPeerBandwidth func(size uint32, limitType byte)
	onUserControl      func(event uint16, data []byte)
	onAbort            func(chunkStreamID uint32)
}

func newInboundDemuxer(pool *PagePool, streams *chunkStreamTable) *inboundDemuxer {
	return &inboundDemuxer{
		pool:               pool,
		streams:            streams,
		chunkSize:          DefaultChunkSize,
		extTimestamp:       make(map[uint32]bool),
		prechunkingEnabled: true,
	}
}

// feed appends data to the internal buffer and parses as many complete
// chunks as are available, dispatching completed messages and protocol
// control messages via the on* callbacks. It returns a ProtocolError on
// any malformed input (spec.md §4.5's "unknown chunk type"/framing
// errors).
func (d *inboundDemuxer) feed(data []byte) error {
	d.buf = append(d.buf, data...)

	for {
		consumed, err := d.parseOne()
		if err != nil {
			return err
		}
		if consumed == 0 {
			return nil // not enough buffered data for a full chunk yet
		}
		d.buf = d.buf[consumed:]
	}
}

// parseOne attempts to parse a single chunk (basic header + message
// header + extended timestamp + body fragment) out of d.buf. It returns
// consumed == 0 if the buffer doesn't yet hold a full chunk.
func (d *inboundDemuxer) parseOne() (consumed int, err error) {
	buf := d.buf
	if len(buf) < 1 {
		return 0, nil
	}

	basicLen := basicHeaderLen(buf[0])
	if len(buf) < basicLen {
		return 0, nil
	}
	fmtType, cid := decodeBasicHeader(buf[:basicLen])

	msgHeaderLen := chunkHeaderSize[fmtType]
	off := basicLen
	if len(buf) < off+msgHeaderLen {
		return 0, nil
	}

	cs := d.streams.getOrCreate(cid, true)
	if fmtType != ChunkType0 && !cs.InHeaderValid {
		return 0, wrapProtocolError("chunk references uninitialized stream", ErrChunkStreamNotInit)
	}

	compactTS := decodeMessageHeader(cs, fmtType, buf[off:off+msgHeaderLen])
	off += msgHeaderLen

	extended := compactTS == extendedTimestampSentinel
	if fmtType == ChunkType3 {
		extended = d.extTimestamp[cid]
	}

	var realTS uint32
	if extended {
		if len(buf) < off+4 {
			return 0, nil
		}
		realTS = uint32(buf[off])<<24 | uint32(buf[off+1])<<16 | uint32(buf[off+2])<<8 | uint32(buf[off+3])
		off += 4
	} else if fmtType != ChunkType3 {
		realTS = compactTS
	}
	if fmtType != ChunkType3 {
		d.extTimestamp[cid] = extended
	}

	remaining := cs.InMsgLen - cs.InMsgOffset
	take := d.chunkSize
	if take > remaining {
		take = remaining
	}
	if len(buf) < off+int(take) {
		return 0, nil
	}

	switch fmtType {
	case ChunkType0:
		cs.InTimestamp = realTS
	case ChunkType1, ChunkType2:
		if extended {
			cs.InTimestampDelta = realTS
		}
		cs.InTimestamp += cs.InTimestampDelta
	case ChunkType3:
		if cs.InMsgOffset == 0 {
			cs.InTimestamp += cs.InTimestampDelta
		}
	}
	cs.InHeaderValid = true

	cs.inPayload.Append(d.pool, buf[off:off+int(take)])

	if d.prechunkingEnabled && (cs.InMsgTypeID == MsgAudio || cs.InMsgTypeID == MsgVideo) {
		targetCid := uint32(DefaultAudioChunkStreamId)
		if cs.InMsgTypeID == MsgVideo {
			targetCid = DefaultVideoChunkStreamId
		}
		prechunk(d.pool, &cs.inPrechunkedPayload, &cs.inPrechunkCtx, targetCid, PrechunkSize, buf[off:off+int(take)], true)
	}

	cs.InMsgOffset += take
	off += int(take)

	d.bytesReceived += uint32(off)
	if d.windowAckSize >= 2 && d.bytesReceived-d.bytesAtLastAck >= d.windowAckSize/2 {
		d.bytesAtLastAck = d.bytesReceived
		if d.onAckRequired != nil {
			d.onAckRequired(d.bytesReceived)
		}
	}

	if cs.InMsgOffset == cs.InMsgLen {
		payload := cs.inPayload.Bytes()
		msg := completedMessage{
			chunkStreamID: cid,
			timestamp:     cs.InTimestamp,
			msgTypeID:     cs.InMsgTypeID,
			msgStreamID:   cs.InMsgStreamID,
			payload:       payload,
			prechunked:    cs.inPrechunkedPayload.Bytes(),
		}
		cs.inPayload.UnrefAll()
		cs.inPayload = PageList{}
		cs.inPrechunkedPayload.UnrefAll()
		cs.inPrechunkedPayload = PageList{}
		cs.inPrechunkCtx = prechunkContext{}
		cs.InMsgOffset = 0

		if err := d.dispatchOrDeliver(msg); err != nil {
			return 0, err
		}
	}

	return off, nil
}

// dispatchOrDeliver handles Protocol Control messages (chunk-stream-id 2,
// spec.md §4.7) itself and forwards everything else to onMessage.
func (d *inboundDemuxer) dispatchOrDeliver(msg completedMessage) error {
	if msg.chunkStreamID != ControlChunkStreamId || msg.msgStreamID != CommandMessageStreamId {
		if d.onMessage != nil {
			return d.onMessage(msg)
		}
		return nil
	}

	switch msg.msgTypeID {
	case MsgSetChunkSize:
		if len(msg.payload) < 4 {
			return newProtocolError("short Set Chunk Size payload")
		}
		size := uint32(msg.payload[0])<<24 | uint32(msg.payload[1])<<16 | uint32(msg.payload[2])<<8 | uint32(msg.payload[3])
		if size < MinChunkSize {
			return newProtocolError("Set Chunk Size below minimum")
		}
		d.chunkSize = size
		if d.onSetChunkSize != nil {
			d.onSetChunkSize(size)
		}
	case MsgWindowAckSize:
		if len(msg.payload) < 4 {
			return newProtocolError("short Window Ack Size payload")
		}
		size := uint32(msg.payload[0])<<24 | uint32(msg.payload[1])<<16 | uint32(msg.payload[2])<<8 | uint32(msg.payload[3])
		d.windowAckSize = size
		if d.onWindowAckSize != nil {
			d.onWindowAckSize(size)
		}
	case MsgSetPeerBandwidth:
		if len(msg.payload) < 5 {
			return newProtocolError("short Set Peer Bandwidth payload")
		}
		size := uint32(msg.payload[0])<<24 | uint32(msg.payload[1])<<16 | uint32(msg.payload[2])<<8 | uint32(msg.payload[3])
		if d.onSetPeerBandwidth != nil {
			d.onSetPeerBandwidth(size, msg.payload[4])
		}
	case MsgAck:
		// Peer acknowledging bytes we sent; no local state to update.
	case MsgUserControl:
		if len(msg.payload) < 2 {
			return newProtocolError("short User Control payload")
		}
		event := uint16(msg.payload[0])<<8 | uint16(msg.payload[1])
		if d.onUserControl != nil {
			d.onUserControl(event, msg.payload[2:])
		}
	case MsgAbort:
		if len(msg.payload) < 4 {
			return newProtocolError("short Abort Message payload")
		}
		cid := uint32(msg.payload[0])<<24 | uint32(msg.payload[1])<<16 | uint32(msg.payload[2])<<8 | uint32(msg.payload[3])
		if cs := d.streams.getOrCreate(cid, false); cs != nil {
			cs.inPayload.UnrefAll()
			cs.inPayload = PageList{}
			cs.inPrechunkedPayload.UnrefAll()
			cs.inPrechunkedPayload = PageList{}
			cs.inPrechunkCtx = prechunkContext{}
			cs.InMsgOffset = 0
		}
		if d.onAbort != nil {
			d.onAbort(cid)
		}
	default:
		if d.onMessage != nil {
			return d.onMessage(msg)
		}
	}
	return nil
}
