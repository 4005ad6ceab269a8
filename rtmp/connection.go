package rtmp

import (
	"sync"
	"time"
)

// ConnectionConfig holds the per-connection tunables a server applies
// right after the handshake completes (spec.md §4.7/§6).
type ConnectionConfig struct {
	ChunkSize              uint32 // outbound chunk size this engine announces, spec.md §4.7
	WindowAckSize          uint32
	PeerBandwidth          uint32
	PeerBandwidthLimitType byte
	KeepaliveInterval      time.Duration // 0 disables ping scheduling
}

// DefaultConnectionConfig mirrors the teacher's own connect-time
// defaults (5,000,000-byte ack window, dynamic peer bandwidth limit).
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ChunkSize:              DefaultChunkSize,
		WindowAckSize:          5000000,
		PeerBandwidth:          5000000,
		PeerBandwidthLimitType: LimitDynamic,
		KeepaliveInterval:      KeepalivePeriodSeconds * time.Second,
	}
}

// Connection is one live RTMP chunk-stream session, established after a
// successful handshake (spec.md §5/§6). It owns the inbound demultiplexer,
// the per-chunk-stream outbound compression/prechunking state, and the
// keepalive ping loop; it holds no lock across any Frontend call.
type Connection struct {
	transport Transport
	frontend  Frontend
	backend   Backend
	pool      *PagePool
	timers    TimerWheel

	mu sync.Mutex

	streams *chunkStreamTable
	demux   *inboundDemuxer

	outChunkSize       uint32
	outCtx             map[uint32]*prechunkContext
	outMangler         map[uint32]*outboundTimestampMangler
	localWindowAckSize uint32

	lastPingSent     time.Time
	awaitingPingback bool
	cancelPingTimer  func()

	closed bool
}

// NewConnection wires a post-handshake Connection around transport,
// frontend and backend (spec.md §6's weak-collaborator contract).
func NewConnection(transport Transport, frontend Frontend, backend Backend, pool *PagePool, timers TimerWheel) *Connection {
	streams := newChunkStreamTable()
	c := &Connection{
		transport:    transport,
		frontend:     frontend,
		backend:      backend,
		pool:         pool,
		timers:       timers,
		streams:      streams,
		demux:        newInboundDemuxer(pool, streams),
		outChunkSize: DefaultChunkSize,
		outCtx:       make(map[uint32]*prechunkContext),
		outMangler:   make(map[uint32]*outboundTimestampMangler),
	}

	// The on* callbacks below run synchronously inside Feed, with c.mu
	// already held by the caller — they must mutate state directly and
	// use closeLocked (never teardown, never Frontend calls) to avoid
	// relocking or violating the no-lock-across-Frontend-calls rule.
	c.demux.onMessage = c.handleMessage
	c.demux.onSetChunkSize = func(size uint32) {}
	c.demux.onAckRequired = func(bytesReceived uint32) {
		if err := c.transport.SendBytes(encodeAck(bytesReceived)); err != nil {
			c.closeLocked(err)
			return
		}
		_ = c.transport.Flush()
	}
	c.demux.onWindowAckSize = func(size uint32) {}
	c.demux.onSetPeerBandwidth = func(size uint32, limitType byte) {
		// spec.md §4.7: if the peer asks for a window different from the
		// one we already announced, restate ours rather than adopting
		// theirs — SetPeerBandwidth governs what WE send them, not the
		// reverse.
		if size == c.localWindowAckSize {
			return
		}
		if err := c.transport.SendBytes(encodeWindowAckSize(c.localWindowAckSize)); err != nil {
			c.closeLocked(err)
			return
		}
		_ = c.transport.Flush()
	}
	c.demux.onUserControl = func(event uint16, data []byte) {
		switch {
		case isPingResponse(event):
			c.awaitingPingback = false
		case isPingRequest(event):
			var ts uint32
			if len(data) >= 4 {
				ts = uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
			}
			if err := c.transport.SendBytes(encodePingResponse(ts)); err != nil {
				c.closeLocked(err)
				return
			}
			_ = c.transport.Flush()
		}
	}

	return c
}

// Start applies cfg's negotiated parameters and, if cfg.KeepaliveInterval
// is nonzero, arms the ping loop (spec.md §5's keepalive scenario).
func (c *Connection) Start(cfg ConnectionConfig) {
	c.mu.Lock()
	c.outChunkSize = cfg.ChunkSize
	c.localWindowAckSize = cfg.WindowAckSize
	c.mu.Unlock()

	c.sendRaw(encodeWindowAckSize(cfg.WindowAckSize))
	c.sendRaw(encodeSetPeerBandwidth(cfg.PeerBandwidth, cfg.PeerBandwidthLimitType))
	c.SetChunkSize(cfg.ChunkSize)

	if cfg.KeepaliveInterval > 0 {
		c.scheduleNextPing(cfg.KeepaliveInterval)
	}
}

func (c *Connection) scheduleNextPing(interval time.Duration) {
	c.cancelPingTimer = c.timers.Schedule(interval, func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		missed := c.awaitingPingback
		c.mu.Unlock()

		if missed {
			c.teardown(ErrMissedKeepalive)
			return
		}

		c.sendPing()
		c.scheduleNextPing(interval)
	})
}

func (c *Connection) sendPing() {
	c.mu.Lock()
	c.lastPingSent = time.Now()
	c.awaitingPingback = true
	ts := uint32(time.Since(c.lastPingSent).Milliseconds())
	c.mu.Unlock()

	c.sendRaw(encodePingRequest(ts))
}

// Feed hands a chunk of bytes read off the transport's peer to the
// inbound demultiplexer (spec.md §4.5). It may be called with any
// nonzero number of bytes, including a single byte at a time.
func (c *Connection) Feed(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if err := c.demux.feed(data); err != nil {
		c.closeLocked(err)
		return err
	}
	return nil
}

// handleMessage dispatches one completed inbound message to the
// frontend (spec.md §4.10), translating Audio/Video/Command message
// type ids into the Frontend's typed callbacks. Called with c.mu held
// by Feed, so this must not call back into Connection methods that
// re-lock c.mu; it unlocks around the Frontend call itself per spec.md
// §6 (no internal lock held across a frontend call).
func (c *Connection) handleMessage(msg completedMessage) error {
	info := MessageInfo{Timestamp: msg.timestamp, MsgStreamID: msg.msgStreamID, ChunkStreamID: msg.chunkStreamID}

	c.mu.Unlock()
	defer c.mu.Lock()

	prechunkSize := uint32(0)
	if c.demux.prechunkingEnabled {
		prechunkSize = PrechunkSize
	}

	switch msg.msgTypeID {
	case MsgAudio:
		codecID, isSeq := audioHint(msg.payload)
		return c.frontend.AudioMessage(AudioMessageInfo{MessageInfo: info, CodecID: codecID, IsSeqHeader: isSeq, PrechunkSize: prechunkSize, Prechunked: msg.prechunked}, msg.payload)
	case MsgVideo:
		codecID, frameType, isSeq := videoHint(msg.payload)
		return c.frontend.VideoMessage(VideoMessageInfo{MessageInfo: info, CodecID: codecID, FrameType: frameType, IsSeqHeader: isSeq, PrechunkSize: prechunkSize, Prechunked: msg.prechunked}, msg.payload)
	case MsgCommandAMF0:
		return c.frontend.CommandMessage(CommandMessageInfo{MessageInfo: info, Encoding: AMF0, IsData: false}, msg.payload)
	case MsgCommandAMF3:
		return c.frontend.CommandMessage(CommandMessageInfo{MessageInfo: info, Encoding: AMF3, IsData: false}, msg.payload)
	case MsgDataAMF0:
		return c.frontend.CommandMessage(CommandMessageInfo{MessageInfo: info, Encoding: AMF0, IsData: true}, msg.payload)
	case MsgDataAMF3:
		return c.frontend.CommandMessage(CommandMessageInfo{MessageInfo: info, Encoding: AMF3, IsData: true}, msg.payload)
	default:
		return nil
	}
}

// SetChunkSize negotiates a new outbound chunk size (spec.md §4.7): the
// announcement itself is always sent at the chunk size already in
// effect, to avoid the message re-chunking under the very size it
// announces.
func (c *Connection) SetChunkSize(size uint32) {
	msg := []byte{
		0x02, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x04, MsgSetChunkSize,
		0x00, 0x00, 0x00, 0x00,
	}
	c.sendRaw(append(msg, encodeSetChunkSize(size)...))
	c.mu.Lock()
	c.outChunkSize = size
	c.mu.Unlock()
}

// SendCommand serializes and sends a Command_AMF0/AMF3 message on the
// control chunk stream (spec.md §4.9).
func (c *Connection) SendCommand(msgStreamID uint32, encoding AMFEncoding, payload []byte) {
	typeID := byte(MsgCommandAMF0)
	if encoding == AMF3 {
		typeID = MsgCommandAMF3
	}
	c.sendMessage(ControlChunkStreamId, uint32(time.Now().UnixMilli()), typeID, msgStreamID, payload)
}

// SendStreamStatus sends a User Control StreamBegin/StreamEOF/etc.
// message for msgStreamID (spec.md §4.8), e.g. on play start/stop.
func (c *Connection) SendStreamStatus(event uint16, msgStreamID uint32) {
	c.sendRaw(encodeStreamStatus(event, msgStreamID))
}

// SendData serializes and sends a Data_AMF0/AMF3 message (spec.md §4.9).
func (c *Connection) SendData(msgStreamID uint32, encoding AMFEncoding, payload []byte) {
	typeID := byte(MsgDataAMF0)
	if encoding == AMF3 {
		typeID = MsgDataAMF3
	}
	c.sendMessage(DataChunkStreamId, uint32(time.Now().UnixMilli()), typeID, msgStreamID, payload)
}

// SendAudio serializes and sends a complete audio message to the peer,
// chunking it itself. Callers forwarding the same publisher frame to
// many subscribers should prefer SendAudioPrechunked when the frame's
// AudioMessageInfo.Prechunked fast-path copy is available, to avoid
// re-chunking the payload once per subscriber.
func (c *Connection) SendAudio(msgStreamID uint32, timestamp uint32, payload []byte) {
	c.sendMessage(DefaultAudioChunkStreamId, timestamp, MsgAudio, msgStreamID, payload)
}

// SendVideo forwards a video message to the peer.
func (c *Connection) SendVideo(msgStreamID uint32, timestamp uint32, payload []byte) {
	c.sendMessage(DefaultVideoChunkStreamId, timestamp, MsgVideo, msgStreamID, payload)
}

func (c *Connection) sendMessage(chunkStreamID uint32, timestamp uint32, msgTypeID byte, msgStreamID uint32, payload []byte) {
	c.mu.Lock()
	cs := c.streams.getOrCreate(chunkStreamID, true)
	ctx := &prechunkContext{}
	chunkSize := c.outChunkSize

	msg := outboundMessage{
		chunkStreamID: chunkStreamID,
		timestamp:     timestamp,
		msgTypeID:     msgTypeID,
		msgStreamID:   msgStreamID,
		payload:       payload,
	}

	// A message that will be split into multiple chunks (spec.md §8
	// Scenario S4) needs the fix-header workaround whenever its header
	// would otherwise require the extended-timestamp field, so the
	// Type-3 continuation fragments that follow stay plain.
	willSplit := chunkSize != 0 && uint32(len(payload)) > chunkSize

	var out PageList
	if needsFixHeader(cs, msg, uint32(len(payload)), willSplit) {
		sendWithFixHeader(c.pool, &out, cs, ctx, chunkSize, msg)
	} else {
		serializeMessage(c.pool, &out, cs, ctx, chunkSize, msg)
	}
	c.mu.Unlock()

	c.sendRaw(out.Bytes())
	out.UnrefAll()
}

// SendPrechunked sends a page list someone already prechunked against
// this connection's current outbound chunk-stream state, verbatim and
// without adding any header — the GOP-cache fast path
// (spec.md §3) that reuses one serialization across subscribers instead
// of re-running serializeMessage per viewer.
func (c *Connection) SendPrechunked(pages *PageList) {
	c.sendRaw(pages.Bytes())
}

// SendAudioPrechunked forwards an audio message whose body a publisher's
// inbound demultiplexer already re-fragmented at PrechunkSize boundaries
// (AudioMessageInfo.Prechunked, spec.md §4.5) by writing only this
// connection's own Type-0/1/2/3 header and appending body verbatim,
// instead of re-running serializeMessage's payload-chunking pass for
// every subscriber (the namesake fast path, spec.md §3/§4.3).
func (c *Connection) SendAudioPrechunked(msgStreamID uint32, timestamp uint32, msgLen uint32, body []byte) {
	c.sendPrechunkedAV(DefaultAudioChunkStreamId, timestamp, MsgAudio, msgStreamID, msgLen, body)
}

// SendVideoPrechunked mirrors SendAudioPrechunked for video messages.
func (c *Connection) SendVideoPrechunked(msgStreamID uint32, timestamp uint32, msgLen uint32, body []byte) {
	c.sendPrechunkedAV(DefaultVideoChunkStreamId, timestamp, MsgVideo, msgStreamID, msgLen, body)
}

func (c *Connection) sendPrechunkedAV(chunkStreamID uint32, timestamp uint32, msgTypeID byte, msgStreamID uint32, msgLen uint32, body []byte) {
	c.primePrechunkOutput()

	c.mu.Lock()
	cs := c.streams.getOrCreate(chunkStreamID, true)
	msg := outboundMessage{chunkStreamID: chunkStreamID, timestamp: timestamp, msgTypeID: msgTypeID, msgStreamID: msgStreamID}
	willSplit := msgLen > PrechunkSize

	var out PageList
	if needsFixHeader(cs, msg, msgLen, willSplit) {
		serializeHeaderWithFix(c.pool, &out, cs, msgLen, msg)
	} else {
		serializeHeader(c.pool, &out, cs, msgLen, msg)
	}
	out.Append(c.pool, body)
	c.mu.Unlock()

	c.sendRaw(out.Bytes())
	out.UnrefAll()
}

// primePrechunkOutput renegotiates this connection's outbound chunk size
// to PrechunkSize when it differs, so a shared prechunked page list can
// be appended verbatim after the header (spec.md §4.4): the
// renegotiation message itself goes out at the chunk size already in
// effect, via SetChunkSize, to avoid the circularity of announcing a
// size under that very size.
func (c *Connection) primePrechunkOutput() {
	c.mu.Lock()
	cur := c.outChunkSize
	c.mu.Unlock()
	if cur != PrechunkSize {
		c.SetChunkSize(PrechunkSize)
	}
}

// sendRaw pushes bytes to the transport, tearing the connection down on
// a write failure (spec.md §5).
func (c *Connection) sendRaw(b []byte) {
	if err := c.transport.SendBytes(b); err != nil {
		c.teardown(err)
		return
	}
	_ = c.transport.Flush()
}

// Close tears the connection down gracefully from the owning side.
func (c *Connection) Close() {
	c.teardown(nil)
}

func (c *Connection) teardown(err error) {
	c.mu.Lock()
	c.closeLocked(err)
	c.mu.Unlock()
}

func (c *Connection) closeLocked(err error) {
	if c.closed {
		return
	}
	c.closed = true
	if c.cancelPingTimer != nil {
		c.cancelPingTimer()
	}

	c.mu.Unlock()
	c.frontend.Closed(err)
	c.backend.Close()
	c.mu.Lock()
}
