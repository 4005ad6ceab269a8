package server

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AgustinSRG/rtmp-engine/rtmp"
)

// Session is one connected publisher or player, implementing
// rtmp.Frontend (decoded messages arrive here) and rtmp.Backend (the
// engine asks it to release the connection once its own teardown is
// done). Adapted from the teacher's RTMPSession, minus everything the
// engine package (rtmp/) now owns: handshake, chunk parsing, header
// compression and the keepalive ping loop.
type Session struct {
	server *Server
	conn   *rtmp.Connection
	trans  *netConnTransport

	id uint64
	ip string

	connectTime time.Time

	publishMu sync.Mutex

	channel  string
	key      string
	streamID string

	objectEncoding uint32
	streams        uint32

	playStreamID    uint32
	publishStreamID uint32

	isConnected  bool
	isPublishing bool
	isPlaying    bool
	isIdling     bool
	isPause      bool

	receiveAudio bool
	receiveVideo bool

	gopPlayNo    bool
	gopPlayClear bool

	metaData          []byte
	audioCodec        byte
	videoCodec        byte
	aacSequenceHeader []byte
	avcSequenceHeader []byte

	gop *gopCache

	bitRateMu        sync.Mutex
	bitRate          uint64
	bitRateBytes     uint64
	bitRateLastCheck int64
}

func newSession(srv *Server, id uint64, ip string, trans *netConnTransport) *Session {
	return &Session{
		server:           srv,
		trans:            trans,
		id:               id,
		ip:               ip,
		receiveAudio:     true,
		receiveVideo:     true,
		gop:              newGopCache(srv.gopCacheLimit),
		bitRateLastCheck: time.Now().UnixMilli(),
	}
}

// bitRateSample folds n freshly-read bytes into the session's bit rate
// estimate, recomputed once per second, mirroring the teacher's
// BitRateCache in rtmp_session.go.
func (s *Session) bitRateSample(n int) {
	s.bitRateMu.Lock()
	defer s.bitRateMu.Unlock()

	s.bitRateBytes += uint64(n)
	now := time.Now().UnixMilli()
	diff := now - s.bitRateLastCheck
	if diff >= 1000 {
		s.bitRate = uint64(float64(s.bitRateBytes) * 8 / float64(diff))
		s.bitRateBytes = 0
		s.bitRateLastCheck = now
	}
}

func (s *Session) streamPath() string {
	return "/" + s.channel + "/" + s.key
}

// HandshakeComplete implements rtmp.Frontend. Nothing to validate here;
// every command so far has been protocol-level, not application-level.
func (s *Session) HandshakeComplete() bool {
	return true
}

// Closed implements rtmp.Frontend, releasing whatever the session was
// doing (equivalent to the teacher's RTMPSession.OnClose).
func (s *Session) Closed(err error) {
	if s.publishStreamID > 0 {
		s.deleteStream(s.publishStreamID, true)
	}
	if s.playStreamID > 0 {
		s.deleteStream(s.playStreamID, true)
	}
	s.isConnected = false
	s.server.removeSession(s.id)
	s.server.removeIP(s.ip)
	logDebugSession(s.id, s.ip, "Connection closed!")
}

// Close implements rtmp.Backend: release the socket once the engine's
// own teardown has finished running.
func (s *Session) Close() {
	s.trans.Close()
}

// SendStateChanged implements rtmp.Frontend. This reference server
// applies no backpressure policy of its own.
func (s *Session) SendStateChanged(rtmp.SendState) {}

// Kill forcibly closes the underlying connection (the control-plane and
// Redis admin paths' equivalent of the teacher's RTMPSession.Kill).
func (s *Session) Kill() {
	s.conn.Close()
}

// AudioMessage implements rtmp.Frontend.
func (s *Session) AudioMessage(info rtmp.AudioMessageInfo, payload []byte) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if !s.isPublishing {
		return nil
	}

	if s.audioCodec == 0 {
		s.audioCodec = info.CodecID
	}
	if info.IsSeqHeader {
		s.aacSequenceHeader = payload
	}

	if !info.IsSeqHeader {
		s.gop.push(cachedFrame{isVideo: false, timestamp: info.Timestamp, payload: payload})
	}

	prechunked := info.Prechunked
	for _, player := range s.server.getPlayers(s.channel) {
		if player.isPlaying && !player.isPause && player.receiveAudio {
			if len(prechunked) > 0 {
				player.conn.SendAudioPrechunked(player.playStreamID, info.Timestamp, uint32(len(payload)), prechunked)
			} else {
				player.conn.SendAudio(player.playStreamID, info.Timestamp, payload)
			}
		}
	}

	return nil
}

// VideoMessage implements rtmp.Frontend.
func (s *Session) VideoMessage(info rtmp.VideoMessageInfo, payload []byte) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if !s.isPublishing {
		return nil
	}

	isKeyframeHeader := info.IsSeqHeader && info.FrameType == 1
	if isKeyframeHeader {
		s.avcSequenceHeader = payload
	}
	if info.FrameType == 1 {
		s.gop.resetOnKeyframe()
	}
	if s.videoCodec == 0 {
		s.videoCodec = info.CodecID
	}

	if !info.IsSeqHeader {
		s.gop.push(cachedFrame{isVideo: true, timestamp: info.Timestamp, payload: payload})
	}

	prechunked := info.Prechunked
	for _, player := range s.server.getPlayers(s.channel) {
		if player.isPlaying && !player.isPause && player.receiveVideo {
			if len(prechunked) > 0 {
				player.conn.SendVideoPrechunked(player.playStreamID, info.Timestamp, uint32(len(payload)), prechunked)
			} else {
				player.conn.SendVideo(player.playStreamID, info.Timestamp, payload)
			}
		}
	}

	return nil
}

// CommandMessage implements rtmp.Frontend for both Command_AMF0/AMF3
// (invoke) and Data_AMF0/AMF3 messages.
func (s *Session) CommandMessage(info rtmp.CommandMessageInfo, payload []byte) error {
	if info.IsData {
		return s.handleData(payload)
	}
	return s.handleInvoke(info, payload)
}

func (s *Session) handleInvoke(info rtmp.CommandMessageInfo, payload []byte) error {
	// Flex Message (AMF3 invoke) carries a leading command-marker byte
	// that isn't part of the AMF0 body (spec.md §4.9).
	if info.Encoding == rtmp.AMF3 && len(payload) > 0 {
		payload = payload[1:]
	}

	cmd := rtmp.DecodeCommand(payload)
	logDebugSession(s.id, s.ip, "Received invoke: "+cmd.Name)

	switch cmd.Name {
	case "connect":
		return s.handleConnect(&cmd)
	case "createStream":
		return s.handleCreateStream(&cmd)
	case "publish":
		return s.handlePublish(&cmd, info.MsgStreamID)
	case "play":
		return s.handlePlay(&cmd, info.MsgStreamID)
	case "pause":
		return s.handlePause(&cmd)
	case "deleteStream":
		return s.handleDeleteStream(&cmd)
	case "closeStream":
		return s.deleteStream(info.MsgStreamID, false)
	case "receiveAudio":
		s.receiveAudio = cmd.Arg(0).GetBool()
	case "receiveVideo":
		s.receiveVideo = cmd.Arg(0).GetBool()
	}

	return nil
}

func (s *Session) handleData(payload []byte) error {
	data := rtmp.DecodeDataMessage(payload)
	if data.Tag != "@setDataFrame" {
		return nil
	}

	// value(0) is the nested tag name ("onMetaData"); value(1) is the
	// actual metadata object, re-tagged as onMetaData and resent.
	s.setMetaData(rtmp.EncodeDataMessage("onMetaData", *data.Value(1)))
	return nil
}

func (s *Session) handleConnect(cmd *rtmp.Command) error {
	s.channel = cmd.CommandObject.GetProperty("app").GetString()

	if !validateStreamIDString(s.channel, s.server.streamIDMaxLength) {
		logRequest(s.id, s.ip, "INVALID CHANNEL '"+s.channel+"'")
		s.conn.Close()
		return nil
	}

	objectEncodingArg := cmd.CommandObject.GetProperty("objectEncoding")
	s.objectEncoding = uint32(objectEncodingArg.GetInteger())
	s.connectTime = time.Now()
	s.isConnected = true

	logRequest(s.id, s.ip, "CONNECT '"+s.channel+"'")

	cfg := rtmp.DefaultConnectionConfig()
	cfg.ChunkSize = s.server.outChunkSize
	cfg.KeepaliveInterval = s.server.keepaliveInterval
	s.conn.Start(cfg)
	s.conn.SendCommand(rtmp.CommandMessageStreamId, rtmp.AMF0,
		rtmp.EncodeConnectResult(cmd.TransactionID, s.objectEncoding, !objectEncodingArg.IsUndefined()))

	return nil
}

func (s *Session) handleCreateStream(cmd *rtmp.Command) error {
	s.streams++
	s.conn.SendCommand(rtmp.CommandMessageStreamId, rtmp.AMF0,
		rtmp.EncodeCreateStreamResult(cmd.TransactionID, s.streams))
	return nil
}

func (s *Session) sendStatus(streamID uint32, level, code, description string) {
	s.conn.SendCommand(streamID, rtmp.AMF0, rtmp.EncodeOnStatus(level, code, description))
}

func (s *Session) handlePublish(cmd *rtmp.Command, msgStreamID uint32) error {
	streamPath := cmd.Arg(0).GetString()
	s.key = strings.SplitN(streamPath, "?", 2)[0]

	if s.key == "" || !s.isConnected {
		return nil
	}

	if !validateStreamIDString(s.key, s.server.streamIDMaxLength) {
		s.sendStatus(msgStreamID, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
		return nil
	}

	s.publishStreamID = msgStreamID

	if s.isPublishing {
		s.sendStatus(s.publishStreamID, "error", "NetStream.Publish.BadConnection", "Connection already publishing")
		return nil
	}

	if s.server.isPublishing(s.channel) {
		s.sendStatus(s.publishStreamID, "error", "NetStream.Publish.BadName", "Stream already publishing")
		s.conn.Close()
		return nil
	}

	logRequest(s.id, s.ip, "PUBLISH ("+strconv.FormatUint(uint64(s.publishStreamID), 10)+") '"+s.channel+"'")

	if ctl, ok := s.server.controlConnection(); ok {
		accepted, streamID := ctl.RequestPublish(s.channel, s.key, s.ip)
		if !accepted {
			logRequest(s.id, s.ip, "Error: Invalid streaming key provided")
			s.sendStatus(s.publishStreamID, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
			s.conn.Close()
			return nil
		}
		s.streamID = streamID
	} else if !s.runStartCallback() {
		logRequest(s.id, s.ip, "Error: Invalid streaming key provided")
		s.sendStatus(s.publishStreamID, "error", "NetStream.Publish.BadName", "Invalid stream key provided")
		s.conn.Close()
		return nil
	}

	s.isPublishing = true
	s.server.setPublisher(s.channel, s.key, s.streamID, s)

	s.sendStatus(s.publishStreamID, "status", "NetStream.Publish.Start", s.streamPath()+" is now published.")

	s.startIdlePlayers()

	return nil
}

// runStartCallback runs the CALLBACK_URL webhook check and records the
// stream ID it returns; handlePublish picks between this and the
// coordinator path.
func (s *Session) runStartCallback() bool {
	streamID, ok := s.sendStartCallback()
	if ok {
		s.streamID = streamID
	}
	return ok
}

func (s *Session) handlePlay(cmd *rtmp.Command, msgStreamID uint32) error {
	streamPath := cmd.Arg(0).GetString()
	parts := strings.SplitN(streamPath, "?", 2)
	s.key = parts[0]
	if len(parts) > 1 {
		params := parseQueryParams(parts[1])
		s.gopPlayNo = params["cache"] == "no"
		s.gopPlayClear = params["cache"] == "clear"
	}

	if s.key == "" || !s.isConnected {
		return nil
	}

	s.playStreamID = msgStreamID

	if s.isIdling || s.isPlaying {
		s.sendStatus(s.playStreamID, "error", "NetStream.Play.BadConnection", "Connection already playing")
		return nil
	}

	if !s.canPlay() {
		s.sendStatus(s.playStreamID, "error", "NetStream.Play.BadName", "Your net address is not whitelisted for playing")
		s.conn.Close()
		return nil
	}

	logRequest(s.id, s.ip, "PLAY ("+strconv.FormatUint(uint64(s.playStreamID), 10)+") '"+s.channel+"'")

	s.respondPlay()

	idle, err := s.server.addPlayer(s.channel, s.key, s)
	if err != nil {
		logRequest(s.id, s.ip, "Error: Invalid streaming key provided")
		s.sendStatus(s.playStreamID, "error", "NetStream.Play.BadName", "Invalid stream key provided")
		s.conn.Close()
		return nil
	}

	if !idle {
		if publisher := s.server.getPublisher(s.channel); publisher != nil {
			publisher.startPlayer(s)
		}
	} else {
		logRequest(s.id, s.ip, "PLAY IDLE '"+s.channel+"'")
	}

	return nil
}

func (s *Session) respondPlay() {
	s.conn.SendStreamStatus(rtmp.UserControlStreamBegin, s.playStreamID)
	s.sendStatus(s.playStreamID, "status", "NetStream.Play.Reset", "Playing and resetting stream.")
	s.sendStatus(s.playStreamID, "status", "NetStream.Play.Start", "Started playing stream.")
	s.conn.SendData(rtmp.CommandMessageStreamId, rtmp.AMF0, rtmp.EncodeSampleAccess())
}

func (s *Session) handlePause(cmd *rtmp.Command) error {
	if !s.isPlaying {
		return nil
	}

	s.isPause = cmd.Arg(0).GetBool()

	if s.isPause {
		s.conn.SendStreamStatus(rtmp.UserControlStreamEOF, s.playStreamID)
		s.sendStatus(s.playStreamID, "status", "NetStream.Pause.Notify", "Paused live")
		logRequest(s.id, s.ip, "PAUSE '"+s.channel+"'")
	} else {
		s.conn.SendStreamStatus(rtmp.UserControlStreamBegin, s.playStreamID)
		if publisher := s.server.getPublisher(s.channel); publisher != nil {
			logRequest(s.id, s.ip, "RESUME '"+s.channel+"'")
			publisher.resumePlayer(s)
		} else {
			logRequest(s.id, s.ip, "PLAY IDLE '"+s.channel+"'")
		}
		s.sendStatus(s.playStreamID, "status", "NetStream.Unpause.Notify", "Unpaused live")
	}

	return nil
}

func (s *Session) handleDeleteStream(cmd *rtmp.Command) error {
	return s.deleteStream(uint32(cmd.Arg(0).GetInteger()), false)
}

// deleteStream tears down a play or publish sub-stream; fromClose
// suppresses the graceful status notifications the teacher's
// OnClose-triggered path skips.
func (s *Session) deleteStream(streamID uint32, fromClose bool) error {
	if streamID == s.playStreamID && streamID != 0 {
		logRequest(s.id, s.ip, "PLAY STOP '"+s.channel+"'")
		s.server.removePlayer(s.channel, s)
		if !fromClose {
			s.sendStatus(s.playStreamID, "status", "NetStream.Play.Stop", "Stopped playing stream.")
		}
		s.playStreamID = 0
		s.isPlaying = false
		s.isIdling = false
	}

	if streamID == s.publishStreamID && streamID != 0 {
		if s.isPublishing {
			s.endPublish(fromClose)
		}
		s.publishStreamID = 0
	}

	return nil
}

// startIdlePlayers mirrors the teacher's RTMPSession.StartIdlePlayers:
// called by a freshly started publisher to wake every player that
// joined before it began publishing.
func (s *Session) startIdlePlayers() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	for _, player := range s.server.getIdlePlayers(s.channel) {
		if player.key != s.key {
			logRequest(player.id, player.ip, "Error: Invalid stream key provided")
			player.sendStatus(player.playStreamID, "error", "NetStream.Play.BadName", "Invalid stream key provided")
			player.conn.Close()
			continue
		}
		s.resumeOnePlayer(player)
	}
}

func (s *Session) startPlayer(player *Session) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if !s.isPublishing {
		player.isPlaying = false
		player.isIdling = true
		logRequest(player.id, player.ip, "PLAY IDLE '"+player.channel+"'")
		return
	}

	s.resumeOnePlayer(player)
}

func (s *Session) resumeOnePlayer(player *Session) {
	logRequest(player.id, player.ip, "PLAY START '"+player.channel+"'")

	player.conn.SendData(player.playStreamID, rtmp.AMF0, s.metaData)
	s.sendCodecHeaders(player, 0)

	if !player.gopPlayNo {
		s.gop.forEach(func(f cachedFrame) {
			if f.isVideo {
				player.conn.SendVideo(player.playStreamID, f.timestamp, f.payload)
			} else {
				player.conn.SendAudio(player.playStreamID, f.timestamp, f.payload)
			}
		})
	}

	player.isPlaying = true
	player.isIdling = false

	if player.gopPlayClear {
		s.gop.clearAndDisable()
	}
}

func (s *Session) sendCodecHeaders(player *Session, timestamp uint32) {
	if len(s.aacSequenceHeader) > 0 {
		player.conn.SendAudio(player.playStreamID, timestamp, s.aacSequenceHeader)
	}
	if len(s.avcSequenceHeader) > 0 {
		player.conn.SendVideo(player.playStreamID, timestamp, s.avcSequenceHeader)
	}
}

func (s *Session) resumePlayer(player *Session) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.sendCodecHeaders(player, 0)
}

func (s *Session) setMetaData(metaData []byte) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if !s.isPublishing {
		return
	}

	s.metaData = metaData

	for _, player := range s.server.getPlayers(s.channel) {
		player.conn.SendData(player.playStreamID, rtmp.AMF0, metaData)
	}
}

// endPublish mirrors the teacher's RTMPSession.EndPublish.
func (s *Session) endPublish(isClose bool) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	if !s.isPublishing {
		return
	}

	logRequest(s.id, s.ip, "PUBLISH END '"+s.channel+"'")

	if !isClose {
		s.sendStatus(s.publishStreamID, "status", "NetStream.Unpublish.Success", s.streamPath()+" is now unpublished.")
	}

	for _, player := range s.server.getPlayers(s.channel) {
		player.isIdling = true
		player.isPlaying = false
		logRequest(player.id, player.ip, "PLAY IDLE '"+player.channel+"'")
		player.sendStatus(player.playStreamID, "status", "NetStream.Play.UnpublishNotify", "stream is now unpublished.")
		player.conn.SendStreamStatus(rtmp.UserControlStreamEOF, player.playStreamID)
	}

	s.server.removePublisher(s.channel)
	s.gop = newGopCache(s.server.gopCacheLimit)
	s.isPublishing = false

	if ctl, ok := s.server.controlConnection(); ok {
		if ctl.PublishEnd(s.channel, s.streamID) {
			logDebugSession(s.id, s.ip, "Stop event sent")
		} else {
			logDebugSession(s.id, s.ip, "Could not send stop event")
		}
	} else if s.sendStopCallback() {
		logDebugSession(s.id, s.ip, "Stop event sent")
	} else {
		logDebugSession(s.id, s.ip, "Could not send stop event")
	}
}

func (s *Session) canPlay() bool {
	return s.server.ipAllowedToPlay(s.ip)
}
