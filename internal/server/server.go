package server

import (
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/netdata/go.d.plugin/pkg/iprange"

	"github.com/AgustinSRG/rtmp-engine/internal/server/control"
	"github.com/AgustinSRG/rtmp-engine/internal/server/redisctl"
	"github.com/AgustinSRG/rtmp-engine/internal/server/tlscert"
	"github.com/AgustinSRG/rtmp-engine/rtmp"
)

// channel tracks one publish/play namespace: at most one publisher and
// any number of players, mirroring the teacher's RTMPChannel.
type channel struct {
	key          string
	streamID     string
	isPublishing bool
	publisher    uint64
	players      map[uint64]bool
}

// Server is the reference composition root: it owns the listeners, the
// session/channel registry, IP limiting, and the optional coordinator
// and Redis control planes. Adapted from the teacher's RTMPServer.
type Server struct {
	listener       net.Listener
	secureListener net.Listener

	mu       sync.Mutex
	sessions map[uint64]*Session
	channels map[string]*channel
	nextID   uint64

	ipMu    sync.Mutex
	ipCount map[string]uint32
	ipLimit uint32

	pagePool *rtmp.PagePool
	timers   rtmp.TimerWheel

	outChunkSize        uint32
	streamIDMaxLength   int
	gopCacheLimit       int64
	keepaliveInterval   time.Duration
	playWhitelist       []iprange.Range
	playWhitelistAll    bool
	ipLimitWhitelist    []iprange.Range
	ipLimitWhitelistAll bool

	control *control.Connection

	closed bool
}

// NewServer builds a Server from environment configuration, matching
// the teacher's CreateRTMPServer env-var surface (BIND_ADDRESS,
// RTMP_PORT, SSL_PORT, SSL_CERT, SSL_KEY, MAX_IP_CONCURRENT_CONNECTIONS,
// GOP_CACHE_SIZE_MB, RTMP_CHUNK_SIZE, CONCURRENT_LIMIT_WHITELIST,
// PLAY_WHITELIST, CONTROL_BASE_URL).
func NewServer() (*Server, error) {
	srv := &Server{
		sessions:          make(map[uint64]*Session),
		channels:          make(map[string]*channel),
		nextID:            1,
		ipCount:           make(map[string]uint32),
		ipLimit:           4,
		pagePool:          rtmp.NewPagePool(4096),
		timers:            rtmp.NewTimerWheel(),
		outChunkSize:      rtmp.DefaultChunkSize,
		streamIDMaxLength: 128,
		gopCacheLimit:     256 * 1024 * 1024,
		keepaliveInterval: rtmp.KeepalivePeriodSeconds * time.Second,
	}

	if v := os.Getenv("MAX_IP_CONCURRENT_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			srv.ipLimit = uint32(n)
		}
	}
	if v := os.Getenv("GOP_CACHE_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			srv.gopCacheLimit = int64(n) * 1024 * 1024
		}
	}
	if v := os.Getenv("RTMP_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && uint32(n) > rtmp.DefaultChunkSize {
			srv.outChunkSize = uint32(n)
		}
	}

	srv.ipLimitWhitelist, srv.ipLimitWhitelistAll = parseRangeList(os.Getenv("CONCURRENT_LIMIT_WHITELIST"))
	srv.playWhitelist, srv.playWhitelistAll = parseRangeList(os.Getenv("PLAY_WHITELIST"))

	bindAddr := os.Getenv("BIND_ADDRESS")

	tcpPort := 1935
	if v := os.Getenv("RTMP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			tcpPort = n
		}
	}

	lTCP, err := net.Listen("tcp", bindAddr+":"+strconv.Itoa(tcpPort))
	if err != nil {
		return nil, err
	}
	srv.listener = lTCP
	logInfo("[RTMP] Listening on " + bindAddr + ":" + strconv.Itoa(tcpPort))

	sslPort := 443
	if v := os.Getenv("SSL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			sslPort = n
		}
	}

	useSSL := false
	certFile := os.Getenv("SSL_CERT")
	keyFile := os.Getenv("SSL_KEY")
	if certFile != "" && keyFile != "" {
		loader, err := tlscert.Load(certFile, keyFile, 30*time.Second)
		if err != nil {
			lTCP.Close()
			return nil, err
		}
		cfg := &tls.Config{GetCertificate: loader.GetCertificateFunc()}
		lnSSL, err := tls.Listen("tcp", bindAddr+":"+strconv.Itoa(sslPort), cfg)
		if err != nil {
			lTCP.Close()
			return nil, err
		}
		srv.secureListener = lnSSL
		useSSL = true
		logInfo("[SSL] Listening on " + bindAddr + ":" + strconv.Itoa(sslPort))
	}

	if ctl, ok := control.NewConnection(srv, tcpPort, useSSL); ok {
		srv.control = ctl
	}

	return srv, nil
}

func parseRangeList(v string) (ranges []iprange.Range, matchAll bool) {
	if v == "" {
		return nil, false
	}
	if v == "*" {
		return nil, true
	}
	for _, part := range strings.Split(v, ",") {
		r, err := iprange.ParseRange(part)
		if err != nil {
			logError(err)
			continue
		}
		ranges = append(ranges, r)
	}
	return ranges, false
}

func matchesRangeList(ip string, ranges []iprange.Range, matchAll bool) bool {
	if matchAll {
		return true
	}
	if len(ranges) == 0 {
		return false
	}
	parsed := net.ParseIP(ip)
	for _, r := range ranges {
		if r.Contains(parsed) {
			return true
		}
	}
	return false
}

// ipAllowedToPlay reports whether ip may bypass the play whitelist
// (an empty/unset PLAY_WHITELIST allows everyone, matching the
// teacher's default-open behavior).
func (s *Server) ipAllowedToPlay(ip string) bool {
	if s.playWhitelist == nil && !s.playWhitelistAll && os.Getenv("PLAY_WHITELIST") == "" {
		return true
	}
	return matchesRangeList(ip, s.playWhitelist, s.playWhitelistAll)
}

func (s *Server) isIPExemptFromLimit(ip string) bool {
	return matchesRangeList(ip, s.ipLimitWhitelist, s.ipLimitWhitelistAll)
}

func (s *Server) addIP(ip string) bool {
	s.ipMu.Lock()
	defer s.ipMu.Unlock()
	c := s.ipCount[ip]
	if c >= s.ipLimit {
		return false
	}
	s.ipCount[ip] = c + 1
	return true
}

func (s *Server) removeIP(ip string) {
	s.ipMu.Lock()
	defer s.ipMu.Unlock()
	c := s.ipCount[ip]
	if c <= 1 {
		delete(s.ipCount, ip)
	} else {
		s.ipCount[ip] = c - 1
	}
}

func (s *Server) nextSessionID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return id
}

func (s *Server) addSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.id] = sess
}

func (s *Server) removeSession(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) isPublishing(ch string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channels[ch]
	return c != nil && c.isPublishing
}

func (s *Server) getPublisher(ch string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channels[ch]
	if c == nil || !c.isPublishing {
		return nil
	}
	return s.sessions[c.publisher]
}

func (s *Server) setPublisher(ch string, key string, streamID string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channels[ch]
	if c == nil {
		c = &channel{players: make(map[uint64]bool)}
		s.channels[ch] = c
	}
	c.key = key
	c.streamID = streamID
	c.isPublishing = true
	c.publisher = sess.id
}

func (s *Server) removePublisher(ch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channels[ch]
	if c == nil {
		return
	}
	c.publisher = 0
	c.isPublishing = false
	for sid := range c.players {
		if player := s.sessions[sid]; player != nil {
			player.isIdling = true
			player.isPlaying = false
		}
	}
	if len(c.players) == 0 {
		delete(s.channels, ch)
	}
}

func (s *Server) getIdlePlayers(ch string) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channels[ch]
	if c == nil {
		return nil
	}
	var out []*Session
	for sid := range c.players {
		if player := s.sessions[sid]; player != nil && player.isIdling {
			out = append(out, player)
		}
	}
	return out
}

func (s *Server) getPlayers(ch string) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channels[ch]
	if c == nil {
		return nil
	}
	var out []*Session
	for sid := range c.players {
		if player := s.sessions[sid]; player != nil && player.isPlaying {
			out = append(out, player)
		}
	}
	return out
}

func (s *Server) addPlayer(ch string, key string, sess *Session) (idle bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channels[ch]
	if c == nil {
		c = &channel{players: make(map[uint64]bool)}
		s.channels[ch] = c
	}
	if c.isPublishing {
		if subtle.ConstantTimeCompare([]byte(key), []byte(c.key)) == 1 {
			sess.isIdling = false
		} else {
			return false, errors.New("invalid stream key")
		}
	} else {
		sess.isIdling = true
	}
	c.players[sess.id] = true
	return sess.isIdling, nil
}

func (s *Server) removePlayer(ch string, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channels[ch]
	if c == nil {
		return
	}
	delete(c.players, sess.id)
	sess.isIdling = false
	sess.isPlaying = false
	if !c.isPublishing && len(c.players) == 0 {
		delete(s.channels, ch)
	}
}

func (s *Server) controlConnection() (*control.Connection, bool) {
	if s.control == nil {
		return nil, false
	}
	return s.control, true
}

// KillAllActivePublishers implements control.Hooks: invoked when a
// fresh coordinator connection is established, so every session that
// was publishing under a stale connection is forced to reconnect.
func (s *Server) KillAllActivePublishers() {
	s.mu.Lock()
	var toKill []*Session
	for _, c := range s.channels {
		if c.isPublishing {
			if pub := s.sessions[c.publisher]; pub != nil {
				toKill = append(toKill, pub)
			}
		}
	}
	s.mu.Unlock()
	for _, p := range toKill {
		p.Kill()
	}
}

// KillPublisher implements control.Hooks and redisctl.Hooks. An empty
// streamID kills the channel's publisher unconditionally (the Redis
// kill-session command); a nonempty streamID only kills if it matches
// the channel's current stream (close-stream).
func (s *Server) KillPublisher(ch string, streamID string) {
	s.mu.Lock()
	c := s.channels[ch]
	var pub *Session
	if c != nil && c.isPublishing && (streamID == "" || c.streamID == streamID) {
		pub = s.sessions[c.publisher]
	}
	s.mu.Unlock()
	if pub != nil {
		pub.Kill()
	}
}

func (s *Server) Log(line string) { logInfo(line) }

func (s *Server) LogInfo(line string)    { logInfo(line) }
func (s *Server) LogWarning(line string) { logWarning(line) }
func (s *Server) LogError(err error)     { logError(err) }

// Start runs the accept loops for both listeners and blocks until they
// return. Call from main after NewServer succeeds.
func (s *Server) Start() {
	var wg sync.WaitGroup

	if s.control != nil {
		s.control.Start()
	}
	redisctl.Start(s)

	if s.listener != nil {
		wg.Add(1)
		go s.acceptConnections(s.listener, &wg)
	}
	if s.secureListener != nil {
		wg.Add(1)
		go s.acceptConnections(s.secureListener, &wg)
	}

	wg.Wait()
}

func (s *Server) acceptConnections(listener net.Listener, wg *sync.WaitGroup) {
	defer func() {
		listener.Close()
		wg.Done()
	}()
	for {
		c, err := listener.Accept()
		if err != nil {
			logError(err)
			return
		}

		id := s.nextSessionID()
		ip := remoteIP(c)

		if !s.isIPExemptFromLimit(ip) && !s.addIP(ip) {
			c.Close()
			logRequest(id, ip, "Connection rejected: Too many requests")
			continue
		}

		logDebugSession(id, ip, "Connection accepted!")
		go s.handleConnection(id, ip, c)
	}
}

func remoteIP(c net.Conn) string {
	if addr, ok := c.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	return c.RemoteAddr().String()
}

// handleConnection runs one accepted net.Conn through the RTMP
// handshake and then the chunk-stream engine until it closes.
func (s *Server) handleConnection(id uint64, ip string, c net.Conn) {
	defer func() {
		if err := recover(); err != nil {
			logRequest(id, ip, "Connection crashed: "+recoverMessage(err))
		}
		c.Close()
	}()

	reader := newConnReader(c)

	if _, err := rtmp.RunServerHandshake(reader.read, func(b []byte) error {
		_, err := c.Write(b)
		return err
	}); err != nil {
		logDebugSession(id, ip, "Handshake failed: "+err.Error())
		return
	}

	trans := &netConnTransport{conn: c}
	sess := newSession(s, id, ip, trans)
	s.addSession(sess)

	backend := sessionBackend{sess: sess}
	sess.conn = rtmp.NewConnection(trans, sess, backend, s.pagePool, s.timers)

	for {
		buf, err := reader.readSome()
		if err != nil {
			sess.conn.Close()
			return
		}
		sess.bitRateSample(len(buf))
		if err := sess.conn.Feed(buf); err != nil {
			return
		}
	}
}

func recoverMessage(err any) string {
	switch x := err.(type) {
	case string:
		return x
	case error:
		return x.Error()
	default:
		return "unknown panic"
	}
}

// sessionBackend implements rtmp.Backend, closing the underlying
// net.Conn once the engine's own teardown completes.
type sessionBackend struct {
	sess *Session
}

func (b sessionBackend) Close() {
	b.sess.trans.Close()
}

// connReader adapts a net.Conn to the read(n) and best-effort
// readSome() shapes RunServerHandshake/Connection.Feed expect.
type connReader struct {
	conn net.Conn
	buf  []byte
}

func newConnReader(c net.Conn) *connReader {
	return &connReader{conn: c, buf: make([]byte, 65536)}
}

func (r *connReader) read(n int) ([]byte, error) {
	out := make([]byte, n)
	_, err := readFull(r.conn, out)
	return out, err
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *connReader) readSome() ([]byte, error) {
	n, err := r.conn.Read(r.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, r.buf[:n])
		return out, err
	}
	return nil, err
}
