package control

import (
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/gorilla/websocket"
)

// Hooks lets Connection reach back into the server without importing it,
// avoiding an import cycle (server imports control).
type Hooks interface {
	KillAllActivePublishers()
	KillPublisher(channel string, streamID string)
	Log(line string)
	LogError(err error)
}

// PublishResponse is the coordinator's verdict on a RequestPublish call.
type PublishResponse struct {
	Accepted bool
	StreamID string
}

type pendingRequest struct {
	waiter chan PublishResponse
}

// Connection is a websocket control-plane client to an external
// coordinator, mirroring the teacher's ControlServerConnection. It
// authorizes publish attempts and relays forced stream kills.
type Connection struct {
	hooks Hooks

	connectionURL string
	port          int
	useSSL        bool

	lock      sync.Mutex
	conn      *websocket.Conn
	enabled   bool
	nextReqID uint64
	requests  map[string]*pendingRequest
}

// NewConnection builds a Connection from CONTROL_BASE_URL. Returns nil,
// false if coordinator mode isn't configured.
func NewConnection(hooks Hooks, bindPort int, useSSL bool) (*Connection, bool) {
	base := os.Getenv("CONTROL_BASE_URL")
	if base == "" {
		return nil, false
	}

	u, err := url.Parse(base)
	if err != nil {
		hooks.LogError(err)
		return nil, false
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/control/rtmp"

	return &Connection{
		hooks:         hooks,
		connectionURL: u.String(),
		port:          bindPort,
		useSSL:        useSSL,
		requests:      make(map[string]*pendingRequest),
	}, true
}

// Start connects and keeps the connection alive in the background.
func (c *Connection) Start() {
	go c.connect()
	go c.heartbeatLoop()
}

func (c *Connection) connect() {
	header := http.Header{}
	header.Set("x-control-auth-token", MakeAuthenticationToken())
	header.Set("x-custom-port", strconv.Itoa(c.port))
	if c.useSSL {
		header.Set("x-ssl-use", "true")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.connectionURL, header)
	if err != nil {
		c.hooks.LogError(err)
		c.reconnectAfter(10 * time.Second)
		return
	}

	c.lock.Lock()
	c.conn = conn
	c.enabled = true
	c.lock.Unlock()

	c.hooks.Log("[WS-CONTROL] Connected")
	c.hooks.KillAllActivePublishers()

	go c.readLoop(conn)
}

func (c *Connection) reconnectAfter(d time.Duration) {
	time.AfterFunc(d, c.connect)
}

func (c *Connection) onDisconnect(err error) {
	c.lock.Lock()
	c.enabled = false
	c.conn = nil
	pending := c.requests
	c.requests = make(map[string]*pendingRequest)
	c.lock.Unlock()

	if err != nil {
		c.hooks.LogError(err)
	}
	for _, req := range pending {
		req.waiter <- PublishResponse{Accepted: false}
	}

	c.reconnectAfter(10 * time.Second)
}

func (c *Connection) send(msg messages.RPCMessage) bool {
	c.lock.Lock()
	conn := c.conn
	enabled := c.enabled
	c.lock.Unlock()

	if !enabled || conn == nil {
		return false
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Serialize())); err != nil {
		c.hooks.LogError(err)
		return false
	}
	return true
}

func (c *Connection) nextRequestID() string {
	return strconv.FormatUint(atomic.AddUint64(&c.nextReqID, 1), 10)
}

func (c *Connection) readLoop(conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			conn.Close()
			c.onDisconnect(err)
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			c.onDisconnect(err)
			return
		}

		msg := messages.ParseRPCMessage(string(data))
		c.handleIncoming(&msg)
	}
}

func (c *Connection) handleIncoming(msg *messages.RPCMessage) {
	switch msg.Method {
	case "ERROR":
		c.hooks.Log("[WS-CONTROL] Remote error. Code=" + msg.GetParam("Error-Code") + " / Details: " + msg.GetParam("Error-Message"))
	case "PUBLISH-ACCEPT":
		c.resolvePublish(msg.GetParam("Request-Id"), PublishResponse{
			Accepted: true,
			StreamID: msg.GetParam("Stream-Id"),
		})
	case "PUBLISH-DENY":
		c.resolvePublish(msg.GetParam("Request-Id"), PublishResponse{Accepted: false})
	case "STREAM-KILL":
		c.hooks.KillPublisher(msg.GetParam("Stream-Channel"), msg.GetParam("Stream-Id"))
	}
}

func (c *Connection) resolvePublish(requestID string, resp PublishResponse) {
	c.lock.Lock()
	req, found := c.requests[requestID]
	if found {
		delete(c.requests, requestID)
	}
	c.lock.Unlock()

	if found {
		req.waiter <- resp
	}
}

func (c *Connection) heartbeatLoop() {
	for range time.Tick(20 * time.Second) {
		c.send(messages.RPCMessage{Method: "HEARTBEAT"})
	}
}

// RequestPublish asks the coordinator whether a publish attempt may
// proceed, blocking for up to 20 seconds. If no coordinator is
// connected, publishing is allowed through unconditionally.
func (c *Connection) RequestPublish(channel string, key string, userIP string) (accepted bool, streamID string) {
	c.lock.Lock()
	enabled := c.enabled
	c.lock.Unlock()
	if !enabled {
		return true, ""
	}

	requestID := c.nextRequestID()
	waiter := make(chan PublishResponse, 1)

	c.lock.Lock()
	c.requests[requestID] = &pendingRequest{waiter: waiter}
	c.lock.Unlock()

	ok := c.send(messages.RPCMessage{
		Method: "PUBLISH-REQUEST",
		Params: map[string]string{
			"Request-ID":     requestID,
			"Stream-Channel": channel,
			"Stream-Key":     key,
			"User-IP":        userIP,
		},
	})
	if !ok {
		c.lock.Lock()
		delete(c.requests, requestID)
		c.lock.Unlock()
		return false, ""
	}

	timeout := time.AfterFunc(20*time.Second, func() {
		c.resolvePublish(requestID, PublishResponse{Accepted: false})
	})
	defer timeout.Stop()

	resp := <-waiter
	return resp.Accepted, resp.StreamID
}

// PublishEnd notifies the coordinator a publish session ended.
func (c *Connection) PublishEnd(channel string, streamID string) bool {
	return c.send(messages.RPCMessage{
		Method: "PUBLISH-END",
		Params: map[string]string{
			"Stream-Channel": channel,
			"Stream-ID":      streamID,
		},
	})
}
