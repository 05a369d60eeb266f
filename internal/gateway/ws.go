package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/runtime"
)

// Wire limits and timing, per spec.md §6: payload <= 128 KiB, buffered
// bytes <= 1 MiB, 10 s handshake timeout, 30 s post-auth heartbeat tick.
// Grounded on the teacher's wsMaxPayloadBytes/wsTickInterval constants and
// the original source's HANDSHAKE_TIMEOUT_MS/HEARTBEAT_INTERVAL_SECS.
const (
	maxPayloadBytes  = 128 << 10
	maxBufferedBytes = 1 << 20
	handshakeTimeout = 10 * time.Second
	heartbeatTick    = 30 * time.Second
	writeWait        = 10 * time.Second
)

// WSConfig configures the WebSocket server.
type WSConfig struct {
	// AuthToken, if non-empty, must match connect params' auth.token or the
	// handshake fails with AUTH_FAILED. Empty disables auth, matching
	// GatewayConfig.Auth's "empty disables auth" convention.
	AuthToken string
	Runtime   *runtime.Runtime
	Log       zerolog.Logger
}

// WSServer upgrades HTTP connections to the req/res/event protocol.
type WSServer struct {
	config   WSConfig
	hub      *hub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewWSServer builds a WSServer. The returned hub is exposed via Hub so it
// can be registered with the scheduler's delivery router under the "ws"
// channel name.
func NewWSServer(config WSConfig) *WSServer {
	log := config.Log.With().Str("component", "gateway.ws").Logger()
	return &WSServer{
		config: config,
		hub:    newHub(log),
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Hub exposes the broadcast hub, which implements scheduler.Dispatcher for
// channel "ws".
func (s *WSServer) Hub() *hub { return s.hub }

func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	c := &connection{
		server: s,
		conn:   conn,
		send:   make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
		id:     uuid.NewString(),
	}
	c.run()
}

// connState is the linear, no-backwards-transitions progression of a WS
// connection: awaiting its connect request, authenticated, or closing.
// Grounded on the original source's ConnState enum.
type connState int

const (
	stateAwaitingConnect connState = iota
	stateAuthenticated
	stateClosing
)

type connection struct {
	server *WSServer
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	id       string
	state    connState
	mu       sync.Mutex
	buffered int64
}

var errAuthFailed = errors.New("invalid auth token")

// enqueue pushes data onto the connection's send channel, tracking buffered
// bytes against maxBufferedBytes (the slow-consumer threshold from spec.md
// §6) and closing the connection instead of blocking or growing unbounded
// when a client stops reading.
func (c *connection) enqueue(data []byte) {
	c.mu.Lock()
	over := c.buffered+int64(len(data)) > maxBufferedBytes
	if !over {
		c.buffered += int64(len(data))
	}
	c.mu.Unlock()
	if over {
		c.server.log.Warn().Str("conn_id", c.id).Msg("buffered bytes exceeded threshold, closing slow consumer")
		c.cancel()
		return
	}
	select {
	case c.send <- data:
	default:
		c.mu.Lock()
		c.buffered -= int64(len(data))
		c.mu.Unlock()
	}
}

func (c *connection) run() {
	defer c.close()

	go c.writeLoop()

	challenge := eventFrame("challenge", map[string]any{"nonce": uuid.NewString()}, c.server.hub.nextSeq())
	if data, err := marshalFrame(challenge); err == nil {
		c.enqueue(data)
	}

	c.readLoop()
}

func (c *connection) close() {
	c.cancel()
	c.server.hub.remove(c)
	close(c.send)
	_ = c.conn.Close()
}

func (c *connection) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.mu.Lock()
			c.buffered -= int64(len(msg))
			c.mu.Unlock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (c *connection) readLoop() {
	c.conn.SetReadLimit(maxPayloadBytes)

	handshakeTimer := time.AfterFunc(handshakeTimeout, func() {
		c.mu.Lock()
		awaiting := c.state == stateAwaitingConnect
		c.mu.Unlock()
		if awaiting {
			c.server.log.Warn().Str("conn_id", c.id).Msg("handshake timed out")
			c.cancel()
			_ = c.conn.Close()
		}
	})
	defer handshakeTimer.Stop()

	var tickCancel context.CancelFunc

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if tickCancel != nil {
				tickCancel()
			}
			return
		}
		if len(data) > maxPayloadBytes {
			c.server.log.Warn().Str("conn_id", c.id).Int("size", len(data)).Msg("payload too large")
			if tickCancel != nil {
				tickCancel()
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendErr("", ErrProtocolError, "malformed frame")
			continue
		}
		if frame.Type == "" {
			frame.Type = "req"
		}
		if frame.Type != "req" {
			c.sendErr(frame.ID, ErrProtocolError, "client frames must be type req")
			continue
		}

		c.mu.Lock()
		state := c.state
		c.mu.Unlock()

		if state == stateAwaitingConnect {
			if frame.Method != "connect" {
				c.sendErr(frame.ID, ErrProtocolError, "must authenticate first")
				continue
			}
			if err := c.handleConnect(&frame); err != nil {
				code := ErrInvalidParams
				if errors.Is(err, errAuthFailed) {
					code = ErrAuthFailed
				}
				// Write synchronously: the connection is torn down right
				// after, so the async send channel's write loop might not
				// get a chance to flush before conn.Close() runs.
				c.writeSync(errFrame(frame.ID, code, err.Error()))
				if tickCancel != nil {
					tickCancel()
				}
				return
			}
			handshakeTimer.Stop()
			var tickCtx context.Context
			tickCtx, tickCancel = context.WithCancel(c.ctx)
			go c.startTicking(tickCtx)
			continue
		}

		c.handleRequest(&frame)
	}
}

func (c *connection) handleConnect(frame *Frame) error {
	if err := validateMethodParams("connect", frame.Params); err != nil {
		return err
	}

	var params connectParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
	}

	if c.server.config.AuthToken != "" {
		token := ""
		if params.Auth != nil {
			token = params.Auth.Token
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(c.server.config.AuthToken)) != 1 {
			return errAuthFailed
		}
	}

	c.mu.Lock()
	c.state = stateAuthenticated
	c.mu.Unlock()
	c.server.hub.add(c)

	payload := map[string]any{
		"protocolVersion": ProtocolVersion,
		"serverId":        "skynet",
	}
	c.sendOK(frame.ID, payload)
	return nil
}

func (c *connection) startTicking(ctx context.Context) {
	ticker := time.NewTicker(heartbeatTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := eventFrame("tick", map[string]any{"ts": time.Now().UnixMilli()}, c.server.hub.nextSeq())
			if data, err := marshalFrame(frame); err == nil {
				c.enqueue(data)
			}
		}
	}
}

func (c *connection) handleRequest(frame *Frame) {
	switch frame.Method {
	case "ping":
		c.sendOK(frame.ID, map[string]any{"pong": true})
	case "chat.send":
		c.handleChatSend(frame)
	default:
		c.sendErr(frame.ID, ErrMethodNotFound, "method '"+frame.Method+"' not implemented")
	}
}

func (c *connection) handleChatSend(frame *Frame) {
	if err := validateMethodParams("chat.send", frame.Params); err != nil {
		c.sendErr(frame.ID, ErrInvalidParams, err.Error())
		return
	}

	var params chatSendParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.sendErr(frame.ID, ErrInvalidParams, err.Error())
		return
	}
	if params.Content == "" {
		c.sendErr(frame.ID, ErrInvalidParams, "content is required")
		return
	}
	if c.server.config.Runtime == nil {
		c.sendErr(frame.ID, ErrInternalError, "runtime unavailable")
		return
	}

	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = c.id
	}
	result, err := c.server.config.Runtime.Process(c.ctx, runtime.Turn{
		Channel:       "ws",
		Identifier:    sessionID,
		Content:       params.Content,
		ModelOverride: params.Model,
	})
	if err != nil {
		c.sendErr(frame.ID, ErrLLMError, err.Error())
		return
	}
	c.sendOK(frame.ID, map[string]any{
		"content":    result.Content,
		"model":      result.Model,
		"tokensIn":   result.TokensIn,
		"tokensOut":  result.TokensOut,
		"stopReason": string(result.StopReason),
	})
}

func (c *connection) sendOK(id string, payload any) {
	data, err := marshalFrame(okFrame(id, payload))
	if err != nil {
		return
	}
	c.enqueue(data)
}

// writeSync writes a frame directly to the connection, bypassing the
// buffered send channel, for use right before the connection is torn down.
func (c *connection) writeSync(f *Frame) {
	data, err := marshalFrame(f)
	if err != nil {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *connection) sendErr(id, code, message string) {
	data, err := marshalFrame(errFrame(id, code, message))
	if err != nil {
		return
	}
	c.enqueue(data)
}
