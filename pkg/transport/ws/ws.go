// Package ws implements the transport boundary over a websocket connection.
// One Conn covers one session; the lifecycle controller creates a fresh Conn
// per start so stale connections can never bleed into a new session.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/darkwings/voicecart/pkg/core"
	"github.com/darkwings/voicecart/pkg/live/protocol"
	"github.com/darkwings/voicecart/pkg/transport"
)

const defaultConnectTimeout = 15 * time.Second

// Conn is a websocket-backed transport.
type Conn struct {
	logger *slog.Logger

	mu   sync.Mutex // guards conn and the connected/started flags
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	started   bool

	seq    atomic.Int64
	events chan transport.Event
	done   chan struct{}
}

// New creates an unconnected transport.
func New(logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		logger: logger,
		events: make(chan transport.Event, 256),
		done:   make(chan struct{}),
	}
}

// Events yields transport events. Closed once the connection ends.
func (c *Conn) Events() <-chan transport.Event {
	return c.events
}

// Connect dials the server, performs the hello handshake and starts the
// read loop. The token authenticates the participant for this session only.
func (c *Conn) Connect(ctx context.Context, serverURL, token string) error {
	if c.closed.Load() {
		return core.NewTransportError("transport is closed")
	}

	wsURL, err := websocketEndpoint(serverURL)
	if err != nil {
		return err
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return core.NewTransportError(fmt.Sprintf("websocket dial failed (status %d): %v", resp.StatusCode, err))
		}
		return core.NewTransportError("websocket dial failed: " + err.Error())
	}

	hello := protocol.ClientHello{
		Type:            "hello",
		ProtocolVersion: protocol.ProtocolVersion1,
		Token:           token,
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return core.NewTransportError("send hello: " + err.Error())
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultConnectTimeout))
	messageType, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return core.NewTransportError("read hello_ack: " + err.Error())
	}
	_ = conn.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage || protocol.PeekType(payload) != "hello_ack" {
		_ = conn.Close()
		return core.NewTransportError("unexpected first transport frame")
	}
	var ack protocol.ServerHelloAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		_ = conn.Close()
		return core.NewTransportError("decode hello_ack: " + err.Error())
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		_ = conn.Close()
		return core.NewTransportError("transport is closed")
	}
	c.conn = conn
	c.started = true
	c.mu.Unlock()

	c.logger.Debug("transport connected", "room", ack.Room, "identity", ack.Identity)
	go c.readLoop()
	return nil
}

// EnableLocalAudio turns on local audio capture on the backend path.
func (c *Conn) EnableLocalAudio(ctx context.Context, opts transport.AudioOptions) error {
	return c.sendJSON(protocol.ClientEnableAudio{Type: "enable_audio", PreBuffer: opts.PreBuffer})
}

// SendText forwards a typed chat message to the agent.
func (c *Conn) SendText(text string) error {
	return c.sendJSON(protocol.ClientUserText{Type: "user_text", Text: text})
}

// SendAudioFrame sends one local audio chunk. Not part of the core transport
// contract; a capture pipeline feeding microphone audio streams through it.
func (c *Conn) SendAudioFrame(pcm []byte) error {
	return c.sendJSON(protocol.ClientAudioFrame{
		Type:    "audio_frame",
		Seq:     c.seq.Add(1),
		DataB64: base64.StdEncoding.EncodeToString(pcm),
	})
}

// Disconnect tears down the connection. Idempotent; a no-op when the
// transport never connected or already closed.
func (c *Conn) Disconnect() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.mu.Lock()
		conn := c.conn
		started := c.started
		c.mu.Unlock()

		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteJSON(protocol.ClientBye{Type: "bye"})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
			c.writeMu.Unlock()
			_ = conn.Close()
		}
		if !started {
			// No read loop to close the channels for us.
			close(c.events)
			close(c.done)
		}
	})
	if started := func() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.started }(); started {
		<-c.done
	}
	return nil
}

func (c *Conn) sendJSON(v any) error {
	if c.closed.Load() {
		return core.NewTransportError("transport is closed")
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return core.NewTransportError("transport is not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.events)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			reason := "connection closed"
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = err.Error()
			}
			c.emit(transport.Disconnected{Reason: reason})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		switch protocol.PeekType(data) {
		case "data":
			var frame protocol.ServerData
			if err := json.Unmarshal(data, &frame); err != nil {
				c.logger.Debug("undecodable data frame", "error", err)
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(frame.PayloadB64)
			if err != nil {
				c.logger.Debug("undecodable data payload", "error", err)
				continue
			}
			c.emit(transport.DataReceived{Payload: payload, Topic: frame.Topic})
		case "agent_state":
			var frame protocol.ServerAgentState
			if err := json.Unmarshal(data, &frame); err != nil {
				c.logger.Debug("undecodable agent_state frame", "error", err)
				continue
			}
			c.emit(transport.AgentStateChanged{State: frame.State})
		case "media_error":
			var frame protocol.ServerMediaError
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			c.emit(transport.MediaError{Err: core.NewTransportError(frame.Message)})
		case "disconnect":
			var frame protocol.ServerDisconnect
			_ = json.Unmarshal(data, &frame)
			c.emit(transport.Disconnected{Reason: frame.Reason})
			return
		case "error":
			var frame protocol.ServerError
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			c.logger.Warn("transport backend error", "code", frame.Code, "message", frame.Message)
		default:
			c.logger.Debug("unknown transport frame", "type", protocol.PeekType(data))
		}
	}
}

func (c *Conn) emit(event transport.Event) {
	select {
	case c.events <- event:
	default:
		// Avoid blocking the read loop if the consumer stops draining.
	}
}

// websocketEndpoint normalizes an http(s) or ws(s) server URL to a
// websocket URL.
func websocketEndpoint(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return "", core.NewInvalidRequestError("invalid server URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket scheme.
	default:
		return "", core.NewInvalidRequestError("server URL must use http(s) or ws(s)")
	}
	return u.String(), nil
}
