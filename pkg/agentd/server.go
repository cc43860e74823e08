// Package agentd implements the demo transport backend: a websocket agent
// that takes voice-commerce orders against the catalog service. It speaks
// the same frame protocol the client transport dials.
package agentd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/darkwings/voicecart/pkg/catalog"
	"github.com/darkwings/voicecart/pkg/core"
	"github.com/darkwings/voicecart/pkg/live/protocol"
	"github.com/darkwings/voicecart/pkg/tokend"
)

type menuLister interface {
	List(ctx context.Context) ([]catalog.Product, error)
}

type orderPlacer interface {
	CreateOrder(ctx context.Context, items []catalog.OrderItem) (*catalog.OrderConfirmation, error)
}

// Server upgrades and runs agent sessions.
type Server struct {
	cfg      Config
	brain    Brain
	menu     menuLister
	orders   orderPlacer
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New wires the agent backend to its brain and the catalog service.
func New(cfg Config, brain Brain, menu menuLister, orders orderPlacer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		brain:  brain,
		menu:   menu,
		orders: orders,
		logger: logger,
	}
}

// Handler returns the backend's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/live", s.handleLive)
	return mux
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess, err := s.handshake(conn)
	if err != nil {
		s.logger.Warn("handshake rejected", "error", err)
		_ = conn.Close()
		return
	}
	sess.run()
	_ = conn.Close()
}

// handshake reads and verifies the hello frame and acknowledges it.
func (s *Server) handshake(conn *websocket.Conn) (*session, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var hello protocol.ClientHello
	if err := conn.ReadJSON(&hello); err != nil {
		return nil, err
	}
	if hello.Type != "hello" || hello.ProtocolVersion != protocol.ProtocolVersion1 {
		_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: "bad_hello", Message: "unsupported hello frame"})
		return nil, core.NewProtocolError("unsupported hello frame")
	}
	claims, err := tokend.Verify(s.cfg.APISecret, hello.Token)
	if err != nil {
		_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: "bad_token", Message: "participant token rejected"})
		return nil, err
	}

	if err := conn.WriteJSON(protocol.ServerHelloAck{Type: "hello_ack", Room: claims.Room, Identity: claims.Identity}); err != nil {
		return nil, err
	}
	return &session{
		srv:      s,
		conn:     conn,
		identity: claims.Identity,
		room:     claims.Room,
		logger:   s.logger.With("room", claims.Room, "identity", claims.Identity),
	}, nil
}

// session is one connected participant and their in-progress cart.
type session struct {
	srv      *Server
	conn     *websocket.Conn
	writeMu  sync.Mutex
	identity string
	room     string
	logger   *slog.Logger

	cart       protocol.RawCart
	menu       []catalog.Product
	audioBytes int64
}

func (s *session) run() {
	s.logger.Info("agent session started")
	s.sendAgentState(protocol.AgentStateInitializing)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	menu, err := s.srv.menu.List(ctx)
	cancel()
	if err != nil {
		s.logger.Warn("menu fetch failed, agent has no products", "error", err)
	}
	s.menu = menu

	s.sendAgentState(protocol.AgentStateListening)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Info("agent session ended", "error", err, "audio_bytes", s.audioBytes)
			return
		}

		switch protocol.PeekType(data) {
		case "user_text":
			var frame protocol.ClientUserText
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			s.handleUtterance(frame.Text)
		case "audio_frame":
			var frame protocol.ClientAudioFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				continue
			}
			// The demo backend has no speech recognition; audio is
			// accepted and counted so clients can stream it.
			s.audioBytes += int64(base64.StdEncoding.DecodedLen(len(frame.DataB64)))
		case "enable_audio":
			s.logger.Debug("local audio enabled")
		case "bye":
			s.writeJSON(protocol.ServerDisconnect{Type: "disconnect", Reason: "goodbye"})
			s.logger.Info("agent session ended", "reason", "bye", "audio_bytes", s.audioBytes)
			return
		default:
			s.logger.Debug("unknown client frame", "type", protocol.PeekType(data))
		}
	}
}

func (s *session) handleUtterance(text string) {
	s.sendAgentState(protocol.AgentStateThinking)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	decision, err := s.srv.brain.Decide(ctx, s.menu, s.cart, text)
	cancel()
	if err != nil {
		s.logger.Warn("brain failed", "error", err)
		s.writeJSON(protocol.ServerError{Type: "error", Code: "agent_error", Message: "could not process that"})
		s.sendAgentState(protocol.AgentStateListening)
		return
	}

	if decision.CartChanged {
		s.cart = decision.Cart
		s.sendData(protocol.TopicCartUpdate, map[string]any{
			"topic": protocol.TopicCartUpdate,
			"cart":  s.cart,
		})
	}
	if decision.PlaceOrder {
		s.placeOrder()
	}

	if decision.Reply != "" {
		s.sendAgentState(protocol.AgentStateSpeaking)
		s.logger.Info("agent reply", "text", decision.Reply)
	}
	s.sendAgentState(protocol.AgentStateListening)
}

func (s *session) placeOrder() {
	items := make([]catalog.OrderItem, 0, len(s.cart))
	for _, entry := range s.cart {
		items = append(items, catalog.OrderItem{SKU: entry.Code, Quantity: entry.Amount})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	confirmation, err := s.srv.orders.CreateOrder(ctx, items)
	cancel()
	if err != nil {
		s.logger.Error("order placement failed", "error", err)
		s.writeJSON(protocol.ServerError{Type: "error", Code: "order_failed", Message: "could not place the order"})
		return
	}

	s.logger.Info("order placed", "order_id", confirmation.OrderID, "total", confirmation.Total)
	s.cart = nil
	s.sendData(protocol.TopicOrder, map[string]any{"topic": protocol.TopicOrder})
}

func (s *session) sendAgentState(state string) {
	s.writeJSON(protocol.ServerAgentState{Type: "agent_state", State: state})
}

func (s *session) sendData(topic string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode data payload", "error", err, "topic", topic)
		return
	}
	s.writeJSON(protocol.ServerData{
		Type:       "data",
		Topic:      topic,
		PayloadB64: base64.StdEncoding.EncodeToString(raw),
	})
}

func (s *session) writeJSON(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		s.logger.Debug("write frame failed", "error", err)
	}
}
