package agentd

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/darkwings/voicecart/pkg/catalog"
	"github.com/darkwings/voicecart/pkg/live/protocol"
	"github.com/darkwings/voicecart/pkg/tokend"
	"github.com/darkwings/voicecart/pkg/transport"
	"github.com/darkwings/voicecart/pkg/transport/ws"
)

const testSecret = "agentd-test-secret"

type staticMenu struct{ products []catalog.Product }

func (m staticMenu) List(ctx context.Context) ([]catalog.Product, error) {
	return m.products, nil
}

type recordingPlacer struct {
	mu    sync.Mutex
	items []catalog.OrderItem
}

func (p *recordingPlacer) CreateOrder(ctx context.Context, items []catalog.OrderItem) (*catalog.OrderConfirmation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = items
	return &catalog.OrderConfirmation{OrderID: 1, Total: 20, Currency: "eur", Status: "recorded"}, nil
}

func (p *recordingPlacer) placed() []catalog.OrderItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items
}

func startAgent(t *testing.T, placer orderPlacer) *httptest.Server {
	t.Helper()
	cfg := Config{APISecret: testSecret, HandshakeTimeout: 2 * time.Second}
	srv := New(cfg, RuleBrain{}, staticMenu{products: testMenu()}, placer, nil)
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)
	return server
}

func dialAgent(t *testing.T, server *httptest.Server) *ws.Conn {
	t.Helper()
	token, err := tokend.NewMinter(testSecret, "agentd-test", time.Minute).Mint("user-1", "room-1")
	if err != nil {
		t.Fatalf("Mint() = %v", err)
	}
	conn := ws.New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Connect(ctx, server.URL+"/live", token); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	t.Cleanup(func() { _ = conn.Disconnect() })
	return conn
}

// waitEvent skims transport events until match accepts one.
func waitEvent(t *testing.T, conn *ws.Conn, what string, match func(transport.Event) bool) transport.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case event, ok := <-conn.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", what)
			}
			if match(event) {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func waitAgentState(t *testing.T, conn *ws.Conn, state string) {
	t.Helper()
	waitEvent(t, conn, "agent state "+state, func(e transport.Event) bool {
		s, ok := e.(transport.AgentStateChanged)
		return ok && s.State == state
	})
}

func waitData(t *testing.T, conn *ws.Conn, topic string) transport.DataReceived {
	t.Helper()
	event := waitEvent(t, conn, "data topic "+topic, func(e transport.Event) bool {
		d, ok := e.(transport.DataReceived)
		return ok && d.Topic == topic
	})
	return event.(transport.DataReceived)
}

func TestAgentSession_OrderFlow(t *testing.T) {
	placer := &recordingPlacer{}
	server := startAgent(t, placer)
	conn := dialAgent(t, server)

	waitAgentState(t, conn, protocol.AgentStateInitializing)
	waitAgentState(t, conn, protocol.AgentStateListening)

	if err := conn.SendText("two margherita please"); err != nil {
		t.Fatalf("SendText() = %v", err)
	}
	data := waitData(t, conn, protocol.TopicCartUpdate)

	// The emitted payload must round-trip through the client decoder.
	msg, diag := protocol.Decode(data.Payload, data.Topic)
	if diag != nil {
		t.Fatalf("decode diagnostic: %v", diag)
	}
	update, ok := msg.(protocol.CartUpdated)
	if !ok {
		t.Fatalf("message = %#v", msg)
	}
	if len(update.Cart) != 1 || update.Cart[0].Code != "P1" || update.Cart[0].Amount != 2 {
		t.Errorf("cart = %+v", update.Cart)
	}

	if err := conn.SendText("checkout"); err != nil {
		t.Fatalf("SendText() = %v", err)
	}
	data = waitData(t, conn, protocol.TopicOrder)
	if msg, _ := protocol.Decode(data.Payload, data.Topic); msg != (protocol.OrderCompleted{}) {
		t.Fatalf("order message = %#v", msg)
	}

	items := placer.placed()
	if len(items) != 1 || items[0].SKU != "P1" || items[0].Quantity != 2 {
		t.Errorf("placed items = %+v", items)
	}
}

func TestAgentSession_ByeDisconnects(t *testing.T) {
	server := startAgent(t, &recordingPlacer{})
	conn := dialAgent(t, server)
	waitAgentState(t, conn, protocol.AgentStateListening)

	if err := conn.Disconnect(); err != nil {
		t.Fatalf("Disconnect() = %v", err)
	}
}

func TestAgentSession_RejectsBadToken(t *testing.T) {
	server := startAgent(t, &recordingPlacer{})

	conn := ws.New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Connect(ctx, server.URL+"/live", "forged-token"); err == nil {
		t.Fatal("Connect() with a forged token succeeded")
	}
}
