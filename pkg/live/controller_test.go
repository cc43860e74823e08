package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/darkwings/voicecart/pkg/cart"
	"github.com/darkwings/voicecart/pkg/catalog"
	"github.com/darkwings/voicecart/pkg/core"
	"github.com/darkwings/voicecart/pkg/credentials"
	"github.com/darkwings/voicecart/pkg/live/protocol"
	"github.com/darkwings/voicecart/pkg/transport"
)

type fakeCreds struct {
	mu         sync.Mutex
	details    credentials.Details
	err        error
	blockFirst chan struct{} // first call waits here when non-nil
	calls      int
}

func (f *fakeCreds) FetchCredentials(ctx context.Context) (credentials.Details, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	block := f.blockFirst
	details, err := f.details, f.err
	f.mu.Unlock()

	if first && block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return credentials.Details{}, ctx.Err()
		}
	}
	return details, err
}

func (f *fakeCreds) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTransport struct {
	mu           sync.Mutex
	events       chan transport.Event
	closeOnce    sync.Once
	connectErr   error
	audioErr     error
	connected    bool
	disconnected bool
	texts        []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 16)}
}

func (f *fakeTransport) Connect(ctx context.Context, serverURL, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) EnableLocalAudio(ctx context.Context, opts transport.AudioOptions) error {
	return f.audioErr
}

func (f *fakeTransport) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeTransport) Events() <-chan transport.Event {
	return f.events
}

func (f *fakeTransport) emit(event transport.Event) {
	f.events <- event
}

func (f *fakeTransport) isDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

type harness struct {
	creds      *fakeCreds
	store      *cart.Store
	reconciler *cart.Reconciler
	controller *Controller

	mu         sync.Mutex
	transports []*fakeTransport
	snapshots  []Snapshot
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	h := &harness{
		creds: &fakeCreds{details: credentials.Details{
			ServerURL:        "wss://live.example.com",
			ParticipantToken: "tok",
		}},
		store: cart.NewStore(),
	}
	h.reconciler = cart.NewReconciler(h.store, stubCatalog{}, cart.ReconcilerConfig{}, nil)
	h.controller = NewController(config, h.creds, h.newTransport, h.store, h.reconciler, nil)
	h.controller.Subscribe(func(s Snapshot) {
		h.mu.Lock()
		h.snapshots = append(h.snapshots, s)
		h.mu.Unlock()
	})
	t.Cleanup(h.controller.Close)
	return h
}

func (h *harness) newTransport() transport.Transport {
	tr := newFakeTransport()
	h.mu.Lock()
	h.transports = append(h.transports, tr)
	h.mu.Unlock()
	return tr
}

func (h *harness) transportCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.transports)
}

func (h *harness) lastTransport() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.transports) == 0 {
		return nil
	}
	return h.transports[len(h.transports)-1]
}

func (h *harness) snapshotCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snapshots)
}

type stubCatalog struct{}

func (stubCatalog) LookupBySKU(ctx context.Context, skus []string) ([]catalog.Product, error) {
	return nil, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func (h *harness) waitForState(t *testing.T, want State) {
	t.Helper()
	waitFor(t, func() bool { return h.controller.Snapshot().State == want })
}

func TestController_StartConnects(t *testing.T) {
	h := newHarness(t, Config{PreConnectBuffer: true})

	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)

	snap := h.controller.Snapshot()
	if snap.SessionID != 1 {
		t.Errorf("SessionID = %d, want 1", snap.SessionID)
	}
	if !h.store.Visible() {
		t.Error("cart not visible after start")
	}
	if h.creds.callCount() != 1 {
		t.Errorf("credential fetches = %d, want 1", h.creds.callCount())
	}
}

func TestController_StartInvalidFromConnected(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)

	if err := h.controller.Start(); err == nil {
		t.Fatal("Start() from connected succeeded, want error")
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})

	before := h.snapshotCount()
	h.controller.Stop()
	h.controller.Stop()
	if got := h.snapshotCount(); got != before {
		t.Fatalf("Stop() on idle produced %d events, want 0", got-before)
	}
}

func TestController_StopTearsDown(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)
	h.store.Replace(protocol.RawCart{{Code: "P1", Amount: 1}})

	h.controller.Stop()

	snap := h.controller.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("State = %v, want idle", snap.State)
	}
	if !h.lastTransport().isDisconnected() {
		t.Error("transport not disconnected on stop")
	}
	if len(h.store.Raw()) != 0 {
		t.Error("cart not cleared on stop")
	}
	if h.store.Visible() {
		t.Error("cart still visible on stop")
	}
}

func TestController_SessionIsolation(t *testing.T) {
	h := newHarness(t, Config{})
	release := make(chan struct{})
	h.creds.mu.Lock()
	h.creds.blockFirst = release
	h.creds.mu.Unlock()

	// Session 1 stalls in its credential fetch.
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() #1 = %v", err)
	}
	waitFor(t, func() bool { return h.creds.callCount() == 1 })
	h.controller.Stop()

	// Session 2 proceeds normally.
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() #2 = %v", err)
	}
	h.waitForState(t, StateConnected)

	// Let session 1's stale continuation complete; it must be a no-op.
	close(release)
	time.Sleep(50 * time.Millisecond)

	snap := h.controller.Snapshot()
	if snap.SessionID != 2 || snap.State != StateConnected {
		t.Fatalf("snapshot = %+v, want session 2 connected", snap)
	}
	if n := h.transportCount(); n != 1 {
		t.Fatalf("transports created = %d, want 1 (stale start must not connect)", n)
	}
}

func TestController_StaleEventsIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)
	h.controller.Stop()
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() #2 = %v", err)
	}
	h.waitForState(t, StateConnected)

	// An event tagged with the old session must not mutate anything.
	h.controller.handleTransportEvent(1, transport.AgentStateChanged{State: protocol.AgentStateListening})
	if h.controller.Snapshot().AgentAvailable {
		t.Fatal("stale agent state mutated current session")
	}
}

func TestController_ConnectFailureAborts(t *testing.T) {
	h := newHarness(t, Config{})
	h.creds.mu.Lock()
	h.creds.err = core.NewTransportError("credential service down")
	h.creds.mu.Unlock()

	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateIdle)

	snap := h.controller.Snapshot()
	if snap.Alert == "" {
		t.Error("no alert after connect failure")
	}
	if h.transportCount() != 0 {
		t.Error("transport created despite credential failure")
	}
}

func TestController_AgentStateTracking(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)

	h.lastTransport().emit(transport.AgentStateChanged{State: protocol.AgentStateListening})
	waitFor(t, func() bool { return h.controller.Snapshot().AgentAvailable })
}

func TestController_CartAndOrderRouting(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)
	tr := h.lastTransport()

	tr.emit(transport.DataReceived{
		Payload: []byte(`{"cart":[{"code":"P1","amount":2}]}`),
		Topic:   "cart:update",
	})
	waitFor(t, func() bool { return len(h.store.Raw()) == 1 })

	tr.emit(transport.DataReceived{Topic: "order"})
	waitFor(t, func() bool { return len(h.store.Raw()) == 0 })
	if !h.reconciler.View().OrderPlaced {
		t.Error("order notice not raised")
	}

	// Malformed payloads are dropped without effect.
	tr.emit(transport.DataReceived{Payload: []byte{0xff, 0x00}, Topic: "cart:update"})
	tr.emit(transport.DataReceived{Payload: []byte(`garbage`)})
	time.Sleep(20 * time.Millisecond)
	if h.controller.Snapshot().State != StateConnected {
		t.Error("malformed payload disturbed the session")
	}
}

func TestController_RemoteDisconnect(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)
	h.store.Replace(protocol.RawCart{{Code: "P1", Amount: 1}})

	h.lastTransport().emit(transport.Disconnected{Reason: "server going away"})
	h.waitForState(t, StateDisconnected)

	if len(h.store.Raw()) != 0 {
		t.Error("cart not cleared on remote disconnect")
	}
	// Remote disconnect warms up credentials for the next start.
	waitFor(t, func() bool { return h.creds.callCount() == 2 })

	// A new start is valid from disconnected and fetches yet again.
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() after disconnect = %v", err)
	}
	h.waitForState(t, StateConnected)
	if h.creds.callCount() != 3 {
		t.Errorf("credential fetches = %d, want 3 (no token reuse)", h.creds.callCount())
	}
}

func TestController_MediaErrorIsNonFatal(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)

	h.lastTransport().emit(transport.MediaError{Err: core.NewTransportError("microphone busy")})
	waitFor(t, func() bool { return h.controller.Snapshot().Alert != "" })

	if h.controller.Snapshot().State != StateConnected {
		t.Error("media error tore down the session")
	}

	h.controller.DismissAlert()
	if h.controller.Snapshot().Alert != "" {
		t.Error("alert not dismissed")
	}
}

func TestWatchdog_AgentNeverJoins(t *testing.T) {
	h := newHarness(t, Config{WatchdogTimeout: 60 * time.Millisecond})
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)

	h.waitForState(t, StateDisconnected)
	snap := h.controller.Snapshot()
	if snap.Alert != "Session ended: Agent did not join the room." {
		t.Errorf("Alert = %q", snap.Alert)
	}
	if !h.lastTransport().isDisconnected() {
		t.Error("watchdog did not tear down the transport")
	}
}

func TestWatchdog_AgentStuckInitializing(t *testing.T) {
	h := newHarness(t, Config{WatchdogTimeout: 80 * time.Millisecond})
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)
	h.lastTransport().emit(transport.AgentStateChanged{State: protocol.AgentStateInitializing})

	h.waitForState(t, StateDisconnected)
	snap := h.controller.Snapshot()
	if snap.Alert != "Session ended: Agent connected but did not complete initializing." {
		t.Errorf("Alert = %q", snap.Alert)
	}
}

func TestWatchdog_NoFireWhenAgentReady(t *testing.T) {
	h := newHarness(t, Config{WatchdogTimeout: 60 * time.Millisecond})
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)
	h.lastTransport().emit(transport.AgentStateChanged{State: protocol.AgentStateThinking})
	waitFor(t, func() bool { return h.controller.Snapshot().AgentAvailable })

	time.Sleep(120 * time.Millisecond)
	if snap := h.controller.Snapshot(); snap.State != StateConnected {
		t.Fatalf("State = %v, want connected (watchdog must not fire)", snap.State)
	}
}

func TestWatchdog_CancelledOnStop(t *testing.T) {
	h := newHarness(t, Config{WatchdogTimeout: 60 * time.Millisecond})
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)
	h.controller.Stop()

	time.Sleep(120 * time.Millisecond)
	snap := h.controller.Snapshot()
	if snap.State != StateIdle || snap.Alert != "" {
		t.Fatalf("snapshot after stop = %+v, want clean idle", snap)
	}
}

func TestController_CloseAfterStartIsClean(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)

	h.controller.Close()
	if err := h.controller.Start(); err == nil {
		t.Fatal("Start() after Close succeeded, want error")
	}
}

func TestController_SendText(t *testing.T) {
	h := newHarness(t, Config{})
	if err := h.controller.SendText("hi"); err == nil {
		t.Fatal("SendText with no session succeeded, want error")
	}
	if err := h.controller.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	h.waitForState(t, StateConnected)

	if err := h.controller.SendText("one margherita please"); err != nil {
		t.Fatalf("SendText() = %v", err)
	}
	tr := h.lastTransport()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.texts) != 1 || tr.texts[0] != "one margherita please" {
		t.Errorf("texts = %v", tr.texts)
	}
}
