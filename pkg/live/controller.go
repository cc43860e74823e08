// Package live implements the session lifecycle core: the state machine
// that starts, monitors and tears down a live session against the remote
// agent, the inbound message routing, and the agent-availability watchdog.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/darkwings/voicecart/pkg/cart"
	"github.com/darkwings/voicecart/pkg/core"
	"github.com/darkwings/voicecart/pkg/credentials"
	"github.com/darkwings/voicecart/pkg/live/protocol"
	"github.com/darkwings/voicecart/pkg/transport"
)

// Config tunes the lifecycle controller.
type Config struct {
	// PreConnectBuffer asks the transport to start audio capture before the
	// connection completes and flush it on connect.
	PreConnectBuffer bool

	// WatchdogTimeout is how long a started session may run without the
	// agent reaching a ready substate. Defaults to 10 seconds.
	WatchdogTimeout time.Duration

	// ConnectTimeout bounds the credential fetch plus transport connect for
	// one start attempt. Defaults to 30 seconds.
	ConnectTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = 10 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
}

// Controller owns the session identity and lifecycle. At most one session is
// current at any time; every asynchronous continuation carries the session
// ID it was started under and re-validates it before touching state, so a
// slow start can never race a rapid stop+start into the wrong session.
type Controller struct {
	config Config
	logger *slog.Logger

	creds        credentials.Fetcher
	newTransport func() transport.Transport
	store        *cart.Store
	reconciler   *cart.Reconciler

	mu         sync.Mutex
	sessionID  int64
	state      State
	agentState string
	alert      string
	startedAt  time.Time
	tr         transport.Transport
	watchdog   *time.Timer
	closed     bool
	subs       []func(Snapshot)
}

// NewController wires a controller to its collaborators. newTransport is
// called once per session so a superseded connection can never bleed into a
// new one.
func NewController(
	config Config,
	creds credentials.Fetcher,
	newTransport func() transport.Transport,
	store *cart.Store,
	reconciler *cart.Reconciler,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	config.applyDefaults()
	return &Controller{
		config:       config,
		logger:       logger,
		creds:        creds,
		newTransport: newTransport,
		store:        store,
		reconciler:   reconciler,
		state:        StateIdle,
		agentState:   protocol.AgentStateConnecting,
	}
}

// Subscribe registers fn to run with a fresh snapshot after every state
// change. Callbacks run synchronously, outside the controller lock.
func (c *Controller) Subscribe(fn func(Snapshot)) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

// Snapshot returns the current reactive view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Start begins a new session. Valid only from idle or disconnected.
// Credentials are always re-fetched; a token from a previous session is
// never reused.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.NewInvalidRequestError("controller is closed")
	}
	if c.state != StateIdle && c.state != StateDisconnected {
		c.mu.Unlock()
		return core.NewInvalidRequestError(fmt.Sprintf("cannot start a session from state %q", c.state))
	}
	c.sessionID++
	sid := c.sessionID
	c.state = StateConnecting
	c.agentState = protocol.AgentStateConnecting
	c.alert = ""
	c.startedAt = time.Now()
	c.watchdog = time.AfterFunc(c.config.WatchdogTimeout, func() { c.watchdogFire(sid) })
	c.mu.Unlock()

	c.store.SetVisible(true)
	c.notify()

	go c.connectSession(sid)
	return nil
}

// Stop tears the current session down. Calling it with no session active is
// a no-op and produces no events.
func (c *Controller) Stop() {
	c.teardown(0, StateIdle, "")
}

// Close behaves like Stop and marks the controller unusable. Guaranteed to
// tear down at most once even when the session already ended.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.teardown(0, StateIdle, "")
}

// SendText forwards a typed chat message to the agent.
func (c *Controller) SendText(text string) error {
	c.mu.Lock()
	tr := c.tr
	c.mu.Unlock()
	if tr == nil {
		return core.NewInvalidRequestError("no active session")
	}
	return tr.SendText(text)
}

// DismissAlert clears the current user-visible alert.
func (c *Controller) DismissAlert() {
	c.mu.Lock()
	changed := c.alert != ""
	c.alert = ""
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// connectSession is the post-start continuation: fetch fresh credentials,
// open the transport, enable local audio. Each step re-validates that sid is
// still the current session before proceeding.
func (c *Controller) connectSession(sid int64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	defer cancel()

	details, err := c.creds.FetchCredentials(ctx)
	if err != nil {
		c.logger.Error("credential fetch failed", "session_id", sid, "error", err)
		c.teardown(sid, StateIdle, "There was an error connecting to the agent: "+err.Error())
		return
	}

	if !c.isCurrent(sid, StateConnecting) {
		return
	}

	tr := c.newTransport()
	if err := tr.Connect(ctx, details.ServerURL, details.ParticipantToken); err != nil {
		_ = tr.Disconnect()
		c.logger.Error("transport connect failed", "session_id", sid, "error", err)
		c.teardown(sid, StateIdle, "There was an error connecting to the agent: "+err.Error())
		return
	}

	c.mu.Lock()
	if sid != c.sessionID || c.state != StateConnecting {
		c.mu.Unlock()
		// A stop or a newer start superseded this attempt mid-connect.
		_ = tr.Disconnect()
		return
	}
	c.tr = tr
	c.mu.Unlock()

	go c.pumpEvents(sid, tr)

	if err := tr.EnableLocalAudio(ctx, transport.AudioOptions{PreBuffer: c.config.PreConnectBuffer}); err != nil {
		c.logger.Error("enable local audio failed", "session_id", sid, "error", err)
		c.teardown(sid, StateIdle, "There was an error connecting to the agent: "+err.Error())
		return
	}

	c.mu.Lock()
	if sid != c.sessionID || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("session connected", "session_id", sid, "room", details.RoomName)
	c.notify()
}

// pumpEvents routes transport events for one session until its event
// channel closes.
func (c *Controller) pumpEvents(sid int64, tr transport.Transport) {
	for event := range tr.Events() {
		c.handleTransportEvent(sid, event)
	}
}

func (c *Controller) handleTransportEvent(sid int64, event transport.Event) {
	if !c.isCurrentSession(sid) {
		return
	}

	switch e := event.(type) {
	case transport.DataReceived:
		c.routeMessage(sid, e)

	case transport.AgentStateChanged:
		c.mu.Lock()
		if sid != c.sessionID {
			c.mu.Unlock()
			return
		}
		c.agentState = e.State
		c.mu.Unlock()
		c.notify()

	case transport.MediaError:
		c.logger.Warn("media device error", "session_id", sid, "error", e.Err)
		c.mu.Lock()
		if sid != c.sessionID {
			c.mu.Unlock()
			return
		}
		c.alert = "Encountered an error with your media devices: " + e.Err.Error()
		c.mu.Unlock()
		c.notify()

	case transport.Disconnected:
		c.logger.Info("transport disconnected", "session_id", sid, "reason", e.Reason)
		c.teardown(sid, StateDisconnected, "")
		// Warm up credentials so the next start has a token ready. Start
		// still fetches its own; this result is advisory only.
		go c.prefetchCredentials()
	}
}

// routeMessage decodes an inbound data-channel payload and dispatches it.
// Malformed payloads are dropped with a diagnostic; they never surface to
// the user or crash the router.
func (c *Controller) routeMessage(sid int64, data transport.DataReceived) {
	msg, diag := protocol.Decode(data.Payload, data.Topic)
	if diag != nil {
		c.logger.Debug("dropped data-channel message", "session_id", sid, "reason", diag)
	}
	if msg == nil {
		return
	}
	if !c.isCurrentSession(sid) {
		return
	}

	switch m := msg.(type) {
	case protocol.CartUpdated:
		c.store.Replace(m.Cart)
	case protocol.OrderCompleted:
		c.logger.Info("order completed", "session_id", sid)
		c.reconciler.OrderCompleted()
	}
}

// teardown ends the session identified by sid (0 means the current one,
// whatever it is). It is idempotent: tearing down an already-idle
// controller is a no-op and produces no events.
func (c *Controller) teardown(sid int64, to State, alert string) {
	c.mu.Lock()
	if sid != 0 && sid != c.sessionID {
		c.mu.Unlock()
		return
	}
	if c.state == StateIdle || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	tr := c.tr
	c.tr = nil
	c.state = to
	c.agentState = protocol.AgentStateConnecting
	if alert != "" {
		c.alert = alert
	}
	c.mu.Unlock()

	if tr != nil {
		_ = tr.Disconnect()
	}
	c.store.SetVisible(false)
	c.store.Clear()
	c.reconciler.Reset()
	c.notify()
}

func (c *Controller) prefetchCredentials() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	defer cancel()
	if _, err := c.creds.FetchCredentials(ctx); err != nil {
		c.logger.Debug("credential prefetch failed", "error", err)
	}
}

func (c *Controller) isCurrentSession(sid int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sid == c.sessionID
}

func (c *Controller) isCurrent(sid int64, state State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sid == c.sessionID && c.state == state
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:          c.state,
		SessionID:      c.sessionID,
		AgentState:     c.agentState,
		AgentAvailable: AgentAvailable(c.agentState),
		Alert:          c.alert,
		StartedAt:      c.startedAt,
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	snapshot := c.snapshotLocked()
	subs := append(([]func(Snapshot))(nil), c.subs...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(snapshot)
	}
}
