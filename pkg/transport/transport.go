// Package transport defines the boundary between the session core and the
// underlying real-time connection. The core issues commands through the
// Transport interface and consumes its event stream; it never depends on a
// concrete transport implementation.
package transport

import "context"

// AudioOptions configures local audio capture. PreBuffer asks the transport
// to begin capturing before the connection completes and flush the buffered
// audio on connect; the capability belongs to the transport, not the core.
type AudioOptions struct {
	PreBuffer bool
}

// Transport is the command sink for one real-time connection. Implementations
// must make Disconnect idempotent: tearing down an already-disconnected
// transport is a no-op.
type Transport interface {
	// Connect establishes the connection against the credentialed endpoint.
	Connect(ctx context.Context, serverURL, token string) error

	// EnableLocalAudio turns on local audio input.
	EnableLocalAudio(ctx context.Context, opts AudioOptions) error

	// SendText forwards a typed chat message to the remote agent.
	SendText(text string) error

	// Disconnect tears the connection down. Safe to call at any time and
	// more than once.
	Disconnect() error

	// Events yields transport events. The channel is closed after the
	// transport disconnects and will not deliver events for a torn-down
	// connection.
	Events() <-chan Event
}

// Event is the closed union of transport events consumed by the core.
type Event interface {
	transportEvent() string
}

// Disconnected reports that the connection ended, remotely or from an error.
type Disconnected struct {
	Reason string
}

func (Disconnected) transportEvent() string { return "disconnected" }

// MediaError reports a media device failure. Non-fatal for the transport.
type MediaError struct {
	Err error
}

func (MediaError) transportEvent() string { return "media_error" }

// DataReceived carries one inbound data-channel payload with its optional
// out-of-band topic tag.
type DataReceived struct {
	Payload []byte
	Topic   string
}

func (DataReceived) transportEvent() string { return "data_received" }

// AgentStateChanged reports the remote agent's substate (see the protocol
// package for the substate values).
type AgentStateChanged struct {
	State string
}

func (AgentStateChanged) transportEvent() string { return "agent_state_changed" }
