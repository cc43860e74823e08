package live

import (
	"time"

	"github.com/darkwings/voicecart/pkg/live/protocol"
)

// State is the lifecycle state of the current session.
type State string

const (
	// StateIdle means no session is active.
	StateIdle State = "idle"

	// StateConnecting means credentials are being fetched or the transport
	// is being opened.
	StateConnecting State = "connecting"

	// StateConnected means the transport is up and local audio is enabled.
	StateConnected State = "connected"

	// StateDisconnected is terminal for a session: the transport ended
	// remotely or the watchdog forced a teardown. A new Start is valid from
	// here, so for the presentation layer it behaves like idle.
	StateDisconnected State = "disconnected"
)

// AgentAvailable reports whether the remote agent has reached one of the
// ready substates.
func AgentAvailable(agentState string) bool {
	switch agentState {
	case protocol.AgentStateListening, protocol.AgentStateThinking, protocol.AgentStateSpeaking:
		return true
	default:
		return false
	}
}

// Snapshot is the reactive view of the controller exposed to any
// presentation layer.
type Snapshot struct {
	State          State
	SessionID      int64
	AgentState     string
	AgentAvailable bool
	Alert          string
	StartedAt      time.Time
}
