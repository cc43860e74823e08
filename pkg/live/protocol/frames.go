package protocol

import "encoding/json"

// ProtocolVersion1 is the only transport frame protocol version in use.
const ProtocolVersion1 = "1"

// Agent substates reported over the transport. The ready substates are
// listening, thinking and speaking.
const (
	AgentStateConnecting   = "connecting"
	AgentStateInitializing = "initializing"
	AgentStateListening    = "listening"
	AgentStateThinking     = "thinking"
	AgentStateSpeaking     = "speaking"
)

// Envelope carries the type tag every transport frame starts with.
type Envelope struct {
	Type string `json:"type"`
}

// PeekType extracts the frame type tag without decoding the full frame.
// It returns "" for undecodable or untagged frames.
func PeekType(data []byte) string {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	return env.Type
}

// ClientHello opens a transport session.
type ClientHello struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Token           string `json:"token"`
}

// ClientEnableAudio asks the backend to accept local audio. PreBuffer
// requests pre-connect capture buffering, flushed once the agent is up.
type ClientEnableAudio struct {
	Type      string `json:"type"`
	PreBuffer bool   `json:"pre_buffer,omitempty"`
}

// ClientAudioFrame carries one outbound audio chunk.
type ClientAudioFrame struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq"`
	DataB64 string `json:"data_b64"`
}

// ClientUserText carries a typed chat message for the agent.
type ClientUserText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientBye requests a graceful transport shutdown.
type ClientBye struct {
	Type string `json:"type"`
}

// ServerHelloAck confirms the session with the backend-assigned identity.
type ServerHelloAck struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	Identity string `json:"identity,omitempty"`
}

// ServerAgentState reports the remote agent's current substate.
type ServerAgentState struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// ServerData wraps a data-channel payload with its out-of-band topic tag.
type ServerData struct {
	Type       string `json:"type"`
	Topic      string `json:"topic,omitempty"`
	PayloadB64 string `json:"payload_b64"`
}

// ServerMediaError reports a media device failure on the backend path.
type ServerMediaError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ServerDisconnect announces a remote-initiated teardown.
type ServerDisconnect struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// ServerError reports a non-fatal backend error.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
