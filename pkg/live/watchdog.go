package live

import (
	"github.com/darkwings/voicecart/pkg/core"
	"github.com/darkwings/voicecart/pkg/live/protocol"
)

// Watchdog reason codes attached to a forced teardown.
const (
	ReasonAgentNotJoined = "agent_not_joined"
	ReasonAgentNotReady  = "agent_not_ready"
)

// watchdogFire runs when the single-shot availability timer expires. The
// remote agent is a separate process; if it never reaches a ready substate
// the human participant must not be left in a connected-but-silent session
// indefinitely.
func (c *Controller) watchdogFire(sid int64) {
	c.mu.Lock()
	if sid != c.sessionID || (c.state != StateConnecting && c.state != StateConnected) {
		c.mu.Unlock()
		return
	}
	if AgentAvailable(c.agentState) {
		c.watchdog = nil
		c.mu.Unlock()
		return
	}
	agentState := c.agentState
	c.mu.Unlock()

	reason := "Agent connected but did not complete initializing."
	code := ReasonAgentNotReady
	if agentState == protocol.AgentStateConnecting {
		reason = "Agent did not join the room."
		code = ReasonAgentNotJoined
	}
	err := core.NewLivenessError(reason, code)
	c.logger.Warn("agent availability watchdog fired", "session_id", sid, "agent_state", agentState, "code", code)
	c.teardown(sid, StateDisconnected, "Session ended: "+err.Message)
}
