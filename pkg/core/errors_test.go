package core

import (
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrTransport,
		Message: "websocket dial failed",
	}

	expected := "transport_error: websocket dial failed"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCode(t *testing.T) {
	err := &Error{
		Type:    ErrLiveness,
		Message: "agent did not join the room",
		Code:    "agent_not_joined",
	}

	expected := "liveness_error: agent did not join the room (code: agent_not_joined)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewLivenessError(t *testing.T) {
	err := NewLivenessError("agent connected but did not complete initializing", "agent_not_ready")
	if err.Type != ErrLiveness {
		t.Errorf("Type = %v, want %v", err.Type, ErrLiveness)
	}
	if err.Code != "agent_not_ready" {
		t.Errorf("Code = %q, want %q", err.Code, "agent_not_ready")
	}
}

func TestIsType(t *testing.T) {
	err := NewCatalogError("lookup failed")
	if !IsType(err, ErrCatalog) {
		t.Error("IsType(ErrCatalog) = false, want true")
	}
	if IsType(err, ErrTransport) {
		t.Error("IsType(ErrTransport) = true, want false")
	}
}
