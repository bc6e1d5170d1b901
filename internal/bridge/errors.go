package bridge

import (
	"errors"
	"fmt"
)

// Error definitions
var (
	ErrConnectionLost     = NewBridgeError("AI connection lost")
	ErrTransportFault     = NewBridgeError("voice transport fault")
	ErrSessionNotFound    = NewBridgeError("session not found")
	ErrSessionClosed      = NewBridgeError("session closed")
	ErrGuildBusy          = NewBridgeError("guild already has a voice session in another channel")
	ErrMaxSessionsReached = NewBridgeError("maximum concurrent sessions reached")
)

// BridgeError represents errors specific to bridge operations
type BridgeError struct {
	message string
}

func NewBridgeError(message string) *BridgeError {
	return &BridgeError{message: message}
}

func (e *BridgeError) Error() string {
	return e.message
}

// SessionError is a fault that terminated a session. Kind is one of
// ErrConnectionLost or ErrTransportFault.
type SessionError struct {
	Kind    error
	Channel ChannelRef
	Err     error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Channel, e.Kind)
	}

	return fmt.Sprintf("%s: %s: %s", e.Channel, e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Is matches the fault kind, so errors.Is(err, ErrConnectionLost) works.
func (e *SessionError) Is(target error) bool {
	return target == e.Kind
}

// kindLabel names a fault kind for metrics.
func kindLabel(err error) string {
	switch {
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, ErrTransportFault):
		return "transport_fault"
	default:
		return "other"
	}
}
