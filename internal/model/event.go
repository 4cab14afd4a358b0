package model

import (
	"context"
	"encoding/json"
	"time"
)

// SessionEventKind tags the variant carried by a SessionEvent.
type SessionEventKind int

const (
	EventCodeIssued SessionEventKind = iota + 1
	EventAuthenticated
	EventAuthFailed
	EventReady
	EventMessage
	EventMessageAck
	EventDisconnected
)

func (k SessionEventKind) String() string {
	switch k {
	case EventCodeIssued:
		return "code-issued"
	case EventAuthenticated:
		return "authenticated"
	case EventAuthFailed:
		return "auth-failure"
	case EventReady:
		return "ready"
	case EventMessage:
		return "message"
	case EventMessageAck:
		return "message-ack"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// SessionEvent is a lifecycle event raised by a transport session.
// Code is set for EventCodeIssued, Reason for EventAuthFailed and EventDisconnected,
// Payload for EventMessage and EventMessageAck.
type SessionEvent struct {
	Kind    SessionEventKind
	Code    string
	Reason  string
	Payload json.RawMessage
	At      time.Time
}

// Session is a live transport handle.
type Session interface {
	// ID is a transport-assigned identifier, unique per session.
	ID() string
	// Events delivers lifecycle events in order. The channel is closed when the session ends.
	Events() <-chan SessionEvent
	// Probe queries the provider-side session state.
	Probe(ctx context.Context) (string, error)
	// Teardown releases the session. Safe to call more than once.
	Teardown(ctx context.Context) error
}

// Notification actions published to the notification sink.
const (
	ActionUpdate          = "update"
	ActionReconnectStatus = "reconnectStatus"
	ActionHealthCheck     = "healthCheck"
	ActionMessage         = "message"
)

// Notification is a fire-and-forget event for UI or downstream consumers.
type Notification struct {
	ID           string       `json:"id"`
	ConnectionID ConnectionID `json:"connectionId"`
	Action       string       `json:"action"`
	Payload      any          `json:"payload,omitempty"`
	At           time.Time    `json:"at"`
}
