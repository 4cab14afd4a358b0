// Package model holds types shared between the biz and data layers.
package model

import "time"

// ConnectionID identifies one provider session slot. It is stable across reconnects.
type ConnectionID int64

// ConnectionStatus is the observable lifecycle status of a connection.
type ConnectionStatus string

const (
	StatusInitializing   ConnectionStatus = "INITIALIZING"
	StatusAwaitingCode   ConnectionStatus = "QRCODE"
	StatusAuthenticating ConnectionStatus = "AUTHENTICATING"
	StatusConnected      ConnectionStatus = "CONNECTED"
	StatusDisconnected   ConnectionStatus = "DISCONNECTED"
	StatusReconnecting   ConnectionStatus = "RECONNECTING"
	StatusFailed         ConnectionStatus = "FAILED"
)

// LiveStatuses are statuses that claim a session exists in some process.
var LiveStatuses = []ConnectionStatus{
	StatusInitializing,
	StatusAwaitingCode,
	StatusAuthenticating,
	StatusConnected,
	StatusReconnecting,
}

// StatusRecord is the persisted view of a connection.
type StatusRecord struct {
	ID        ConnectionID     `json:"id"`
	Name      string           `json:"name,omitempty"`
	Status    ConnectionStatus `json:"status"`
	Retries   int              `json:"retries"`
	LastError string           `json:"lastError,omitempty"`
	Code      string           `json:"qrcode,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// StatusUpdate describes a status write. Nil pointer fields are left unchanged.
type StatusUpdate struct {
	Status    ConnectionStatus
	Retries   *int
	LastError *string
	Code      *string
}
