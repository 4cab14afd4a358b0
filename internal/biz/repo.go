package biz

import (
	"context"

	"ConnGuard/internal/model"
)

// ConnectionID and friends are re-exported so callers of biz rarely need model.
type (
	ConnectionID     = model.ConnectionID
	ConnectionStatus = model.ConnectionStatus
	SessionEvent     = model.SessionEvent
	Session          = model.Session
)

// Transport creates provider sessions. Implemented by the data layer.
type Transport interface {
	// CreateSession starts a new session for id. Lifecycle events arrive on Session.Events.
	CreateSession(ctx context.Context, id ConnectionID) (Session, error)
}

// StatusRepo persists observable connection status.
type StatusRepo interface {
	UpdateStatus(ctx context.Context, id ConnectionID, update model.StatusUpdate) error
	LoadStatus(ctx context.Context, id ConnectionID) (*model.StatusRecord, error)
	ListConnectionIDs(ctx context.Context, statuses ...ConnectionStatus) ([]ConnectionID, error)
}

// Notifier publishes fire-and-forget notifications. Implementations must not block for long.
type Notifier interface {
	Publish(ctx context.Context, n model.Notification)
}
