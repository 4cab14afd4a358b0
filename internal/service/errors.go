package service

import "github.com/go-kratos/kratos/v2/errors"

var (
	// ErrInvalidConnectionID is returned when a path id is not a positive integer.
	ErrInvalidConnectionID = errors.BadRequest("INVALID_CONNECTION_ID", "connection id must be a positive integer")
	// ErrInvalidWait is returned for a malformed wait parameter.
	ErrInvalidWait = errors.BadRequest("INVALID_WAIT", "wait must be a duration such as 5s")
	// ErrDependencyUnavailable is returned by the health endpoint when the database is down.
	ErrDependencyUnavailable = errors.ServiceUnavailable("DEPENDENCY_UNAVAILABLE", "database unavailable")
)
