package biz

import (
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/errors"
)

// Error reasons. Callers match with errors.Is against the Err* values below.
const (
	ReasonTransportError           = "TRANSPORT_ERROR"
	ReasonInitializationTimeout    = "INITIALIZATION_TIMEOUT"
	ReasonAuthenticationFailure    = "AUTHENTICATION_FAILURE"
	ReasonCircuitOpen              = "CIRCUIT_OPEN"
	ReasonReconnectBudgetExhausted = "RECONNECT_BUDGET_EXHAUSTED"
	ReasonConnectionNotFound       = "CONNECTION_NOT_FOUND"
	ReasonConnectionPending        = "CONNECTION_PENDING"
	ReasonReconnectInProgress      = "RECONNECT_IN_PROGRESS"
	ReasonConnectionRemoved        = "CONNECTION_REMOVED"
)

var (
	ErrTransport                = errors.New(502, ReasonTransportError, "transport error")
	ErrInitializationTimeout    = errors.New(504, ReasonInitializationTimeout, "session initialization timed out")
	ErrAuthenticationFailure    = errors.New(401, ReasonAuthenticationFailure, "authentication failed")
	ErrCircuitOpen              = errors.New(503, ReasonCircuitOpen, "circuit breaker open")
	ErrReconnectBudgetExhausted = errors.New(503, ReasonReconnectBudgetExhausted, "reconnect attempts exhausted")
	ErrConnectionNotFound       = errors.New(404, ReasonConnectionNotFound, "connection not found")
	ErrConnectionPending        = errors.New(409, ReasonConnectionPending, "connection is opening")
	ErrReconnectInProgress      = errors.New(409, ReasonReconnectInProgress, "reconnect already in progress")
	ErrConnectionRemoved        = errors.New(410, ReasonConnectionRemoved, "connection was removed")
)

func newTransportError(id ConnectionID, cause error) error {
	return errors.New(502, ReasonTransportError, fmt.Sprintf("connection %d: transport error: %v", id, cause)).WithCause(cause)
}

func newInitializationTimeoutError(id ConnectionID, timeout time.Duration) error {
	return errors.Errorf(504, ReasonInitializationTimeout, "connection %d: not ready after %s", id, timeout)
}

func newAuthenticationError(id ConnectionID, reason string) error {
	return errors.Errorf(401, ReasonAuthenticationFailure, "connection %d: authentication failed: %s", id, reason)
}

func newCircuitOpenError(id ConnectionID, retryIn time.Duration) error {
	return errors.New(503, ReasonCircuitOpen, circuitOpenMessage(retryIn)).
		WithMetadata(map[string]string{
			"connection_id": fmt.Sprint(id),
			"retry_in":      retryIn.Round(time.Second).String(),
		})
}

func newBudgetExhaustedError(id ConnectionID, attempts int) error {
	return errors.Errorf(503, ReasonReconnectBudgetExhausted, "connection %d: gave up after %d reconnect attempts", id, attempts)
}

func newNotFoundError(id ConnectionID) error {
	return errors.Errorf(404, ReasonConnectionNotFound, "connection %d not found", id)
}

func circuitOpenMessage(retryIn time.Duration) string {
	return fmt.Sprintf("Circuit breaker open, retry in %ds", int(retryIn.Round(time.Second)/time.Second))
}
