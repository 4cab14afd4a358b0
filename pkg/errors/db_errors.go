// Package errors classifies driver errors returned by the status store.
// MySQL errors are matched by error number, PostgreSQL errors by SQLSTATE.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind is the driver-independent class of a database error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindDuplicateKey
	KindConstraint
	KindDataTooLong
	KindInvalidValue
	KindDeadlock
	KindUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindNotFound:     "not_found",
	KindDuplicateKey: "duplicate_key",
	KindConstraint:   "constraint",
	KindDataTooLong:  "data_too_long",
	KindInvalidValue: "invalid_value",
	KindDeadlock:     "deadlock",
	KindUnavailable:  "unavailable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// DatabaseError wraps a driver error with its Kind.
type DatabaseError struct {
	Kind Kind
	// Code is the MySQL error number or the PostgreSQL SQLSTATE, empty for other errors.
	Code string
	Err  error
}

func (e *DatabaseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("database %s (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("database %s: %v", e.Kind, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// Retryable reports whether the same statement may succeed if issued again.
func (e *DatabaseError) Retryable() bool {
	return e.Kind == KindDeadlock || e.Kind == KindUnavailable
}

var mysqlKinds = map[uint16]Kind{
	1062: KindDuplicateKey, // ER_DUP_ENTRY
	1451: KindConstraint,   // ER_ROW_IS_REFERENCED_2
	1452: KindConstraint,   // ER_NO_REFERENCED_ROW_2
	1406: KindDataTooLong,
	1048: KindInvalidValue, // ER_BAD_NULL_ERROR
	1265: KindInvalidValue,
	1366: KindInvalidValue,
	1213: KindDeadlock,
	1205: KindDeadlock, // lock wait timeout
	1040: KindUnavailable, // too many connections
	2002: KindUnavailable,
	2003: KindUnavailable,
	2006: KindUnavailable, // server has gone away
	2013: KindUnavailable,
}

// connectionHints catch errors raised below the driver, e.g. by net.Dial.
var connectionHints = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"bad connection",
	"dial tcp",
}

// ClassifyDBError returns nil for a nil err and a *DatabaseError otherwise.
//
//	if dbErr := errors.ClassifyDBError(err); dbErr.Kind == errors.KindDuplicateKey {
//	    // another writer created the connection row first
//	}
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	var existing *DatabaseError
	if errors.As(err, &existing) {
		return existing
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{Kind: KindNotFound, Err: err}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		kind, ok := mysqlKinds[myErr.Number]
		if !ok {
			kind = KindUnknown
		}
		return &DatabaseError{Kind: kind, Code: fmt.Sprint(myErr.Number), Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &DatabaseError{Kind: pgKind(pgErr.Code), Code: pgErr.Code, Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range connectionHints {
		if strings.Contains(msg, hint) {
			return &DatabaseError{Kind: KindUnavailable, Err: err}
		}
	}
	return &DatabaseError{Kind: KindUnknown, Err: err}
}

// KindOf is ClassifyDBError(err).Kind, with KindUnknown for nil.
func KindOf(err error) Kind {
	if dbErr := ClassifyDBError(err); dbErr != nil {
		return dbErr.Kind
	}
	return KindUnknown
}

// IsDuplicateKeyError reports a unique constraint violation.
func IsDuplicateKeyError(err error) bool { return err != nil && KindOf(err) == KindDuplicateKey }

// IsNotFoundError reports gorm.ErrRecordNotFound.
func IsNotFoundError(err error) bool { return err != nil && KindOf(err) == KindNotFound }

// IsUnavailableError reports that the database could not be reached.
func IsUnavailableError(err error) bool { return err != nil && KindOf(err) == KindUnavailable }
