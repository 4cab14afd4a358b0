package errors

import "strings"

var pgKinds = map[string]Kind{
	"23505": KindDuplicateKey, // unique_violation
	"23503": KindConstraint,   // foreign_key_violation
	"23514": KindConstraint,   // check_violation
	"22001": KindDataTooLong,  // string_data_right_truncation
	"23502": KindInvalidValue, // not_null_violation
	"22P02": KindInvalidValue, // invalid_text_representation
	"40P01": KindDeadlock,     // deadlock_detected
	"40001": KindDeadlock,     // serialization_failure
	"53300": KindUnavailable,  // too_many_connections
	"57P01": KindUnavailable,  // admin_shutdown
}

func pgKind(sqlState string) Kind {
	if k, ok := pgKinds[sqlState]; ok {
		return k
	}
	// class 08: connection exception
	if strings.HasPrefix(sqlState, "08") {
		return KindUnavailable
	}
	return KindUnknown
}
