package dialect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nl2sql/sqlcore/internal/coreerr"
)

// classifyGeneric maps a database/sql-level error into the core's
// Transient/Permanent taxonomy using message substrings, since the four
// drivers in this module (pgx, go-sql-driver, go-ora, modernc sqlite)
// expose their error codes through incompatible types. Every adapter calls
// this classifier directly; none overrides individual cases.
func classifyGeneric(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return coreerr.NewTransient(coreerr.KindTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return coreerr.NewTransient(coreerr.KindTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection refused", "no such host", "network is unreachable", "broken pipe", "i/o timeout"):
		return coreerr.NewTransient(coreerr.KindUnreachable, err)
	case containsAny(msg, "deadlock", "lock wait timeout", "too many connections", "server busy"):
		return coreerr.NewTransient(coreerr.KindTimeout, err)
	case containsAny(msg, "password authentication failed", "access denied for user", "invalid username/password", "login failed"):
		return coreerr.NewPermanent(coreerr.KindAuthFailure, err)
	case containsAny(msg, "no such table", "unknown table", "table or view does not exist"):
		return coreerr.NewPermanent(coreerr.KindUnknownTable, err)
	case containsAny(msg, "does not exist", "unknown column", "no such column"):
		return coreerr.NewPermanent(coreerr.KindUnknownIdentifier, err)
	case containsAny(msg, "syntax error", "ora-00900", "you have an error in your sql syntax"):
		return coreerr.NewPermanent(coreerr.KindSyntaxError, err)
	case containsAny(msg, "invalid input syntax", "incorrect", "type mismatch", "conversion failed", "invalid number"):
		return coreerr.NewPermanent(coreerr.KindTypeMismatch, err)
	case containsAny(msg, "permission denied", "insufficient privilege", "ora-00942"):
		return coreerr.NewPermanent(coreerr.KindUnsafe, err)
	default:
		return coreerr.NewPermanent(coreerr.KindInternal, err)
	}
}

// errReadOnlyRejected builds the error Execute returns when the mutation
// denylist blocks a write (spec §7: "Unsafe" / write blocked). Built
// directly rather than routed through classifyGeneric, since the rejection
// message ("rejected by read-only policy") is ours, not a driver error, and
// would otherwise fall through classifyGeneric's substring switch to
// KindInternal.
func errReadOnlyRejected(sqlText string) error {
	return coreerr.NewPermanent(coreerr.KindUnsafe, fmt.Errorf("statement rejected by read-only policy: %s", firstWord(sqlText)))
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
