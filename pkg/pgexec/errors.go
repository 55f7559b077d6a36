package pgexec

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// transientCodes are the SQLSTATE codes worth retrying: serialization
// and deadlock aborts plus temporary capacity refusals. Class 08
// (connection exceptions) is matched by prefix.
var transientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"55P03": true, // lock_not_available
	"57P03": true, // cannot_connect_now
}

// TransientClassifier reports PostgreSQL errors that a fresh attempt may
// clear. Context cancellation is never retryable.
type TransientClassifier struct{}

// NewTransientClassifier returns the production classifier used by the
// batch executor's retry loop.
func NewTransientClassifier() *TransientClassifier {
	return &TransientClassifier{}
}

// IsRetryable implements core.Classifier.
func (TransientClassifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if transientCodes[pgErr.Code] {
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}

	// Network-level failures before any data was written are safe to
	// replay, as are plain I/O timeouts.
	if pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
