package pgexec

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransientClassifier(t *testing.T) {
	c := NewTransientClassifier()

	t.Run("retries serialization and deadlock aborts", func(t *testing.T) {
		assert.True(t, c.IsRetryable(&pgconn.PgError{Code: "40001"}))
		assert.True(t, c.IsRetryable(&pgconn.PgError{Code: "40P01"}))
	})

	t.Run("retries capacity refusals", func(t *testing.T) {
		assert.True(t, c.IsRetryable(&pgconn.PgError{Code: "53300"}))
		assert.True(t, c.IsRetryable(&pgconn.PgError{Code: "57P03"}))
	})

	t.Run("retries connection exceptions by class", func(t *testing.T) {
		assert.True(t, c.IsRetryable(&pgconn.PgError{Code: "08006"}))
		assert.True(t, c.IsRetryable(&pgconn.PgError{Code: "08001"}))
	})

	t.Run("sees through wrapping", func(t *testing.T) {
		err := fmt.Errorf("query: %w", &pgconn.PgError{Code: "40001"})
		assert.True(t, c.IsRetryable(err))
	})

	t.Run("does not retry constraint violations", func(t *testing.T) {
		assert.False(t, c.IsRetryable(&pgconn.PgError{Code: "23505"}))
		assert.False(t, c.IsRetryable(&pgconn.PgError{Code: "42703"}))
	})

	t.Run("does not retry context cancellation", func(t *testing.T) {
		assert.False(t, c.IsRetryable(context.Canceled))
		assert.False(t, c.IsRetryable(fmt.Errorf("query: %w", context.DeadlineExceeded)))
	})

	t.Run("retries network timeouts", func(t *testing.T) {
		assert.True(t, c.IsRetryable(timeoutErr{}))
		assert.True(t, c.IsRetryable(fmt.Errorf("query: %w", timeoutErr{})))
	})

	t.Run("does not retry arbitrary errors", func(t *testing.T) {
		assert.False(t, c.IsRetryable(errors.New("boom")))
		assert.False(t, c.IsRetryable(nil))
	})
}

func TestIsUtility(t *testing.T) {
	assert.True(t, isUtility("DECLARE cur CURSOR FOR SELECT 1"))
	assert.True(t, isUtility("  declare cur cursor for select $1"))
	assert.False(t, isUtility("SELECT 1"))
	assert.False(t, isUtility("FETCH 100 FROM cur"))
}
