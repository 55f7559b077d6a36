package core

import (
	"context"
	"sync"
)

// Config configures a Store. Executor is required; everything else has a
// working zero value.
type Config struct {
	// Executor supplies database access. Required.
	Executor Executor
	// Logger receives engine logs. Defaults to a no-op logger.
	Logger Logger
	// Classifier decides which errors batch operations retry.
	// Nil disables retries.
	Classifier Classifier
	// TxSetup runs at the start of every transaction and stream, before
	// any data statement. Typically sets a per-project search path.
	TxSetup TxSetupFunc
}

// Store is the batch data-access engine. It owns no connections itself;
// all database work goes through the configured Executor.
type Store struct {
	exec       Executor
	log        Logger
	classifier Classifier
	txSetup    TxSetupFunc

	mu     sync.RWMutex
	closed bool
}

// New creates a Store over the given executor with default configuration.
func New(exec Executor) (*Store, error) {
	return NewWithConfig(Config{Executor: exec})
}

// NewWithConfig creates a Store with custom configuration.
func NewWithConfig(config Config) (*Store, error) {
	if config.Executor == nil {
		return nil, wrapError("init", ErrNoExecutor)
	}
	log := config.Logger
	if log == nil {
		log = nopLogger{}
	}
	return &Store{
		exec:       config.Executor,
		log:        log,
		classifier: config.Classifier,
		txSetup:    config.TxSetup,
	}, nil
}

// Close marks the store closed. The executor's own lifecycle belongs to
// whoever created it. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.log.Debug("store closed")
	return nil
}

// Execute runs a single statement through the store's executor. Batch
// operations, paging, and streaming cover the common paths; Execute is for
// everything else, DDL included.
func (s *Store) Execute(ctx context.Context, sql string, args ...any) (*Result, error) {
	const op = "execute"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	result, err := s.exec.Execute(ctx, sql, args...)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return result, nil
}

// Logger returns the store's logger.
func (s *Store) Logger() Logger {
	return s.log
}

func (s *Store) checkOpen(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return wrapError(op, ErrStoreClosed)
	}
	return nil
}
