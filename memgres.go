package memgres

import (
	"context"
	"fmt"

	"github.com/memgres/memgres/pkg/core"
	"github.com/memgres/memgres/pkg/memory"
	"github.com/memgres/memgres/pkg/pgexec"
	"github.com/memgres/memgres/pkg/project"
)

// DefaultDimensions is the embedding width used when Config leaves it zero.
const DefaultDimensions = 1536

// Config describes how to open a database handle.
type Config struct {
	// DSN is the PostgreSQL connection string. Required.
	DSN string
	// Project is the project path whose schema scopes all work.
	// Defaults to the process working directory resolution done by
	// project.NewContext.
	Project string
	// Dimensions is the embedding width for the memory repository.
	Dimensions int
	// Logger receives engine logs. Defaults to a no-op logger.
	Logger core.Logger
}

// DefaultConfig returns a Config for the given DSN and project path.
func DefaultConfig(dsn, projectPath string) Config {
	return Config{
		DSN:        dsn,
		Project:    projectPath,
		Dimensions: DefaultDimensions,
	}
}

// DB is an opened memgres instance: a connection pool, the batch engine
// scoped to one project schema, and the memory repository on top.
type DB struct {
	pool     *pgexec.Pool
	store    *core.Store
	proj     *project.Context
	memories *memory.Repository
}

// Open connects the pool and assembles the engine for the configured
// project. The caller owns the returned DB and must Close it.
func Open(ctx context.Context, config Config) (*DB, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("memgres: dsn is required")
	}
	pool, err := pgexec.New(ctx, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("memgres: open: %w", err)
	}

	proj := project.NewContext(config.Project)
	store, err := core.NewWithConfig(core.Config{
		Executor:   pool,
		Logger:     config.Logger,
		Classifier: pgexec.NewTransientClassifier(),
		TxSetup:    proj.TxSetup(),
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	dims := config.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &DB{
		pool:     pool,
		store:    store,
		proj:     proj,
		memories: memory.NewRepository(store, proj, dims),
	}, nil
}

// Init creates the project schema and the memories table. Idempotent.
func (db *DB) Init(ctx context.Context) error {
	return db.memories.EnsureSchema(ctx)
}

// Store returns the batch engine for direct table work.
func (db *DB) Store() *core.Store {
	return db.store
}

// Memories returns the memory repository.
func (db *DB) Memories() *memory.Repository {
	return db.memories
}

// Project returns the resolved project context.
func (db *DB) Project() *project.Context {
	return db.proj
}

// Pool returns the underlying executor pool, e.g. for Stat.
func (db *DB) Pool() *pgexec.Pool {
	return db.pool
}

// Close closes the store and the connection pool.
func (db *DB) Close() error {
	err := db.store.Close()
	db.pool.Close()
	return err
}
