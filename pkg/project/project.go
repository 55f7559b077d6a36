// Package project derives stable per-project identities from filesystem
// paths and scopes database work to a project's schema.
//
// Two projects on one machine never share state: each path maps to a
// 12-hex-digit hash, the hash names a dedicated PostgreSQL schema, and the
// schema is selected per transaction through a search_path setup hook
// instead of any process-wide global.
package project

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/memgres/memgres/pkg/core"
)

// HashLength is the number of hex digits kept from the path digest.
const HashLength = 12

// Hash returns the project identity for a path: the first 12 hex digits of
// the SHA-256 of the cleaned absolute path. Equivalent spellings of the
// same directory hash identically.
func Hash(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// SchemaName returns the PostgreSQL schema for a project path. The proj_
// prefix keeps the name a valid identifier even when the hash starts with
// a digit.
func SchemaName(path string) string {
	return "proj_" + Hash(path)
}

// DirName returns a human-readable directory name for a project: the
// sanitized base name joined with the hash, or the bare hash when nothing
// readable survives sanitizing.
func DirName(path string) string {
	h := Hash(path)
	name := sanitizeName(path)
	if len(name) < 2 {
		return h
	}
	return name + "-" + h
}

// sanitizeName lowercases the path's base name, maps separators to
// hyphens, and drops everything else.
func sanitizeName(path string) string {
	base := strings.ToLower(filepath.Base(path))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == ' ' || r == '-':
			b.WriteByte('-')
		}
	}
	name := b.String()
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}
	return strings.Trim(name, "-")
}

// InstanceDir returns the per-project state directory under home.
func InstanceDir(home, path string) string {
	return filepath.Join(home, "instances", Hash(path))
}

// QueuePath returns the SQLite overflow queue location for a project.
func QueuePath(home, path string) string {
	return filepath.Join(InstanceDir(home, path), "overflow", "queue.db")
}

// Context is one project's resolved identity.
type Context struct {
	Path   string
	Hash   string
	Schema string
}

// NewContext resolves a path into a project context.
func NewContext(path string) *Context {
	return &Context{
		Path:   path,
		Hash:   Hash(path),
		Schema: SchemaName(path),
	}
}

// Qualify prefixes a table name with the project schema.
func (c *Context) Qualify(table string) string {
	return c.Schema + "." + table
}

// TxSetup returns the transaction hook that pins the project schema. SET
// LOCAL scopes the search path to the open transaction, so pooled
// connections never leak one project's schema into another's work.
func (c *Context) TxSetup() core.TxSetupFunc {
	stmt := fmt.Sprintf("SET LOCAL search_path TO %s, public", c.Schema)
	return func(ctx context.Context, conn core.Conn) error {
		_, err := conn.Execute(ctx, stmt)
		return err
	}
}

// Registry tracks the project contexts a process has touched. It replaces
// ambient per-directory globals: callers hold a Registry and ask it for
// contexts explicitly.
type Registry struct {
	mu     sync.Mutex
	byHash map[string]*Context
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byHash: make(map[string]*Context)}
}

// Get returns the context for a path, creating it on first use. Paths that
// resolve to the same directory share one context.
func (r *Registry) Get(path string) *Context {
	h := Hash(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byHash[h]; ok {
		return c
	}
	c := NewContext(path)
	r.byHash[h] = c
	return c
}

// All returns a snapshot of the registered contexts.
func (r *Registry) All() []*Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Context, 0, len(r.byHash))
	for _, c := range r.byHash {
		out = append(out, c)
	}
	return out
}
