// Package overflow implements a local durable queue for embedding work
// that cannot reach the primary database.
//
// The queue lives in a per-project SQLite file, so requests survive
// restarts and drain once connectivity returns. Items carry a priority
// (lower is more urgent) and are claimed oldest-first within a priority.
package overflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/memgres/memgres/pkg/core"
)

// Priority levels. Lower values drain first. The scale is centered on
// PriorityNormal so a zero-valued Request gets normal priority while
// explicit critical work stays expressible.
const (
	PriorityCritical = -2
	PriorityHigh     = -1
	PriorityNormal   = 0
	PriorityLow      = 1
	PriorityIdle     = 2
)

// Item statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// ErrNotFound is returned when a callback ID matches no queued item.
var ErrNotFound = errors.New("queue item not found")

// Request is one unit of embedding work to park in the queue.
type Request struct {
	// Type is "single" or "batch"; empty means "batch".
	Type string
	// Texts are the inputs to embed.
	Texts []string
	// Priority orders draining; the zero value is PriorityNormal and
	// out-of-range values are clamped.
	Priority int
	// CallbackID identifies the request for Complete/Fail/Result. Empty
	// means a generated UUID.
	CallbackID string
	// Dimensions optionally pins the embedding width.
	Dimensions int
}

// Item is a queued request as stored.
type Item struct {
	ID         int64
	Type       string
	Texts      []string
	Priority   int
	CallbackID string
	Dimensions int
	Status     string
	CreatedAt  time.Time
}

// Outcome is the terminal state of a request.
type Outcome struct {
	Status string
	Result json.RawMessage
	Error  string
}

// Stats summarizes the queue contents.
type Stats struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Processing  int     `json:"processing"`
	Completed   int     `json:"completed"`
	Errors      int     `json:"errors"`
	AvgPriority float64 `json:"avgPriority"`
}

// Queue is a durable SQLite-backed overflow queue. All methods are safe
// for concurrent use.
type Queue struct {
	db  *sql.DB
	log core.Logger
}

// Open opens (or creates) the queue file at path, creating parent
// directories as needed. A nil logger disables logging.
func Open(path string, log core.Logger) (*Queue, error) {
	if log == nil {
		log = core.NopLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	// _busy_timeout=5000: wait up to 5s for a lock instead of failing
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-2000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	q := &Queue{db: db, log: log}
	if err := q.createTables(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) createTables(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS embedding_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_type TEXT NOT NULL DEFAULT 'batch',
		texts_json TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		callback_id TEXT UNIQUE,
		dimensions INTEGER,
		status TEXT NOT NULL DEFAULT 'pending',
		result_json TEXT,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_queue_status ON embedding_queue(status);
	CREATE INDEX IF NOT EXISTS idx_queue_drain ON embedding_queue(status, priority, created_at);
	`
	if _, err := q.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create queue tables: %w", err)
	}
	return nil
}

// Close closes the queue file.
func (q *Queue) Close() error {
	return q.db.Close()
}

func clampPriority(p int) int {
	if p < PriorityCritical {
		return PriorityCritical
	}
	if p > PriorityIdle {
		return PriorityIdle
	}
	return p
}

// Enqueue parks a request and returns its row ID and callback ID.
func (q *Queue) Enqueue(ctx context.Context, req Request) (int64, string, error) {
	reqType := req.Type
	if reqType == "" {
		reqType = "batch"
	}
	callbackID := req.CallbackID
	if callbackID == "" {
		callbackID = uuid.NewString()
	}
	priority := clampPriority(req.Priority)

	textsJSON, err := json.Marshal(req.Texts)
	if err != nil {
		return 0, "", fmt.Errorf("failed to encode texts: %w", err)
	}
	var dimensions any
	if req.Dimensions > 0 {
		dimensions = req.Dimensions
	}

	result, err := q.db.ExecContext(ctx, `
		INSERT INTO embedding_queue (request_type, texts_json, priority, callback_id, dimensions)
		VALUES (?, ?, ?, ?, ?)
	`, reqType, string(textsJSON), priority, callbackID, dimensions)
	if err != nil {
		return 0, "", fmt.Errorf("failed to enqueue request: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, "", fmt.Errorf("failed to read queue id: %w", err)
	}

	q.log.Debug("request queued", "id", id, "type", reqType, "priority", priority, "texts", len(req.Texts))
	return id, callbackID, nil
}

// Dequeue claims up to limit pending items, most urgent first, oldest
// first within a priority. Claiming flips the items to processing in the
// same transaction, so two drainers never pick up the same item.
func (q *Queue) Dequeue(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, request_type, texts_json, priority, callback_id, dimensions, created_at
		FROM embedding_queue
		WHERE status = ?
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT ?
	`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending items: %w", err)
	}

	var items []Item
	var ids []any
	for rows.Next() {
		var it Item
		var textsJSON string
		var dimensions sql.NullInt64
		if err := rows.Scan(&it.ID, &it.Type, &textsJSON, &it.Priority, &it.CallbackID, &dimensions, &it.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		if err := json.Unmarshal([]byte(textsJSON), &it.Texts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode texts for item %d: %w", it.ID, err)
		}
		if dimensions.Valid {
			it.Dimensions = int(dimensions.Int64)
		}
		it.Status = StatusProcessing
		items = append(items, it)
		ids = append(ids, it.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending items: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	claimArgs := append([]any{StatusProcessing}, ids...)
	if _, err := tx.ExecContext(ctx,
		"UPDATE embedding_queue SET status = ? WHERE id IN ("+placeholders+")",
		claimArgs...); err != nil {
		return nil, fmt.Errorf("failed to claim items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	q.log.Debug("items claimed", "count", len(items))
	return items, nil
}

// Complete records a successful result for a claimed item.
func (q *Queue) Complete(ctx context.Context, callbackID string, result json.RawMessage) error {
	return q.finish(ctx, callbackID, StatusCompleted, string(result), "")
}

// Fail records a terminal failure for a claimed item.
func (q *Queue) Fail(ctx context.Context, callbackID, message string) error {
	return q.finish(ctx, callbackID, StatusError, "", message)
}

func (q *Queue) finish(ctx context.Context, callbackID, status, resultJSON, message string) error {
	var result any
	if resultJSON != "" {
		result = resultJSON
	}
	var errMsg any
	if message != "" {
		errMsg = message
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE embedding_queue
		SET status = ?, result_json = ?, error = ?, processed_at = CURRENT_TIMESTAMP
		WHERE callback_id = ?
	`, status, result, errMsg, callbackID)
	if err != nil {
		return fmt.Errorf("failed to finish item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count finished items: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: callback %q", ErrNotFound, callbackID)
	}
	return nil
}

// Result returns the current outcome for a callback ID.
func (q *Queue) Result(ctx context.Context, callbackID string) (*Outcome, error) {
	var out Outcome
	var result, errMsg sql.NullString
	err := q.db.QueryRowContext(ctx, `
		SELECT status, result_json, error FROM embedding_queue WHERE callback_id = ?
	`, callbackID).Scan(&out.Status, &result, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: callback %q", ErrNotFound, callbackID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	if result.Valid {
		out.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		out.Error = errMsg.String
	}
	return &out, nil
}

// PendingCount returns the number of items waiting to be claimed.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM embedding_queue WHERE status = ?", StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending items: %w", err)
	}
	return n, nil
}

// CleanupOld deletes completed and errored items created more than
// olderThan ago and returns how many were removed.
func (q *Queue) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format("2006-01-02 15:04:05")
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM embedding_queue
		WHERE status IN (?, ?) AND created_at < ?
	`, StatusCompleted, StatusError, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned items: %w", err)
	}
	if n > 0 {
		q.log.Debug("queue cleaned", "removed", n)
	}
	return n, nil
}

// Stats reports per-status counts plus the average priority of the
// pending backlog.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM embedding_queue GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		s.Total += count
		switch status {
		case StatusPending:
			s.Pending = count
		case StatusProcessing:
			s.Processing = count
		case StatusCompleted:
			s.Completed = count
		case StatusError:
			s.Errors = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	err = q.db.QueryRowContext(ctx,
		"SELECT COALESCE(AVG(priority), 0) FROM embedding_queue WHERE status = ?",
		StatusPending).Scan(&s.AvgPriority)
	if err != nil {
		return nil, fmt.Errorf("failed to read average priority: %w", err)
	}
	return &s, nil
}
