package taskqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// SQLiteQueue is a persistent job queue backed by SQLite. It is safe for
// concurrent use for our purposes, using simple FIFO semantics based on an
// auto-incrementing id, with delayed jobs held back by their not_before
// column. One table serves all three queues; Dequeue filters by name.
type SQLiteQueue struct {
	db           *sql.DB
	name         QueueName
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the jobs table in the given DB and returns a
// queue view over the named queue. Multiple SQLiteQueue values may share one
// *sql.DB.
func NewSQLiteQueue(db *sql.DB, name QueueName) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		name:         name,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue TEXT NOT NULL,
			payload BLOB NOT NULL,
			enqueued_at INTEGER NOT NULL,
			not_before INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_queue ON jobs(queue, not_before, id);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, j Job) error {
	now := time.Now()
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = now
	}
	if j.Queue == "" {
		j.Queue = q.name
	}

	notBefore := j.EnqueuedAt.UnixNano()
	if !j.NotBefore.IsZero() {
		notBefore = j.NotBefore.UnixNano()
	}

	payload, err := json.Marshal(j)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (queue, payload, enqueued_at, not_before)
		VALUES (?, ?, ?, ?)`,
		string(q.name),
		payload,
		j.EnqueuedAt.UnixNano(),
		notBefore,
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		now := time.Now().UnixNano()

		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}

		var id int64
		var payload []byte

		row := tx.QueryRowContext(ctx, `
			SELECT id, payload
			FROM jobs
			WHERE queue = ? AND not_before <= ?
			ORDER BY not_before, id
			LIMIT 1`,
			string(q.name), now,
		)
		if err := row.Scan(&id, &payload); err != nil {
			_ = tx.Rollback()
			if errors.Is(err, sql.ErrNoRows) {
				// Nothing eligible: sleep a bit and retry.
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(q.pollInterval):
					continue
				}
			}
			return nil, err
		}

		// Delete the row we just claimed.
		if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}

		var j Job
		if err := json.Unmarshal(payload, &j); err != nil {
			return nil, err
		}
		return &j, nil
	}
}

func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM jobs WHERE queue = ?`, string(q.name)).Scan(&n); err != nil {
		return 0
	}
	return n
}
