package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/autoflow/autoflow/pkg/api"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			trigger_type TEXT NOT NULL,
			trigger_config BLOB,
			steps BLOB NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL,
			input BLOB,
			output BLOB,
			error TEXT,
			current_step_id TEXT,
			started_at INTEGER NOT NULL,
			completed_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow_id);

		CREATE TABLE IF NOT EXISTS run_logs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			step_id TEXT,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata BLOB,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_run_logs_timestamp ON run_logs(timestamp);

		CREATE TABLE IF NOT EXISTS ai_outputs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			model TEXT NOT NULL,
			provider TEXT NOT NULL,
			prompt TEXT NOT NULL,
			response BLOB,
			tokens_used INTEGER NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_ai_outputs_run ON ai_outputs(run_id, created_at);`,
	)
	return err
}

func (s *SQLiteStore) SaveWorkflow(ctx context.Context, w *api.Workflow) error {
	triggerConfig, err := EncodeDoc(w.Trigger.Config)
	if err != nil {
		return err
	}

	steps, err := EncodeSteps(w.Steps)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, owner_id, name, description, trigger_type, trigger_config, steps, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			name = excluded.name,
			description = excluded.description,
			trigger_type = excluded.trigger_type,
			trigger_config = excluded.trigger_config,
			steps = excluded.steps,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		w.ID,
		w.OwnerID,
		w.Name,
		w.Description,
		string(w.Trigger.Type),
		triggerConfig,
		steps,
		string(w.Status),
		w.CreatedAt.UnixNano(),
		w.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, description, trigger_type, trigger_config, steps, status, created_at, updated_at
		FROM workflows
		WHERE id = ?`,
		id,
	)
	w, err := scanWorkflow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	return w, nil
}

func (s *SQLiteStore) ListWorkflows(ctx context.Context, ownerID string) ([]*api.Workflow, error) {
	query := `
		SELECT id, owner_id, name, description, trigger_type, trigger_config, steps, status, created_at, updated_at
		FROM workflows`
	var args []any
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*api.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	var active int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM runs
		WHERE workflow_id = ? AND status IN ('pending', 'processing')`,
		id,
	).Scan(&active)
	if err != nil {
		return err
	}
	if active > 0 {
		return ErrWorkflowHasActiveRuns
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

func scanWorkflow(scan func(...any) error) (*api.Workflow, error) {
	var w api.Workflow
	var triggerType, status string
	var triggerConfig, steps []byte
	var description sql.NullString
	var createdAt, updatedAt int64

	if err := scan(&w.ID, &w.OwnerID, &w.Name, &description, &triggerType, &triggerConfig, &steps, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	w.Description = description.String
	w.Trigger.Type = api.TriggerType(triggerType)
	w.Status = api.WorkflowStatus(status)
	w.CreatedAt = fromUnixNano(createdAt)
	w.UpdatedAt = fromUnixNano(updatedAt)

	cfg, err := DecodeDoc(triggerConfig)
	if err != nil {
		return nil, err
	}
	w.Trigger.Config = cfg

	if err := DecodeInto(steps, &w.Steps); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *api.Run) error {
	input, err := EncodeDoc(run.Input)
	if err != nil {
		return err
	}
	output, err := EncodeDoc(run.Output)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, workflow_id, owner_id, status, input, output, error, current_step_id, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.WorkflowID,
		run.OwnerID,
		string(run.Status),
		input,
		output,
		run.Error,
		run.CurrentStepID,
		run.StartedAt.UnixNano(),
		toUnixNano(run.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, owner_id, status, input, output, error, current_step_id, started_at, completed_at
		FROM runs
		WHERE id = ?`,
		id,
	)
	r, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *api.Run) error {
	input, err := EncodeDoc(run.Input)
	if err != nil {
		return err
	}
	output, err := EncodeDoc(run.Output)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, input = ?, output = ?, error = ?, current_step_id = ?, completed_at = ?
		WHERE id = ?`,
		string(run.Status),
		input,
		output,
		run.Error,
		run.CurrentStepID,
		toUnixNano(run.CompletedAt),
		run.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, workflowID string) ([]*api.Run, error) {
	query := `
		SELECT id, workflow_id, owner_id, status, input, output, error, current_step_id, started_at, completed_at
		FROM runs`
	var args []any
	if workflowID != "" {
		query += " WHERE workflow_id = ?"
		args = append(args, workflowID)
	}
	query += " ORDER BY started_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*api.Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(scan func(...any) error) (*api.Run, error) {
	var r api.Run
	var status string
	var input, output []byte
	var errStr, currentStepID sql.NullString
	var startedAt int64
	var completedAt sql.NullInt64

	if err := scan(&r.ID, &r.WorkflowID, &r.OwnerID, &status, &input, &output, &errStr, &currentStepID, &startedAt, &completedAt); err != nil {
		return nil, err
	}

	r.Status = api.RunStatus(status)
	r.Error = errStr.String
	r.CurrentStepID = currentStepID.String
	r.StartedAt = fromUnixNano(startedAt)
	r.CompletedAt = fromUnixNano(completedAt.Int64)

	in, err := DecodeDoc(input)
	if err != nil {
		return nil, err
	}
	r.Input = in

	out, err := DecodeDoc(output)
	if err != nil {
		return nil, err
	}
	r.Output = out

	return &r, nil
}

func (s *SQLiteStore) AppendLog(ctx context.Context, entry *api.LogEntry) error {
	metadata, err := EncodeDoc(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_logs (id, run_id, step_id, level, message, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.RunID,
		entry.StepID,
		string(entry.Level),
		entry.Message,
		metadata,
		entry.Timestamp.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) ListLogs(ctx context.Context, runID string) ([]*api.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step_id, level, message, metadata, timestamp
		FROM run_logs
		WHERE run_id = ?
		ORDER BY timestamp`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*api.LogEntry
	for rows.Next() {
		var e api.LogEntry
		var stepID sql.NullString
		var level string
		var metadata []byte
		var ts int64

		if err := rows.Scan(&e.ID, &e.RunID, &stepID, &level, &e.Message, &metadata, &ts); err != nil {
			return nil, err
		}

		e.StepID = stepID.String
		e.Level = api.LogLevel(level)
		e.Timestamp = fromUnixNano(ts)

		md, err := DecodeDoc(metadata)
		if err != nil {
			return nil, err
		}
		e.Metadata = md

		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) PurgeLogs(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM run_logs WHERE timestamp < ?`,
		olderThan.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *SQLiteStore) SaveAIOutput(ctx context.Context, out *api.AIOutput) error {
	response, err := EncodeDoc(out.Response)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ai_outputs (id, run_id, step_id, model, provider, prompt, response, tokens_used, prompt_tokens, completion_tokens, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID,
		out.RunID,
		out.StepID,
		out.Model,
		out.Provider,
		out.Prompt,
		response,
		out.TokensUsed,
		out.PromptTokens,
		out.CompletionTokens,
		out.LatencyMs,
		out.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) ListAIOutputs(ctx context.Context, runID string) ([]*api.AIOutput, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step_id, model, provider, prompt, response, tokens_used, prompt_tokens, completion_tokens, latency_ms, created_at
		FROM ai_outputs
		WHERE run_id = ?
		ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs []*api.AIOutput
	for rows.Next() {
		var o api.AIOutput
		var response []byte
		var createdAt int64

		if err := rows.Scan(&o.ID, &o.RunID, &o.StepID, &o.Model, &o.Provider, &o.Prompt, &response, &o.TokensUsed, &o.PromptTokens, &o.CompletionTokens, &o.LatencyMs, &createdAt); err != nil {
			return nil, err
		}

		o.CreatedAt = fromUnixNano(createdAt)

		resp, err := DecodeDoc(response)
		if err != nil {
			return nil, err
		}
		o.Response = resp

		outputs = append(outputs, &o)
	}
	return outputs, rows.Err()
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
