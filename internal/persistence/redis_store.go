package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/autoflow/autoflow/pkg/api"
)

// RedisStore is a Store backed by Redis. It uses a simple key structure:
//
//	<prefix>wf:<id>             => JSON-encoded workflow
//	<prefix>idx:wf              => SET of all workflow IDs
//	<prefix>run:<id>            => JSON-encoded run
//	<prefix>idx:run             => SET of all run IDs
//	<prefix>idx:run:wf:<wfID>   => SET of run IDs for a given workflow
//	<prefix>logs:<runID>        => ZSET of JSON log entries scored by timestamp
//	<prefix>ai:<runID>          => ZSET of JSON AI outputs scored by created_at
//
// Values are JSON so entries stay readable in redis-cli; the workflow-run
// index is authoritative (runs are only ever added, never moved).
type RedisStore struct {
	client *redis.Client
	prefix string
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "autoflow:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "autoflow:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) keyWorkflow(id string) string { return s.prefix + "wf:" + id }
func (s *RedisStore) keyWorkflowIdx() string       { return s.prefix + "idx:wf" }
func (s *RedisStore) keyRun(id string) string      { return s.prefix + "run:" + id }
func (s *RedisStore) keyRunIdx() string            { return s.prefix + "idx:run" }
func (s *RedisStore) keyRunsOfWorkflow(workflowID string) string {
	return s.prefix + "idx:run:wf:" + workflowID
}
func (s *RedisStore) keyLogs(runID string) string      { return s.prefix + "logs:" + runID }
func (s *RedisStore) keyAIOutputs(runID string) string { return s.prefix + "ai:" + runID }

func (s *RedisStore) SaveWorkflow(ctx context.Context, w *api.Workflow) error {
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keyWorkflow(w.ID), data, 0).Err(); err != nil {
		return err
	}
	return s.client.SAdd(ctx, s.keyWorkflowIdx(), w.ID).Err()
}

func (s *RedisStore) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	data, err := s.client.Get(ctx, s.keyWorkflow(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	var w api.Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *RedisStore) ListWorkflows(ctx context.Context, ownerID string) ([]*api.Workflow, error) {
	ids, err := s.client.SMembers(ctx, s.keyWorkflowIdx()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var workflows []*api.Workflow
	for _, id := range ids {
		w, err := s.GetWorkflow(ctx, id)
		if err != nil {
			if errors.Is(err, ErrWorkflowNotFound) {
				continue
			}
			return nil, err
		}
		if ownerID != "" && w.OwnerID != ownerID {
			continue
		}
		workflows = append(workflows, w)
	}
	return workflows, nil
}

func (s *RedisStore) DeleteWorkflow(ctx context.Context, id string) error {
	if _, err := s.GetWorkflow(ctx, id); err != nil {
		return err
	}

	runs, err := s.ListRuns(ctx, id)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if !r.Status.Terminal() {
			return ErrWorkflowHasActiveRuns
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyWorkflow(id))
	pipe.SRem(ctx, s.keyWorkflowIdx(), id)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) CreateRun(ctx context.Context, run *api.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keyRun(run.ID), data, 0).Err(); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyRunIdx(), run.ID)
	pipe.SAdd(ctx, s.keyRunsOfWorkflow(run.WorkflowID), run.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	data, err := s.client.Get(ctx, s.keyRun(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	var r api.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RedisStore) UpdateRun(ctx context.Context, run *api.Run) error {
	exists, err := s.client.Exists(ctx, s.keyRun(run.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrRunNotFound
	}

	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.keyRun(run.ID), data, 0).Err()
}

func (s *RedisStore) ListRuns(ctx context.Context, workflowID string) ([]*api.Run, error) {
	key := s.keyRunIdx()
	if workflowID != "" {
		key = s.keyRunsOfWorkflow(workflowID)
	}

	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyRun(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var runs []*api.Run
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		var r api.Run
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}
	return runs, nil
}

func (s *RedisStore) AppendLog(ctx context.Context, entry *api.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.ZAdd(ctx, s.keyLogs(entry.RunID), redis.Z{
		Score:  float64(entry.Timestamp.UnixNano()),
		Member: data,
	}).Err()
}

func (s *RedisStore) ListLogs(ctx context.Context, runID string) ([]*api.LogEntry, error) {
	members, err := s.client.ZRange(ctx, s.keyLogs(runID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	entries := make([]*api.LogEntry, 0, len(members))
	for _, m := range members {
		var e api.LogEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

func (s *RedisStore) PurgeLogs(ctx context.Context, olderThan time.Time) (int, error) {
	// Log keys are discovered by scanning; the timestamp score lets old
	// entries be removed with a single range delete per run.
	cutoff := strconv.FormatInt(olderThan.UnixNano(), 10)

	var purged int
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"logs:*", 100).Result()
		if err != nil {
			return purged, err
		}
		for _, key := range keys {
			n, err := s.client.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff).Result()
			if err != nil {
				return purged, err
			}
			purged += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return purged, nil
}

func (s *RedisStore) SaveAIOutput(ctx context.Context, out *api.AIOutput) error {
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return s.client.ZAdd(ctx, s.keyAIOutputs(out.RunID), redis.Z{
		Score:  float64(out.CreatedAt.UnixNano()),
		Member: data,
	}).Err()
}

func (s *RedisStore) ListAIOutputs(ctx context.Context, runID string) ([]*api.AIOutput, error) {
	members, err := s.client.ZRange(ctx, s.keyAIOutputs(runID), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	outputs := make([]*api.AIOutput, 0, len(members))
	for _, m := range members {
		var o api.AIOutput
		if err := json.Unmarshal([]byte(m), &o); err != nil {
			return nil, err
		}
		outputs = append(outputs, &o)
	}
	return outputs, nil
}
