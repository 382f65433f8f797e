package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/autoflow/autoflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of Store backed
// by maps. Values are copied in and out so callers never share memory with
// the store.
type InMemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*api.Workflow
	runs      map[string]*api.Run
	logs      map[string][]*api.LogEntry
	aiOutputs map[string][]*api.AIOutput
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workflows: make(map[string]*api.Workflow),
		runs:      make(map[string]*api.Run),
		logs:      make(map[string][]*api.LogEntry),
		aiOutputs: make(map[string][]*api.AIOutput),
	}
}

// Ensure InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveWorkflow(ctx context.Context, w *api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneWorkflow(w)
	s.workflows[w.ID] = cp
	return nil
}

func (s *InMemoryStore) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return cloneWorkflow(w), nil
}

func (s *InMemoryStore) ListWorkflows(ctx context.Context, ownerID string) ([]*api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Workflow
	for _, w := range s.workflows {
		if ownerID != "" && w.OwnerID != ownerID {
			continue
		}
		result = append(result, cloneWorkflow(w))
	}
	return result, nil
}

func (s *InMemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workflows[id]; !ok {
		return ErrWorkflowNotFound
	}
	for _, r := range s.runs {
		if r.WorkflowID == id && !r.Status.Terminal() {
			return ErrWorkflowHasActiveRuns
		}
	}
	delete(s.workflows, id)
	return nil
}

func (s *InMemoryStore) CreateRun(ctx context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *InMemoryStore) GetRun(ctx context.Context, id string) (*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return cloneRun(r), nil
}

func (s *InMemoryStore) UpdateRun(ctx context.Context, run *api.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *InMemoryStore) ListRuns(ctx context.Context, workflowID string) ([]*api.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Run
	for _, r := range s.runs {
		if workflowID != "" && r.WorkflowID != workflowID {
			continue
		}
		result = append(result, cloneRun(r))
	}
	return result, nil
}

func (s *InMemoryStore) AppendLog(ctx context.Context, entry *api.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.logs[entry.RunID] = append(s.logs[entry.RunID], &cp)
	return nil
}

func (s *InMemoryStore) ListLogs(ctx context.Context, runID string) ([]*api.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.logs[runID]
	result := make([]*api.LogEntry, 0, len(entries))
	for _, e := range entries {
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

func (s *InMemoryStore) PurgeLogs(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for runID, entries := range s.logs {
		kept := entries[:0]
		for _, e := range entries {
			if e.Timestamp.Before(olderThan) {
				purged++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(s.logs, runID)
		} else {
			s.logs[runID] = kept
		}
	}
	return purged, nil
}

func (s *InMemoryStore) SaveAIOutput(ctx context.Context, out *api.AIOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *out
	s.aiOutputs[out.RunID] = append(s.aiOutputs[out.RunID], &cp)
	return nil
}

func (s *InMemoryStore) ListAIOutputs(ctx context.Context, runID string) ([]*api.AIOutput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outs := s.aiOutputs[runID]
	result := make([]*api.AIOutput, 0, len(outs))
	for _, o := range outs {
		cp := *o
		result = append(result, &cp)
	}
	return result, nil
}

func cloneWorkflow(w *api.Workflow) *api.Workflow {
	cp := *w
	cp.Steps = make([]api.Step, len(w.Steps))
	copy(cp.Steps, w.Steps)
	for i := range cp.Steps {
		cp.Steps[i].Config = cloneMap(w.Steps[i].Config)
	}
	cp.Trigger.Config = cloneMap(w.Trigger.Config)
	return &cp
}

func cloneRun(r *api.Run) *api.Run {
	cp := *r
	cp.Input = cloneMap(r.Input)
	cp.Output = cloneMap(r.Output)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
