package checkpoint

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

// MemoryStore is an RWMutex-guarded map Store for tests and local dev, grounded
// on the teacher's in-memory session map in mcp.Server.sessions: a plain
// mutex-guarded map keyed by id, no eviction beyond explicit Close.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]*model.RunState
	history map[string][]StepSnapshot
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]*model.RunState),
		history: make(map[string][]StepSnapshot),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Initialize(ctx context.Context) error { return nil }

func (m *MemoryStore) Save(ctx context.Context, runID, step string, state *model.RunState) error {
	cloned := cloneState(state)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[runID] = cloned
	m.history[runID] = append(m.history[runID], StepSnapshot{
		Step:      step,
		State:     *cloneState(state),
		CreatedAt: m.now(),
	})
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, runID string) (*model.RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneState(state), nil
}

func (m *MemoryStore) Update(ctx context.Context, runID string, patch func(*model.RunState)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	patch(state)
	return nil
}

func (m *MemoryStore) StreamResume(ctx context.Context, runID string) (iter.Seq[StepSnapshot], error) {
	m.mu.RLock()
	steps, ok := m.history[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := make([]StepSnapshot, len(steps))
	copy(snapshot, steps)
	return func(yield func(StepSnapshot) bool) {
		for _, s := range snapshot {
			if !yield(s) {
				return
			}
		}
	}, nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneState(state *model.RunState) *model.RunState {
	if state == nil {
		return nil
	}
	cloned := *state
	return &cloned
}
