package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

// MemoryLedger is a mutex-guarded map Ledger for tests, mirroring
// checkpoint.MemoryStore's shape.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]Record), now: func() time.Time { return time.Now().UTC() }}
}

func (m *MemoryLedger) Get(ctx context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	cloned := rec
	return &cloned, nil
}

func (m *MemoryLedger) Upsert(ctx context.Context, key, messageID, fileSHA256, customerID string, status model.Status, salesOrderNo, orderURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[key]; ok && existing.Status == model.StatusSuccess {
		return false, nil
	}
	m.records[key] = Record{
		IdempotencyKey: key,
		MessageID:      messageID,
		FileSHA256:     fileSHA256,
		CustomerID:     customerID,
		Status:         status,
		SalesOrderNo:   salesOrderNo,
		OrderURL:       orderURL,
		CreatedAt:      m.now(),
	}
	return true, nil
}
