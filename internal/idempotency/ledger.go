// Package idempotency implements spec.md §4.6 C6: the terminal-result
// ledger keyed by the idempotency key derived in key.go, guaranteeing
// at-most-once ERP submission across retries and replays.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/store"
)

// ErrNotFound is returned by Get when no record exists for a key.
var ErrNotFound = errors.New("idempotency: record not found")

// Record mirrors model.IdempotencyRecord; kept as a distinct alias so
// package consumers depend on idempotency, not store, for this shape.
type Record = model.IdempotencyRecord

// Ledger is the durable idempotency surface call_gateway consults before
// submitting to the ERP and writes after a terminal result (spec.md §8
// invariant 2: never overwrite a terminal SUCCESS).
type Ledger interface {
	Get(ctx context.Context, key string) (*Record, error)
	Upsert(ctx context.Context, key, messageID, fileSHA256, customerID string, status model.Status, salesOrderNo, orderURL string) (reserved bool, err error)
}

// PostgresLedger wraps internal/store.Store's idempotency_records methods,
// the same ON CONFLICT ... WHERE status <> 'SUCCESS' reservation idiom as
// the teacher's entitlements.Service.ReserveOrgUsageUnits, regeared from
// usage-unit reservation to terminal-status reservation. Linearizability
// per key falls out of Postgres row-level locking on the primary key.
type PostgresLedger struct {
	Store *store.Store
	Now   func() time.Time
}

func NewPostgresLedger(st *store.Store) *PostgresLedger {
	return &PostgresLedger{Store: st, Now: func() time.Time { return time.Now().UTC() }}
}

func (l *PostgresLedger) Get(ctx context.Context, key string) (*Record, error) {
	rec, err := l.Store.GetIdempotencyRecord(ctx, key)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Upsert reserves or refreshes the ledger row for key. It returns
// reserved=false when a prior SUCCESS already owns the key, signalling the
// caller (call_gateway) to treat this as a duplicate submission and return
// the prior SalesOrderNo/OrderURL instead of calling the ERP again.
func (l *PostgresLedger) Upsert(ctx context.Context, key, messageID, fileSHA256, customerID string, status model.Status, salesOrderNo, orderURL string) (bool, error) {
	rec := model.IdempotencyRecord{
		IdempotencyKey: key,
		MessageID:      messageID,
		FileSHA256:     fileSHA256,
		CustomerID:     customerID,
		Status:         status,
		SalesOrderNo:   salesOrderNo,
		OrderURL:       orderURL,
		CreatedAt:      l.Now(),
	}
	return l.Store.ReserveIdempotencyRecord(ctx, rec)
}
