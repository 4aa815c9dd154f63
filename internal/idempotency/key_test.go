package idempotency

import (
	"context"
	"testing"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

func TestDeriveKeyIsStableAndPositional(t *testing.T) {
	a := DeriveKey("msg-1", "sha-1", "cust-1")
	b := DeriveKey("msg-1", "sha-1", "cust-1")
	if a != b {
		t.Fatalf("expected deterministic key, got %q and %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64-char hex sha256 digest, got %d chars", len(a))
	}

	// Swapping components must not collide even though the concatenated
	// bytes would otherwise coincide without the ":" separators.
	c := DeriveKey("msg-1", "sha-1:cust", "1")
	if a == c {
		t.Fatalf("expected different components to derive different keys")
	}
}

func TestMemoryLedgerNeverOverwritesSuccess(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	key := DeriveKey("msg-1", "sha-1", "cust-1")

	reserved, err := ledger.Upsert(ctx, key, "msg-1", "sha-1", "cust-1", model.StatusSuccess, "SO-100", "https://erp.example/SO-100")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !reserved {
		t.Fatalf("expected first reservation to succeed")
	}

	reserved, err = ledger.Upsert(ctx, key, "msg-1", "sha-1", "cust-1", model.StatusERPOrderFailed, "", "")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if reserved {
		t.Fatalf("expected second upsert to be rejected: SUCCESS is terminal")
	}

	rec, err := ledger.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != model.StatusSuccess || rec.SalesOrderNo != "SO-100" {
		t.Fatalf("expected SUCCESS record to survive unchanged, got %+v", rec)
	}
}

func TestMemoryLedgerGetMissing(t *testing.T) {
	ledger := NewMemoryLedger()
	if _, err := ledger.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
