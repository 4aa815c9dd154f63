package masterdata

import (
	"context"
	"testing"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

type fakeClient struct {
	version     int64
	fetchCalls  int
	versionCalls int
	snapshot    *model.MasterDataSnapshot
}

func (f *fakeClient) CurrentVersion(ctx context.Context) (int64, error) {
	f.versionCalls++
	return f.version, nil
}

func (f *fakeClient) FetchSnapshot(ctx context.Context) (*model.MasterDataSnapshot, error) {
	f.fetchCalls++
	return f.snapshot, nil
}

func TestCacheReloadsOnVersionBump(t *testing.T) {
	client := &fakeClient{version: 1, snapshot: model.NewMasterDataSnapshot(1, nil, nil, nil, nil)}
	now := time.Now()
	cache := NewCache(client, time.Hour)
	cache.Now = func() time.Time { return now }

	snap, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Version != 1 || client.fetchCalls != 1 {
		t.Fatalf("expected one fetch for initial load, got fetchCalls=%d", client.fetchCalls)
	}

	// Still fresh, same version: no new fetch.
	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("get: %v", err)
	}
	if client.fetchCalls != 1 {
		t.Fatalf("expected cache hit, got fetchCalls=%d", client.fetchCalls)
	}

	// Version bump forces a reload even though TTL hasn't expired.
	client.version = 2
	client.snapshot = model.NewMasterDataSnapshot(2, nil, nil, nil, nil)
	snap, err = cache.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Version != 2 || client.fetchCalls != 2 {
		t.Fatalf("expected reload on version bump, got version=%d fetchCalls=%d", snap.Version, client.fetchCalls)
	}
}

func TestCacheFallsBackToStaleOnError(t *testing.T) {
	client := &fakeClient{version: 1, snapshot: model.NewMasterDataSnapshot(1, nil, nil, nil, nil)}
	cache := NewCache(client, time.Millisecond)
	cache.Now = func() time.Time { return time.Now() }

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("initial get: %v", err)
	}

	cache.Client = nil
	time.Sleep(2 * time.Millisecond)
	snap, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("expected stale snapshot fallback, got error: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("expected stale snapshot version 1, got %d", snap.Version)
	}
}
