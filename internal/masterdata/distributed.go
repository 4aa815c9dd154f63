package masterdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loudon84/mcs-orchestrator/internal/model"
)

// DistributedCache is the "distributed cache variant...permitted but not
// required" of spec.md §4.3: it stores the snapshot JSON content-addressed
// by version under masterdata:snapshot:{version} in Redis, the teacher's
// queue dependency (internal/queue wraps go-redis for job push/pop)
// repurposed here for a second, unrelated concern.
type DistributedCache struct {
	Redis  *redis.Client
	Client Client
	TTL    time.Duration
}

func NewDistributedCache(redisClient *redis.Client, client Client, ttl time.Duration) *DistributedCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DistributedCache{Redis: redisClient, Client: client, TTL: ttl}
}

func snapshotKey(version int64) string {
	return fmt.Sprintf("masterdata:snapshot:%d", version)
}

// Get resolves the current version from Client, then serves the snapshot
// from Redis if present, else fetches and populates it.
func (d *DistributedCache) Get(ctx context.Context) (*model.MasterDataSnapshot, error) {
	if d.Client == nil {
		return nil, ErrUnavailable
	}
	version, err := d.Client.CurrentVersion(ctx)
	if err != nil {
		return nil, ErrUnavailable
	}

	key := snapshotKey(version)
	if d.Redis != nil {
		if raw, err := d.Redis.Get(ctx, key).Bytes(); err == nil {
			var payload snapshotPayload
			if err := json.Unmarshal(raw, &payload); err == nil {
				return model.NewMasterDataSnapshot(payload.Version, payload.Customers, payload.Contacts, payload.Companies, payload.Products), nil
			}
		}
	}

	snapshot, err := d.Client.FetchSnapshot(ctx)
	if err != nil {
		return nil, ErrUnavailable
	}

	if d.Redis != nil {
		payload := snapshotPayload{
			Version:   snapshot.Version,
			Customers: snapshot.Customers,
			Contacts:  snapshot.Contacts,
			Companies: snapshot.Companies,
			Products:  snapshot.Products,
		}
		if data, err := json.Marshal(payload); err == nil {
			_ = d.Redis.Set(ctx, key, data, d.TTL).Err()
		}
	}
	return snapshot, nil
}

type snapshotPayload struct {
	Version   int64            `json:"version"`
	Customers []model.Customer `json:"customers"`
	Contacts  []model.Contact  `json:"contacts"`
	Companies []model.Company  `json:"companies"`
	Products  []model.Product  `json:"products"`
}
