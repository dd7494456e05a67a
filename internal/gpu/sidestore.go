package gpu

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docker/model-ops-coordinator/internal/logging"
)

// sideStoreTTL mirrors the 24h TTL on the persisted allocation record in
// spec.md §3 and original_source/core/gpu_manager.py's
// `redis_client.setex(key, 86400, ...)`.
const sideStoreTTL = 24 * time.Hour

// SideStore persists allocation records with a per-key TTL. Failures here
// are logged and counted but must never fail the in-memory allocation
// path (spec.md §4.2): the in-memory map is always authoritative.
type SideStore interface {
	Set(ctx context.Context, modelName string, alloc Allocation) error
	Get(ctx context.Context, modelName string) (Allocation, bool, error)
	Delete(ctx context.Context, modelName string) error
	// List returns every persisted record, used to reconcile on startup.
	List(ctx context.Context) (map[string]Allocation, error)
}

const sideStoreKeyPrefix = "moc:gpu:allocation:"

// RedisSideStore is the production SideStore, grounded on
// original_source/core/gpu_manager.py's use of a Redis client, rendered
// with the Go client helixml-helix depends on.
type RedisSideStore struct {
	client *redis.Client
	log    logging.Logger
}

func NewRedisSideStore(addr string, log logging.Logger) *RedisSideStore {
	return &RedisSideStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		log:    log,
	}
}

func (s *RedisSideStore) Set(ctx context.Context, modelName string, alloc Allocation) error {
	data, err := json.Marshal(alloc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sideStoreKeyPrefix+modelName, data, sideStoreTTL).Err()
}

func (s *RedisSideStore) Get(ctx context.Context, modelName string) (Allocation, bool, error) {
	data, err := s.client.Get(ctx, sideStoreKeyPrefix+modelName).Bytes()
	if err == redis.Nil {
		return Allocation{}, false, nil
	}
	if err != nil {
		return Allocation{}, false, err
	}
	var alloc Allocation
	if err := json.Unmarshal(data, &alloc); err != nil {
		return Allocation{}, false, err
	}
	return alloc, true, nil
}

func (s *RedisSideStore) Delete(ctx context.Context, modelName string) error {
	return s.client.Del(ctx, sideStoreKeyPrefix+modelName).Err()
}

func (s *RedisSideStore) List(ctx context.Context) (map[string]Allocation, error) {
	out := map[string]Allocation{}
	iter := s.client.Scan(ctx, 0, sideStoreKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var alloc Allocation
		if err := json.Unmarshal(data, &alloc); err != nil {
			continue
		}
		out[alloc.ModelName] = alloc
	}
	return out, iter.Err()
}

// MemorySideStore is an in-process SideStore used in tests and whenever
// no Redis address is configured.
type MemorySideStore struct {
	mu   sync.Mutex
	data map[string]Allocation
}

func NewMemorySideStore() *MemorySideStore {
	return &MemorySideStore{data: map[string]Allocation{}}
}

func (s *MemorySideStore) Set(_ context.Context, modelName string, alloc Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[modelName] = alloc
	return nil
}

func (s *MemorySideStore) Get(_ context.Context, modelName string) (Allocation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data[modelName]
	return a, ok, nil
}

func (s *MemorySideStore) Delete(_ context.Context, modelName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, modelName)
	return nil
}

func (s *MemorySideStore) List(_ context.Context) (map[string]Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Allocation, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}
