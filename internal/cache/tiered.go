package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftline/worldcore/internal/storage"
)

const (
	// DefaultSessionTTL covers per-player records (views, inventories).
	DefaultSessionTTL = time.Hour
	// DefaultAggregateTTL covers list-style documents (world states).
	DefaultAggregateTTL = 5 * time.Minute
)

// TieredStore fronts a durable RecordStore with per-kind TTL caches.
// Reads prefer the fast tier and warm through on a miss. Writes are dual:
// the durable store first, then the cache; a failed durable write
// invalidates the cache entry so it is never stale-but-present.
//
// The cache is never consulted for version-sensitive decisions; callers
// needing that keep a handle on the durable tier directly.
type TieredStore struct {
	durable storage.RecordStore
	caches  map[string]*KeyedCache
}

type TieredOpt func(*TieredStore)

// WithKindTTL sets the cache TTL for one record kind.
func WithKindTTL(kind string, ttl time.Duration) TieredOpt {
	return func(s *TieredStore) {
		s.caches[kind] = NewKeyedCache(ttl)
	}
}

func NewTieredStore(durable storage.RecordStore, opts ...TieredOpt) *TieredStore {
	s := &TieredStore{
		durable: durable,
		caches: map[string]*KeyedCache{
			storage.KindPlayerView: NewKeyedCache(DefaultSessionTTL),
			storage.KindWorld:      NewKeyedCache(DefaultAggregateTTL),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Durable exposes the authoritative tier for version-sensitive reads.
func (s *TieredStore) Durable() storage.RecordStore {
	return s.durable
}

func (s *TieredStore) GetRecord(ctx context.Context, kind, id string) (*storage.Record, error) {
	c := s.caches[kind]
	key := recordKey(kind, id)

	if c != nil {
		if v, ok := c.Get(key); ok {
			return v.(*storage.Record), nil
		}
	}

	rec, err := s.durable.GetRecord(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	if c != nil {
		c.Set(key, rec)
	}
	return rec, nil
}

func (s *TieredStore) PutRecord(ctx context.Context, kind, id string, expectedVersion uint64, data []byte) (uint64, error) {
	c := s.caches[kind]
	key := recordKey(kind, id)

	newVersion, err := s.durable.PutRecord(ctx, kind, id, expectedVersion, data)
	if err != nil {
		// Whatever we may have cached is now suspect.
		if c != nil {
			c.Delete(key)
		}
		return 0, err
	}

	if c != nil {
		c.Set(key, &storage.Record{
			Kind:      kind,
			Id:        id,
			Version:   newVersion,
			Data:      data,
			UpdatedAt: time.Now().UTC(),
		})
	}
	return newVersion, nil
}

func (s *TieredStore) DeleteRecord(ctx context.Context, kind, id string) error {
	if c := s.caches[kind]; c != nil {
		c.Delete(recordKey(kind, id))
	}
	return s.durable.DeleteRecord(ctx, kind, id)
}

func (s *TieredStore) Close() error {
	return s.durable.Close()
}

// Tick sweeps expired entries from every cache tier. Satisfies the tick
// driver's Manager interface.
func (s *TieredStore) Tick(ctx context.Context) error {
	for kind, c := range s.caches {
		if n := c.Sweep(); n > 0 {
			slog.DebugContext(ctx, "swept cache", "kind", kind, "removed", n)
		}
	}
	return nil
}

func recordKey(kind, id string) string {
	return fmt.Sprintf("%s/%s", kind, id)
}
