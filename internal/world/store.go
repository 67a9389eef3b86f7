package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/driftline/worldcore/internal/catalog"
	"github.com/driftline/worldcore/internal/experience"
	"github.com/driftline/worldcore/internal/locking"
	"github.com/driftline/worldcore/internal/storage"
)

// CommitSubjectPrefix + experience id is the subject announcing committed
// world versions.
const CommitSubjectPrefix = "world.commit."

// DefaultCommitRetries bounds automatic retries on version conflicts before
// the conflict is surfaced to the caller.
const DefaultCommitRetries = 3

// ErrNotShared is returned when a shared-world operation is attempted on an
// isolated experience; isolated worlds live in the player view store.
var ErrNotShared = errors.New("experience does not use the shared state model")

// Publisher publishes messages to subjects.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// CommitObserver is notified after every committed world mutation with the
// new state. The spatial index implements this.
type CommitObserver interface {
	ApplyCommit(experience string, s *State)
}

// Store is the canonical read/commit surface over shared world documents.
// Mutations run on a private copy and become visible only after a durable
// compare-and-swap put succeeds.
type Store struct {
	reads   storage.RecordStore // cache-fronted tier for plain reads
	durable storage.RecordStore // authoritative tier for version-sensitive reads
	locks   *locking.Coordinator
	configs *experience.Resolver
	catalog *catalog.Catalog

	retries   int
	pub       Publisher
	observers []CommitObserver
}

type StoreOpt func(*Store)

// WithPublisher announces committed versions on CommitSubjectPrefix+<exp>.
func WithPublisher(pub Publisher) StoreOpt {
	return func(s *Store) {
		s.pub = pub
	}
}

// WithCommitRetries overrides the bounded retry count for version conflicts.
func WithCommitRetries(n int) StoreOpt {
	return func(s *Store) {
		s.retries = n
	}
}

// WithObserver registers a commit observer.
func WithObserver(o CommitObserver) StoreOpt {
	return func(s *Store) {
		s.observers = append(s.observers, o)
	}
}

// NewStore creates a world store. reads may be a cache-fronted record store;
// durable must be the underlying durable tier (pass the same store twice when
// running without a cache).
func NewStore(reads, durable storage.RecordStore, locks *locking.Coordinator, configs *experience.Resolver, cat *catalog.Catalog, opts ...StoreOpt) *Store {
	s := &Store{
		reads:   reads,
		durable: durable,
		locks:   locks,
		configs: configs,
		catalog: cat,
		retries: DefaultCommitRetries,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Read returns a snapshot of the experience's world. The world document is
// created from its template seed on first read.
func (s *Store) Read(ctx context.Context, exp string) (*State, error) {
	cfg, err := s.sharedConfig(exp)
	if err != nil {
		return nil, err
	}

	rec, err := s.reads.GetRecord(ctx, storage.KindWorld, exp)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return s.Ensure(ctx, exp, cfg)
	}
	if err != nil {
		return nil, err
	}

	return decodeState(rec)
}

// Ensure creates the world document if it does not exist yet, seeding it
// from the configured world template.
func (s *Store) Ensure(ctx context.Context, exp string, cfg *experience.Config) (*State, error) {
	state, err := s.seedState(cfg)
	if err != nil {
		return nil, err
	}
	state.Version = 1
	state.LastModified = time.Now().UTC()

	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshalling world state: %w", err)
	}

	_, err = s.reads.PutRecord(ctx, storage.KindWorld, exp, 0, data)
	if errors.Is(err, storage.ErrVersionConflict) {
		// Lost the creation race; the other writer's document wins.
		rec, err := s.durable.GetRecord(ctx, storage.KindWorld, exp)
		if err != nil {
			return nil, err
		}
		return decodeState(rec)
	}
	if err != nil {
		return nil, err
	}

	s.notify(exp, state)
	return state, nil
}

// Commit applies mutate to the latest world state under lock and persists
// the result atomically. Version conflicts are retried with a fresh read up
// to the configured bound, then surfaced.
func (s *Store) Commit(ctx context.Context, exp string, mutate func(*State) error) (uint64, error) {
	cfg, err := s.sharedConfig(exp)
	if err != nil {
		return 0, err
	}

	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		handle, err := s.locks.AcquireWithLease(ctx, exp, cfg.LockTimeout(), cfg.LeaseTTL())
		if err != nil {
			return 0, err
		}

		state, newVersion, err := s.commitOnce(ctx, exp, cfg, mutate)
		s.locks.Release(handle)

		if errors.Is(err, storage.ErrVersionConflict) {
			lastErr = err
			slog.Debug("world commit conflict, retrying", "experience", exp, "attempt", attempt)
			continue
		}
		if err != nil {
			return 0, err
		}

		s.notify(exp, state)
		return newVersion, nil
	}

	return 0, lastErr
}

// commitOnce re-reads the authoritative record, applies mutate, and puts
// the result with a compare-and-swap on the version it read.
func (s *Store) commitOnce(ctx context.Context, exp string, cfg *experience.Config, mutate func(*State) error) (*State, uint64, error) {
	// Version-sensitive read: always hit the durable tier.
	rec, err := s.durable.GetRecord(ctx, storage.KindWorld, exp)
	var state *State
	switch {
	case errors.Is(err, storage.ErrRecordNotFound):
		if state, err = s.Ensure(ctx, exp, cfg); err != nil {
			return nil, 0, err
		}
	case err != nil:
		return nil, 0, err
	default:
		if state, err = decodeState(rec); err != nil {
			return nil, 0, err
		}
	}

	readVersion := state.Version

	if err := mutate(state); err != nil {
		return nil, 0, err
	}

	state.Version = readVersion + 1
	state.LastModified = time.Now().UTC()

	data, err := json.Marshal(state)
	if err != nil {
		return nil, 0, fmt.Errorf("marshalling world state: %w", err)
	}

	newVersion, err := s.reads.PutRecord(ctx, storage.KindWorld, exp, readVersion, data)
	if err != nil {
		return nil, 0, err
	}

	return state, newVersion, nil
}

func (s *Store) sharedConfig(exp string) (*experience.Config, error) {
	cfg, err := s.configs.Resolve(exp)
	if err != nil {
		return nil, err
	}
	if cfg.State.Model != experience.StateModelShared {
		return nil, fmt.Errorf("%w: %q", ErrNotShared, exp)
	}
	return cfg, nil
}

func (s *Store) seedState(cfg *experience.Config) (*State, error) {
	if cfg.State.TemplateId == "" {
		return NewState(), nil
	}

	tmpl, err := s.catalog.Snapshot(cfg.State.TemplateId)
	if err != nil {
		return nil, err
	}
	return NewStateFromTemplate(tmpl, s.catalog)
}

func (s *Store) notify(exp string, state *State) {
	for _, o := range s.observers {
		o.ApplyCommit(exp, state)
	}

	if s.pub != nil {
		payload := []byte(strconv.FormatUint(state.Version, 10))
		if err := s.pub.Publish(CommitSubjectPrefix+exp, payload); err != nil {
			slog.Warn("publishing commit event", "experience", exp, "error", err)
		}
	}
}

func decodeState(rec *storage.Record) (*State, error) {
	var state State
	if err := json.Unmarshal(rec.Data, &state); err != nil {
		return nil, fmt.Errorf("unmarshalling world state: %w", err)
	}
	state.Version = rec.Version
	return &state, nil
}
