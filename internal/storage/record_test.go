package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pixil98/go-testutil"
)

// recordStores builds one of each backend for cross-backend tests.
func recordStores(t *testing.T) map[string]RecordStore {
	t.Helper()

	fileStore, err := NewFileRecordStore(t.TempDir())
	if err != nil {
		t.Fatalf("creating file record store: %v", err)
	}

	sqliteStore, err := OpenSQLiteRecordStore(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("creating sqlite record store: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]RecordStore{
		"file":   fileStore,
		"sqlite": sqliteStore,
	}
}

func TestRecordStore_GetMissing(t *testing.T) {
	for name, store := range recordStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetRecord(context.Background(), KindWorld, "nope")
			if !errors.Is(err, ErrRecordNotFound) {
				t.Errorf("expected ErrRecordNotFound, got %v", err)
			}
		})
	}
}

func TestRecordStore_PutAndGet(t *testing.T) {
	for name, store := range recordStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			v, err := store.PutRecord(ctx, KindWorld, "wylding-woods", 0, []byte(`{"a":1}`))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "first version", v, uint64(1))

			rec, err := store.GetRecord(ctx, KindWorld, "wylding-woods")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "version", rec.Version, uint64(1))
			testutil.AssertEqual(t, "data", string(rec.Data), `{"a":1}`)
		})
	}
}

func TestRecordStore_VersionConflict(t *testing.T) {
	tests := map[string]struct {
		seedVersion uint64 // 0 means no seed record
		putExpected uint64
		expConflict bool
	}{
		"create over existing record": {
			seedVersion: 1,
			putExpected: 0,
			expConflict: true,
		},
		"stale expected version": {
			seedVersion: 2,
			putExpected: 1,
			expConflict: true,
		},
		"matching expected version": {
			seedVersion: 2,
			putExpected: 2,
			expConflict: false,
		},
		"update of missing record": {
			seedVersion: 0,
			putExpected: 3,
			expConflict: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			for backend, store := range recordStores(t) {
				t.Run(backend, func(t *testing.T) {
					ctx := context.Background()

					for v := uint64(1); v <= tt.seedVersion; v++ {
						_, err := store.PutRecord(ctx, KindWorld, "exp", v-1, []byte(`{}`))
						if err != nil {
							t.Fatalf("seeding version %d: %v", v, err)
						}
					}

					v, err := store.PutRecord(ctx, KindWorld, "exp", tt.putExpected, []byte(`{"new":true}`))
					if tt.expConflict {
						if !errors.Is(err, ErrVersionConflict) {
							t.Errorf("expected ErrVersionConflict, got %v", err)
						}
						return
					}
					if err != nil {
						t.Fatalf("unexpected error: %v", err)
					}
					testutil.AssertEqual(t, "new version", v, tt.putExpected+1)
				})
			}
		})
	}
}

func TestRecordStore_Delete(t *testing.T) {
	for name, store := range recordStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.PutRecord(ctx, KindPlayerView, "alice", 0, []byte(`{}`))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if err := store.DeleteRecord(ctx, KindPlayerView, "alice"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			_, err = store.GetRecord(ctx, KindPlayerView, "alice")
			if !errors.Is(err, ErrRecordNotFound) {
				t.Errorf("expected ErrRecordNotFound, got %v", err)
			}

			// Deleting again is a no-op
			if err := store.DeleteRecord(ctx, KindPlayerView, "alice"); err != nil {
				t.Errorf("unexpected error deleting missing record: %v", err)
			}
		})
	}
}

func TestRecordStore_KindsAreIndependent(t *testing.T) {
	for name, store := range recordStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.PutRecord(ctx, KindWorld, "same-id", 0, []byte(`{"kind":"world"}`))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_, err = store.PutRecord(ctx, KindPlayerView, "same-id", 0, []byte(`{"kind":"view"}`))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			rec, err := store.GetRecord(ctx, KindPlayerView, "same-id")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testutil.AssertEqual(t, "data", string(rec.Data), `{"kind":"view"}`)
		})
	}
}
