package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileRecordStore keeps one JSON file per record under <path>/<kind>/<id>.json.
// Writes are atomic (temp file + rename) and guarded by a single mutex, which
// is what makes the compare-and-swap check sound for a single process.
type FileRecordStore struct {
	path string

	mu sync.Mutex
}

func NewFileRecordStore(path string) (*FileRecordStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating record path: %w", err)
	}
	return &FileRecordStore{path: path}, nil
}

func (s *FileRecordStore) GetRecord(_ context.Context, kind, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(kind, id)
}

func (s *FileRecordStore) PutRecord(_ context.Context, kind, id string, expectedVersion uint64, data []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.read(kind, id)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		if expectedVersion != 0 {
			return 0, ErrVersionConflict
		}
	case err != nil:
		return 0, err
	default:
		if cur.Version != expectedVersion {
			return 0, ErrVersionConflict
		}
	}

	rec := &Record{
		Kind:      kind,
		Id:        id,
		Version:   expectedVersion + 1,
		Data:      data,
		UpdatedAt: time.Now().UTC(),
	}

	jsonData, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshalling record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.recordPath(kind, id)), 0755); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurableWrite, err)
	}
	if err := atomicWrite(s.recordPath(kind, id), jsonData, 0644); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurableWrite, err)
	}

	return rec.Version, nil
}

func (s *FileRecordStore) DeleteRecord(_ context.Context, kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.recordPath(kind, id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing record: %w", err)
	}
	return nil
}

func (s *FileRecordStore) Close() error {
	return nil
}

func (s *FileRecordStore) read(kind, id string) (*Record, error) {
	jsonData, err := os.ReadFile(s.recordPath(kind, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("reading record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(jsonData, &rec); err != nil {
		return nil, fmt.Errorf("unmarshalling record: %w", err)
	}
	return &rec, nil
}

func (s *FileRecordStore) recordPath(kind, id string) string {
	return filepath.Join(s.path, kind, fmt.Sprintf("%s.json", id))
}
