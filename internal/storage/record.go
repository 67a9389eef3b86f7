package storage

import (
	"context"
	"errors"
	"time"
)

const (
	// Record kinds persisted by the engine.
	KindWorld      = "world"
	KindPlayerView = "view"
)

var (
	ErrRecordNotFound = errors.New("record not found")

	// ErrVersionConflict is returned by PutRecord when the stored version
	// no longer matches the version the caller read.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDurableWrite is returned when the backing store could not persist
	// a record. No partial state is visible after this error.
	ErrDurableWrite = errors.New("durable write failed")
)

// Record is a versioned mutable document. Data is an opaque JSON payload;
// the store only interprets the version counter.
type Record struct {
	Kind      string    `json:"kind"`
	Id        string    `json:"id"`
	Version   uint64    `json:"version"`
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordStore persists versioned records with compare-and-swap semantics.
// Every committed write strictly increases the record's version; a write
// whose expected version is stale fails with ErrVersionConflict.
type RecordStore interface {
	// GetRecord returns the current record, or ErrRecordNotFound.
	GetRecord(ctx context.Context, kind, id string) (*Record, error)

	// PutRecord stores data at expectedVersion+1. An expectedVersion of 0
	// requires that the record does not exist yet.
	PutRecord(ctx context.Context, kind, id string, expectedVersion uint64, data []byte) (uint64, error)

	// DeleteRecord removes a record. Deleting a missing record is not an error.
	DeleteRecord(ctx context.Context, kind, id string) error

	Close() error
}
