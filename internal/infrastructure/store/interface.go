package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrVersionConflict = errors.New("entity version conflict")
)

// Record is a stored entity together with its optimistic concurrency token.
// Version starts at 1 and increases by one on every successful write.
type Record struct {
	Collection string          `json:"collection"`
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"data"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Decode unmarshals the record payload into v.
func (r *Record) Decode(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return errors.Wrapf(err, "failed to decode %s/%s", r.Collection, r.Key)
	}
	return nil
}

// EntityStore is a collection-keyed record store with per-record optimistic concurrency.
// There are no cross-record transactions.
type EntityStore interface {
	// Get returns ErrNotFound when the key is absent
	Get(ctx context.Context, collection, key string) (*Record, error)

	// Scan returns every record in a collection ordered by key
	Scan(ctx context.Context, collection string) ([]*Record, error)

	// Insert creates a record and returns ErrAlreadyExists if the key is taken
	Insert(ctx context.Context, collection, key string, data any) (*Record, error)

	// Put creates or replaces a record regardless of its current version
	Put(ctx context.Context, collection, key string, data any) (*Record, error)

	// Update replaces a record only if its stored version equals expectedVersion.
	// It returns ErrNotFound or ErrVersionConflict otherwise.
	Update(ctx context.Context, collection, key string, data any, expectedVersion int64) (*Record, error)

	// Delete returns ErrNotFound when the key is absent
	Delete(ctx context.Context, collection, key string) error
}

func encode(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case json.RawMessage:
		return append(json.RawMessage(nil), v...), nil
	case []byte:
		return append(json.RawMessage(nil), v...), nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode entity")
	}
	return b, nil
}

// notFound and friends attach the record coordinates to a sentinel.
func notFound(collection, key string) error {
	return errors.Wrapf(ErrNotFound, "%s/%s", collection, key)
}

func alreadyExists(collection, key string) error {
	return errors.Wrapf(ErrAlreadyExists, "%s/%s", collection, key)
}

func versionConflict(collection, key string, expected int64) error {
	return errors.Wrapf(ErrVersionConflict, "%s/%s expected version %d", collection, key, expected)
}
