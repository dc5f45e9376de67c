package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory EntityStore
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*Record // collection -> key -> record
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]*Record),
		now:  time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[collection][key]
	if !ok {
		return nil, notFound(collection, key)
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Scan(ctx context.Context, collection string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*Record, 0, len(s.data[collection]))
	for _, rec := range s.data[collection] {
		items = append(items, cloneRecord(rec))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}

func (s *MemoryStore) Insert(ctx context.Context, collection, key string, data any) (*Record, error) {
	payload, err := encode(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[collection][key]; ok {
		return nil, alreadyExists(collection, key)
	}
	return s.writeLocked(collection, key, payload, 1), nil
}

func (s *MemoryStore) Put(ctx context.Context, collection, key string, data any) (*Record, error) {
	payload, err := encode(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version := int64(1)
	if current, ok := s.data[collection][key]; ok {
		version = current.Version + 1
	}
	return s.writeLocked(collection, key, payload, version), nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, key string, data any, expectedVersion int64) (*Record, error) {
	payload, err := encode(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.data[collection][key]
	if !ok {
		return nil, notFound(collection, key)
	}
	if current.Version != expectedVersion {
		return nil, versionConflict(collection, key, expectedVersion)
	}
	return s.writeLocked(collection, key, payload, current.Version+1), nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[collection][key]; !ok {
		return notFound(collection, key)
	}
	delete(s.data[collection], key)
	return nil
}

func (s *MemoryStore) writeLocked(collection, key string, payload []byte, version int64) *Record {
	if s.data[collection] == nil {
		s.data[collection] = make(map[string]*Record)
	}
	rec := &Record{
		Collection: collection,
		Key:        key,
		Data:       payload,
		Version:    version,
		UpdatedAt:  s.now().UTC(),
	}
	s.data[collection][key] = rec
	return cloneRecord(rec)
}

func cloneRecord(r *Record) *Record {
	c := *r
	c.Data = append([]byte(nil), r.Data...)
	return &c
}
