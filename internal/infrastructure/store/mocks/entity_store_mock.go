package mocks

import (
	"context"
	"sync"

	"github.com/example/order-pipeline/internal/infrastructure/store"
)

// MockEntityStore is an EntityStore backed by a MemoryStore that records
// every call and can be told to fail.
type MockEntityStore struct {
	mu    sync.Mutex
	inner *store.MemoryStore

	// For tracking calls in tests
	GetCalls    []KeyCall
	ScanCalls   []string
	InsertCalls []WriteCall
	PutCalls    []WriteCall
	UpdateCalls []WriteCall
	DeleteCalls []KeyCall

	// Errors returned instead of touching the data
	GetErr    error
	ScanErr   error
	InsertErr error
	PutErr    error
	UpdateErr error
	DeleteErr error

	// InsertCallback replaces Insert entirely when set
	InsertCallback func(ctx context.Context, collection, key string, data any) (*store.Record, error)
}

// KeyCall records parameters passed to Get and Delete
type KeyCall struct {
	Collection string
	Key        string
}

// WriteCall records parameters passed to Insert, Put and Update
type WriteCall struct {
	Collection      string
	Key             string
	Data            any
	ExpectedVersion int64
}

// NewMockEntityStore creates a new MockEntityStore
func NewMockEntityStore() *MockEntityStore {
	return &MockEntityStore{inner: store.NewMemoryStore()}
}

func (m *MockEntityStore) Get(ctx context.Context, collection, key string) (*store.Record, error) {
	m.mu.Lock()
	m.GetCalls = append(m.GetCalls, KeyCall{Collection: collection, Key: key})
	err := m.GetErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.inner.Get(ctx, collection, key)
}

func (m *MockEntityStore) Scan(ctx context.Context, collection string) ([]*store.Record, error) {
	m.mu.Lock()
	m.ScanCalls = append(m.ScanCalls, collection)
	err := m.ScanErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.inner.Scan(ctx, collection)
}

func (m *MockEntityStore) Insert(ctx context.Context, collection, key string, data any) (*store.Record, error) {
	m.mu.Lock()
	m.InsertCalls = append(m.InsertCalls, WriteCall{Collection: collection, Key: key, Data: data})
	err, callback := m.InsertErr, m.InsertCallback
	m.mu.Unlock()

	if callback != nil {
		return callback(ctx, collection, key, data)
	}
	if err != nil {
		return nil, err
	}
	return m.inner.Insert(ctx, collection, key, data)
}

func (m *MockEntityStore) Put(ctx context.Context, collection, key string, data any) (*store.Record, error) {
	m.mu.Lock()
	m.PutCalls = append(m.PutCalls, WriteCall{Collection: collection, Key: key, Data: data})
	err := m.PutErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.inner.Put(ctx, collection, key, data)
}

func (m *MockEntityStore) Update(ctx context.Context, collection, key string, data any, expectedVersion int64) (*store.Record, error) {
	m.mu.Lock()
	m.UpdateCalls = append(m.UpdateCalls, WriteCall{Collection: collection, Key: key, Data: data, ExpectedVersion: expectedVersion})
	err := m.UpdateErr
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.inner.Update(ctx, collection, key, data, expectedVersion)
}

func (m *MockEntityStore) Delete(ctx context.Context, collection, key string) error {
	m.mu.Lock()
	m.DeleteCalls = append(m.DeleteCalls, KeyCall{Collection: collection, Key: key})
	err := m.DeleteErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return m.inner.Delete(ctx, collection, key)
}

// SetData stores data directly for testing (without recording the call)
func (m *MockEntityStore) SetData(collection, key string, data any) {
	if _, err := m.inner.Put(context.Background(), collection, key, data); err != nil {
		panic(err)
	}
}

// Records lists a collection directly (without recording the call)
func (m *MockEntityStore) Records(collection string) []*store.Record {
	records, _ := m.inner.Scan(context.Background(), collection)
	return records
}

// Reset clears all data, recorded calls and injected errors
func (m *MockEntityStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inner = store.NewMemoryStore()
	m.GetCalls, m.ScanCalls, m.DeleteCalls = nil, nil, nil
	m.InsertCalls, m.PutCalls, m.UpdateCalls = nil, nil, nil
	m.GetErr, m.ScanErr, m.InsertErr, m.PutErr, m.UpdateErr, m.DeleteErr = nil, nil, nil, nil, nil, nil
	m.InsertCallback = nil
}
