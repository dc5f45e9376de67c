package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

// storeFactories lists the backends that run without external services.
func storeFactories(t *testing.T) map[string]func() EntityStore {
	return map[string]func() EntityStore{
		"memory": func() EntityStore { return NewMemoryStore() },
		"sqlite": func() EntityStore {
			s, err := OpenSQLite(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s EntityStore)) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory())
		})
	}
}

// ============================================
// Insert / Get Tests
// ============================================

func TestStore_InsertAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()

		rec, err := s.Insert(ctx, "products", "p1", widget{Name: "Widget", Stock: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Version)

		got, err := s.Get(ctx, "products", "p1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)

		var w widget
		require.NoError(t, got.Decode(&w))
		assert.Equal(t, widget{Name: "Widget", Stock: 10}, w)
	})
}

func TestStore_Insert_AlreadyExists(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()

		_, err := s.Insert(ctx, "products", "p1", widget{Name: "A"})
		require.NoError(t, err)

		_, err = s.Insert(ctx, "products", "p1", widget{Name: "B"})
		assert.ErrorIs(t, err, ErrAlreadyExists)

		got, err := s.Get(ctx, "products", "p1")
		require.NoError(t, err)
		var w widget
		require.NoError(t, got.Decode(&w))
		assert.Equal(t, "A", w.Name)
	})
}

func TestStore_Get_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EntityStore) {
		_, err := s.Get(context.Background(), "products", "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_CollectionsAreIsolated(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()

		_, err := s.Insert(ctx, "orders", "same", widget{Name: "order"})
		require.NoError(t, err)
		_, err = s.Insert(ctx, "products", "same", widget{Name: "product"})
		require.NoError(t, err)

		orders, err := s.Scan(ctx, "orders")
		require.NoError(t, err)
		assert.Len(t, orders, 1)
	})
}

// ============================================
// Put / Update Tests
// ============================================

func TestStore_Put_CreatesAndOverwrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()

		rec, err := s.Put(ctx, "products", "p1", widget{Stock: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Version)

		rec, err = s.Put(ctx, "products", "p1", widget{Stock: 4})
		require.NoError(t, err)
		assert.Equal(t, int64(2), rec.Version)

		got, err := s.Get(ctx, "products", "p1")
		require.NoError(t, err)
		var w widget
		require.NoError(t, got.Decode(&w))
		assert.Equal(t, 4, w.Stock)
		assert.Equal(t, int64(2), got.Version)
	})
}

func TestStore_Update_WithCurrentVersion(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()

		rec, err := s.Insert(ctx, "products", "p1", widget{Stock: 10})
		require.NoError(t, err)

		updated, err := s.Update(ctx, "products", "p1", widget{Stock: 7}, rec.Version)
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)

		got, err := s.Get(ctx, "products", "p1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
	})
}

func TestStore_Update_StaleVersion(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()

		rec, err := s.Insert(ctx, "products", "p1", widget{Stock: 10})
		require.NoError(t, err)
		_, err = s.Update(ctx, "products", "p1", widget{Stock: 9}, rec.Version)
		require.NoError(t, err)

		_, err = s.Update(ctx, "products", "p1", widget{Stock: 1}, rec.Version)
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, err := s.Get(ctx, "products", "p1")
		require.NoError(t, err)
		var w widget
		require.NoError(t, got.Decode(&w))
		assert.Equal(t, 9, w.Stock)
	})
}

func TestStore_Update_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EntityStore) {
		_, err := s.Update(context.Background(), "products", "missing", widget{}, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// ============================================
// Delete / Scan Tests
// ============================================

func TestStore_Delete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()

		_, err := s.Insert(ctx, "orders", "o1", widget{})
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "orders", "o1"))

		_, err = s.Get(ctx, "orders", "o1")
		assert.ErrorIs(t, err, ErrNotFound)

		err = s.Delete(ctx, "orders", "o1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Scan_OrderedByKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()

		for _, key := range []string{"3", "1", "2"} {
			_, err := s.Insert(ctx, "orders", key, widget{Name: key})
			require.NoError(t, err)
		}

		records, err := s.Scan(ctx, "orders")
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "1", records[0].Key)
		assert.Equal(t, "2", records[1].Key)
		assert.Equal(t, "3", records[2].Key)
	})
}

func TestStore_Scan_EmptyCollection(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EntityStore) {
		records, err := s.Scan(context.Background(), "nothing")
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestStore_ConcurrentUpdates_OneWinnerPerVersion(t *testing.T) {
	forEachStore(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()

		rec, err := s.Insert(ctx, "products", "p1", widget{Stock: 10})
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		results := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.Update(ctx, "products", "p1", widget{Stock: i}, rec.Version)
				results <- err
			}(i)
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, ErrVersionConflict)
		}
		assert.Equal(t, 1, wins)
	})
}

func TestEncode_RawJSONPassThrough(t *testing.T) {
	raw := []byte(`{"a":1}`)
	out, err := encode(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(out))

	raw[0] = 'x'
	assert.Equal(t, byte('{'), out[0])
}
