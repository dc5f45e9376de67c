package product

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/order-pipeline/internal/infrastructure/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProductService() (*Service, *mocks.MockEntityStore) {
	s := mocks.NewMockEntityStore()
	return NewService(s), s
}

// ============================================
// Read Tests
// ============================================

func TestService_Get(t *testing.T) {
	service, s := newTestProductService()
	s.SetData(Collection, "prod-1", Product{ID: "prod-1", Name: "Keyboard", Price: 49.99, StockAvailable: 7})

	p, err := service.Get(context.Background(), "prod-1")

	require.NoError(t, err)
	assert.Equal(t, &Product{ID: "prod-1", Name: "Keyboard", Price: 49.99, StockAvailable: 7}, p)
}

func TestService_Get_FillsIDFromKey(t *testing.T) {
	service, s := newTestProductService()
	s.SetData(Collection, "prod-1", map[string]any{"name": "Mouse", "stockAvailable": 1})

	p, err := service.Get(context.Background(), "prod-1")

	require.NoError(t, err)
	assert.Equal(t, "prod-1", p.ID)
	assert.Equal(t, 1, p.StockAvailable)
}

func TestService_Get_NotFound(t *testing.T) {
	service, _ := newTestProductService()

	_, err := service.Get(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestService_Get_StoreError(t *testing.T) {
	service, s := newTestProductService()
	s.GetErr = errors.New("timeout")

	_, err := service.Get(context.Background(), "prod-1")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProductNotFound)
}

func TestService_List(t *testing.T) {
	service, s := newTestProductService()
	s.SetData(Collection, "b", Product{ID: "b", Name: "B"})
	s.SetData(Collection, "a", Product{ID: "a", Name: "A"})

	products, err := service.List(context.Background())

	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "a", products[0].ID)
	assert.Equal(t, "b", products[1].ID)
}

func TestService_List_Empty(t *testing.T) {
	service, _ := newTestProductService()

	products, err := service.List(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, products)
	assert.Empty(t, products)
}

// ============================================
// Seed Tests
// ============================================

func TestService_Seed(t *testing.T) {
	service, s := newTestProductService()

	n, err := service.Seed(context.Background(), []Product{
		{ID: "prod-1", Name: "Keyboard", StockAvailable: 10},
		{ID: "prod-2", Name: "Mouse", StockAvailable: 5},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, s.PutCalls, 2)
	assert.Len(t, s.Records(Collection), 2)
}

func TestService_Seed_RejectsMissingID(t *testing.T) {
	service, _ := newTestProductService()

	n, err := service.Seed(context.Background(), []Product{{ID: "prod-1"}, {Name: "no id"}})

	require.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadSeedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"prod-1","name":"Keyboard","price":49.99,"stockAvailable":10}]`), 0o600))

	products, err := LoadSeedFile(path)

	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, Product{ID: "prod-1", Name: "Keyboard", Price: 49.99, StockAvailable: 10}, products[0])
}

func TestLoadSeedFile_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"not":"an array"}`), 0o600))

	_, err := LoadSeedFile(bad)
	assert.Error(t, err)

	_, err = LoadSeedFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
