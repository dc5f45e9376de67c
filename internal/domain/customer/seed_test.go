package customer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/order-pipeline/internal/infrastructure/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Jane Doe", (&Customer{Name: "Jane", Surname: "Doe", Username: "jdoe"}).DisplayName())
	assert.Equal(t, "Jane", (&Customer{Name: "Jane"}).DisplayName())
	assert.Equal(t, "jdoe", (&Customer{Username: "jdoe"}).DisplayName())
}

func TestSeed(t *testing.T) {
	s := store.NewMemoryStore()

	n, err := Seed(context.Background(), s, []Customer{
		{ID: "cust-1", Email: "jane@example.com"},
		{ID: "cust-2", Email: "john@example.com"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rec, err := s.Get(context.Background(), Collection, "cust-2")
	require.NoError(t, err)
	var c Customer
	require.NoError(t, rec.Decode(&c))
	assert.Equal(t, "john@example.com", c.Email)
}

func TestSeed_RequiresID(t *testing.T) {
	n, err := Seed(context.Background(), store.NewMemoryStore(), []Customer{{ID: "cust-1"}, {Email: "x@example.com"}})

	assert.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "customers.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"cust-1","name":"Jane","email":"jane@example.com"}]`), 0o600))

	customers, err := LoadSeedFile(path)

	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "Jane", customers[0].Name)

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
