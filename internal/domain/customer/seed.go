package customer

import (
	"context"
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/infrastructure/store"
)

// Seed upserts every customer under its own id.
func Seed(ctx context.Context, s store.EntityStore, customers []Customer) (int, error) {
	for i, c := range customers {
		if c.ID == "" {
			return i, errors.Newf("customer at index %d has no id", i)
		}
		if _, err := s.Put(ctx, Collection, c.ID, c); err != nil {
			return i, errors.Wrapf(err, "failed to seed customer %s", c.ID)
		}
	}
	return len(customers), nil
}

func LoadSeedFile(path string) ([]Customer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read seed file %s", path)
	}
	var customers []Customer
	if err := json.Unmarshal(data, &customers); err != nil {
		return nil, errors.Wrapf(err, "failed to parse seed file %s", path)
	}
	return customers, nil
}
