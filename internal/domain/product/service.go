package product

import (
	"context"
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/infrastructure/store"
)

// Service gives read access to the catalog and loads seed data.
type Service struct {
	store store.EntityStore
}

func NewService(s store.EntityStore) *Service {
	return &Service{store: s}
}

func (s *Service) Get(ctx context.Context, id string) (*Product, error) {
	rec, err := s.store.Get(ctx, Collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(ErrProductNotFound, "%s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get product %s", id)
	}
	var p Product
	if err := rec.Decode(&p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}

func (s *Service) List(ctx context.Context) ([]*Product, error) {
	records, err := s.store.Scan(ctx, Collection)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}
	products := make([]*Product, 0, len(records))
	for _, rec := range records {
		var p Product
		if err := rec.Decode(&p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			p.ID = rec.Key
		}
		products = append(products, &p)
	}
	return products, nil
}

// Seed upserts every product under its own id.
func (s *Service) Seed(ctx context.Context, products []Product) (int, error) {
	for i, p := range products {
		if p.ID == "" {
			return i, errors.Newf("product at index %d has no id", i)
		}
		if _, err := s.store.Put(ctx, Collection, p.ID, p); err != nil {
			return i, errors.Wrapf(err, "failed to seed product %s", p.ID)
		}
	}
	return len(products), nil
}

// LoadSeedFile reads a JSON array of products.
func LoadSeedFile(path string) ([]Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read seed file %s", path)
	}
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, errors.Wrapf(err, "failed to parse seed file %s", path)
	}
	return products, nil
}
