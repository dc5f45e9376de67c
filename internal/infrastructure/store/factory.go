package store

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/example/order-pipeline/internal/config"
)

// Open builds the EntityStore selected by STORE_BACKEND. The returned close
// function releases the underlying connection and is never nil.
func Open(ctx context.Context, cfg config.StoreConfig) (EntityStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), noop, nil
	case "postgres":
		db, err := ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		s := NewPostgresStore(db)
		if err := s.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, noop, err
		}
		return s, db.Close, nil
	case "dynamodb":
		client, err := NewDynamoClient(ctx, cfg.DynamoEndpoint)
		if err != nil {
			return nil, noop, err
		}
		return NewDynamoStore(client, cfg.DynamoTable), noop, nil
	case "sqlite":
		s, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	}
	return nil, noop, errors.Newf("unknown store backend %q", cfg.Backend)
}
