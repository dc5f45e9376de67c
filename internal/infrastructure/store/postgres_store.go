package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS entities (
	collection TEXT NOT NULL,
	entity_key TEXT NOT NULL,
	data JSONB NOT NULL,
	version BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (collection, entity_key)
)`

// ConnectPostgres opens a PostgreSQL connection pool
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// PostgresStore keeps every collection in a single JSONB table keyed by (collection, entity_key).
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// EnsureSchema creates the entities table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return errors.Wrap(err, "failed to create entities table")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, key string) (*Record, error) {
	rec := &Record{Collection: collection, Key: key}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data, version, updated_at FROM entities WHERE collection = $1 AND entity_key = $2`,
		collection, key,
	).Scan(&data, &rec.Version, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(collection, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s/%s", collection, key)
	}
	rec.Data = data
	return rec, nil
}

func (s *PostgresStore) Scan(ctx context.Context, collection string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_key, data, version, updated_at FROM entities WHERE collection = $1 ORDER BY entity_key`,
		collection,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan %s", collection)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		rec := &Record{Collection: collection}
		var data []byte
		if err := rows.Scan(&rec.Key, &data, &rec.Version, &rec.UpdatedAt); err != nil {
			return nil, errors.Wrapf(err, "failed to read %s row", collection)
		}
		rec.Data = data
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Insert(ctx context.Context, collection, key string, data any) (*Record, error) {
	payload, err := encode(data)
	if err != nil {
		return nil, err
	}

	rec := &Record{Collection: collection, Key: key, Data: payload, Version: 1, UpdatedAt: s.now().UTC()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (collection, entity_key, data, version, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		collection, key, string(payload), rec.Version, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.Mark(alreadyExists(collection, key), err)
		}
		return nil, errors.Wrapf(err, "failed to insert %s/%s", collection, key)
	}
	return rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, collection, key string, data any) (*Record, error) {
	payload, err := encode(data)
	if err != nil {
		return nil, err
	}

	rec := &Record{Collection: collection, Key: key, Data: payload}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO entities (collection, entity_key, data, version, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (collection, entity_key) DO UPDATE SET
			data = EXCLUDED.data,
			version = entities.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING version, updated_at`,
		collection, key, string(payload), s.now().UTC(),
	).Scan(&rec.Version, &rec.UpdatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to put %s/%s", collection, key)
	}
	return rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, key string, data any, expectedVersion int64) (*Record, error) {
	payload, err := encode(data)
	if err != nil {
		return nil, err
	}

	rec := &Record{Collection: collection, Key: key, Data: payload}
	err = s.db.QueryRowContext(ctx, `
		UPDATE entities SET data = $3, version = version + 1, updated_at = $5
		WHERE collection = $1 AND entity_key = $2 AND version = $4
		RETURNING version, updated_at`,
		collection, key, string(payload), expectedVersion, s.now().UTC(),
	).Scan(&rec.Version, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing row from a stale token.
		if _, getErr := s.Get(ctx, collection, key); getErr != nil {
			return nil, getErr
		}
		return nil, versionConflict(collection, key, expectedVersion)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update %s/%s", collection, key)
	}
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE collection = $1 AND entity_key = $2`,
		collection, key,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to delete %s/%s", collection, key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return notFound(collection, key)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
