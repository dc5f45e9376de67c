package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// sqlEntity is the gorm model behind SQLiteStore
type sqlEntity struct {
	Collection string    `gorm:"primaryKey;column:collection"`
	EntityKey  string    `gorm:"primaryKey;column:entity_key"`
	Data       string    `gorm:"column:data;not null"`
	Version    int64     `gorm:"column:version;not null"`
	ModifiedAt time.Time `gorm:"column:updated_at;not null"`
}

func (sqlEntity) TableName() string { return "entities" }

// SQLiteStore is a single-node persistent EntityStore backed by gorm.
type SQLiteStore struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database file and migrates the entities table.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sqlite %s", path)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get sqlite handle")
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&sqlEntity{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate entities table")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, collection, key string) (*Record, error) {
	var e sqlEntity
	err := s.db.WithContext(ctx).
		Where("collection = ? AND entity_key = ?", collection, key).
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(collection, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s/%s", collection, key)
	}
	return e.record(), nil
}

func (s *SQLiteStore) Scan(ctx context.Context, collection string) ([]*Record, error) {
	var entities []sqlEntity
	err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order("entity_key").
		Find(&entities).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan %s", collection)
	}

	records := make([]*Record, 0, len(entities))
	for i := range entities {
		records = append(records, entities[i].record())
	}
	return records, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, collection, key string, data any) (*Record, error) {
	payload, err := encode(data)
	if err != nil {
		return nil, err
	}

	e := sqlEntity{
		Collection: collection,
		EntityKey:  key,
		Data:       string(payload),
		Version:    1,
		ModifiedAt: s.now().UTC(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&e)
	if res.Error != nil {
		return nil, errors.Wrapf(res.Error, "failed to insert %s/%s", collection, key)
	}
	if res.RowsAffected == 0 {
		return nil, alreadyExists(collection, key)
	}
	return e.record(), nil
}

func (s *SQLiteStore) Put(ctx context.Context, collection, key string, data any) (*Record, error) {
	payload, err := encode(data)
	if err != nil {
		return nil, err
	}

	var out sqlEntity
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current sqlEntity
		err := tx.Where("collection = ? AND entity_key = ?", collection, key).Take(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			out = sqlEntity{Collection: collection, EntityKey: key, Data: string(payload), Version: 1, ModifiedAt: s.now().UTC()}
			return tx.Create(&out).Error
		case err != nil:
			return err
		}

		out = current
		out.Data = string(payload)
		out.Version = current.Version + 1
		out.ModifiedAt = s.now().UTC()
		return tx.Model(&sqlEntity{}).
			Where("collection = ? AND entity_key = ?", collection, key).
			Updates(map[string]any{"data": out.Data, "version": out.Version, "updated_at": out.ModifiedAt}).Error
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to put %s/%s", collection, key)
	}
	return out.record(), nil
}

func (s *SQLiteStore) Update(ctx context.Context, collection, key string, data any, expectedVersion int64) (*Record, error) {
	payload, err := encode(data)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&sqlEntity{}).
		Where("collection = ? AND entity_key = ? AND version = ?", collection, key, expectedVersion).
		Updates(map[string]any{"data": string(payload), "version": expectedVersion + 1, "updated_at": now})
	if res.Error != nil {
		return nil, errors.Wrapf(res.Error, "failed to update %s/%s", collection, key)
	}
	if res.RowsAffected == 0 {
		if _, err := s.Get(ctx, collection, key); err != nil {
			return nil, err
		}
		return nil, versionConflict(collection, key, expectedVersion)
	}
	return &Record{Collection: collection, Key: key, Data: payload, Version: expectedVersion + 1, UpdatedAt: now}, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, key string) error {
	res := s.db.WithContext(ctx).
		Where("collection = ? AND entity_key = ?", collection, key).
		Delete(&sqlEntity{})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to delete %s/%s", collection, key)
	}
	if res.RowsAffected == 0 {
		return notFound(collection, key)
	}
	return nil
}

func (e *sqlEntity) record() *Record {
	return &Record{
		Collection: e.Collection,
		Key:        e.EntityKey,
		Data:       []byte(e.Data),
		Version:    e.Version,
		UpdatedAt:  e.ModifiedAt,
	}
}
