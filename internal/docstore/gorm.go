package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type documentRecord struct {
	Collection string    `gorm:"primaryKey;size:255"`
	DocID      string    `gorm:"column:doc_id;primaryKey;size:255"`
	Data       string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (documentRecord) TableName() string {
	return "documents"
}

func (r documentRecord) toDocument() Document {
	return Document{
		ID:         r.DocID,
		Data:       json.RawMessage(r.Data),
		CreateTime: r.CreatedAt,
		UpdateTime: r.UpdatedAt,
	}
}

// GormStore keeps documents in a single SQL table keyed by collection and id.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("gorm store requires a database")
	}
	if err := db.AutoMigrate(&documentRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate documents table: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

func (s *GormStore) Get(ctx context.Context, collection Path, id string) (*Document, error) {
	if err := validateKey(collection, id); err != nil {
		return nil, err
	}

	var rec documentRecord
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection.String(), id).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc := rec.toDocument()
	return &doc, nil
}

func (s *GormStore) Set(ctx context.Context, collection Path, id string, data json.RawMessage) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	if err := validateData(data); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()

		var existing documentRecord
		err := tx.Where("collection = ? AND doc_id = ?", collection.String(), id).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec := documentRecord{
				Collection: collection.String(),
				DocID:      id,
				Data:       string(data),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("failed to create document: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up document: %w", err)
		}

		if err := s.overwrite(tx, collection, id, data, now).Error; err != nil {
			return fmt.Errorf("failed to overwrite document: %w", err)
		}
		return nil
	})
}

func (s *GormStore) Update(ctx context.Context, collection Path, id string, data json.RawMessage) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}
	if err := validateData(data); err != nil {
		return err
	}

	result := s.overwrite(s.db.WithContext(ctx), collection, id, data, s.now().UTC())
	if result.Error != nil {
		return fmt.Errorf("failed to update document: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) overwrite(tx *gorm.DB, collection Path, id string, data json.RawMessage, now time.Time) *gorm.DB {
	return tx.Model(&documentRecord{}).
		Where("collection = ? AND doc_id = ?", collection.String(), id).
		Updates(map[string]interface{}{
			"data":       string(data),
			"updated_at": now,
		})
}

func (s *GormStore) Delete(ctx context.Context, collection Path, id string) error {
	if err := validateKey(collection, id); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection.String(), id).
		Delete(&documentRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *GormStore) Query(ctx context.Context, collection Path, filters ...Filter) ([]Document, error) {
	if collection == "" {
		return nil, ErrInvalidPath
	}

	var records []documentRecord
	err := s.db.WithContext(ctx).
		Where("collection = ?", collection.String()).
		Order("doc_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	docs := make([]Document, 0, len(records))
	for _, rec := range records {
		ok, err := Match(json.RawMessage(rec.Data), filters)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", rec.DocID, err)
		}
		if ok {
			docs = append(docs, rec.toDocument())
		}
	}
	return docs, nil
}

func (s *GormStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
