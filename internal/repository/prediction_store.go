package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"CatalystPull/internal/domain/models"
)

// GormPredictionStore is the append-only ml_predictions log.
type GormPredictionStore struct {
	db *gorm.DB
}

func NewGormPredictionStore(db *gorm.DB) *GormPredictionStore {
	return &GormPredictionStore{db: db}
}

// Append inserts a new row. Existing rows are never touched.
func (s *GormPredictionStore) Append(ctx context.Context, e *models.PredictionCacheEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("append prediction: %w", err)
	}
	return nil
}

func (s *GormPredictionStore) Latest(ctx context.Context, catalystID string) (*models.PredictionCacheEntry, error) {
	var rows []models.PredictionCacheEntry
	err := s.db.WithContext(ctx).
		Where("catalyst_id = ?", catalystID).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("latest prediction: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
