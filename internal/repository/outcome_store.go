package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"CatalystPull/internal/domain/models"
)

// GormOutcomeStore implements OutcomeStore on gorm.
type GormOutcomeStore struct {
	db *gorm.DB
}

func NewGormOutcomeStore(db *gorm.DB) *GormOutcomeStore {
	return &GormOutcomeStore{db: db}
}

func (s *GormOutcomeStore) Record(ctx context.Context, o *models.Outcome) error {
	if err := s.db.WithContext(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func (s *GormOutcomeStore) ForCatalysts(ctx context.Context, ids []string) (map[string][]models.Outcome, error) {
	out := make(map[string][]models.Outcome, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Outcome
	if err := s.db.WithContext(ctx).Where("catalyst_id IN ?", ids).Order("days_after ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("outcomes: %w", err)
	}
	for _, r := range rows {
		out[r.CatalystID] = append(out[r.CatalystID], r)
	}
	return out, nil
}
