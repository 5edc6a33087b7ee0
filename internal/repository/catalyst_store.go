package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
)

// GormCatalystStore implements CatalystStore on gorm.
type GormCatalystStore struct {
	db *gorm.DB
}

func NewGormCatalystStore(db *gorm.DB) *GormCatalystStore {
	return &GormCatalystStore{db: db}
}

var naturalKey = clause.OnConflict{
	Columns:   []clause.Column{{Name: "ticker"}, {Name: "event_date"}},
	DoNothing: true,
}

// InsertIfAbsent issues a single INSERT ... ON CONFLICT (ticker, event_date) DO NOTHING.
func (s *GormCatalystStore) InsertIfAbsent(ctx context.Context, c *models.Catalyst) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.EventDate = models.NormalizeEventDate(c.EventDate)
	res := s.db.WithContext(ctx).Clauses(naturalKey).Create(c)
	if res.Error != nil {
		return false, fmt.Errorf("insert catalyst %s@%s: %w", c.Ticker, c.EventDate.Format(time.RFC3339), res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormCatalystStore) Get(ctx context.Context, id string) (*models.Catalyst, error) {
	var c models.Catalyst
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrCatalystNotFound, id)
		}
		return nil, fmt.Errorf("get catalyst: %w", err)
	}
	return &c, nil
}

func (s *GormCatalystStore) GetByKey(ctx context.Context, ticker string, eventDate time.Time) (*models.Catalyst, error) {
	var c models.Catalyst
	err := s.db.WithContext(ctx).
		Where("ticker = ? AND event_date = ?", ticker, models.NormalizeEventDate(eventDate)).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s@%s", models.ErrCatalystNotFound, ticker, eventDate.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("get catalyst by key: %w", err)
	}
	return &c, nil
}

func (s *GormCatalystStore) List(ctx context.Context, f domrepo.CatalystFilter) ([]models.Catalyst, error) {
	q := s.db.WithContext(ctx).Model(&models.Catalyst{})
	if f.Ticker != "" {
		q = q.Where("ticker = ?", f.Ticker)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if !f.Since.IsZero() {
		q = q.Where("event_date >= ?", models.NormalizeEventDate(f.Since))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []models.Catalyst
	if err := q.Order("event_date DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list catalysts: %w", err)
	}
	return out, nil
}

func (s *GormCatalystStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Catalyst{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count catalysts: %w", err)
	}
	return n, nil
}

func (s *GormCatalystStore) prior(ctx context.Context, t models.CatalystType, ticker string, eventDate time.Time) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Catalyst{}).
		Where("type = ? AND ticker = ? AND event_date < ?", t, ticker, models.NormalizeEventDate(eventDate))
}

func (s *GormCatalystStore) CountPrior(ctx context.Context, t models.CatalystType, ticker string, eventDate time.Time, limit int) (int, error) {
	var n int64
	if err := s.prior(ctx, t, ticker, eventDate).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count prior: %w", err)
	}
	if limit > 0 && n > int64(limit) {
		n = int64(limit)
	}
	return int(n), nil
}

func (s *GormCatalystStore) Prior(ctx context.Context, t models.CatalystType, ticker string, eventDate time.Time, limit int) ([]models.Catalyst, error) {
	var out []models.Catalyst
	q := s.prior(ctx, t, ticker, eventDate).Order("event_date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("prior catalysts: %w", err)
	}
	return out, nil
}

func (s *GormCatalystStore) SimilarCandidates(ctx context.Context, t models.CatalystType, excludeTicker string, limit int) ([]models.Catalyst, error) {
	var out []models.Catalyst
	q := s.db.WithContext(ctx).Where("type = ? AND ticker <> ?", t, excludeTicker).Order("event_date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("similar candidates: %w", err)
	}
	return out, nil
}

func (s *GormCatalystStore) MissingEmbeddings(ctx context.Context, limit int, exclude []string) ([]models.Catalyst, error) {
	q := s.db.WithContext(ctx).Where("embedding IS NULL")
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	var out []models.Catalyst
	if err := q.Order("created_at ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("missing embeddings: %w", err)
	}
	return out, nil
}

func (s *GormCatalystStore) SetEmbedding(ctx context.Context, id string, vec []float64) error {
	res := s.db.WithContext(ctx).Model(&models.Catalyst{}).
		Where("id = ?", id).
		Update("embedding", datatypes.NewJSONType(vec))
	if res.Error != nil {
		return fmt.Errorf("set embedding %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrCatalystNotFound, id)
	}
	return nil
}

// Stats uses ordered single-row reads instead of MIN/MAX so the driver keeps
// the datetime column type when scanning.
func (s *GormCatalystStore) Stats(ctx context.Context, t models.CatalystType) (models.SourceStats, error) {
	var st models.SourceStats
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&models.Catalyst{}).Where("type = ?", t)
	}
	if err := base().Count(&st.Count).Error; err != nil {
		return st, fmt.Errorf("stats count: %w", err)
	}
	if st.Count == 0 {
		return st, nil
	}

	edge := func(order string) (*models.Catalyst, error) {
		var rows []models.Catalyst
		if err := base().Select("id", "event_date", "created_at").Order(order).Limit(1).Find(&rows).Error; err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return &rows[0], nil
	}

	oldest, err := edge("event_date ASC")
	if err != nil {
		return st, fmt.Errorf("stats oldest: %w", err)
	}
	newest, err := edge("event_date DESC")
	if err != nil {
		return st, fmt.Errorf("stats newest: %w", err)
	}
	latest, err := edge("created_at DESC")
	if err != nil {
		return st, fmt.Errorf("stats latest: %w", err)
	}
	if oldest != nil {
		st.OldestEvent = &oldest.EventDate
	}
	if newest != nil {
		st.NewestEvent = &newest.EventDate
	}
	if latest != nil {
		st.LatestCreated = &latest.CreatedAt
	}
	return st, nil
}
