package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"CatalystPull/internal/domain/models"
	"CatalystPull/pkg/config"
)

// GormEntityStore resolves raw upstream names and serves stock profiles.
type GormEntityStore struct {
	db *gorm.DB
}

func NewGormEntityStore(db *gorm.DB) *GormEntityStore {
	return &GormEntityStore{db: db}
}

func normalizeName(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// Resolve matches rawName against raw names first, then aliases.
func (s *GormEntityStore) Resolve(ctx context.Context, rawName string) (*models.EntityMapping, error) {
	name := normalizeName(rawName)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", models.ErrEntityUnresolved)
	}

	var m models.EntityMapping
	err := s.db.WithContext(ctx).Where("raw_name = ?", name).First(&m).Error
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("resolve %q: %w", rawName, err)
	}

	// aliases are a JSON array; narrow with LIKE and confirm exactly
	var candidates []models.EntityMapping
	if err := s.db.WithContext(ctx).Where("aliases LIKE ?", `%"`+name+`"%`).Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("resolve alias %q: %w", rawName, err)
	}
	for i := range candidates {
		for _, a := range candidates[i].Aliases.Data() {
			if normalizeName(a) == name {
				return &candidates[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", models.ErrEntityUnresolved, rawName)
}

// UpsertMapping writes or replaces the mapping for m.RawName.
func (s *GormEntityStore) UpsertMapping(ctx context.Context, m *models.EntityMapping) error {
	m.RawName = normalizeName(m.RawName)
	aliases := make([]string, 0, len(m.Aliases.Data()))
	for _, a := range m.Aliases.Data() {
		aliases = append(aliases, normalizeName(a))
	}
	m.Aliases = datatypes.NewJSONType(aliases)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "raw_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"aliases", "primary_ticker", "related_tickers", "category", "issuer", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("upsert mapping %s: %w", m.RawName, err)
	}
	return nil
}

// Get returns the profile for ticker, or nil when none is stored.
func (s *GormEntityStore) Get(ctx context.Context, ticker string) (*models.StockProfile, error) {
	var rows []models.StockProfile
	if err := s.db.WithContext(ctx).Where("ticker = ?", ticker).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get profile %s: %w", ticker, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Upsert overwrites reference data for p.Ticker.
func (s *GormEntityStore) Upsert(ctx context.Context, p *models.StockProfile) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		UpdateAll: true,
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.Ticker, err)
	}
	return nil
}

// Seed loads configured entity mappings and stock profiles.
func (s *GormEntityStore) Seed(ctx context.Context, mappings []config.EntityMappingSeed, profiles []config.StockProfileSeed) error {
	for _, ms := range mappings {
		m := &models.EntityMapping{
			RawName:        ms.RawName,
			Aliases:        datatypes.NewJSONType(ms.Aliases),
			PrimaryTicker:  strings.ToUpper(ms.PrimaryTicker),
			RelatedTickers: datatypes.NewJSONType(upperAll(ms.RelatedTickers)),
			Category:       ms.Category,
			Issuer:         ms.Issuer,
		}
		if err := s.UpsertMapping(ctx, m); err != nil {
			return err
		}
	}
	for _, ps := range profiles {
		p := &models.StockProfile{
			Ticker:          strings.ToUpper(ps.Ticker),
			Name:            ps.Name,
			Sector:          ps.Sector,
			MarketCap:       positive(ps.MarketCap),
			DebtToEquity:    positive(ps.DebtToEquity),
			PreMarketVolume: positive(ps.PreMarketVolume),
		}
		if err := s.Upsert(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func upperAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToUpper(s))
	}
	return out
}

func positive(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}
