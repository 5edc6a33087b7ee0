package usecase

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"CatalystPull/internal/domain/models"
	"CatalystPull/internal/domain/service"
	"CatalystPull/internal/repository"
	"CatalystPull/pkg/database"
)

type stores struct {
	db       *gorm.DB
	catalyst *repository.GormCatalystStore
	outcomes *repository.GormOutcomeStore
	entities *repository.GormEntityStore
}

func openStores(t *testing.T) stores {
	t.Helper()
	db, err := database.Open(
		database.WithPath(filepath.Join(t.TempDir(), "usecase.db")),
		database.WithAutoMigrate(repository.Models()...),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return stores{
		db:       db,
		catalyst: repository.NewGormCatalystStore(db),
		outcomes: repository.NewGormOutcomeStore(db),
		entities: repository.NewGormEntityStore(db),
	}
}

func (s stores) upserter(pub *recordingPublisher) *Upserter {
	scorer := NewScorer(s.catalyst, s.outcomes, s.entities)
	if pub == nil {
		return NewUpserter(s.catalyst, scorer, nil, nil, nil)
	}
	return NewUpserter(s.catalyst, scorer, pub, nil, nil)
}

func seedCatalyst(t *testing.T, s stores, typ models.CatalystType, ticker string, at time.Time) *models.Catalyst {
	t.Helper()
	c := &models.Catalyst{
		Type:            typ,
		Ticker:          ticker,
		Title:           ticker + " " + string(typ),
		Description:     "seeded",
		EventDate:       at,
		ImpactScore:     0.5,
		ConfidenceScore: 0.5,
	}
	ok, err := s.catalyst.InsertIfAbsent(context.Background(), c)
	require.NoError(t, err)
	require.True(t, ok)
	return c
}

func ptr[T any](v T) *T { return &v }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev models.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type stubAdapter struct {
	name   string
	events []models.RawEvent
	err    error
	calls  int
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) DefaultWindow(now time.Time) models.DateRange { return models.LastDays(now, 7) }

func (a *stubAdapter) Fetch(_ context.Context, window models.DateRange) (*service.FetchResult, error) {
	a.calls++
	if a.err != nil && len(a.events) == 0 {
		return nil, a.err
	}
	return &service.FetchResult{Events: a.events, Window: window, Fetched: len(a.events)}, a.err
}
