package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	"CatalystPull/pkg/cache"
	"CatalystPull/pkg/config"
	"CatalystPull/pkg/database"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(
		database.WithPath(filepath.Join(t.TempDir(), "catalysts.db")),
		database.WithAutoMigrate(Models()...),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func newCatalyst(ticker string, typ models.CatalystType, at time.Time) *models.Catalyst {
	return &models.Catalyst{
		Type:            typ,
		Ticker:          ticker,
		Title:           ticker + " event",
		EventDate:       at,
		ImpactScore:     0.5,
		ConfidenceScore: 0.5,
	}
}

func TestInsertIfAbsentFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewGormCatalystStore(openTestDB(t))
	at := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)

	first := newCatalyst("MRK", models.TypeRegulatory, at)
	ok, err := store.InsertIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)

	second := newCatalyst("MRK", models.TypeRegulatory, at.In(time.FixedZone("EST", -5*3600)))
	second.Title = "different title"
	ok, err = store.InsertIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := store.GetByKey(ctx, "MRK", at)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "MRK event", got.Title)
}

func TestInsertIfAbsentConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := NewGormCatalystStore(openTestDB(t))
	at := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.InsertIfAbsent(ctx, newCatalyst("PFE", models.TypeFiling, at))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestGetMissingCatalyst(t *testing.T) {
	store := NewGormCatalystStore(openTestDB(t))
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrCatalystNotFound)
}

func TestPriorAndCandidates(t *testing.T) {
	ctx := context.Background()
	store := NewGormCatalystStore(openTestDB(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		_, err := store.InsertIfAbsent(ctx, newCatalyst("AAPL", models.TypeEarnings, base.AddDate(0, 0, i)))
		require.NoError(t, err)
	}
	_, err := store.InsertIfAbsent(ctx, newCatalyst("MSFT", models.TypeEarnings, base))
	require.NoError(t, err)
	_, err = store.InsertIfAbsent(ctx, newCatalyst("AAPL", models.TypeFiling, base))
	require.NoError(t, err)

	n, err := store.CountPrior(ctx, models.TypeEarnings, "AAPL", base.AddDate(0, 0, 3), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.CountPrior(ctx, models.TypeEarnings, "AAPL", base.AddDate(0, 0, 3), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	prior, err := store.Prior(ctx, models.TypeEarnings, "AAPL", base.AddDate(0, 0, 3), 10)
	require.NoError(t, err)
	require.Len(t, prior, 3)
	assert.True(t, prior[0].EventDate.After(prior[1].EventDate))

	cands, err := store.SimilarCandidates(ctx, models.TypeEarnings, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "MSFT", cands[0].Ticker)
}

func TestEmbeddingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewGormCatalystStore(openTestDB(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	a := newCatalyst("A", models.TypeMacro, base)
	b := newCatalyst("B", models.TypeMacro, base)
	for _, c := range []*models.Catalyst{a, b} {
		_, err := store.InsertIfAbsent(ctx, c)
		require.NoError(t, err)
	}

	missing, err := store.MissingEmbeddings(ctx, 10, nil)
	require.NoError(t, err)
	assert.Len(t, missing, 2)
	assert.Nil(t, missing[0].Vector())

	require.NoError(t, store.SetEmbedding(ctx, a.ID, []float64{0.6, 0.8}))

	missing, err = store.MissingEmbeddings(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, b.ID, missing[0].ID)

	missing, err = store.MissingEmbeddings(ctx, 10, []string{b.ID})
	require.NoError(t, err)
	assert.Empty(t, missing)

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.6, 0.8}, got.Vector())
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := NewGormCatalystStore(openTestDB(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	st, err := store.Stats(ctx, models.TypeRegulatory)
	require.NoError(t, err)
	assert.Zero(t, st.Count)
	assert.Nil(t, st.NewestEvent)

	for _, d := range []int{0, 10, 5} {
		_, err := store.InsertIfAbsent(ctx, newCatalyst("MRK", models.TypeRegulatory, base.AddDate(0, 0, d)))
		require.NoError(t, err)
	}
	st, err = store.Stats(ctx, models.TypeRegulatory)
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.Count)
	require.NotNil(t, st.OldestEvent)
	require.NotNil(t, st.NewestEvent)
	require.NotNil(t, st.LatestCreated)
	assert.True(t, st.OldestEvent.Equal(base))
	assert.True(t, st.NewestEvent.Equal(base.AddDate(0, 0, 10)))
}

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewGormCatalystStore(openTestDB(t))
	c := newCatalyst("NVO", models.TypeRegulatory, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	mc := 4.5e11
	c.SetMeta(models.Metadata{
		Source:     "regulatory",
		MarketCap:  &mc,
		Regulatory: &models.RegulatoryDetails{Drug: "OZEMPIC", Serious: true},
		Extra:      map[string]any{"k": "v"},
	})
	_, err := store.InsertIfAbsent(ctx, c)
	require.NoError(t, err)

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	meta := got.Meta()
	require.NotNil(t, meta.Regulatory)
	assert.Equal(t, "OZEMPIC", meta.Regulatory.Drug)
	assert.Equal(t, mc, *meta.MarketCap)
	assert.Equal(t, "v", meta.Extra["k"])
}

func TestOutcomes(t *testing.T) {
	ctx := context.Background()
	store := NewGormOutcomeStore(openTestDB(t))
	require.NoError(t, store.Record(ctx, &models.Outcome{CatalystID: "a", DaysAfter: 1, PercentageChange: 2}))
	require.NoError(t, store.Record(ctx, &models.Outcome{CatalystID: "a", DaysAfter: 5, PercentageChange: 4}))
	require.NoError(t, store.Record(ctx, &models.Outcome{CatalystID: "b", DaysAfter: 1, PercentageChange: -1}))

	got, err := store.ForCatalysts(ctx, []string{"a", "c"})
	require.NoError(t, err)
	assert.Len(t, got["a"], 2)
	assert.Empty(t, got["c"])
	assert.NotContains(t, got, "b")
}

func TestPredictionLogIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := NewGormPredictionStore(openTestDB(t))
	t0 := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	latest, err := store.Latest(ctx, "cat-1")
	require.NoError(t, err)
	assert.Nil(t, latest)

	e1 := models.NewPredictionCacheEntry("", "cat-1", models.Prediction{ImpactPrediction: 0.5, RiskFactors: []string{"a"}}, t0)
	e2 := models.NewPredictionCacheEntry("", "cat-1", models.Prediction{ImpactPrediction: 0.7}, t0.Add(time.Hour))
	require.NoError(t, store.Append(ctx, &e1))
	require.NoError(t, store.Append(ctx, &e2))

	latest, err = store.Latest(ctx, "cat-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, e2.ID, latest.ID)
	assert.Equal(t, 0.7, latest.ImpactPrediction)

	var n int64
	require.NoError(t, store.db.Model(&models.PredictionCacheEntry{}).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

type countingPredictionStore struct {
	domrepo.PredictionStore
	latestCalls int
}

func (c *countingPredictionStore) Latest(ctx context.Context, id string) (*models.PredictionCacheEntry, error) {
	c.latestCalls++
	return c.PredictionStore.Latest(ctx, id)
}

type recordingSink struct{ got []models.PredictionCacheEntry }

func (r *recordingSink) Write(_ context.Context, e models.PredictionCacheEntry) error {
	r.got = append(r.got, e)
	return nil
}

func TestCachedPredictionStore(t *testing.T) {
	ctx := context.Background()
	inner := &countingPredictionStore{PredictionStore: NewGormPredictionStore(openTestDB(t))}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	sink := &recordingSink{}
	store := NewCachedPredictionStore(inner, mc, time.Hour,
		WithPredictionClock(func() time.Time { return now }),
		WithPredictionSink(sink),
	)

	e := models.NewPredictionCacheEntry("", "cat-9", models.Prediction{ImpactPrediction: 0.42, RiskFactors: []string{"x"}}, now)
	require.NoError(t, store.Append(ctx, &e))
	require.Len(t, sink.got, 1)

	got, err := store.Latest(ctx, "cat-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, 0, inner.latestCalls)

	// past the window the cached copy is ignored and the log is consulted
	now = now.Add(2 * time.Hour)
	got, err = store.Latest(ctx, "cat-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, inner.latestCalls)
	assert.False(t, got.Fresh(now, time.Hour))
}

func TestEntityResolution(t *testing.T) {
	ctx := context.Background()
	store := NewGormEntityStore(openTestDB(t))
	err := store.Seed(ctx,
		[]config.EntityMappingSeed{{
			RawName:        "Keytruda",
			Aliases:        []string{"pembrolizumab"},
			PrimaryTicker:  "mrk",
			RelatedTickers: []string{"BMY", "AZN", "MRK"},
		}},
		[]config.StockProfileSeed{{Ticker: "MRK", Sector: "Healthcare", MarketCap: 2.5e11}},
	)
	require.NoError(t, err)

	m, err := store.Resolve(ctx, "  keytruda ")
	require.NoError(t, err)
	assert.Equal(t, "MRK", m.PrimaryTicker)
	assert.Equal(t, []string{"BMY", "AZN"}, m.Related())

	m, err = store.Resolve(ctx, "Pembrolizumab")
	require.NoError(t, err)
	assert.Equal(t, "MRK", m.PrimaryTicker)

	_, err = store.Resolve(ctx, "unknown drug")
	assert.ErrorIs(t, err, models.ErrEntityUnresolved)

	p, err := store.Get(ctx, "MRK")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Healthcare", p.Sector)
	assert.Nil(t, p.DebtToEquity)

	mc := 3e11
	require.NoError(t, store.Upsert(ctx, &models.StockProfile{Ticker: "MRK", Sector: "Pharma", MarketCap: &mc}))
	p, err = store.Get(ctx, "MRK")
	require.NoError(t, err)
	assert.Equal(t, "Pharma", p.Sector)

	p, err = store.Get(ctx, "ZZZ")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCredentialStores(t *testing.T) {
	ctx := context.Background()
	static, err := NewStaticCredentialStore([]config.CredentialConfig{
		{Service: "fda", APIKey: "k1", RateLimit: 240, RateWindow: time.Minute},
		{Service: "sec_api", APIKey: ""},
		{Service: "polygon", APIKey: "k2", ExpiresAt: "2025-12-01"},
	})
	require.NoError(t, err)

	c, err := static.Lookup(ctx, "fda")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 250*time.Millisecond, c.MinInterval())

	c, err = static.Lookup(ctx, "sec_api")
	require.NoError(t, err)
	assert.Nil(t, c)

	db := NewGormCredentialStore(openTestDB(t))
	require.NoError(t, db.Put(ctx, &models.Credential{ServiceName: "openai", APIKey: "k3"}))
	require.NoError(t, db.Put(ctx, &models.Credential{ServiceName: "fda", APIKey: "db-key"}))

	chain := NewChainCredentialStore(static, db)
	c, err = chain.Lookup(ctx, "fda")
	require.NoError(t, err)
	assert.Equal(t, "k1", c.APIKey)
	c, err = chain.Lookup(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "k3", c.APIKey)

	all, err := chain.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = NewStaticCredentialStore([]config.CredentialConfig{{Service: "x", APIKey: "k", ExpiresAt: "soon"}})
	assert.Error(t, err)
}
