package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalystPull/internal/domain/models"
	"CatalystPull/internal/service/embedding"
)

func TestSimilarFallsBackWithoutHistory(t *testing.T) {
	s := openStores(t)
	r := NewSimilarityRetriever(s.catalyst, s.outcomes, 0, 0, nil, nil)

	got, err := r.Similar(context.Background(), Reference{Type: models.TypeEarnings, Ticker: "AAPL"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, ev := range got {
		assert.True(t, ev.Fallback)
	}
	assert.Equal(t, "AAPL", got[0].Ticker)

	reg := FallbackSimilar(models.TypeRegulatory)
	assert.Equal(t, "MRNA", reg[0].Ticker)
}

func TestSimilarProxyRanking(t *testing.T) {
	ctx := context.Background()
	s := openStores(t)
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	tech := seedCatalyst(t, s, models.TypeEarnings, "MSFT", at)
	meta := tech.Meta()
	meta.Sector = "Technology"
	tech.SetMeta(meta)
	require.NoError(t, s.db.Save(tech).Error)
	require.NoError(t, s.outcomes.Record(ctx, &models.Outcome{CatalystID: tech.ID, DaysAfter: 1, PercentageChange: 4}))
	require.NoError(t, s.outcomes.Record(ctx, &models.Outcome{CatalystID: tech.ID, DaysAfter: 5, PercentageChange: 1}))

	seedCatalyst(t, s, models.TypeEarnings, "XOM", at)
	seedCatalyst(t, s, models.TypeEarnings, "AAPL", at) // same ticker, excluded
	seedCatalyst(t, s, models.TypeFiling, "GOOGL", at)  // other type, excluded

	r := NewSimilarityRetriever(s.catalyst, s.outcomes, 10, 3, nil, nil)
	got, err := r.Similar(ctx, Reference{ID: "ref", Type: models.TypeEarnings, Ticker: "AAPL", Sector: "Technology"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "MSFT", got[0].Ticker)
	assert.Equal(t, "2025-02-01", got[0].EventDate)
	assert.InDelta(t, 2.5, got[0].ActualMovement, 1e-9)
	assert.GreaterOrEqual(t, got[0].SimilarityScore, 0.8)
	assert.False(t, got[0].Fallback)

	assert.Equal(t, "XOM", got[1].Ticker)
	assert.LessOrEqual(t, got[1].SimilarityScore, 0.7)
}

func TestSimilarityPrefersEmbeddings(t *testing.T) {
	v := embedding.Deterministic("earnings AAPL quarterly results")
	c := &models.Catalyst{ID: "c1", Type: models.TypeFiling}
	c.SetVector(v)

	score := Similarity(Reference{ID: "r", Type: models.TypeEarnings, Vector: v}, c)
	assert.InDelta(t, 1, score, 1e-6)

	// mismatched dimensions use the proxy
	proxy := Similarity(Reference{ID: "r", Type: models.TypeFiling, Vector: []float64{1, 0}}, c)
	assert.GreaterOrEqual(t, proxy, 0.5)
	assert.Less(t, proxy, 0.7)

	assert.Equal(t, proxy, Similarity(Reference{ID: "r", Type: models.TypeFiling, Vector: []float64{1, 0}}, c), "tie break is stable")
}

func TestSimilarRanksEmbeddedBeforeUnembedded(t *testing.T) {
	ctx := context.Background()
	s := openStores(t)
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	embed := func(ticker, text string) {
		c := seedCatalyst(t, s, models.TypeRegulatory, ticker, at)
		c.SetVector(embedding.Deterministic(text))
		require.NoError(t, s.db.Save(c).Error)
	}
	embed("PFE", "regulatory adverse event vaccine PFE")
	embed("JNJ", "quarterly dividend announcement retail")
	for _, ticker := range []string{"XOM", "KO", "WMT"} {
		seedCatalyst(t, s, models.TypeRegulatory, ticker, at) // awaiting backfill
	}

	r := NewSimilarityRetriever(s.catalyst, s.outcomes, 10, 3, nil, nil)
	got, err := r.Similar(ctx, Reference{
		ID:     "ref",
		Type:   models.TypeRegulatory,
		Ticker: "MRNA",
		Vector: embedding.Deterministic("regulatory adverse event vaccine MRNA"),
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "PFE", got[0].Ticker)
	assert.Equal(t, "JNJ", got[1].Ticker)
	assert.Greater(t, got[0].SimilarityScore, got[1].SimilarityScore)
	assert.Contains(t, []string{"XOM", "KO", "WMT"}, got[2].Ticker)
}
