package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalystPull/internal/domain/models"
	"CatalystPull/internal/repository"
	"CatalystPull/internal/services/features"
)

func TestEvaluateRateDecisionNearTerm(t *testing.T) {
	p := Evaluate(models.FeatureVector{CatalystType: models.TypeRateDecision, Ticker: "SPY", DaysUntilEvent: 2})
	assert.InDelta(t, 0.95, p.ImpactPrediction, 1e-9)
	assert.InDelta(t, 0.85, p.ConfidenceScore, 1e-9)
	assert.Empty(t, p.RiskFactors)
	assert.NotNil(t, p.SimilarHistoricalEvents)
	assert.InDelta(t, -2.85, p.PriceMovementRange.LowerBound, 1e-9)
	assert.InDelta(t, 11.4, p.PriceMovementRange.UpperBound, 1e-9)
}

func TestEvaluateRiskFactors(t *testing.T) {
	p := Evaluate(models.FeatureVector{
		CatalystType:         models.TypeFiling,
		Ticker:               "TINY",
		MarketCap:            ptr(2e9),
		HistoricalVolatility: ptr(0.6),
		DaysUntilEvent:       45,
		SentimentDelta24h:    ptr(0.3),
	})
	assert.Equal(t, []string{RiskSmallCapMove, RiskHighVolatility, RiskFarOut, RiskPositiveSentiment}, p.RiskFactors)
	assert.InDelta(t, 0.4, p.ConfidenceScore, 1e-9)

	floor := Evaluate(models.FeatureVector{CatalystType: models.TypeFiling, MarketCap: ptr(1e9), DaysUntilEvent: 90})
	assert.GreaterOrEqual(t, floor.ConfidenceScore, 0.3)
}

func newTestPredictor(t *testing.T, s stores, now *time.Time) *Predictor {
	t.Helper()
	similar := NewSimilarityRetriever(s.catalyst, s.outcomes, 10, 3, nil, nil)
	return NewPredictor(s.catalyst, repository.NewGormPredictionStore(s.db), similar, time.Hour,
		WithPredictorClock(func() time.Time { return *now }),
		WithFeatureProviders(
			features.NewProfileProvider(s.entities),
			features.NewVolatilityProvider(nil, 0, 0, nil),
			features.SectorMomentumProvider{},
			features.MacroProvider{Rate: 0.05},
		),
	)
}

func TestPredictCatalystServesCachedEntry(t *testing.T) {
	ctx := context.Background()
	s := openStores(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := seedCatalyst(t, s, models.TypeRateDecision, "SPY", now.Add(36*time.Hour))
	p := newTestPredictor(t, s, &now)

	first, hit, err := p.PredictCatalyst(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, c.ID, first.CatalystID)
	assert.InDelta(t, 0.85, first.ConfidenceScore, 1e-9)

	now = now.Add(30 * time.Minute)
	second, hit, err := p.PredictCatalyst(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, hit)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.Equal(t, string(a), string(b))

	var rows int64
	require.NoError(t, s.db.Model(&models.PredictionCacheEntry{}).Count(&rows).Error)
	assert.EqualValues(t, 1, rows)

	// past the ttl a new entry is appended, the old one stays
	now = now.Add(2 * time.Hour)
	_, hit, err = p.PredictCatalyst(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, s.db.Model(&models.PredictionCacheEntry{}).Count(&rows).Error)
	assert.EqualValues(t, 2, rows)
}

func TestPredictInputs(t *testing.T) {
	ctx := context.Background()
	s := openStores(t)
	now := time.Now()
	p := newTestPredictor(t, s, &now)

	_, _, err := p.Predict(ctx, models.PredictRequest{})
	assert.ErrorIs(t, err, models.ErrMissingPredictInput)

	_, _, err = p.Predict(ctx, models.PredictRequest{CatalystID: "missing"})
	assert.ErrorIs(t, err, models.ErrCatalystNotFound)

	pred, hit, err := p.Predict(ctx, models.PredictRequest{Features: &models.FeatureVector{
		CatalystType:   models.TypeEarnings,
		Ticker:         "AAPL",
		DaysUntilEvent: 10,
	}})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.InDelta(t, 0.8, pred.ImpactPrediction, 1e-9)
	require.Len(t, pred.SimilarHistoricalEvents, 2)
	assert.True(t, pred.SimilarHistoricalEvents[0].Fallback)

	var rows int64
	require.NoError(t, s.db.Model(&models.PredictionCacheEntry{}).Count(&rows).Error)
	assert.Zero(t, rows, "feature requests are not logged")
}
