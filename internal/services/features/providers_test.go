package features

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalystPull/internal/domain/models"
)

type fakeProfiles map[string]*models.StockProfile

func (f fakeProfiles) Get(_ context.Context, t string) (*models.StockProfile, error) { return f[t], nil }
func (f fakeProfiles) Upsert(_ context.Context, p *models.StockProfile) error {
	f[p.Ticker] = p
	return nil
}

type fakeCandles struct {
	bars []models.Candle
	err  error
}

func (f fakeCandles) LatestCandles(context.Context, string, int) ([]models.Candle, error) {
	return f.bars, f.err
}

func ptr(v float64) *float64 { return &v }

func TestRealizedVolatility(t *testing.T) {
	// returns ln(1.1) and ln(0.9)
	bars := []models.Candle{{Close: 100}, {Close: 110}, {Close: 99}}
	a, b := math.Log(1.1), math.Log(0.9)
	mean := (a + b) / 2
	want := math.Sqrt(((a-mean)*(a-mean) + (b-mean)*(b-mean)) * 252)

	got, ok := realizedVolatility(bars, 252)
	require.True(t, ok)
	assert.InDelta(t, want, got, 1e-12)

	// a zero close drops both returns touching it
	_, ok = realizedVolatility([]models.Candle{{Close: 100}, {Close: 0}, {Close: 101}}, 252)
	assert.False(t, ok)

	flat, ok := realizedVolatility([]models.Candle{{Close: 100}, {Close: 100}, {Close: 100}}, 252)
	require.True(t, ok)
	assert.Zero(t, flat)

	assert.Equal(t, 252.0*390, AnnualBars("1m"))
	assert.Equal(t, 252.0, AnnualBars("5m"))
}

func TestProfileProviderPrefersProfileThenMetadata(t *testing.T) {
	p := NewProfileProvider(fakeProfiles{"MRK": {Ticker: "MRK", Sector: "Healthcare", MarketCap: ptr(2.5e11)}})
	c := &models.Catalyst{Ticker: "MRK"}
	c.SetMeta(models.Metadata{MarketCap: ptr(1e9), Sector: "Pharma"})

	fv := &models.FeatureVector{Ticker: "MRK"}
	require.NoError(t, p.Provide(context.Background(), c, fv))
	assert.Equal(t, 2.5e11, *fv.MarketCap)
	assert.Equal(t, "Healthcare", fv.SectorName())

	fv = &models.FeatureVector{Ticker: "ZZZ"}
	require.NoError(t, p.Provide(context.Background(), c, fv))
	assert.Equal(t, 1e9, *fv.MarketCap)
	assert.Equal(t, "Pharma", fv.SectorName())
}

func TestVolatilityProviderFallsBack(t *testing.T) {
	ctx := context.Background()

	fv := &models.FeatureVector{Ticker: "TSLA"}
	require.NoError(t, NewVolatilityProvider(nil, 0, 0, nil).Provide(ctx, nil, fv))
	assert.Equal(t, 0.425, *fv.HistoricalVolatility)

	fv = &models.FeatureVector{Ticker: "KO"}
	failing := fakeCandles{err: errors.New("down")}
	require.NoError(t, NewVolatilityProvider(failing, 5, 252, nil).Provide(ctx, nil, fv))
	assert.Equal(t, 0.2, *fv.HistoricalVolatility)

	bars := make([]models.Candle, 5)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = models.Candle{Bucket: start.AddDate(0, 0, i), Close: 100 + float64(i%2)*5}
	}
	fv = &models.FeatureVector{Ticker: "ABC"}
	require.NoError(t, NewVolatilityProvider(fakeCandles{bars: bars}, 5, 252, nil).Provide(ctx, nil, fv))
	assert.Greater(t, *fv.HistoricalVolatility, 0.25)
}

func TestSectorAndMacroProviders(t *testing.T) {
	ctx := context.Background()
	sector := "Information Technology"
	fv := &models.FeatureVector{Ticker: "AAPL", Sector: &sector}
	require.NoError(t, SectorMomentumProvider{}.Provide(ctx, nil, fv))
	require.NoError(t, MacroProvider{Rate: 0.1}.Provide(ctx, nil, fv))
	assert.Equal(t, 0.35, *fv.SectorMomentum)
	assert.Equal(t, 0.1, *fv.MacroRateEnvironment)

	fv = &models.FeatureVector{Ticker: "X"}
	require.NoError(t, SectorMomentumProvider{}.Provide(ctx, nil, fv))
	assert.Nil(t, fv.SectorMomentum)
}
