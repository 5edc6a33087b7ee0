package features

import (
	"context"
	"math"
	"strings"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	applogger "CatalystPull/pkg/logger"
)

// Providers fill only fields that are still nil, so earlier providers (and
// caller-supplied features) take precedence.

// ProfileProvider fills company data from stored stock profiles, falling back
// to market cap and sector recorded on the catalyst metadata.
type ProfileProvider struct {
	profiles domrepo.ProfileStore
}

func NewProfileProvider(profiles domrepo.ProfileStore) *ProfileProvider {
	return &ProfileProvider{profiles: profiles}
}

func (p *ProfileProvider) Name() string { return "profile" }

func (p *ProfileProvider) Provide(ctx context.Context, c *models.Catalyst, fv *models.FeatureVector) error {
	prof, err := p.profiles.Get(ctx, fv.Ticker)
	if err != nil {
		return err
	}
	if prof != nil {
		fillFloat(&fv.MarketCap, prof.MarketCap)
		fillFloat(&fv.DebtToEquity, prof.DebtToEquity)
		fillFloat(&fv.PreMarketVolume, prof.PreMarketVolume)
		if fv.Sector == nil && prof.Sector != "" {
			s := prof.Sector
			fv.Sector = &s
		}
	}
	if c != nil {
		meta := c.Meta()
		fillFloat(&fv.MarketCap, meta.MarketCap)
		if fv.Sector == nil && meta.Sector != "" {
			s := meta.Sector
			fv.Sector = &s
		}
	}
	return nil
}

var (
	volatileTickers = map[string]bool{"TSLA": true, "NVDA": true, "AMD": true, "MRNA": true, "GME": true}
	stableTickers   = map[string]bool{"JNJ": true, "PG": true, "KO": true, "WMT": true, "JPM": true}
)

// StaticVolatility is the tiered stand-in used when no candles are available.
func StaticVolatility(ticker string) float64 {
	switch {
	case volatileTickers[ticker]:
		return 0.425
	case stableTickers[ticker]:
		return 0.2
	default:
		return 0.25
	}
}

// VolatilityProvider computes 30-bar realized volatility from stored candles and
// falls back to StaticVolatility when the store is missing, fails or is short.
type VolatilityProvider struct {
	candles     domrepo.CandleStore
	lookback    int
	barsPerYear float64
	logger      *applogger.Logger
}

// NewVolatilityProvider accepts a nil store, in which case only the static tiers are used.
func NewVolatilityProvider(candles domrepo.CandleStore, lookback int, barsPerYear float64, l *applogger.Logger) *VolatilityProvider {
	if lookback < 2 {
		lookback = 31
	}
	if barsPerYear <= 0 {
		barsPerYear = AnnualBars("1d")
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &VolatilityProvider{candles: candles, lookback: lookback, barsPerYear: barsPerYear, logger: l}
}

func (p *VolatilityProvider) Name() string { return "volatility" }

func (p *VolatilityProvider) Provide(ctx context.Context, _ *models.Catalyst, fv *models.FeatureVector) error {
	if fv.HistoricalVolatility != nil {
		return nil
	}
	v := StaticVolatility(fv.Ticker)
	if p.candles != nil {
		bars, err := p.candles.LatestCandles(ctx, fv.Ticker, p.lookback)
		switch {
		case err != nil:
			p.logger.Warn("volatility candles unavailable, using static tier",
				applogger.String("ticker", fv.Ticker),
				applogger.Error(err),
			)
		case len(bars) >= p.lookback:
			if rv, ok := realizedVolatility(bars, p.barsPerYear); ok && rv > 0 {
				v = rv
			}
		}
	}
	fv.HistoricalVolatility = &v
	return nil
}

var annualBars = map[string]float64{
	"1m": 252 * 390,
	"1h": 252 * 7,
	"1d": 252,
}

// AnnualBars is the number of trading bars in a year for a candle timeframe.
// Unknown timeframes count as daily.
func AnnualBars(timeframe string) float64 {
	if n, ok := annualBars[timeframe]; ok {
		return n
	}
	return annualBars["1d"]
}

// realizedVolatility is the annualized sample standard deviation of close to
// close log returns. Pairs with a non-positive close are skipped. ok is false
// with fewer than two usable returns.
func realizedVolatility(bars []models.Candle, barsPerYear float64) (float64, bool) {
	var n int
	var mean, m2 float64
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Close, bars[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		r := math.Log(cur / prev)
		n++
		d := r - mean
		mean += d / float64(n)
		m2 += d * (r - mean)
	}
	if n < 2 {
		return 0, false
	}
	return math.Sqrt(m2 / float64(n-1) * barsPerYear), true
}

var (
	hotSectors  = []string{"Technology", "AI", "Biotechnology", "Clean Energy"}
	coldSectors = []string{"Real Estate", "Utilities", "Consumer Staples"}
)

// SectorMomentum maps a sector to a fixed momentum value.
func SectorMomentum(sector string) float64 {
	for _, s := range hotSectors {
		if strings.Contains(sector, s) {
			return 0.35
		}
	}
	for _, s := range coldSectors {
		if strings.Contains(sector, s) {
			return 0
		}
	}
	return 0
}

type SectorMomentumProvider struct{}

func (SectorMomentumProvider) Name() string { return "sector_momentum" }

func (SectorMomentumProvider) Provide(_ context.Context, _ *models.Catalyst, fv *models.FeatureVector) error {
	if fv.SectorMomentum != nil || fv.Sector == nil {
		return nil
	}
	m := SectorMomentum(*fv.Sector)
	fv.SectorMomentum = &m
	return nil
}

// MacroProvider supplies a configured rate-environment constant.
type MacroProvider struct {
	Rate float64
}

func (MacroProvider) Name() string { return "macro" }

func (p MacroProvider) Provide(_ context.Context, _ *models.Catalyst, fv *models.FeatureVector) error {
	if fv.MacroRateEnvironment == nil {
		r := p.Rate
		fv.MacroRateEnvironment = &r
	}
	return nil
}

// StaticProvider sets sentiment and option flow to fixed values. There is no
// production feed for either; it exists for tests and manual overrides.
type StaticProvider struct {
	Sentiment  *float64
	OptionFlow *float64
}

func (StaticProvider) Name() string { return "static" }

func (p StaticProvider) Provide(_ context.Context, _ *models.Catalyst, fv *models.FeatureVector) error {
	fillFloat(&fv.SentimentDelta24h, p.Sentiment)
	fillFloat(&fv.OptionFlowSentiment, p.OptionFlow)
	return nil
}

func fillFloat(dst **float64, src *float64) {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
	}
}
