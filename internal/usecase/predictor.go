package usecase

import (
	"context"
	"fmt"
	"time"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	"CatalystPull/internal/domain/service"
	applogger "CatalystPull/pkg/logger"
	pkgmetrics "CatalystPull/pkg/metrics"
	"CatalystPull/pkg/util"

	"github.com/google/uuid"
)

const (
	baseConfidence    = 0.70
	defaultVolatility = 0.2
	minConfidence     = 0.3
	maxConfidence     = 0.95

	RiskSmallCapMove      = "Small cap - higher volatility risk"
	RiskHighVolatility    = "High historical volatility"
	RiskFarOut            = "Event >30 days out - lower prediction accuracy"
	RiskPositiveSentiment = "Positive sentiment momentum"
)

var typeWeights = map[models.CatalystType]float64{
	models.TypeRateDecision: 0.95,
	models.TypeEarnings:     0.80,
	models.TypeRegulatory:   0.75,
	models.TypeFiling:       0.40,
}

// Predictor serves feature-based predictions, reusing the latest logged
// prediction of a catalyst while it is fresh. Concurrent requests for the same
// catalyst may both compute and append; the newest entry wins.
type Predictor struct {
	store       domrepo.CatalystStore
	predictions domrepo.PredictionStore
	providers   []service.FeatureProvider
	similar     *SimilarityRetriever
	ttl         time.Duration
	metrics     domrepo.Metrics
	logger      *applogger.Logger
	now         func() time.Time
}

// PredictorOption configures Predictor.
type PredictorOption func(*Predictor)

func WithPredictorClock(now func() time.Time) PredictorOption {
	return func(p *Predictor) { p.now = now }
}

func WithFeatureProviders(providers ...service.FeatureProvider) PredictorOption {
	return func(p *Predictor) { p.providers = append(p.providers, providers...) }
}

func WithPredictorMetrics(m domrepo.Metrics) PredictorOption {
	return func(p *Predictor) { p.metrics = m }
}

func WithPredictorLogger(l *applogger.Logger) PredictorOption {
	return func(p *Predictor) { p.logger = l }
}

func NewPredictor(store domrepo.CatalystStore, predictions domrepo.PredictionStore, similar *SimilarityRetriever, ttl time.Duration, opts ...PredictorOption) *Predictor {
	if ttl <= 0 {
		ttl = time.Hour
	}
	p := &Predictor{
		store:       store,
		predictions: predictions,
		similar:     similar,
		ttl:         ttl,
		metrics:     pkgmetrics.Nop{},
		logger:      applogger.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict answers a request by catalyst id or by explicit features. The bool
// reports a cache hit.
func (p *Predictor) Predict(ctx context.Context, req models.PredictRequest) (*models.Prediction, bool, error) {
	switch {
	case req.CatalystID != "":
		return p.PredictCatalyst(ctx, req.CatalystID)
	case req.Features != nil:
		pred, err := p.PredictFeatures(ctx, *req.Features)
		return pred, false, err
	}
	return nil, false, models.ErrMissingPredictInput
}

// PredictCatalyst returns the fresh cached prediction for id or computes,
// logs and returns a new one.
func (p *Predictor) PredictCatalyst(ctx context.Context, id string) (*models.Prediction, bool, error) {
	start := time.Now()
	defer func() { p.metrics.RecordLatency("predict", time.Since(start).Seconds()) }()

	now := p.now()
	latest, err := p.predictions.Latest(ctx, id)
	if err != nil {
		p.logger.Warn("prediction cache read failed", applogger.String("catalyst_id", id), applogger.Error(err))
	} else if latest != nil && latest.Fresh(now, p.ttl) {
		p.metrics.RecordPrediction("hit")
		pred := latest.Prediction()
		return &pred, true, nil
	}

	c, err := p.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	fv, err := p.Extract(ctx, c, now)
	if err != nil {
		return nil, false, fmt.Errorf("extract features: %w", err)
	}
	pred := Evaluate(fv)
	pred.CatalystID = id
	if pred.SimilarHistoricalEvents, err = p.similar.Similar(ctx, ReferenceOf(c, fv.SectorName())); err != nil {
		return nil, false, err
	}

	entry := models.NewPredictionCacheEntry(uuid.NewString(), id, pred, now.UTC())
	if err := p.predictions.Append(ctx, &entry); err != nil {
		p.metrics.RecordError("prediction_log")
		p.logger.Error("prediction append failed", applogger.String("catalyst_id", id), applogger.Error(err))
	}
	p.metrics.RecordPrediction("miss")

	out := entry.Prediction()
	return &out, false, nil
}

// PredictFeatures scores caller-supplied features. Nothing is cached.
func (p *Predictor) PredictFeatures(ctx context.Context, fv models.FeatureVector) (*models.Prediction, error) {
	pred := Evaluate(fv)
	similar, err := p.similar.Similar(ctx, Reference{Type: fv.CatalystType, Ticker: fv.Ticker, Sector: fv.SectorName()})
	if err != nil {
		return nil, err
	}
	pred.SimilarHistoricalEvents = similar
	p.metrics.RecordPrediction("features")
	return &pred, nil
}

// Extract derives the feature vector of c at now. Providers fill features in order.
func (p *Predictor) Extract(ctx context.Context, c *models.Catalyst, now time.Time) (models.FeatureVector, error) {
	fv := models.FeatureVector{
		CatalystType:   c.Type,
		Ticker:         c.Ticker,
		DaysUntilEvent: util.CeilDays(c.EventDate.Sub(now)),
	}
	for _, prov := range p.providers {
		if err := prov.Provide(ctx, c, &fv); err != nil {
			return fv, fmt.Errorf("%s: %w", prov.Name(), err)
		}
	}
	return fv, nil
}

// Evaluate applies the weighted rule table to fv.
func Evaluate(fv models.FeatureVector) models.Prediction {
	impact, ok := typeWeights[fv.CatalystType]
	if !ok {
		impact = 0.5
	}
	conf := baseConfidence
	risks := []string{}

	if fv.MarketCap != nil {
		switch mc := *fv.MarketCap; {
		case mc > megaCap:
			impact *= 1.2
			conf += 0.1
		case mc < smallCap:
			impact *= 0.8
			conf -= 0.1
			risks = append(risks, RiskSmallCapMove)
		}
	}
	if fv.HistoricalVolatility != nil && *fv.HistoricalVolatility > 0.4 {
		impact *= 1.1
		risks = append(risks, RiskHighVolatility)
	}
	switch {
	case fv.DaysUntilEvent <= 3:
		conf += 0.15
	case fv.DaysUntilEvent > 30:
		conf -= 0.2
		risks = append(risks, RiskFarOut)
	}
	if fv.SentimentDelta24h != nil && *fv.SentimentDelta24h > 0.2 {
		impact *= 1.05
		risks = append(risks, RiskPositiveSentiment)
	}
	if fv.OptionFlowSentiment != nil && *fv.OptionFlowSentiment > 0.7 {
		impact *= 1.1
		conf += 0.05
	}

	impact = util.Clamp(impact, 0, 1)
	conf = util.Clamp(conf, minConfidence, maxConfidence)

	vol := defaultVolatility
	if fv.HistoricalVolatility != nil && *fv.HistoricalVolatility > 0 {
		vol = *fv.HistoricalVolatility
	}
	move := impact * 10
	return models.Prediction{
		ImpactPrediction: util.Round2(impact),
		ConfidenceScore:  util.Round2(conf),
		PriceMovementRange: models.PriceRange{
			LowerBound: util.Round2(-(move * vol * 1.5)),
			UpperBound: util.Round2(move * (1 + vol)),
		},
		RiskFactors:             risks,
		SimilarHistoricalEvents: []models.SimilarEvent{},
	}
}
