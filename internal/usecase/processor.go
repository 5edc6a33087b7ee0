package usecase

import (
	"context"
	"fmt"
	"strings"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	applogger "CatalystPull/pkg/logger"
	"CatalystPull/pkg/util"
)

// ProcessResult is the outcome of a direct submission.
type ProcessResult struct {
	Catalyst *models.Catalyst
	// Created is false when the natural key already existed; Catalyst is then the stored row.
	Created              bool
	PredictedImpact      *models.PredictedImpact
	HistoricalDataPoints int
}

// Processor handles catalysts submitted directly. It follows the same
// first-write-wins policy as batch ingestion and never rewrites a stored row.
type Processor struct {
	store    domrepo.CatalystStore
	upserter *Upserter
	logger   *applogger.Logger
}

func NewProcessor(store domrepo.CatalystStore, upserter *Upserter, l *applogger.Logger) *Processor {
	if l == nil {
		l = applogger.Nop()
	}
	return &Processor{store: store, upserter: upserter, logger: l}
}

// Draft validates in and builds the draft it describes.
func (p *Processor) Draft(in models.CatalystInput) (models.Draft, error) {
	t, err := models.ParseCatalystType(in.Type)
	if err != nil {
		return models.Draft{}, err
	}
	ticker := strings.ToUpper(strings.TrimSpace(in.Ticker))
	if ticker == "" {
		return models.Draft{}, fmt.Errorf("%w: ticker is required", models.ErrInvalidCatalyst)
	}
	at, ok := util.ParseTime(in.EventDate)
	if !ok {
		return models.Draft{}, fmt.Errorf("%w: invalid event_date %q", models.ErrInvalidCatalyst, in.EventDate)
	}

	desc := CleanText(in.Description)
	if desc == "" {
		desc = DefaultDescription(t, ticker, models.Metadata{})
	}
	d := models.Draft{Damping: 1}
	d.Type = t
	d.Ticker = ticker
	d.Title = CleanText(in.Title)
	d.Description = desc
	d.EventDate = models.NormalizeEventDate(at)
	d.SetMeta(models.Metadata{Source: "api", SourceData: in.SourceData})
	return d, nil
}

// Process scores and stores a submitted catalyst.
func (p *Processor) Process(ctx context.Context, in models.CatalystInput) (*ProcessResult, error) {
	d, err := p.Draft(in)
	if err != nil {
		return nil, err
	}

	c, sc, err := p.upserter.Prepare(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("score catalyst: %w", err)
	}
	created, err := p.upserter.Insert(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("store catalyst: %w", err)
	}

	res := &ProcessResult{
		Catalyst:             c,
		Created:              created,
		PredictedImpact:      sc.Predicted,
		HistoricalDataPoints: sc.PriorSample,
	}
	if !created {
		existing, err := p.store.GetByKey(ctx, c.Ticker, c.EventDate)
		if err != nil {
			return nil, fmt.Errorf("load existing catalyst: %w", err)
		}
		res.Catalyst = existing
		res.PredictedImpact = existing.Meta().PredictedImpact
		p.logger.Info("catalyst already stored",
			applogger.String("ticker", c.Ticker),
			applogger.Time("event_date", c.EventDate),
			applogger.String("catalyst_id", existing.ID),
		)
		return res, nil
	}

	p.logger.Info("catalyst processed",
		applogger.String("catalyst_id", c.ID),
		applogger.String("type", string(c.Type)),
		applogger.String("ticker", c.Ticker),
		applogger.Float64("impact", c.ImpactScore),
		applogger.Float64("confidence", c.ConfidenceScore),
	)
	return res, nil
}
