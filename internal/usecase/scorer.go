package usecase

import (
	"context"
	"fmt"
	"math"
	"slices"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	"CatalystPull/pkg/util"
)

// BaseRate is the starting impact and confidence of a catalyst type.
type BaseRate struct {
	Impact     float64
	Confidence float64
}

var baseRates = map[models.CatalystType]BaseRate{
	models.TypeRateDecision: {0.95, 0.70},
	models.TypeRegulatory:   {0.70, 0.60},
	models.TypeMacro:        {0.60, 0.50},
	models.TypeEarnings:     {0.50, 0.70},
	models.TypeFiling:       {0.40, 0.90},
}

// BaseRateFor returns the rate table entry, 0.5/0.5 for unknown types.
func BaseRateFor(t models.CatalystType) BaseRate {
	if r, ok := baseRates[t]; ok {
		return r
	}
	return BaseRate{0.5, 0.5}
}

const (
	megaCap  = 500e9
	smallCap = 10e9

	// prior catalysts looked at for the history bump and the similar events count
	priorCountLimit = 20
	// prior catalysts whose outcomes feed the predicted impact
	priorOutcomeLimit = 10

	RiskSmallCap = "Small-cap stock: higher volatility and lower liquidity"
)

// Score is the scorer output for one catalyst.
type Score struct {
	Impact      float64
	Confidence  float64
	RiskFactors []string
	PriorCount  int
	// PriorSample is the number of earlier catalysts whose outcomes were read.
	PriorSample int
	Predicted   *models.PredictedImpact
}

// ScoreHint is a source-supplied impact replacing the type base rate.
// CapSized hints were tiered by market cap at the source, so the market cap
// impact multipliers are not applied to them again. The small-cap confidence
// penalty and risk factor still are.
type ScoreHint struct {
	Impact   *float64
	CapSized bool
}

// ScoreInput is everything the rule table looks at.
type ScoreInput struct {
	Type       models.CatalystType
	ImpactHint *float64
	HintSized  bool
	MarketCap  *float64
	PriorCount int
}

// Rate applies the rule table: type base rate (or hint), market cap
// multipliers, history confidence bumps, then clamp to [0,1] and round.
func Rate(in ScoreInput) Score {
	base := BaseRateFor(in.Type)
	impact, conf := base.Impact, base.Confidence
	scale := true
	if in.ImpactHint != nil {
		impact = *in.ImpactHint
		scale = !in.HintSized
	}

	var risks []string
	if in.MarketCap != nil {
		switch mc := *in.MarketCap; {
		case mc > megaCap:
			if scale {
				impact *= 1.2
			}
		case mc < smallCap:
			if scale {
				impact *= 0.8
			}
			conf -= 0.1
			risks = append(risks, RiskSmallCap)
		}
	}

	switch {
	case in.PriorCount > 10:
		conf = math.Min(0.95, conf+0.2)
	case in.PriorCount > 5:
		conf = math.Min(0.90, conf+0.1)
	}

	return Score{
		Impact:      util.Round2(util.Clamp(impact, 0, 1)),
		Confidence:  util.Round2(util.Clamp(conf, 0, 1)),
		RiskFactors: risks,
		PriorCount:  in.PriorCount,
	}
}

// Scorer computes scores for new catalysts from the rule table and the
// catalyst history of the same type and ticker.
type Scorer struct {
	store    domrepo.CatalystStore
	outcomes domrepo.OutcomeStore
	profiles domrepo.ProfileStore
}

// NewScorer accepts nil outcome and profile stores.
func NewScorer(store domrepo.CatalystStore, outcomes domrepo.OutcomeStore, profiles domrepo.ProfileStore) *Scorer {
	return &Scorer{store: store, outcomes: outcomes, profiles: profiles}
}

// Score rates c. Market cap comes from the metadata, else the stock profile.
func (s *Scorer) Score(ctx context.Context, c *models.Catalyst, hint ScoreHint) (Score, error) {
	prior, err := s.store.CountPrior(ctx, c.Type, c.Ticker, c.EventDate, priorCountLimit)
	if err != nil {
		return Score{}, fmt.Errorf("count prior catalysts: %w", err)
	}

	mc := c.Meta().MarketCap
	if mc == nil && s.profiles != nil {
		p, err := s.profiles.Get(ctx, c.Ticker)
		if err != nil {
			return Score{}, fmt.Errorf("load profile %s: %w", c.Ticker, err)
		}
		if p != nil {
			mc = p.MarketCap
		}
	}

	sc := Rate(ScoreInput{Type: c.Type, ImpactHint: hint.Impact, HintSized: hint.CapSized, MarketCap: mc, PriorCount: prior})
	if prior > 0 && s.outcomes != nil {
		sc.PriorSample, sc.Predicted, err = s.historical(ctx, c)
		if err != nil {
			return Score{}, err
		}
	}
	return sc, nil
}

func (s *Scorer) historical(ctx context.Context, c *models.Catalyst) (int, *models.PredictedImpact, error) {
	prior, err := s.store.Prior(ctx, c.Type, c.Ticker, c.EventDate, priorOutcomeLimit)
	if err != nil {
		return 0, nil, fmt.Errorf("load prior catalysts: %w", err)
	}
	ids := make([]string, 0, len(prior))
	for _, p := range prior {
		ids = append(ids, p.ID)
	}
	byID, err := s.outcomes.ForCatalysts(ctx, ids)
	if err != nil {
		return 0, nil, fmt.Errorf("load outcomes: %w", err)
	}
	var outs []models.Outcome
	for _, id := range ids {
		outs = append(outs, byID[id]...)
	}
	return len(prior), PredictFromOutcomes(outs), nil
}

// PredictFromOutcomes averages observed movements. Confidence grows by 0.05
// per outcome from 0.5, capped at 0.9. Nil when there are no outcomes.
func PredictFromOutcomes(outs []models.Outcome) *models.PredictedImpact {
	if len(outs) == 0 {
		return nil
	}
	var change, days float64
	for _, o := range outs {
		change += o.PercentageChange
		days += float64(o.DaysAfter)
	}
	n := float64(len(outs))
	return &models.PredictedImpact{
		ExpectedChange: util.Round2(change / n),
		Confidence:     util.Round2(math.Min(0.9, 0.5+n*0.05)),
		TimeframeDays:  math.Round(days / n),
		SampleSize:     len(outs),
	}
}

// Apply writes the score onto c, merging risk factors into the metadata.
func (sc Score) Apply(c *models.Catalyst) {
	c.ImpactScore = sc.Impact
	c.ConfidenceScore = sc.Confidence
	meta := c.Meta()
	for _, r := range sc.RiskFactors {
		if !slices.Contains(meta.RiskFactors, r) {
			meta.RiskFactors = append(meta.RiskFactors, r)
		}
	}
	meta.SimilarEventsCount = sc.PriorCount
	if sc.Predicted != nil {
		meta.PredictedImpact = sc.Predicted
	}
	c.SetMeta(meta)
}
