package models

import (
	"time"

	"gorm.io/datatypes"
)

// FeatureVector is the ephemeral input of the predictor. Nil pointers are features
// no provider could supply.
type FeatureVector struct {
	CatalystType         CatalystType `json:"catalyst_type" validate:"required"`
	Ticker               string       `json:"ticker" validate:"required,ticker"`
	MarketCap            *float64     `json:"market_cap,omitempty"`
	Sector               *string      `json:"sector,omitempty"`
	HistoricalVolatility *float64     `json:"historical_volatility_30d,omitempty"`
	SentimentDelta24h    *float64     `json:"sentiment_delta_24h,omitempty"`
	DebtToEquity         *float64     `json:"debt_to_equity,omitempty"`
	SectorMomentum       *float64     `json:"sector_momentum,omitempty"`
	MacroRateEnvironment *float64     `json:"macro_rate_environment,omitempty"`
	DaysUntilEvent       int          `json:"days_until_event"`
	PreMarketVolume      *float64     `json:"pre_market_volume,omitempty"`
	OptionFlowSentiment  *float64     `json:"option_flow_sentiment,omitempty"`
}

// SectorName returns the sector or "" when unknown.
func (f *FeatureVector) SectorName() string {
	if f.Sector == nil {
		return ""
	}
	return *f.Sector
}

type PriceRange struct {
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
}

// SimilarEvent is a historical catalyst comparable to the one being predicted.
type SimilarEvent struct {
	CatalystID      string  `json:"-"`
	Ticker          string  `json:"ticker"`
	EventDate       string  `json:"event_date"`
	ActualMovement  float64 `json:"actual_movement"`
	SimilarityScore float64 `json:"similarity_score"`
	Fallback        bool    `json:"fallback,omitempty"`
}

// Prediction is the predictor output.
type Prediction struct {
	CatalystID              string         `json:"catalyst_id,omitempty"`
	ImpactPrediction        float64        `json:"impact_prediction"`
	ConfidenceScore         float64        `json:"confidence_score"`
	PriceMovementRange      PriceRange     `json:"price_movement_range"`
	RiskFactors             []string       `json:"risk_factors"`
	SimilarHistoricalEvents []SimilarEvent `json:"similar_historical_events"`
}

// PredictionCacheEntry is one row of the append-only prediction log. Rows are
// never updated; the newest row per catalyst decides freshness.
type PredictionCacheEntry struct {
	ID               string                             `gorm:"primaryKey;size:36" json:"id"`
	CatalystID       string                             `gorm:"size:36;not null;index:idx_prediction_latest,priority:1" json:"catalyst_id"`
	ImpactPrediction float64                            `json:"impact_prediction"`
	ConfidenceScore  float64                            `json:"confidence_score"`
	PriceRangeLower  float64                            `json:"price_range_lower"`
	PriceRangeUpper  float64                            `json:"price_range_upper"`
	RiskFactors      datatypes.JSONType[[]string]       `json:"risk_factors"`
	SimilarEvents    datatypes.JSONType[[]SimilarEvent] `json:"similar_events"`
	CreatedAt        time.Time                          `gorm:"not null;index:idx_prediction_latest,priority:2" json:"created_at"`
}

func (PredictionCacheEntry) TableName() string { return "ml_predictions" }

// Fresh reports whether the entry is younger than ttl at now.
func (e *PredictionCacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CreatedAt) < ttl
}

// NewPredictionCacheEntry captures p for catalystID.
func NewPredictionCacheEntry(id, catalystID string, p Prediction, at time.Time) PredictionCacheEntry {
	return PredictionCacheEntry{
		ID:               id,
		CatalystID:       catalystID,
		ImpactPrediction: p.ImpactPrediction,
		ConfidenceScore:  p.ConfidenceScore,
		PriceRangeLower:  p.PriceMovementRange.LowerBound,
		PriceRangeUpper:  p.PriceMovementRange.UpperBound,
		RiskFactors:      datatypes.NewJSONType(p.RiskFactors),
		SimilarEvents:    datatypes.NewJSONType(p.SimilarHistoricalEvents),
		CreatedAt:        at,
	}
}

// Prediction rebuilds the response stored in the entry.
func (e *PredictionCacheEntry) Prediction() Prediction {
	risks := e.RiskFactors.Data()
	if risks == nil {
		risks = []string{}
	}
	similar := e.SimilarEvents.Data()
	if similar == nil {
		similar = []SimilarEvent{}
	}
	return Prediction{
		CatalystID:              e.CatalystID,
		ImpactPrediction:        e.ImpactPrediction,
		ConfidenceScore:         e.ConfidenceScore,
		PriceMovementRange:      PriceRange{LowerBound: e.PriceRangeLower, UpperBound: e.PriceRangeUpper},
		RiskFactors:             risks,
		SimilarHistoricalEvents: similar,
	}
}
