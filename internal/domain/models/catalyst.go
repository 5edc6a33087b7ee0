package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// CatalystType classifies a catalyst.
type CatalystType string

const (
	TypeRegulatory   CatalystType = "regulatory"
	TypeEarnings     CatalystType = "earnings"
	TypeFiling       CatalystType = "filing"
	TypeRateDecision CatalystType = "rate-decision"
	TypeMacro        CatalystType = "macro"
)

// CatalystTypes lists every known type in a stable order.
var CatalystTypes = []CatalystType{TypeRegulatory, TypeEarnings, TypeFiling, TypeRateDecision, TypeMacro}

// ParseCatalystType accepts the canonical names and the legacy aliases fda, sec and fed_rates.
func ParseCatalystType(s string) (CatalystType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "regulatory", "fda":
		return TypeRegulatory, nil
	case "earnings":
		return TypeEarnings, nil
	case "filing", "sec":
		return TypeFiling, nil
	case "rate-decision", "fed_rates", "rate_decision":
		return TypeRateDecision, nil
	case "macro":
		return TypeMacro, nil
	}
	return "", fmt.Errorf("%w: unknown catalyst type %q", ErrInvalidCatalyst, s)
}

// Catalyst is the canonical, ticker-and-date scoped market event.
// (Ticker, EventDate) is the natural key; ID is a surrogate.
type Catalyst struct {
	ID              string                         `gorm:"primaryKey;size:36" json:"id"`
	Type            CatalystType                   `gorm:"size:32;not null;index:idx_catalyst_type_ticker,priority:1" json:"type"`
	Ticker          string                         `gorm:"size:16;not null;uniqueIndex:uniq_catalyst_key,priority:1;index:idx_catalyst_type_ticker,priority:2" json:"ticker"`
	Title           string                         `gorm:"type:text;not null" json:"title"`
	Description     string                         `gorm:"type:text" json:"description"`
	EventDate       time.Time                      `gorm:"not null;uniqueIndex:uniq_catalyst_key,priority:2;index" json:"event_date"`
	ImpactScore     float64                        `json:"impact_score"`
	ConfidenceScore float64                        `json:"confidence_score"`
	Metadata        datatypes.JSONType[Metadata]   `json:"metadata"`
	Embedding       *datatypes.JSONType[[]float64] `json:"embedding,omitempty"`
	CreatedAt       time.Time                      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time                      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Catalyst) TableName() string { return "catalysts" }

// Meta returns the decoded metadata.
func (c *Catalyst) Meta() Metadata { return c.Metadata.Data() }

// SetMeta replaces the metadata.
func (c *Catalyst) SetMeta(m Metadata) { c.Metadata = datatypes.NewJSONType(m) }

// Vector returns the stored embedding or nil when not yet computed.
func (c *Catalyst) Vector() []float64 {
	if c.Embedding == nil {
		return nil
	}
	return c.Embedding.Data()
}

// SetVector stores an embedding.
func (c *Catalyst) SetVector(v []float64) {
	j := datatypes.NewJSONType(v)
	c.Embedding = &j
}

// EmbeddingText is the text an embedding is computed from.
func (c *Catalyst) EmbeddingText() string {
	return strings.Join([]string{string(c.Type), c.Ticker, c.Title, c.Description}, " ")
}

// Metadata is a tagged union: the block matching the catalyst type carries the
// source-specific fields, common fields sit at the top level and Extra holds
// anything without a typed home.
type Metadata struct {
	Regulatory *RegulatoryDetails `json:"regulatory,omitempty"`
	Filing     *FilingDetails     `json:"filing,omitempty"`
	Earnings   *EarningsDetails   `json:"earnings,omitempty"`

	Source             string           `json:"source,omitempty"`
	MarketCap          *float64         `json:"market_cap,omitempty"`
	Sector             string           `json:"sector,omitempty"`
	Relationship       string           `json:"relationship,omitempty"`
	RelatedTo          string           `json:"related_to,omitempty"`
	RiskFactors        []string         `json:"risk_factors,omitempty"`
	PredictedImpact    *PredictedImpact `json:"predicted_impact,omitempty"`
	SimilarEventsCount int              `json:"similar_events_count,omitempty"`
	ProcessedAt        *time.Time       `json:"processed_at,omitempty"`
	SourceData         json.RawMessage  `json:"source_data,omitempty"`
	Extra              map[string]any   `json:"extra,omitempty"`
}

type RegulatoryDetails struct {
	Drug         string `json:"drug"`
	DrugClass    string `json:"drug_class,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Serious      bool   `json:"serious"`
	Indication   string `json:"indication,omitempty"`
	ReportID     string `json:"report_id,omitempty"`
}

type FilingDetails struct {
	FormType    string    `json:"form_type"`
	AccessionNo string    `json:"accession_no,omitempty"`
	CIK         string    `json:"cik,omitempty"`
	CompanyName string    `json:"company_name,omitempty"`
	FilingURL   string    `json:"filing_url,omitempty"`
	ViewerURL   string    `json:"viewer_url,omitempty"`
	FiledAt     time.Time `json:"filed_at"`
	Items       []string  `json:"items,omitempty"`
}

type EarningsDetails struct {
	FiscalPeriod string `json:"fiscal_period,omitempty"`
	FiscalYear   string `json:"fiscal_year,omitempty"`
	CompanyName  string `json:"company_name,omitempty"`
}

// PredictedImpact summarizes outcomes of earlier catalysts of the same type and ticker.
type PredictedImpact struct {
	ExpectedChange float64 `json:"expected_change"`
	Confidence     float64 `json:"confidence"`
	TimeframeDays  float64 `json:"timeframe_days"`
	SampleSize     int     `json:"sample_size"`
}

// DateRange is an inclusive [From, To] window. A zero range asks a source for
// its most recent records regardless of date.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r DateRange) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

func (r DateRange) String() string {
	if r.IsZero() {
		return "most-recent"
	}
	return r.From.Format("2006-01-02") + ".." + r.To.Format("2006-01-02")
}

// LastDays returns the window ending at now and reaching back n days.
func LastDays(now time.Time, n int) DateRange {
	return DateRange{From: now.AddDate(0, 0, -n), To: now}
}

// NextDays returns the window starting at now and reaching n days ahead.
func NextDays(now time.Time, n int) DateRange {
	return DateRange{From: now, To: now.AddDate(0, 0, n)}
}

// RawEvent is one upstream record before resolution and normalization.
type RawEvent struct {
	Source     string
	Type       CatalystType
	ExternalID string
	Ticker     string // set when the source reports a ticker directly
	EntityName string // set when the ticker must be resolved (e.g. drug name)
	Title      string
	Summary    string
	EventDate  time.Time
	ImpactHint *float64 // source-specific impact replacing the type base rate
	HintSized  bool     // ImpactHint is already tiered by market cap
	Metadata   Metadata
}

// Draft is a normalized catalyst ready for scoring and upsert.
type Draft struct {
	Catalyst
	// Damping scales the scored impact; 1 for the primary ticker, 0.6 for related ones.
	Damping    float64
	ImpactHint *float64
	HintSized  bool
}

// NormalizeEventDate puts an event date in the form the natural key is compared in.
func NormalizeEventDate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
