package models

import (
	"time"

	"gorm.io/datatypes"
)

// EntityMapping maps a raw upstream identifier (drug name, brand) to tickers.
// Many raw names may map to one ticker.
type EntityMapping struct {
	ID             uint                         `gorm:"primaryKey" json:"-"`
	RawName        string                       `gorm:"size:128;not null;uniqueIndex" json:"raw_name"`
	Aliases        datatypes.JSONType[[]string] `json:"aliases"`
	PrimaryTicker  string                       `gorm:"size:16;not null;index" json:"primary_ticker"`
	RelatedTickers datatypes.JSONType[[]string] `json:"related_tickers"`
	Category       string                       `gorm:"size:128" json:"category"`
	Issuer         string                       `gorm:"size:128" json:"issuer"`
	UpdatedAt      time.Time                    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (EntityMapping) TableName() string { return "entity_mappings" }

// Related returns the related tickers, never including the primary one.
func (m *EntityMapping) Related() []string {
	out := make([]string, 0, len(m.RelatedTickers.Data()))
	for _, t := range m.RelatedTickers.Data() {
		if t != "" && t != m.PrimaryTicker {
			out = append(out, t)
		}
	}
	return out
}

// StockProfile is reference data about a listed company.
type StockProfile struct {
	Ticker          string    `gorm:"primaryKey;size:16" json:"ticker"`
	Name            string    `gorm:"size:256" json:"name"`
	Sector          string    `gorm:"size:64;index" json:"sector"`
	MarketCap       *float64  `json:"market_cap,omitempty"`
	DebtToEquity    *float64  `json:"debt_to_equity,omitempty"`
	PreMarketVolume *float64  `json:"pre_market_volume,omitempty"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (StockProfile) TableName() string { return "stock_profiles" }

// Outcome is an observed price movement after a catalyst.
type Outcome struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	CatalystID       string    `gorm:"size:36;not null;index" json:"catalyst_id"`
	DaysAfter        int       `json:"days_after"`
	PercentageChange float64   `json:"percentage_change"`
	RecordedAt       time.Time `gorm:"autoCreateTime" json:"recorded_at"`
}

func (Outcome) TableName() string { return "catalyst_outcomes" }

// Candle is an OHLCV bar used for realized volatility.
type Candle struct {
	Bucket time.Time
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}
