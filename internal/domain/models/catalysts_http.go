package models

import "encoding/json"

// Requests for the pipeline HTTP endpoints.

type CatalystInput struct {
	Type        string          `json:"type" validate:"required"`
	Ticker      string          `json:"ticker" validate:"required,ticker"`
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description"`
	EventDate   string          `json:"event_date" validate:"required"`
	SourceData  json.RawMessage `json:"source_data,omitempty"`
}

type ProcessCatalystRequest struct {
	Catalyst CatalystInput `json:"catalyst" validate:"required"`
}

type PredictRequest struct {
	CatalystID string         `json:"catalyst_id"`
	Features   *FeatureVector `json:"features"`
}

type ListCatalystsRequest struct {
	Ticker string `query:"ticker" json:"ticker"`
	Type   string `query:"type" json:"type"`
	Since  string `query:"since" json:"since"`
	Limit  int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type RecordOutcomeRequest struct {
	CatalystID       string  `param:"id" json:"-" validate:"required"`
	DaysAfter        int     `json:"days_after" validate:"gte=0,lte=365"`
	PercentageChange float64 `json:"percentage_change"`
}

type RunSourceRequest struct {
	Source string `param:"source" json:"-" validate:"required,oneof=regulatory filings earnings"`
}
