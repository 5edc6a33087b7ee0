package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"CatalystPull/internal/domain/models"
)

// PredictionLogDDL creates the analytics mirror of ml_predictions.
func PredictionLogDDL(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    ts DateTime64(3, 'UTC'),
    prediction_id String,
    catalyst_id String,
    impact_prediction Float64,
    confidence_score Float64,
    price_range_lower Float64,
    price_range_upper Float64,
    risk_factors Array(String),
    similar_events UInt16
) ENGINE = MergeTree
ORDER BY (catalyst_id, ts)`, table),
	}
}

// CHPredictionLog mirrors prediction cache entries to ClickHouse.
type CHPredictionLog struct {
	db    *sql.DB
	table string
}

func NewCHPredictionLog(db *sql.DB, table string) *CHPredictionLog {
	return &CHPredictionLog{db: db, table: table}
}

func (s *CHPredictionLog) Write(ctx context.Context, e models.PredictionCacheEntry) error {
	return s.WriteBatch(ctx, []models.PredictionCacheEntry{e})
}

// WriteBatch inserts entries using a multi-row VALUES list per chunk.
func (s *CHPredictionLog) WriteBatch(ctx context.Context, entries []models.PredictionCacheEntry) error {
	const chunkSize = 2000
	for start := 0; start < len(entries); start += chunkSize {
		end := start + chunkSize
		if end > len(entries) {
			end = len(entries)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*9)
		for _, e := range entries[start:end] {
			if e.CatalystID == "" {
				continue
			}
			risks := e.RiskFactors.Data()
			if risks == nil {
				risks = []string{}
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				e.CreatedAt.UTC(),
				e.ID,
				e.CatalystID,
				e.ImpactPrediction,
				e.ConfidenceScore,
				e.PriceRangeLower,
				e.PriceRangeUpper,
				risks,
				uint16(len(e.SimilarEvents.Data())),
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (ts, prediction_id, catalyst_id, impact_prediction, confidence_score, price_range_lower, price_range_upper, risk_factors, similar_events) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("clickhouse prediction log: %w", err)
		}
	}
	return nil
}

func (s *CHPredictionLog) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
