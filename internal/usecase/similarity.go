package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	"CatalystPull/internal/service/embedding"
	applogger "CatalystPull/pkg/logger"
	pkgmetrics "CatalystPull/pkg/metrics"
	"CatalystPull/pkg/util"

	"github.com/cespare/xxhash/v2"
)

// Reference describes what similar events are looked up for.
type Reference struct {
	ID     string
	Type   models.CatalystType
	Ticker string
	Sector string
	Vector []float64
}

// ReferenceOf builds a Reference from a stored catalyst.
func ReferenceOf(c *models.Catalyst, sector string) Reference {
	if sector == "" {
		sector = c.Meta().Sector
	}
	return Reference{ID: c.ID, Type: c.Type, Ticker: c.Ticker, Sector: sector, Vector: c.Vector()}
}

// SimilarityRetriever finds historical catalysts comparable to a reference.
type SimilarityRetriever struct {
	store          domrepo.CatalystStore
	outcomes       domrepo.OutcomeStore
	candidateLimit int
	topK           int
	metrics        domrepo.Metrics
	logger         *applogger.Logger
}

func NewSimilarityRetriever(store domrepo.CatalystStore, outcomes domrepo.OutcomeStore, candidateLimit, topK int, metrics domrepo.Metrics, l *applogger.Logger) *SimilarityRetriever {
	if candidateLimit <= 0 {
		candidateLimit = 50
	}
	if topK <= 0 {
		topK = 3
	}
	if l == nil {
		l = applogger.Nop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &SimilarityRetriever{store: store, outcomes: outcomes, candidateLimit: candidateLimit, topK: topK, metrics: metrics, logger: l}
}

// Similar returns the top K catalysts of the same type for other tickers,
// best first. When the reference has an embedding, embedded candidates are
// ranked by cosine similarity and candidates still awaiting backfill only pad
// the list after them, ranked by the type/sector proxy. With no candidates
// the fixed fallback set is returned, each entry flagged Fallback.
func (s *SimilarityRetriever) Similar(ctx context.Context, ref Reference) ([]models.SimilarEvent, error) {
	cands, err := s.store.SimilarCandidates(ctx, ref.Type, ref.Ticker, s.candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("load similar candidates: %w", err)
	}
	if len(cands) == 0 {
		s.logger.Info("no historical candidates, using fallback set",
			applogger.String("type", string(ref.Type)),
			applogger.String("ticker", ref.Ticker),
		)
		s.metrics.RecordError("similarity_fallback")
		return FallbackSimilar(ref.Type), nil
	}

	type scored struct {
		c      models.Catalyst
		score  float64
		vector bool
	}
	ranked := make([]scored, 0, len(cands))
	for _, c := range cands {
		score, vector := similarity(ref, &c)
		ranked = append(ranked, scored{c: c, score: score, vector: vector})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].vector != ranked[j].vector {
			return ranked[i].vector
		}
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > s.topK {
		ranked = ranked[:s.topK]
	}

	moves := map[string][]models.Outcome{}
	if s.outcomes != nil {
		ids := make([]string, 0, len(ranked))
		for _, r := range ranked {
			ids = append(ids, r.c.ID)
		}
		if moves, err = s.outcomes.ForCatalysts(ctx, ids); err != nil {
			return nil, fmt.Errorf("load outcomes: %w", err)
		}
	}

	out := make([]models.SimilarEvent, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, models.SimilarEvent{
			CatalystID:      r.c.ID,
			Ticker:          r.c.Ticker,
			EventDate:       r.c.EventDate.UTC().Format(time.DateOnly),
			ActualMovement:  averageMove(moves[r.c.ID]),
			SimilarityScore: util.Round2(r.score),
		})
	}
	return out, nil
}

// Similarity scores one candidate against ref. Cosine and proxy scores are
// on different scales and are not comparable with each other.
func Similarity(ref Reference, c *models.Catalyst) float64 {
	score, _ := similarity(ref, c)
	return score
}

// similarity reports whether the cosine path was taken alongside the score.
func similarity(ref Reference, c *models.Catalyst) (float64, bool) {
	if v := c.Vector(); len(ref.Vector) > 0 && len(v) == len(ref.Vector) {
		return util.Clamp(embedding.Cosine(ref.Vector, v), -1, 1), true
	}
	return proxyScore(ref, c), false
}

func proxyScore(ref Reference, c *models.Catalyst) float64 {
	score := 0.0
	if ref.Type == c.Type {
		score += 0.5
	}
	if sector := c.Meta().Sector; ref.Sector != "" && sector == ref.Sector {
		score += 0.3
	}
	score += tieBreak(ref.ID, c.ID)
	return min(score, 1)
}

// tieBreak is a stable value in [0, 0.2) derived from the pair of ids.
func tieBreak(refID, candID string) float64 {
	h := xxhash.Sum64String(refID + "|" + candID)
	return float64(h%10000) / 10000 * 0.2
}

func averageMove(outs []models.Outcome) float64 {
	if len(outs) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range outs {
		sum += o.PercentageChange
	}
	return util.Round2(sum / float64(len(outs)))
}

// FallbackSimilar is the fixed precedent set used when the store has no
// comparable history.
func FallbackSimilar(t models.CatalystType) []models.SimilarEvent {
	first, second := "MRNA", "PFE"
	if t == models.TypeEarnings {
		first, second = "AAPL", "GOOGL"
	}
	return []models.SimilarEvent{
		{Ticker: first, EventDate: "2024-01-25", ActualMovement: 5.2, SimilarityScore: 0.82, Fallback: true},
		{Ticker: second, EventDate: "2024-01-18", ActualMovement: -2.8, SimilarityScore: 0.75, Fallback: true},
	}
}
