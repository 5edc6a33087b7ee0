package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	domrepo "CatalystPull/internal/domain/repository"
	"CatalystPull/internal/domain/service"
	"CatalystPull/pkg/cache"
	applogger "CatalystPull/pkg/logger"
)

const (
	ModeAuto          = "auto"
	ModeDeterministic = "deterministic"
	ModeOpenAI        = "openai"

	// DefaultBatchSize bounds a deterministic backfill batch.
	DefaultBatchSize = 100
	// ProviderBatchSize bounds a batch sent to an external provider.
	ProviderBatchSize = 50
)

// RemoteFactory builds an external provider from an API key.
type RemoteFactory func(apiKey string) service.EmbeddingProvider

// GeneratorConfig configures Generator.
type GeneratorConfig struct {
	Mode              string
	Credential        string
	BatchSize         int
	ProviderBatchSize int
	CacheTTL          time.Duration
}

// Generator picks the provider for a run and guarantees every returned vector
// is Dimensions long with unit norm, whichever path produced it.
type Generator struct {
	cfg     GeneratorConfig
	creds   domrepo.CredentialStore
	remote  RemoteFactory
	cache   cache.Store
	metrics domrepo.Metrics
	logger  *applogger.Logger
	local   DeterministicProvider
}

type GeneratorOption func(*Generator)

func WithCache(c cache.Store) GeneratorOption {
	return func(g *Generator) { g.cache = c }
}

func WithMetrics(m domrepo.Metrics) GeneratorOption {
	return func(g *Generator) { g.metrics = m }
}

func WithLogger(l *applogger.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

func NewGenerator(cfg GeneratorConfig, creds domrepo.CredentialStore, remote RemoteFactory, opts ...GeneratorOption) *Generator {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	if cfg.Credential == "" {
		cfg.Credential = "openai"
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > DefaultBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ProviderBatchSize <= 0 || cfg.ProviderBatchSize > ProviderBatchSize {
		cfg.ProviderBatchSize = ProviderBatchSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	g := &Generator{cfg: cfg, creds: creds, remote: remote, logger: applogger.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Session is one run's provider choice.
type Session struct {
	g         *Generator
	remote    service.EmbeddingProvider
	batchSize int
}

// Session resolves the provider once for a run. Credential lookup failures
// degrade to the deterministic provider.
func (g *Generator) Session(ctx context.Context) *Session {
	s := &Session{g: g, batchSize: g.cfg.BatchSize}
	if g.cfg.Mode == ModeDeterministic || g.remote == nil || g.creds == nil {
		return s
	}
	cred, err := g.creds.Lookup(ctx, g.cfg.Credential)
	if err != nil {
		g.logger.Warn("embedding credential lookup failed, using deterministic provider", applogger.Error(err))
		return s
	}
	if cred == nil || cred.APIKey == "" {
		if g.cfg.Mode == ModeOpenAI {
			g.logger.Warn("embedding provider openai configured without credential",
				applogger.String("credential", g.cfg.Credential))
		}
		return s
	}
	s.remote = g.remote(cred.APIKey)
	s.batchSize = g.cfg.ProviderBatchSize
	return s
}

// BatchSize is the number of records to embed per batch in this session.
func (s *Session) BatchSize() int { return s.batchSize }

// Provider names the provider this session tries first.
func (s *Session) Provider() string {
	if s.remote != nil {
		return s.remote.Name()
	}
	return s.g.local.Name()
}

// Embed returns one valid vector per text. Remote failures and invalid remote
// vectors are replaced by the deterministic embedding.
func (s *Session) Embed(ctx context.Context, texts []string) [][]float64 {
	out := make([][]float64, len(texts))
	if s.remote == nil {
		vecs, _ := s.g.local.Embed(ctx, texts)
		s.g.record(s.g.local.Name(), len(texts))
		return vecs
	}

	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := s.g.cached(ctx, s.remote.Name(), t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if hits := len(texts) - len(missTexts); hits > 0 {
		s.g.record("cache", hits)
	}
	if len(missTexts) == 0 {
		return out
	}

	vecs, rerr := s.remote.Embed(ctx, missTexts)
	if rerr != nil {
		s.g.logger.Warn("embedding provider failed, falling back to deterministic",
			applogger.String("provider", s.remote.Name()),
			applogger.Int("texts", len(missTexts)),
			applogger.Error(rerr),
		)
		if s.g.metrics != nil {
			s.g.metrics.RecordError("embedding_provider")
		}
	}

	remoteOK, fallback := 0, 0
	for j, i := range missIdx {
		var v []float64
		if rerr == nil && j < len(vecs) {
			valid, verr := validate(vecs[j])
			if verr != nil {
				s.g.logger.Warn("embedding provider returned invalid vector",
					applogger.String("provider", s.remote.Name()),
					applogger.Error(verr),
				)
			} else {
				v = valid
			}
		}
		if v == nil {
			out[i] = Deterministic(missTexts[j])
			fallback++
			continue
		}
		out[i] = v
		remoteOK++
		s.g.store(ctx, s.remote.Name(), missTexts[j], v)
	}
	s.g.record(s.remote.Name(), remoteOK)
	s.g.record(s.g.local.Name(), fallback)
	return out
}

// validate checks length and finiteness and renormalizes.
func validate(v []float64) ([]float64, error) {
	if len(v) != Dimensions {
		return nil, fmt.Errorf("vector length %d, want %d", len(v), Dimensions)
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("vector has non-finite component")
		}
	}
	out := Normalize(append([]float64(nil), v...))
	if Norm(out) == 0 {
		return nil, fmt.Errorf("zero vector")
	}
	return out, nil
}

func cacheKey(provider, text string) string {
	return cache.Key("embedding", provider, cache.HashKey(text))
}

func (g *Generator) cached(ctx context.Context, provider, text string) ([]float64, bool) {
	if g.cache == nil {
		return nil, false
	}
	var v []float64
	if err := g.cache.Get(ctx, cacheKey(provider, text), &v); err != nil || len(v) != Dimensions {
		return nil, false
	}
	return v, true
}

func (g *Generator) store(ctx context.Context, provider, text string, v []float64) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Set(ctx, cacheKey(provider, text), v, g.cfg.CacheTTL); err != nil {
		g.logger.Debug("embedding cache set failed", applogger.Error(err))
	}
}

func (g *Generator) record(provider string, n int) {
	if g.metrics != nil && n > 0 {
		g.metrics.RecordEmbeddings(provider, n)
	}
}
