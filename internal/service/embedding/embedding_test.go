package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalystPull/internal/domain/models"
	"CatalystPull/internal/domain/service"
	"CatalystPull/pkg/cache"
	"CatalystPull/pkg/retry"
)

type staticCreds map[string]string

func (s staticCreds) Lookup(_ context.Context, svc string) (*models.Credential, error) {
	k, ok := s[svc]
	if !ok {
		return nil, nil
	}
	return &models.Credential{ServiceName: svc, APIKey: k}, nil
}

func (s staticCreds) All(context.Context) ([]models.Credential, error) { return nil, nil }

type fakeRemote struct {
	vecs  func(n int) [][]float64
	err   error
	calls int
}

func (f *fakeRemote) Name() string { return "fake" }

func (f *fakeRemote) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vecs(len(texts)), nil
}

func constant(val float64, dims int) func(int) [][]float64 {
	return func(n int) [][]float64 {
		out := make([][]float64, n)
		for i := range out {
			v := make([]float64, dims)
			for j := range v {
				v[j] = val
			}
			out[i] = v
		}
		return out
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("FDA: MRK's Keytruda (pembrolizumab) -- an AE report, ok?")
	assert.Equal(t, []string{"fda", "mrks", "keytruda", "pembrolizumab", "report"}, got)
}

func TestDeterministicIsUnitLength(t *testing.T) {
	for _, text := range []string{
		"regulatory MRK Adverse event report for KEYTRUDA",
		"earnings AAPL Q3 results",
		"zzz",
		"",
	} {
		v := Deterministic(text)
		require.Len(t, v, Dimensions)
		if len(Tokenize(text)) == 0 {
			assert.Zero(t, Norm(v), text)
			continue
		}
		assert.InDelta(t, 1.0, Norm(v), 1e-6, text)
	}
	assert.Equal(t, Deterministic("same text here"), Deterministic("same text here"))
}

func TestDeterministicScatter(t *testing.T) {
	// one token contributes to three distinct positions with equal weight
	v := Deterministic("keytruda")
	nonzero := 0
	for _, x := range v {
		if x != 0 {
			nonzero++
			assert.InDelta(t, 1/math.Sqrt(3), x, 1e-12)
		}
	}
	assert.Equal(t, 3, nonzero)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 0}, []float64{2, 0}), 1e-12)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.Zero(t, Cosine([]float64{1}, []float64{1, 2}))
	assert.Zero(t, Cosine([]float64{0, 0}, []float64{1, 2}))
}

func TestSessionWithoutCredentialIsDeterministic(t *testing.T) {
	remote := &fakeRemote{vecs: constant(1, Dimensions)}
	g := NewGenerator(GeneratorConfig{}, staticCreds{}, func(string) service.EmbeddingProvider { return remote })

	s := g.Session(context.Background())
	assert.Equal(t, "deterministic", s.Provider())
	assert.Equal(t, DefaultBatchSize, s.BatchSize())

	vecs := s.Embed(context.Background(), []string{"earnings AAPL beat"})
	assert.Equal(t, Deterministic("earnings AAPL beat"), vecs[0])
	assert.Zero(t, remote.calls)
}

func TestSessionUsesRemoteAndNormalizes(t *testing.T) {
	remote := &fakeRemote{vecs: constant(3, Dimensions)}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	g := NewGenerator(GeneratorConfig{}, staticCreds{"openai": "k"},
		func(string) service.EmbeddingProvider { return remote }, WithCache(mc))

	s := g.Session(context.Background())
	assert.Equal(t, "fake", s.Provider())
	assert.Equal(t, ProviderBatchSize, s.BatchSize())

	vecs := s.Embed(context.Background(), []string{"a text", "b text"})
	for _, v := range vecs {
		require.Len(t, v, Dimensions)
		assert.InDelta(t, 1.0, Norm(v), 1e-6)
	}
	assert.Equal(t, 1, remote.calls)

	// identical text is served from the cache
	s.Embed(context.Background(), []string{"a text"})
	assert.Equal(t, 1, remote.calls)
}

func TestSessionFallsBackOnProviderError(t *testing.T) {
	remote := &fakeRemote{err: errors.New("boom")}
	g := NewGenerator(GeneratorConfig{}, staticCreds{"openai": "k"},
		func(string) service.EmbeddingProvider { return remote })

	vecs := g.Session(context.Background()).Embed(context.Background(), []string{"filing MSFT 8-K current report"})
	assert.Equal(t, Deterministic("filing MSFT 8-K current report"), vecs[0])
	assert.InDelta(t, 1.0, Norm(vecs[0]), 1e-6)
}

func TestSessionFallsBackOnWrongDimensions(t *testing.T) {
	remote := &fakeRemote{vecs: constant(1, 1536)}
	g := NewGenerator(GeneratorConfig{}, staticCreds{"openai": "k"},
		func(string) service.EmbeddingProvider { return remote })

	vecs := g.Session(context.Background()).Embed(context.Background(), []string{"macro CPI print"})
	require.Len(t, vecs[0], Dimensions)
	assert.Equal(t, Deterministic("macro CPI print"), vecs[0])
}

func TestDeterministicModeIgnoresCredential(t *testing.T) {
	remote := &fakeRemote{vecs: constant(1, Dimensions)}
	g := NewGenerator(GeneratorConfig{Mode: ModeDeterministic}, staticCreds{"openai": "k"},
		func(string) service.EmbeddingProvider { return remote })
	assert.Equal(t, "deterministic", g.Session(context.Background()).Provider())
}

func TestOpenAIProviderAgainstFakeAPI(t *testing.T) {
	var gotDims int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotDims = req.Dimensions

		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		// answer in reverse order to check index handling
		for i := range req.Input {
			v := make([]float32, Dimensions)
			v[i] = 1
			data[len(req.Input)-1-i] = item{Object: "embedding", Index: i, Embedding: v}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "text-embedding-3-small"})
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key",
		WithOpenAIBaseURL(srv.URL),
		WithOpenAIRetry(retry.New(retry.WithMaxAttempts(1))),
	)
	vecs, err := p.Embed(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Equal(t, Dimensions, gotDims)
	require.Len(t, vecs, 2)
	assert.Equal(t, 1.0, vecs[0][0])
	assert.Equal(t, 1.0, vecs[1][1])
}
