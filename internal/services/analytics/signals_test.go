package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CatalystPull/internal/domain/models"
	"CatalystPull/pkg/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestSignalProviderFillsMissingFeatures(t *testing.T) {
	var got signalsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, signalsPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sentiment_delta_24h":0.35,"option_flow_sentiment":0.8}`))
	}))
	defer srv.Close()

	p := NewSignalProvider(srv.URL+"/", time.Second, retry.New(retry.WithMaxAttempts(1)), nil)
	keep := 0.1
	fv := &models.FeatureVector{Ticker: "MRNA", SentimentDelta24h: &keep}
	require.NoError(t, p.Provide(context.Background(), &models.Catalyst{Type: models.TypeRegulatory}, fv))

	assert.Equal(t, signalsRequest{Ticker: "MRNA", CatalystType: "regulatory"}, got)
	assert.Equal(t, 0.1, *fv.SentimentDelta24h)
	require.NotNil(t, fv.OptionFlowSentiment)
	assert.Equal(t, 0.8, *fv.OptionFlowSentiment)
}

func TestSignalProviderRetriesThenGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := retry.New(retry.WithMaxAttempts(3), retry.WithSleep(noSleep))
	p := NewSignalProvider(srv.URL, time.Second, r, nil)
	fv := &models.FeatureVector{Ticker: "AAPL"}

	require.NoError(t, p.Provide(context.Background(), nil, fv))
	assert.Nil(t, fv.SentimentDelta24h)
	assert.Nil(t, fv.OptionFlowSentiment)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSignalProviderSkipsWhenFilled(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	a, b := 0.2, 0.4
	p := NewSignalProvider(srv.URL, 0, retry.Config{}, nil)
	require.NoError(t, p.Provide(context.Background(), nil, &models.FeatureVector{SentimentDelta24h: &a, OptionFlowSentiment: &b}))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestPostJSONWithoutBaseURL(t *testing.T) {
	b := NewHTTPServiceBase("", 0, retry.Config{})
	assert.Error(t, b.PostJSON(context.Background(), "/x", nil, nil))
}
