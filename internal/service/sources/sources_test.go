package sources

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"CatalystPull/internal/domain/models"
	"CatalystPull/pkg/config"
	xhttp "CatalystPull/pkg/http"
	"CatalystPull/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreds map[string]string

func (f fakeCreds) Lookup(_ context.Context, svc string) (*models.Credential, error) {
	k, ok := f[svc]
	if !ok {
		return nil, nil
	}
	return &models.Credential{ServiceName: svc, APIKey: k}, nil
}

func (f fakeCreds) All(context.Context) ([]models.Credential, error) { return nil, nil }

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

func testFetcher(t *testing.T, name, baseURL string, creds fakeCreds, rec *sleepRecorder) *Fetcher {
	t.Helper()
	return testFetcherWith(t, name, baseURL, creds, rec, nil)
}

func testFetcherWith(t *testing.T, name, baseURL string, creds fakeCreds, rec *sleepRecorder, tweak func(*config.SourceConfig)) *Fetcher {
	t.Helper()
	cfg := config.SourceConfig{
		BaseURL:             baseURL,
		Credential:          name + "_key",
		WindowDays:          30,
		FallbackDays:        90,
		RecordCap:           100,
		PageSize:            100,
		DetailCap:           20,
		RateLimitWait:       45 * time.Second,
		MaxRateLimitRetries: 2,
		Timeout:             5 * time.Second,
		Forms:               []string{"8-K", "10-K"},
	}
	if tweak != nil {
		tweak(&cfg)
	}
	if rec == nil {
		rec = &sleepRecorder{}
	}
	return NewFetcher(name, cfg, creds,
		WithSleep(rec.sleep),
		WithRetry(retry.New(retry.WithMaxAttempts(3), retry.WithSleep(rec.sleep))),
	)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestRegulatoryFallsBackToMostRecent(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		search := r.URL.Query().Get("search")
		calls = append(calls, search)
		if strings.Contains(search, "receivedate:[") {
			http.Error(w, `{"error":{"code":"NOT_FOUND"}}`, http.StatusNotFound)
			return
		}
		assert.Equal(t, "receivedate:desc", r.URL.Query().Get("sort"))
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		writeJSON(w, map[string]any{"results": []any{
			map[string]any{
				"safetyreportid": "1001",
				"receivedate":    "20240115",
				"serious":        "1",
				"patient": map[string]any{"drug": []any{
					map[string]any{"medicinalproduct": "Keytruda", "drugindication": "NSCLC"},
					map[string]any{"medicinalproduct": "KEYTRUDA"},
					map[string]any{"medicinalproduct": "Ozempic"},
					map[string]any{"medicinalproduct": ""},
				}},
			},
			map[string]any{"safetyreportid": "1002", "receivedate": "2024-13-45", "serious": "1"},
		}})
	}))
	defer srv.Close()

	a := NewRegulatory(testFetcher(t, config.SourceRegulatory, srv.URL, fakeCreds{"regulatory_key": "secret"}, nil))
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	res, err := a.Fetch(context.Background(), a.DefaultWindow(now))
	require.NoError(t, err)

	require.Len(t, calls, 3)
	assert.Contains(t, calls[0], "receivedate:[20240502 TO 20240601]")
	assert.Contains(t, calls[1], "receivedate:[20240303 TO 20240601]")
	assert.True(t, res.Window.IsZero())

	require.Len(t, res.Events, 2)
	assert.Equal(t, "KEYTRUDA", res.Events[0].EntityName)
	assert.Equal(t, "FDA Adverse Event Report: Keytruda", res.Events[0].Title)
	assert.Equal(t, "NSCLC", res.Events[0].Metadata.Regulatory.Indication)
	assert.True(t, res.Events[0].Metadata.Regulatory.Serious)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), res.Events[0].EventDate)
	assert.Equal(t, "OZEMPIC", res.Events[1].EntityName)

	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Skipped[SkipInvalidDate])
	assert.Equal(t, 1, res.Skipped[SkipMissingEntity])
}

func TestRegulatoryWorksWithoutCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("api_key"))
		writeJSON(w, map[string]any{"results": []any{
			map[string]any{"safetyreportid": "1", "receivedate": "20240510", "serious": "2",
				"patient": map[string]any{"drug": []any{map[string]any{"medicinalproduct": "X"}}}},
		}})
	}))
	defer srv.Close()

	a := NewRegulatory(testFetcher(t, config.SourceRegulatory, srv.URL, fakeCreds{}, nil))
	res, err := a.Fetch(context.Background(), a.DefaultWindow(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.False(t, res.Events[0].Metadata.Regulatory.Serious)
	assert.False(t, res.Window.IsZero())
}

func TestFetcherWaitsOnRateLimitAndRepeatsRequest(t *testing.T) {
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	f := testFetcher(t, config.SourceRegulatory, srv.URL, nil, rec)
	var out map[string]bool
	require.NoError(t, f.Call(context.Background(), getReq(srv.URL), &out))

	assert.EqualValues(t, 2, atomic.LoadInt32(&n))
	assert.Equal(t, []time.Duration{45 * time.Second}, rec.waits)
	assert.True(t, out["ok"])
}

func TestFetcherGivesUpAfterRateLimitRetries(t *testing.T) {
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	f := testFetcher(t, config.SourceRegulatory, srv.URL, nil, rec)
	err := f.Call(context.Background(), getReq(srv.URL), nil)

	var ue *models.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusTooManyRequests, ue.Status)
	assert.EqualValues(t, 3, atomic.LoadInt32(&n))
	assert.Len(t, rec.waits, 2)
}

func TestFetcherRetriesServerErrorsWithBackoff(t *testing.T) {
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{})
	}))
	defer srv.Close()

	f := testFetcher(t, config.SourceRegulatory, srv.URL, nil, nil)
	require.NoError(t, f.Call(context.Background(), getReq(srv.URL), nil))
	assert.EqualValues(t, 3, atomic.LoadInt32(&n))
}

func TestFetcherDoesNotRetryClientErrors(t *testing.T) {
	var n int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&n, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := testFetcher(t, config.SourceRegulatory, srv.URL, nil, nil)
	err := f.Call(context.Background(), getReq(srv.URL), nil)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&n))
}

func TestFilingsMapsFormsAndSkipsMissingTickers(t *testing.T) {
	var forms []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "sec-key", r.Header.Get("Authorization"))
		var q secQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		forms = append(forms, q.Query.QueryString.Query)

		if strings.Contains(q.Query.QueryString.Query, `"8-K"`) {
			writeJSON(w, map[string]any{"filings": []any{
				map[string]any{"ticker": "ACME", "formType": "8-K", "accessionNo": "0001", "filedAt": "2024-05-31T16:05:00-04:00",
					"description": "Form 8-K - Item 2.01 Completion of Acquisition"},
				map[string]any{"ticker": "n/a", "formType": "8-K", "filedAt": "2024-05-31T10:00:00-04:00"},
				map[string]any{"ticker": "", "formType": "8-K", "filedAt": "2024-05-31T10:00:00-04:00"},
			}})
			return
		}
		writeJSON(w, map[string]any{"filings": []any{
			map[string]any{"ticker": "BIG", "formType": "10-K", "filedAt": "2024-05-30T09:00:00Z"},
		}})
	}))
	defer srv.Close()

	a := NewFilings(testFetcher(t, config.SourceFilings, srv.URL, fakeCreds{"filings_key": "sec-key"}, nil))
	res, err := a.Fetch(context.Background(), a.DefaultWindow(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	require.Len(t, forms, 2)
	assert.Contains(t, forms[0], `formType:"8-K" AND filedAt:[2024-05-02 TO 2024-06-01]`)

	require.Len(t, res.Events, 2)
	ev := res.Events[0]
	assert.Equal(t, "ACME", ev.Ticker)
	assert.Equal(t, "ACME Files Form 8-K", ev.Title)
	require.NotNil(t, ev.ImpactHint)
	assert.InDelta(t, 0.8, *ev.ImpactHint, 1e-9)
	assert.Equal(t, []string{"Item 2.01"}, ev.Metadata.Filing.Items)
	assert.Equal(t, time.Date(2024, 5, 31, 20, 5, 0, 0, time.UTC), ev.EventDate.UTC())

	assert.InDelta(t, 0.8, *res.Events[1].ImpactHint, 1e-9)
	assert.Equal(t, 2, res.Skipped[SkipMissingTicker])
}

func TestFilingsDropsCountsOfFailedForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q secQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		if strings.Contains(q.Query.QueryString.Query, `"8-K"`) {
			writeJSON(w, map[string]any{"filings": []any{
				map[string]any{"ticker": "ACME", "formType": "8-K", "filedAt": "2024-05-31T16:05:00Z"},
			}})
			return
		}
		if q.From != "0" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"filings": []any{
			map[string]any{"ticker": "BIG", "formType": "10-K", "filedAt": "2024-05-30T09:00:00Z"},
			map[string]any{"ticker": "", "formType": "10-K", "filedAt": "2024-05-30T09:00:00Z"},
		}})
	}))
	defer srv.Close()

	f := testFetcherWith(t, config.SourceFilings, srv.URL, fakeCreds{"filings_key": "sec-key"}, nil, func(c *config.SourceConfig) {
		c.PageSize = 2
		c.RecordCap = 10
	})
	a := NewFilings(f)
	res, err := a.Fetch(context.Background(), a.DefaultWindow(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	require.Len(t, res.Events, 1)
	assert.Equal(t, "ACME", res.Events[0].Ticker)
	assert.Equal(t, 1, res.Fetched)
	assert.Equal(t, 1, res.Skipped[SkipUpstream])
	assert.Zero(t, res.Skipped[SkipMissingTicker])
}

func TestFilingsRequiresCredential(t *testing.T) {
	a := NewFilings(testFetcher(t, config.SourceFilings, "http://127.0.0.1:1", fakeCreds{}, nil))
	_, err := a.Fetch(context.Background(), models.DateRange{})
	assert.ErrorIs(t, err, models.ErrCredentialMissing)
}

func TestEarningsLooksUpDetailsOncePerTicker(t *testing.T) {
	var details int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "poly", r.URL.Query().Get("apiKey"))
		switch {
		case r.URL.Path == "/vX/reference/financials":
			assert.Equal(t, "2024-06-01", r.URL.Query().Get("filing_date.gte"))
			writeJSON(w, map[string]any{"results": []any{
				map[string]any{"tickers": []string{"AAPL"}, "company_name": "Apple Inc.", "filing_date": "2024-06-10", "fiscal_period": "Q2", "fiscal_year": "2024"},
				map[string]any{"tickers": []string{"AAPL"}, "company_name": "Apple Inc.", "filing_date": "2024-06-10"},
				map[string]any{"tickers": []string{}, "filing_date": "2024-06-11"},
				map[string]any{"tickers": []string{"SMOL"}, "company_name": "Small Co", "filing_date": "2024-06-12"},
			}})
		case strings.HasPrefix(r.URL.Path, "/v3/reference/tickers/"):
			atomic.AddInt32(&details, 1)
			tk := strings.TrimPrefix(r.URL.Path, "/v3/reference/tickers/")
			mc := 3.0e12
			if tk == "SMOL" {
				mc = 2e9
			}
			writeJSON(w, map[string]any{"results": map[string]any{
				"ticker": tk, "name": tk + " Corp", "market_cap": mc, "sic_description": "Technology",
				"primary_exchange": "XNAS", "locale": "us",
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := NewEarnings(testFetcher(t, config.SourceEarnings, srv.URL, fakeCreds{"earnings_key": "poly"}, nil))
	res, err := a.Fetch(context.Background(), a.DefaultWindow(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&details))
	require.Len(t, res.Events, 2)
	assert.InDelta(t, 0.95, *res.Events[0].ImpactHint, 1e-9)
	assert.True(t, res.Events[0].HintSized)
	assert.InDelta(t, 0.5, *res.Events[1].ImpactHint, 1e-9)
	assert.Equal(t, "AAPL Corp Earnings Report", res.Events[0].Title)
	assert.Equal(t, "Q2", res.Events[0].Metadata.Earnings.FiscalPeriod)
	assert.Equal(t, 1, res.Skipped[SkipDuplicate])
	assert.Equal(t, 1, res.Skipped[SkipMissingTicker])

	require.Len(t, res.Profiles, 2)
	assert.Equal(t, "Technology", res.Profiles[0].Sector)
}

func TestImpactHints(t *testing.T) {
	assert.InDelta(t, 0.3, RegulatoryImpact("GLP-1 agonist", false), 1e-9)
	assert.InDelta(t, 0.5, RegulatoryImpact("GLP-1 agonist", true), 1e-9)
	assert.InDelta(t, 0.7, RegulatoryImpact("PD-1 Inhibitor", true), 1e-9)
	assert.InDelta(t, 0.5, RegulatoryImpact("cancer therapy", false), 1e-9)

	assert.InDelta(t, 0.95, FilingImpact("S-1", nil), 1e-9)
	assert.InDelta(t, 0.6, FilingImpact("8-K", nil), 1e-9)
	assert.InDelta(t, 0.4, FilingImpact("S-8", []string{"Item 8.01"}), 1e-9)

	mc := 150e9
	assert.InDelta(t, 0.85, EarningsImpact(&mc), 1e-9)
	assert.InDelta(t, 0.5, EarningsImpact(nil), 1e-9)
}

func TestWindowsSequence(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	p := models.LastDays(now, 30)
	w := models.LastDays(now, 90)
	assert.Equal(t, []models.DateRange{p, w, {}}, Windows(p, w))
	assert.Equal(t, []models.DateRange{p, {}}, Windows(p, p))
}

func getReq(url string) *xhttp.RequestOptions {
	return &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: url}
}
