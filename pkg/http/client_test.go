package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndParseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "catalystpull-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "8-K", r.URL.Query().Get("form"))
		_, _ = w.Write([]byte(`{"total":2}`))
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("catalystpull-test"))
	var out struct {
		Total int `json:"total"`
	}
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodPost,
		URL:         srv.URL,
		QueryParams: map[string][]string{"form": {"8-K"}},
		Body:        map[string]int{"size": 50},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Total)
}

func TestSendAndParseStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "90")
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewClient().SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, "slow down", se.Body)
	assert.Equal(t, 90*time.Second, se.RetryAfter)
	assert.True(t, se.Temporary())
}

func TestRetryAfterIgnoresDates(t *testing.T) {
	if got := retryAfter("Wed, 21 Oct 2015 07:28:00 GMT"); got != 0 {
		t.Fatalf("retryAfter(date) = %v, want 0", got)
	}
	if got := retryAfter(" 5 "); got != 5*time.Second {
		t.Fatalf("retryAfter(5) = %v", got)
	}
}
