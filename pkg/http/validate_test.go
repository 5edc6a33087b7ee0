package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type predictBody struct {
	Ticker string `json:"ticker" validate:"required,ticker"`
	Days   int    `json:"days" default:"7" validate:"gte=0,lte=365"`
}

func bind(t *testing.T, body string, dst interface{}) []ValidationError {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return ReadAndValidateRequest(e.NewContext(req, httptest.NewRecorder()), dst)
}

func TestReadAndValidateAppliesDefaults(t *testing.T) {
	var req predictBody
	require.Nil(t, bind(t, `{"ticker":"BRK.B"}`, &req))
	assert.Equal(t, 7, req.Days)
}

func TestReadAndValidateReportsWireNames(t *testing.T) {
	var req predictBody
	errs := bind(t, `{"ticker":"not a ticker","days":400}`, &req)
	require.Len(t, errs, 2)
	assert.Equal(t, "ticker", errs[0].Field)
	assert.Equal(t, "ERR_TICKER", errs[0].Code)
	assert.Equal(t, "days must be at most 365", errs[1].Message)
	assert.Equal(t, map[string]interface{}{"max": "365"}, errs[1].Params)
}

func TestReadAndValidateBindFailure(t *testing.T) {
	var req predictBody
	errs := bind(t, `{"ticker":`, &req)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_BIND", errs[0].Code)
}
