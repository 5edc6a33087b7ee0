package analytics

import (
	"context"
	"time"

	"CatalystPull/internal/domain/models"
	applogger "CatalystPull/pkg/logger"
	"CatalystPull/pkg/retry"
)

const signalsPath = "/signals"

type signalsRequest struct {
	Ticker       string `json:"ticker"`
	CatalystType string `json:"catalyst_type"`
}

type signalsResponse struct {
	SentimentDelta24h   *float64 `json:"sentiment_delta_24h"`
	OptionFlowSentiment *float64 `json:"option_flow_sentiment"`
}

// SignalProvider asks an analytics service for news sentiment and option
// flow. Failures are logged and leave the features unset.
type SignalProvider struct {
	base   *HTTPServiceBase
	logger *applogger.Logger
}

func NewSignalProvider(baseURL string, timeout time.Duration, r retry.Config, l *applogger.Logger) *SignalProvider {
	if l == nil {
		l = applogger.Nop()
	}
	return &SignalProvider{base: NewHTTPServiceBase(baseURL, timeout, r), logger: l}
}

func (p *SignalProvider) Name() string { return "signals" }

func (p *SignalProvider) Provide(ctx context.Context, c *models.Catalyst, fv *models.FeatureVector) error {
	if fv.SentimentDelta24h != nil && fv.OptionFlowSentiment != nil {
		return nil
	}
	req := signalsRequest{Ticker: fv.Ticker}
	if c != nil {
		req.CatalystType = string(c.Type)
	}
	var resp signalsResponse
	if err := p.base.PostJSONWithRetry(ctx, signalsPath, req, &resp); err != nil {
		p.logger.Warn("signals unavailable",
			applogger.String("ticker", fv.Ticker),
			applogger.Error(err),
		)
		return nil
	}
	if fv.SentimentDelta24h == nil && resp.SentimentDelta24h != nil {
		fv.SentimentDelta24h = resp.SentimentDelta24h
	}
	if fv.OptionFlowSentiment == nil && resp.OptionFlowSentiment != nil {
		fv.OptionFlowSentiment = resp.OptionFlowSentiment
	}
	return nil
}
