package api

import (
	"time"

	"CatalystPull/internal/domain/models"
	domrepo "CatalystPull/internal/domain/repository"
	"CatalystPull/internal/service/metrics"
	"CatalystPull/internal/usecase"
	xhttp "CatalystPull/pkg/http"
	xlogger "CatalystPull/pkg/logger"
	"CatalystPull/pkg/util"

	"github.com/labstack/echo/v4"
)

type processResponse struct {
	xhttp.Envelope
	Catalyst             *models.Catalyst        `json:"catalyst"`
	Created              bool                    `json:"created"`
	PredictedImpact      *models.PredictedImpact `json:"predicted_impact,omitempty"`
	HistoricalDataPoints int                     `json:"historical_data_points"`
}

type listResponse struct {
	xhttp.Envelope
	Rows []models.Catalyst `json:"rows"`
}

type outcomeResponse struct {
	xhttp.Envelope
	Outcome *models.Outcome `json:"outcome"`
}

// CatalystHandler serves direct submission, reconciliation listing, outcome
// recording and manual source runs.
type CatalystHandler struct {
	logger    *xlogger.Logger
	processor *usecase.Processor
	store     domrepo.CatalystStore
	outcomes  domrepo.OutcomeStore
	runner    *usecase.IngestionRunner
}

func NewCatalystHandler(logger *xlogger.Logger, processor *usecase.Processor, store domrepo.CatalystStore, outcomes domrepo.OutcomeStore, runner *usecase.IngestionRunner) *CatalystHandler {
	return &CatalystHandler{logger: logger, processor: processor, store: store, outcomes: outcomes, runner: runner}
}

func (h *CatalystHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/catalysts", h.Process)
	g.GET("/catalysts", h.List)
	g.POST("/catalysts/:id/outcomes", h.RecordOutcome)
	g.POST("/sources/:source/run", h.RunSource)
}

func (h *CatalystHandler) Process(c echo.Context) error {
	start := time.Now()
	defer observe("process", start)

	req := &models.ProcessCatalystRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	res, err := h.processor.Process(c.Request().Context(), req.Catalyst)
	if err != nil {
		return h.fail(c, "process", err)
	}
	return xhttp.SuccessResponse(c, processResponse{
		Envelope:             xhttp.OKEnvelope(""),
		Catalyst:             res.Catalyst,
		Created:              res.Created,
		PredictedImpact:      res.PredictedImpact,
		HistoricalDataPoints: res.HistoricalDataPoints,
	})
}

func (h *CatalystHandler) List(c echo.Context) error {
	start := time.Now()
	defer observe("list", start)

	req := &models.ListCatalystsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	f := domrepo.CatalystFilter{Ticker: req.Ticker, Limit: req.Limit}
	if req.Type != "" {
		t, err := models.ParseCatalystType(req.Type)
		if err != nil {
			return h.fail(c, "list", err)
		}
		f.Type = t
	}
	if req.Since != "" {
		since, ok := util.ParseTime(req.Since)
		if !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("invalid since %q", req.Since))
		}
		f.Since = since
	}
	rows, err := h.store.List(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, "list", err)
	}
	if rows == nil {
		rows = []models.Catalyst{}
	}
	return xhttp.SuccessResponse(c, listResponse{
		Envelope: xhttp.OKEnvelope("").Counts(len(rows), len(rows)),
		Rows:     rows,
	})
}

func (h *CatalystHandler) RecordOutcome(c echo.Context) error {
	start := time.Now()
	defer observe("outcome", start)

	req := &models.RecordOutcomeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	ctx := c.Request().Context()
	if _, err := h.store.Get(ctx, req.CatalystID); err != nil {
		return h.fail(c, "outcome", err)
	}
	o := &models.Outcome{CatalystID: req.CatalystID, DaysAfter: req.DaysAfter, PercentageChange: req.PercentageChange}
	if err := h.outcomes.Record(ctx, o); err != nil {
		return h.fail(c, "outcome", err)
	}
	return xhttp.CreatedResponse(c, outcomeResponse{Envelope: xhttp.OKEnvelope("outcome recorded"), Outcome: o})
}

func (h *CatalystHandler) RunSource(c echo.Context) error {
	start := time.Now()
	defer observe("run_source", start)

	req := &models.RunSourceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	rep, err := h.runner.Run(c.Request().Context(), req.Source)
	if err != nil && (rep == nil || rep.Inserted == 0) {
		return h.fail(c, "run_source", err)
	}
	env := xhttp.OKEnvelope(runMessage(rep)).Counts(rep.Processed, rep.Inserted)
	return xhttp.SuccessResponse(c, env)
}

func (h *CatalystHandler) fail(c echo.Context, endpoint string, err error) error {
	return failResponse(c, h.logger, endpoint, err)
}

func failResponse(c echo.Context, l *xlogger.Logger, endpoint string, err error) error {
	metrics.EndpointErrors.WithLabelValues(endpoint).Inc()
	appErr := toAppError(err)
	if appErr.Status >= 500 {
		l.Error(endpoint+" failed", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func observe(endpoint string, start time.Time) {
	metrics.EndpointLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
