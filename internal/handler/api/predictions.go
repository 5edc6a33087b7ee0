package api

import (
	"time"

	"CatalystPull/internal/domain/models"
	"CatalystPull/internal/usecase"
	xhttp "CatalystPull/pkg/http"
	xlogger "CatalystPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HeaderPredictionCache marks responses served from the prediction log.
const HeaderPredictionCache = "X-Prediction-Cache"

type predictResponse struct {
	xhttp.Envelope
	models.Prediction
}

type freshnessResponse struct {
	xhttp.Envelope
	*models.FreshnessReport
}

// PipelineHandler serves prediction, embedding backfill and freshness.
type PipelineHandler struct {
	logger    *xlogger.Logger
	predictor *usecase.Predictor
	backfill  *usecase.EmbeddingBackfill
	freshness *usecase.FreshnessMonitor
}

func NewPipelineHandler(logger *xlogger.Logger, predictor *usecase.Predictor, backfill *usecase.EmbeddingBackfill, freshness *usecase.FreshnessMonitor) *PipelineHandler {
	return &PipelineHandler{logger: logger, predictor: predictor, backfill: backfill, freshness: freshness}
}

func (h *PipelineHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/predict", h.Predict)
	g.POST("/embeddings/backfill", h.Backfill)
	g.GET("/freshness", h.Freshness)
}

func (h *PipelineHandler) Predict(c echo.Context) error {
	start := time.Now()
	defer observe("predict", start)

	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	pred, cached, err := h.predictor.Predict(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "predict", err)
	}
	if cached {
		c.Response().Header().Set(HeaderPredictionCache, "hit")
	} else {
		c.Response().Header().Set(HeaderPredictionCache, "miss")
	}
	return xhttp.SuccessResponse(c, predictResponse{Envelope: xhttp.OKEnvelope(""), Prediction: *pred})
}

func (h *PipelineHandler) Backfill(c echo.Context) error {
	start := time.Now()
	defer observe("backfill", start)

	rep, err := h.backfill.Run(c.Request().Context())
	if err != nil {
		return h.fail(c, "backfill", err)
	}
	return xhttp.SuccessResponse(c, xhttp.OKEnvelope(rep.Message()).WithProcessed(rep.Processed))
}

func (h *PipelineHandler) Freshness(c echo.Context) error {
	start := time.Now()
	defer observe("freshness", start)

	rep, err := h.freshness.Check(c.Request().Context())
	if err != nil {
		return h.fail(c, "freshness", err)
	}
	return xhttp.SuccessResponse(c, freshnessResponse{Envelope: xhttp.OKEnvelope(""), FreshnessReport: rep})
}

func (h *PipelineHandler) fail(c echo.Context, endpoint string, err error) error {
	return failResponse(c, h.logger, endpoint, err)
}
