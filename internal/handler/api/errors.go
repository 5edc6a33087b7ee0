package api

import (
	"errors"
	"fmt"

	"CatalystPull/internal/domain/models"
	"CatalystPull/internal/usecase"
	xhttp "CatalystPull/pkg/http"
)

// toAppError maps domain errors onto HTTP errors.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	var up *models.UpstreamError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, models.ErrCatalystNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrInvalidCatalyst),
		errors.Is(err, models.ErrMissingPredictInput),
		errors.Is(err, models.ErrUnknownSource):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.As(err, &up):
		return xhttp.UpstreamError(err.Error()).WithError(err)
	}
	return xhttp.InternalError(err.Error()).WithError(err)
}

func runMessage(r *usecase.RunReport) string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("Processed %d %s records, stored %d new catalysts (%d already stored) for %s",
		r.Processed, r.Source, r.Inserted, r.Duplicates, r.Window.String())
}
