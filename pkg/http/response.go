package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// SuccessResponse writes a 200 with body, which should embed Envelope.
func SuccessResponse(c echo.Context, body interface{}) error {
	return c.JSON(http.StatusOK, body)
}

// CreatedResponse writes a 201 with body.
func CreatedResponse(c echo.Context, body interface{}) error {
	return c.JSON(http.StatusCreated, body)
}

// ErrorResponse writes {success:false, error}.
func ErrorResponse(c echo.Context, status int, message string) error {
	return c.JSON(status, Envelope{Success: false, Error: message})
}

// ValidationErrorResponse writes a 400 whose error joins the field messages.
func ValidationErrorResponse(c echo.Context, errs []ValidationError) error {
	env := Envelope{Success: false, Code: CodeBadRequest, Error: "invalid request", Details: errs}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	if len(msgs) > 0 {
		env.Error = strings.Join(msgs, "; ")
	}
	return c.JSON(http.StatusBadRequest, env)
}

// AppErrorResponse writes an AppError as an envelope. Anything else is a
// 500 with a generic message; internal details are not echoed.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = InternalError("Something went wrong")
	}
	if appErr.Status == http.StatusTooManyRequests {
		c.Response().Header().Set("Retry-After", "1")
	}
	return c.JSON(appErr.Status, Envelope{Success: false, Code: appErr.Code, Error: appErr.Message})
}
