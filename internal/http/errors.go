package http

import (
	"errors"
	"net/http"

	"github.com/fyrsmithlabs/knowd/internal/effectiveness"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/fyrsmithlabs/knowd/internal/partition"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs),
		errors.Is(err, knowledge.ErrInvalidQueryContext),
		errors.Is(err, partition.ErrInvalidDocument),
		errors.Is(err, partition.ErrTenantMismatch),
		errors.Is(err, effectiveness.ErrUnknownVerdict):
		return http.StatusBadRequest
	case errors.Is(err, partition.ErrPartitionNotFound),
		errors.Is(err, partition.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, partition.ErrPartitionExists):
		return http.StatusConflict
	case errors.Is(err, effectiveness.ErrQueueFull),
		errors.Is(err, effectiveness.ErrTrackerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders every error as an ErrorResponse. Internal errors are
// logged and their detail withheld from the client.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusFor(err)
	msg := err.Error()

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed",
			zap.String("path", c.Path()),
			zap.Error(err))
		if he == nil {
			msg = http.StatusText(status)
		}
	}

	resp := ErrorResponse{
		Error:     msg,
		RequestID: c.Response().Header().Get(echo.HeaderXRequestID),
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, resp)
	}
	if err != nil {
		s.logger.Warn(c.Request().Context(), "writing error response failed", zap.Error(err))
	}
}
