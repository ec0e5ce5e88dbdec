package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/target/aggregation-worker/internal/errors"
)

// Error reasons reported in ErrorResponse.Reason.
const (
	ReasonJSONError       = "JSON_ERROR"
	ReasonArgumentMissing = "ARGUMENT_MISSING"
	ReasonValidation      = "VALIDATION_FAILED"
	ReasonDuplicateJobKey = "DUPLICATE_JOB_KEY"
	ReasonJobNotFound     = "JOB_NOT_FOUND"
	ReasonUnauthenticated = "UNAUTHENTICATED"
	ReasonForbidden       = "PERMISSION_DENIED"
	ReasonUnavailable     = "SERVICE_UNAVAILABLE"
	ReasonServerError     = "SERVER_ERROR"
)

// writeServiceError maps a service-layer error onto a status code and reason. Internal
// details of server-side failures are logged, not returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	p := ErrorParams{Err: err}
	switch {
	case apperrors.IsInvalidInput(err):
		p.Code, p.ErrCode = http.StatusBadRequest, ReasonValidation
	case apperrors.IsKeyExists(err):
		p.Code, p.ErrCode = http.StatusConflict, ReasonDuplicateJobKey
	case apperrors.IsNotFound(err):
		p.Code, p.ErrCode = http.StatusNotFound, ReasonJobNotFound
	case apperrors.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		p.Code, p.ErrCode = http.StatusGatewayTimeout, ReasonUnavailable
		p.Err = errors.New("request timed out")
	case apperrors.IsCanceled(err), errors.Is(err, context.Canceled):
		// Client went away; the status is for the access log only.
		p.Code, p.ErrCode = 499, ReasonServerError
		p.Err = errors.New("request canceled")
	case apperrors.IsStore(err), apperrors.IsQueue(err):
		p.Code, p.ErrCode = http.StatusServiceUnavailable, ReasonUnavailable
		p.Err = errors.New("backing store unavailable")
	default:
		p.Code, p.ErrCode = http.StatusInternalServerError, ReasonServerError
		p.Err = errors.New("internal server error")
	}

	if p.Code >= http.StatusInternalServerError && logger != nil {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", p.Code,
			"error", err,
		)
	}
	WriteError(w, p)
}
