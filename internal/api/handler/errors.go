package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	mw "github.com/kiranshivaraju/meshforge/internal/api/middleware"
	"github.com/kiranshivaraju/meshforge/internal/api/response"
	"github.com/kiranshivaraju/meshforge/internal/backend"
	"github.com/kiranshivaraju/meshforge/internal/pipeline"
)

// writeServiceError maps a service error to its HTTP status and error code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, pipeline.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, pipeline.ErrNotReady):
		response.Error(w, http.StatusBadRequest, "NOT_READY", "Job not completed yet", nil)
	case errors.Is(err, backend.ErrBackendUnavailable):
		mw.LoggerFrom(r).Error("backend unavailable", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "BACKEND_UNAVAILABLE", err.Error(), nil)
	default:
		mw.LoggerFrom(r).Error("request failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
