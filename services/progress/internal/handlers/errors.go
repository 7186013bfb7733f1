package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/example/watch-progress/internal/platform/api"
	"github.com/example/watch-progress/services/progress/internal/domain"
	"github.com/example/watch-progress/services/progress/internal/service"
	"github.com/example/watch-progress/services/progress/internal/store"
)

// writeServiceError maps tracker and store errors onto the API envelope.
// Storage details are logged and never echoed to the client.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, rid string, err error) {
	switch {
	case errors.Is(err, domain.ErrMissingKey), errors.Is(err, service.ErrMissingUser):
		api.BadRequest(w, "MISSING_FIELD", err.Error(), rid, nil)
	case errors.Is(err, domain.ErrInvalidDuration):
		api.BadRequest(w, "INVALID_DURATION", err.Error(), rid, map[string]any{"field": "duration"})
	case errors.Is(err, domain.ErrInvalidPosition):
		api.BadRequest(w, "INVALID_POSITION", err.Error(), rid, map[string]any{"field": "currentTime"})
	case errors.Is(err, store.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", "progress not found", rid)
	case errors.Is(err, service.ErrConflict):
		api.Conflict(w, "CONFLICT", err.Error(), rid, nil)
	case errors.Is(err, store.ErrStorage):
		log.Error("progress storage failure", zap.String("request_id", rid), zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "STORAGE_UNAVAILABLE", "progress storage unavailable", rid, nil)
	default:
		log.Error("progress request failed", zap.String("request_id", rid), zap.Error(err))
		api.Internal(w, rid)
	}
}

// itemError is the inline error for one bulk result.
func itemError(err error) string {
	switch {
	case errors.Is(err, store.ErrStorage):
		return "progress storage unavailable"
	case errors.Is(err, domain.ErrMissingKey),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrInvalidPosition),
		errors.Is(err, service.ErrConflict):
		return err.Error()
	default:
		return "internal error"
	}
}
