package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xtrntr/blockmarket/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a service error to an HTTP status and a message safe to show.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrOrderAlreadyClaimed):
		return http.StatusConflict, "order no longer available"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrUsernameTaken):
		return http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrUnauthenticated):
		return http.StatusUnauthorized, "Invalid credentials"
	case errors.Is(err, models.ErrOrderNotFound), errors.Is(err, models.ErrUserNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrInvalidOrder), errors.Is(err, models.ErrUnknownRestaurant):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrTransport):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, msg)
}
