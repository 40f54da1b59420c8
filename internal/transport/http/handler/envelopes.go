package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/agrisense-api/internal/domain"
)

const maxBodyBytes = 1 << 20

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CodeEnvelope is returned when a verification code has been issued.
type CodeEnvelope struct {
	Message      string    `json:"message"`
	Email        string    `json:"email"`
	OTPExpiresAt time.Time `json:"otp_expires_at"`
	EmailSent    bool      `json:"email_sent"`
}

// AuthEnvelope wraps verify/login responses.
type AuthEnvelope struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"access_token,omitempty"`
}

// CleanupEnvelope reports an on-demand cleanup run.
type CleanupEnvelope struct {
	Deleted int64 `json:"deleted"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// decodeJSON reads a bounded JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// httpError maps a domain error kind to an HTTP status. Dependency and
// unexpected failures are logged and answered with a generic message.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, domain.ErrMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrTooManyRequests):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrDependency):
		slog.ErrorContext(r.Context(), "dependency failure", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable, please retry")
		return
	default:
		slog.ErrorContext(r.Context(), "unhandled error", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}
