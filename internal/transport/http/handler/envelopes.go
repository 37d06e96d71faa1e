package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-otp-auth/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RegisterEnvelope wraps a successful registration.
type RegisterEnvelope struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// LoginEnvelope wraps a successful login.
type LoginEnvelope struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// MeEnvelope echoes the caller's token claims.
type MeEnvelope struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	ExpiresAt int64  `json:"expires_at"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// writeDomainError maps the kind of err to a status code. Internal causes
// never reach the client.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(domain.KindOf(err)), domain.PublicMessage(err))
}

func statusFor(k domain.Kind) int {
	switch k {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
