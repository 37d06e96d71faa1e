package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-otp-auth/internal/metrics"
)

const readinessTimeout = 2 * time.Second

// Pinger is satisfied by *dynamo.UserRepo.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckResult is the health of one dependency. Failure details are logged,
// never returned to the caller.
type CheckResult struct {
	Status string `json:"status"`
}

// HealthEnvelope is the readiness response.
type HealthEnvelope struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// HealthHandler serves liveness and readiness checks.
type HealthHandler struct {
	store  Pinger
	logger *slog.Logger
}

func NewHealthHandler(store Pinger, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{store: store, logger: logger.With("component", "health")}
}

func (h *HealthHandler) Ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "pong"})
}

// Ready reports 503 while the users table cannot be described.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	res := HealthEnvelope{Status: "up", Checks: map[string]CheckResult{}}
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "dynamodb health check failed", "error", err)
		res.Status = "down"
		res.Checks["dynamodb"] = CheckResult{Status: "down"}
		metrics.DependencyUp.WithLabelValues("dynamodb").Set(0)
		status = http.StatusServiceUnavailable
	} else {
		res.Checks["dynamodb"] = CheckResult{Status: "up"}
		metrics.DependencyUp.WithLabelValues("dynamodb").Set(1)
	}
	writeJSON(w, status, res)
}
