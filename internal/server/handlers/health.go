package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/opencurate/ferry/internal/apperrors"
)

// HealthChecker reports whether one dependency is usable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a plain function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// HealthManager aggregates named checkers into the /health response.
type HealthManager struct {
	version  string
	checkers map[string]HealthChecker
}

// HealthResponse is the wire shape of a healthy /health reply.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds a named dependency check. Not safe to call after
// the server starts serving.
func (m *HealthManager) RegisterChecker(name string, c HealthChecker) {
	m.checkers[name] = c
}

func (m *HealthManager) runChecks(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(m.checkers))
	healthy := true
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := m.checkers[name].CheckHealth(ctx); err != nil {
			checks[name] = "unhealthy"
			healthy = false
		} else {
			checks[name] = "healthy"
		}
	}
	return checks, healthy
}

// HealthHandler serves GET /health.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks, healthy := m.runChecks(r.Context())
	if !healthy {
		apperrors.RespondWithCode(w, r, http.StatusServiceUnavailable,
			"SERVICE_UNAVAILABLE", "one or more dependencies are unhealthy")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:  "healthy",
		Version: m.version,
		Checks:  checks,
	})
}

// LivenessHandler serves GET /health/live. Liveness never consults
// dependency checks; a live process answers.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{Status: "alive", Version: m.version})
}

// ReadinessHandler serves GET /health/ready.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}
