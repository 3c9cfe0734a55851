package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/stolenwatch/internal/audit"
)

// healthCheckTimeout bounds all backend checks of one /health request.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/alerts", s.handleListAlerts)
	})

	return r
}

// handleHealth reports liveness and the state of every backend. A failing
// required backend answers 503; a failing optional one marks it degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if err := c.Checker.HealthCheck(ctx); err != nil {
			s.logger.Error("health check failed", "backend", c.Name, "error", err)
			checks[c.Name] = err.Error()
			status = "degraded"
			if c.Required {
				code = http.StatusServiceUnavailable
			}
			continue
		}
		checks[c.Name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"seeded":  s.status.Status().Seeded,
		"checks":  checks,
	})
}

// handleStatus returns the poller status snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

// handleListAlerts returns audit entries, newest first.
//
// Query parameters:
//   - action: alert_sent, alert_failed, out_of_range or location_unknown
//   - device_id: filter by device
//   - limit: max results (default 50, max 200)
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: q.Get("device_id"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	entries, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	if entries == nil {
		entries = []audit.AuditLog{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": entries,
		"count":  len(entries),
	})
}
