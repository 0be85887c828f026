package api

import (
	"net/http"

	"github.com/dispatch-orchestrator/internal/circuitbreaker"
)

// breakerReporter is implemented by transports that guard accounts with circuit breakers
type breakerReporter interface {
	BreakerStats() map[string]*circuitbreaker.Stats
}

// handleDiagnostics handles GET /api/diagnostics: limiter counters, gateway
// breaker states and push channel drops.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{
		"runningJobs":       s.jobs.Running(),
		"subscribers":       s.bus.Subscribers(),
		"droppedPushEvents": s.bus.Dropped(),
	}
	if s.limiter != nil {
		out["limiter"] = s.limiter.Metrics().Snapshot()
	}
	if br, ok := s.sessions.(breakerReporter); ok {
		out["breakers"] = br.BreakerStats()
	}
	respondJSON(w, http.StatusOK, out)
}
