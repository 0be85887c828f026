package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dispatch-orchestrator/internal/billing"
	apperrors "github.com/dispatch-orchestrator/internal/errors"
	"github.com/dispatch-orchestrator/internal/stats"
	"github.com/dispatch-orchestrator/internal/types"
)

const maxLogLimit = 5000

// parseBound accepts RFC 3339 timestamps or dates. A date used as an upper
// bound covers the whole day.
func parseBound(raw string, loc *time.Location, upper bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	d, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return nil, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", raw)
	}
	if upper {
		d = d.AddDate(0, 0, 1).Add(-time.Millisecond)
	}
	return &d, nil
}

func (s *Server) parseRange(r *http.Request) (stats.Range, error) {
	q := r.URL.Query()
	from, err := parseBound(q.Get("from"), s.config.Location, false)
	if err != nil {
		return stats.Range{}, apperrors.NewInvalidParameterError("from", err.Error())
	}
	to, err := parseBound(q.Get("to"), s.config.Location, true)
	if err != nil {
		return stats.Range{}, apperrors.NewInvalidParameterError("to", err.Error())
	}
	if from != nil && to != nil && to.Before(*from) {
		return stats.Range{}, apperrors.NewInvalidParameterError("to", "must not be before from")
	}
	return stats.Range{From: from, To: to}, nil
}

// handleLogs handles GET /api/logs?from&to&limit
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	rng, err := s.parseRange(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondServiceError(w, apperrors.NewInvalidParameterError("limit", "must be a non-negative integer"))
			return
		}
	}
	limit = types.ClampInt(limit, 0, maxLogLimit)

	rep, err := s.reporter.Logs(r.Context(), rng, limit)
	if err != nil {
		respondServiceError(w, apperrors.NewDatabaseError("query logs", err))
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// handleTimeseries handles GET /api/stats/timeseries?from&to&group=day|hour
func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	rng, err := s.parseRange(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	rep, err := s.reporter.Timeseries(r.Context(), rng, stats.ParseGranularity(r.URL.Query().Get("group")))
	if err != nil {
		respondServiceError(w, apperrors.NewDatabaseError("query timeseries", err))
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// handleAccountStats handles GET /api/stats/accounts?from&to&type
func (s *Server) handleAccountStats(w http.ResponseWriter, r *http.Request) {
	rng, err := s.parseRange(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	kind := types.EventKind(r.URL.Query().Get("type"))
	rep, err := s.reporter.Accounts(r.Context(), kind, rng)
	if err != nil {
		respondServiceError(w, apperrors.NewDatabaseError("query account stats", err))
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// handleMe handles GET /api/me - balance and billing rate of the caller
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	bal, err := s.ledger.Balance(r.Context(), user)
	if err != nil {
		respondServiceError(w, apperrors.NewDatabaseError("credit lookup", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"username":    user,
		"credit":      billing.Dollars(bal),
		"creditCents": bal,
		"billing":     s.ledger.Rate(),
		"runningJobs": len(s.runningJobs(user)),
	})
}

func (s *Server) runningJobs(user string) []string {
	var ids []string
	for _, snap := range s.jobs.List(user) {
		if !snap.Status.Terminal() {
			ids = append(ids, snap.JobID)
		}
	}
	return ids
}

// handleTopUp handles POST /api/credit/topup {username, cents}
func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Cents    int64  `json:"cents"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		respondServiceError(w, apperrors.NewInvalidParameterError("username", "username required"))
		return
	}
	if req.Cents <= 0 {
		respondServiceError(w, apperrors.NewInvalidParameterError("cents", "must be positive"))
		return
	}

	bal, err := s.ledger.TopUp(r.Context(), req.Username, req.Cents)
	if err != nil {
		respondServiceError(w, apperrors.NewDatabaseError("top up", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"username":    req.Username,
		"credit":      billing.Dollars(bal),
		"creditCents": bal,
	})
}
