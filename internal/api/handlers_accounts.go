package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dispatch-orchestrator/internal/account"
	apperrors "github.com/dispatch-orchestrator/internal/errors"
	"github.com/dispatch-orchestrator/internal/events"
	"github.com/dispatch-orchestrator/internal/models"
	"github.com/dispatch-orchestrator/internal/stats"
	"github.com/dispatch-orchestrator/internal/types"
	"github.com/gorilla/mux"
)

// accountView is one row of the account listing
type accountView struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	CreatedAt time.Time        `json:"createdAt"`
	Health    account.Status   `json:"health"`
	Counters  stats.KindCounts `json:"counters"`
}

// accountRemoved is the account_update payload for a deleted account
type accountRemoved struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}

// handleListAccounts handles GET /api/accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.accounts.List(r.Context())
	if err != nil {
		respondServiceError(w, apperrors.NewDatabaseError("list accounts", err))
		return
	}
	totals, err := s.reporter.Totals(r.Context())
	if err != nil {
		respondServiceError(w, apperrors.NewDatabaseError("account counters", err))
		return
	}

	views := make([]accountView, 0, len(list))
	for _, a := range list {
		health, _ := s.registry.StatusOf(a.ID)
		counters := make(stats.KindCounts, len(types.EventKinds))
		for _, k := range types.EventKinds {
			counters[k] = totals[a.ID][k]
		}
		views = append(views, accountView{
			ID:        a.ID,
			Name:      a.DisplayName(),
			CreatedAt: a.CreatedAt,
			Health:    health,
			Counters:  counters,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"accounts": views})
}

// handleAddAccount handles POST /api/accounts. A missing id is generated as wa<N>.
func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	id := account.NextFreeID(s.registry.IDs())
	if strings.TrimSpace(req.ID) != "" {
		id = account.SanitizeID(req.ID)
	}

	a := &models.Account{ID: id, Name: strings.TrimSpace(req.Name)}
	if err := s.accounts.Create(r.Context(), a); err != nil {
		respondServiceError(w, err)
		return
	}
	s.registry.Register(id)

	if s.sessions != nil {
		if err := s.sessions.Reconnect(r.Context(), id); err != nil {
			s.logger.WithError(err).WithField("accountId", id).Warn("Failed to start account session")
		}
	}

	st, _ := s.registry.StatusOf(id)
	s.bus.Publish(events.Event{Type: events.TypeAccountUpdate, Data: st})
	respondJSON(w, http.StatusCreated, a)
}

// handleRenameAccount handles PUT /api/accounts/{id}
func (s *Server) handleRenameAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Name string `json:"name"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if err := s.accounts.Rename(r.Context(), id, strings.TrimSpace(req.Name)); err != nil {
		respondServiceError(w, err)
		return
	}
	a, err := s.accounts.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// handleDeleteAccount handles DELETE /api/accounts/{id}
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.accounts.Delete(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	s.registry.Remove(id)
	if s.limiter != nil {
		s.limiter.Metrics().Forget(id)
	}

	if s.sessions != nil {
		if err := s.sessions.Logout(r.Context(), id); err != nil {
			s.logger.WithError(err).WithField("accountId", id).Warn("Failed to log out account session")
		}
	}

	s.bus.Publish(events.Event{Type: events.TypeAccountUpdate, Data: accountRemoved{ID: id, Removed: true}})
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": id})
}

// handleReconnectAccount handles POST /api/accounts/{id}/reconnect. Health
// is reset to defaults; the account stays unready until the gateway
// reports ready again.
func (s *Server) handleReconnectAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Reset(id); err != nil {
		respondServiceError(w, apperrors.NewNotFoundError("account", id))
		return
	}

	if s.sessions != nil {
		if err := s.sessions.Reconnect(r.Context(), id); err != nil {
			respondServiceError(w, apperrors.NewTransportError(id, err))
			return
		}
	}

	st, _ := s.registry.StatusOf(id)
	s.bus.Publish(events.Event{Type: events.TypeAccountUpdate, Data: st})
	respondJSON(w, http.StatusOK, st)
}
