package api

import (
	"net/http"

	"github.com/dispatch-orchestrator/internal/dispatch"
	apperrors "github.com/dispatch-orchestrator/internal/errors"
	"github.com/dispatch-orchestrator/internal/types"
	"github.com/gorilla/mux"
)

// stoppedResponse carries the partial results of a batch that stopped early
type stoppedResponse struct {
	*dispatch.Response
	Error types.ServiceError `json:"error"`
}

// handleDispatch handles POST /api/dispatch. The request blocks until the
// batch finishes; progress is pushed as send_progress events meanwhile.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{"reason": err.Error()})
		return
	}
	req.User = userFromRequest(r)
	if req.DefaultCountryCode == "" {
		req.DefaultCountryCode = s.config.DefaultCountryCode
	}

	resp, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		if resp == nil {
			respondServiceError(w, err)
			return
		}
		catErr := apperrors.Categorize(err)
		respondJSON(w, catErr.StatusCode, stoppedResponse{
			Response: resp,
			Error:    *catErr.ToServiceError(),
		})
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleSendToConversation handles POST /api/conversations/send
func (s *Server) handleSendToConversation(w http.ResponseWriter, r *http.Request) {
	var req dispatch.ConversationRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	res, err := s.dispatcher.SendToConversation(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"accountId": res.AccountID,
		"messageId": res.MessageID,
		"attempts":  res.Attempts,
	})
}

// handleListJobs handles GET /api/jobs - the caller's jobs, newest first
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": s.jobs.List(userFromRequest(r)),
	})
}

// handleGetJob handles GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := s.jobs.Get(id)
	if !ok || snap.User != userFromRequest(r) {
		respondServiceError(w, apperrors.NewNotFoundError("job", id))
		return
	}
	respondJSON(w, http.StatusOK, snap)
}
