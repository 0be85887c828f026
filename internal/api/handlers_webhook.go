package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/dispatch-orchestrator/internal/adapter"
	apperrors "github.com/dispatch-orchestrator/internal/errors"
)

const maxWebhookBody = 1 << 20

// handleGatewayWebhook handles POST /webhooks/gateway. The body is one
// inbound event or an array of them; every event is queued for the event
// worker in order.
func (s *Server) handleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Failed to read body", nil)
		return
	}

	var batch []adapter.InboundEvent
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &batch)
	} else {
		var ev adapter.InboundEvent
		err = json.Unmarshal(trimmed, &ev)
		batch = []adapter.InboundEvent{ev}
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	for i, ev := range batch {
		if !ev.Type.Valid() {
			respondServiceError(w, apperrors.NewInvalidParameterError("type", "unknown event type").WithDetail("index", i))
			return
		}
		if ev.AccountID == "" && ev.Type != adapter.EventAck {
			respondServiceError(w, apperrors.NewInvalidParameterError("accountId", "accountId required").WithDetail("index", i))
			return
		}
	}

	accepted := 0
	for _, ev := range batch {
		select {
		case s.inbound <- ev:
			accepted++
		case <-r.Context().Done():
			respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"accepted": accepted})
			return
		}
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": accepted})
}
