package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dispatch-orchestrator/internal/circuitbreaker"
	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *GatewayClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGatewayClient(GatewayConfig{
		BaseURL: srv.URL + "/",
		Token:   "secret",
		Timeout: 5 * time.Second,
		Breaker: &circuitbreaker.Config{MaxFailures: 2, Timeout: time.Minute},
	}, logging.Nop())
	require.NoError(t, err)
	return g
}

func TestGatewayClient_Send(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts/wa1/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "14155550100@c.us", req["chatId"])
		assert.Equal(t, "hello", req["text"])
		media := req["media"].(map[string]interface{})
		assert.Equal(t, "text/vcard", media["mimetype"])

		_ = json.NewEncoder(w).Encode(map[string]string{"messageId": "true_1415_ABC"})
	})

	id, err := g.Send(context.Background(), "wa1", "14155550100@c.us", Payload{
		Text:  "hello",
		Media: &Media{MimeType: "text/vcard", Data: "QkVHSU4=", FileName: "Ann.vcf"},
	})
	require.NoError(t, err)
	assert.Equal(t, "true_1415_ABC", id)
}

func TestGatewayClient_ErrorTextIsPreserved(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate-overlimit"})
	})

	_, err := g.Send(context.Background(), "wa1", "x@c.us", Payload{Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, "rate-overlimit", err.Error())

	var ge *GatewayError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, http.StatusTooManyRequests, ge.StatusCode)
}

func TestGatewayClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Send(ctx, "wa1", "x@c.us", Payload{Text: "hi"})
		require.Error(t, err)
	}
	_, err := g.Send(ctx, "wa1", "x@c.us", Payload{Text: "hi"})
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	_, err = g.Send(ctx, "wa2", "x@c.us", Payload{Text: "hi"})
	assert.NotErrorIs(t, err, circuitbreaker.ErrCircuitOpen, "breakers are per account")

	require.Error(t, g.Reconnect(ctx, "wa1"))
	assert.Equal(t, circuitbreaker.StateClosed, g.BreakerStats()["wa1"].State)
}

func TestGatewayClient_ClientErrorsDoNotOpenBreaker(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	for i := 0; i < 5; i++ {
		_, err := g.Send(context.Background(), "wa1", "x@c.us", Payload{Text: "hi"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	}
}

func TestGatewayClient_SessionCalls(t *testing.T) {
	var paths []string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, g.Reconnect(context.Background(), "wa 1"))
	require.NoError(t, g.Logout(context.Background(), "wa2"))
	assert.Equal(t, []string{"POST /accounts/wa 1/reconnect", "DELETE /accounts/wa2/session"}, paths)
}

func TestNewGatewayClient_RequiresURL(t *testing.T) {
	_, err := NewGatewayClient(GatewayConfig{}, nil)
	assert.Error(t, err)
}

func TestEventTypeValid(t *testing.T) {
	assert.True(t, EventAck.Valid())
	assert.True(t, EventQR.Valid())
	assert.False(t, EventType("authenticated").Valid())
}
