package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dispatch-orchestrator/internal/circuitbreaker"
	"github.com/dispatch-orchestrator/internal/logging"
	"github.com/google/uuid"
)

// GatewayConfig configures the HTTP messaging gateway client
type GatewayConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Breaker is the per-account circuit breaker template. Nil uses defaults.
	Breaker *circuitbreaker.Config
}

// GatewayError is a non-2xx reply from the gateway. Message carries the
// gateway's own failure text so that it can be classified.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned status %d", e.StatusCode)
	}
	return e.Message
}

// GatewayClient talks to a messaging gateway that hosts the account sessions.
//
//	POST   {base}/accounts/{id}/messages   {"chatId", "text", "media"} -> {"messageId"}
//	POST   {base}/accounts/{id}/reconnect
//	DELETE {base}/accounts/{id}/session
type GatewayClient struct {
	baseURL  string
	token    string
	client   *http.Client
	breakers *circuitbreaker.Manager
	logger   *logging.Logger
}

// NewGatewayClient creates a gateway client
func NewGatewayClient(cfg GatewayConfig, logger *logging.Logger) (*GatewayClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	tmpl := cfg.Breaker
	if tmpl == nil {
		tmpl = circuitbreaker.DefaultConfig("")
	}
	breakerCfg := *tmpl
	breakerCfg.IsFailure = isGatewayFailure

	return &GatewayClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		client:   &http.Client{Timeout: cfg.Timeout},
		breakers: circuitbreaker.NewManager(&breakerCfg),
		logger:   logger.WithField("component", "gateway"),
	}, nil
}

// isGatewayFailure counts network errors and 5xx replies against the
// breaker. A 4xx means the gateway is healthy and refused this message.
func isGatewayFailure(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.StatusCode >= 500
	}
	return true
}

type sendRequest struct {
	ChatID string `json:"chatId"`
	Payload
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Send delivers one payload through the account's session
func (g *GatewayClient) Send(ctx context.Context, accountID, address string, p Payload) (string, error) {
	var resp sendResponse
	err := g.breakers.GetOrCreate(accountID).Execute(ctx, func(ctx context.Context) error {
		return g.do(ctx, http.MethodPost, g.accountURL(accountID, "messages"), sendRequest{ChatID: address, Payload: p}, &resp)
	})
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// Reconnect asks the gateway to restart the account session
func (g *GatewayClient) Reconnect(ctx context.Context, accountID string) error {
	g.breakers.GetOrCreate(accountID).Reset()
	return g.do(ctx, http.MethodPost, g.accountURL(accountID, "reconnect"), nil, nil)
}

// Logout drops the account session on the gateway
func (g *GatewayClient) Logout(ctx context.Context, accountID string) error {
	g.breakers.Remove(accountID)
	return g.do(ctx, http.MethodDelete, g.accountURL(accountID, "session"), nil, nil)
}

// BreakerStats returns the per-account circuit breaker statistics
func (g *GatewayClient) BreakerStats() map[string]*circuitbreaker.Stats {
	return g.breakers.GetAllStats()
}

func (g *GatewayClient) accountURL(accountID, action string) string {
	return fmt.Sprintf("%s/accounts/%s/%s", g.baseURL, url.PathEscape(accountID), action)
}

func (g *GatewayClient) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er errorResponse
		_ = json.Unmarshal(data, &er)
		g.logger.WithFields(map[string]interface{}{
			"requestId": reqID,
			"status":    resp.StatusCode,
			"endpoint":  endpoint,
		}).Debug("Gateway request rejected")
		return &GatewayError{StatusCode: resp.StatusCode, Message: er.Error}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}
