package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/auth-bridge/models"
	"github.com/upb/auth-bridge/services"
	"go.uber.org/zap"
)

// maxBodySize bounds how much of an identity response is read
const maxBodySize = 1 << 20

// UpstreamRecorder receives one observation per call to the identity API
type UpstreamRecorder interface {
	RecordUpstreamRequest(operation, outcome string, duration time.Duration)
}

// Config holds configuration for Client
type Config struct {
	BaseURL      string
	UserEndpoint string
	HTTPClient   *http.Client
	Metrics      UpstreamRecorder
}

// Client calls the remote identity API on behalf of a bearer token
type Client struct {
	baseURL      string
	userEndpoint string
	httpClient   *http.Client
	metrics      UpstreamRecorder
	logger       *zap.Logger
}

// NewClient creates a new identity API client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if cfg.UserEndpoint == "" {
		cfg.UserEndpoint = "/user"
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		userEndpoint: "/" + strings.TrimLeft(cfg.UserEndpoint, "/"),
		httpClient:   cfg.HTTPClient,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// BaseURL returns the API root the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchUser resolves the identity behind token. Context values are forwarded
// as request headers. No retries are attempted.
func (c *Client) FetchUser(ctx context.Context, token string, headers models.AuthContext) (models.IdentityPayload, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.userEndpoint, nil)
	if err != nil {
		return nil, services.WrapInternal("failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	for name, value := range headers {
		if value != "" {
			req.Header.Set(name, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record("fetch_user", "error", start)
		return nil, services.UpstreamUnavailable("identity request failed", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		c.record("fetch_user", outcomeFor(err), start)
		c.logger.Debug("identity request rejected", zap.Int("status", resp.StatusCode))
		return nil, err
	}

	payload, err := decodePayload(resp.Body)
	if err != nil {
		c.record("fetch_user", "rejected", start)
		return nil, err
	}

	c.record("fetch_user", "success", start)
	return payload, nil
}

// Health calls <base>/health and fails on any non-2xx answer
func (c *Client) Health(ctx context.Context) error {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return services.WrapInternal("failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record("health", "error", start)
		return services.UpstreamUnavailable("health request failed", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.record("health", "error", start)
		return services.UpstreamUnavailable(fmt.Sprintf("health check returned status %d", resp.StatusCode), nil)
	}

	c.record("health", "success", start)
	return nil
}

// Logout revokes token on the identity API. The caller decides whether a failure matters.
func (c *Client) Logout(ctx context.Context, serverBase, token string) error {
	start := time.Now()

	base := strings.TrimRight(serverBase, "/")
	if base == "" {
		base = c.baseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/logout", nil)
	if err != nil {
		return services.WrapInternal("failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record("logout", "error", start)
		return services.UpstreamUnavailable("logout request failed", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		c.record("logout", outcomeFor(err), start)
		return err
	}

	c.record("logout", "success", start)
	return nil
}

// statusError maps an HTTP status to the error taxonomy.
// 5xx means the identity source is unavailable; every other non-2xx,
// redirects included, is a rejection of the credential.
func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500:
		return services.UpstreamUnavailable(fmt.Sprintf("identity api returned status %d", status), nil)
	default:
		return services.NewDomainError(
			services.ErrorTypeUnauthenticated,
			fmt.Sprintf("identity api returned status %d", status),
			nil,
		).WithDetail("status", status)
	}
}

func outcomeFor(err error) string {
	if services.IsUpstreamError(err) {
		return "error"
	}
	return "rejected"
}

// decodePayload accepts a JSON object carrying a non-empty string "id",
// either at the top level or inside a "data" envelope
func decodePayload(body io.Reader) (models.IdentityPayload, error) {
	dec := json.NewDecoder(io.LimitReader(body, maxBodySize))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, services.Unauthenticated("malformed identity response", err)
	}

	object, ok := raw.(map[string]any)
	if !ok {
		return nil, services.Unauthenticated("identity response is not an object", nil)
	}

	payload := models.IdentityPayload(object)
	if _, ok := payload.ExternalID(); ok {
		return payload, nil
	}

	if data, ok := object["data"].(map[string]any); ok {
		envelope := models.IdentityPayload(data)
		if _, ok := envelope.ExternalID(); ok {
			return envelope, nil
		}
	}

	return nil, services.Unauthenticated("identity response has no id", nil)
}

func (c *Client) record(operation, outcome string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordUpstreamRequest(operation, outcome, time.Since(start))
	}
}
