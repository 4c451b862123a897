package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/harman698/OnGoPool/internal/domain/payments"
	"github.com/rs/zerolog"
)

var walletLogger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "wallet_rail").Logger()

// RequestIDHeader carries the idempotency key of a mutating call.
const RequestIDHeader = "PayPal-Request-Id"

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	Timeout      time.Duration
}

// Client talks to the wallet Orders v2 REST API.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	httpClient   *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ payments.Provider = (*Client)(nil)

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webhookID:    cfg.WebhookID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx answer from the wallet API. It unwraps to the
// payments sentinel it was classified as.
type APIError struct {
	StatusCode int
	Name       string
	Issue      string
	Message    string
	DebugID    string
	kind       error
}

func (e *APIError) Error() string {
	issue := e.Issue
	if issue == "" {
		issue = e.Name
	}
	return fmt.Sprintf("wallet api %d %s: %v", e.StatusCode, issue, e.kind)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

func classify(status int, issue string) error {
	switch issue {
	case IssueOrderNotApproved, IssueInstrumentDeclined:
		return payments.ErrNotApproved
	case IssueOrderAlreadyAuthorized:
		return payments.ErrAlreadyAuthorized
	case IssueAlreadyCaptured, IssuePreviouslyCaptured, IssueAuthorizationVoided,
		IssuePreviouslyVoided, IssueAuthorizationExpired:
		return payments.ErrInvalidState
	case IssueMaxCaptureExceeded, IssueRefundAmountExceeded:
		return payments.ErrAmountExceedsAuthorization
	}
	switch {
	case status >= 500, status == http.StatusUnauthorized, status == http.StatusTooManyRequests:
		return payments.ErrProviderUnavailable
	case status == http.StatusNotFound, status == http.StatusUnprocessableEntity:
		return payments.ErrInvalidState
	default:
		return payments.ErrValidation
	}
}

// accessToken returns the cached OAuth token, fetching a new one shortly
// before the old one lapses.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth token: %w", payments.ErrProviderUnavailable)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		walletLogger.Warn().Str("event", "wallet_token_failed").Int("status", resp.StatusCode).Msg("Wallet token request rejected")
		return "", fmt.Errorf("oauth token status %d: %w", resp.StatusCode, payments.ErrProviderUnavailable)
	}

	var tok TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("oauth token decode: %w", payments.ErrProviderUnavailable)
	}
	lifetime := time.Duration(tok.ExpiresIn) * time.Second
	if lifetime > time.Minute {
		lifetime -= time.Minute
	}
	c.token = tok.AccessToken
	c.tokenExpiry = time.Now().Add(lifetime)
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// makeRequest sends an authenticated JSON request.
func (c *Client) makeRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody []byte
	if body != nil {
		var err error
		reqBody, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if method != http.MethodGet {
		if key, ok := payments.IdempotencyKeyFrom(ctx); ok {
			req.Header.Set(RequestIDHeader, key)
		}
	}
	return c.httpClient.Do(req)
}

// do runs the request and decodes a 2xx body into out when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	resp, err := c.makeRequest(ctx, method, path, body)
	if err != nil {
		walletLogger.Warn().Str("event", "wallet_transport_error").Str("op", op).Err(err).Msg("Wallet rail unreachable")
		if errors.Is(err, payments.ErrProviderUnavailable) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w", op, payments.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, payments.ErrProviderUnavailable)
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var envelope ErrorResponse
	_ = json.Unmarshal(raw, &envelope)
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Name:       envelope.Name,
		Message:    envelope.Message,
		DebugID:    envelope.DebugID,
	}
	if len(envelope.Details) > 0 {
		apiErr.Issue = envelope.Details[0].Issue
	}
	apiErr.kind = classify(resp.StatusCode, apiErr.Issue)
	if resp.StatusCode == http.StatusUnauthorized {
		c.dropToken()
	}

	walletLogger.Warn().
		Str("event", "wallet_api_error").
		Str("op", op).
		Int("status", resp.StatusCode).
		Str("issue", apiErr.Issue).
		Str("debug_id", apiErr.DebugID).
		Str("message", apiErr.Message).
		Msg("Wallet rail returned an error")
	return fmt.Errorf("%s: %w", op, apiErr)
}
