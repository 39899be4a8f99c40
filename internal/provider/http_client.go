package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Error codes the gateway uses for login challenges.
const (
	codeTwoFactorRequired  = "two_factor_required"
	codeCheckpointRequired = "checkpoint_required"
)

// maxResponseSize bounds the body read from the gateway.
const maxResponseSize = 5 << 20

// HTTPClientConfig configures HTTPClient.
type HTTPClientConfig struct {
	BaseURL string
	// Token authenticates this service to the gateway. Sessions carry their own token.
	Token string
	// Timeout bounds every single call, including the body read.
	Timeout time.Duration
	// RequestsPerSecond caps the request rate towards the gateway. Zero disables the cap.
	RequestsPerSecond float64
}

// HTTPClient implements Client against a JSON provider gateway.
// It does not retry; callers wrap it with a retry policy.
type HTTPClient struct {
	baseURL    string
	token      string
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewHTTPClient creates an HTTPClient. A nil httpClient uses a default client.
func NewHTTPClient(cfg HTTPClientConfig, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		timeout:    cfg.Timeout,
		limiter:    limiter,
		httpClient: httpClient,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionToken string `json:"session_token"`
	UserID       string `json:"user_id"`
}

type inboxResponse struct {
	Threads []Thread `json:"threads"`
}

type sendRequest struct {
	Text string `json:"text"`
}

// Login implements Client.
func (c *HTTPClient) Login(ctx context.Context, username, secret string) (*Session, error) {
	var out loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/sessions", "", loginRequest{Username: username, Password: secret}, &out); err != nil {
		return nil, err
	}
	if out.SessionToken == "" {
		return nil, &ProviderError{StatusCode: http.StatusOK, Message: "login response has no session token"}
	}
	return &Session{
		RemoteUserID: out.UserID,
		Token:        out.SessionToken,
		CreatedAt:    time.Now(),
	}, nil
}

// ListInboxThreads implements Client.
func (c *HTTPClient) ListInboxThreads(ctx context.Context, s *Session) ([]Thread, error) {
	var out inboxResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/inbox", s.Token, nil, &out); err != nil {
		return nil, err
	}
	return out.Threads, nil
}

// ListThreadMessages implements Client.
func (c *HTTPClient) ListThreadMessages(ctx context.Context, s *Session, threadID, cursor string) (*MessagePage, error) {
	path := "/v1/threads/" + url.PathEscape(threadID) + "/items"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	var out MessagePage
	if err := c.doJSON(ctx, http.MethodGet, path, s.Token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMessage implements Client.
func (c *HTTPClient) SendMessage(ctx context.Context, s *Session, threadID, text string) error {
	path := "/v1/threads/" + url.PathEscape(threadID) + "/items"
	return c.doJSON(ctx, http.MethodPost, path, s.Token, sendRequest{Text: text}, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath, sessionToken string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if sessionToken != "" {
		req.Header.Set("X-Session-Token", sessionToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &ProviderError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return &ProviderError{StatusCode: resp.StatusCode, Message: "malformed response body", Err: err}
		}
		return nil
	}

	return classifyResponse(resp, payload)
}

// classifyResponse maps a non-2xx gateway response onto the error taxonomy.
func classifyResponse(resp *http.Response, payload []byte) error {
	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)

	switch {
	case errPayload.Code == codeTwoFactorRequired || errPayload.Code == codeCheckpointRequired:
		return &TwoFactorRequiredError{Message: errPayload.Message}
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthenticationError{Message: errPayload.Message}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    errPayload.Message,
		}
	default:
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
