// Package completion talks to the external chat completion services that draft reply suggestions.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTimeout bounds one completion round trip.
const DefaultTimeout = 60 * time.Second

// Sampling settings sent with every request.
const (
	defaultMaxTokens   = 300
	defaultTemperature = 0.7
)

// Turn is one prior line of the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces one reply for prompt given a system instruction and prior turns.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, history []Turn, prompt string) (string, error)
}

// Error is returned for any failed completion, including empty answers.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s completion failed (%d): %s", e.Provider, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s completion failed: %s: %v", e.Provider, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s completion failed: %s", e.Provider, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// buildMessages lays out system prompt, history and prompt in chat order.
func buildMessages(systemPrompt string, history []Turn, prompt string) []Turn {
	msgs := make([]Turn, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, Turn{Role: RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, Turn{Role: RoleUser, Content: prompt})
	return msgs
}

// postJSON sends payload to url and decodes a 200 response into out.
func postJSON(ctx context.Context, hc *http.Client, providerName, url, apiKey string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Provider: providerName, Message: "failed to marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Provider: providerName, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return &Error{Provider: providerName, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Provider: providerName, Message: "failed to read response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{Provider: providerName, StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Provider: providerName, Message: "failed to parse response", Err: err}
	}
	return nil
}
