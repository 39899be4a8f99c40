package completion

import (
	"context"
	"net/http"
	"strings"
)

// Ollama defaults.
const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "llama3"
)

// OllamaClient calls a local Ollama server's chat endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewOllamaClient creates an OllamaClient. Empty baseURL and model take the defaults.
func NewOllamaClient(baseURL, model string, hc *http.Client) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    hc,
	}
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Turn         `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message Turn `json:"message"`
	Done    bool `json:"done"`
}

// Complete implements Completer.
func (c *OllamaClient) Complete(ctx context.Context, systemPrompt string, history []Turn, prompt string) (string, error) {
	payload := ollamaRequest{
		Model:    c.model,
		Messages: buildMessages(systemPrompt, history, prompt),
		Stream:   false,
		Options: map[string]any{
			"temperature": defaultTemperature,
			"num_predict": defaultMaxTokens,
		},
	}

	var out ollamaResponse
	if err := postJSON(ctx, c.http, "ollama", c.baseURL+"/api/chat", "", payload, &out); err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Message.Content)
	if text == "" {
		return "", &Error{Provider: "ollama", Message: "empty completion"}
	}
	return text, nil
}
