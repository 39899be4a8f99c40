package completion

import (
	"context"
	"net/http"
	"strings"
)

// Mistral request defaults.
const (
	DefaultMistralBaseURL = "https://api.mistral.ai"
	DefaultMistralModel   = "mistral-large-latest"
)

// MistralClient calls the Mistral chat completions API.
type MistralClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewMistralClient creates a MistralClient. Empty baseURL and model take the defaults.
func NewMistralClient(baseURL, apiKey, model string, hc *http.Client) *MistralClient {
	if baseURL == "" {
		baseURL = DefaultMistralBaseURL
	}
	if model == "" {
		model = DefaultMistralModel
	}
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	return &MistralClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    hc,
	}
}

type mistralRequest struct {
	Model       string  `json:"model"`
	Messages    []Turn  `json:"messages"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type mistralResponse struct {
	Choices []struct {
		Message Turn `json:"message"`
	} `json:"choices"`
}

// Complete implements Completer.
func (c *MistralClient) Complete(ctx context.Context, systemPrompt string, history []Turn, prompt string) (string, error) {
	payload := mistralRequest{
		Model:       c.model,
		Messages:    buildMessages(systemPrompt, history, prompt),
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	}

	var out mistralResponse
	if err := postJSON(ctx, c.http, "mistral", c.baseURL+"/v1/chat/completions", c.apiKey, payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", &Error{Provider: "mistral", Message: "no choices returned"}
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", &Error{Provider: "mistral", Message: "empty completion"}
	}
	return text, nil
}
