package completion

import (
	"fmt"
	"net/http"

	"github.com/tidic84/InstaAi/internal/config"
)

// New builds the Completer selected by COMPLETION_PROVIDER.
func New(cfg *config.Config) (Completer, error) {
	timeout := cfg.CompletionTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := &http.Client{Timeout: timeout}

	switch cfg.CompletionProvider {
	case config.CompletionMistral, "":
		if cfg.MistralAPIKey == "" {
			return nil, fmt.Errorf("mistral completion requires MISTRAL_API_KEY")
		}
		return NewMistralClient(cfg.MistralBaseURL, cfg.MistralAPIKey, cfg.MistralModel, hc), nil
	case config.CompletionOllama:
		return NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel, hc), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cfg.CompletionProvider)
	}
}
