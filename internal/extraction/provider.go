package extraction

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted by NewCompleter.
const (
	ProviderNone      = "none"
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// ProviderConfig selects and configures a completion provider.
type ProviderConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// NewCompleter builds the configured provider. ProviderNone yields a nil
// Completer, which disables the model step.
func NewCompleter(ctx context.Context, cfg ProviderConfig) (Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return nil, nil
	case ProviderGemini:
		return NewGemini(ctx, cfg.APIKey, cfg.Model)
	case ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case ProviderAnthropic:
		return NewAnthropic(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case ProviderOllama:
		return NewOllama(cfg.BaseURL, cfg.Model), nil
	}
	return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
}
