package llm

import (
	"context"
	"strings"

	"github.com/eduia/tutor/internal/config"
)

// OpenRouterKeyPrefix marks credentials routed to the HTTP backend.
const OpenRouterKeyPrefix = "sk-or-"

// Mode is the backend family selected from a credential.
type Mode int

const (
	ModeSDK Mode = iota
	ModeHTTP
)

func (m Mode) String() string {
	if m == ModeHTTP {
		return "http"
	}
	return "sdk"
}

// ModeForCredential routes a credential by its prefix.
func ModeForCredential(credential string) Mode {
	if strings.HasPrefix(strings.TrimSpace(credential), OpenRouterKeyPrefix) {
		return ModeHTTP
	}
	return ModeSDK
}

// NewBackend creates the backend for cfg's credential. It is the only place
// the two modes are told apart. A missing credential yields ErrConfigMissing.
func NewBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	credential := cfg.Credential()
	if credential == "" {
		return nil, ErrConfigMissing
	}

	switch ModeForCredential(credential) {
	case ModeHTTP:
		return NewOpenRouterProvider(credential, cfg.OpenRouter, cfg.AppURL, cfg.AppTitle), nil
	default:
		return NewGeminiProvider(ctx, credential, cfg.Gemini)
	}
}
