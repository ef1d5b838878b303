package llm

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

// FailureKind is the closed set of failure categories surfaced to users.
type FailureKind int

const (
	FailureTransport FailureKind = iota
	FailureConfigMissing
	FailureUnauthorized
	FailureRateLimited
	FailureUsage
)

func (k FailureKind) String() string {
	switch k {
	case FailureConfigMissing:
		return "config_missing"
	case FailureUnauthorized:
		return "unauthorized"
	case FailureRateLimited:
		return "rate_limited"
	case FailureUsage:
		return "usage"
	default:
		return "transport"
	}
}

// User-facing messages, one wording per kind for both backends.
const (
	MessageConfigMissing = "Erro de configuração: nenhuma chave de API foi encontrada. Defina api_key no arquivo de configuração ou a variável de ambiente API_KEY."
	MessageUnauthorized  = "Erro de autenticação. Verifique se a chave de API configurada está correta."
	MessageRateLimited   = "Muitas requisições. O serviço está ocupado, tente novamente em alguns instantes."
	MessageTransport     = "Desculpe, ocorreu um erro ao conectar com o serviço. Tente novamente."
	MessageUsage         = "Escolha uma matéria para iniciar a conversa antes de enviar mensagens."
)

var (
	// ErrConfigMissing indicates no credential was resolved.
	ErrConfigMissing = errors.New("api key not configured")

	// ErrUnauthorized indicates the backend rejected the credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the backend throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrUsage marks caller contract violations. These are returned
	// synchronously and never turned into stream events.
	ErrUsage = errors.New("usage error")
)

// APIError is a non-2xx response from an HTTP backend.
type APIError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error [%s] (HTTP %d): %s", e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Is lets callers match status classes with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// Failure is a classified error.
type Failure struct {
	Kind    FailureKind
	Message string
}

// Classify maps a failure to its kind and user-facing message.
func Classify(err error) Failure {
	kind := classifyKind(err)
	return Failure{Kind: kind, Message: messageFor(kind)}
}

func classifyKind(err error) FailureKind {
	if err == nil {
		return FailureTransport
	}

	switch {
	case errors.Is(err, ErrUsage):
		return FailureUsage
	case errors.Is(err, ErrConfigMissing):
		return FailureConfigMissing
	case errors.Is(err, ErrUnauthorized):
		return FailureUnauthorized
	case errors.Is(err, ErrRateLimited):
		return FailureRateLimited
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := kindForStatus(apiErr.Code); ok {
			return kind
		}
		if strings.EqualFold(apiErr.Status, "RESOURCE_EXHAUSTED") {
			return FailureRateLimited
		}
		if strings.EqualFold(apiErr.Status, "UNAUTHENTICATED") || strings.EqualFold(apiErr.Status, "PERMISSION_DENIED") {
			return FailureUnauthorized
		}
	}

	return kindForMessage(err.Error())
}

func kindForStatus(status int) (FailureKind, bool) {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return FailureUnauthorized, true
	case http.StatusTooManyRequests:
		return FailureRateLimited, true
	}
	return FailureTransport, false
}

var (
	unauthorizedSignatures = []string{"api key", "api_key_invalid", "unauthenticated", "permission_denied", "unauthorized"}
	rateLimitSignatures    = []string{"resource_exhausted", "rate limit", "too many requests"}

	// statusCodePattern matches a status code that opens the message or
	// follows a status keyword. Digits in addresses and ports never qualify.
	statusCodePattern = regexp.MustCompile(`(?i)(?:^|\b(?:status|http|code|error)\D{0,3})(401|403|429)\b`)
)

func kindForMessage(msg string) FailureKind {
	if m := statusCodePattern.FindStringSubmatch(strings.TrimSpace(msg)); m != nil {
		if m[1] == "429" {
			return FailureRateLimited
		}
		return FailureUnauthorized
	}

	lower := strings.ToLower(msg)
	for _, sig := range unauthorizedSignatures {
		if strings.Contains(lower, sig) {
			return FailureUnauthorized
		}
	}
	for _, sig := range rateLimitSignatures {
		if strings.Contains(lower, sig) {
			return FailureRateLimited
		}
	}
	return FailureTransport
}

func messageFor(kind FailureKind) string {
	switch kind {
	case FailureConfigMissing:
		return MessageConfigMissing
	case FailureUnauthorized:
		return MessageUnauthorized
	case FailureRateLimited:
		return MessageRateLimited
	case FailureUsage:
		return MessageUsage
	default:
		return MessageTransport
	}
}
