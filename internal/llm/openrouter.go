package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eduia/tutor/internal/config"
	"github.com/eduia/tutor/internal/sse"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// openRouterHTTPTimeout bounds non-streaming requests. Streaming requests are
// bounded by their context only.
const openRouterHTTPTimeout = 2 * time.Minute

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 * 1024

// OpenRouterProvider talks to an OpenAI-compatible chat completions endpoint
// and keeps conversation history explicitly.
type OpenRouterProvider struct {
	apiKey         string
	baseURL        string
	model          string
	reasoningModel string
	appURL         string
	appTitle       string
	stream         bool

	client       *http.Client
	streamClient *http.Client
}

// NewOpenRouterProvider creates an HTTP-mode backend.
func NewOpenRouterProvider(apiKey string, cfg config.OpenRouterConfig, appURL, appTitle string) *OpenRouterProvider {
	baseURL := strings.TrimRight(orDefault(cfg.BaseURL, openRouterBaseURL), "/")
	return &OpenRouterProvider{
		apiKey:         apiKey,
		baseURL:        baseURL,
		model:          orDefault(cfg.Model, config.DefaultOpenRouterModel),
		reasoningModel: orDefault(cfg.ReasoningModel, cfg.Model),
		appURL:         appURL,
		appTitle:       appTitle,
		stream:         cfg.Stream,
		client:         &http.Client{Timeout: openRouterHTTPTimeout},
		streamClient:   &http.Client{},
	}
}

func (p *OpenRouterProvider) Name() string {
	return fmt.Sprintf("OpenRouter (%s)", p.model)
}

// modelFor picks the reasoning-capable variant when a thinking budget is set.
func (p *OpenRouterProvider) modelFor(opts ChatOptions) string {
	if opts.ThinkingBudget > 0 {
		return orDefault(p.reasoningModel, p.model)
	}
	return p.model
}

func (p *OpenRouterProvider) StartChat(ctx context.Context, opts ChatOptions) (Conversation, error) {
	return &openRouterConversation{
		provider: p,
		opts:     opts,
		history:  NewHistory(opts.SystemInstruction),
	}, nil
}

type openRouterConversation struct {
	provider *OpenRouterProvider
	opts     ChatOptions

	mu      sync.Mutex
	history History
}

// History returns a copy of the conversation's History Log.
func (c *openRouterConversation) History() History {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Clone()
}

// SendMessageStream appends the user turn immediately and the assistant turn
// once the reply is complete. A failed turn leaves only the user entry.
func (c *openRouterConversation) SendMessageStream(ctx context.Context, in TurnInput) Stream {
	c.mu.Lock()
	c.history = append(c.history, UserMessage(in))
	snapshot := c.history.Clone()
	c.mu.Unlock()

	model := c.provider.modelFor(c.opts)
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		reply, err := c.provider.complete(ctx, model, snapshot, c.opts, events)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.history = append(c.history, reply)
		c.mu.Unlock()
		return nil
	})
}

type openRouterRequest struct {
	Model     string               `json:"model"`
	Messages  History              `json:"messages"`
	Stream    bool                 `json:"stream"`
	Reasoning *openRouterReasoning `json:"reasoning,omitempty"`
}

type openRouterReasoning struct {
	Enabled   bool `json:"enabled"`
	MaxTokens int  `json:"max_tokens,omitempty"`
}

type openRouterError struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

type openRouterUsage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// openRouterChunk is one decoded stream frame.
type openRouterChunk struct {
	Choices []struct {
		Delta struct {
			Content          string          `json:"content"`
			ReasoningDetails json.RawMessage `json:"reasoning_details"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openRouterUsage `json:"usage"`
	Error *openRouterError `json:"error"`
}

type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Content          string          `json:"content"`
			ReasoningDetails json.RawMessage `json:"reasoning_details"`
		} `json:"message"`
	} `json:"choices"`
	Usage *openRouterUsage `json:"usage"`
	Error *openRouterError `json:"error"`
}

// complete issues one request for history and returns the assistant entry to
// append. Text fragments are emitted as they are decoded.
func (p *OpenRouterProvider) complete(ctx context.Context, model string, history History, opts ChatOptions, events chan<- Event) (Message, error) {
	reqBody := openRouterRequest{
		Model:     model,
		Messages:  history,
		Stream:    p.stream,
		Reasoning: &openRouterReasoning{Enabled: true, MaxTokens: opts.ThinkingBudget},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Message{}, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	client := p.client
	if p.stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		client = p.streamClient
	}

	slog.Debug("openrouter request", "model", model, "messages", len(history), "stream", p.stream)
	resp, err := client.Do(httpReq)
	if err != nil {
		return Message{}, fmt.Errorf("OpenRouter request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Message{}, readAPIError(resp)
	}

	if !p.stream {
		return p.readResponse(ctx, resp.Body, events)
	}
	return p.readStream(ctx, resp.Body, events)
}

func (p *OpenRouterProvider) readStream(ctx context.Context, body io.Reader, events chan<- Event) (Message, error) {
	dec := sse.NewDecoder[openRouterChunk](body)
	dec.OnMalformed = func(payload []byte, err error) {
		slog.Debug("openrouter: dropped malformed frame", "error", err, "payload", truncate(string(payload), 200))
	}

	var text strings.Builder
	var reasoning reasoningAccumulator
	for {
		chunk, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Message{}, fmt.Errorf("OpenRouter streaming error: %w", err)
		}
		if chunk.Error != nil {
			return Message{}, chunk.Error.asAPIError()
		}
		if chunk.Usage != nil {
			logUsage(chunk.Usage)
		}
		for _, choice := range chunk.Choices {
			reasoning.add(choice.Delta.ReasoningDetails)
			if choice.Delta.Content == "" {
				continue
			}
			text.WriteString(choice.Delta.Content)
			if err := emit(ctx, events, Event{Type: EventTextDelta, Text: choice.Delta.Content}); err != nil {
				return Message{}, err
			}
		}
	}

	if dec.Decoded() == 0 && !dec.SawSentinel() {
		return Message{}, fmt.Errorf("OpenRouter returned no stream frames (%d malformed)", dec.Malformed())
	}
	return AssistantMessage(text.String(), reasoning.payload()), nil
}

func (p *OpenRouterProvider) readResponse(ctx context.Context, body io.Reader, events chan<- Event) (Message, error) {
	var resp openRouterResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return Message{}, fmt.Errorf("failed to decode OpenRouter response: %w", err)
	}
	if resp.Error != nil {
		return Message{}, resp.Error.asAPIError()
	}
	if len(resp.Choices) == 0 {
		return Message{}, fmt.Errorf("OpenRouter returned no choices")
	}
	if resp.Usage != nil {
		logUsage(resp.Usage)
	}

	msg := resp.Choices[0].Message
	if msg.Content != "" {
		if err := emit(ctx, events, Event{Type: EventTextDelta, Text: msg.Content}); err != nil {
			return Message{}, err
		}
	}
	var reasoning reasoningAccumulator
	reasoning.add(msg.ReasoningDetails)
	return AssistantMessage(msg.Content, reasoning.payload()), nil
}

// setHeaders sets the auth and app identification headers OpenRouter expects.
func (p *OpenRouterProvider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if p.appURL != "" {
		req.Header.Set("HTTP-Referer", p.appURL)
	}
	if p.appTitle != "" {
		req.Header.Set("X-Title", p.appTitle)
	}
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{Provider: "OpenRouter", StatusCode: resp.StatusCode}
	var parsed struct {
		Error *openRouterError `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		apiErr.Message = parsed.Error.Message
		apiErr.Code = strings.Trim(string(parsed.Error.Code), `"`)
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// asAPIError converts an in-band error frame. Numeric codes are HTTP statuses.
func (e *openRouterError) asAPIError() *APIError {
	code := strings.Trim(string(e.Code), `"`)
	apiErr := &APIError{Provider: "OpenRouter", Code: code, Message: e.Message}
	if status, err := strconv.Atoi(code); err == nil {
		apiErr.StatusCode = status
	}
	return apiErr
}

func logUsage(u *openRouterUsage) {
	slog.Debug("openrouter usage",
		"prompt_tokens", u.PromptTokens,
		"completion_tokens", u.CompletionTokens,
		"total_tokens", u.TotalTokens,
		"cost", u.Cost,
	)
}

// reasoningAccumulator collects reasoning_details fragments. String fragments
// concatenate; a structured fragment replaces whatever came before.
type reasoningAccumulator struct {
	text       strings.Builder
	structured json.RawMessage
}

func (a *reasoningAccumulator) add(fragment json.RawMessage) {
	fragment = bytes.TrimSpace(fragment)
	if len(fragment) == 0 || bytes.Equal(fragment, []byte("null")) {
		return
	}
	if fragment[0] == '"' {
		var s string
		if err := json.Unmarshal(fragment, &s); err != nil {
			return
		}
		if a.structured != nil {
			a.structured = nil
			a.text.Reset()
		}
		a.text.WriteString(s)
		return
	}
	a.structured = append(json.RawMessage(nil), fragment...)
	a.text.Reset()
}

// payload returns the accumulated value, or nil when nothing was captured.
func (a *reasoningAccumulator) payload() json.RawMessage {
	if a.structured != nil {
		return a.structured
	}
	if a.text.Len() == 0 {
		return nil
	}
	data, err := json.Marshal(a.text.String())
	if err != nil {
		return nil
	}
	return data
}
