package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"log/slog"

	"github.com/eduia/tutor/internal/config"
	"google.golang.org/genai"
)

// geminiChat is the part of *genai.Chat the provider uses.
type geminiChat interface {
	SendMessageStream(ctx context.Context, parts ...genai.Part) iter.Seq2[*genai.GenerateContentResponse, error]
}

// geminiModels is the part of genai.Models the provider uses.
type geminiModels interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// GeminiProvider is the SDK-mode backend. The SDK keeps text history itself;
// image turns are sent as stateless single-shot calls.
type GeminiProvider struct {
	model       string
	temperature float32
	search      bool

	models     geminiModels
	createChat func(ctx context.Context, model string, cfg *genai.GenerateContentConfig) (geminiChat, error)
}

// NewGeminiProvider creates an SDK-mode backend for apiKey.
func NewGeminiProvider(ctx context.Context, apiKey string, cfg config.GeminiConfig) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	p := newGeminiProvider(cfg, client.Models)
	p.createChat = func(ctx context.Context, model string, gc *genai.GenerateContentConfig) (geminiChat, error) {
		chat, err := client.Chats.Create(ctx, model, gc, nil)
		if err != nil {
			return nil, err
		}
		return chat, nil
	}
	return p, nil
}

func newGeminiProvider(cfg config.GeminiConfig, models geminiModels) *GeminiProvider {
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = config.DefaultGeminiTemperature
	}
	return &GeminiProvider{
		model:       orDefault(cfg.Model, config.DefaultGeminiModel),
		temperature: temperature,
		search:      cfg.Search,
		models:      models,
	}
}

func (p *GeminiProvider) Name() string {
	return fmt.Sprintf("Gemini (%s)", p.model)
}

// generateConfig builds the request config. A thinking budget replaces the
// temperature; the two are never sent together.
func (p *GeminiProvider) generateConfig(opts ChatOptions) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{}
	if opts.SystemInstruction != "" {
		gc.SystemInstruction = genai.NewContentFromText(opts.SystemInstruction, genai.RoleUser)
	}
	if opts.ThinkingBudget > 0 {
		gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(opts.ThinkingBudget))}
	} else {
		gc.Temperature = genai.Ptr(p.temperature)
	}
	if p.search {
		gc.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return gc
}

func (p *GeminiProvider) StartChat(ctx context.Context, opts ChatOptions) (Conversation, error) {
	chat, err := p.createChat(ctx, p.model, p.generateConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to start Gemini chat: %w", err)
	}
	slog.Debug("gemini chat started", "model", p.model, "thinking_budget", opts.ThinkingBudget)
	return &geminiConversation{provider: p, chat: chat, opts: opts}, nil
}

// GenerateStream answers one turn without touching any chat history.
func (p *GeminiProvider) GenerateStream(ctx context.Context, in TurnInput, opts ChatOptions) Stream {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		content, err := geminiContent(in)
		if err != nil {
			return err
		}
		seq := p.models.GenerateContentStream(ctx, p.model, []*genai.Content{content}, p.generateConfig(opts))
		return forwardGemini(ctx, seq, events)
	})
}

type geminiConversation struct {
	provider *GeminiProvider
	chat     geminiChat
	opts     ChatOptions
}

func (c *geminiConversation) SendMessageStream(ctx context.Context, in TurnInput) Stream {
	if in.Image != nil {
		return c.provider.GenerateStream(ctx, in, c.opts)
	}
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		seq := c.chat.SendMessageStream(ctx, genai.Part{Text: in.Text})
		return forwardGemini(ctx, seq, events)
	})
}

// geminiContent packs a turn as one user content: text first, then the image.
func geminiContent(in TurnInput) (*genai.Content, error) {
	parts := []*genai.Part{genai.NewPartFromText(in.PromptText())}
	if in.Image != nil {
		data, err := base64.StdEncoding.DecodeString(in.Image.Base64)
		if err != nil {
			return nil, fmt.Errorf("invalid image data: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, in.Image.MIMEType))
	}
	return genai.NewContentFromParts(parts, genai.RoleUser), nil
}

func forwardGemini(ctx context.Context, seq iter.Seq2[*genai.GenerateContentResponse, error], events chan<- Event) error {
	for resp, err := range seq {
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		if err := emit(ctx, events, Event{Type: EventTextDelta, Text: text}); err != nil {
			return err
		}
	}
	return nil
}
