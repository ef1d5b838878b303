package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultImagePrompt is sent as the text part of an image turn that has no text.
const DefaultImagePrompt = "Analise esta imagem."

// Backend is one of the two chat backends. Implementations are selected once
// per process by NewBackend.
type Backend interface {
	Name() string
	// StartChat opens a brand-new conversation seeded with opts.
	StartChat(ctx context.Context, opts ChatOptions) (Conversation, error)
}

// Conversation is the backend-specific state of one chat session.
type Conversation interface {
	// SendMessageStream sends one user turn and streams the reply. Failures are
	// reported as a single terminal EventError, never as a returned error.
	SendMessageStream(ctx context.Context, in TurnInput) Stream
}

// StatelessGenerator is implemented by backends that can answer a single
// multimodal turn without a conversation.
type StatelessGenerator interface {
	GenerateStream(ctx context.Context, in TurnInput, opts ChatOptions) Stream
}

// ChatOptions seeds a conversation.
type ChatOptions struct {
	SystemInstruction string
	// ThinkingBudget is a reasoning-effort hint; zero means unset.
	ThinkingBudget int
}

// Image is an inline image attachment, base64 encoded without a URI scheme.
type Image struct {
	Base64   string
	MIMEType string
}

// DataURI returns the image as a data: URI.
func (img Image) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", img.MIMEType, img.Base64)
}

// TurnInput is one user message.
type TurnInput struct {
	Text  string
	Image *Image
}

// NewTurnInput builds a turn from the loose (text, base64, mime) triple used by
// callers. The image is attached only when both data and MIME type are set.
func NewTurnInput(text, imageBase64, mimeType string) TurnInput {
	in := TurnInput{Text: text}
	if imageBase64 != "" && mimeType != "" {
		in.Image = &Image{Base64: imageBase64, MIMEType: mimeType}
	}
	return in
}

// IsEmpty reports whether the turn carries neither text nor an image.
func (in TurnInput) IsEmpty() bool {
	return strings.TrimSpace(in.Text) == "" && in.Image == nil
}

// PromptText returns the text part to send, falling back to DefaultImagePrompt
// for image-only turns.
func (in TurnInput) PromptText() string {
	if in.Image != nil && strings.TrimSpace(in.Text) == "" {
		return DefaultImagePrompt
	}
	return in.Text
}

// Role identifies the author of a history entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image reference (a data: URI here).
type ImageURL struct {
	URL string `json:"url"`
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart creates an image content part from a data: URI.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// Content is either a plain string or a list of parts on the wire.
type Content struct {
	Text  string
	Parts []ContentPart
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*c = Content{}
		return nil
	case strings.HasPrefix(trimmed, "["):
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Content{Parts: parts}
		return nil
	default:
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*c = Content{Text: text}
		return nil
	}
}

// String returns the text of the content, joining text parts.
func (c Content) String() string {
	if c.Parts == nil {
		return c.Text
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Message is one entry of the History Log.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
	// ReasoningDetails is opaque backend data echoed back verbatim.
	ReasoningDetails json.RawMessage `json:"reasoning_details,omitempty"`
}

// SystemMessage creates the leading system turn.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: Content{Text: text}}
}

// UserMessage packs a turn into a user entry: a text part, then the image part
// when present.
func UserMessage(in TurnInput) Message {
	parts := []ContentPart{TextPart(in.PromptText())}
	if in.Image != nil {
		parts = append(parts, ImagePart(in.Image.DataURI()))
	}
	return Message{Role: RoleUser, Content: Content{Parts: parts}}
}

// AssistantMessage creates an assistant entry.
func AssistantMessage(text string, reasoning json.RawMessage) Message {
	return Message{Role: RoleAssistant, Content: Content{Text: text}, ReasoningDetails: reasoning}
}

// History is the ordered History Log of an HTTP-mode conversation.
type History []Message

// NewHistory starts a log with its single system turn.
func NewHistory(systemInstruction string) History {
	return History{SystemMessage(systemInstruction)}
}

// Clone returns a copy that shares no slice storage with h.
func (h History) Clone() History {
	out := make(History, len(h))
	copy(out, h)
	return out
}
