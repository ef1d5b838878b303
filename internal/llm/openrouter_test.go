package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/eduia/tutor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedRequest is what the fake endpoint saw for one call.
type recordedRequest struct {
	Header http.Header
	Body   []byte
}

func (r recordedRequest) decode(t *testing.T) openRouterRequest {
	t.Helper()
	var req openRouterRequest
	require.NoError(t, json.Unmarshal(r.Body, &req))
	return req
}

// openRouterFake serves scripted responses in order and records each request.
type openRouterFake struct {
	t         *testing.T
	server    *httptest.Server
	mu        sync.Mutex
	requests  []recordedRequest
	responses []func(w http.ResponseWriter)
}

func newOpenRouterFake(t *testing.T) *openRouterFake {
	f := &openRouterFake{t: t}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *openRouterFake) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/chat/completions" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Header: r.Header.Clone(), Body: body})
	idx := len(f.requests) - 1
	var respond func(http.ResponseWriter)
	if idx < len(f.responses) {
		respond = f.responses[idx]
	}
	f.mu.Unlock()

	if respond == nil {
		http.Error(w, "no response scripted", http.StatusInternalServerError)
		return
	}
	respond(w)
}

func (f *openRouterFake) respond(fn func(w http.ResponseWriter)) *openRouterFake {
	f.responses = append(f.responses, fn)
	return f
}

func (f *openRouterFake) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *openRouterFake) provider(stream bool) *OpenRouterProvider {
	return NewOpenRouterProvider("sk-or-v1-test", config.OpenRouterConfig{
		BaseURL:        f.server.URL + "/api/v1/",
		Model:          "google/gemini-2.5-flash",
		ReasoningModel: "google/gemini-2.5-pro",
		Stream:         stream,
	}, "https://example.com/tutor", "EduIA")
}

func sseResponse(frames ...string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func jsonResponse(status int, body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}
}

func deltaFrame(content string) string {
	data, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": content}}},
	})
	return "data: " + string(data) + "\n\n"
}

func reasoningFrame(raw string) string {
	return `data: {"choices":[{"delta":{"content":"","reasoning_details":` + raw + `}}]}` + "\n\n"
}

const doneFrame = "data: [DONE]\n\n"

func startOpenRouter(t *testing.T, p *OpenRouterProvider, opts ChatOptions) *openRouterConversation {
	t.Helper()
	conv, err := p.StartChat(context.Background(), opts)
	require.NoError(t, err)
	return conv.(*openRouterConversation)
}

func collectEvents(t *testing.T, stream Stream) []Event {
	t.Helper()
	defer stream.Close()
	var events []Event
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestOpenRouterStreamingTurn(t *testing.T) {
	fake := newOpenRouterFake(t).respond(sseResponse(
		": OPENROUTER PROCESSING\n\n",
		deltaFrame("A fotossíntese "),
		reasoningFrame(`"pensando "`),
		deltaFrame("transforma luz "),
		"data: {broken\n\n",
		reasoningFrame(`"mais"`),
		deltaFrame("em energia."),
		`data: {"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}}`+"\n\n",
		doneFrame,
	))
	conv := startOpenRouter(t, fake.provider(true), ChatOptions{SystemInstruction: "Você é um tutor de Ciências."})

	events := collectEvents(t, conv.SendMessageStream(context.Background(), TurnInput{Text: "O que é fotossíntese?"}))

	var deltas []string
	for _, ev := range events {
		require.Equal(t, EventTextDelta, ev.Type)
		deltas = append(deltas, ev.Text)
	}
	assert.Equal(t, []string{"A fotossíntese ", "transforma luz ", "em energia."}, deltas)

	history := conv.History()
	require.Len(t, history, 3)
	assert.Equal(t, RoleSystem, history[0].Role)
	assert.Equal(t, "Você é um tutor de Ciências.", history[0].Content.String())
	assert.Equal(t, RoleUser, history[1].Role)
	assert.Equal(t, "O que é fotossíntese?", history[1].Content.String())
	assert.Equal(t, RoleAssistant, history[2].Role)
	assert.Equal(t, "A fotossíntese transforma luz em energia.", history[2].Content.String())
	assert.JSONEq(t, `"pensando mais"`, string(history[2].ReasoningDetails))

	reqs := fake.recorded()
	require.Len(t, reqs, 1)
	h := reqs[0].Header
	assert.Equal(t, "Bearer sk-or-v1-test", h.Get("Authorization"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "https://example.com/tutor", h.Get("HTTP-Referer"))
	assert.Equal(t, "EduIA", h.Get("X-Title"))
	assert.Equal(t, "text/event-stream", h.Get("Accept"))

	req := reqs[0].decode(t)
	assert.Equal(t, "google/gemini-2.5-flash", req.Model)
	assert.True(t, req.Stream)
	require.NotNil(t, req.Reasoning)
	assert.True(t, req.Reasoning.Enabled)
	assert.Zero(t, req.Reasoning.MaxTokens)
	require.Len(t, req.Messages, 2)
}

func TestOpenRouterReasoningCarryOver(t *testing.T) {
	structured := `[{"type":"reasoning.encrypted","data":"b3BhcXVl","id":"r1","format":"google-gemini-v1","index":0}]`
	fake := newOpenRouterFake(t).
		respond(sseResponse(deltaFrame("Primeira."), reasoningFrame(structured), doneFrame)).
		respond(sseResponse(deltaFrame("Segunda."), doneFrame))
	conv := startOpenRouter(t, fake.provider(true), ChatOptions{SystemInstruction: "Matemática", ThinkingBudget: 8192})

	text, err := CollectText(conv.SendMessageStream(context.Background(), TurnInput{Text: "um"}))
	require.NoError(t, err)
	assert.Equal(t, "Primeira.", text)

	text, err = CollectText(conv.SendMessageStream(context.Background(), TurnInput{Text: "dois"}))
	require.NoError(t, err)
	assert.Equal(t, "Segunda.", text)

	reqs := fake.recorded()
	require.Len(t, reqs, 2)

	var second struct {
		Messages []map[string]json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(reqs[1].Body, &second))
	require.Len(t, second.Messages, 4)
	assert.JSONEq(t, `"assistant"`, string(second.Messages[2]["role"]))
	assert.Equal(t, structured, string(second.Messages[2]["reasoning_details"]))
	_, hasReasoning := second.Messages[1]["reasoning_details"]
	assert.False(t, hasReasoning, "user turns carry no reasoning")

	first := reqs[0].decode(t)
	assert.Equal(t, "google/gemini-2.5-pro", first.Model, "thinking budget routes to the reasoning model")
	assert.Equal(t, 8192, first.Reasoning.MaxTokens)
}

func TestOpenRouterUnauthorized(t *testing.T) {
	fake := newOpenRouterFake(t).respond(jsonResponse(http.StatusUnauthorized, `{"error":{"message":"No auth credentials found","code":401}}`))
	conv := startOpenRouter(t, fake.provider(true), ChatOptions{SystemInstruction: "Geral"})

	events := collectEvents(t, conv.SendMessageStream(context.Background(), TurnInput{Text: "oi"}))
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, MessageUnauthorized, events[0].Text)
	assert.ErrorIs(t, events[0].Err, ErrUnauthorized)

	var apiErr *APIError
	require.ErrorAs(t, events[0].Err, &apiErr)
	assert.Equal(t, "No auth credentials found", apiErr.Message)
	assert.Equal(t, "401", apiErr.Code)

	history := conv.History()
	require.Len(t, history, 2, "failed turn keeps only the user entry")
	assert.Equal(t, RoleUser, history[1].Role)
}

func TestOpenRouterFailures(t *testing.T) {
	tests := []struct {
		name    string
		respond func(http.ResponseWriter)
		want    string
	}{
		{"rate limited", jsonResponse(http.StatusTooManyRequests, `{"error":{"message":"Rate limit exceeded","code":429}}`), MessageRateLimited},
		{"forbidden", jsonResponse(http.StatusForbidden, `{"error":{"message":"Key disabled","code":403}}`), MessageUnauthorized},
		{"server error", jsonResponse(http.StatusBadGateway, `upstream unavailable`), MessageTransport},
		{"error frame", sseResponse(deltaFrame("par"), `data: {"error":{"message":"Provider returned error","code":502}}`+"\n\n"), MessageTransport},
		{"error frame rate limit", sseResponse(`data: {"error":{"message":"slow down","code":429}}` + "\n\n"), MessageRateLimited},
		{"html instead of stream", jsonResponse(http.StatusOK, "<html>gateway says hi</html>"), MessageTransport},
		{"json body without framing", jsonResponse(http.StatusOK, `{"choices":[{"message":{"content":"oi"}}]}`), MessageTransport},
		{"only malformed frames", sseResponse("data: {not json\n\n"), MessageTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newOpenRouterFake(t).respond(tt.respond)
			conv := startOpenRouter(t, fake.provider(true), ChatOptions{})

			events := collectEvents(t, conv.SendMessageStream(context.Background(), TurnInput{Text: "oi"}))
			require.NotEmpty(t, events)
			last := events[len(events)-1]
			assert.Equal(t, EventError, last.Type)
			assert.Equal(t, tt.want, last.Text)
			for _, ev := range events[:len(events)-1] {
				assert.Equal(t, EventTextDelta, ev.Type)
			}
			assert.Len(t, conv.History(), 2)
		})
	}
}

func TestOpenRouterTransportFailure(t *testing.T) {
	fake := newOpenRouterFake(t)
	p := fake.provider(true)
	fake.server.Close()

	conv := startOpenRouter(t, p, ChatOptions{})
	text, err := CollectText(conv.SendMessageStream(context.Background(), TurnInput{Text: "oi"}))
	require.Error(t, err)
	assert.Equal(t, MessageTransport, text)
	assert.Len(t, conv.History(), 2)
}

func TestOpenRouterMultimodalPacking(t *testing.T) {
	fake := newOpenRouterFake(t).respond(sseResponse(deltaFrame("Um triângulo."), doneFrame))
	conv := startOpenRouter(t, fake.provider(true), ChatOptions{SystemInstruction: "Matemática"})

	_, err := CollectText(conv.SendMessageStream(context.Background(), NewTurnInput("Que figura é esta?", "AAAA", "image/png")))
	require.NoError(t, err)

	var body struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	reqs := fake.recorded()
	require.Len(t, reqs, 1)
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	require.Len(t, body.Messages, 2)

	assert.JSONEq(t, `"Matemática"`, string(body.Messages[0].Content))
	assert.JSONEq(t, `[
		{"type":"text","text":"Que figura é esta?"},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}
	]`, string(body.Messages[1].Content))
}

func TestOpenRouterImageOnlyTurn(t *testing.T) {
	fake := newOpenRouterFake(t).respond(sseResponse(deltaFrame("ok"), doneFrame))
	conv := startOpenRouter(t, fake.provider(true), ChatOptions{})

	_, err := CollectText(conv.SendMessageStream(context.Background(), NewTurnInput("", "AAAA", "image/jpeg")))
	require.NoError(t, err)

	req := fake.recorded()[0].decode(t)
	parts := req.Messages[1].Content.Parts
	require.Len(t, parts, 2)
	assert.Equal(t, DefaultImagePrompt, parts[0].Text)
	assert.Equal(t, "data:image/jpeg;base64,AAAA", parts[1].ImageURL.URL)
}

func TestOpenRouterNonStreaming(t *testing.T) {
	fake := newOpenRouterFake(t).respond(jsonResponse(http.StatusOK, `{
		"choices":[{"message":{"role":"assistant","content":"Resposta completa.","reasoning_details":[{"type":"reasoning.text","text":"r"}]}}],
		"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}
	}`))
	conv := startOpenRouter(t, fake.provider(false), ChatOptions{SystemInstruction: "Português"})

	events := collectEvents(t, conv.SendMessageStream(context.Background(), TurnInput{Text: "Corrija."}))
	require.Len(t, events, 1)
	assert.Equal(t, "Resposta completa.", events[0].Text)

	history := conv.History()
	require.Len(t, history, 3)
	assert.JSONEq(t, `[{"type":"reasoning.text","text":"r"}]`, string(history[2].ReasoningDetails))

	reqs := fake.recorded()
	assert.False(t, reqs[0].decode(t).Stream)
	assert.Empty(t, reqs[0].Header.Get("Accept"))
}

func TestOpenRouterNonStreamingNoChoices(t *testing.T) {
	fake := newOpenRouterFake(t).respond(jsonResponse(http.StatusOK, `{"choices":[]}`))
	conv := startOpenRouter(t, fake.provider(false), ChatOptions{})

	text, err := CollectText(conv.SendMessageStream(context.Background(), TurnInput{Text: "oi"}))
	require.Error(t, err)
	assert.Equal(t, MessageTransport, text)
}

func TestOpenRouterStartChatReplacesHistory(t *testing.T) {
	fake := newOpenRouterFake(t).
		respond(sseResponse(deltaFrame("um"), doneFrame)).
		respond(sseResponse(deltaFrame("dois"), doneFrame))
	p := fake.provider(true)

	first := startOpenRouter(t, p, ChatOptions{SystemInstruction: "História"})
	_, err := CollectText(first.SendMessageStream(context.Background(), TurnInput{Text: "a"}))
	require.NoError(t, err)
	require.Len(t, first.History(), 3)

	second := startOpenRouter(t, p, ChatOptions{SystemInstruction: "Ciências"})
	require.Len(t, second.History(), 1)
	_, err = CollectText(second.SendMessageStream(context.Background(), TurnInput{Text: "b"}))
	require.NoError(t, err)

	req := fake.recorded()[1].decode(t)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "Ciências", req.Messages[0].Content.String())
	assert.Equal(t, "b", req.Messages[1].Content.String())
}

func TestOpenRouterDefaults(t *testing.T) {
	p := NewOpenRouterProvider("sk-or-x", config.OpenRouterConfig{}, "", "")
	assert.Equal(t, openRouterBaseURL, p.baseURL)
	assert.Equal(t, config.DefaultOpenRouterModel, p.model)
	assert.Equal(t, p.model, p.modelFor(ChatOptions{ThinkingBudget: 100}), "no reasoning model falls back to the base model")
	assert.Equal(t, "OpenRouter (google/gemini-2.5-flash)", p.Name())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	p.setHeaders(req)
	assert.Empty(t, req.Header.Get("HTTP-Referer"))
	assert.Empty(t, req.Header.Get("X-Title"))
}

func TestReasoningAccumulator(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
		want      string
	}{
		{"nothing", nil, ""},
		{"nulls", []string{"null", ""}, ""},
		{"strings concatenate", []string{`"a"`, `"b"`, `"c"`}, `"abc"`},
		{"structured replaces", []string{`"a"`, `[{"id":1}]`, `[{"id":2}]`}, `[{"id":2}]`},
		{"string after structured", []string{`{"x":1}`, `"tail"`}, `"tail"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var acc reasoningAccumulator
			for _, f := range tt.fragments {
				acc.add(json.RawMessage(f))
			}
			got := acc.payload()
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestOpenRouterListModels(t *testing.T) {
	var gotAuth, gotTitle string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/models" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.Header.Get("X-Title")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[
			{"id":"openai/gpt-4o","object":"model","created":1,"owned_by":"openai"},
			{"id":"google/gemini-2.5-flash","object":"model","created":2,"owned_by":"google"},
			{"id":"google/gemini-2.5-pro","object":"model","created":3,"owned_by":"google"}
		]}`)
	}))
	defer server.Close()

	p := NewOpenRouterProvider("sk-or-v1-test", config.OpenRouterConfig{BaseURL: server.URL + "/api/v1"}, "", "EduIA")
	models, err := p.ListModels(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"google/gemini-2.5-flash", "google/gemini-2.5-pro", "openai/gpt-4o"}, ids)
	assert.Equal(t, "Bearer sk-or-v1-test", gotAuth)
	assert.Equal(t, "EduIA", gotTitle)

	google := FilterModels(models, "google/")
	assert.Len(t, google, 2)
	assert.Len(t, FilterModels(models, ""), 3)
	assert.Empty(t, FilterModels(models, "anthropic/"))
}

func TestOpenRouterCancelMidStream(t *testing.T) {
	release := make(chan struct{})
	fake := newOpenRouterFake(t).respond(func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, deltaFrame("começo"))
		w.(http.Flusher).Flush()
		<-release
	})
	defer close(release)
	conv := startOpenRouter(t, fake.provider(true), ChatOptions{})

	stream := conv.SendMessageStream(context.Background(), TurnInput{Text: "oi"})
	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "começo", ev.Text)
	require.NoError(t, stream.Close())

	history := conv.History()
	require.Len(t, history, 2, "abandoned turn leaves only the user entry")
	assert.True(t, strings.HasPrefix(history[1].Content.String(), "oi"))
}
