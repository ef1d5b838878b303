package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockTurn represents a single response turn from the mock backend.
type MockTurn struct {
	Text  string        // Text to emit (will be chunked for realistic streaming)
	Delay time.Duration // Optional delay before responding (for timeout tests)
	Error error         // Return this error instead of responding
}

// MockBackend is a configurable backend for testing.
// It returns scripted responses and records every chat start and turn.
type MockBackend struct {
	name      string
	turns     []MockTurn
	turnIndex int
	startErr  error

	Starts    []ChatOptions // Recorded StartChat options
	Inputs    []TurnInput   // Recorded turns, conversational and stateless
	Stateless []TurnInput   // Recorded stateless turns only
	mu        sync.Mutex
}

// NewMockBackend creates a new mock backend with the given name.
func NewMockBackend(name string) *MockBackend {
	return &MockBackend{name: name}
}

// Name returns the backend name.
func (m *MockBackend) Name() string {
	return m.name
}

// AddTurn adds a response turn and returns the backend for chaining.
func (m *MockBackend) AddTurn(t MockTurn) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return m
}

// AddTextResponse is a convenience method to add a simple text response.
func (m *MockBackend) AddTextResponse(text string) *MockBackend {
	return m.AddTurn(MockTurn{Text: text})
}

// AddError adds a turn that fails with err.
func (m *MockBackend) AddError(err error) *MockBackend {
	return m.AddTurn(MockTurn{Error: err})
}

// FailStart makes every StartChat call return err.
func (m *MockBackend) FailStart(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
	return m
}

// CurrentTurn returns the current turn index (0-based).
func (m *MockBackend) CurrentTurn() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turnIndex
}

// StartChat records opts and returns a conversation drawing from the script.
func (m *MockBackend) StartChat(ctx context.Context, opts ChatOptions) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Starts = append(m.Starts, opts)
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &mockConversation{backend: m}, nil
}

// GenerateStream implements StatelessGenerator.
func (m *MockBackend) GenerateStream(ctx context.Context, in TurnInput, opts ChatOptions) Stream {
	m.mu.Lock()
	m.Stateless = append(m.Stateless, in)
	m.mu.Unlock()
	return m.next(ctx, in)
}

// Stateful returns a view of m without the stateless path, like the HTTP
// backend.
func (m *MockBackend) Stateful() Backend {
	return statefulMock{m}
}

type statefulMock struct {
	m *MockBackend
}

func (s statefulMock) Name() string { return s.m.Name() }

func (s statefulMock) StartChat(ctx context.Context, opts ChatOptions) (Conversation, error) {
	return s.m.StartChat(ctx, opts)
}

type mockConversation struct {
	backend *MockBackend
}

func (c *mockConversation) SendMessageStream(ctx context.Context, in TurnInput) Stream {
	return c.backend.next(ctx, in)
}

func (m *MockBackend) next(ctx context.Context, in TurnInput) Stream {
	m.mu.Lock()
	m.Inputs = append(m.Inputs, in)
	if m.turnIndex >= len(m.turns) {
		idx, have := m.turnIndex, len(m.turns)
		m.mu.Unlock()
		return NewErrorStream(fmt.Errorf("mock backend: no more turns configured (expected turn %d, have %d)", idx, have))
	}
	turn := m.turns[m.turnIndex]
	m.turnIndex++
	m.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, ch chan<- Event) error {
		// Apply delay if configured
		if turn.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(turn.Delay):
			}
		}

		// Return error if configured
		if turn.Error != nil {
			return turn.Error
		}

		// Emit text in chunks (simulates realistic streaming)
		for _, chunk := range chunkText(turn.Text, 10) {
			if err := emit(ctx, ch, Event{Type: EventTextDelta, Text: chunk}); err != nil {
				return err
			}
		}
		return nil
	})
}

// chunkText splits text into chunks of approximately the given size.
// It tries to break at word boundaries when possible.
func chunkText(text string, chunkSize int) []string {
	if len(text) == 0 {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= chunkSize {
			chunks = append(chunks, text)
			break
		}

		// Find a good break point (space) near the chunk size
		breakPoint := chunkSize
		for i := chunkSize; i > chunkSize/2; i-- {
			if text[i] == ' ' {
				breakPoint = i + 1 // include the space in current chunk
				break
			}
		}

		chunks = append(chunks, text[:breakPoint])
		text = text[breakPoint:]
	}
	return chunks
}
