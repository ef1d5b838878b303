package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eduia/tutor/internal/config"
	"github.com/eduia/tutor/internal/llm"
	"github.com/eduia/tutor/internal/persona"
)

// DefaultSystemInstruction seeds the implicit stateless image turn.
const DefaultSystemInstruction = "Você é uma assistente útil."

var (
	// ErrNoSession is returned for a text turn before StartChat.
	ErrNoSession = fmt.Errorf("%w: no active chat session, call StartChat first", llm.ErrUsage)

	// ErrTurnInProgress is returned when a turn is sent while the previous
	// turn's stream is still open.
	ErrTurnInProgress = fmt.Errorf("%w: previous turn is still streaming", llm.ErrUsage)

	// ErrEmptyTurn is returned for a turn with neither text nor image.
	ErrEmptyTurn = fmt.Errorf("%w: empty message", llm.ErrUsage)
)

// Session is the live conversation state. It is replaced wholesale by every
// StartChat.
type Session struct {
	ID                string
	SystemInstruction string
	ThinkingBudget    int
	StartedAt         time.Time

	conv llm.Conversation
	busy atomic.Bool
}

// Manager owns the single active Session and the backend selected for the
// process.
type Manager struct {
	credential string
	newBackend func(context.Context) (llm.Backend, error)

	once       sync.Once
	backend    llm.Backend
	backendErr error

	mu      sync.Mutex
	current *Session
}

// NewManager creates a manager whose backend is built from cfg on first use.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		credential: cfg.Credential(),
		newBackend: func(ctx context.Context) (llm.Backend, error) {
			return llm.NewBackend(ctx, cfg)
		},
	}
}

// NewManagerWithBackend creates a manager using backend for a non-empty
// credential.
func NewManagerWithBackend(credential string, backend llm.Backend) *Manager {
	return &Manager{
		credential: credential,
		newBackend: func(context.Context) (llm.Backend, error) {
			return backend, nil
		},
	}
}

// Mode reports which backend family the credential routes to.
func (m *Manager) Mode() llm.Mode {
	return llm.ModeForCredential(m.credential)
}

// HasCredential reports whether a credential was resolved.
func (m *Manager) HasCredential() bool {
	return m.credential != ""
}

// Backend returns the selected backend, creating it on first call.
func (m *Manager) Backend(ctx context.Context) (llm.Backend, error) {
	if m.credential == "" {
		return nil, llm.ErrConfigMissing
	}
	m.once.Do(func() {
		m.backend, m.backendErr = m.newBackend(ctx)
		if m.backendErr == nil {
			slog.Debug("backend selected", "backend", m.backend.Name(), "mode", m.Mode().String())
		}
	})
	return m.backend, m.backendErr
}

// StartChat discards any active Session and starts a new one.
func (m *Manager) StartChat(ctx context.Context, systemInstruction string, thinkingBudget int) error {
	if thinkingBudget < 0 {
		thinkingBudget = 0
	}
	sess := &Session{
		ID:                NewID(),
		SystemInstruction: systemInstruction,
		ThinkingBudget:    thinkingBudget,
		StartedAt:         time.Now(),
	}

	if m.credential != "" {
		backend, err := m.Backend(ctx)
		if err != nil {
			return fmt.Errorf("select backend: %w", err)
		}
		conv, err := backend.StartChat(ctx, llm.ChatOptions{
			SystemInstruction: systemInstruction,
			ThinkingBudget:    thinkingBudget,
		})
		if err != nil {
			return fmt.Errorf("start chat: %w", err)
		}
		sess.conv = conv
	}

	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()

	slog.Info("chat session started", "session", sess.ID, "thinking_budget", thinkingBudget)
	return nil
}

// StartPersona starts a new Session for p.
func (m *Manager) StartPersona(ctx context.Context, p persona.Persona) error {
	return m.StartChat(ctx, p.SystemPrompt, p.ThinkingBudget)
}

// Session returns the active Session, or nil before the first StartChat.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SendMessageStream sends one turn on the active Session. Backend failures
// arrive as a single terminal llm.EventError on the stream; a returned error
// is always a usage error.
func (m *Manager) SendMessageStream(ctx context.Context, in llm.TurnInput) (llm.Stream, error) {
	if m.credential == "" {
		return llm.NewErrorStream(llm.ErrConfigMissing), nil
	}
	if in.IsEmpty() {
		return nil, ErrEmptyTurn
	}

	sess := m.Session()
	if sess == nil {
		return m.sendStateless(ctx, in)
	}
	if sess.conv == nil {
		return llm.NewErrorStream(llm.ErrConfigMissing), nil
	}

	if !sess.busy.CompareAndSwap(false, true) {
		return nil, ErrTurnInProgress
	}
	slog.Debug("sending turn", "session", sess.ID, "image", in.Image != nil)
	ts := &turnStream{
		Stream:  sess.conv.SendMessageStream(ctx, in),
		release: func() { sess.busy.Store(false) },
	}
	// A caller that stops reading without Close still frees the Session once
	// ctx ends.
	ts.stop = context.AfterFunc(ctx, ts.done)
	return ts, nil
}

// sendStateless handles an image turn with no Session, when the backend can
// answer it without a conversation.
func (m *Manager) sendStateless(ctx context.Context, in llm.TurnInput) (llm.Stream, error) {
	if in.Image == nil {
		return nil, ErrNoSession
	}
	backend, err := m.Backend(ctx)
	if err != nil {
		return llm.NewErrorStream(err), nil
	}
	gen, ok := backend.(llm.StatelessGenerator)
	if !ok {
		return nil, ErrNoSession
	}
	return gen.GenerateStream(ctx, in, llm.ChatOptions{SystemInstruction: DefaultSystemInstruction}), nil
}

// turnStream frees the Session for the next turn once the stream ends, is
// closed, or its context is done.
type turnStream struct {
	llm.Stream
	release func()
	stop    func() bool
	once    sync.Once
}

func (s *turnStream) Recv() (llm.Event, error) {
	ev, err := s.Stream.Recv()
	if err != nil {
		// Wait for the producer so the History Log is settled first.
		s.Stream.Close()
		s.stop()
		s.done()
	}
	return ev, err
}

func (s *turnStream) Close() error {
	err := s.Stream.Close()
	s.stop()
	s.done()
	return err
}

func (s *turnStream) done() {
	s.once.Do(s.release)
}

// IsUsageError reports whether err is a caller contract violation.
func IsUsageError(err error) bool {
	return errors.Is(err, llm.ErrUsage)
}
