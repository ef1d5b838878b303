package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
)

// EventType distinguishes stream events.
type EventType int

const (
	// EventTextDelta carries a non-empty fragment of the reply.
	EventTextDelta EventType = iota
	// EventError is the terminal event of a failed turn. Its Text holds the
	// user-facing message; Err holds the underlying failure.
	EventError
)

// Event is one element of a Stream.
type Event struct {
	Type EventType
	Text string
	Err  error
}

// Stream is a lazy, single-pass sequence of events for one turn.
// Recv returns io.EOF after the last event. A caller that stops reading
// before EOF must Close the stream or cancel its context; until then the
// producer and the Session's turn slot stay held.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

type channelStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events <-chan Event
	done   <-chan struct{}
}

// newEventStream runs the producer in its own goroutine. A non-nil error from
// run is classified and delivered as one terminal EventError.
func newEventStream(ctx context.Context, run func(context.Context, chan<- Event) error) Stream {
	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(ch)
		err := run(streamCtx, ch)
		if err == nil {
			return
		}
		if streamCtx.Err() != nil && errors.Is(err, streamCtx.Err()) {
			// Abandoned by the caller; nobody is listening.
			return
		}
		failure := Classify(err)
		slog.Warn("chat turn failed", "kind", failure.Kind.String(), "error", err)
		select {
		case ch <- Event{Type: EventError, Text: failure.Message, Err: err}:
		case <-streamCtx.Done():
		}
	}()
	return &channelStream{ctx: streamCtx, cancel: cancel, events: ch, done: done}
}

// NewErrorStream returns a stream whose only event is the classified err.
func NewErrorStream(err error) Stream {
	return newEventStream(context.Background(), func(context.Context, chan<- Event) error {
		return err
	})
}

// emit sends ev unless the stream has been abandoned.
func emit(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case events <- ev:
		return nil
	}
}

func (s *channelStream) Recv() (Event, error) {
	// Non-blocking drain: consume any buffered event before checking ctx.Done().
	select {
	case event, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return event, nil
	default:
	}

	select {
	case <-s.ctx.Done():
		return Event{}, s.ctx.Err()
	case event, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return event, nil
	}
}

// Close cancels the producer and waits for it to exit.
func (s *channelStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// CollectText drains stream and returns the concatenated text of all events,
// including the message of a terminal EventError. The returned error is the
// underlying failure of that event, if any.
func CollectText(stream Stream) (string, error) {
	defer stream.Close()

	var buf strings.Builder
	var failure error
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return buf.String(), failure
		}
		if err != nil {
			return buf.String(), err
		}
		buf.WriteString(ev.Text)
		if ev.Type == EventError {
			failure = ev.Err
		}
	}
}
