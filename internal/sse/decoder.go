// Package sse decodes newline-delimited "data: {json}" event streams as
// served by OpenAI-compatible chat completion endpoints.
//
// Only data lines are interpreted. Comment lines (": OPENROUTER PROCESSING"),
// event/id/retry fields and blank separators are skipped. A "[DONE]" payload
// ends the stream without producing a value, and payloads that fail to parse
// are dropped so that a single corrupted frame never aborts the decode.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
)

// DoneSentinel is the payload that terminates a stream.
const DoneSentinel = "[DONE]"

// MaxLineSize bounds a single line. Larger lines are treated as a transport error.
const MaxLineSize = 1024 * 1024

var dataPrefix = []byte("data:")

// ErrLineTooLong is returned when a line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("sse: line exceeds maximum size")

// Decoder reads frames from r and parses each data payload into a T.
// It is single-pass and not safe for concurrent use.
type Decoder[T any] struct {
	reader *bufio.Reader
	done   bool

	// OnMalformed, when set, is called with every payload that failed to parse.
	OnMalformed func(payload []byte, err error)

	malformed int
	decoded   int
	sentinel  bool
}

// NewDecoder creates a decoder reading from r.
func NewDecoder[T any](r io.Reader) *Decoder[T] {
	return &Decoder[T]{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next decoded value. It returns io.EOF once the sentinel
// frame has been seen or the underlying reader is exhausted.
func (d *Decoder[T]) Next() (T, error) {
	var zero T
	for !d.done {
		line, err := d.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			d.done = true
			return zero, err
		}
		atEOF := errors.Is(err, io.EOF)

		if payload, ok := dataPayload(line); ok {
			if string(payload) == DoneSentinel {
				d.done = true
				d.sentinel = true
				return zero, io.EOF
			}
			var v T
			if uerr := json.Unmarshal(payload, &v); uerr != nil {
				d.malformed++
				if d.OnMalformed != nil {
					d.OnMalformed(payload, uerr)
				}
			} else {
				if atEOF {
					d.done = true
				}
				d.decoded++
				return v, nil
			}
		}

		if atEOF {
			d.done = true
		}
	}
	return zero, io.EOF
}

// All returns the remaining values as a sequence. Iteration stops at the end
// of the stream or after yielding a read error.
func (d *Decoder[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// Malformed reports how many payloads were dropped so far.
func (d *Decoder[T]) Malformed() int {
	return d.malformed
}

// Decoded reports how many payloads were returned so far.
func (d *Decoder[T]) Decoded() int {
	return d.decoded
}

// SawSentinel reports whether the stream ended with the [DONE] frame.
func (d *Decoder[T]) SawSentinel() bool {
	return d.sentinel
}

// readLine returns one line without its terminator. A partial trailing line
// is returned together with io.EOF.
func (d *Decoder[T]) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := d.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxLineSize {
			return nil, fmt.Errorf("%w (%d bytes)", ErrLineTooLong, len(line))
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimRight(line, "\r\n"), err
	}
}

func dataPayload(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	payload := line[len(dataPrefix):]
	if len(payload) > 0 && payload[0] == ' ' {
		payload = payload[1:]
	}
	if len(payload) == 0 {
		return nil, false
	}
	return payload, true
}
