package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultLookupTimeout bounds each op:// or $(...) lookup. The key is
// resolved on every start, so a hung helper must not hang the CLI.
const DefaultLookupTimeout = 10 * time.Second

// ResolveError names the config field whose indirection failed.
type ResolveError struct {
	Field  string
	Source string
	Err    error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("%s: %s lookup failed: %v", e.Field, e.Source, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Resolver expands secret indirections in config values:
//
//	op://vault/item/field[?account=…]  1Password via `op read`
//	$(command)                          trimmed stdout of sh -c
//	anything else                       $VAR and ${VAR} expanded anywhere
type Resolver struct {
	Timeout time.Duration

	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewResolver returns a resolver using DefaultLookupTimeout.
func NewResolver() *Resolver {
	return &Resolver{Timeout: DefaultLookupTimeout, command: exec.CommandContext}
}

// ResolveValue resolves value for field with a default Resolver.
func ResolveValue(ctx context.Context, field, value string) (string, error) {
	return NewResolver().Resolve(ctx, field, value)
}

// Resolve returns the plain value. Failures are *ResolveError.
func (r *Resolver) Resolve(ctx context.Context, field, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", nil
	case strings.HasPrefix(value, "op://"):
		out, err := r.onePassword(ctx, value)
		if err != nil {
			return "", &ResolveError{Field: field, Source: "1password", Err: err}
		}
		return out, nil
	case strings.HasPrefix(value, "$(") && strings.HasSuffix(value, ")"):
		out, err := r.run(ctx, "sh", "-c", value[2:len(value)-1])
		if err != nil {
			return "", &ResolveError{Field: field, Source: "command", Err: err}
		}
		return out, nil
	default:
		return strings.TrimSpace(os.ExpandEnv(value)), nil
	}
}

func (r *Resolver) onePassword(ctx context.Context, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid reference: %w", err)
	}
	clean := "op://" + u.Host + u.Path
	args := []string{"read", clean}
	if account := u.Query().Get("account"); account != "" {
		args = append(args, "--account", account)
	}

	out, err := r.run(ctx, "op", args...)
	if err != nil {
		return "", fmt.Errorf("read %s: %w (is the op CLI installed and signed in?)", clean, err)
	}
	return out, nil
}

// run executes one lookup under the timeout and returns trimmed stdout.
// Empty output is an error.
func (r *Resolver) run(ctx context.Context, name string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := r.command(ctx, name, args...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("timed out after %s", r.Timeout)
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}

	value := strings.TrimSpace(string(out))
	if value == "" {
		return "", errors.New("empty output")
	}
	return value, nil
}
