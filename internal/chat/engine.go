package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultTimeout bounds a single backend completion.
const DefaultTimeout = 30 * time.Second

// Backend completes a prompt with a language model.
type Backend interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Engine answers chat requests. It keeps no state between calls.
type Engine struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine. A nil backend means every reply comes from
// the fallback rules.
func NewEngine(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend: backend,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HasBackend reports whether a language model is configured.
func (e *Engine) HasBackend() bool {
	return e.backend != nil
}

// Respond answers req. The only error it returns is ErrInvalidRequest;
// backend problems produce a Degraded reply carrying the cause.
func (e *Engine) Respond(ctx context.Context, req Request) (Reply, error) {
	disease := strings.TrimSpace(req.Disease)
	message := strings.TrimSpace(req.Message)
	if disease == "" && message == "" {
		return Reply{}, ErrInvalidRequest
	}

	if e.backend == nil {
		e.logger.Warn("No language model backend, using fallback response")
		return degraded(disease, message, ErrNoBackend), nil
	}

	prompt := BuildPrompt(disease, message, req.History)
	e.logger.Debug("Sending prompt to language model", "prompt", prompt)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.backend.Complete(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("empty completion")
	}
	if err != nil {
		e.logger.Error("Language model failed, using fallback response", "error", err)
		return degraded(disease, message, fmt.Errorf("%w: %w", ErrBackend, err)), nil
	}

	e.logger.Debug("Received language model response", "length", len(text))
	return Reply{Text: text, Outcome: Answered}, nil
}

func degraded(disease, message string, reason error) Reply {
	return Reply{
		Text:    Fallback(disease, message),
		Outcome: Degraded,
		Reason:  reason,
	}
}
