package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai"
)

var (
	// ErrTransient marks failures worth retrying: rate limits, 5xx, network.
	ErrTransient = errors.New("transient generation failure")
	// ErrHard marks failures a retry will not fix.
	ErrHard = errors.New("hard generation failure")
)

// Error is a generation failure tagged with its kind.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// Transient wraps err as a retryable failure of op.
func Transient(op string, err error) error {
	return &Error{Kind: ErrTransient, Op: op, Err: err}
}

// Hard wraps err as a non-retryable failure of op.
func Hard(op string, err error) error {
	return &Error{Kind: ErrHard, Op: op, Err: err}
}

// IsTransient reports whether err is worth one more attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Tool is a function the model may call while producing its answer.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object describing the arguments.
	Parameters map[string]any
	Call       func(ctx context.Context, args json.RawMessage) (string, error)
}

// Prompt is one generation request.
type Prompt struct {
	Instructions string
	Input        string
	Tools        []Tool
}

// Generator is the interface that all LLM implementations must satisfy
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, p Prompt) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }
