package llm

import (
	"context"
	"errors"
	"fmt"
)

// Backend is the text-generation service. Implementations must be safe for
// concurrent use; the worker issues many calls at once.
type Backend interface {
	Generate(ctx context.Context, system string, messages []Message) (string, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, system string, messages []Message) (string, error)

// Generate calls f.
func (f BackendFunc) Generate(ctx context.Context, system string, messages []Message) (string, error) {
	return f(ctx, system, messages)
}

// ErrExtractionExhausted matches *ExhaustedError via errors.Is.
var ErrExtractionExhausted = errors.New("llm: extraction retries exhausted")

// NetworkError reports a transport-level failure talking to the backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("llm: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx backend response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("llm: backend returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("llm: backend returned HTTP %d: %s", e.StatusCode, e.Body)
}

// ExhaustedError is returned when every attempt produced output the extractor
// rejected. Raw holds the text of the final attempt.
type ExhaustedError struct {
	Format   string
	Attempts int
	Raw      string
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("llm: no valid %s block after %d attempts: %v", e.Format, e.Attempts, e.Last)
}

// Is lets errors.Is match ErrExtractionExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExtractionExhausted
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Logger is the subset of logging used by this package.
type Logger interface {
	Printf(format string, args ...any)
}
