package llm

import (
	"context"
	"fmt"

	"github.com/kingrea/codeforge/internal/extract"
)

// DefaultMaxAttempts is the total number of backend calls per Generate.
const DefaultMaxAttempts = 3

// Extractor pulls a structured value of the given format out of raw text.
type Extractor func(text, format string) (any, error)

// Result is a successful generation: the raw backend text and the value the
// extractor parsed from it.
type Result struct {
	Raw   string
	Value any
}

// RetryingGenerator wraps a Backend and re-issues the identical request when
// the structured block cannot be extracted. The prompt is not varied between
// attempts. Backend errors are returned immediately.
type RetryingGenerator struct {
	backend     Backend
	extract     Extractor
	maxAttempts int
	logger      Logger
}

// GeneratorOption customizes a RetryingGenerator.
type GeneratorOption func(*RetryingGenerator)

// WithMaxAttempts overrides the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) GeneratorOption {
	return func(g *RetryingGenerator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithExtractor replaces the default fenced-block extractor.
func WithExtractor(fn Extractor) GeneratorOption {
	return func(g *RetryingGenerator) {
		if fn != nil {
			g.extract = fn
		}
	}
}

// WithGeneratorLogger overrides the default no-op logger.
func WithGeneratorLogger(l Logger) GeneratorOption {
	return func(g *RetryingGenerator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewRetryingGenerator builds a generator around backend.
func NewRetryingGenerator(backend Backend, opts ...GeneratorOption) *RetryingGenerator {
	g := &RetryingGenerator{
		backend:     backend,
		extract:     extract.Extract,
		maxAttempts: DefaultMaxAttempts,
		logger:      nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// MaxAttempts reports the configured attempt budget.
func (g *RetryingGenerator) MaxAttempts() int { return g.maxAttempts }

// Generate calls the backend until the extractor accepts the output for
// format or the attempt budget runs out.
func (g *RetryingGenerator) Generate(ctx context.Context, system string, messages []Message, format string) (Result, error) {
	if g == nil || g.backend == nil {
		return Result{}, fmt.Errorf("llm: generator has no backend")
	}
	var (
		raw     string
		lastErr error
	)
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		text, err := g.backend.Generate(ctx, system, messages)
		if err != nil {
			return Result{}, err
		}
		raw = text
		value, err := g.extract(text, format)
		if err == nil {
			return Result{Raw: text, Value: value}, nil
		}
		lastErr = err
		g.logger.Printf("llm: attempt %d/%d produced no valid %s block: %v", attempt, g.maxAttempts, format, err)
	}
	return Result{}, &ExhaustedError{
		Format:   format,
		Attempts: g.maxAttempts,
		Raw:      raw,
		Last:     lastErr,
	}
}
