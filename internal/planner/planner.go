// Package planner turns a project description into a scaffold, an ordered
// file list, and per-file generation requests.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/codeforge/internal/interfaces"
	"github.com/kingrea/codeforge/internal/llm"
	"github.com/kingrea/codeforge/internal/prompts"
)

const (
	// DefaultLanguage is the target language of generated projects.
	DefaultLanguage = "Rust"
	// DefaultExtension is the source-file extension kept by FilesFromPlan.
	DefaultExtension = ".rs"
)

var (
	// ErrMissingSpecs is returned when a call needs the project description.
	ErrMissingSpecs = errors.New("planner: project specs missing")
	// ErrMissingScaffold is returned when a call needs the scaffold.
	ErrMissingScaffold = errors.New("planner: scaffold missing")
	// ErrInvalidPlan is returned when the plan value has no usable order list.
	ErrInvalidPlan = errors.New("planner: invalid execution plan")
)

// Generator is satisfied by *llm.RetryingGenerator.
type Generator interface {
	Generate(ctx context.Context, system string, messages []llm.Message, format string) (llm.Result, error)
}

// Logger is the subset of logging used by the planner.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Context is the project state a prompt is built from.
type Context struct {
	Specs      string
	Scaffold   string
	Interfaces map[string]interfaces.Interface
	Codebase   map[string]string
}

// Call is a fully prepared backend request.
type Call struct {
	System   string
	Messages []llm.Message
	Format   string
}

// Plan is the filtered execution order.
type Plan struct {
	Files    []string
	Warnings []string
}

// Planner prepares prompts and interprets results.
type Planner struct {
	gen       Generator
	registry  *interfaces.Registry
	language  string
	extension string
	logger    Logger
}

// Option customizes a Planner.
type Option func(*Planner)

// WithRegistry sets the interface context registry.
func WithRegistry(r *interfaces.Registry) Option {
	return func(p *Planner) {
		if r != nil {
			p.registry = r
		}
	}
}

// WithLanguage sets the target language and the extension plans are filtered by.
func WithLanguage(language, extension string) Option {
	return func(p *Planner) {
		if strings.TrimSpace(language) != "" {
			p.language = strings.TrimSpace(language)
		}
		if ext := strings.TrimSpace(extension); ext != "" {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			p.extension = ext
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// New builds a planner around gen.
func New(gen Generator, opts ...Option) *Planner {
	p := &Planner{
		gen:       gen,
		language:  DefaultLanguage,
		extension: DefaultExtension,
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.registry == nil {
		p.registry = interfaces.NewRegistry(interfaces.WithLogger(p.logger))
	}
	return p
}

// Extension reports the source-file extension plans are filtered by.
func (p *Planner) Extension() string { return p.extension }

// Language reports the target language.
func (p *Planner) Language() string { return p.language }

// ScaffoldCall prepares the scaffold request.
func (p *Planner) ScaffoldCall(pc Context) (Call, error) {
	if strings.TrimSpace(pc.Specs) == "" {
		return Call{}, ErrMissingSpecs
	}
	b, system, err := p.begin(pc)
	if err != nil {
		return Call{}, err
	}
	main, err := prompts.Render(prompts.ScaffoldTemplate, p.data(prompts.Data{Specs: pc.Specs}))
	if err != nil {
		return Call{}, err
	}
	b.AddUser(main)
	return Call{System: system, Messages: b.Messages(), Format: "json"}, nil
}

// PlanCall prepares the execution plan request.
func (p *Planner) PlanCall(pc Context) (Call, error) {
	if strings.TrimSpace(pc.Specs) == "" {
		return Call{}, ErrMissingSpecs
	}
	if strings.TrimSpace(pc.Scaffold) == "" {
		return Call{}, ErrMissingScaffold
	}
	b, system, err := p.begin(pc)
	if err != nil {
		return Call{}, err
	}
	b.AddUser(pc.Specs)
	main, err := prompts.Render(prompts.PlanTemplate, p.data(prompts.Data{Scaffold: pc.Scaffold}))
	if err != nil {
		return Call{}, err
	}
	b.AddUser(main)
	return Call{System: system, Messages: b.Messages(), Format: "json"}, nil
}

// CodeGenCall prepares the request that writes filename. Files already in the
// codebase are included so later files can reference earlier ones.
func (p *Planner) CodeGenCall(pc Context, filename string) (Call, error) {
	if strings.TrimSpace(pc.Scaffold) == "" {
		return Call{}, ErrMissingScaffold
	}
	b, system, err := p.begin(pc)
	if err != nil {
		return Call{}, err
	}
	if strings.TrimSpace(pc.Specs) != "" {
		b.AddUser(pc.Specs)
	}
	names := make([]string, 0, len(pc.Codebase))
	for name := range pc.Codebase {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.AddUser(fmt.Sprintf("File `%s`:\n```\n%s\n```", name, pc.Codebase[name]))
	}
	b.AddUser(pc.Scaffold)
	main, err := prompts.Render(prompts.CodeGenTemplate, p.data(prompts.Data{Filename: filename}))
	if err != nil {
		return Call{}, err
	}
	b.AddUser(main)
	return Call{System: system, Messages: b.Messages(), Format: p.fence()}, nil
}

// Run sends a prepared call through the generator.
func (p *Planner) Run(ctx context.Context, call Call) (llm.Result, error) {
	if p.gen == nil {
		return llm.Result{}, fmt.Errorf("planner: no generator configured")
	}
	return p.gen.Generate(ctx, call.System, call.Messages, call.Format)
}

// BuildScaffold asks the backend for the project folder structure and returns
// it as indented JSON text.
func (p *Planner) BuildScaffold(ctx context.Context, pc Context) (string, error) {
	call, err := p.ScaffoldCall(pc)
	if err != nil {
		return "", err
	}
	res, err := p.Run(ctx, call)
	if err != nil {
		return "", err
	}
	return ScaffoldFromResult(res)
}

// BuildExecutionPlan asks the backend to order the scaffold files.
func (p *Planner) BuildExecutionPlan(ctx context.Context, pc Context) (Plan, error) {
	call, err := p.PlanCall(pc)
	if err != nil {
		return Plan{}, err
	}
	res, err := p.Run(ctx, call)
	if err != nil {
		return Plan{}, err
	}
	return p.PlanFromResult(res)
}

// PlanFromResult filters a plan result by the planner's extension and logs
// every dropped entry.
func (p *Planner) PlanFromResult(res llm.Result) (Plan, error) {
	plan, err := FilesFromPlan(res.Value, p.extension)
	if err != nil {
		return Plan{}, err
	}
	for _, warning := range plan.Warnings {
		p.logger.Printf("planner: %s", warning)
	}
	return plan, nil
}

// ScaffoldFromResult renders the parsed scaffold value as JSON text.
func ScaffoldFromResult(res llm.Result) (string, error) {
	if res.Value == nil {
		return "", fmt.Errorf("planner: empty scaffold")
	}
	data, err := json.MarshalIndent(res.Value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("planner: encode scaffold: %w", err)
	}
	return string(data), nil
}

// CodeFromResult returns the generated file body.
func CodeFromResult(res llm.Result) (string, error) {
	code, ok := res.Value.(string)
	if !ok {
		return "", fmt.Errorf("planner: code result is %T, want string", res.Value)
	}
	return code, nil
}

// FilesFromPlan reads the "order" list from a decoded plan. Entries that do
// not end in ext are dropped with a warning; the order of the rest is kept
// exactly as given.
func FilesFromPlan(value any, ext string) (Plan, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return Plan{}, fmt.Errorf("%w: expected an object, got %T", ErrInvalidPlan, value)
	}
	rawOrder, ok := obj["order"]
	if !ok {
		return Plan{}, fmt.Errorf("%w: missing key \"order\"", ErrInvalidPlan)
	}
	entries, ok := rawOrder.([]any)
	if !ok {
		return Plan{}, fmt.Errorf("%w: \"order\" is %T, want a list", ErrInvalidPlan, rawOrder)
	}
	plan := Plan{Files: []string{}}
	seen := map[string]struct{}{}
	for idx, entry := range entries {
		file, ok := entry.(string)
		if !ok {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("filtered out order[%d]: %v is not a string", idx, entry))
			continue
		}
		file = strings.TrimLeft(strings.TrimSpace(file), "/")
		if ext != "" && !strings.HasSuffix(file, ext) {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("filtered out %q: not a %s file", file, ext))
			continue
		}
		if _, dup := seen[file]; dup {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("filtered out %q: listed twice", file))
			continue
		}
		seen[file] = struct{}{}
		plan.Files = append(plan.Files, file)
	}
	return plan, nil
}

func (p *Planner) begin(pc Context) (*llm.Builder, string, error) {
	system, err := prompts.Render(prompts.SystemTemplate, p.data(prompts.Data{}))
	if err != nil {
		return nil, "", err
	}
	b := &llm.Builder{}
	p.registry.AddAll(pc.Interfaces, b)
	return b, system, nil
}

func (p *Planner) data(d prompts.Data) prompts.Data {
	d.Language = p.language
	d.Fence = p.fence()
	return d
}

func (p *Planner) fence() string {
	return strings.ToLower(p.language)
}
