package interfaces

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/codeforge/internal/llm"
)

// Provider appends prompt fragments describing an interface.
type Provider interface {
	AddContext(iface Interface, b *llm.Builder) error
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(iface Interface, b *llm.Builder) error

// AddContext calls f.
func (f ProviderFunc) AddContext(iface Interface, b *llm.Builder) error {
	return f(iface, b)
}

// Registry routes each interface to the built-in provider for its kind, or to
// a script provider when the interface uses a custom type that a script
// claims.
type Registry struct {
	scripts map[string]*ScriptProvider
	logger  Logger
}

// Logger is the subset of logging used by the registry.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithScripts registers script providers keyed by their custom type.
func WithScripts(scripts ...*ScriptProvider) RegistryOption {
	return func(r *Registry) {
		for _, s := range scripts {
			if s == nil {
				continue
			}
			r.scripts[strings.ToLower(s.CustomType())] = s
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry builds a registry with the built-in providers.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{scripts: map[string]*ScriptProvider{}, logger: nopLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// ScriptTypes lists the custom types served by scripts.
func (r *Registry) ScriptTypes() []string {
	out := make([]string, 0, len(r.scripts))
	for _, s := range r.scripts {
		out = append(out, s.CustomType())
	}
	sort.Strings(out)
	return out
}

// AddContext describes iface into b.
func (r *Registry) AddContext(iface Interface, b *llm.Builder) error {
	if custom := strings.ToLower(strings.TrimSpace(iface.Custom())); custom != "" && r != nil {
		if script, ok := r.scripts[custom]; ok {
			return script.AddContext(iface, b)
		}
	}
	switch iface.Type {
	case KindDatabase:
		return DatabaseContext(iface, b)
	case KindAPI:
		return APIContext(iface, b)
	case KindStorage:
		return StorageContext(iface, b)
	default:
		return fmt.Errorf("%w: unknown interfaceType %q", ErrInvalid, iface.Type)
	}
}

// AddAll describes every interface in name order. A failing interface is
// logged and skipped so one bad script does not block generation.
func (r *Registry) AddAll(ifaces map[string]Interface, b *llm.Builder) {
	names := make([]string, 0, len(ifaces))
	for name := range ifaces {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.AddContext(ifaces[name], b); err != nil {
			r.logger.Printf("interfaces: skip %s: %v", name, err)
		}
	}
}

// DatabaseContext is the built-in provider for databases.
func DatabaseContext(iface Interface, b *llm.Builder) error {
	db := iface.Inner.Database
	if db == nil {
		return fmt.Errorf("%w: not a database", ErrInvalid)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Have in consideration the following %s Database:\n\n- database name: %s\n", iface.TypeLabel(), db.Name)
	if db.Port > 0 {
		fmt.Fprintf(&sb, "- database port: %d\n", db.Port)
	}
	if db.Host != "" {
		fmt.Fprintf(&sb, "- database host: %s\n", db.Host)
	}
	b.AddUser(sb.String())
	for _, name := range iface.SchemaNames() {
		b.AddUser(fmt.Sprintf(
			"Consider the following schema as part of the %s database. It's called `%s` and the schema is:\n```\n%s```",
			db.Name, name, withNewline(db.Schemas[name]),
		))
	}
	return nil
}

// APIContext is the built-in provider for communication services.
func APIContext(iface Interface, b *llm.Builder) error {
	api := iface.Inner.Api
	if api == nil {
		return fmt.Errorf("%w: not an api", ErrInvalid)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Have in consideration the following %s communication service:\n\n- service name: %s\n", iface.TypeLabel(), api.Name)
	if api.Port > 0 {
		fmt.Fprintf(&sb, "- port: %d\n", api.Port)
	}
	if api.Host != "" {
		fmt.Fprintf(&sb, "- host: %s\n", api.Host)
	}
	b.AddUser(sb.String())
	for _, name := range iface.SchemaNames() {
		b.AddUser(fmt.Sprintf(
			"Consider the following schema as part of the %s service. It's called `%s` and the schema is:\n```\n%s```",
			api.Name, name, withNewline(api.Schemas[name]),
		))
	}
	return nil
}

// StorageContext is the built-in provider for data storages.
func StorageContext(iface Interface, b *llm.Builder) error {
	st := iface.Inner.Storage
	if st == nil {
		return fmt.Errorf("%w: not a storage", ErrInvalid)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Have in consideration the following %s data storage:\n\n- datastore name: %s\n- file type: %s\n",
		iface.TypeLabel(), st.Name, st.FileTypeLabel())
	if st.Region != "" {
		fmt.Fprintf(&sb, "- region: %s\n", st.Region)
	}
	b.AddUser(sb.String())
	for _, name := range iface.SchemaNames() {
		b.AddUser(fmt.Sprintf(
			"Consider the following %s schema as part of the %s data storage. It's called `%s` and the schema is:\n```\n%s```",
			st.FileTypeLabel(), st.Name, name, withNewline(st.Schemas[name]),
		))
	}
	return nil
}

func withNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
