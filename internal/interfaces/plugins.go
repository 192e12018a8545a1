package interfaces

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/kingrea/codeforge/internal/llm"
)

const (
	scriptTypeFunc     = "CustomType"
	scriptDescribeFunc = "Describe"
)

// ScriptProvider is a context provider implemented as an interpreted Go file.
// The file must declare
//
//	func CustomType() string
//	func Describe(name string, schemas map[string]string) []string
//
// Each string returned by Describe becomes one user message.
type ScriptProvider struct {
	path       string
	customType string
	describe   reflect.Value
}

// Path returns the file the provider was loaded from.
func (s *ScriptProvider) Path() string { return s.path }

// CustomType returns the custom interface type the script serves.
func (s *ScriptProvider) CustomType() string { return s.customType }

// AddContext calls the script's Describe function. A panic inside the script
// is returned as an error and leaves b untouched.
func (s *ScriptProvider) AddContext(iface Interface, b *llm.Builder) error {
	schemas := cloneSchemas(iface.Schemas())
	if schemas == nil {
		schemas = map[string]string{}
	}
	results, err := call(s.describe, reflect.ValueOf(iface.Name()), reflect.ValueOf(schemas))
	if err != nil {
		return fmt.Errorf("interfaces: %s: %s: %w", s.path, scriptDescribeFunc, err)
	}
	if len(results) != 1 {
		return fmt.Errorf("interfaces: %s: %s returned %d values", s.path, scriptDescribeFunc, len(results))
	}
	lines, err := toStrings(results[0])
	if err != nil {
		return fmt.Errorf("interfaces: %s: %w", s.path, err)
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.AddUser(line)
	}
	return nil
}

// LoadProviderDir evaluates every .go file in dir. A missing directory yields
// no providers.
func LoadProviderDir(dir string) ([]*ScriptProvider, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("interfaces: read %s: %w", trimmed, err)
	}
	var providers []*ScriptProvider
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" {
			continue
		}
		provider, err := LoadProviderFile(filepath.Join(trimmed, entry.Name()))
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].path < providers[j].path })
	return providers, nil
}

// LoadProviderFile interprets a single provider script.
func LoadProviderFile(path string) (*ScriptProvider, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("interfaces: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("interfaces: %s is empty", path)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("interfaces: load stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("interfaces: interpret %s: %w", path, err)
	}
	typeFn, err := lookupFunc(i, scriptTypeFunc)
	if err != nil {
		return nil, fmt.Errorf("interfaces: %s must define %s() string: %w", path, scriptTypeFunc, err)
	}
	out, err := call(typeFn)
	if err != nil {
		return nil, fmt.Errorf("interfaces: %s: %s: %w", path, scriptTypeFunc, err)
	}
	if len(out) != 1 || out[0].Kind() != reflect.String {
		return nil, fmt.Errorf("interfaces: %s: %s must return a string", path, scriptTypeFunc)
	}
	customType := strings.TrimSpace(out[0].String())
	if customType == "" {
		return nil, fmt.Errorf("interfaces: %s: %s returned an empty type", path, scriptTypeFunc)
	}
	describe, err := lookupFunc(i, scriptDescribeFunc)
	if err != nil {
		return nil, fmt.Errorf("interfaces: %s must define %s(string, map[string]string) []string: %w", path, scriptDescribeFunc, err)
	}
	if !isDescribeFunc(describe.Type()) {
		return nil, fmt.Errorf("interfaces: %s: %s must be func(name string, schemas map[string]string) []string, got %s", path, scriptDescribeFunc, describe.Type())
	}
	return &ScriptProvider{path: path, customType: customType, describe: describe}, nil
}

func isDescribeFunc(t reflect.Type) bool {
	if t.NumIn() != 2 || t.NumOut() != 1 || t.IsVariadic() {
		return false
	}
	name, schemas, out := t.In(0), t.In(1), t.Out(0)
	return name.Kind() == reflect.String &&
		schemas.Kind() == reflect.Map && schemas.Key().Kind() == reflect.String && schemas.Elem().Kind() == reflect.String &&
		out.Kind() == reflect.Slice && out.Elem().Kind() == reflect.String
}

// call invokes an interpreted function, turning a panic into an error.
func call(fn reflect.Value, args ...reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn.Call(args), nil
}

func lookupFunc(i *interp.Interpreter, name string) (reflect.Value, error) {
	value, err := i.Eval(name)
	if err != nil {
		return reflect.Value{}, err
	}
	if !value.IsValid() || value.Kind() != reflect.Func {
		return reflect.Value{}, fmt.Errorf("%s is not a function", name)
	}
	return value, nil
}

func toStrings(value reflect.Value) ([]string, error) {
	if lines, ok := value.Interface().([]string); ok {
		return lines, nil
	}
	if value.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s must return []string", scriptDescribeFunc)
	}
	out := make([]string, value.Len())
	for idx := 0; idx < value.Len(); idx++ {
		s, ok := value.Index(idx).Interface().(string)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not a string", scriptDescribeFunc, idx)
		}
		out[idx] = s
	}
	return out, nil
}
