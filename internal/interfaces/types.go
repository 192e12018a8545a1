// Package interfaces models the external systems (databases, APIs, data
// storages) a generated project talks to, and renders them into prompt
// context.
package interfaces

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalid is returned when an interface fails validation.
	ErrInvalid = errors.New("interfaces: invalid interface")
)

// Kind selects which variant of Inner is populated.
type Kind string

const (
	KindDatabase Kind = "Database"
	KindStorage  Kind = "Storage"
	KindAPI      Kind = "Api"
)

// CustomType is the type tag shared by every enumeration for user-defined types.
const CustomType = "Custom"

// Database describes a database or data warehouse.
type Database struct {
	Name       string            `json:"name" yaml:"name"`
	DBType     string            `json:"dbType" yaml:"dbType"`
	CustomType string            `json:"customType,omitempty" yaml:"customType,omitempty"`
	Port       int               `json:"port,omitempty" yaml:"port,omitempty"`
	Host       string            `json:"host,omitempty" yaml:"host,omitempty"`
	Schemas    map[string]string `json:"schemas" yaml:"schemas"`
}

// Api describes a communication service.
type Api struct {
	Name       string            `json:"name" yaml:"name"`
	APIType    string            `json:"apiType" yaml:"apiType"`
	CustomType string            `json:"customType,omitempty" yaml:"customType,omitempty"`
	Port       int               `json:"port,omitempty" yaml:"port,omitempty"`
	Host       string            `json:"host,omitempty" yaml:"host,omitempty"`
	Schemas    map[string]string `json:"schemas" yaml:"schemas"`
}

// Storage describes a raw file or object store.
type Storage struct {
	Name              string            `json:"name" yaml:"name"`
	FileType          string            `json:"fileType" yaml:"fileType"`
	StorageType       string            `json:"storageType" yaml:"storageType"`
	CustomFileType    string            `json:"customFileType,omitempty" yaml:"customFileType,omitempty"`
	CustomStorageType string            `json:"customStorageType,omitempty" yaml:"customStorageType,omitempty"`
	Region            string            `json:"region,omitempty" yaml:"region,omitempty"`
	Schemas           map[string]string `json:"schemas" yaml:"schemas"`
}

// Inner holds exactly one populated variant.
type Inner struct {
	Database *Database `json:"database" yaml:"database,omitempty"`
	Storage  *Storage  `json:"storage" yaml:"storage,omitempty"`
	Api      *Api      `json:"api" yaml:"api,omitempty"`
}

// Interface is a named external system plus its schema snippets.
type Interface struct {
	Type  Kind  `json:"interfaceType" yaml:"interfaceType"`
	Inner Inner `json:"inner" yaml:"inner"`
}

// NewDatabase wraps db.
func NewDatabase(db Database) Interface {
	return Interface{Type: KindDatabase, Inner: Inner{Database: &db}}
}

// NewAPI wraps api.
func NewAPI(api Api) Interface {
	return Interface{Type: KindAPI, Inner: Inner{Api: &api}}
}

// NewStorage wraps storage.
func NewStorage(storage Storage) Interface {
	return Interface{Type: KindStorage, Inner: Inner{Storage: &storage}}
}

// Parse decodes an interface from YAML or JSON.
func Parse(data []byte) (Interface, error) {
	var iface Interface
	if err := yaml.Unmarshal(data, &iface); err != nil {
		return Interface{}, fmt.Errorf("interfaces: parse: %w", err)
	}
	if err := iface.Validate(); err != nil {
		return Interface{}, err
	}
	return iface, nil
}

// Validate checks that the populated variant matches Type and carries a name.
func (i Interface) Validate() error {
	populated := 0
	for _, set := range []bool{i.Inner.Database != nil, i.Inner.Storage != nil, i.Inner.Api != nil} {
		if set {
			populated++
		}
	}
	if populated != 1 {
		return fmt.Errorf("%w: expected exactly one variant, found %d", ErrInvalid, populated)
	}
	switch i.Type {
	case KindDatabase:
		if i.Inner.Database == nil {
			return fmt.Errorf("%w: interfaceType Database without database payload", ErrInvalid)
		}
	case KindStorage:
		if i.Inner.Storage == nil {
			return fmt.Errorf("%w: interfaceType Storage without storage payload", ErrInvalid)
		}
	case KindAPI:
		if i.Inner.Api == nil {
			return fmt.Errorf("%w: interfaceType Api without api payload", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown interfaceType %q", ErrInvalid, i.Type)
	}
	if strings.TrimSpace(i.Name()) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	return nil
}

// Name returns the name of the populated variant.
func (i Interface) Name() string {
	switch {
	case i.Inner.Database != nil:
		return i.Inner.Database.Name
	case i.Inner.Storage != nil:
		return i.Inner.Storage.Name
	case i.Inner.Api != nil:
		return i.Inner.Api.Name
	}
	return ""
}

// TypeLabel returns the human readable type, resolving Custom to the
// user-supplied label.
func (i Interface) TypeLabel() string {
	switch {
	case i.Inner.Database != nil:
		return label(dbTypeLabels, i.Inner.Database.DBType, i.Inner.Database.CustomType)
	case i.Inner.Storage != nil:
		return label(storageTypeLabels, i.Inner.Storage.StorageType, i.Inner.Storage.CustomStorageType)
	case i.Inner.Api != nil:
		return label(apiTypeLabels, i.Inner.Api.APIType, i.Inner.Api.CustomType)
	}
	return ""
}

// Custom reports the user-defined type name when the interface uses a Custom
// type, or "" otherwise.
func (i Interface) Custom() string {
	switch {
	case i.Inner.Database != nil && i.Inner.Database.DBType == CustomType:
		return i.Inner.Database.CustomType
	case i.Inner.Storage != nil && i.Inner.Storage.StorageType == CustomType:
		return i.Inner.Storage.CustomStorageType
	case i.Inner.Api != nil && i.Inner.Api.APIType == CustomType:
		return i.Inner.Api.CustomType
	}
	return ""
}

// Schemas returns the schema map of the populated variant.
func (i Interface) Schemas() map[string]string {
	switch {
	case i.Inner.Database != nil:
		return i.Inner.Database.Schemas
	case i.Inner.Storage != nil:
		return i.Inner.Storage.Schemas
	case i.Inner.Api != nil:
		return i.Inner.Api.Schemas
	}
	return nil
}

// SchemaNames lists schema names in sorted order.
func (i Interface) SchemaNames() []string {
	schemas := i.Schemas()
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetSchema inserts or replaces a schema.
func (i *Interface) SetSchema(name, schema string) {
	target := i.schemaMap()
	if target == nil {
		return
	}
	if *target == nil {
		*target = map[string]string{}
	}
	(*target)[name] = schema
}

// RemoveSchema deletes a schema and reports whether it existed.
func (i *Interface) RemoveSchema(name string) bool {
	target := i.schemaMap()
	if target == nil || *target == nil {
		return false
	}
	if _, ok := (*target)[name]; !ok {
		return false
	}
	delete(*target, name)
	return true
}

func (i *Interface) schemaMap() *map[string]string {
	switch {
	case i.Inner.Database != nil:
		return &i.Inner.Database.Schemas
	case i.Inner.Storage != nil:
		return &i.Inner.Storage.Schemas
	case i.Inner.Api != nil:
		return &i.Inner.Api.Schemas
	}
	return nil
}

// Clone returns a deep copy.
func (i Interface) Clone() Interface {
	out := Interface{Type: i.Type}
	if db := i.Inner.Database; db != nil {
		cp := *db
		cp.Schemas = cloneSchemas(db.Schemas)
		out.Inner.Database = &cp
	}
	if st := i.Inner.Storage; st != nil {
		cp := *st
		cp.Schemas = cloneSchemas(st.Schemas)
		out.Inner.Storage = &cp
	}
	if api := i.Inner.Api; api != nil {
		cp := *api
		cp.Schemas = cloneSchemas(api.Schemas)
		out.Inner.Api = &cp
	}
	return out
}

func cloneSchemas(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func label(labels map[string]string, value, custom string) string {
	if value == CustomType && strings.TrimSpace(custom) != "" {
		return custom
	}
	if display, ok := labels[value]; ok {
		return display
	}
	return value
}
