// Package project holds the shared state of one code-generation session.
package project

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/codeforge/internal/interfaces"
	"github.com/kingrea/codeforge/internal/jobs"
	"github.com/kingrea/codeforge/internal/planner"
)

var (
	// ErrInterfaceExists is returned when adding a name that is already registered.
	ErrInterfaceExists = errors.New("project: interface already exists")
	// ErrInterfaceNotFound is returned when an interface name is unknown.
	ErrInterfaceNotFound = errors.New("project: interface not found")
	// ErrSchemaNotFound is returned when removing a schema that does not exist.
	ErrSchemaNotFound = errors.New("project: schema not found")
	// ErrFileNotFound is returned when removing a source file that does not exist.
	ErrFileNotFound = errors.New("project: source file not found")
)

// State is owned by a single goroutine. Use Snapshot to share it.
type State struct {
	Specs      string                          `json:"specs,omitempty"`
	Scaffold   string                          `json:"scaffold,omitempty"`
	Interfaces map[string]interfaces.Interface `json:"interfaces"`
	Codebase   map[string]string               `json:"codebase"`
	Jobs       *jobs.JobSet                    `json:"jobs"`
}

// New returns an empty state.
func New() *State {
	return &State{
		Interfaces: map[string]interfaces.Interface{},
		Codebase:   map[string]string{},
		Jobs:       jobs.NewJobSet(),
	}
}

// SetSpecs records the project description.
func (s *State) SetSpecs(specs string) {
	s.Specs = strings.TrimSpace(specs)
}

// SetScaffold records the folder structure.
func (s *State) SetScaffold(scaffold string) {
	s.Scaffold = strings.TrimSpace(scaffold)
}

// AddInterface registers iface under its name.
func (s *State) AddInterface(iface interfaces.Interface) error {
	if err := iface.Validate(); err != nil {
		return err
	}
	name := iface.Name()
	if _, ok := s.Interfaces[name]; ok {
		return fmt.Errorf("%w: %s", ErrInterfaceExists, name)
	}
	s.Interfaces[name] = iface.Clone()
	return nil
}

// RemoveInterface drops an interface.
func (s *State) RemoveInterface(name string) error {
	if _, ok := s.Interfaces[name]; !ok {
		return fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
	}
	delete(s.Interfaces, name)
	return nil
}

// AddSchema inserts or replaces a schema on an existing interface.
func (s *State) AddSchema(interfaceName, schemaName, schema string) error {
	iface, ok := s.Interfaces[interfaceName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInterfaceNotFound, interfaceName)
	}
	iface.SetSchema(schemaName, schema)
	s.Interfaces[interfaceName] = iface
	return nil
}

// RemoveSchema deletes a schema from an interface.
func (s *State) RemoveSchema(interfaceName, schemaName string) error {
	iface, ok := s.Interfaces[interfaceName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInterfaceNotFound, interfaceName)
	}
	if !iface.RemoveSchema(schemaName) {
		return fmt.Errorf("%w: %s/%s", ErrSchemaNotFound, interfaceName, schemaName)
	}
	s.Interfaces[interfaceName] = iface
	return nil
}

// AddSourceFile stores or replaces a file in the codebase.
func (s *State) AddSourceFile(filename, contents string) {
	s.Codebase[filename] = contents
}

// RemoveSourceFile deletes a file from the codebase.
func (s *State) RemoveSourceFile(filename string) error {
	if _, ok := s.Codebase[filename]; !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, filename)
	}
	delete(s.Codebase, filename)
	return nil
}

// Filenames lists codebase files in sorted order.
func (s *State) Filenames() []string {
	names := make([]string, 0, len(s.Codebase))
	for name := range s.Codebase {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PlannerContext copies the prompt-relevant parts of the state so a prompt
// can be built without holding on to live maps.
func (s *State) PlannerContext() planner.Context {
	snap := s.Snapshot()
	return planner.Context{
		Specs:      snap.Specs,
		Scaffold:   snap.Scaffold,
		Interfaces: snap.Interfaces,
		Codebase:   snap.Codebase,
	}
}

// Snapshot returns a deep copy that shares nothing with s.
func (s *State) Snapshot() *State {
	out := &State{
		Specs:      s.Specs,
		Scaffold:   s.Scaffold,
		Interfaces: make(map[string]interfaces.Interface, len(s.Interfaces)),
		Codebase:   make(map[string]string, len(s.Codebase)),
		Jobs:       s.Jobs.Snapshot(),
	}
	for name, iface := range s.Interfaces {
		out.Interfaces[name] = iface.Clone()
	}
	for name, body := range s.Codebase {
		out.Codebase[name] = body
	}
	return out
}
