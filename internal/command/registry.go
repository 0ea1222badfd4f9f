package command

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

var (
	// ErrInvalidID is returned for identifiers outside [A-Za-z0-9][A-Za-z0-9_-]*.
	ErrInvalidID = errors.New("invalid command id")
	// ErrNotFound is returned for well-formed identifiers with no definition.
	ErrNotFound = errors.New("command not found")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidID reports whether id is a syntactically valid command identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Registry holds command definitions indexed by id. It is immutable once
// built and safe for concurrent reads.
type Registry struct {
	defs map[string]*Definition
	ids  []string
}

// NewRegistry validates defs and builds a registry from private copies of them.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{
		defs: make(map[string]*Definition, len(defs)),
		ids:  make([]string, 0, len(defs)),
	}
	for _, d := range defs {
		if !ValidID(d.ID) {
			return nil, fmt.Errorf("command %q: %w", d.ID, ErrInvalidID)
		}
		if d.Executable == "" {
			return nil, fmt.Errorf("command %q: executable is required", d.ID)
		}
		if _, exists := r.defs[d.ID]; exists {
			return nil, fmt.Errorf("command %q already registered", d.ID)
		}
		c := d.clone()
		r.defs[d.ID] = &c
		r.ids = append(r.ids, d.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

// Resolve maps an identifier to its definition. The error wraps ErrInvalidID
// or ErrNotFound.
func (r *Registry) Resolve(id string) (*Definition, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	d, ok := r.defs[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return d, nil
}

// Get retrieves a definition by id.
func (r *Registry) Get(id string) (*Definition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// IDs returns the registered identifiers, sorted.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	return len(r.ids)
}
