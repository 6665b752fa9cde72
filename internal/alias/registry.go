// SPDX-License-Identifier: MPL-2.0

package alias

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

const (
	// KindCallable entries hold a Go callable.
	KindCallable Kind = iota
	// KindBlock entries hold a parsed shell block.
	KindBlock
	// KindArgv entries expand into a longer argument vector.
	KindArgv
)

// ErrDuplicateAlias is the sentinel error wrapped by DuplicateAliasError.
var ErrDuplicateAlias = errors.New("alias already registered")

type (
	// Kind distinguishes registry entries.
	Kind int

	// Entry is one registered alias.
	Entry struct {
		Name     string
		Kind     Kind
		Callable *Callable
		Block    *Block
		Argv     []string
	}

	// DuplicateAliasError is returned when a name is registered twice.
	DuplicateAliasError struct {
		Name string
	}

	// Registry maps alias names to entries. It is safe for concurrent use.
	Registry struct {
		mu      sync.RWMutex
		entries map[string]Entry
	}
)

// Error implements the error interface.
func (e *DuplicateAliasError) Error() string {
	return fmt.Sprintf("alias %q already registered", e.Name)
}

// Unwrap returns ErrDuplicateAlias so callers can use errors.Is for programmatic detection.
func (e *DuplicateAliasError) Unwrap() error { return ErrDuplicateAlias }

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindCallable:
		return "callable"
	case KindBlock:
		return "exec-block"
	case KindArgv:
		return "argv"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds a callable. It panics on an empty or duplicate name, since
// callables are registered from code.
func (r *Registry) Register(c *Callable) {
	if c.Name() == "" {
		panic("alias: cannot register callable with empty name")
	}
	if err := r.add(Entry{Name: c.Name(), Kind: KindCallable, Callable: c}); err != nil {
		panic(err.Error())
	}
}

// RegisterBlock parses source and adds it as an exec-block alias. Callables
// in this registry are visible to the block as builtins.
func (r *Registry) RegisterBlock(name, source string) (*Block, error) {
	b, err := ParseBlock(name, source)
	if err != nil {
		return nil, err
	}
	b.builtins = r.LookupCallable
	if err := r.add(Entry{Name: name, Kind: KindBlock, Block: b}); err != nil {
		return nil, err
	}
	return b, nil
}

// RegisterArgv adds an alias that expands name into argv.
func (r *Registry) RegisterArgv(name string, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("alias %q: empty expansion", name)
	}
	return r.add(Entry{Name: name, Kind: KindArgv, Argv: slices.Clone(argv)})
}

func (r *Registry) add(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.Name]; exists {
		return &DuplicateAliasError{Name: e.Name}
	}
	r.entries[e.Name] = e
	return nil
}

// Lookup retrieves an entry by name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	return e, ok
}

// LookupCallable retrieves a callable entry by name.
func (r *Registry) LookupCallable(name string) (*Callable, bool) {
	e, ok := r.Lookup(name)
	if !ok || e.Kind != KindCallable {
		return nil, false
	}
	return e.Callable, true
}

// Names returns the names of all registered aliases in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
