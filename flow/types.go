package flow

import (
	"sort"
	"sync"

	"github.com/juju/errors"
)

// Factory builds a node from its definition. rt is the node's link to the
// host; deps resolves references to nodes deployed before it.
type Factory func(def *NodeDef, rt Runtime, deps Deps) (Node, error)

// TypeInfo describes a registered node type.
type TypeInfo struct {
	Name    string
	Factory Factory
	// Config types hold shared resources (connections, servers). They are
	// deployed before and closed after every other node, and take no input.
	Config bool
}

// Types is the node type registry.
type Types struct {
	mu    sync.RWMutex
	types map[string]TypeInfo
}

func NewTypes() *Types {
	return &Types{types: make(map[string]TypeInfo)}
}

// Register adds a regular node type.
func (t *Types) Register(name string, f Factory) error {
	return t.add(TypeInfo{Name: name, Factory: f})
}

// RegisterConfig adds a config node type.
func (t *Types) RegisterConfig(name string, f Factory) error {
	return t.add(TypeInfo{Name: name, Factory: f, Config: true})
}

func (t *Types) add(info TypeInfo) error {
	if info.Name == "" || info.Factory == nil {
		return errors.NotValidf("node type %q", info.Name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.types[info.Name]; ok {
		return errors.AlreadyExistsf("node type %q", info.Name)
	}
	t.types[info.Name] = info
	return nil
}

// Lookup returns the type registered under name.
func (t *Types) Lookup(name string) (TypeInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.types[name]
	return info, ok
}

// Names returns every registered type name, sorted.
func (t *Types) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.types))
	for name := range t.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
