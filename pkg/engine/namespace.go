package engine

import (
	"sort"
	"sync"
)

// Namespace holds the variable bindings shared by every turn of a session.
// It is owned by a single Engine and passed by reference to hooks and
// builtins, so multiple sessions can coexist in one process.
type Namespace struct {
	mu   sync.RWMutex
	vars map[string]any
	seed map[string]bool
}

func NewNamespace() *Namespace {
	return &Namespace{
		vars: map[string]any{},
		seed: map[string]bool{},
	}
}

func (n *Namespace) Get(name string) (any, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.vars[name]
	return v, ok
}

func (n *Namespace) Set(name string, value any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.vars[name] = value
}

// Delete removes a binding. It reports whether the name was bound.
func (n *Namespace) Delete(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.vars[name]; !ok {
		return false
	}
	delete(n.vars, name)
	return true
}

// Keys returns all bound names in lexical order.
func (n *Namespace) Keys() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	keys := make([]string, 0, len(n.vars))
	for k := range n.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsSeed reports whether name was bound before the session's first turn
// (builtins and other pre-seeded state). Completion uses this to keep
// empty-prefix listings to names the user or extensions introduced.
func (n *Namespace) IsSeed(name string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.seed[name]
}

// markSeed records the current key set as the namespace's initial state.
// Called once by the Engine after installing builtins.
func (n *Namespace) markSeed() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for k := range n.vars {
		n.seed[k] = true
	}
}

// Env exposes the live binding map for expression evaluation. The map is
// exclusively owned by the in-flight turn's worker; callers outside a turn
// must use the locked accessors instead.
func (n *Namespace) Env() map[string]any {
	return n.vars
}
