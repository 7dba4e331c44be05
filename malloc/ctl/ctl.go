// Package ctl exposes the allocator's introspection surface: a registry of
// dotted option names with typed read and write accessors, in the spirit of
// sysctl. The allocator core registers its nodes at boot; embedders read
// and write them at runtime.
package ctl

import (
	"errors"
	"sync"
)

var (
	// ErrUnknownName indicates an unregistered node name.
	ErrUnknownName = errors.New("ctl: unknown name")

	// ErrNotWritable indicates a write to a read-only node.
	ErrNotWritable = errors.New("ctl: node is read-only")

	// ErrNotBooted indicates use before Boot.
	ErrNotBooted = errors.New("ctl: not booted")
)

// Node is one introspection entry. Get must be non-nil; Set may be nil for
// read-only nodes.
type Node struct {
	Get func() (any, error)
	Set func(any) error
}

// Tree is the node registry. All operations serialize on one lock; the
// introspection surface is not a hot path.
type Tree struct {
	mu     sync.Mutex
	nodes  map[string]Node
	booted bool
	epoch  uint64

	// refresh recomputes merged statistics; driven by writes to the
	// epoch node.
	refresh func()
}

// New returns an unbooted tree. refresh may be nil.
func New(refresh func()) *Tree {
	return &Tree{nodes: make(map[string]Node), refresh: refresh}
}

// Boot installs the built-in nodes and opens the tree for use.
func (t *Tree) Boot() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.booted {
		return nil
	}
	t.nodes["epoch"] = Node{
		Get: func() (any, error) { return t.epoch, nil },
		Set: func(any) error {
			t.epoch++
			if t.refresh != nil {
				t.refresh()
			}
			return nil
		},
	}
	t.booted = true
	return nil
}

// Register adds a node. Intended for boot-time use by the allocator core.
func (t *Tree) Register(name string, n Node) {
	t.mu.Lock()
	t.nodes[name] = n
	t.mu.Unlock()
}

// Read returns the value of the named node.
func (t *Tree) Read(name string) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.booted {
		return nil, ErrNotBooted
	}
	n, ok := t.nodes[name]
	if !ok {
		return nil, ErrUnknownName
	}
	return n.Get()
}

// Write sets the value of the named node.
func (t *Tree) Write(name string, v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.booted {
		return ErrNotBooted
	}
	n, ok := t.nodes[name]
	if !ok {
		return ErrUnknownName
	}
	if n.Set == nil {
		return ErrNotWritable
	}
	return n.Set(v)
}

// Names returns every registered name, for tooling.
func (t *Tree) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.nodes))
	for name := range t.nodes {
		out = append(out, name)
	}
	return out
}

// Prefork acquires the ctl lock ahead of fork.
func (t *Tree) Prefork() { t.mu.Lock() }

// PostforkParent releases the ctl lock in the parent.
func (t *Tree) PostforkParent() { t.mu.Unlock() }

// PostforkChild releases the ctl lock in the child.
func (t *Tree) PostforkChild() { t.mu.Unlock() }
