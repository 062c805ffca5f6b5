package visibility

import (
	"sort"
	"sync"
)

// RemotePrimitive stands in for a browser's intersection observer. It keeps
// the shared registrations so they can be handed to the client, which then
// posts ratios back through Observer.Report.
type RemotePrimitive struct {
	mu        sync.Mutex
	supported bool
	groups    map[string]*remoteGroup
}

type remoteGroup struct {
	parent     *RemotePrimitive
	key        string
	thresholds []float64
	elements   map[string]struct{}
}

// NewRemotePrimitive creates a primitive; supported mirrors whether the
// client announced an intersection observer.
func NewRemotePrimitive(supported bool) *RemotePrimitive {
	return &RemotePrimitive{supported: supported, groups: make(map[string]*remoteGroup)}
}

// Supported reports whether the client has the primitive.
func (p *RemotePrimitive) Supported() bool { return p.supported }

// NewGroup records a shared registration for thresholds.
func (p *RemotePrimitive) NewGroup(key string, thresholds []float64) (Group, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g := &remoteGroup{parent: p, key: key, thresholds: thresholds, elements: make(map[string]struct{})}
	p.groups[key] = g
	return g, nil
}

// GroupCount returns the number of live registrations.
func (p *RemotePrimitive) GroupCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.groups)
}

// Elements returns the element IDs registered under key.
func (p *RemotePrimitive) Elements(key string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.groups[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.elements))
	for id := range g.elements {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (g *remoteGroup) Observe(elementID string) {
	g.parent.mu.Lock()
	g.elements[elementID] = struct{}{}
	g.parent.mu.Unlock()
}

func (g *remoteGroup) Unobserve(elementID string) {
	g.parent.mu.Lock()
	delete(g.elements, elementID)
	g.parent.mu.Unlock()
}

func (g *remoteGroup) Disconnect() {
	g.parent.mu.Lock()
	delete(g.parent.groups, g.key)
	g.parent.mu.Unlock()
}
