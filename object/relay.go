package object

import "sync"

// MutationEvent is emitted by a mutable object whenever it changes; Path
// records the literal path, relative to the relay that first emitted
// it, of the object that actually mutated (spec §4.3).
type MutationEvent struct {
	Path   string
	Source HashedObject
	Action string
	Detail any
}

// relaySink is a subscriber attached to a Relay.
type relaySink func(MutationEvent)

// Relay is the lazily-created event relay every hashed object exposes,
// keyed by the literal path to each direct subobject. Relays chain: a
// parent's relay holds its children's relays as sub-sources and each
// child relay keeps a back-reference to its parent, so an event
// emitted deep in the graph bubbles up through every ancestor and an
// observer attached at the root sees mutation events from any
// descendant mutable (spec §4.3).
type Relay struct {
	mu       sync.Mutex
	owner    HashedObject
	parent   *Relay
	children map[string]*Relay
	sinks    []relaySink
}

// RelayOf returns (creating if necessary) the event relay for obj.
func RelayOf(obj HashedObject) *Relay {
	b := obj.base()
	if b.relay == nil {
		b.relay = &Relay{owner: obj, children: make(map[string]*Relay)}
	}
	return b.relay
}

// ChildRelay returns (creating if necessary) the sub-relay chained at
// path, wiring it as a source so events emitted there bubble up to r.
func (r *Relay) ChildRelay(path string, child HashedObject) *Relay {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.children[path]; ok {
		return existing
	}
	cr := RelayOf(child)
	cr.mu.Lock()
	cr.parent = r
	cr.mu.Unlock()
	r.children[path] = cr
	return cr
}

// Subscribe registers fn to be called for every event emitted at r or
// bubbled up from a chained descendant relay.
func (r *Relay) Subscribe(fn func(MutationEvent)) {
	r.mu.Lock()
	r.sinks = append(r.sinks, fn)
	r.mu.Unlock()
}

// Emit fires ev on r's own sinks, then bubbles it up to r's parent
// relay, if any, provided the parent's owner has
// cascadeMutableContentEvents enabled — from the parent's perspective,
// r is one of its mutable *contents*, and the toggle is what lets a
// containing object opt into seeing its contents' mutations (spec
// §4.3). The toggle is checked at each link of the chain, so a single
// ancestor with propagation disabled stops the bubble there.
func (r *Relay) Emit(ev MutationEvent) {
	r.mu.Lock()
	sinks := append([]relaySink{}, r.sinks...)
	parent := r.parent
	r.mu.Unlock()

	for _, s := range sinks {
		s(ev)
	}
	if parent != nil && parent.owner != nil && CascadeMutableContentEvents(parent.owner) {
		parent.Emit(ev)
	}
}
