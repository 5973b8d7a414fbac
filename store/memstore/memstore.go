// Package memstore is the reference in-process Backend (spec §6): it
// keeps every literal, op header and index as native Go values, no
// serialization, grounded on the teacher's in-memory replicatedMessages
// map and mutex-guarded ledger stores in core/common_structs.go and
// core/network.go.
package memstore

import (
	"sort"
	"strings"
	"sync"

	"hypermesh/hashing"
	"hypermesh/mutation"
	"hypermesh/object"
	"hypermesh/store"
)

type referenceIndex struct {
	// byTarget[path][targetHash] is the set of root hashes whose
	// literal carries a reference dependency at path pointing at
	// targetHash.
	byTarget map[string]map[hashing.Hash]map[hashing.Hash]bool
}

func newReferenceIndex() *referenceIndex {
	return &referenceIndex{byTarget: make(map[string]map[hashing.Hash]map[hashing.Hash]bool)}
}

func (ri *referenceIndex) add(path string, target, root hashing.Hash) {
	byHash, ok := ri.byTarget[path]
	if !ok {
		byHash = make(map[hashing.Hash]map[hashing.Hash]bool)
		ri.byTarget[path] = byHash
	}
	roots, ok := byHash[target]
	if !ok {
		roots = make(map[hashing.Hash]bool)
		byHash[target] = roots
	}
	roots[root] = true
}

// fieldNameOf strips a trailing "[n]" element index from a dependency
// path, e.g. "CausalOps[0]" -> "CausalOps". Paths with no index are
// returned unchanged.
func fieldNameOf(path string) string {
	if idx := strings.IndexByte(path, '['); idx >= 0 {
		return path[:idx]
	}
	return path
}

func (ri *referenceIndex) lookup(path string, target hashing.Hash) []hashing.Hash {
	roots := ri.byTarget[path][target]
	out := make([]hashing.Hash, 0, len(roots))
	for h := range roots {
		out = append(out, h)
	}
	return out
}

// Backend is the in-memory store.Backend implementation.
type Backend struct {
	name string

	mu             sync.Mutex
	literals       map[hashing.Hash]*object.Literal
	headersByOp    map[hashing.Hash]*mutation.OpHeader
	headersByHash  map[hashing.Hash]*mutation.OpHeader
	byClass        map[string][]hashing.Hash
	references     *referenceIndex
	terminal       map[hashing.Hash]*store.TerminalOps
	storedCallback store.StoredObjectCallback
}

// New returns an empty Backend identified by name.
func New(name string) *Backend {
	return &Backend{
		name:          name,
		literals:      make(map[hashing.Hash]*object.Literal),
		headersByOp:   make(map[hashing.Hash]*mutation.OpHeader),
		headersByHash: make(map[hashing.Hash]*mutation.OpHeader),
		byClass:       make(map[string][]hashing.Hash),
		references:    newReferenceIndex(),
		terminal:      make(map[hashing.Hash]*store.TerminalOps),
	}
}

func (b *Backend) Store(lit *object.Literal, header *mutation.OpHeader) error {
	b.mu.Lock()
	if _, exists := b.literals[lit.Hash]; exists {
		b.mu.Unlock()
		return nil
	}
	b.literals[lit.Hash] = lit
	b.byClass[lit.ClassName()] = append(b.byClass[lit.ClassName()], lit.Hash)
	for _, dep := range lit.Dependencies {
		if dep.Type == object.DepReference {
			b.references.add(dep.Path, dep.Hash, lit.Hash)
			// A reference held in a HashedSet/HashedMap field is
			// literalized at an element path like "CausalOps[0]"
			// (literalizeSlice in object/literalize.go), not the bare
			// field name. Index it under the field name too, so
			// SearchByReference("CausalOps", target) still resolves
			// every element reference regardless of its position.
			if field := fieldNameOf(dep.Path); field != dep.Path {
				b.references.add(field, dep.Hash, lit.Hash)
			}
		}
	}
	if header != nil {
		b.headersByOp[header.OpHash] = header
		b.headersByHash[header.HeaderHash] = header
	}
	b.updateTerminalOps(lit)
	cb := b.storedCallback
	b.mu.Unlock()

	if cb != nil {
		cb(lit)
	}
	return nil
}

// updateTerminalOps keeps a best-effort lastOp/terminalOps index per
// mutable, driven purely from literal dependency paths so it needs no
// class-specific reflection: "TargetObject" identifies the mutable a
// MutationOp was applied to, "TerminalOps[n]" the bound an
// InvalidateAfterOp fixes for it. Callers holds b.mu.
func (b *Backend) updateTerminalOps(lit *object.Literal) {
	var targetObjectHash hashing.Hash
	var terminalHashes []hashing.Hash
	isInvalidateAfter := false
	for _, dep := range lit.Dependencies {
		switch {
		case dep.Path == "TargetObject":
			targetObjectHash = dep.Hash
		case strings.HasPrefix(dep.Path, "TerminalOps"):
			isInvalidateAfter = true
			terminalHashes = append(terminalHashes, dep.Hash)
		}
	}
	if targetObjectHash == "" {
		return
	}
	t, ok := b.terminal[targetObjectHash]
	if !ok {
		t = &store.TerminalOps{}
		b.terminal[targetObjectHash] = t
	}
	h := lit.Hash
	t.LastOp = &h
	if isInvalidateAfter {
		t.TerminalOps = terminalHashes
	}
}

func (b *Backend) Load(hash hashing.Hash) (*object.Literal, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lit, ok := b.literals[hash]
	return lit, ok, nil
}

func (b *Backend) LoadTerminalOpsForMutable(hash hashing.Hash) (*store.TerminalOps, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.terminal[hash]
	return t, ok, nil
}

func (b *Backend) LoadOpHeader(opHash hashing.Hash) (*mutation.OpHeader, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.headersByOp[opHash]
	return h, ok, nil
}

func (b *Backend) LoadOpHeaderByHeaderHash(headerHash hashing.Hash) (*mutation.OpHeader, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.headersByHash[headerHash]
	return h, ok, nil
}

func (b *Backend) SearchByClass(className string, p store.SearchParams) ([]hashing.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return applyParams(b.byClass[className], p), nil
}

func (b *Backend) SearchByReference(path string, target hashing.Hash, p store.SearchParams) ([]hashing.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return applyParams(b.references.lookup(path, target), p), nil
}

func (b *Backend) SearchByReferencingClass(className, path string, target hashing.Hash, p store.SearchParams) ([]hashing.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	matches := b.references.lookup(path, target)
	wanted := make(map[hashing.Hash]bool)
	for _, h := range b.byClass[className] {
		wanted[h] = true
	}
	filtered := make([]hashing.Hash, 0, len(matches))
	for _, h := range matches {
		if wanted[h] {
			filtered = append(filtered, h)
		}
	}
	return applyParams(filtered, p), nil
}

func applyParams(hashes []hashing.Hash, p store.SearchParams) []hashing.Hash {
	out := append([]hashing.Hash{}, hashes...)
	sort.Slice(out, func(i, j int) bool {
		if p.Order == store.Descending {
			return out[i] > out[j]
		}
		return out[i] < out[j]
	})
	if p.Start != nil || p.End != nil {
		var bounded []hashing.Hash
		for _, h := range out {
			if p.Start != nil && h < *p.Start {
				continue
			}
			if p.End != nil && h > *p.End {
				continue
			}
			bounded = append(bounded, h)
		}
		out = bounded
	}
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out
}

func (b *Backend) SetStoredObjectCallback(cb store.StoredObjectCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.storedCallback = cb
}

func (b *Backend) Close() error { return nil }

func (b *Backend) GetName() string { return b.name }

func (b *Backend) GetBackendName() string { return "memstore" }
