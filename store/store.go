package store

import (
	"fmt"
	"sync"

	"hypermesh/hashing"
	"hypermesh/mutation"
	"hypermesh/object"
)

// callbackKey variants for the three watch tables (spec §4.6).
type classKey string
type referenceKey struct {
	path string
	hash hashing.Hash
}
type referencingClassKey struct {
	className string
	path      string
	hash      hashing.Hash
}

// Store orchestrates literalize/save/load/watch over a Backend (spec
// §4.4–§4.6). It is not reentrant over the same object graph: callers
// must not issue overlapping saves for the same root hash (spec §5).
type Store struct {
	backend Backend

	mu                sync.Mutex
	byClass           map[classKey][]func(*object.Literal)
	byReference       map[referenceKey][]func(*object.Literal)
	byReferencingClass map[referencingClassKey][]func(*object.Literal)
}

// New wires a Store onto backend and installs the fan-out callback
// the backend invokes after every successful persist.
func New(backend Backend) *Store {
	s := &Store{
		backend:            backend,
		byClass:            make(map[classKey][]func(*object.Literal)),
		byReference:        make(map[referenceKey][]func(*object.Literal)),
		byReferencingClass: make(map[referencingClassKey][]func(*object.Literal)),
	}
	backend.SetStoredObjectCallback(s.fanOut)
	return s
}

// Save literalizes obj into a fresh context and saves it (spec §4.4).
func (s *Store) Save(obj object.HashedObject) (hashing.Hash, error) {
	ctx := object.NewContext()
	return s.SaveWithContext(obj, ctx)
}

// SaveWithContext implements mutation.OpSaver, letting MutableObject
// implementations flush queued ops back through the same store.
func (s *Store) SaveWithContext(obj object.HashedObject, ctx *object.Context) (hashing.Hash, error) {
	h, err := object.Literalize(obj, ctx)
	if err != nil {
		return "", err
	}

	if err := s.checkDependencyCompleteness(ctx, h); err != nil {
		return "", err
	}

	order, err := s.saveOrder(ctx, h)
	if err != nil {
		return "", err
	}
	for _, dh := range order {
		if err := s.saveOne(ctx, dh); err != nil {
			return "", err
		}
	}

	toFlush := []hashing.Hash{h}
	for _, dep := range ctx.Literals[h].Dependencies {
		if dep.Direct && dep.Type == object.DepLiteral {
			toFlush = append(toFlush, dep.Hash)
		}
	}
	for _, fh := range toFlush {
		if mo, ok := ctx.Objects[fh].(mutation.MutableObject); ok {
			if err := mo.SaveQueuedOps(s); err != nil {
				return "", err
			}
		}
	}
	return h, nil
}

// checkDependencyCompleteness walks the root literal's dependency list
// (already flattened transitively across nested hashed objects by
// Literalize) and fails with MissingDependencies/ErrClassMismatch
// before anything is persisted (spec §4.4 step 2).
func (s *Store) checkDependencyCompleteness(ctx *object.Context, root hashing.Hash) error {
	lit := ctx.Literals[root]
	var missing []hashing.Hash
	for _, dep := range lit.Dependencies {
		if _, inCtx := ctx.Literals[dep.Hash]; inCtx {
			continue
		}
		found, ok, err := s.backend.Load(dep.Hash)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, dep.Hash)
			continue
		}
		if found.ClassName() != dep.ClassName {
			return fmt.Errorf("%w: dependency %s declared as %s, stored as %s", ErrClassMismatch, dep.Hash, dep.ClassName, found.ClassName())
		}
	}
	if len(missing) > 0 {
		return &MissingDependencies{Hashes: missing}
	}
	return nil
}

// saveOrder returns every hash that must be persisted for root, with
// literal-type (embedded) dependencies ordered before their parent
// (spec §4.4 step 3 "recursive save in dependency order").
func (s *Store) saveOrder(ctx *object.Context, root hashing.Hash) ([]hashing.Hash, error) {
	var order []hashing.Hash
	visited := make(map[hashing.Hash]bool)
	var visit func(h hashing.Hash) error
	visit = func(h hashing.Hash) error {
		if visited[h] {
			return nil
		}
		visited[h] = true
		lit, ok := ctx.Literals[h]
		if !ok {
			return fmt.Errorf("object: literal %s missing from context during save", h)
		}
		for _, dep := range lit.Dependencies {
			if dep.Type != object.DepLiteral {
				continue
			}
			if _, ok := ctx.Literals[dep.Hash]; ok {
				if err := visit(dep.Hash); err != nil {
					return err
				}
			}
		}
		if lit.Author != nil {
			if _, ok := ctx.Literals[*lit.Author]; ok {
				if err := visit(*lit.Author); err != nil {
					return err
				}
			}
		}
		order = append(order, h)
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}
	return order, nil
}

// saveOne performs steps 3a–3f and the causal-invalidation maintenance
// (§4.4, §4.4.1) for a single literal already registered in ctx.
func (s *Store) saveOne(ctx *object.Context, h hashing.Hash) error {
	lit := ctx.Literals[h]
	obj := ctx.Objects[h]

	_, already, err := s.backend.Load(h)
	if err != nil {
		return err
	}

	var header *mutation.OpHeader
	if !already {
		if mop := baseMutationOp(obj); mop != nil {
			header, err = s.computeOpHeader(h, mop)
			if err != nil {
				return err
			}
		}
		if err := s.backend.Store(lit, header); err != nil {
			return err
		}
		if mop := baseMutationOp(obj); mop != nil {
			if err := s.emitMutationEvent(ctx, h, mop); err != nil {
				return err
			}
		}
	}

	return s.causalMaintain(ctx, h, obj)
}

// emitMutationEvent loads the live target of a newly persisted op and
// fires a MutationEvent on its relay (spec §4.3): a saved op is the
// store's record that the mutable it targets just changed, and the
// relay attached to that mutable is what a root observer is actually
// subscribed to.
func (s *Store) emitMutationEvent(ctx *object.Context, opHash hashing.Hash, mop *mutation.MutationOp) error {
	target, err := s.loadWithContext(mop.TargetObject.TargetHash, ctx)
	if err != nil {
		return err
	}
	object.RelayOf(target).Emit(object.MutationEvent{Source: target, Action: "mutated", Detail: opHash})
	return nil
}

func (s *Store) computeOpHeader(h hashing.Hash, mop *mutation.MutationOp) (*mutation.OpHeader, error) {
	prevHeaders := make(map[hashing.Hash]*mutation.OpHeader)
	if mop.PrevOps != nil {
		for _, ref := range mop.PrevOps.OrderedMembers() {
			hdr, ok, err := s.backend.LoadOpHeader(ref.TargetHash)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, &MissingPrevOpHeader{OpHash: ref.TargetHash}
			}
			prevHeaders[ref.TargetHash] = hdr
		}
	}
	return mutation.ComputeOpHeader(h, prevHeaders), nil
}

func baseMutationOp(obj object.HashedObject) *mutation.MutationOp {
	switch v := obj.(type) {
	case *mutation.MutationOp:
		return v
	case *mutation.InvalidateAfterOp:
		return &v.MutationOp
	case *mutation.CascadedInvalidateOp:
		return &v.MutationOp
	default:
		return nil
	}
}

func invalidatorTargetHash(obj object.HashedObject) (hashing.Hash, bool) {
	switch v := obj.(type) {
	case *mutation.InvalidateAfterOp:
		return v.TargetOp.TargetHash, true
	case *mutation.CascadedInvalidateOp:
		return v.CascadedFrom.TargetHash, true
	default:
		return "", false
	}
}

// Load reconstructs the object at hash via loadWithContext, sharing ctx
// across recursive dependency loads (spec §4.5).
func (s *Store) Load(hash hashing.Hash, ctx *object.Context) (object.HashedObject, error) {
	if ctx == nil {
		ctx = object.NewContext()
	}
	return s.loadWithContext(hash, ctx)
}

func (s *Store) loadWithContext(hash hashing.Hash, ctx *object.Context) (object.HashedObject, error) {
	if obj, ok := ctx.Objects[hash]; ok {
		return obj, nil
	}
	lit, ok := ctx.Literals[hash]
	if !ok {
		found, present, err := s.backend.Load(hash)
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, fmt.Errorf("store: literal %s not found", hash)
		}
		lit = found
		ctx.Literals[hash] = lit
	}
	for _, dep := range lit.Dependencies {
		if dep.Type != object.DepLiteral {
			continue
		}
		if _, err := s.loadWithContext(dep.Hash, ctx); err != nil {
			return nil, err
		}
	}
	if lit.Author != nil {
		if _, err := s.loadWithContext(*lit.Author, ctx); err != nil {
			return nil, err
		}
	}
	return object.Deliteralize(hash, ctx)
}

// LoadByClass, LoadByReference and LoadByReferencingClass delegate to
// the backend's indexes and reconstruct results into a shared context
// (spec §4.5).
func (s *Store) LoadByClass(className string, p SearchParams) ([]object.HashedObject, error) {
	hashes, err := s.backend.SearchByClass(className, p)
	if err != nil {
		return nil, err
	}
	return s.loadAll(hashes)
}

func (s *Store) LoadByReference(path string, target hashing.Hash, p SearchParams) ([]object.HashedObject, error) {
	hashes, err := s.backend.SearchByReference(path, target, p)
	if err != nil {
		return nil, err
	}
	return s.loadAll(hashes)
}

func (s *Store) LoadByReferencingClass(className, path string, target hashing.Hash, p SearchParams) ([]object.HashedObject, error) {
	hashes, err := s.backend.SearchByReferencingClass(className, path, target, p)
	if err != nil {
		return nil, err
	}
	return s.loadAll(hashes)
}

func (s *Store) loadAll(hashes []hashing.Hash) ([]object.HashedObject, error) {
	ctx := object.NewContext()
	out := make([]object.HashedObject, 0, len(hashes))
	for _, h := range hashes {
		obj, err := s.loadWithContext(h, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// WatchByClass registers cb to fire on every future literal persisted
// with the given class name (spec §4.6).
func (s *Store) WatchByClass(className string, cb func(*object.Literal)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := classKey(className)
	s.byClass[k] = append(s.byClass[k], cb)
}

// WatchByReference registers cb to fire whenever a literal carries a
// reference dependency at path pointing to target.
func (s *Store) WatchByReference(path string, target hashing.Hash, cb func(*object.Literal)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := referenceKey{path: path, hash: target}
	s.byReference[k] = append(s.byReference[k], cb)
}

// WatchByReferencingClass registers cb to fire whenever a literal of
// className carries a reference dependency at path pointing to target.
func (s *Store) WatchByReferencingClass(className, path string, target hashing.Hash, cb func(*object.Literal)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := referencingClassKey{className: className, path: path, hash: target}
	s.byReferencingClass[k] = append(s.byReferencingClass[k], cb)
}

// fanOut is installed as the backend's StoredObjectCallback: it fires
// every matching registered watch in registration order. A panicking
// callback must not prevent the others from running (spec §4.6).
func (s *Store) fanOut(lit *object.Literal) {
	s.mu.Lock()
	classCbs := append([]func(*object.Literal){}, s.byClass[classKey(lit.ClassName())]...)
	var refCbs []func(*object.Literal)
	var refClassCbs []func(*object.Literal)
	for _, dep := range lit.Dependencies {
		if dep.Type != object.DepReference {
			continue
		}
		refCbs = append(refCbs, s.byReference[referenceKey{path: dep.Path, hash: dep.Hash}]...)
		refClassCbs = append(refClassCbs, s.byReferencingClass[referencingClassKey{className: lit.ClassName(), path: dep.Path, hash: dep.Hash}]...)
	}
	s.mu.Unlock()

	runAll := func(cbs []func(*object.Literal)) {
		for _, cb := range cbs {
			func() {
				defer func() { recover() }()
				cb(lit)
			}()
		}
	}
	runAll(classCbs)
	runAll(refCbs)
	runAll(refClassCbs)
}
