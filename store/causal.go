package store

import (
	"hypermesh/hashing"
	"hypermesh/mutation"
	"hypermesh/object"
)

// causalMaintain enforces both directions of spec §4.4.1 for a literal
// that was just saved (or re-saved, a no-op since synthesized ops are
// idempotent by hash): for an op with causalOps, check whether any of
// them is already invalidated; for an invalidate op, check whether any
// of its own consequences must now be invalidated.
func (s *Store) causalMaintain(ctx *object.Context, h hashing.Hash, obj object.HashedObject) error {
	mop := baseMutationOp(obj)
	if mop == nil {
		return nil
	}

	if mop.CausalOps != nil {
		for _, causalRef := range mop.CausalOps.OrderedMembers() {
			if err := s.maintainA(ctx, h, obj.ClassName(), mop, causalRef.TargetHash); err != nil {
				return err
			}
		}
	}

	if targetOpHash, ok := invalidatorTargetHash(obj); ok {
		if err := s.maintainB(ctx, obj, targetOpHash); err != nil {
			return err
		}
	}
	return nil
}

// maintainA implements spec §4.4.1.A: newOp declares causalHash as a
// precondition; if an InvalidateAfterOp targeting the same mutable, or
// any CascadedInvalidateOp, already invalidates causalHash, newOp must
// cascade-invalidate too.
func (s *Store) maintainA(ctx *object.Context, newOpHash hashing.Hash, newOpClass string, newOp *mutation.MutationOp, causalHash hashing.Hash) error {
	invalidators, err := s.invalidatorsOf(causalHash)
	if err != nil {
		return err
	}
	for _, inv := range invalidators {
		applicable := false
		switch iv := inv.(type) {
		case *mutation.InvalidateAfterOp:
			applicable = iv.TargetObject.TargetHash == newOp.TargetObject.TargetHash
		case *mutation.CascadedInvalidateOp:
			applicable = true
		}
		if !applicable {
			continue
		}
		casc := mutation.NewCascadedInvalidateOpFromRefs(
			newOp.TargetObject,
			object.NewHashReference[*mutation.MutationOp](newOpHash, newOpClass),
			object.NewHashReference[*mutation.MutationOp](object.LastHash(inv), inv.ClassName()),
		)
		if _, err := s.SaveWithContext(casc, ctx); err != nil {
			return err
		}
	}
	return nil
}

// maintainB implements spec §4.4.1.B: inv (an InvalidateAfterOp or
// CascadedInvalidateOp) targets targetOpHash; every existing op whose
// causalOps references targetOpHash is a "consequence" that must now be
// (re-)evaluated for invalidation.
func (s *Store) maintainB(ctx *object.Context, inv object.HashedObject, targetOpHash hashing.Hash) error {
	consequences, err := s.consequencesOf(targetOpHash)
	if err != nil {
		return err
	}

	var validClosure map[hashing.Hash]bool
	if iao, ok := inv.(*mutation.InvalidateAfterOp); ok {
		terminals := make([]hashing.Hash, 0)
		if iao.TerminalOps != nil {
			for _, ref := range iao.TerminalOps.OrderedMembers() {
				terminals = append(terminals, ref.TargetHash)
			}
		}
		validClosure, err = s.prevOpsClosure(terminals)
		if err != nil {
			return err
		}
	}

	invHash := object.LastHash(inv)
	for _, consequence := range consequences {
		if validClosure != nil && validClosure[object.LastHash(consequence)] {
			continue
		}
		consMop := baseMutationOp(consequence)
		casc := mutation.NewCascadedInvalidateOpFromRefs(
			consMop.TargetObject,
			object.NewHashReference[*mutation.MutationOp](object.LastHash(consequence), consequence.ClassName()),
			object.NewHashReference[*mutation.MutationOp](invHash, inv.ClassName()),
		)
		if _, err := s.SaveWithContext(casc, ctx); err != nil {
			return err
		}
	}
	return nil
}

// invalidatorsOf returns every already-stored InvalidateAfterOp or
// CascadedInvalidateOp targeting causalHash — the union the spec
// describes as a single "targetOp → op" backend index.
func (s *Store) invalidatorsOf(causalHash hashing.Hash) ([]object.HashedObject, error) {
	var out []object.HashedObject
	iaoHashes, err := s.backend.SearchByReference("TargetOp", causalHash, SearchParams{})
	if err != nil {
		return nil, err
	}
	cascHashes, err := s.backend.SearchByReference("CascadedFrom", causalHash, SearchParams{})
	if err != nil {
		return nil, err
	}
	ctx := object.NewContext()
	for _, h := range append(iaoHashes, cascHashes...) {
		obj, err := s.loadWithContext(h, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// consequencesOf returns every already-stored op whose causalOps set
// references targetOpHash (backend index "causalOps → op").
func (s *Store) consequencesOf(targetOpHash hashing.Hash) ([]object.HashedObject, error) {
	hashes, err := s.backend.SearchByReference("CausalOps", targetOpHash, SearchParams{})
	if err != nil {
		return nil, err
	}
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

// prevOpsClosure returns the set of terminals plus every ancestor
// reachable by walking PrevOps backward from them — the "valid
// consequences" an InvalidateAfterOp spares (spec §4.4.1.B).
func (s *Store) prevOpsClosure(terminals []hashing.Hash) (map[hashing.Hash]bool, error) {
	closure := make(map[hashing.Hash]bool)
	ctx := object.NewContext()
	var visit func(h hashing.Hash) error
	visit = func(h hashing.Hash) error {
		if closure[h] {
			return nil
		}
		closure[h] = true
		obj, err := s.loadWithContext(h, ctx)
		if err != nil {
			return err
		}
		mop := baseMutationOp(obj)
		if mop == nil || mop.PrevOps == nil {
			return nil
		}
		for _, ref := range mop.PrevOps.OrderedMembers() {
			if err := visit(ref.TargetHash); err != nil {
				return err
			}
		}
		return nil
	}
	for _, t := range terminals {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return closure, nil
}
