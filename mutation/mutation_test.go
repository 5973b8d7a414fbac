package mutation_test

import (
	"testing"

	"hypermesh/hashing"
	"hypermesh/mutation"
	"hypermesh/object"
)

const stubMutableClass = "test.StubMutable"

func init() {
	object.RegisterClass(stubMutableClass, func() object.HashedObject { return &stubMutable{} })
}

// stubMutable is a minimal MutableObject used to exercise MutationOp
// construction without a concrete domain type.
type stubMutable struct {
	object.Base
}

func (s *stubMutable) ClassName() string { return stubMutableClass }

func (s *stubMutable) SaveQueuedOps(saver mutation.OpSaver) error { return nil }

func TestComputeOpHeaderDeterministicOverPrevSetOrder(t *testing.T) {
	p1 := mutation.ComputeOpHeader(hashing.Hash("op-a"), nil)
	p2 := mutation.ComputeOpHeader(hashing.Hash("op-b"), nil)

	h1 := mutation.ComputeOpHeader(hashing.Hash("op-c"), map[hashing.Hash]*mutation.OpHeader{
		p1.OpHash: p1,
		p2.OpHash: p2,
	})
	h2 := mutation.ComputeOpHeader(hashing.Hash("op-c"), map[hashing.Hash]*mutation.OpHeader{
		p2.OpHash: p2,
		p1.OpHash: p1,
	})
	if h1.HeaderHash != h2.HeaderHash {
		t.Fatal("HeaderHash must not depend on map iteration order of prevOpHeaders")
	}
}

func TestComputeOpHeaderDivergesOnCausalHistory(t *testing.T) {
	root := mutation.ComputeOpHeader(hashing.Hash("root"), nil)
	altRoot := mutation.ComputeOpHeader(hashing.Hash("alt-root"), nil)

	a := mutation.ComputeOpHeader(hashing.Hash("op"), map[hashing.Hash]*mutation.OpHeader{root.OpHash: root})
	b := mutation.ComputeOpHeader(hashing.Hash("op"), map[hashing.Hash]*mutation.OpHeader{altRoot.OpHash: altRoot})

	if a.HeaderHash == b.HeaderHash {
		t.Fatal("two ops with identical opHash but different causal history must not share a headerHash")
	}
}

func TestMutationOpIsCausalDependent(t *testing.T) {
	target := &stubMutable{}
	dep := mutation.NewMutationOp(target, nil)
	object.SetLastHash(dep, hashing.Hash("dep-hash"))

	op := mutation.NewMutationOp(target, nil, dep)
	if !op.IsCausalDependent(hashing.Hash("dep-hash")) {
		t.Fatal("IsCausalDependent should report true for a declared causal op")
	}
	if op.IsCausalDependent(hashing.Hash("unrelated")) {
		t.Fatal("IsCausalDependent should report false for an unrelated hash")
	}
}
