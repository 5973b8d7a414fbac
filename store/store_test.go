package store_test

import (
	"testing"

	"hypermesh/identity"
	"hypermesh/mutation"
	"hypermesh/object"
	"hypermesh/store"
	"hypermesh/store/memstore"
)

type doc struct {
	object.Base
	Title string
}

const docClass = "test.Doc"

func init() {
	object.RegisterClass(docClass, func() object.HashedObject { return &doc{} })
}

func (d *doc) ClassName() string { return docClass }

func (d *doc) SaveQueuedOps(saver mutation.OpSaver) error { return nil }

func newStore() *store.Store {
	return store.New(memstore.New("test"))
}

func TestSaveIsIdempotentAndLoadRoundTrips(t *testing.T) {
	s := newStore()
	d := &doc{Title: "hello"}

	h1, err := s.Save(d)
	if err != nil {
		t.Fatalf("Save error = %v", err)
	}
	h2, err := s.Save(d)
	if err != nil {
		t.Fatalf("second Save error = %v", err)
	}
	if h1 != h2 {
		t.Fatalf("saving the same object twice produced different hashes: %s != %s", h1, h2)
	}

	loaded, err := s.Load(h1, nil)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	got, ok := loaded.(*doc)
	if !ok || got.Title != "hello" {
		t.Fatalf("Load returned %+v, want Title=hello", loaded)
	}
}

func TestWatchByClassFiresOnSave(t *testing.T) {
	s := newStore()
	fired := make(chan *object.Literal, 1)
	s.WatchByClass(docClass, func(lit *object.Literal) { fired <- lit })

	d := &doc{Title: "watched"}
	h, err := s.Save(d)
	if err != nil {
		t.Fatalf("Save error = %v", err)
	}

	select {
	case lit := <-fired:
		if lit.Hash != h {
			t.Fatalf("watch callback saw hash %s, want %s", lit.Hash, h)
		}
	default:
		t.Fatal("WatchByClass callback did not fire synchronously on Save")
	}
}

func TestWatchByClassDoesNotFireForOtherClasses(t *testing.T) {
	s := newStore()
	fired := false
	s.WatchByClass("test.SomethingElse", func(lit *object.Literal) { fired = true })

	if _, err := s.Save(&doc{Title: "irrelevant"}); err != nil {
		t.Fatalf("Save error = %v", err)
	}
	if fired {
		t.Fatal("WatchByClass callback fired for a non-matching class")
	}
}

func TestSaveSignsWhenAuthorRequiresIt(t *testing.T) {
	s := newStore()
	author, err := identity.NewIdentity("signer")
	if err != nil {
		t.Fatalf("NewIdentity error = %v", err)
	}

	d := &doc{Title: "signed"}
	object.SetAuthor(d, author, true)

	h, err := s.Save(d)
	if err != nil {
		t.Fatalf("Save error = %v", err)
	}
	if object.LastSignature(d) == "" {
		t.Fatal("SetAuthor(signOnSave=true) should leave a signature on the saved object")
	}

	loaded, err := s.Load(h, nil)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if object.LastSignature(loaded) == "" {
		t.Fatal("the loaded object should carry the persisted signature")
	}
}

func TestLoadByClassFindsEveryMatchingSave(t *testing.T) {
	s := newStore()
	if _, err := s.Save(&doc{Title: "one"}); err != nil {
		t.Fatalf("Save error = %v", err)
	}
	if _, err := s.Save(&doc{Title: "two"}); err != nil {
		t.Fatalf("Save error = %v", err)
	}

	found, err := s.LoadByClass(docClass, store.SearchParams{})
	if err != nil {
		t.Fatalf("LoadByClass error = %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("LoadByClass returned %d objects, want 2", len(found))
	}
}

func TestSavingAnOpEmitsMutationEventOnItsTargetRelay(t *testing.T) {
	s := newStore()
	ctx := object.NewContext()
	target := &doc{Title: "mutable"}
	if _, err := s.SaveWithContext(target, ctx); err != nil {
		t.Fatalf("Save(target) error = %v", err)
	}

	var gotEvent object.MutationEvent
	fired := false
	object.RelayOf(target).Subscribe(func(ev object.MutationEvent) {
		fired = true
		gotEvent = ev
	})

	op := mutation.NewMutationOp(target, nil)
	opHash, err := s.SaveWithContext(op, ctx)
	if err != nil {
		t.Fatalf("Save(op) error = %v", err)
	}
	if !fired {
		t.Fatal("saving an op should emit a mutation event on its target's relay")
	}
	if gotEvent.Source != target {
		t.Fatalf("mutation event Source = %v, want target", gotEvent.Source)
	}
	if gotEvent.Detail != opHash {
		t.Fatalf("mutation event Detail = %v, want the saved op's hash %s", gotEvent.Detail, opHash)
	}
}

// TestInvalidateAfterCascadesToCausalConsequences exercises the causal
// invalidation algorithm end to end from the invalidation side: A is
// saved with C among its causalOps, then C's chain is cut with an
// InvalidateAfterOp that does not preserve A as a terminal ancestor.
// The store must synthesize a CascadedInvalidateOp against A.
func TestInvalidateAfterCascadesToCausalConsequences(t *testing.T) {
	s := newStore()

	targetC := &doc{Title: "mutable-c"}
	if _, err := s.Save(targetC); err != nil {
		t.Fatalf("Save(targetC) error = %v", err)
	}

	opC := mutation.NewMutationOp(targetC, nil)
	if _, err := s.SaveWithContext(opC, object.NewContext()); err != nil {
		t.Fatalf("Save(opC) error = %v", err)
	}

	targetA := &doc{Title: "mutable-a"}
	if _, err := s.Save(targetA); err != nil {
		t.Fatalf("Save(targetA) error = %v", err)
	}

	opA := mutation.NewMutationOp(targetA, nil, opC)
	opAHash, err := s.SaveWithContext(opA, object.NewContext())
	if err != nil {
		t.Fatalf("Save(opA) error = %v", err)
	}

	inv := mutation.NewInvalidateAfterOp(targetC, nil, opC)
	invHash, err := s.SaveWithContext(inv, object.NewContext())
	if err != nil {
		t.Fatalf("Save(inv) error = %v", err)
	}

	found, err := s.LoadByReference("CascadedFrom", opAHash, store.SearchParams{})
	if err != nil {
		t.Fatalf("LoadByReference(CascadedFrom) error = %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("got %d CascadedInvalidateOp(s) against opA, want 1", len(found))
	}

	casc, ok := found[0].(*mutation.CascadedInvalidateOp)
	if !ok {
		t.Fatalf("loaded %T, want *mutation.CascadedInvalidateOp", found[0])
	}
	if casc.CascadedFrom.TargetHash != opAHash {
		t.Fatalf("CascadedFrom = %s, want %s", casc.CascadedFrom.TargetHash, opAHash)
	}
	if casc.Reason.TargetHash != invHash {
		t.Fatalf("Reason = %s, want %s", casc.Reason.TargetHash, invHash)
	}
}
