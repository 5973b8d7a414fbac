package object_test

import (
	"testing"

	"hypermesh/hashing"
	"hypermesh/object"
)

// note is a minimal hashed object used to exercise literalize/deliteralize
// without pulling in a concrete domain package.
type note struct {
	object.Base
	Title string
	Child *note
}

const noteClass = "test.Note"

func init() {
	object.RegisterClass(noteClass, func() object.HashedObject { return &note{} })
}

func (n *note) ClassName() string { return noteClass }

func TestLiteralizeIsDeterministicOverFieldValues(t *testing.T) {
	a := &note{Title: "hello"}
	b := &note{Title: "hello"}

	ha, err := object.Literalize(a, object.NewContext())
	if err != nil {
		t.Fatalf("Literalize(a) error = %v", err)
	}
	hb, err := object.Literalize(b, object.NewContext())
	if err != nil {
		t.Fatalf("Literalize(b) error = %v", err)
	}
	if ha != hb {
		t.Fatalf("two notes with identical fields hashed differently: %s != %s", ha, hb)
	}
}

func TestLiteralizeDeliteralizeRoundTrip(t *testing.T) {
	child := &note{Title: "child"}
	parent := &note{Title: "parent", Child: child}

	ctx := object.NewContext()
	h, err := object.Literalize(parent, ctx)
	if err != nil {
		t.Fatalf("Literalize error = %v", err)
	}

	roundtripped, err := object.Deliteralize(h, ctx)
	if err != nil {
		t.Fatalf("Deliteralize error = %v", err)
	}
	got, ok := roundtripped.(*note)
	if !ok {
		t.Fatalf("Deliteralize returned %T, want *note", roundtripped)
	}
	if got.Title != "parent" || got.Child == nil || got.Child.Title != "child" {
		t.Fatalf("round-tripped note mismatched: %+v", got)
	}
}

func TestSetIDCascadesToDerivedFields(t *testing.T) {
	child := &note{Title: "child"}
	parent := &note{Title: "parent", Child: child}
	object.SetDerivedFields(parent, "Child")

	object.SetID(parent, "root-id")

	if !object.CheckDerivedField(parent, "Child") {
		t.Fatal("CheckDerivedField(parent, \"Child\") = false after SetID cascade")
	}
	wantChildID := string(hashing.HBytes([]byte("#root-id.Child")))
	if child.ID() == nil || *child.ID() != wantChildID {
		t.Fatalf("child id = %v, want %s", child.ID(), wantChildID)
	}
}

func TestSetResourcesCascadesToDirectChildren(t *testing.T) {
	child := &note{Title: "child"}
	parent := &note{Title: "parent", Child: child}

	res := &object.Resources{}
	object.SetResources(parent, res)

	if object.GetResources(child) != res {
		t.Fatal("SetResources did not cascade to the direct child object")
	}
}
