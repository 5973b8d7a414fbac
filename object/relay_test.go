package object_test

import (
	"testing"

	"hypermesh/object"
)

func TestRelayBubblesEventsUpWhenCascadeEnabled(t *testing.T) {
	child := &note{Title: "child"}
	parent := &note{Title: "parent", Child: child}

	if _, err := object.Literalize(parent, object.NewContext()); err != nil {
		t.Fatalf("Literalize error = %v", err)
	}
	object.SetCascadeMutableContentEvents(parent, true)

	var got *object.MutationEvent
	object.RelayOf(parent).Subscribe(func(ev object.MutationEvent) { got = &ev })

	object.RelayOf(child).Emit(object.MutationEvent{Source: child, Action: "saved"})

	if got == nil {
		t.Fatal("parent relay did not see the child's event after enabling cascadeMutableContentEvents")
	}
	if got.Source != child {
		t.Fatalf("bubbled event Source = %v, want child", got.Source)
	}
}

func TestRelayDoesNotBubbleEventsUpByDefault(t *testing.T) {
	child := &note{Title: "child"}
	parent := &note{Title: "parent", Child: child}

	if _, err := object.Literalize(parent, object.NewContext()); err != nil {
		t.Fatalf("Literalize error = %v", err)
	}

	fired := false
	object.RelayOf(parent).Subscribe(func(object.MutationEvent) { fired = true })

	object.RelayOf(child).Emit(object.MutationEvent{Source: child, Action: "saved"})

	if fired {
		t.Fatal("parent relay saw the child's event without cascadeMutableContentEvents enabled")
	}
}

func TestRelaySubscriberSeesItsOwnEmittedEvent(t *testing.T) {
	n := &note{Title: "solo"}
	if _, err := object.Literalize(n, object.NewContext()); err != nil {
		t.Fatalf("Literalize error = %v", err)
	}

	fired := false
	object.RelayOf(n).Subscribe(func(object.MutationEvent) { fired = true })
	object.RelayOf(n).Emit(object.MutationEvent{Source: n, Action: "saved"})

	if !fired {
		t.Fatal("a relay's own subscriber should see events emitted directly on it")
	}
}
