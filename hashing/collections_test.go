package hashing_test

import (
	"testing"

	"hypermesh/hashing"
)

type strMember string

func (s strMember) Hash() hashing.Hash { return hashing.H(string(s)) }

func TestHashedSetOrderedMembersIsInsertionOrderIndependent(t *testing.T) {
	s1 := hashing.NewHashedSet[strMember]("banana", "apple", "cherry")
	s2 := hashing.NewHashedSet[strMember]("cherry", "banana", "apple")

	if s1.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s1.Len())
	}
	o1, o2 := s1.OrderedHashes(), s2.OrderedHashes()
	if len(o1) != len(o2) {
		t.Fatal("ordered hashes differ in length")
	}
	for i := range o1 {
		if o1[i] != o2[i] {
			t.Fatalf("ordered hashes diverge at %d regardless of insertion order", i)
		}
	}
}

func TestHashedSetAddReplacesByHash(t *testing.T) {
	s := hashing.NewHashedSet[strMember]("a")
	s.Add("a")
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after re-adding an equal member", s.Len())
	}
}

func TestHashedMapOrderedEntriesAscendingByKeyHash(t *testing.T) {
	m := hashing.NewHashedMap[strMember, strMember]()
	m.Set("k2", "v2")
	m.Set("k1", "v1")

	entries := m.OrderedEntries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Key.Hash() > entries[1].Key.Hash() {
		t.Fatal("OrderedEntries must be ascending by key hash")
	}
}
