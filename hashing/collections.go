package hashing

import "sort"

// Hashable is implemented by anything that can be a member of a
// HashedSet or a key/value of a HashedMap: it must know its own
// content-addressed hash. Hashed objects implement this directly;
// HashReference and primitive wrappers do too (see package object).
type Hashable interface {
	Hash() Hash
}

// HashedSet is a set container whose members are hashable. Its
// canonical iteration order is ascending member hash, so two sets
// built by inserting the same elements in different order are
// literalized identically (spec §3, §8 invariant 2).
type HashedSet[T Hashable] struct {
	members map[Hash]T
}

// NewHashedSet builds an (possibly empty) HashedSet from the given
// elements. Later insertions of an element with an equal hash replace
// the stored value, matching set semantics (no duplicates by hash).
func NewHashedSet[T Hashable](elems ...T) *HashedSet[T] {
	s := &HashedSet[T]{members: make(map[Hash]T, len(elems))}
	for _, e := range elems {
		s.Add(e)
	}
	return s
}

// Add inserts v, keyed by its hash.
func (s *HashedSet[T]) Add(v T) {
	if s.members == nil {
		s.members = make(map[Hash]T)
	}
	s.members[v.Hash()] = v
}

// Remove drops the member with the given hash, if present.
func (s *HashedSet[T]) Remove(h Hash) {
	delete(s.members, h)
}

// Has reports whether a member with the given hash is present.
func (s *HashedSet[T]) Has(h Hash) bool {
	_, ok := s.members[h]
	return ok
}

// Get returns the member with the given hash, if present.
func (s *HashedSet[T]) Get(h Hash) (T, bool) {
	v, ok := s.members[h]
	return v, ok
}

// Len returns the number of members.
func (s *HashedSet[T]) Len() int { return len(s.members) }

// OrderedMembers returns the members sorted ascending by hash — the
// canonical iteration order used for literalization.
func (s *HashedSet[T]) OrderedMembers() []T {
	hashes := make([]Hash, 0, len(s.members))
	for h := range s.members {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	out := make([]T, len(hashes))
	for i, h := range hashes {
		out[i] = s.members[h]
	}
	return out
}

// OrderedHashes returns the member hashes in ascending order.
func (s *HashedSet[T]) OrderedHashes() []Hash {
	hashes := make([]Hash, 0, len(s.members))
	for h := range s.members {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	return hashes
}

// hashedMapEntry is a single (key, value) pair in a HashedMap.
type hashedMapEntry[K Hashable, V Hashable] struct {
	Key   K
	Value V
}

// HashedMap is a map container whose keys and values are hashable.
// Canonical iteration order is ascending key hash, mirroring
// HashedSet (spec §3 "a hashed-map entry is (keyHash, valueHash) with
// the same ordering rule").
type HashedMap[K Hashable, V Hashable] struct {
	entries map[Hash]hashedMapEntry[K, V]
}

// NewHashedMap builds an empty HashedMap.
func NewHashedMap[K Hashable, V Hashable]() *HashedMap[K, V] {
	return &HashedMap[K, V]{entries: make(map[Hash]hashedMapEntry[K, V])}
}

// Set inserts or replaces the entry for key.
func (m *HashedMap[K, V]) Set(key K, value V) {
	if m.entries == nil {
		m.entries = make(map[Hash]hashedMapEntry[K, V])
	}
	m.entries[key.Hash()] = hashedMapEntry[K, V]{Key: key, Value: value}
}

// Delete removes the entry keyed by keyHash.
func (m *HashedMap[K, V]) Delete(keyHash Hash) {
	delete(m.entries, keyHash)
}

// Get looks up the value for keyHash.
func (m *HashedMap[K, V]) Get(keyHash Hash) (V, bool) {
	e, ok := m.entries[keyHash]
	return e.Value, ok
}

// Len returns the number of entries.
func (m *HashedMap[K, V]) Len() int { return len(m.entries) }

// OrderedEntries returns (key, value) pairs sorted ascending by key hash.
func (m *HashedMap[K, V]) OrderedEntries() []hashedMapEntry[K, V] {
	hashes := make([]Hash, 0, len(m.entries))
	for h := range m.entries {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	out := make([]hashedMapEntry[K, V], len(hashes))
	for i, h := range hashes {
		out[i] = m.entries[h]
	}
	return out
}
