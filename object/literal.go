package object

import "hypermesh/hashing"

// DependencyType distinguishes an embedded (owned) hashed-object
// dependency from a by-hash reference (spec §3 "Literal").
type DependencyType string

const (
	DepLiteral   DependencyType = "literal"
	DepReference DependencyType = "reference"
)

// Dependency is one entry of a literal's dependency list: a hashed
// object or reference reachable from the literalized tree.
type Dependency struct {
	Path      string
	Hash      hashing.Hash
	ClassName string
	Type      DependencyType
	// Direct is true when the dependency appears as a direct field of
	// this literal rather than nested inside another hashed object of
	// the same literal tree (spec §3).
	Direct bool
}

// Literal is the normalized, canonical form of a HashedObject suitable
// for hashing and persistence (spec §3).
type Literal struct {
	Hash         hashing.Hash
	Value        map[string]any
	Dependencies []Dependency
	Author       *hashing.Hash
	Signature    string
}

// DirectDependencies returns only the dependencies whose Direct flag is
// set, in literal order.
func (l *Literal) DirectDependencies() []Dependency {
	out := make([]Dependency, 0, len(l.Dependencies))
	for _, d := range l.Dependencies {
		if d.Direct {
			out = append(out, d)
		}
	}
	return out
}

// ClassName returns the _class tag carried by the literal's value.
func (l *Literal) ClassName() string {
	if l == nil || l.Value == nil {
		return ""
	}
	c, _ := l.Value["_class"].(string)
	return c
}
