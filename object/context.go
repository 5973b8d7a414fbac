package object

import "hypermesh/hashing"

// Resources is the shared-state descriptor a HashedObject carries once
// it is wired into a running system: a store binding, a mesh (peer
// group) binding, configuration, and an aliasing map used to dedupe
// shared subgraphs across contexts (spec §5 "Shared-resource policy").
// Store and Mesh are declared as `any` here rather than concrete types
// to avoid a dependency cycle (package store depends on package object,
// not the other way around); concrete code type-asserts them back.
type Resources struct {
	Store    any
	Mesh     any
	Config   any
	Aliasing map[hashing.Hash]HashedObject
}

// Context is the transient bundle used while literalizing or
// deliteralizing a tree of hashed objects (spec §3 "Context", §4.2).
type Context struct {
	Literals   map[hashing.Hash]*Literal
	Objects    map[hashing.Hash]HashedObject
	RootHashes []hashing.Hash
	Resources  *Resources
}

// NewContext returns an empty, ready-to-use Context.
func NewContext() *Context {
	return &Context{
		Literals: make(map[hashing.Hash]*Literal),
		Objects:  make(map[hashing.Hash]HashedObject),
	}
}

// WithResources attaches a Resources descriptor (used for aliasing
// shared subgraphs) to the context and returns it for chaining.
func (c *Context) WithResources(r *Resources) *Context {
	c.Resources = r
	return c
}

func (c *Context) aliasOrStore(h hashing.Hash, obj HashedObject) HashedObject {
	if c.Resources != nil && c.Resources.Aliasing != nil {
		if aliased, ok := c.Resources.Aliasing[h]; ok {
			c.Objects[h] = aliased
			return aliased
		}
	}
	c.Objects[h] = obj
	return obj
}
