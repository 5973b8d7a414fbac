// Package store implements the save/load/watch orchestration layer
// that sits between in-memory hashed objects and a pluggable Backend
// (spec §4.4–§4.6, §6 "Backend contract").
package store

import (
	"errors"
	"fmt"

	"hypermesh/hashing"
	"hypermesh/mutation"
	"hypermesh/object"
)

// Order controls ascending/descending iteration for index queries.
type Order int

const (
	Ascending Order = iota
	Descending
)

// SearchParams bounds a backend index query (spec §6 "searchByClass").
type SearchParams struct {
	Order Order
	Limit int
	Start *hashing.Hash
	End   *hashing.Hash
}

// TerminalOps is the result of loadTerminalOpsForMutable: the mutable's
// current tip op, if any, plus the terminal set recorded by the most
// recent InvalidateAfterOp applied to it.
type TerminalOps struct {
	LastOp      *hashing.Hash
	TerminalOps []hashing.Hash
}

// StoredObjectCallback is invoked by a Backend after every successful
// Store call, so Store can fan out watch callbacks (spec §4.6).
type StoredObjectCallback func(lit *object.Literal)

// Backend is the persistence contract Store orchestrates over (spec §6).
// Implementations must make Store idempotent per literal hash.
type Backend interface {
	Store(lit *object.Literal, header *mutation.OpHeader) error
	Load(hash hashing.Hash) (*object.Literal, bool, error)

	LoadTerminalOpsForMutable(hash hashing.Hash) (*TerminalOps, bool, error)
	LoadOpHeader(opHash hashing.Hash) (*mutation.OpHeader, bool, error)
	LoadOpHeaderByHeaderHash(headerHash hashing.Hash) (*mutation.OpHeader, bool, error)

	SearchByClass(className string, p SearchParams) ([]hashing.Hash, error)
	SearchByReference(path string, target hashing.Hash, p SearchParams) ([]hashing.Hash, error)
	SearchByReferencingClass(className, path string, target hashing.Hash, p SearchParams) ([]hashing.Hash, error)

	SetStoredObjectCallback(cb StoredObjectCallback)

	Close() error
	GetName() string
	GetBackendName() string
}

// Error kinds from spec §7.
var (
	ErrValidationFailed = object.ErrValidationFailed
)

// MissingDependencies is returned when a save's dependency-completeness
// check finds hashes neither in the context nor the backend.
type MissingDependencies struct {
	Hashes []hashing.Hash
}

func (e *MissingDependencies) Error() string {
	return fmt.Sprintf("store: save refused, %d missing dependencies", len(e.Hashes))
}

// MissingPrevOpHeader is returned when an op's OpHeader cannot be
// computed because a prevOps header was never saved (spec §4.4 step 3d).
type MissingPrevOpHeader struct {
	OpHash hashing.Hash
}

func (e *MissingPrevOpHeader) Error() string {
	return fmt.Sprintf("store: missing header for prev op %s", e.OpHash)
}

// ErrClassMismatch mirrors object.ErrClassMismatch for the save-time
// check against an already-stored literal of the same hash.
var ErrClassMismatch = errors.New("store: stored class disagrees with declared class")
