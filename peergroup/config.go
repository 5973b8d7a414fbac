// Package peergroup implements the peer-group membership coordinator
// (spec §4.7): discovery, offer/accept negotiation, connection
// deduplication and liveness management for a named group of replicas.
package peergroup

import (
	"time"

	"hypermesh/hashing"
	"hypermesh/object"
)

// Config holds the tunables spec §4.7 lists with their defaults.
type Config struct {
	MinPeers                      int
	MaxPeers                      int
	PeerConnectionTimeout         time.Duration
	PeerConnectionAttemptInterval time.Duration
	PeerDiscoveryAttemptInterval  time.Duration
	TickInterval                  time.Duration
}

// DefaultConfig returns the defaults named in spec §4.7.
func DefaultConfig() Config {
	return Config{
		MinPeers:                      3,
		MaxPeers:                      12,
		PeerConnectionTimeout:         20 * time.Second,
		PeerConnectionAttemptInterval: 10 * time.Second,
		PeerDiscoveryAttemptInterval:  15 * time.Second,
		TickInterval:                  30 * time.Second,
	}
}

// bootstrapWindow is how long after Start a mesh below MinPeers gets
// the discovery/attempt interval multiplier boost (spec §4.7
// "bootstrap boost... during the first 20s").
const bootstrapWindow = 20 * time.Second

// bootstrapMultiplier scales down the relevant intervals while the
// mesh is still bootstrapping below MinPeers.
const bootstrapMultiplier = 0.05

// PeerInfo identifies one replica in the group: its signaling endpoint
// and identity (spec §3 "PeerGroup... PeerInfo{endpoint, identityHash}").
type PeerInfo struct {
	Endpoint     string
	IdentityHash hashing.Hash
	Identity     object.HashedObject
}
