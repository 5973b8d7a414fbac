package peergroup_test

import (
	"testing"
	"time"

	"hypermesh/hashing"
	"hypermesh/peergroup"
	"hypermesh/peergroup/simnet"
)

// staticSource is a PeerSource backed by a fixed peer list, enough to
// drive the discovery/accept scenarios in spec §8.
type staticSource struct {
	peers []peergroup.PeerInfo
}

func (s *staticSource) GetPeers(count int) []peergroup.PeerInfo {
	if count > len(s.peers) {
		count = len(s.peers)
	}
	return append([]peergroup.PeerInfo{}, s.peers[:count]...)
}

func (s *staticSource) GetPeerForEndpoint(endpoint string) (peergroup.PeerInfo, bool) {
	for _, p := range s.peers {
		if p.Endpoint == endpoint {
			return p, true
		}
	}
	return peergroup.PeerInfo{}, false
}

func fastConfig() peergroup.Config {
	cfg := peergroup.DefaultConfig()
	cfg.TickInterval = 20 * time.Millisecond
	cfg.PeerDiscoveryAttemptInterval = 10 * time.Millisecond
	cfg.PeerConnectionAttemptInterval = 10 * time.Millisecond
	cfg.PeerConnectionTimeout = 200 * time.Millisecond
	cfg.MinPeers = 1
	cfg.MaxPeers = 4
	return cfg
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

// TestTwoAgentsDiscoverAndConverge is spec §8 scenario 3: two agents in
// the same group, different identities, find each other via discovery
// and each sees the other as a Ready peer.
func TestTwoAgentsDiscoverAndConverge(t *testing.T) {
	hub := simnet.NewHub()
	epA, epB := "sim://a", "sim://b"
	hashA, hashB := hashing.Hash("identA"), hashing.Hash("identB")

	nodeA := simnet.NewNode(hub, epA, "instA", hashA)
	nodeB := simnet.NewNode(hub, epB, "instB", hashB)

	selfA := peergroup.PeerInfo{Endpoint: epA, IdentityHash: hashA}
	selfB := peergroup.PeerInfo{Endpoint: epB, IdentityHash: hashB}

	srcA := &staticSource{peers: []peergroup.PeerInfo{selfB}}
	srcB := &staticSource{peers: []peergroup.PeerInfo{selfA}}

	agentA := peergroup.NewAgent("group1", selfA, nodeA, simnet.SecureAdapter{Node: nodeA}, srcA, fastConfig())
	agentB := peergroup.NewAgent("group1", selfB, nodeB, simnet.SecureAdapter{Node: nodeB}, srcB, fastConfig())

	if err := agentA.Start(); err != nil {
		t.Fatalf("agentA.Start: %v", err)
	}
	if err := agentB.Start(); err != nil {
		t.Fatalf("agentB.Start: %v", err)
	}
	defer agentA.Shutdown()
	defer agentB.Shutdown()

	waitFor(t, 2*time.Second, func() bool {
		return len(agentA.GetPeers()) == 1 && len(agentB.GetPeers()) == 1
	})

	peersA := agentA.GetPeers()
	if peersA[0].Endpoint != epB {
		t.Fatalf("agentA peer = %s, want %s", peersA[0].Endpoint, epB)
	}
	peersB := agentB.GetPeers()
	if peersB[0].Endpoint != epA {
		t.Fatalf("agentB peer = %s, want %s", peersB[0].Endpoint, epA)
	}

	// Killing B's node tears down the shared connection from B's side;
	// A should observe the transport close and emit LostPeer within its
	// connection timeout.
	lost := make(chan peergroup.PeerInfo, 1)
	agentA.OnLostPeer(func(p peergroup.PeerInfo) { lost <- p })
	agentB.Shutdown()
	nodeB.CloseAll()

	select {
	case p := <-lost:
		if p.Endpoint != epB {
			t.Fatalf("lost peer endpoint = %s, want %s", p.Endpoint, epB)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected LostPeer event after connection teardown")
	}
}

// TestSimultaneousConnectDeduplicates is spec §8 scenario 4 / invariant
// 7: both sides discover and may dial each other at once; after dedup,
// each side reports exactly one Ready peer and neither exceeds MaxPeers.
func TestSimultaneousConnectDeduplicates(t *testing.T) {
	hub := simnet.NewHub()
	epA, epB := "sim://a", "sim://b"
	hashA, hashB := hashing.Hash("identA"), hashing.Hash("identB")

	nodeA := simnet.NewNode(hub, epA, "instA", hashA)
	nodeB := simnet.NewNode(hub, epB, "instB", hashB)

	selfA := peergroup.PeerInfo{Endpoint: epA, IdentityHash: hashA}
	selfB := peergroup.PeerInfo{Endpoint: epB, IdentityHash: hashB}

	srcA := &staticSource{peers: []peergroup.PeerInfo{selfB}}
	srcB := &staticSource{peers: []peergroup.PeerInfo{selfA}}

	cfg := fastConfig()
	agentA := peergroup.NewAgent("group1", selfA, nodeA, simnet.SecureAdapter{Node: nodeA}, srcA, cfg)
	agentB := peergroup.NewAgent("group1", selfB, nodeB, simnet.SecureAdapter{Node: nodeB}, srcB, cfg)

	if err := agentA.Start(); err != nil {
		t.Fatalf("agentA.Start: %v", err)
	}
	if err := agentB.Start(); err != nil {
		t.Fatalf("agentB.Start: %v", err)
	}
	defer agentA.Shutdown()
	defer agentB.Shutdown()

	waitFor(t, 2*time.Second, func() bool {
		return len(agentA.GetPeers()) == 1 && len(agentB.GetPeers()) == 1
	})

	// Converged mesh has min/max bounds respected (invariant 8).
	if len(agentA.GetPeers()) > cfg.MaxPeers || len(agentB.GetPeers()) > cfg.MaxPeers {
		t.Fatal("peer count exceeds MaxPeers")
	}
}
