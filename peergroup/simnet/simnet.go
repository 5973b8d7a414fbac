// Package simnet is an in-memory, deterministic NetworkAgent/
// SecureNetworkAgent pair used to exercise the peer group agent's
// scenario tests (spec §8 scenarios 3-4) without a real transport,
// which spec §1 places out of scope.
package simnet

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"hypermesh/hashing"
	"hypermesh/peergroup"
)

// Hub is the shared rendezvous every simnet.Node in a test registers
// with, standing in for the out-of-scope signaling/rendezvous service.
type Hub struct {
	mu    sync.Mutex
	nodes map[string]*Node // endpoint -> node
}

// NewHub returns an empty hub.
func NewHub() *Hub { return &Hub{nodes: make(map[string]*Node)} }

func (h *Hub) register(n *Node) {
	h.mu.Lock()
	h.nodes[n.endpoint] = n
	h.mu.Unlock()
}

func (h *Hub) lookup(endpoint string) (*Node, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.nodes[endpoint]
	return n, ok
}

// simConn is one directed half of a logical connection; two Nodes each
// hold their own simConn for the same logical pair, linked by connID.
type simConn struct {
	id       string
	local    *Node
	remote   *Node
	open     bool
	instance string
}

// Node implements peergroup.NetworkAgent over a Hub; wrapped in
// SecureAdapter it also serves as peergroup.SecureNetworkAgent. Every
// identity-keyed process
// gets its own Node so two Nodes sharing a Hub simulate two peers.
type Node struct {
	hub          *Hub
	endpoint     string
	instanceID   string
	identity     any
	identityHash hashing.Hash

	mu    sync.Mutex
	conns map[string]*simConn

	netEvents chan peergroup.TransportEvent
	secEvents chan peergroup.SecureEvent
}

// NewNode creates and registers a simnet node at endpoint on hub.
// instanceID pins this process instance (spec §9 instance pinning);
// identityHash is what a remote node's SecureForReceiving reports as
// this node's identity; each SecureForSending/SecureForReceiving call
// emits its ConnectionIdentityAuth event at once, on its own side only.
func NewNode(hub *Hub, endpoint, instanceID string, identityHash hashing.Hash) *Node {
	n := &Node{
		hub:          hub,
		endpoint:     endpoint,
		instanceID:   instanceID,
		identityHash: identityHash,
		conns:        make(map[string]*simConn),
		netEvents:    make(chan peergroup.TransportEvent, 256),
		secEvents:    make(chan peergroup.SecureEvent, 256),
	}
	hub.register(n)
	return n
}

func (n *Node) Listen(endpoint string, identity any) error {
	n.identity = identity
	return nil
}

func (n *Node) Connect(local, remote, requesterID string) (string, error) {
	remoteNode, ok := n.hub.lookup(remote)
	if !ok {
		return "", fmt.Errorf("simnet: no listener at %s", remote)
	}
	connID := uuid.NewString()

	n.mu.Lock()
	n.conns[connID] = &simConn{id: connID, local: n, remote: remoteNode, open: true, instance: remoteNode.instanceID}
	n.mu.Unlock()

	remoteNode.mu.Lock()
	remoteNode.conns[connID] = &simConn{id: connID, local: remoteNode, remote: n, open: true, instance: n.instanceID}
	remoteNode.mu.Unlock()

	n.emitStatus(connID, true)
	remoteNode.emitStatus(connID, true)
	return connID, nil
}

func (n *Node) emitStatus(connID string, open bool) {
	n.netEvents <- peergroup.TransportEvent{Kind: peergroup.ConnectionStatusChange, ConnID: connID, Open: open}
}

func (n *Node) AcceptConnection(connID, requesterID string) error { return nil }

func (n *Node) ReleaseConnection(connID, requesterID string) error {
	n.mu.Lock()
	c, ok := n.conns[connID]
	if ok {
		c.open = false
		delete(n.conns, connID)
	}
	n.mu.Unlock()
	if !ok {
		return nil
	}
	c.remote.mu.Lock()
	rc, rok := c.remote.conns[connID]
	if rok {
		rc.open = false
		delete(c.remote.conns, connID)
	}
	c.remote.mu.Unlock()
	if rok {
		c.remote.emitStatus(connID, false)
	}
	return nil
}

func (n *Node) CheckConnection(connID string) (peergroup.ConnectionInfo, bool) {
	return n.GetConnectionInfo(connID)
}

func (n *Node) GetConnectionInfo(connID string) (peergroup.ConnectionInfo, bool) {
	n.mu.Lock()
	c, ok := n.conns[connID]
	n.mu.Unlock()
	if !ok {
		return peergroup.ConnectionInfo{}, false
	}
	return peergroup.ConnectionInfo{
		ConnID:           connID,
		LocalEndpoint:    n.endpoint,
		RemoteEndpoint:   c.remote.endpoint,
		RemoteInstanceID: c.instance,
		Open:             c.open,
	}, true
}

func (n *Node) SendMessage(connID, requesterID string, msg []byte) error {
	n.mu.Lock()
	c, ok := n.conns[connID]
	n.mu.Unlock()
	if !ok || !c.open {
		return fmt.Errorf("simnet: connection %s not open", connID)
	}
	c.remote.netEvents <- peergroup.TransportEvent{Kind: peergroup.MessageReceived, ConnID: connID, RequesterID: requesterID, Message: msg}
	return nil
}

func (n *Node) QueryForListeningAddresses(self string, candidates []string) ([]string, error) {
	var online []string
	for _, c := range candidates {
		if _, ok := n.hub.lookup(c); ok {
			online = append(online, c)
		}
	}
	return online, nil
}

func (n *Node) Events() <-chan peergroup.TransportEvent { return n.netEvents }

// CloseAll tears down every connection this node holds, notifying the
// remote side of each — used by tests to simulate a peer disappearing.
func (n *Node) CloseAll() {
	n.mu.Lock()
	ids := make([]string, 0, len(n.conns))
	for id := range n.conns {
		ids = append(ids, id)
	}
	n.mu.Unlock()
	for _, id := range ids {
		n.ReleaseConnection(id, "")
	}
}

// ---- SecureNetworkAgent: crypto/transport security is out of scope
// (spec §1); simnet short-circuits straight to an authenticated channel.

func (n *Node) SecureForReceiving(connID string, identity any) error {
	n.secEvents <- peergroup.SecureEvent{Kind: peergroup.ConnectionIdentityAuth, ConnID: connID, RemoteIdentityHash: n.remoteIdentityHash(connID)}
	return nil
}

func (n *Node) SecureForSending(connID string, remoteIdentityHash hashing.Hash, remoteIdentity any) error {
	n.secEvents <- peergroup.SecureEvent{Kind: peergroup.ConnectionIdentityAuth, ConnID: connID, RemoteIdentityHash: remoteIdentityHash}
	return nil
}

func (n *Node) remoteIdentityHash(connID string) hashing.Hash {
	n.mu.Lock()
	c, ok := n.conns[connID]
	n.mu.Unlock()
	if !ok {
		return ""
	}
	return c.remote.identityHash
}

func (n *Node) SendSecurely(connID string, localIdentityHash, remoteIdentityHash hashing.Hash, senderID string, payload []byte) error {
	n.mu.Lock()
	c, ok := n.conns[connID]
	n.mu.Unlock()
	if !ok || !c.open {
		return fmt.Errorf("simnet: connection %s not open", connID)
	}
	c.remote.secEvents <- peergroup.SecureEvent{Kind: peergroup.SecureMessageReceived, ConnID: connID, SenderID: senderID, Payload: payload}
	return nil
}

func (n *Node) SecEvents() <-chan peergroup.SecureEvent { return n.secEvents }

// SecureAdapter exposes a Node as a peergroup.SecureNetworkAgent. Node
// cannot satisfy that interface itself, because its Events() already
// returns transport events for NetworkAgent; NewAgent takes net and
// secure separately, so this wrapper supplies the secure Events().
type SecureAdapter struct{ *Node }

func (s SecureAdapter) Events() <-chan peergroup.SecureEvent { return s.Node.SecEvents() }
