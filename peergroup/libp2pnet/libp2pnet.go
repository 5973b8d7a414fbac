// Package libp2pnet is a concrete NetworkAgent/SecureNetworkAgent
// adapter over a libp2p host, grounded in the teacher's core/network.go
// (NewNode's host+pubsub setup, DialSeed/HandlePeerFound's dial
// pattern) and core/peer_management.go (SendAsync's stream framing).
// Per-connection encryption is handled by libp2p's own transport
// security (noise/tls) — the external collaborator spec §1 places out
// of scope — so SecureForSending/SecureForReceiving here report
// identity auth at once: SecureForSending echoes the identity hash the
// agent passed in, and SecureForReceiving reports no identity hash.
package libp2pnet

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"

	"hypermesh/hashing"
	"hypermesh/peergroup"
)

// Adapter implements peergroup.NetworkAgent over a libp2p host. Wrap it
// in SecureAdapter to also satisfy peergroup.SecureNetworkAgent.
type Adapter struct {
	host        host.Host
	proto       protocol.ID
	peerGroupID string
	log         *logrus.Entry

	presence *pubsub.Topic
	presenceSub *pubsub.Subscription

	mu        sync.Mutex
	conns     map[string]network.Stream
	knownAddrs map[string]time.Time

	netEvents chan peergroup.TransportEvent
	secEvents chan peergroup.SecureEvent
}

// New creates a libp2p host listening on listenAddr and returns an
// Adapter ready to be passed to peergroup.NewAgent for peerGroupID.
func New(ctx context.Context, listenAddr, peerGroupID string) (*Adapter, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, fmt.Errorf("libp2pnet: create host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("libp2pnet: create pubsub: %w", err)
	}
	topic, err := ps.Join("hypermesh-presence-" + peerGroupID)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("libp2pnet: join presence topic: %w", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("libp2pnet: subscribe presence topic: %w", err)
	}

	a := &Adapter{
		host:        h,
		proto:       protocol.ID(peergroup.AgentID(peerGroupID)),
		peerGroupID: peerGroupID,
		log:         logrus.WithField("peerGroup", peerGroupID),
		presence:    topic,
		presenceSub: sub,
		conns:       make(map[string]network.Stream),
		knownAddrs:  make(map[string]time.Time),
		netEvents:   make(chan peergroup.TransportEvent, 256),
		secEvents:   make(chan peergroup.SecureEvent, 256),
	}
	go a.readPresence(ctx)
	return a, nil
}

// Host exposes the underlying libp2p host (e.g. for its own listen
// multiaddrs, used to build this node's PeerInfo.Endpoint).
func (a *Adapter) Host() host.Host { return a.host }

func (a *Adapter) Listen(endpoint string, identity any) error {
	a.host.SetStreamHandler(a.proto, a.handleIncomingStream)
	return a.presence.Publish(context.Background(), []byte(endpoint))
}

func (a *Adapter) readPresence(ctx context.Context) {
	for {
		msg, err := a.presenceSub.Next(ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == a.host.ID() {
			continue
		}
		a.mu.Lock()
		a.knownAddrs[string(msg.Data)] = time.Now()
		a.mu.Unlock()
		a.netEvents <- peergroup.TransportEvent{Kind: peergroup.RemoteAddressListening, Endpoint: string(msg.Data)}
	}
}

func (a *Adapter) handleIncomingStream(s network.Stream) {
	connID := uuid.NewString()
	a.mu.Lock()
	a.conns[connID] = s
	a.mu.Unlock()
	a.netEvents <- peergroup.TransportEvent{Kind: peergroup.ConnectionStatusChange, ConnID: connID, Open: true}
	go a.readLoop(connID, s)
}

func (a *Adapter) Connect(local, remote, requesterID string) (string, error) {
	pi, err := peer.AddrInfoFromString(remote)
	if err != nil {
		return "", fmt.Errorf("libp2pnet: invalid remote address %s: %w", remote, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.host.Connect(ctx, *pi); err != nil {
		return "", fmt.Errorf("libp2pnet: connect %s: %w", remote, err)
	}
	s, err := a.host.NewStream(ctx, pi.ID, a.proto)
	if err != nil {
		return "", fmt.Errorf("libp2pnet: open stream to %s: %w", remote, err)
	}
	connID := uuid.NewString()
	a.mu.Lock()
	a.conns[connID] = s
	a.mu.Unlock()
	go a.readLoop(connID, s)
	a.netEvents <- peergroup.TransportEvent{Kind: peergroup.ConnectionStatusChange, ConnID: connID, Open: true}
	return connID, nil
}

func (a *Adapter) readLoop(connID string, s network.Stream) {
	r := bufio.NewReader(s)
	for {
		var size uint32
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			a.closeConn(connID, err)
			return
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			a.closeConn(connID, err)
			return
		}
		a.netEvents <- peergroup.TransportEvent{Kind: peergroup.MessageReceived, ConnID: connID, Message: buf}
	}
}

func (a *Adapter) closeConn(connID string, cause error) {
	a.mu.Lock()
	s, ok := a.conns[connID]
	delete(a.conns, connID)
	a.mu.Unlock()
	if !ok {
		return
	}
	_ = s.Close()
	if cause != nil && cause != io.EOF {
		a.log.WithError(cause).Debug("connection closed")
	}
	a.netEvents <- peergroup.TransportEvent{Kind: peergroup.ConnectionStatusChange, ConnID: connID, Open: false}
}

func (a *Adapter) AcceptConnection(connID, requesterID string) error { return nil }

func (a *Adapter) ReleaseConnection(connID, requesterID string) error {
	a.closeConn(connID, nil)
	return nil
}

func (a *Adapter) CheckConnection(connID string) (peergroup.ConnectionInfo, bool) {
	return a.GetConnectionInfo(connID)
}

func (a *Adapter) GetConnectionInfo(connID string) (peergroup.ConnectionInfo, bool) {
	a.mu.Lock()
	s, ok := a.conns[connID]
	a.mu.Unlock()
	if !ok {
		return peergroup.ConnectionInfo{}, false
	}
	return peergroup.ConnectionInfo{
		ConnID:         connID,
		RemoteEndpoint: s.Conn().RemotePeer().String(),
		Open:           true,
	}, true
}

func (a *Adapter) SendMessage(connID, requesterID string, msg []byte) error {
	a.mu.Lock()
	s, ok := a.conns[connID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("libp2pnet: connection %s not open", connID)
	}
	w := bufio.NewWriter(s)
	if err := binary.Write(w, binary.BigEndian, uint32(len(msg))); err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Flush()
}

// QueryForListeningAddresses reports which of candidates have recently
// announced themselves on the group's presence topic.
func (a *Adapter) QueryForListeningAddresses(self string, candidates []string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var online []string
	for _, c := range candidates {
		if _, seen := a.knownAddrs[c]; seen {
			online = append(online, c)
		}
	}
	return online, nil
}

func (a *Adapter) Events() <-chan peergroup.TransportEvent { return a.netEvents }

// ---- SecureNetworkAgent: libp2p streams are already encrypted and
// peer-authenticated at the transport layer, so identity auth here is
// a pass-through: SecureForSending reports the remote identity hash the
// agent supplied, and SecureForReceiving reports an empty one.

func (a *Adapter) SecureForReceiving(connID string, identity any) error {
	a.secEvents <- peergroup.SecureEvent{Kind: peergroup.ConnectionIdentityAuth, ConnID: connID}
	return nil
}

func (a *Adapter) SecureForSending(connID string, remoteIdentityHash hashing.Hash, remoteIdentity any) error {
	a.secEvents <- peergroup.SecureEvent{Kind: peergroup.ConnectionIdentityAuth, ConnID: connID, RemoteIdentityHash: remoteIdentityHash}
	return nil
}

func (a *Adapter) SendSecurely(connID string, localIdentityHash, remoteIdentityHash hashing.Hash, senderID string, payload []byte) error {
	return a.SendMessage(connID, senderID, payload)
}

func (a *Adapter) SecEvents() <-chan peergroup.SecureEvent { return a.secEvents }

// SecureAdapter exposes the Adapter's secure-channel surface as a
// distinct peergroup.SecureNetworkAgent value (Adapter itself cannot
// implement both Events() signatures).
type SecureAdapter struct{ *Adapter }

func (s SecureAdapter) Events() <-chan peergroup.SecureEvent { return s.Adapter.SecEvents() }
