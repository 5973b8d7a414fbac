package peergroup

import "hypermesh/hashing"

// AgentID returns the per-group identifier a NetworkAgent/
// SecureNetworkAgent uses to route messages to this peer group's
// control-plane handler (spec §6 "AgentId for a peer group").
func AgentID(peerGroupID string) string {
	return "peer-control-for-" + peerGroupID
}

// ConnectionInfo is the transport-level snapshot a NetworkAgent reports
// for a connection (spec §6, §9 "remoteInstanceId").
type ConnectionInfo struct {
	ConnID           string
	LocalEndpoint    string
	RemoteEndpoint   string
	RemoteInstanceID string // empty means "not reported"; treated as matching anything (spec §9 open question)
	Open             bool
}

// TransportEventKind enumerates the events a NetworkAgent emits (spec §6).
type TransportEventKind int

const (
	RemoteAddressListening TransportEventKind = iota
	ConnectionStatusChange
	MessageReceived
)

// TransportEvent is emitted on a NetworkAgent's event channel.
type TransportEvent struct {
	Kind        TransportEventKind
	Endpoint    string // RemoteAddressListening
	ConnID      string // ConnectionStatusChange, MessageReceived
	Open        bool   // ConnectionStatusChange
	RequesterID string // MessageReceived: the agentId the message targets
	Message     []byte // MessageReceived
}

// NetworkAgent is the unsecured transport collaborator the peer group
// agent dials/listens on (spec §6).
type NetworkAgent interface {
	Listen(endpoint string, identity any) error
	Connect(local, remote, requesterID string) (connID string, err error)
	AcceptConnection(connID, requesterID string) error
	ReleaseConnection(connID, requesterID string) error
	CheckConnection(connID string) (ConnectionInfo, bool)
	SendMessage(connID, requesterID string, msg []byte) error
	GetConnectionInfo(connID string) (ConnectionInfo, bool)
	QueryForListeningAddresses(self string, candidates []string) ([]string, error)
	Events() <-chan TransportEvent
}

// SecureEventKind enumerates the events a SecureNetworkAgent emits.
type SecureEventKind int

const (
	ConnectionIdentityAuth SecureEventKind = iota
	SecureMessageReceived
)

// SecureEvent is emitted on a SecureNetworkAgent's event channel.
type SecureEvent struct {
	Kind               SecureEventKind
	ConnID             string
	RemoteIdentityHash hashing.Hash // ConnectionIdentityAuth
	SenderID           string       // SecureMessageReceived: requesterId of the sender
	Payload            []byte       // SecureMessageReceived
}

// SecureNetworkAgent layers per-connection identity authentication and
// encrypted delivery on top of a NetworkAgent (spec §6).
type SecureNetworkAgent interface {
	SecureForReceiving(connID string, identity any) error
	SecureForSending(connID string, remoteIdentityHash hashing.Hash, remoteIdentity any) error
	SendSecurely(connID string, localIdentityHash, remoteIdentityHash hashing.Hash, senderID string, payload []byte) error
	Events() <-chan SecureEvent
}

// PeerSource supplies candidate peers for discovery and answers
// membership queries during tick's peer-validation pass (spec §6).
type PeerSource interface {
	GetPeers(count int) []PeerInfo
	GetPeerForEndpoint(endpoint string) (PeerInfo, bool)
}
