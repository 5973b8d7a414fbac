package peergroup

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"hypermesh/hashing"
)

// connection is the per-connection bookkeeping entry (spec §4.7 "State").
type connection struct {
	id          string
	peer        PeerInfo
	state       ConnState
	timestamp   time.Time
	initiatedBy bool // true if we dialed; false if remote dialed us
}

// Agent maintains, for peerGroupID and a local PeerInfo, an evolving
// set of authenticated connections to other peers in the group (spec
// §4.7). It runs a single-flighted periodic tick and reacts to
// transport/secure events pushed from its NetworkAgent/SecureNetworkAgent.
type Agent struct {
	peerGroupID string
	self        PeerInfo
	cfg         Config

	net    NetworkAgent
	secure SecureNetworkAgent
	source PeerSource
	log    *logrus.Entry

	mu                    sync.Mutex
	connections           map[string]*connection
	connsByEndpoint       map[string][]string
	instanceIDByEndpoint  map[string]string
	attemptTimestamps     map[string]time.Time
	onlineQueryTimestamps *lru.Cache[string, time.Time]
	chosenForDedup        map[string]string
	lastDiscovery         time.Time

	stats Stats

	startedAt time.Time
	tickLock  int32
	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup

	cbMu        sync.Mutex
	newPeerCbs  []func(PeerInfo)
	lostPeerCbs []func(PeerInfo)
	appHandlers map[string][]func(senderID string, content json.RawMessage)
}

// Stats are the cumulative counters spec §4.7 names ("cumulative
// stats (inits, accepts, timeouts)"), supplemented per SPEC_FULL.md.
type Stats struct {
	ConnectionInits   uint64
	ConnectionAccepts uint64
	ConnectionTimeouts uint64
	Dedups            uint64
	NewPeers          uint64
	LostPeers         uint64
}

// NewAgent wires an Agent onto a NetworkAgent/SecureNetworkAgent pair
// and a PeerSource for the named group.
func NewAgent(peerGroupID string, self PeerInfo, net NetworkAgent, secure SecureNetworkAgent, source PeerSource, cfg Config) *Agent {
	cache, _ := lru.New[string, time.Time](128)
	return &Agent{
		peerGroupID:           peerGroupID,
		self:                  self,
		cfg:                   cfg,
		net:                   net,
		secure:                secure,
		source:                source,
		log:                   logrus.WithField("peerGroup", peerGroupID).WithField("endpoint", self.Endpoint),
		connections:           make(map[string]*connection),
		connsByEndpoint:       make(map[string][]string),
		instanceIDByEndpoint:  make(map[string]string),
		attemptTimestamps:     make(map[string]time.Time),
		onlineQueryTimestamps: cache,
		chosenForDedup:        make(map[string]string),
		stopCh:                make(chan struct{}),
		appHandlers:           make(map[string][]func(senderID string, content json.RawMessage)),
	}
}

// OnPeerMessage registers h to receive "peer-message" deliveries
// addressed to agentID, from any Ready peer (spec §6 "Secured
// application: peer-message").
func (a *Agent) OnPeerMessage(agentID string, h func(senderID string, content json.RawMessage)) {
	a.cbMu.Lock()
	a.appHandlers[agentID] = append(a.appHandlers[agentID], h)
	a.cbMu.Unlock()
}

// Start begins listening and launches the event and tick loops.
func (a *Agent) Start() error {
	if err := a.net.Listen(a.self.Endpoint, a.self.Identity); err != nil {
		return fmt.Errorf("peergroup: listen %s: %w", a.self.Endpoint, err)
	}
	a.startedAt = time.Now()
	a.ticker = time.NewTicker(a.cfg.TickInterval)
	a.wg.Add(2)
	go a.eventLoop()
	go a.tickLoop()
	return nil
}

// Shutdown idempotently stops the tick timer and event loop.
func (a *Agent) Shutdown() {
	select {
	case <-a.stopCh:
		return
	default:
		close(a.stopCh)
	}
	if a.ticker != nil {
		a.ticker.Stop()
	}
	a.wg.Wait()
}

// OnNewPeer registers cb to fire whenever a connection reaches Ready
// (spec §4.7 "broadcast NewPeer").
func (a *Agent) OnNewPeer(cb func(PeerInfo)) {
	a.cbMu.Lock()
	a.newPeerCbs = append(a.newPeerCbs, cb)
	a.cbMu.Unlock()
}

// OnLostPeer registers cb to fire whenever a Ready connection is torn down.
func (a *Agent) OnLostPeer(cb func(PeerInfo)) {
	a.cbMu.Lock()
	a.lostPeerCbs = append(a.lostPeerCbs, cb)
	a.cbMu.Unlock()
}

// GetPeers returns the peers of every currently Ready connection.
func (a *Agent) GetPeers() []PeerInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PeerInfo, 0, len(a.connections))
	for _, c := range a.connections {
		if c.state == Ready {
			out = append(out, c.peer)
		}
	}
	return out
}

// GetStats returns a snapshot of the cumulative counters.
func (a *Agent) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// GetState returns a debug snapshot of every connection's state, keyed
// by endpoint, useful for tests asserting convergence (spec §8 scenarios 3-4).
func (a *Agent) GetState() map[string]ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]ConnState, len(a.connections))
	for _, c := range a.connections {
		out[c.peer.Endpoint] = c.state
	}
	return out
}

// PeerSendBufferIsEmpty reports whether the send buffer of the first
// Ready connection to endpoint is empty (true when there is no such
// connection). The narrow NetworkAgent
// contract this module consumes has no buffer depth signal, so an open
// Ready connection is treated as immediately drained.
func (a *Agent) PeerSendBufferIsEmpty(endpoint string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range a.connsByEndpoint[endpoint] {
		if c, ok := a.connections[id]; ok && c.state == Ready {
			info, ok := a.net.GetConnectionInfo(id)
			return !ok || info.Open
		}
	}
	return true
}

// SendToPeer delivers content to agentID's handler on the Ready
// connection for endpoint, if any.
func (a *Agent) SendToPeer(endpoint, agentID string, content []byte) bool {
	a.mu.Lock()
	var connID string
	for _, id := range a.connsByEndpoint[endpoint] {
		if c, ok := a.connections[id]; ok && c.state == Ready {
			connID = id
			break
		}
	}
	a.mu.Unlock()
	if connID == "" {
		return false
	}
	msg := encodePeerMessage(a.peerGroupID, agentID, content)
	if err := a.secure.SendSecurely(connID, a.self.IdentityHash, a.connections[connID].peer.IdentityHash, AgentID(a.peerGroupID), msg); err != nil {
		a.log.WithError(err).Warn("sendToPeer failed")
		return false
	}
	return true
}

// SendToAllPeers delivers content to agentID's handler on every Ready
// connection, returning the number of successful sends.
func (a *Agent) SendToAllPeers(agentID string, content []byte) int {
	a.mu.Lock()
	endpoints := make([]string, 0, len(a.connsByEndpoint))
	for ep := range a.connsByEndpoint {
		endpoints = append(endpoints, ep)
	}
	a.mu.Unlock()
	n := 0
	for _, ep := range endpoints {
		if a.SendToPeer(ep, agentID, content) {
			n++
		}
	}
	return n
}

// ---- event loop -----------------------------------------------------

func (a *Agent) eventLoop() {
	defer a.wg.Done()
	netEvents := a.net.Events()
	secEvents := a.secure.Events()
	for {
		select {
		case <-a.stopCh:
			return
		case ev, ok := <-netEvents:
			if !ok {
				return
			}
			a.handleTransportEvent(ev)
		case ev, ok := <-secEvents:
			if !ok {
				return
			}
			a.handleSecureEvent(ev)
		}
	}
}

func (a *Agent) tickLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.stopCh:
			return
		case <-a.ticker.C:
			a.tick()
		}
	}
}

// tick runs one cycle of §4.7's four steps, single-flighted by a
// try-lock: a tick that cannot acquire it skips the cycle entirely
// (spec §5, §9 "cooperative concurrency").
func (a *Agent) tick() {
	if !atomic.CompareAndSwapInt32(&a.tickLock, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&a.tickLock, 0)

	a.cleanup()
	a.discover()
	a.dedup()
	a.validatePeers()
}

// ---- step 1: clean-up ------------------------------------------------

func (a *Agent) cleanup() {
	now := time.Now()
	a.mu.Lock()
	var lost []PeerInfo
	for id, c := range a.connections {
		dead := false
		switch {
		case c.state == Ready:
			if info, ok := a.net.GetConnectionInfo(id); !ok || !info.Open {
				dead = true
			}
		default:
			if now.Sub(c.timestamp) > a.cfg.PeerConnectionTimeout {
				dead = true
				a.stats.ConnectionTimeouts++
			}
		}
		if dead {
			if c.state == Ready {
				lost = append(lost, c.peer)
			}
			a.removeConnectionLocked(id)
		}
	}
	for ep, ts := range a.attemptTimestamps {
		if now.Sub(ts) > a.cfg.PeerConnectionAttemptInterval {
			delete(a.attemptTimestamps, ep)
		}
	}
	a.mu.Unlock()

	for _, p := range lost {
		a.fireLostPeer(p)
	}
}

// removeConnectionLocked evicts a connection's bookkeeping. Caller
// holds a.mu.
func (a *Agent) removeConnectionLocked(id string) {
	c, ok := a.connections[id]
	if !ok {
		return
	}
	delete(a.connections, id)
	ids := a.connsByEndpoint[c.peer.Endpoint]
	for i, cid := range ids {
		if cid == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(a.connsByEndpoint, c.peer.Endpoint)
		delete(a.instanceIDByEndpoint, c.peer.Endpoint)
		delete(a.chosenForDedup, c.peer.Endpoint)
	} else {
		a.connsByEndpoint[c.peer.Endpoint] = ids
	}
	a.net.ReleaseConnection(id, AgentID(a.peerGroupID))
}

// ---- step 2: discovery ------------------------------------------------

func (a *Agent) bootstrapping() bool {
	return time.Since(a.startedAt) < bootstrapWindow
}

func (a *Agent) discoveryInterval() time.Duration {
	if a.bootstrapping() {
		return time.Duration(float64(a.cfg.PeerDiscoveryAttemptInterval) * bootstrapMultiplier)
	}
	return a.cfg.PeerDiscoveryAttemptInterval
}

func (a *Agent) attemptInterval() time.Duration {
	if a.bootstrapping() {
		return time.Duration(float64(a.cfg.PeerConnectionAttemptInterval) * bootstrapMultiplier)
	}
	return a.cfg.PeerConnectionAttemptInterval
}

func (a *Agent) discover() {
	a.mu.Lock()
	connected := len(a.connsByEndpoint)
	elapsed := time.Since(a.lastDiscovery) >= a.discoveryInterval()
	a.mu.Unlock()

	if connected >= a.cfg.MinPeers || !elapsed {
		return
	}

	candidates := a.source.GetPeers(a.cfg.MinPeers * 5)

	a.mu.Lock()
	a.lastDiscovery = time.Now()
	needed := a.cfg.MinPeers - len(a.connsByEndpoint)
	attemptInterval := a.attemptInterval()
	var filtered []PeerInfo
	var recentlyAttempted []PeerInfo
	for _, p := range candidates {
		if p.Endpoint == a.self.Endpoint {
			continue
		}
		if _, connected := a.connsByEndpoint[p.Endpoint]; connected {
			continue
		}
		if _, queried := a.onlineQueryTimestamps.Get(p.Endpoint); queried {
			continue
		}
		if ts, attempted := a.attemptTimestamps[p.Endpoint]; attempted {
			if time.Since(ts) < attemptInterval {
				recentlyAttempted = append(recentlyAttempted, p)
				continue
			}
		}
		filtered = append(filtered, p)
	}
	if len(filtered) < needed {
		filtered = append(filtered, recentlyAttempted...)
	}
	if len(filtered) > needed {
		filtered = filtered[:needed]
	}
	for _, p := range filtered {
		a.attemptTimestamps[p.Endpoint] = time.Now()
	}
	a.mu.Unlock()

	if len(filtered) == 0 {
		return
	}
	endpoints := make([]string, len(filtered))
	for i, p := range filtered {
		endpoints[i] = p.Endpoint
	}
	online, err := a.net.QueryForListeningAddresses(a.self.Endpoint, endpoints)
	if err != nil {
		a.log.WithError(err).Debug("discovery query failed")
		return
	}
	a.mu.Lock()
	for _, ep := range online {
		a.onlineQueryTimestamps.Add(ep, time.Now())
	}
	a.mu.Unlock()

	byEndpoint := make(map[string]PeerInfo, len(filtered))
	for _, p := range filtered {
		byEndpoint[p.Endpoint] = p
	}
	for _, ep := range online {
		p, ok := byEndpoint[ep]
		if !ok {
			continue
		}
		if a.shouldConnectToPeer(p) {
			a.connectToPeer(p)
		}
	}
}

// connectToPeer dials p and registers the resulting connection before
// releasing the lock, so a ConnectionStatusChange event the transport
// delivers synchronously cannot race the event loop ahead of the
// registration (both paths serialize on a.mu).
func (a *Agent) connectToPeer(p PeerInfo) {
	a.mu.Lock()
	connID, err := a.net.Connect(a.self.Endpoint, p.Endpoint, AgentID(a.peerGroupID))
	if err != nil {
		a.mu.Unlock()
		a.log.WithError(err).WithField("peer", p.Endpoint).Debug("connect failed")
		return
	}
	a.connections[connID] = &connection{id: connID, peer: p, state: Connecting, timestamp: time.Now(), initiatedBy: true}
	a.connsByEndpoint[p.Endpoint] = append(a.connsByEndpoint[p.Endpoint], connID)
	a.stats.ConnectionInits++
	a.mu.Unlock()
}

// ---- decision predicates (spec §4.7) -----------------------------------

func (a *Agent) shouldConnectToPeer(p PeerInfo) bool {
	if p.Endpoint == a.self.Endpoint {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.connsByEndpoint) >= a.cfg.MinPeers {
		return false
	}
	if _, ok := a.connsByEndpoint[p.Endpoint]; ok {
		return false
	}
	if ts, ok := a.attemptTimestamps[p.Endpoint]; ok && time.Since(ts) < a.attemptInterval() {
		return false
	}
	return true
}

// ---- step 3: deduplication ---------------------------------------------

func (a *Agent) dedup() {
	a.mu.Lock()
	type pending struct {
		endpoint string
		connID   string
	}
	var toChoose []pending
	for ep, ids := range a.connsByEndpoint {
		if len(ids) <= 1 {
			continue
		}
		if chosen, ok := a.chosenForDedup[ep]; ok {
			if c, ok := a.connections[chosen]; ok && c.state == Ready {
				continue
			}
		}
		var ready []string
		for _, id := range ids {
			if c, ok := a.connections[id]; ok && c.state == Ready {
				ready = append(ready, id)
			}
		}
		if len(ready) <= 1 {
			continue
		}
		sort.Strings(ready)
		winner := ready[0]
		a.chosenForDedup[ep] = winner
		a.stats.Dedups++
		toChoose = append(toChoose, pending{endpoint: ep, connID: winner})
	}
	a.mu.Unlock()

	for _, p := range toChoose {
		a.net.SendMessage(p.connID, AgentID(a.peerGroupID), encodeControl("choose-connection", a.peerGroupID))
	}
}

// applyChosenConnection closes every Ready connection to endpoint
// except keepID (spec §4.7 step 3).
func (a *Agent) applyChosenConnection(endpoint, keepID string) {
	a.mu.Lock()
	ids := append([]string{}, a.connsByEndpoint[endpoint]...)
	var toClose []string
	for _, id := range ids {
		if id == keepID {
			continue
		}
		if c, ok := a.connections[id]; ok && c.state == Ready {
			toClose = append(toClose, id)
		}
	}
	a.chosenForDedup[endpoint] = keepID
	a.mu.Unlock()

	for _, id := range toClose {
		a.mu.Lock()
		a.removeConnectionLocked(id)
		a.mu.Unlock()
	}
}

// ---- step 4: peer validation --------------------------------------------

func (a *Agent) validatePeers() {
	a.mu.Lock()
	endpoints := make([]string, 0, len(a.connsByEndpoint))
	for ep := range a.connsByEndpoint {
		endpoints = append(endpoints, ep)
	}
	a.mu.Unlock()

	for _, ep := range endpoints {
		if _, ok := a.source.GetPeerForEndpoint(ep); !ok {
			a.mu.Lock()
			ids := append([]string{}, a.connsByEndpoint[ep]...)
			var wasReady bool
			var peer PeerInfo
			for _, id := range ids {
				if c, ok := a.connections[id]; ok {
					if c.state == Ready {
						wasReady = true
						peer = c.peer
					}
					a.removeConnectionLocked(id)
				}
			}
			a.mu.Unlock()
			if wasReady {
				a.fireLostPeer(peer)
			}
		}
	}
}

// ---- transport & secure event handling -----------------------------------

func (a *Agent) handleTransportEvent(ev TransportEvent) {
	switch ev.Kind {
	case RemoteAddressListening:
		p, ok := a.source.GetPeerForEndpoint(ev.Endpoint)
		if !ok || !a.shouldConnectToPeer(p) {
			return
		}
		a.connectToPeer(p)

	case ConnectionStatusChange:
		a.handleConnectionStatusChange(ev)

	case MessageReceived:
		a.handleUnsecuredMessage(ev)
	}
}

func (a *Agent) handleConnectionStatusChange(ev TransportEvent) {
	info, ok := a.net.GetConnectionInfo(ev.ConnID)
	if !ok {
		return
	}
	if !ev.Open {
		a.mu.Lock()
		c, tracked := a.connections[ev.ConnID]
		var wasReady bool
		var peer PeerInfo
		if tracked {
			wasReady = c.state == Ready
			peer = c.peer
			a.removeConnectionLocked(ev.ConnID)
		}
		a.mu.Unlock()
		if wasReady {
			a.fireLostPeer(peer)
		}
		return
	}

	a.mu.Lock()
	c, tracked := a.connections[ev.ConnID]
	if !tracked {
		// Remote-initiated: accept iff policy allows.
		p, ok := a.source.GetPeerForEndpoint(info.RemoteEndpoint)
		if !ok {
			a.mu.Unlock()
			return
		}
		if !a.instancePinOKLocked(info) || !a.shouldAcceptPeerConnectionLocked(p, 1) {
			a.mu.Unlock()
			a.net.ReleaseConnection(ev.ConnID, AgentID(a.peerGroupID))
			return
		}
		c = &connection{id: ev.ConnID, peer: p, state: ReceivingConnection, timestamp: time.Now(), initiatedBy: false}
		a.connections[ev.ConnID] = c
		a.connsByEndpoint[p.Endpoint] = append(a.connsByEndpoint[p.Endpoint], ev.ConnID)
		a.stats.ConnectionAccepts++
		if info.RemoteInstanceID != "" {
			a.instanceIDByEndpoint[p.Endpoint] = info.RemoteInstanceID
		}
		c.state = WaitingForOffer
		a.mu.Unlock()
		a.net.AcceptConnection(ev.ConnID, AgentID(a.peerGroupID))
		return
	}

	// We initiated; transport is now up.
	c.state = OfferSent
	a.mu.Unlock()
	a.net.SendMessage(ev.ConnID, AgentID(a.peerGroupID), encodePeeringOffer(a.peerGroupID, string(a.self.IdentityHash)))
}

func (a *Agent) instancePinOKLocked(info ConnectionInfo) bool {
	if info.RemoteInstanceID == "" {
		return true // spec §9: absence matches anything
	}
	pinned, ok := a.instanceIDByEndpoint[info.RemoteEndpoint]
	return !ok || pinned == info.RemoteInstanceID
}

func (a *Agent) shouldAcceptPeerConnectionLocked(p PeerInfo, newSlot int) bool {
	if p.Endpoint == a.self.Endpoint {
		return false
	}
	if len(a.connsByEndpoint)+newSlot > a.cfg.MaxPeers {
		return false
	}
	for _, id := range a.connsByEndpoint[p.Endpoint] {
		if c, ok := a.connections[id]; ok && c.state == Ready {
			return false
		}
	}
	return true
}

func (a *Agent) handleUnsecuredMessage(ev TransportEvent) {
	typ, ok := wireType(ev.Message)
	if !ok {
		return
	}
	switch typ {
	case "peering-offer":
		a.handlePeeringOffer(ev.ConnID, ev.Message)
	case "peering-offer-reply":
		a.handlePeeringOfferReply(ev.ConnID, ev.Message)
	}
}

// validateOffer implements the acceptance rule of spec §4.7 "Offer
// validation".
func (a *Agent) validateOffer(connID string, peerGroupID, remoteIdentityHash string) bool {
	if peerGroupID != a.peerGroupID {
		return false
	}
	a.mu.Lock()
	c, ok := a.connections[connID]
	a.mu.Unlock()
	if !ok {
		return false
	}
	if c.state != WaitingForOffer && c.state != OfferSent {
		return false
	}
	if string(c.peer.IdentityHash) != remoteIdentityHash {
		return false
	}
	info, ok := a.net.GetConnectionInfo(connID)
	if ok {
		a.mu.Lock()
		pinOK := a.instancePinOKLocked(info)
		a.mu.Unlock()
		if !pinOK {
			return false
		}
	}
	return true
}

func (a *Agent) handlePeeringOffer(connID string, raw []byte) {
	var m peeringOfferMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	ok := a.validateOffer(connID, m.Content.PeerGroupID, m.Content.LocalIdentityHash)
	a.net.SendMessage(connID, AgentID(a.peerGroupID), encodePeeringOfferReply(a.peerGroupID, string(a.self.IdentityHash), ok))
	if !ok {
		a.net.ReleaseConnection(connID, AgentID(a.peerGroupID))
		return
	}
	a.transitionToOfferAccepted(connID)
}

func (a *Agent) handlePeeringOfferReply(connID string, raw []byte) {
	var m peeringOfferReplyMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	if !m.Content.Accepted || !a.validateOffer(connID, m.Content.PeerGroupID, m.Content.LocalIdentityHash) {
		a.net.ReleaseConnection(connID, AgentID(a.peerGroupID))
		return
	}
	a.transitionToOfferAccepted(connID)
}

func (a *Agent) transitionToOfferAccepted(connID string) {
	a.mu.Lock()
	c, ok := a.connections[connID]
	if !ok {
		a.mu.Unlock()
		return
	}
	c.state = OfferAccepted
	peer := c.peer
	a.mu.Unlock()

	if c.initiatedBy {
		if err := a.secure.SecureForSending(connID, peer.IdentityHash, peer.Identity); err != nil {
			a.log.WithError(err).Debug("secureForSending failed")
		}
	} else {
		if err := a.secure.SecureForReceiving(connID, a.self.Identity); err != nil {
			a.log.WithError(err).Debug("secureForReceiving failed")
		}
	}
}

func (a *Agent) handleSecureEvent(ev SecureEvent) {
	switch ev.Kind {
	case ConnectionIdentityAuth:
		a.handleIdentityAuth(ev)
	case SecureMessageReceived:
		a.handleSecureMessage(ev)
	}
}

func (a *Agent) handleIdentityAuth(ev SecureEvent) {
	a.mu.Lock()
	c, ok := a.connections[ev.ConnID]
	if !ok || c.state != OfferAccepted {
		a.mu.Unlock()
		return
	}
	if string(c.peer.IdentityHash) != string(ev.RemoteIdentityHash) {
		a.mu.Unlock()
		return
	}
	c.state = Ready
	peer := c.peer
	a.mu.Unlock()

	a.fireNewPeer(peer)
}

func (a *Agent) handleSecureMessage(ev SecureEvent) {
	typ, ok := wireType(ev.Payload)
	if !ok {
		return
	}
	switch typ {
	case "choose-connection":
		var m controlMsg
		if err := json.Unmarshal(ev.Payload, &m); err != nil || m.PeerGroupID != a.peerGroupID {
			return
		}
		a.mu.Lock()
		c, ok := a.connections[ev.ConnID]
		var endpoint string
		if ok {
			endpoint = c.peer.Endpoint
		}
		a.mu.Unlock()
		if !ok {
			return
		}
		winner := a.resolveTieBreak(endpoint, ev.ConnID)
		a.applyChosenConnection(endpoint, winner)
		a.net.SendMessage(winner, AgentID(a.peerGroupID), encodeControl("confirm-chosen-connection", a.peerGroupID))

	case "confirm-chosen-connection":
		var m controlMsg
		if err := json.Unmarshal(ev.Payload, &m); err != nil || m.PeerGroupID != a.peerGroupID {
			return
		}
		a.mu.Lock()
		c, ok := a.connections[ev.ConnID]
		var endpoint string
		if ok {
			endpoint = c.peer.Endpoint
		}
		a.mu.Unlock()
		if ok {
			a.applyChosenConnection(endpoint, ev.ConnID)
		}

	case "peer-message":
		var m peerMessageMsg
		if err := json.Unmarshal(ev.Payload, &m); err != nil || m.PeerGroupID != a.peerGroupID {
			return
		}
		a.deliverApplicationMessage(m.AgentID, ev.SenderID, m.Content)
	}
}

// resolveTieBreak returns the lexicographically smaller of the
// receiver's own already-chosen connection for endpoint and the
// proposed one, or the proposed one when the receiver has made no
// choice yet (spec §4.7 step 3).
func (a *Agent) resolveTieBreak(endpoint, proposed string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if chosen, ok := a.chosenForDedup[endpoint]; ok {
		if chosen < proposed {
			return chosen
		}
		return proposed
	}
	return proposed
}

func (a *Agent) deliverApplicationMessage(agentID, senderID string, content json.RawMessage) {
	a.cbMu.Lock()
	handlers := a.appHandlers[agentID]
	a.cbMu.Unlock()
	for _, h := range handlers {
		h(senderID, content)
	}
}

func (a *Agent) fireNewPeer(p PeerInfo) {
	a.mu.Lock()
	a.stats.NewPeers++
	a.mu.Unlock()
	a.cbMu.Lock()
	cbs := append([]func(PeerInfo){}, a.newPeerCbs...)
	a.cbMu.Unlock()
	for _, cb := range cbs {
		cb(p)
	}
}

func (a *Agent) fireLostPeer(p PeerInfo) {
	a.mu.Lock()
	a.stats.LostPeers++
	a.mu.Unlock()
	a.cbMu.Lock()
	cbs := append([]func(PeerInfo){}, a.lostPeerCbs...)
	a.cbMu.Unlock()
	for _, cb := range cbs {
		cb(p)
	}
}
