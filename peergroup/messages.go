package peergroup

import "encoding/json"

// Wire message shapes (spec §6 "Wire messages"). The unsecured
// negotiation pair travels over NetworkAgent.SendMessage; the secured
// control/application messages travel over SecureNetworkAgent.SendSecurely.

type peeringOfferMsg struct {
	Type    string `json:"type"`
	Content struct {
		PeerGroupID       string `json:"peerGroupId"`
		LocalIdentityHash string `json:"localIdentityHash"`
	} `json:"content"`
}

type peeringOfferReplyMsg struct {
	Type    string `json:"type"`
	Content struct {
		PeerGroupID       string `json:"peerGroupId"`
		LocalIdentityHash string `json:"localIdentityHash"`
		Accepted          bool   `json:"accepted"`
	} `json:"content"`
}

type controlMsg struct {
	Type        string `json:"type"`
	PeerGroupID string `json:"peerGroupId"`
}

type peerMessageMsg struct {
	Type        string          `json:"type"`
	PeerGroupID string          `json:"peerGroupId"`
	AgentID     string          `json:"agentId"`
	Content     json.RawMessage `json:"content"`
}

func encodePeeringOffer(peerGroupID, localIdentityHash string) []byte {
	m := peeringOfferMsg{Type: "peering-offer"}
	m.Content.PeerGroupID = peerGroupID
	m.Content.LocalIdentityHash = localIdentityHash
	b, _ := json.Marshal(m)
	return b
}

func encodePeeringOfferReply(peerGroupID, localIdentityHash string, accepted bool) []byte {
	m := peeringOfferReplyMsg{Type: "peering-offer-reply"}
	m.Content.PeerGroupID = peerGroupID
	m.Content.LocalIdentityHash = localIdentityHash
	m.Content.Accepted = accepted
	b, _ := json.Marshal(m)
	return b
}

func encodeControl(msgType, peerGroupID string) []byte {
	b, _ := json.Marshal(controlMsg{Type: msgType, PeerGroupID: peerGroupID})
	return b
}

func encodePeerMessage(peerGroupID, agentID string, content []byte) []byte {
	b, _ := json.Marshal(peerMessageMsg{Type: "peer-message", PeerGroupID: peerGroupID, AgentID: agentID, Content: content})
	return b
}

// wireType peeks at a raw message's "type" field without fully
// unmarshaling its content, since the three negotiation message shapes
// differ in their Content schema.
func wireType(raw []byte) (string, bool) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", false
	}
	return probe.Type, probe.Type != ""
}
