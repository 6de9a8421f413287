// Package webrtc exposes an unordered, unreliable pion DataChannel as a
// datagram transport.Transport, so the session protocol can run peer to
// peer through NATs exactly as it runs over a UDP socket.
package webrtc

import (
	"github.com/pion/webrtc/v4"
)

// STUN servers for ICE candidate gathering. No TURN: the link is meant for
// direct P2P connectivity.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection configured with Google STUN
// servers whose internal logs go through the util logger.
func newPeerConnection() (*webrtc.PeerConnection, error) {
	var se webrtc.SettingEngine
	se.LoggerFactory = loggerFactory{}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stunServers},
		},
	}
	return api.NewPeerConnection(config)
}

// newDataChannel 建立預先協商（ID 0）的 DataChannel，雙方各自建立即可，
// 不需要 OnDataChannel。
// Ordered=false 與 MaxRetransmits=0 讓 SCTP 不重送也不排序，
// 行為等同 UDP；可靠性完全由上層 session 協定負責。
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	negotiated := true
	retransmits := uint16(0)
	id := uint16(0)

	return pc.CreateDataChannel("udpsess", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	})
}
