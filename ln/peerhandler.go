package ln

import "net"

// PeerStatus is the connectivity state list_peers reports for a node.
// Its zero value is PeerStatusDisconnected, which peer.Manager.ListPeers
// relies on (spec §9's third open question): it only ever assigns
// PeerStatusConnected. controller.Controller.ListPeers, the other place
// that sets a PeerStatus, assigns both values explicitly, so a refactor
// that drops the implicit-zero convention only needs to revisit
// peer.Manager.ListPeers.
type PeerStatus int

const (
	PeerStatusDisconnected PeerStatus = iota
	PeerStatusConnected
)

func (s PeerStatus) String() string {
	if s == PeerStatusConnected {
		return "Connected"
	}
	return "Disconnected"
}

// PeerHandler is the delegation boundary for the BOLT transport and
// peer-message framing (rust-lightning's PeerManager in the original).
// The wire codec itself is a non-goal (spec §1); this interface is the
// seam the peer-connection-manager component (spec §4.3) is built
// against.
type PeerHandler interface {
	// HandleInbound takes ownership of an accepted TCP connection,
	// performs the transport handshake and runs the connection's
	// read/write loop until it closes.
	HandleInbound(conn net.Conn) error

	// HandleOutbound performs the transport handshake against a peer we
	// dialed, then runs its read/write loop until it closes.
	HandleOutbound(conn net.Conn, remote NodeId) error

	// ConnectedPeers returns the node ids currently believed connected.
	ConnectedPeers() []NodeId

	// Disconnect tears down an active connection, if any.
	Disconnect(remote NodeId)

	// BroadcastNodeAnnouncement hands a freshly built node announcement
	// to the gossip subsystem for relay to connected peers.
	BroadcastNodeAnnouncement(rgbColor [3]byte, alias [32]byte, addresses []SocketAddress) error
}
