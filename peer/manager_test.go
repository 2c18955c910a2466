package peer

import (
	"net"
	"testing"

	"github.com/kuutamolabs/kld/config"
	"github.com/kuutamolabs/kld/ln"
)

type fakeHandler struct {
	connected []ln.NodeId
}

func (f *fakeHandler) HandleInbound(conn net.Conn) error                { return nil }
func (f *fakeHandler) HandleOutbound(conn net.Conn, remote ln.NodeId) error { return nil }
func (f *fakeHandler) ConnectedPeers() []ln.NodeId                       { return f.connected }
func (f *fakeHandler) Disconnect(remote ln.NodeId)                       {}
func (f *fakeHandler) BroadcastNodeAnnouncement(rgb [3]byte, alias [32]byte, addrs []ln.SocketAddress) error {
	return nil
}

func TestAnnounceTickSkipsWithNoPublicChannels(t *testing.T) {
	h := &fakeHandler{}
	m := NewManager(h, nil, &config.Settings{NodeAlias: "node"}, func() int { return 0 })
	// Must not panic reaching into m.db (nil) — it returns before touching it.
	m.announceTick()
}

func TestConnectedSetKeysOffNodeId(t *testing.T) {
	var remote ln.NodeId
	remote[0] = 0xAB
	h := &fakeHandler{connected: []ln.NodeId{remote}}
	_ = h
	// ListPeers needs a real db.FetchPeers and is not called here. This
	// only confirms that the connected-set lookup ListPeers builds keys
	// correctly off ln.NodeId.
	connectedSet := make(map[ln.NodeId]struct{})
	for _, id := range h.ConnectedPeers() {
		connectedSet[id] = struct{}{}
	}
	if _, ok := connectedSet[remote]; !ok {
		t.Fatal("expected remote to be present in the connected set")
	}
}
