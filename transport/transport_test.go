package transport

import (
	"net"
	"testing"
	"time"

	"github.com/kuutamolabs/kld/ln"
)

func idOf(b byte) ln.NodeId {
	var id ln.NodeId
	id[0] = b
	return id
}

func TestHandleInboundOutboundRegisterBothSides(t *testing.T) {
	selfA := idOf(0xaa)
	selfB := idOf(0xbb)

	a := NewHandler(selfA, nil)
	b := NewHandler(selfB, nil)

	connA, connB := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- a.HandleOutbound(connA, selfB) }()
	if err := b.HandleInbound(connB); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("HandleOutbound: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	aPeers := a.ConnectedPeers()
	if len(aPeers) != 1 || aPeers[0] != selfB {
		t.Fatalf("expected a connected to %s, got %v", selfB, aPeers)
	}
	bPeers := b.ConnectedPeers()
	if len(bPeers) != 1 || bPeers[0] != selfA {
		t.Fatalf("expected b connected to %s, got %v", selfA, bPeers)
	}
}

func TestHandleOutboundRejectsMismatchedRemote(t *testing.T) {
	selfA := idOf(0x01)
	selfB := idOf(0x02)
	wrong := idOf(0x03)

	a := NewHandler(selfA, nil)
	b := NewHandler(selfB, nil)

	connA, connB := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- a.HandleOutbound(connA, wrong) }()
	_ = b.HandleInbound(connB)

	err := <-done
	if err == nil {
		t.Fatalf("expected mismatched remote id to be rejected")
	}
}

func TestDisconnectClosesConnectionAndClearsState(t *testing.T) {
	selfA := idOf(0x10)
	selfB := idOf(0x20)

	a := NewHandler(selfA, nil)
	b := NewHandler(selfB, nil)

	connA, connB := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- a.HandleOutbound(connA, selfB) }()
	if err := b.HandleInbound(connB); err != nil {
		t.Fatalf("HandleInbound: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("HandleOutbound: %v", err)
	}

	a.Disconnect(selfB)
	if peers := a.ConnectedPeers(); len(peers) != 0 {
		t.Fatalf("expected no connected peers after Disconnect, got %v", peers)
	}
}

func TestBroadcastNodeAnnouncementNilAnnouncerIsNoop(t *testing.T) {
	h := NewHandler(idOf(0x01), nil)
	if err := h.BroadcastNodeAnnouncement([3]byte{}, [32]byte{}, nil); err != nil {
		t.Fatalf("expected nil announcer to be a no-op, got %v", err)
	}
}

func TestBroadcastNodeAnnouncementCallsAnnouncer(t *testing.T) {
	called := false
	h := NewHandler(idOf(0x01), func(rgb [3]byte, alias [32]byte, addrs []ln.SocketAddress) error {
		called = true
		return nil
	})
	if err := h.BroadcastNodeAnnouncement([3]byte{}, [32]byte{}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("expected announcer to be called")
	}
}
