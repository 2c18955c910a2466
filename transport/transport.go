// Package transport is the ln.PeerHandler implementation cmd/kld wires
// into peer.Manager. The actual BOLT noise-encrypted wire codec (lnd's
// brontide) is a non-goal (spec.md §1, "BOLT codec internals"), and
// brontide itself isn't part of the retrieved reference material (it's
// an lnd-internal subpackage, not a standalone fetchable module), so
// this is a bookkeeping-only stand-in: it accepts/dials plain TCP,
// exchanges a bare node-id handshake so each side learns who it's
// talking to, and tracks connected peers. Grounded on server.go's
// connection-lifecycle shape (newPeers/donePeers bookkeeping), minus
// the brontide.Conn wrapping it does around every dial/accept.
package transport

import (
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/kuutamolabs/kld/klog"
	"github.com/kuutamolabs/kld/ln"
)

var log = klog.NewLogger("XPRT")

// Handler is the bookkeeping-only ln.PeerHandler stand-in described on
// the package doc.
type Handler struct {
	self ln.NodeId

	mu        sync.Mutex
	conns     map[ln.NodeId]net.Conn
	announcer func(rgbColor [3]byte, alias [32]byte, addresses []ln.SocketAddress) error
}

// NewHandler builds a Handler identifying itself as self on the wire
// handshake. announce is called whenever a node announcement should be
// relayed to connected peers; passing nil makes BroadcastNodeAnnouncement
// a no-op, useful in tests.
func NewHandler(self ln.NodeId, announce func(rgbColor [3]byte, alias [32]byte, addresses []ln.SocketAddress) error) *Handler {
	return &Handler{
		self:      self,
		conns:     make(map[ln.NodeId]net.Conn),
		announcer: announce,
	}
}

// handshake exchanges each side's 33-byte node id over the raw
// connection, the minimum needed for peer.Manager to know who it's
// talking to without the delegated noise encryption.
func handshake(conn net.Conn, self ln.NodeId) (ln.NodeId, error) {
	// Write concurrently with the read so an unbuffered connection, where
	// a write blocks until the other side reads, cannot deadlock when
	// both sides send first.
	sent := make(chan error, 1)
	go func() {
		_, err := conn.Write(self[:])
		sent <- err
	}()
	var remote ln.NodeId
	if _, err := io.ReadFull(conn, remote[:]); err != nil {
		return ln.NodeId{}, fmt.Errorf("reading handshake: %w", err)
	}
	if err := <-sent; err != nil {
		return ln.NodeId{}, fmt.Errorf("sending handshake: %w", err)
	}
	return remote, nil
}

func (h *Handler) HandleInbound(conn net.Conn) error {
	remote, err := handshake(conn, h.self)
	if err != nil {
		conn.Close()
		return err
	}
	log.Debugf("accepted connection from %s", remote)
	h.register(remote, conn)
	go h.readLoop(remote, conn)
	return nil
}

func (h *Handler) HandleOutbound(conn net.Conn, remote ln.NodeId) error {
	got, err := handshake(conn, h.self)
	if err != nil {
		conn.Close()
		return err
	}
	if got != remote {
		conn.Close()
		return fmt.Errorf("connected to %s, expected %s", got, remote)
	}
	h.register(remote, conn)
	go h.readLoop(remote, conn)
	return nil
}

func (h *Handler) register(remote ln.NodeId, conn net.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.conns[remote]; ok {
		old.Close()
	}
	h.conns[remote] = conn
}

// readLoop keeps the connection open until it errors, discarding
// whatever bytes arrive — framing and message dispatch are the
// delegated wire-codec's job.
func (h *Handler) readLoop(remote ln.NodeId, conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			h.mu.Lock()
			if h.conns[remote] == conn {
				delete(h.conns, remote)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Handler) ConnectedPeers() []ln.NodeId {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ln.NodeId, 0, len(h.conns))
	for id := range h.conns {
		out = append(out, id)
	}
	return out
}

func (h *Handler) Disconnect(remote ln.NodeId) {
	h.mu.Lock()
	conn, ok := h.conns[remote]
	delete(h.conns, remote)
	h.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// BroadcastNodeAnnouncement hands off to the configured announcer, a
// thin placeholder for the delegated gossip subsystem's relay.
func (h *Handler) BroadcastNodeAnnouncement(rgbColor [3]byte, alias [32]byte, addresses []ln.SocketAddress) error {
	if h.announcer == nil {
		return nil
	}
	return h.announcer(rgbColor, alias, addresses)
}
