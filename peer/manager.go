// Package peer implements the peer-connection manager from spec §4.3:
// an inbound TCP acceptor, a 1-second keep-connected loop, and a 60-second
// node-announcement broadcast, all handing connections to the BOLT
// transport through ln.PeerHandler. Grounded on server.go's
// newPeers/donePeers channel pattern and listener loop, generalized from
// the teacher's single in-process peer map to drive an ln.PeerHandler
// instead of constructing *peer values directly.
package peer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightningnetwork/lnd/tor"

	"github.com/kuutamolabs/kld/config"
	"github.com/kuutamolabs/kld/database"
	"github.com/kuutamolabs/kld/klog"
	"github.com/kuutamolabs/kld/ln"
)

var log = klog.NewLogger("PEER")

const (
	keepConnectedInterval = 1 * time.Second
	announceInterval      = 60 * time.Second
)

// Manager owns the three concurrent tasks spec §4.3 describes. It
// doesn't itself track connection state — that's ln.PeerHandler's job
// (the BOLT-transport delegation boundary) — it only decides *when* to
// dial, accept, and announce.
type Manager struct {
	handler   ln.PeerHandler
	db        *database.DurableConnection
	cfg       *config.Settings
	publicChannels func() int

	listener net.Listener
	torCtrl  *tor.Controller
	onionAddrs []string

	keepConnected ticker.Ticker
	announce      ticker.Ticker
	quit          chan struct{}
	wg            sync.WaitGroup
}

// NewManager builds a Manager. publicChannels is polled by the
// announcement task to decide whether to broadcast at all (spec §4.3:
// "while there is at least one public channel").
func NewManager(handler ln.PeerHandler, db *database.DurableConnection, cfg *config.Settings, publicChannels func() int) *Manager {
	return &Manager{
		handler:        handler,
		db:             db,
		cfg:            cfg,
		publicChannels: publicChannels,
		keepConnected:  ticker.New(keepConnectedInterval),
		announce:       ticker.New(announceInterval),
		quit:           make(chan struct{}),
	}
}

// Start binds the inbound listener and launches all three background
// tasks. It returns once the listener is bound; the tasks themselves run
// until Stop.
func (m *Manager) Start() error {
	addr := fmt.Sprintf("0.0.0.0:%d", m.cfg.PeerPort)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding peer listener on %s: %w", addr, err)
	}
	m.listener = l
	log.Infof("peer listener bound on %s", addr)
	go mapPort(m.cfg.PeerPort)

	m.torCtrl, m.onionAddrs = startTor(TorConfig{
		ControlAddr: m.cfg.Tor.ControlAddr,
		V2KeyPath:   m.cfg.Tor.V2KeyPath,
	}, m.cfg.PeerPort)

	m.wg.Add(3)
	go m.acceptLoop()
	go m.keepConnectedLoop()
	go m.announceLoop()

	m.keepConnected.Resume()
	m.announce.Resume()
	return nil
}

// Stop closes the listener and stops both background tickers, then
// disconnects every active peer. spec §4.1's shutdown ordering requires
// this to run *before* the background processor halts.
func (m *Manager) Stop() {
	close(m.quit)
	if m.listener != nil {
		m.listener.Close()
	}
	m.keepConnected.Stop()
	m.announce.Stop()
	m.wg.Wait()

	if m.torCtrl != nil {
		m.torCtrl.Stop()
	}

	for _, id := range m.handler.ConnectedPeers() {
		m.handler.Disconnect(id)
	}
}

// acceptLoop hands every accepted connection to the BOLT transport,
// grounded on server.go's listener() loop.
func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.quit:
				return
			default:
			}
			log.Errorf("accept failed: %v", err)
			continue
		}
		go func() {
			if err := m.handler.HandleInbound(conn); err != nil {
				log.Errorf("inbound connection from %s failed: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// keepConnectedLoop implements spec §4.3's keep-connected task: every
// tick, dial every persisted peer (database.FetchPeers) that isn't
// currently connected, using its persisted address hint. Peers are not
// filtered by whether a channel with them exists, and a channel
// counterparty with no persisted hint is not dialed.
func (m *Manager) keepConnectedLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.keepConnected.Ticks():
			m.keepConnectedTick()
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) keepConnectedTick() {
	ctx := context.Background()
	peers, err := m.db.FetchPeers(ctx)
	if err != nil {
		log.Errorf("keep-connected: fetching persisted peers: %v", err)
		return
	}

	connected := make(map[ln.NodeId]struct{})
	for _, id := range m.handler.ConnectedPeers() {
		connected[id] = struct{}{}
	}

	for _, p := range peers {
		if _, ok := connected[p.PublicKey]; ok {
			continue
		}
		go m.dial(p.PublicKey, p.Address)
	}
}

func (m *Manager) dial(remote ln.NodeId, addr ln.SocketAddress) {
	conn, err := net.DialTimeout("tcp", addr.String(), 10*time.Second)
	if err != nil {
		log.Warnf("keep-connected: dialing %s at %s: %v", remote, addr, err)
		return
	}
	if err := m.handler.HandleOutbound(conn, remote); err != nil {
		log.Warnf("keep-connected: handshake with %s failed: %v", remote, err)
	}
}

// announceLoop implements spec §4.3's node-announcement broadcast.
func (m *Manager) announceLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.announce.Ticks():
			m.announceTick()
		case <-m.quit:
			return
		}
	}
}

// Announce triggers an immediate node-announcement broadcast outside the
// regular 60s cadence, called by the event handler once a channel turns
// ready (spec §4.4's "trigger a node-announcement broadcast").
func (m *Manager) Announce() {
	go m.announceTick()
}

func (m *Manager) announceTick() {
	if m.publicChannels() < 1 {
		return
	}

	var alias [32]byte
	copy(alias[:], m.cfg.NodeAlias) // zero-padded, enforced ≤32 bytes at config load

	var rgb [3]byte
	if len(m.cfg.NodeAliasColor) == 6 {
		fmt.Sscanf(m.cfg.NodeAliasColor, "%02x%02x%02x", &rgb[0], &rgb[1], &rgb[2])
	}

	addrs := make([]ln.SocketAddress, 0, len(m.cfg.Addresses)+len(m.onionAddrs))
	for _, raw := range append(append([]string{}, m.cfg.Addresses...), m.onionAddrs...) {
		addr, err := ln.ParseSocketAddress(raw)
		if err != nil {
			log.Warnf("skipping unparsable advertised address %q: %v", raw, err)
			continue
		}
		addrs = append(addrs, addr)
	}

	if err := m.handler.BroadcastNodeAnnouncement(rgb, alias, addrs); err != nil {
		log.Errorf("broadcasting node announcement: %v", err)
	}
}

// ConnectPeer implements connect_peer: dial addr, then poll at 1-second
// intervals until either remote appears in the connected set or the
// dial/handshake itself fails.
func (m *Manager) ConnectPeer(ctx context.Context, remote ln.NodeId, addr ln.SocketAddress) error {
	result := make(chan error, 1)
	go func() {
		conn, err := net.DialTimeout("tcp", addr.String(), 10*time.Second)
		if err != nil {
			result <- err
			return
		}
		result <- m.handler.HandleOutbound(conn, remote)
	}()

	poll := time.NewTicker(1 * time.Second)
	defer poll.Stop()
	for {
		select {
		case err := <-result:
			return err
		case <-poll.C:
			for _, id := range m.handler.ConnectedPeers() {
				if id == remote {
					return nil
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DisconnectPeer implements disconnect_peer.
func (m *Manager) DisconnectPeer(remote ln.NodeId) {
	m.handler.Disconnect(remote)
}

// IsConnected reports whether remote is in the live connected set, the
// open_channel precondition spec §4.1 requires.
func (m *Manager) IsConnected(remote ln.NodeId) bool {
	for _, id := range m.handler.ConnectedPeers() {
		if id == remote {
			return true
		}
	}
	return false
}

// PeerInfo is a single list_peers row.
type PeerInfo struct {
	NodeId  ln.NodeId
	Address ln.SocketAddress
	Status  ln.PeerStatus
}

// ListPeers reports every persisted peer and its live connection status
// (spec §9's third open question: the zero value of ln.PeerStatus is
// PeerStatusDisconnected, so a peer absent from the connected set needs
// no explicit assignment here).
func (m *Manager) ListPeers(ctx context.Context) ([]PeerInfo, error) {
	persisted, err := m.db.FetchPeers(ctx)
	if err != nil {
		return nil, err
	}
	connected := make(map[ln.NodeId]struct{})
	for _, id := range m.handler.ConnectedPeers() {
		connected[id] = struct{}{}
	}

	out := make([]PeerInfo, 0, len(persisted))
	for _, p := range persisted {
		info := PeerInfo{NodeId: p.PublicKey, Address: p.Address}
		if _, ok := connected[p.PublicKey]; ok {
			info.Status = ln.PeerStatusConnected
		}
		out = append(out, info)
	}
	return out, nil
}
