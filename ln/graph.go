package ln

import (
	"encoding/json"
	"fmt"
	"sync"
)

// NodeInfo is the gossip-derived metadata the controller uses for
// best-effort peer aliasing and address fallback.
type NodeInfo struct {
	Alias     string
	Addresses []SocketAddress
}

// NetworkGraph is the gossiped topology, persisted to a file rather than
// the SQL backend (spec §4.5 — "because the graph can grow large").
type NetworkGraph struct {
	mu       sync.RWMutex
	nodes    map[NodeId]NodeInfo
	channels map[ShortChannelId]struct{ A, B NodeId }
}

func NewNetworkGraph() *NetworkGraph {
	return &NetworkGraph{
		nodes:    make(map[NodeId]NodeInfo),
		channels: make(map[ShortChannelId]struct{ A, B NodeId }),
	}
}

func (g *NetworkGraph) NumNodes() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *NetworkGraph) NumChannels() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.channels)
}

func (g *NetworkGraph) UpsertNode(id NodeId, info NodeInfo) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[id] = info
}

func (g *NetworkGraph) Addresses(id NodeId) []SocketAddress {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id].Addresses
}

func (g *NetworkGraph) Alias(id NodeId) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id].Alias
}

// RandomNode picks a uniformly random known node, used by the probing
// loop when no explicit targets are configured.
func (g *NetworkGraph) RandomNode(intn func(int) int) (NodeId, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.nodes) == 0 {
		return NodeId{}, false
	}
	ids := make([]NodeId, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	return ids[intn(len(ids))], true
}

// NodeSnapshot is a single network_nodes row.
type NodeSnapshot struct {
	NodeId NodeId
	NodeInfo
}

// Nodes returns every known node, used by the network_nodes read-only
// query (kld/src/cli/commands.rs's network-nodes).
func (g *NetworkGraph) Nodes() []NodeSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]NodeSnapshot, 0, len(g.nodes))
	for id, info := range g.nodes {
		out = append(out, NodeSnapshot{NodeId: id, NodeInfo: info})
	}
	return out
}

// ChannelSnapshot is a single network_channels row.
type ChannelSnapshot struct {
	ShortChannelId ShortChannelId
	NodeA, NodeB   NodeId
}

// Channels returns every known gossiped channel, used by the
// network_channels read-only query (kld/src/cli/commands.rs's
// network-channels).
func (g *NetworkGraph) Channels() []ChannelSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]ChannelSnapshot, 0, len(g.channels))
	for scid, ch := range g.channels {
		out = append(out, ChannelSnapshot{ShortChannelId: scid, NodeA: ch.A, NodeB: ch.B})
	}
	return out
}

// ApplyNetworkUpdate receives a failed-payment-path NetworkUpdate and
// leaves the graph unchanged: NetworkGraph keeps no per-channel disabled
// state, so FindRoute still offers the reported channel.
func (g *NetworkGraph) ApplyNetworkUpdate(u NetworkUpdate) {
	// The reference graph tracks liveness purely through the scorer;
	// NetworkUpdate application here is a no-op placeholder for the
	// delegated gossip library's channel_failed_permanent/disable call.
	_ = u
}

// Path is an ordered sequence of hops identified by short channel id,
// the unit the scorer and probing loop reason about.
type Path []ShortChannelId

func (p Path) String() string {
	return fmt.Sprint([]ShortChannelId(p))
}

// Router resolves a destination node to a payment path. The reference
// implementation is a single-hop/no-op stand-in: BOLT-defined pathfinding
// itself is delegated (non-goal, spec §1); this interface is what the
// probing loop and SendPayment are built against.
type Router interface {
	FindRoute(payee NodeId, amountMsat uint64, avoid map[ShortChannelId]bool) (Path, error)
}

// Scorer is the probabilistic liquidity/reliability estimator consulted
// by the router and updated by the probing loop.
type Scorer interface {
	ProbeSuccessful(path Path)
	ProbeFailed(path Path, failingScid ShortChannelId)
}

// graphRouter is the reference Router: BOLT-defined pathfinding itself
// is delegated (non-goal, spec §1), so this only ever returns a direct
// single-hop path when the graph has recorded a channel straight to the
// payee, just enough to drive the probing loop and SendPayment's control
// flow end to end.
type graphRouter struct {
	graph *NetworkGraph
}

// NewGraphRouter builds the single-hop/no-op stand-in Router described
// on the Router interface above.
func NewGraphRouter(graph *NetworkGraph) Router {
	return &graphRouter{graph: graph}
}

func (r *graphRouter) FindRoute(payee NodeId, amountMsat uint64, avoid map[ShortChannelId]bool) (Path, error) {
	r.graph.mu.RLock()
	defer r.graph.mu.RUnlock()
	for scid, ch := range r.graph.channels {
		if avoid[scid] {
			continue
		}
		if ch.A == payee || ch.B == payee {
			return Path{scid}, nil
		}
	}
	return nil, fmt.Errorf("no direct channel to %s", payee)
}

// InMemoryScorer is a minimal scorer sufficient to exercise the probing
// loop's feedback calls; it tracks a simple success/failure tally per
// short channel id rather than rust-lightning's full liquidity-bound
// probability model (delegated, non-goal).
type InMemoryScorer struct {
	mu       sync.RWMutex
	success  map[ShortChannelId]int
	failure  map[ShortChannelId]int
}

func NewInMemoryScorer() *InMemoryScorer {
	return &InMemoryScorer{
		success: make(map[ShortChannelId]int),
		failure: make(map[ShortChannelId]int),
	}
}

func (s *InMemoryScorer) ProbeSuccessful(path Path) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, scid := range path {
		s.success[scid]++
	}
}

func (s *InMemoryScorer) ProbeFailed(path Path, failingScid ShortChannelId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure[failingScid]++
}

func (s *InMemoryScorer) Snapshot() (success, failure map[ShortChannelId]int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	success = make(map[ShortChannelId]int, len(s.success))
	failure = make(map[ShortChannelId]int, len(s.failure))
	for k, v := range s.success {
		success[k] = v
	}
	for k, v := range s.failure {
		failure[k] = v
	}
	return
}

// scorerWireFormat is InMemoryScorer's persisted representation, the
// closest Go-native equivalent to rust-lightning's ProbabilisticScorer
// blob that database.PersistScorer/FetchScorer store opaquely.
type scorerWireFormat struct {
	Success map[ShortChannelId]int `json:"success"`
	Failure map[ShortChannelId]int `json:"failure"`
}

// Marshal encodes the scorer for database.PersistScorer.
func (s *InMemoryScorer) Marshal() ([]byte, error) {
	success, failure := s.Snapshot()
	return json.Marshal(scorerWireFormat{Success: success, Failure: failure})
}

// LoadInMemoryScorer decodes a blob previously produced by Marshal, used
// to warm-start the scorer from database.FetchScorer at startup.
func LoadInMemoryScorer(blob []byte) (*InMemoryScorer, error) {
	var wire scorerWireFormat
	if err := json.Unmarshal(blob, &wire); err != nil {
		return nil, fmt.Errorf("decoding persisted scorer: %w", err)
	}
	s := NewInMemoryScorer()
	for k, v := range wire.Success {
		s.success[k] = v
	}
	for k, v := range wire.Failure {
		s.failure[k] = v
	}
	return s, nil
}
