// Package probe implements the background probing loop from spec §4.9:
// on a configurable interval, pick a target (round-robin over configured
// pubkeys, or a random graph node), issue a single-path probe through
// the delegated channel manager, and on failure iteratively pop the last
// hop until a shorter probe succeeds or no hops remain, reporting the
// outcome to the scorer. Grounded on bitcoind.FeeEstimator's
// ticker-driven background loop shape and htlcswitch.go's use of a
// routing failure to localize which hop failed.
package probe

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/ticker"

	"github.com/kuutamolabs/kld/config"
	"github.com/kuutamolabs/kld/klog"
	"github.com/kuutamolabs/kld/ln"
)

var log = klog.NewLogger("PROB")

// sender is the subset of ln.ChannelManager probing needs: issuing a
// throwaway payment attempt along a candidate path. Probing never
// settles (no real preimage is ever claimed), so only the dispatch
// surface is required, not the full ChannelManager interface.
type sender interface {
	SendPayment(params ln.SendPaymentParams) ([]ln.PartialPaymentResult, error)
}

// Prober drives the §4.9 loop. A zero interval or amount (the config
// default) disables it entirely, matching "If configured with
// (interval > 0, amount > 0)".
type Prober struct {
	router ln.Router
	scorer ln.Scorer
	graph  *ln.NetworkGraph
	engine sender

	interval   time.Duration
	amountMsat uint64
	targets    []ln.NodeId
	rrIndex    int

	tick ticker.Ticker
	quit chan struct{}
	done chan struct{}
}

// New builds a Prober from the configured interval/amount/targets. The
// returned Prober's Enabled() reports false if the configuration turns
// probing off; Start is then a no-op.
func New(router ln.Router, scorer ln.Scorer, graph *ln.NetworkGraph, engine sender, cfg config.ProbeConfig) (*Prober, error) {
	targets := make([]ln.NodeId, 0, len(cfg.Targets))
	for _, hexKey := range cfg.Targets {
		raw, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("probe target %q: %w", hexKey, err)
		}
		if len(raw) != len(ln.NodeId{}) {
			return nil, fmt.Errorf("probe target %q: want %d bytes, got %d", hexKey, len(ln.NodeId{}), len(raw))
		}
		var id ln.NodeId
		copy(id[:], raw)
		targets = append(targets, id)
	}

	return &Prober{
		router:     router,
		scorer:     scorer,
		graph:      graph,
		engine:     engine,
		interval:   time.Duration(cfg.IntervalSeconds) * time.Second,
		amountMsat: cfg.AmountMsat,
		targets:    targets,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

func (p *Prober) Enabled() bool {
	return p.interval > 0 && p.amountMsat > 0
}

// Start launches the loop; a no-op if probing is disabled.
func (p *Prober) Start() {
	if !p.Enabled() {
		close(p.done)
		return
	}
	p.tick = ticker.New(p.interval)
	p.tick.Resume()
	go p.loop()
}

// Stop signals the loop to exit and waits up to grace for it to finish
// any in-flight probe, the "configurable grace period" spec §4.9/§5 call
// for.
func (p *Prober) Stop(grace time.Duration) {
	close(p.quit)
	select {
	case <-p.done:
	case <-time.After(grace):
		log.Warnf("probe loop did not exit within %s grace period", grace)
	}
}

func (p *Prober) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.tick.Ticks():
			p.tickOnce()
		case <-p.quit:
			p.tick.Stop()
			return
		}
	}
}

func (p *Prober) tickOnce() {
	target, ok := p.nextTarget()
	if !ok {
		return
	}
	p.probe(target, p.amountMsat)
}

// nextTarget round-robins over configured targets; with none configured
// it falls back to a uniformly random graph node.
func (p *Prober) nextTarget() (ln.NodeId, bool) {
	if len(p.targets) > 0 {
		id := p.targets[p.rrIndex%len(p.targets)]
		p.rrIndex++
		return id, true
	}
	return p.graph.RandomNode(klog.Intn)
}

// probe issues a single-path probe to target, iteratively shortening the
// path by popping its last hop on failure until one succeeds or the path
// is exhausted, per spec §4.9.
func (p *Prober) probe(target ln.NodeId, amountMsat uint64) {
	avoid := map[ln.ShortChannelId]bool{}
	path, err := p.router.FindRoute(target, amountMsat, avoid)
	if err != nil {
		log.Debugf("probe: no route to %s: %v", target, err)
		return
	}

	popped := false
	var failing ln.ShortChannelId
	for len(path) > 0 {
		if p.attempt(target, path, amountMsat) {
			p.scorer.ProbeSuccessful(path)
			if popped {
				// The hop popped last is the failing link beyond the
				// longest prefix that worked.
				failedPath := append(append(ln.Path{}, path...), failing)
				p.scorer.ProbeFailed(failedPath, failing)
			}
			return
		}
		failing = path[len(path)-1]
		popped = true
		path = path[:len(path)-1]
		if len(path) == 0 {
			p.scorer.ProbeFailed(ln.Path{failing}, failing)
			return
		}
	}
}

// attempt sends one probe payment along path and reports whether every
// partial result came back OK or MonitorUpdateInProgress, the same
// tolerance spec §4.1 grants real multi-part sends.
func (p *Prober) attempt(target ln.NodeId, path ln.Path, amountMsat uint64) bool {
	results, err := p.engine.SendPayment(ln.SendPaymentParams{
		PaymentId:      probeId(),
		Hash:           probeHash(),
		AmountMsat:     amountMsat,
		Payee:          target,
		FinalCltvDelta: 40,
		RouteHints:     path,
	})
	if err != nil {
		return false
	}
	for _, r := range results {
		if r == ln.PartialOtherFailure {
			return false
		}
	}
	return true
}

func probeId() ln.PaymentId {
	var id ln.PaymentId
	fillRandom(id[:])
	return id
}

func probeHash() ln.PaymentHash {
	var h ln.PaymentHash
	fillRandom(h[:])
	return h
}

func fillRandom(b []byte) {
	for i := 0; i < len(b); i += 8 {
		v := klog.Uint64()
		for j := 0; j < 8 && i+j < len(b); j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
}
