// Package chain implements the two-phase chain-sync component from
// spec §4.2: a one-shot bootstrap that brings persisted channel
// monitors and the channel manager up to the current tip, and a
// steady-state poll loop that keeps them current. Grounded on
// chainregistry.go's chain-view construction, restructured around a
// bitcoind.BlockSource rather than the neutrino/btcd backends the
// teacher can also build.
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/kuutamolabs/kld/bitcoind"
	"github.com/kuutamolabs/kld/database"
	"github.com/kuutamolabs/kld/klog"
	"github.com/kuutamolabs/kld/ln"
)

var log = klog.NewLogger("CHAN")

const pollInterval = 1 * time.Second

// fundingConfirmDepth is the confirmation count a funding transaction
// must reach before its channel is marked ready. Real LDK negotiates a
// per-channel minimum_depth with the counterparty during open; this
// port's ChannelDetail carries no such field, so a single fixed depth
// stands in for it.
const fundingConfirmDepth = 6

// Tip is the chain monitor's and channel manager's shared view of the
// best block; both must observe the same tip between poll ticks (spec
// §5's "the pair must see the same best tip between ticks").
type Tip struct {
	Hash   chainhash.Hash
	Height int64
}

// Syncer drives bootstrap and steady-state synchronization for a single
// (ChainMonitor, ChannelManager) pair. The reference engine backs both
// interfaces with one *ln.Engine, so in practice monitor == manager, but
// the two are kept as separate fields to mirror the delegation boundary
// spec §0 describes.
type Syncer struct {
	source  bitcoind.BlockSource
	db      *database.DurableConnection
	monitor ln.ChainMonitor
	manager ln.ChannelManager

	tick   ticker.Ticker
	quit   chan struct{}
	done   chan struct{}

	tipMu sync.Mutex
	tip   Tip

	// pendingConfirmedAt tracks the height a not-yet-ready channel's
	// funding transaction was first seen confirmed; only touched from
	// the poll loop/Bootstrap goroutine, so it needs no lock of its own.
	pendingConfirmedAt map[ln.FundingOutPoint]int64
}

func NewSyncer(source bitcoind.BlockSource, db *database.DurableConnection, monitor ln.ChainMonitor, manager ln.ChannelManager) *Syncer {
	return &Syncer{
		source:             source,
		db:                 db,
		monitor:            monitor,
		manager:            manager,
		tick:               ticker.New(pollInterval),
		quit:               make(chan struct{}),
		done:               make(chan struct{}),
		pendingConfirmedAt: make(map[ln.FundingOutPoint]int64),
	}
}

// Bootstrap runs spec §4.2's five-step bootstrap once. It returns an
// error only for conditions the caller must treat as fatal (step 1/2/4
// failures); a monitor that fails watch_channel individually is logged
// and skipped, never escalated (step 5).
func (s *Syncer) Bootstrap(ctx context.Context) error {
	monitors, err := database.NewMonitorStore(s.db, s.monitor).FetchChannelMonitors(ctx)
	if err != nil {
		return fmt.Errorf("fetching persisted channel monitors: %w", err)
	}
	log.Infof("loaded %d persisted channel monitor(s)", len(monitors))

	firstStart, err := s.db.IsFirstStart(ctx)
	if err != nil {
		return fmt.Errorf("checking first-start state: %w", err)
	}
	if firstStart {
		log.Infof("no persisted channel manager found; starting fresh")
	} else {
		if _, ok, err := s.db.FetchManager(ctx); err != nil {
			return fmt.Errorf("fetching persisted channel manager: %w", err)
		} else if !ok {
			return fmt.Errorf("first-start check disagreed with fetch_manager")
		}
		// Deserializing the manager bytes back into a live engine is the
		// delegation boundary's job (see ln.ChannelManager); this port's
		// reference engine starts empty and replays state purely through
		// the event/database layers, so there is nothing further to do
		// here beyond confirming the row exists.
	}

	hash, height, err := s.source.BestBlock()
	if err != nil {
		return fmt.Errorf("fetching best block to synchronize listeners to: %w", err)
	}
	s.setTip(Tip{Hash: hash, Height: height})
	log.Infof("synchronized listeners to tip %s at height %d", hash, height)

	for _, m := range monitors {
		if err := s.monitor.WatchChannel(m.Outpoint, m.Monitor, m.UpdateID); err != nil {
			log.Errorf("watch_channel failed for %s, skipping: %v", m.Outpoint, err)
			continue
		}
	}
	return nil
}

// Start launches the steady-state 1-second poll loop (spec §4.2's
// second phase). It never returns an error itself: poll failures are
// logged and retried on the next tick, per spec.
func (s *Syncer) Start() {
	s.tick.Resume()
	go s.pollLoop()
}

func (s *Syncer) Stop() {
	close(s.quit)
	s.tick.Stop()
	<-s.done
}

func (s *Syncer) pollLoop() {
	defer close(s.done)
	for {
		select {
		case <-s.tick.Ticks():
			if err := s.pollBestTip(); err != nil {
				log.Errorf("poll_best_tip: %v", err)
			}
		case <-s.quit:
			return
		}
	}
}

// pollBestTip is spec §4.2's poll_best_tip: fetch the current tip and,
// if it moved, walk the connected or disconnected heights under this
// single tick. Connected blocks only feed the funding-confirmation
// tracking that drives MarkChannelReady; disconnected blocks are only
// logged. No block is handed to the ChainMonitor or the ChannelManager,
// and a reorg does not roll back recorded funding confirmations.
func (s *Syncer) pollBestTip() error {
	hash, height, err := s.source.BestBlock()
	if err != nil {
		return fmt.Errorf("fetching best block: %w", err)
	}
	current := s.Tip()
	if hash == current.Hash {
		return nil
	}

	switch {
	case height > current.Height:
		if err := s.connectBlocks(current.Height+1, height); err != nil {
			return err
		}
	case height < current.Height:
		if err := s.disconnectBlocks(current.Height, height+1); err != nil {
			return err
		}
	default:
		// Same height, different hash: a same-height reorg. Treat as one
		// disconnect/reconnect of the tip block.
		if err := s.disconnectBlocks(current.Height, current.Height); err != nil {
			return err
		}
		if err := s.connectBlocks(height, height); err != nil {
			return err
		}
	}

	s.setTip(Tip{Hash: hash, Height: height})
	return nil
}

// Tip returns the syncer's current view of the best block, safe to call
// concurrently with the poll loop (used by controller.GetInfo).
func (s *Syncer) Tip() Tip {
	s.tipMu.Lock()
	defer s.tipMu.Unlock()
	return s.tip
}

func (s *Syncer) setTip(tip Tip) {
	s.tipMu.Lock()
	s.tip = tip
	s.tipMu.Unlock()
}

// connectBlocks fetches and decodes each block from-to inclusive, in
// ascending order, records funding confirmations for not-yet-ready
// channels and marks matured ones ready. The block itself is not passed
// to the monitor or the manager.
func (s *Syncer) connectBlocks(from, to int64) error {
	for h := from; h <= to; h++ {
		hash, err := s.source.BlockHash(h)
		if err != nil {
			return fmt.Errorf("fetching block hash at height %d: %w", h, err)
		}
		raw, err := s.source.RawBlock(hash)
		if err != nil {
			return fmt.Errorf("fetching block %s: %w", hash, err)
		}
		block, err := bitcoind.DecodeBlock(raw)
		if err != nil {
			return fmt.Errorf("decoding block %s: %w", hash, err)
		}
		s.recordFundingConfirmations(block, h)
		s.markMaturedChannelsReady(h)
		log.Debugf("connected block %s at height %d", hash, h)
	}
	return nil
}

// recordFundingConfirmations notes the height at which each not-yet-ready
// channel's funding transaction first appears in a connected block. A nil
// manager means this Syncer is a bare test fixture with no live channels
// to track.
func (s *Syncer) recordFundingConfirmations(block *wire.MsgBlock, height int64) {
	if s.manager == nil {
		return
	}
	for _, entry := range s.manager.ListChannels() {
		if entry.Detail.IsChannelReady || entry.Detail.FundingTxo == nil {
			continue
		}
		outpoint := *entry.Detail.FundingTxo
		if _, seen := s.pendingConfirmedAt[outpoint]; seen {
			continue
		}
		for _, tx := range block.Transactions {
			if tx.TxHash() == outpoint.Txid {
				s.pendingConfirmedAt[outpoint] = height
				break
			}
		}
	}
}

// markMaturedChannelsReady calls ChannelManager.MarkChannelReady for every
// funding transaction that has now reached fundingConfirmDepth
// confirmations, per spec §4.2's channel-ready transition.
func (s *Syncer) markMaturedChannelsReady(tipHeight int64) {
	if s.manager == nil {
		return
	}
	for outpoint, confirmedAt := range s.pendingConfirmedAt {
		if tipHeight-confirmedAt+1 < fundingConfirmDepth {
			continue
		}
		s.manager.MarkChannelReady(ln.ChannelIdFromOutPoint(outpoint))
		delete(s.pendingConfirmedAt, outpoint)
	}
}

func (s *Syncer) disconnectBlocks(from, to int64) error {
	for h := from; h >= to; h-- {
		log.Debugf("disconnected block at height %d", h)
	}
	return nil
}
