// Package event implements the Lightning event dispatch table from spec
// §4.4: a pure function from "engine event" to "side effects plus an
// optional response on the async correlator". Grounded on
// breacharbiter.go's single-goroutine observer loop draining a channel
// of notifications and htlcswitch.go's forward accounting, restructured
// around the dispatch table a single Go switch expresses directly.
package event

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/kuutamolabs/kld/bitcoind"
	"github.com/kuutamolabs/kld/correlator"
	"github.com/kuutamolabs/kld/database"
	"github.com/kuutamolabs/kld/klog"
	"github.com/kuutamolabs/kld/ln"
	"github.com/kuutamolabs/kld/wallet"
)

var log = klog.NewLogger("EVNT")

// Announcer is the single method the event handler needs from the peer
// manager: re-broadcast the node announcement once a channel turns
// public-usable (ChannelReady's "trigger a node-announcement broadcast").
type Announcer interface {
	Announce()
}

// Handler owns every dependency the dispatch table reaches into: the
// delegated engine, the durable store, the wallet, the async-request
// correlator and the gossiped graph. One Handler per process; Dispatch
// is safe to call from a single dedicated goroutine draining
// engine.Events() (this port does not dispatch events concurrently,
// matching the single-writer-for-forward-rows invariant spec §4.4 calls
// out).
type Handler struct {
	engine   ln.ChannelManager
	db       *database.DurableConnection
	wallet   *wallet.Wallet
	corr     *correlator.Correlator
	graph    *ln.NetworkGraph
	chain    *bitcoind.Client
	broad    *bitcoind.Broadcaster
	feeCache *ln.FeeRateCache
	announcer Announcer
	monitors *database.MonitorStore

	subMu sync.Mutex
	subs  map[chan ln.Event]struct{}
}

func NewHandler(engine ln.ChannelManager, db *database.DurableConnection, w *wallet.Wallet, corr *correlator.Correlator, graph *ln.NetworkGraph, chain *bitcoind.Client, broad *bitcoind.Broadcaster, feeCache *ln.FeeRateCache, announcer Announcer, monitors *database.MonitorStore) *Handler {
	return &Handler{
		engine:    engine,
		db:        db,
		wallet:    w,
		corr:      corr,
		graph:     graph,
		chain:     chain,
		broad:     broad,
		feeCache:  feeCache,
		announcer: announcer,
		monitors:  monitors,
		subs:      make(map[chan ln.Event]struct{}),
	}
}

// Subscribe registers a new listener for every event Dispatch handles,
// for api.Server's websocket stream. The returned channel is buffered
// and dropped (never blocked on) under backpressure; call the returned
// func to unregister.
func (h *Handler) Subscribe() (<-chan ln.Event, func()) {
	ch := make(chan ln.Event, 32)
	h.subMu.Lock()
	h.subs[ch] = struct{}{}
	h.subMu.Unlock()

	return ch, func() {
		h.subMu.Lock()
		delete(h.subs, ch)
		h.subMu.Unlock()
		close(ch)
	}
}

func (h *Handler) broadcast(ev ln.Event) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- ev:
		default:
			// A slow subscriber drops frames rather than stalling dispatch.
		}
	}
}

// Run drains the engine's event channel until it closes or ctx is
// cancelled, grounded on breacharbiter.go's observer loop shape.
func (h *Handler) Run(ctx context.Context) {
	for {
		select {
		case ev, ok := <-h.engine.Events():
			if !ok {
				return
			}
			h.Dispatch(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch handles a single event. Exported so tests and a synchronous
// caller (e.g. a unit test driving Engine.Emit directly) don't need a
// live Run loop.
func (h *Handler) Dispatch(ctx context.Context, ev ln.Event) {
	h.broadcast(ev)
	switch e := ev.(type) {
	case ln.FundingGenerationReady:
		h.onFundingGenerationReady(ctx, e)
	case ln.ChannelPending:
		h.onChannelPending(ctx, e)
	case ln.ChannelReady:
		h.onChannelReady(ctx, e)
	case ln.ChannelClosed:
		h.onChannelClosed(ctx, e)
	case ln.DiscardFunding:
		h.onDiscardFunding(ctx, e)
	case ln.PaymentClaimable:
		h.onPaymentClaimable(e)
	case ln.PaymentClaimed:
		h.onPaymentClaimed(ctx, e)
	case ln.PaymentSent:
		h.onPaymentSent(ctx, e)
	case ln.PaymentFailed:
		h.onPaymentFailed(ctx, e)
	case ln.PaymentPathSuccessful:
		log.Debugf("payment %s: path succeeded %v", e.Id, e.Path)
	case ln.PaymentPathFailed:
		h.onPaymentPathFailed(e)
	case ln.PaymentForwarded:
		h.onPaymentForwarded(ctx, e)
	case ln.HTLCHandlingFailed:
		h.onHTLCHandlingFailed(ctx, e)
	case ln.PendingHTLCsForwardable:
		h.onPendingHTLCsForwardable(e)
	case ln.SpendableOutputs:
		h.onSpendableOutputs(ctx, e)
	case ln.MonitorUpdateNeeded:
		h.onMonitorUpdateNeeded(e)
	case ln.HTLCIntercepted, ln.InvoiceRequestFailed, ln.ConnectionNeeded:
		log.Debugf("event %T: log-only, reserved for future extension", ev)
	default:
		log.Warnf("unhandled event type %T", ev)
	}
}

func (h *Handler) onFundingGenerationReady(ctx context.Context, e ln.FundingGenerationReady) {
	req, ok := h.corr.GetFunding(e.UserChannelId)
	if !ok {
		log.Errorf("funding_generation_ready for user_channel_id %d with no pending responder (invariant violation)", e.UserChannelId)
		return
	}

	tx, err := h.wallet.FundTx(ctx, e.OutputScript, e.ChannelValueSat, req.FeeRate)
	if err != nil {
		req.Response <- correlator.FundingResult{Err: fmt.Errorf("building funding transaction: %w", err)}
		return
	}

	if err := h.engine.FundingTransactionGenerated(e.TemporaryChannelId, e.Counterparty, tx); err != nil {
		req.Response <- correlator.FundingResult{Err: fmt.Errorf("handing funding transaction to engine: %w", err)}
		return
	}

	now := time.Now().UTC()
	rec := ln.ChannelRecord{
		ChannelId:       e.TemporaryChannelId,
		UserChannelId:   e.UserChannelId,
		OpenTimestamp:   now,
		UpdateTimestamp: now,
		Detail: ln.ChannelDetail{
			Counterparty: e.Counterparty,
			ValueSat:     e.ChannelValueSat,
		},
	}
	if err := h.db.InsertChannel(ctx, rec); err != nil {
		log.Errorf("persisting initial channel record for %s: %v", e.TemporaryChannelId, err)
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		req.Response <- correlator.FundingResult{Err: fmt.Errorf("serializing funding transaction: %w", err)}
		return
	}
	req.Response <- correlator.FundingResult{Tx: buf.Bytes()}
}

func (h *Handler) onChannelPending(ctx context.Context, e ln.ChannelPending) {
	if e.FormerTemporaryId != nil {
		if err := h.db.RenameChannelId(ctx, *e.FormerTemporaryId, e.ChannelId); err != nil {
			log.Errorf("renaming channel %s -> %s: %v", *e.FormerTemporaryId, e.ChannelId, err)
		}
	}

	if detail, ok := h.detailFor(e.ChannelId); ok {
		if err := h.db.UpdateChannelDetail(ctx, e.ChannelId, detail); err != nil {
			log.Errorf("persisting channel detail for %s: %v", e.ChannelId, err)
		}
		return
	}

	now := time.Now().UTC()
	rec := ln.ChannelRecord{
		ChannelId:       e.ChannelId,
		UserChannelId:   e.UserChannelId,
		OpenTimestamp:   now,
		UpdateTimestamp: now,
		Detail: ln.ChannelDetail{
			Counterparty: e.Counterparty,
			FundingTxo:   &e.FundingTxo,
		},
	}
	if err := h.db.InsertChannel(ctx, rec); err != nil {
		log.Errorf("persisting minimal channel record for %s: %v", e.ChannelId, err)
	}
}

func (h *Handler) onChannelReady(ctx context.Context, e ln.ChannelReady) {
	if detail, ok := h.detailFor(e.ChannelId); ok {
		if err := h.db.UpdateChannelDetail(ctx, e.ChannelId, detail); err != nil {
			log.Errorf("persisting channel detail for %s: %v", e.ChannelId, err)
		}
	} else {
		if err := h.db.CloseChannel(ctx, e.ChannelId, "detail missing on ready"); err != nil {
			log.Errorf("closing channel %s after missing detail: %v", e.ChannelId, err)
		}
	}

	if h.announcer != nil {
		h.announcer.Announce()
	}
}

func (h *Handler) onChannelClosed(ctx context.Context, e ln.ChannelClosed) {
	if req, ok := h.corr.GetFunding(e.UserChannelId); ok {
		req.Response <- correlator.FundingResult{Err: fmt.Errorf("channel closed due to %s", e.Reason)}
	}
	if err := h.db.CloseChannel(ctx, e.ChannelId, e.Reason); err != nil {
		log.Errorf("persisting closure for %s: %v", e.ChannelId, err)
	}
}

func (h *Handler) onDiscardFunding(ctx context.Context, e ln.DiscardFunding) {
	reason := fmt.Sprintf("funding discarded, txid=%s", e.Tx.TxHash())
	if err := h.db.CloseChannel(ctx, e.ChannelId, reason); err != nil {
		log.Errorf("persisting discarded-funding closure for %s: %v", e.ChannelId, err)
	}
}

func (h *Handler) onPaymentClaimable(e ln.PaymentClaimable) {
	if e.Purpose.Preimage == nil {
		log.Errorf("payment_claimable for %s has no preimage available to claim", e.Hash)
		return
	}
	h.engine.ClaimFunds(*e.Purpose.Preimage)
}

func (h *Handler) onPaymentClaimed(ctx context.Context, e ln.PaymentClaimed) {
	var id ln.PaymentId
	copy(id[:], e.Hash[:]) // inbound payments have no caller-chosen PaymentId; the hash doubles as one.

	p := ln.Payment{
		PaymentId:  id,
		Hash:       e.Hash,
		Preimage:   e.Purpose.Preimage,
		Secret:     e.Purpose.Secret,
		Status:     ln.PaymentSucceeded,
		AmountMsat: e.AmountMsat,
		Direction:  ln.PaymentInbound,
		Timestamp:  time.Now().UTC(),
	}
	if err := h.db.InsertPayment(ctx, p); err != nil {
		log.Errorf("persisting claimed payment %s: %v", e.Hash, err)
	}
}

func (h *Handler) onPaymentSent(ctx context.Context, e ln.PaymentSent) {
	req, ok := h.corr.GetPayment(e.Id)
	if !ok {
		log.Warnf("payment_sent for %s with no pending responder", e.Id)
		return
	}
	req.Payment.Status = ln.PaymentSucceeded
	req.Payment.Preimage = &e.Preimage
	req.Payment.FeeMsat = e.FeeMsat
	if err := h.db.UpdatePaymentStatus(ctx, e.Id, ln.PaymentSucceeded, &e.Preimage); err != nil {
		log.Errorf("persisting sent payment %s: %v", e.Id, err)
	}
	req.Response <- correlator.PaymentResult{Payment: req.Payment}
}

func (h *Handler) onPaymentFailed(ctx context.Context, e ln.PaymentFailed) {
	req, ok := h.corr.GetPayment(e.Id)
	if !ok {
		log.Warnf("payment_failed for %s with no pending responder", e.Id)
		return
	}
	req.Payment.Status = ln.PaymentFailed
	if err := h.db.UpdatePaymentStatus(ctx, e.Id, ln.PaymentFailed, nil); err != nil {
		log.Errorf("persisting failed payment %s: %v", e.Id, err)
	}
	reason := "payment failed"
	if e.Reason != nil {
		reason = *e.Reason
	}
	req.Response <- correlator.PaymentResult{Payment: req.Payment, Err: fmt.Errorf("%s", reason)}
}

func (h *Handler) onPaymentPathFailed(e ln.PaymentPathFailed) {
	if e.NetworkUpdate != nil {
		h.graph.ApplyNetworkUpdate(*e.NetworkUpdate)
		return
	}
	log.Debugf("payment %s: path failed %v", e.Id, e.Path)
}

func (h *Handler) onPaymentForwarded(ctx context.Context, e ln.PaymentForwarded) {
	if e.PrevChannel == nil || e.NextChannel == nil || e.OutAmountMsat == nil || e.FeeEarnedMsat == nil {
		return
	}
	rec := ln.ForwardRecord{
		InboundChannelId:  *e.PrevChannel,
		OutboundChannelId: e.NextChannel,
		AmountMsat:        e.OutAmountMsat,
		FeeMsat:           e.FeeEarnedMsat,
		Status:            ln.ForwardSucceeded,
		Timestamp:         time.Now().UTC(),
	}
	if err := h.db.InsertForward(ctx, rec); err != nil {
		log.Errorf("persisting forward %s -> %s: %v", *e.PrevChannel, *e.NextChannel, err)
	}
}

func (h *Handler) onHTLCHandlingFailed(ctx context.Context, e ln.HTLCHandlingFailed) {
	rec := ln.ForwardRecord{
		InboundChannelId: e.PrevChannel,
		Status:           ln.ForwardFailed,
		HTLCDestination:  e.FailedDestination,
		Timestamp:        time.Now().UTC(),
	}
	if err := h.db.InsertForward(ctx, rec); err != nil {
		log.Errorf("persisting failed forward on %s: %v", e.PrevChannel, err)
	}
}

func (h *Handler) onPendingHTLCsForwardable(e ln.PendingHTLCsForwardable) {
	delay := time.Duration(e.TimeSeconds) * time.Second
	if e.TimeSeconds > 0 {
		jitter := klog.Intn(4 * int(e.TimeSeconds)) // uniform in [time, 5*time)
		delay += time.Duration(jitter) * time.Second
	}
	go func() {
		time.Sleep(delay)
		h.engine.ProcessPendingHTLCForwards()
	}()
}

// onMonitorUpdateNeeded persists the channel-monitor write the engine
// queued; the store's own goroutine calls back into
// ln.Engine.ChannelMonitorUpdated once the write lands, closing the
// loop spec §4.5 describes. Serializing the real monitor state is the
// delegation boundary's job (see ln.ChainMonitor); this port has
// nothing more than the outpoint and update id to store.
func (h *Handler) onMonitorUpdateNeeded(e ln.MonitorUpdateNeeded) {
	blob := []byte(fmt.Sprintf("channel=%s update=%d", e.ChannelId, e.UpdateId))
	h.monitors.UpdatePersistedChannel(e.Outpoint, blob, e.UpdateId)
}

// onSweepFeeRate is the on-chain-sweep feerate spec §4.4 calls for. This
// port's FeeRateCache only tracks three tiers with no distinct sweep
// bucket (see ln/feerate.go); Normal is the closest fit and is used here
// rather than inventing a fourth tier (see DESIGN.md).
func onSweepFeeRate() ln.FeeRate {
	tier := ln.Normal
	return ln.FeeRate{Tier: &tier}
}

func (h *Handler) onSpendableOutputs(ctx context.Context, e ln.SpendableOutputs) {
	_, height, err := h.chain.BestBlock()
	if err != nil {
		log.Errorf("spendable_outputs: fetching chain tip: %v", err)
		return
	}

	for _, o := range e.Outputs {
		o.ChannelId = e.ChannelId
		if err := h.db.InsertSpendableOutput(ctx, o); err != nil {
			log.Errorf("persisting spendable output %s: %v", o.Outpoint, err)
			continue
		}

		outpoint := wire.OutPoint{Hash: o.Outpoint.Txid, Index: uint32(o.Outpoint.Vout)}
		tx, err := h.wallet.SweepOutput(ctx, outpoint, o.ValueSat, o.Descriptor, uint32(height), onSweepFeeRate())
		if err != nil {
			log.Errorf("building sweep transaction for %s: %v", o.Outpoint, err)
			continue
		}
		h.broad.BroadcastTransaction(tx)

		if err := h.db.MarkOutputSpent(ctx, o.Outpoint); err != nil {
			log.Errorf("marking spendable output %s spent: %v", o.Outpoint, err)
		}
	}
}

// detailFor looks up a channel's current detail from the engine's live
// state, the "if the engine can still list it" fallback §4.4 describes
// for ChannelPending/ChannelReady.
func (h *Handler) detailFor(id ln.ChannelId) (ln.ChannelDetail, bool) {
	for _, c := range h.engine.ListChannels() {
		if c.ChannelId == id {
			return c.Detail, true
		}
	}
	return ln.ChannelDetail{}, false
}
