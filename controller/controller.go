// Package controller implements spec §4.1: it constructs every other
// component in dependency order, exposes the public operations surface
// (open_channel, close_channel, connect_peer, pay_invoice, …) and owns
// graceful shutdown ordering. Grounded on lnd.go's lndMain construction
// order and server.go's Start/Stop pairing, generalized from a single
// monolithic *server into the smaller, independently-testable components
// this port builds (chain.Syncer, peer.Manager, event.Handler, probe.Prober).
package controller

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/kuutamolabs/kld/bitcoind"
	"github.com/kuutamolabs/kld/chain"
	"github.com/kuutamolabs/kld/config"
	"github.com/kuutamolabs/kld/correlator"
	"github.com/kuutamolabs/kld/database"
	"github.com/kuutamolabs/kld/errs"
	"github.com/kuutamolabs/kld/event"
	"github.com/kuutamolabs/kld/klog"
	"github.com/kuutamolabs/kld/ln"
	"github.com/kuutamolabs/kld/peer"
	"github.com/kuutamolabs/kld/probe"
	"github.com/kuutamolabs/kld/wallet"
)

var log = klog.NewLogger("CTRL")

// retryRouteSeconds is pay_invoice's routing-retry budget (spec §4.1/§5).
const retryRouteSeconds = 60

// Controller wires together and owns every component spec §2's
// dependency-order table lists: chain backend client → persistence
// adapters → chain monitor → channel manager → peer manager → event
// handler → controller → async correlator → background loops.
type Controller struct {
	cfg    *config.Settings
	params *chaincfg.Params

	db          *database.DurableConnection
	client      *bitcoind.Client
	broadcaster *bitcoind.Broadcaster
	feeCache    *ln.FeeRateCache
	wallet      *wallet.Wallet
	graph       *ln.NetworkGraph
	scorer      ln.Scorer
	engine      ln.ChannelManager

	corr    *correlator.Correlator
	syncer  *chain.Syncer
	peers   *peer.Manager
	events  *event.Handler
	prober  *probe.Prober
	feeEst  *bitcoind.FeeEstimator

	defaultConfig ln.ChannelConfig
}

// New constructs every component in dependency order but does not start
// any of them; call Start once the chain backend reports synchronized.
func New(
	cfg *config.Settings,
	params *chaincfg.Params,
	db *database.DurableConnection,
	client *bitcoind.Client,
	broadcaster *bitcoind.Broadcaster,
	feeCache *ln.FeeRateCache,
	w *wallet.Wallet,
	graph *ln.NetworkGraph,
	scorer ln.Scorer,
	engine ln.ChannelManager,
	chainMonitor ln.ChainMonitor,
	peerHandler ln.PeerHandler,
) (*Controller, error) {
	corr := correlator.New()
	blockSource := bitcoind.NewBlockSource(client)
	syncer := chain.NewSyncer(blockSource, db, chainMonitor, engine)
	feeEst := bitcoind.NewFeeEstimator(client, feeCache)
	monitors := database.NewMonitorStore(db, chainMonitor)

	c := &Controller{
		cfg:         cfg,
		params:      params,
		db:          db,
		client:      client,
		broadcaster: broadcaster,
		feeCache:    feeCache,
		wallet:      w,
		graph:       graph,
		scorer:      scorer,
		engine:      engine,
		corr:        corr,
		syncer:      syncer,
		feeEst:      feeEst,
	}

	c.peers = peer.NewManager(peerHandler, db, cfg, c.countPublicChannels)
	c.events = event.NewHandler(engine, db, w, corr, graph, client, broadcaster, feeCache, c.peers, monitors)

	router := ln.NewGraphRouter(graph)
	prober, err := probe.New(router, scorer, graph, engine, cfg.Probe)
	if err != nil {
		return nil, fmt.Errorf("building probe loop: %w", err)
	}
	c.prober = prober

	return c, nil
}

// SubscribeEvents exposes the event handler's broadcast stream for
// api.Server's websocket endpoint.
func (c *Controller) SubscribeEvents() (<-chan ln.Event, func()) {
	return c.events.Subscribe()
}

func (c *Controller) countPublicChannels() int {
	n := 0
	for _, entry := range c.engine.ListChannels() {
		if entry.Detail.IsPublic {
			n++
		}
	}
	return n
}

// Start runs chain-sync bootstrap then launches every background task,
// per spec §4.2's "fatal errors in bootstrap exit the process".
func (c *Controller) Start(ctx context.Context) error {
	if err := c.syncer.Bootstrap(ctx); err != nil {
		return fmt.Errorf("chain-sync bootstrap: %w", err)
	}
	c.syncer.Start()

	if err := c.peers.Start(); err != nil {
		return fmt.Errorf("starting peer manager: %w", err)
	}

	c.feeEst.Start()
	go c.events.Run(ctx)
	c.prober.Start()
	return nil
}

// Stop implements spec §4.1's shutdown ordering: disconnect all peers
// before the background processor halts, so no further state mutations
// land mid-teardown.
func (c *Controller) Stop() {
	c.peers.Stop()
	c.prober.Stop(time.Duration(c.cfg.ShutdownGraceSeconds) * time.Second)
	c.feeEst.Stop()
	c.syncer.Stop()
	c.persistScorer()
}

// persistScorer saves the scorer's tally to the database so the next
// start warm-starts from it instead of an empty slate, mirroring
// rust-lightning's periodic ProbabilisticScorer persistence.
func (c *Controller) persistScorer() {
	marshaler, ok := c.scorer.(interface{ Marshal() ([]byte, error) })
	if !ok {
		return
	}
	blob, err := marshaler.Marshal()
	if err != nil {
		log.Warnf("marshaling scorer for persistence: %v", err)
		return
	}
	if err := c.db.PersistScorer(context.Background(), blob); err != nil {
		log.Warnf("persisting scorer: %v", err)
	}
}

// OpenChannelResult is open_channel's return value.
type OpenChannelResult struct {
	Tx        []byte
	Txid      string
	ChannelId ln.ChannelId
}

// OpenChannel implements spec §4.1's open_channel.
func (c *Controller) OpenChannel(ctx context.Context, counterparty ln.NodeId, valueSat uint64, pushMsat uint64, feeRate ln.FeeRate, cfg *ln.ChannelConfig) (*OpenChannelResult, error) {
	synced, err := c.client.IsSynchronized()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "checking chain backend sync state", err)
	}
	if !synced {
		return nil, errs.Unavailablef("chain backend is not synchronized")
	}
	if !c.peers.IsConnected(counterparty) {
		return nil, errs.BadRequestf("not connected to peer %s", counterparty)
	}

	channelCfg := c.defaultConfig
	if cfg != nil {
		channelCfg = *cfg
	}

	userChannelId, resp, err := c.corr.InsertFunding(ctx, c.db, klog.Uint64, feeRate)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "allocating user_channel_id", err)
	}

	channelId, err := c.engine.OpenChannel(counterparty, valueSat, pushMsat, userChannelId, channelCfg)
	if err != nil {
		c.corr.GetFunding(userChannelId) // drop the now-orphaned responder
		return nil, errs.Wrap(errs.BadRequest, "requesting channel open", err)
	}

	select {
	case result := <-resp:
		if result.Err != nil {
			return nil, errs.Wrap(errs.Conflict, "funding channel", result.Err)
		}
		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(result.Tx)); err != nil {
			return nil, errs.Wrap(errs.Internal, "decoding funding transaction", err)
		}
		txid := tx.TxHash()
		return &OpenChannelResult{
			Tx:        result.Tx,
			Txid:      txid.String(),
			ChannelId: channelId,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CloseChannel implements cooperative close.
func (c *Controller) CloseChannel(channelId ln.ChannelId, counterparty ln.NodeId, targetFeerate *uint32) error {
	if err := c.engine.CloseChannel(channelId, counterparty, targetFeerate); err != nil {
		return errs.Wrap(errs.NotFound, "closing channel", err)
	}
	return nil
}

// ForceCloseChannel implements a one-sided close.
func (c *Controller) ForceCloseChannel(channelId ln.ChannelId, counterparty ln.NodeId, broadcast bool) error {
	if err := c.engine.ForceCloseChannel(channelId, counterparty, broadcast); err != nil {
		return errs.Wrap(errs.NotFound, "force-closing channel", err)
	}
	return nil
}

// SetChannelFeeResult is set_channel_fee's return value: the effective
// values after merging with the current default config.
type SetChannelFeeResult struct {
	ForwardingFeeBaseMsat uint32
	ForwardingFeePPM      uint32
}

// SetChannelFee implements set_channel_fee: merge with the current
// default config and return the effective values after update.
func (c *Controller) SetChannelFee(counterparty ln.NodeId, channelIds []ln.ChannelId, basePPM *uint32, ppm *uint32) (*SetChannelFeeResult, error) {
	merged := c.defaultConfig
	for _, entry := range c.engine.ListChannels() {
		if entry.Detail.Counterparty == counterparty {
			merged = entry.Detail.Config
			break
		}
	}
	if basePPM != nil {
		merged.ForwardingFeeBaseMsat = *basePPM
	}
	if ppm != nil {
		merged.ForwardingFeePPM = *ppm
	}

	if err := c.engine.UpdateChannelConfig(counterparty, channelIds, merged); err != nil {
		return nil, errs.Wrap(errs.NotFound, "updating channel config", err)
	}
	return &SetChannelFeeResult{ForwardingFeeBaseMsat: merged.ForwardingFeeBaseMsat, ForwardingFeePPM: merged.ForwardingFeePPM}, nil
}

// ConnectPeer implements connect_peer: if addr is nil, addresses are
// looked up in the network graph and tried in order, IPv4 only.
func (c *Controller) ConnectPeer(ctx context.Context, remote ln.NodeId, addr *ln.SocketAddress) error {
	candidates := []ln.SocketAddress{}
	if addr != nil {
		candidates = append(candidates, *addr)
	} else {
		for _, a := range c.graph.Addresses(remote) {
			if a.IsIPv4() {
				candidates = append(candidates, a)
			}
		}
	}
	if len(candidates) == 0 {
		return errs.BadRequestf("no address given or known for %s", remote)
	}

	var lastErr error
	for _, a := range candidates {
		if err := c.peers.ConnectPeer(ctx, remote, a); err != nil {
			lastErr = err
			continue
		}
		if err := c.db.PersistPeer(ctx, ln.Peer{PublicKey: remote, Address: a}); err != nil {
			log.Warnf("connected to %s but failed to persist reconnect hint: %v", remote, err)
		}
		return nil
	}
	return errs.Wrap(errs.Unavailable, fmt.Sprintf("connecting to %s", remote), lastErr)
}

// DisconnectPeer implements disconnect_peer: drops both the live
// connection and the persisted reconnect hint.
func (c *Controller) DisconnectPeer(ctx context.Context, remote ln.NodeId) error {
	c.peers.DisconnectPeer(remote)
	if err := c.db.DeletePeer(ctx, remote); err != nil {
		return errs.Wrap(errs.Internal, "deleting persisted peer hint", err)
	}
	return nil
}

// PeerInfo is a single list_peers row, extending peer.PeerInfo with a
// best-effort graph alias.
type PeerInfo struct {
	peer.PeerInfo
	Alias string
}

// ListPeers implements list_peers: the union of currently-connected
// peers, channel counterparties, and persisted reconnect hints.
func (c *Controller) ListPeers(ctx context.Context) ([]PeerInfo, error) {
	persisted, err := c.peers.ListPeers(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "listing persisted peers", err)
	}

	seen := make(map[ln.NodeId]bool, len(persisted))
	out := make([]PeerInfo, 0, len(persisted))
	for _, p := range persisted {
		seen[p.NodeId] = true
		out = append(out, PeerInfo{PeerInfo: p, Alias: c.graph.Alias(p.NodeId)})
	}

	for _, entry := range c.engine.ListChannels() {
		cp := entry.Detail.Counterparty
		if seen[cp] {
			continue
		}
		seen[cp] = true
		status := ln.PeerStatusDisconnected
		if c.peers.IsConnected(cp) {
			status = ln.PeerStatusConnected
		}
		out = append(out, PeerInfo{PeerInfo: peer.PeerInfo{NodeId: cp, Status: status}, Alias: c.graph.Alias(cp)})
	}
	return out, nil
}

// GenerateInvoice implements generate_invoice.
//
// Full BOLT-11 bech32 construction is explicitly delegated per spec §1
// ("no custom cryptography... BOLT-11 invoice construction... are
// delegated"). The zpay32 codec retrieved alongside this teacher targets
// a different, incompatible vintage of lnd's lnwire/routing packages
// (its required lnwire.MilliSatoshi, lnwire.DeserializeSigFromWire and
// routing.DefaultFinalCLTVDelta symbols are absent from the lnwire/
// routing trees bundled in this workspace), so rather than guess at
// reconciling two mismatched historical snapshots this port represents
// an invoice with a minimal self-describing token — hex(nodeId||hash) —
// sufficient to drive pay_invoice without a real bech32 codec. See
// DESIGN.md.
func (c *Controller) GenerateInvoice(ctx context.Context, label string, amountMsat *uint64, description string, expiry *time.Duration) (*ln.Invoice, error) {
	var preimage ln.PaymentPreimage
	fillRandom(preimage[:])
	hash := ln.PaymentHash(sha256.Sum256(preimage[:]))

	nodeId := c.engine.NodeId()
	token := fmt.Sprintf("kld1%x", append(append([]byte{}, nodeId[:]...), hash[:]...))

	now := time.Now()
	var expiresAt *time.Time
	if expiry != nil {
		t := now.Add(*expiry)
		expiresAt = &t
	}

	inv := ln.Invoice{
		Bolt11:      token,
		PaymentHash: hash,
		Description: description,
		Status:      ln.InvoiceUnpaid,
		AmountMsat:  amountMsat,
		ExpiresAt:   expiresAt,
	}
	if label != "" {
		inv.Label = &label
	}

	if err := c.db.InsertInvoice(ctx, inv); err != nil {
		return nil, errs.Wrap(errs.Internal, "persisting invoice", err)
	}
	return &inv, nil
}

// PayInvoice implements pay_invoice: persists a Pending payment row,
// awaits the settlement event on the correlator, persists the resolved
// payment, and returns it.
func (c *Controller) PayInvoice(ctx context.Context, bolt11 string, label *string) (*ln.Payment, error) {
	inv, found, err := c.db.FetchInvoiceByBolt11(ctx, bolt11)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "looking up invoice", err)
	}
	if !found {
		return nil, errs.BadRequestf("unknown invoice")
	}
	if inv.AmountMsat == nil {
		return nil, errs.BadRequestf("invoice has no amount")
	}

	var paymentId ln.PaymentId
	fillRandom(paymentId[:])
	payment := ln.Payment{
		PaymentId:  paymentId,
		Hash:       inv.PaymentHash,
		Label:      label,
		Status:     ln.PaymentPending,
		AmountMsat: *inv.AmountMsat,
		Direction:  ln.PaymentOutbound,
		Timestamp:  time.Now(),
		Bolt11:     &bolt11,
	}
	if err := c.db.InsertPayment(ctx, payment); err != nil {
		return nil, errs.Wrap(errs.Internal, "persisting payment", err)
	}
	resp := c.corr.InsertPayment(paymentId, payment)

	ctx, cancel := context.WithTimeout(ctx, retryRouteSeconds*time.Second)
	defer cancel()

	results, err := c.engine.SendPayment(ln.SendPaymentParams{
		PaymentId:      paymentId,
		Hash:           inv.PaymentHash,
		AmountMsat:     *inv.AmountMsat,
		FinalCltvDelta: 40,
	})
	if err != nil || !acceptablePartials(results) {
		c.corr.GetPayment(paymentId)
		return nil, errs.Wrap(errs.BadRequest, "sending payment", err)
	}

	select {
	case result := <-resp:
		if result.Err != nil {
			return nil, errs.Wrap(errs.BadRequest, "payment failed", result.Err)
		}
		return &result.Payment, nil
	case <-ctx.Done():
		return nil, errs.Unavailablef("payment timed out waiting for settlement")
	}
}

// KeysendPayment implements keysend_payment: a spontaneous payment with
// no invoice, same async-completion pattern as PayInvoice.
func (c *Controller) KeysendPayment(ctx context.Context, payee ln.NodeId, amountMsat uint64) (*ln.Payment, error) {
	var paymentId ln.PaymentId
	fillRandom(paymentId[:])
	payment := ln.Payment{
		PaymentId:  paymentId,
		Status:     ln.PaymentPending,
		AmountMsat: amountMsat,
		Direction:  ln.PaymentOutbound,
		Timestamp:  time.Now(),
	}
	if err := c.db.InsertPayment(ctx, payment); err != nil {
		return nil, errs.Wrap(errs.Internal, "persisting payment", err)
	}
	resp := c.corr.InsertPayment(paymentId, payment)

	results, err := c.engine.SendSpontaneousPayment(paymentId, payee, amountMsat)
	if err != nil || !acceptablePartials(results) {
		c.corr.GetPayment(paymentId)
		return nil, errs.Wrap(errs.BadRequest, "sending keysend payment", err)
	}

	ctx, cancel := context.WithTimeout(ctx, retryRouteSeconds*time.Second)
	defer cancel()
	select {
	case result := <-resp:
		if result.Err != nil {
			return nil, errs.Wrap(errs.BadRequest, "keysend payment failed", result.Err)
		}
		return &result.Payment, nil
	case <-ctx.Done():
		return nil, errs.Unavailablef("keysend payment timed out waiting for settlement")
	}
}

// acceptablePartials implements spec §4.1's keysend_payment tolerance,
// also applied to pay_invoice: every per-path result must be either OK
// or MonitorUpdateInProgress.
func acceptablePartials(results []ln.PartialPaymentResult) bool {
	for _, r := range results {
		if r == ln.PartialOtherFailure {
			return false
		}
	}
	return true
}

// ListChannels, ListPayments, ListInvoices expose the read-only
// operations spec §4.1 describes as contracted by their SQL shape.
func (c *Controller) ListChannels(ctx context.Context) ([]ln.ChannelRecord, error) {
	recs, err := c.db.ListChannels(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "listing channels", err)
	}
	return recs, nil
}

func (c *Controller) ListPayments(ctx context.Context) ([]ln.Payment, error) {
	ps, err := c.db.ListPayments(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "listing payments", err)
	}
	return ps, nil
}

func (c *Controller) ListInvoices(ctx context.Context) ([]ln.Invoice, error) {
	is, err := c.db.ListInvoices(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "listing invoices", err)
	}
	return is, nil
}

// NodeInfo answers the get_info read-only query: identity, network view
// and chain-sync progress in one snapshot.
type NodeInfo struct {
	NodeId         ln.NodeId
	Alias          string
	Network        string
	BlockHeight    int64
	NumPeers       int
	NumActiveChans int
	NumPublicChans int
}

// GetInfo answers the get_info read-only query.
func (c *Controller) GetInfo(ctx context.Context) (*NodeInfo, error) {
	peers, err := c.peers.ListPeers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing peers: %w", err)
	}
	channels := c.engine.ListChannels()
	return &NodeInfo{
		NodeId:         c.engine.NodeId(),
		Alias:          c.cfg.NodeAlias,
		Network:        c.params.Name,
		BlockHeight:    c.syncer.Tip().Height,
		NumPeers:       len(peers),
		NumActiveChans: len(channels),
		NumPublicChans: c.countPublicChannels(),
	}, nil
}

// ListNetworkNodes answers the network_nodes read-only query.
func (c *Controller) ListNetworkNodes() []ln.NodeSnapshot {
	return c.graph.Nodes()
}

// ListNetworkChannels answers the network_channels read-only query.
func (c *Controller) ListNetworkChannels() []ln.ChannelSnapshot {
	return c.graph.Channels()
}

// LiquidityEstimate is estimate_channel_liquidity's return value: a
// best-effort success ratio derived from the probing loop's scoring
// history, not a real bounded-liquidity estimate (that model is
// delegated; see ln.InMemoryScorer's doc comment).
type LiquidityEstimate struct {
	Successes int
	Failures  int
}

// EstimateChannelLiquidity reports the probing-derived success/failure
// tally for scid, if the scorer backing this controller tracks one.
func (c *Controller) EstimateChannelLiquidity(scid ln.ShortChannelId) (LiquidityEstimate, error) {
	snapshotter, ok := c.scorer.(interface {
		Snapshot() (success, failure map[ln.ShortChannelId]int)
	})
	if !ok {
		return LiquidityEstimate{}, errs.BadRequestf("liquidity estimation unsupported by the configured scorer")
	}
	success, failure := snapshotter.Snapshot()
	return LiquidityEstimate{Successes: success[scid], Failures: failure[scid]}, nil
}

// GetBalance reports the on-chain wallet balance.
func (c *Controller) GetBalance(ctx context.Context) (wallet.Balance, error) {
	bal, err := c.wallet.Balance(ctx)
	if err != nil {
		return wallet.Balance{}, errs.Wrap(errs.Internal, "reading wallet balance", err)
	}
	return bal, nil
}

// NewAddress returns a fresh external receive address.
func (c *Controller) NewAddress(ctx context.Context) (btcutil.Address, error) {
	addr, err := c.wallet.NewExternalAddress(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "deriving new address", err)
	}
	return addr, nil
}

// Withdraw sends amountSat to address and broadcasts the resulting
// transaction.
func (c *Controller) Withdraw(ctx context.Context, address btcutil.Address, amountSat uint64, feeRate ln.FeeRate) (*wire.MsgTx, error) {
	tx, err := c.wallet.Withdraw(ctx, address, amountSat, feeRate)
	if err != nil {
		return nil, errs.Wrap(errs.BadRequest, "building withdrawal", err)
	}
	c.broadcaster.BroadcastTransaction(tx)
	return tx, nil
}

func fillRandom(b []byte) {
	for i := 0; i < len(b); i += 8 {
		v := klog.Uint64()
		for j := 0; j < 8 && i+j < len(b); j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
}
