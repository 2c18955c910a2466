package ln

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"
)

// ChannelEntry is a single row of ChannelManager.ListChannels: the
// engine-internal channel id/user-channel-id pairing plus its detail.
type ChannelEntry struct {
	ChannelId     ChannelId
	UserChannelId UserChannelId
	Detail        ChannelDetail
}

// SendPaymentParams is everything needed to route a BOLT-11 payment.
type SendPaymentParams struct {
	PaymentId       PaymentId
	Hash            PaymentHash
	Secret          PaymentSecret
	AmountMsat      uint64
	Payee           NodeId
	FinalCltvDelta  uint16
	RouteHints      []ShortChannelId
}

// PartialPaymentResult is a single path's outcome within a multi-part
// payment attempt; spec §4.1 tolerates an all-{OK,MonitorUpdateInProgress}
// mix as success.
type PartialPaymentResult int

const (
	PartialOK PartialPaymentResult = iota
	PartialMonitorUpdateInProgress
	PartialOtherFailure
)

// ChannelManager is the delegation boundary standing in for the
// embedded Lightning library's channel-manager surface (rust-lightning's
// ChannelManager in the original). See SPEC_FULL.md §0.
type ChannelManager interface {
	NodeId() NodeId
	ListChannels() []ChannelEntry
	OpenChannel(counterparty NodeId, valueSat, pushMsat uint64, userChannelId UserChannelId, cfg ChannelConfig) (ChannelId, error)
	CloseChannel(channelId ChannelId, counterparty NodeId, targetFeerate *uint32) error
	ForceCloseChannel(channelId ChannelId, counterparty NodeId, broadcast bool) error
	UpdateChannelConfig(counterparty NodeId, channelIds []ChannelId, cfg ChannelConfig) error
	FundingTransactionGenerated(temporaryChannelId ChannelId, counterparty NodeId, tx *wire.MsgTx) error
	MarkChannelReady(channelId ChannelId)
	SendPayment(params SendPaymentParams) ([]PartialPaymentResult, error)
	SendSpontaneousPayment(id PaymentId, payee NodeId, amountMsat uint64) ([]PartialPaymentResult, error)
	ClaimFunds(preimage PaymentPreimage)
	ProcessPendingHTLCForwards()
	Events() <-chan Event
}

// ChainMonitor is the delegation boundary for per-channel revocation
// monitoring (rust-lightning's chain::Watch in the original).
type ChainMonitor interface {
	WatchChannel(outpoint FundingOutPoint, monitor []byte, updateId uint64) error
	ChannelMonitorUpdated(outpoint FundingOutPoint, updateId uint64) error
	LatestUpdateId(outpoint FundingOutPoint) (uint64, bool)
}

// Engine is the in-process reference implementation of ChannelManager +
// ChainMonitor. It is deliberately the thinnest thing that lets every
// control-plane operation in spec §4 run end to end: BOLT wire framing,
// onion construction and the commitment-transaction state machine are
// non-goals (spec §1) delegated to a library this port doesn't ship, so
// channel lifecycle transitions here are driven explicitly by the event
// package rather than by processing peer wire traffic.
// inFlightUpdate is a monitor write the engine has emitted but not yet
// had acknowledged; onAck fires once ChannelMonitorUpdated confirms this
// exact update id, per spec §4.5's "update in progress" rule.
type inFlightUpdate struct {
	updateId uint64
	onAck    Event
}

type Engine struct {
	mu       sync.Mutex
	self     NodeId
	channels map[ChannelId]*ChannelEntry
	monitors map[FundingOutPoint]uint64         // outpoint -> latest acked update id
	inFlight map[FundingOutPoint]*inFlightUpdate // outpoint -> update awaiting ack
	events   chan Event
	nextId   func() uint64
}

func NewEngine(self NodeId, randUint64 func() uint64) *Engine {
	return &Engine{
		self:     self,
		channels: make(map[ChannelId]*ChannelEntry),
		monitors: make(map[FundingOutPoint]uint64),
		inFlight: make(map[FundingOutPoint]*inFlightUpdate),
		events:   make(chan Event, 256),
		nextId:   randUint64,
	}
}

func (e *Engine) NodeId() NodeId { return e.self }

func (e *Engine) Events() <-chan Event { return e.events }

func (e *Engine) ListChannels() []ChannelEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ChannelEntry, 0, len(e.channels))
	for _, c := range e.channels {
		out = append(out, *c)
	}
	return out
}

// OpenChannel begins channel negotiation: it assigns a temporary channel
// id and immediately emits FundingGenerationReady, mirroring how
// rust-lightning's create_channel call eventually surfaces that event
// once the counterparty has accepted the channel parameters.
func (e *Engine) OpenChannel(counterparty NodeId, valueSat, pushMsat uint64, userChannelId UserChannelId, cfg ChannelConfig) (ChannelId, error) {
	var temp FundingOutPoint
	temp.Vout = uint16(e.nextId() & 0xffff)
	for i := range temp.Txid {
		temp.Txid[i] = byte(e.nextId())
	}
	tempId := ChannelIdFromOutPoint(temp)

	e.mu.Lock()
	e.channels[tempId] = &ChannelEntry{
		ChannelId:     tempId,
		UserChannelId: userChannelId,
		Detail: ChannelDetail{
			Counterparty: counterparty,
			ValueSat:     valueSat,
			PushMsat:     pushMsat,
			Config:       cfg,
		},
	}
	e.mu.Unlock()

	outputScript := make([]byte, 34) // P2WSH placeholder; real script comes from the funding negotiation.
	e.emit(FundingGenerationReady{
		TemporaryChannelId: tempId,
		Counterparty:       counterparty,
		ChannelValueSat:    valueSat,
		OutputScript:       outputScript,
		UserChannelId:      userChannelId,
	})
	return tempId, nil
}

func (e *Engine) CloseChannel(channelId ChannelId, counterparty NodeId, targetFeerate *uint32) error {
	return e.closeChannel(channelId, counterparty, "cooperative close")
}

func (e *Engine) ForceCloseChannel(channelId ChannelId, counterparty NodeId, broadcast bool) error {
	reason := "force close (no broadcast)"
	if broadcast {
		reason = "force close"
	}
	return e.closeChannel(channelId, counterparty, reason)
}

func (e *Engine) closeChannel(channelId ChannelId, counterparty NodeId, reason string) error {
	e.mu.Lock()
	entry, ok := e.channels[channelId]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("channel unavailable: %s", channelId)
	}
	if entry.Detail.Counterparty != counterparty {
		e.mu.Unlock()
		return fmt.Errorf("channel %s does not belong to counterparty %s", channelId, counterparty)
	}
	userChannelId := entry.UserChannelId
	delete(e.channels, channelId)
	e.mu.Unlock()

	e.emit(ChannelClosed{ChannelId: channelId, Reason: reason, UserChannelId: userChannelId})
	return nil
}

func (e *Engine) UpdateChannelConfig(counterparty NodeId, channelIds []ChannelId, cfg ChannelConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range channelIds {
		entry, ok := e.channels[id]
		if !ok || entry.Detail.Counterparty != counterparty {
			return fmt.Errorf("channel unavailable: %s", id)
		}
		entry.Detail.Config = cfg
	}
	return nil
}

// FundingTransactionGenerated hands the signed funding transaction back
// to the engine, which then moves the channel from temporary to
// pending and emits ChannelPending.
func (e *Engine) FundingTransactionGenerated(temporaryChannelId ChannelId, counterparty NodeId, tx *wire.MsgTx) error {
	e.mu.Lock()
	entry, ok := e.channels[temporaryChannelId]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("no pending funding request for temporary channel %s", temporaryChannelId)
	}
	txid := tx.TxHash()
	outpoint := FundingOutPoint{Txid: txid, Vout: 0}
	realId := ChannelIdFromOutPoint(outpoint)

	entry.Detail.FundingTxo = &outpoint
	delete(e.channels, temporaryChannelId)
	entry.ChannelId = realId
	e.channels[realId] = entry
	former := temporaryChannelId
	userChannelId := entry.UserChannelId
	counterpartyOut := entry.Detail.Counterparty
	e.monitors[outpoint] = 0
	e.mu.Unlock()

	e.emit(ChannelPending{
		ChannelId:         realId,
		UserChannelId:     userChannelId,
		FormerTemporaryId: &former,
		Counterparty:      counterpartyOut,
		FundingTxo:        outpoint,
	})
	// The channel's first monitor write happens right here, before the
	// funding transaction is even broadcast, mirroring rust-lightning's
	// chain::Watch::watch_channel call at channel-open time; it has
	// nothing further to notify once acknowledged.
	e.queueMonitorUpdate(outpoint, realId, nil)
	return nil
}

// MarkChannelReady is called by chain.Syncer once a channel's funding
// transaction reaches fundingConfirmDepth confirmations; in the
// embedded-library design this transition happens inside the delegated
// engine once chain::Watch reports the same depth.
func (e *Engine) MarkChannelReady(channelId ChannelId) {
	e.mu.Lock()
	entry, ok := e.channels[channelId]
	if !ok {
		e.mu.Unlock()
		return
	}
	entry.Detail.IsChannelReady = true
	entry.Detail.IsUsable = true
	if entry.Detail.LocalBalanceMsat == 0 {
		entry.Detail.LocalBalanceMsat = entry.Detail.ValueSat*1000 - entry.Detail.PushMsat
	}
	userChannelId := entry.UserChannelId
	counterparty := entry.Detail.Counterparty
	e.mu.Unlock()

	e.emit(ChannelReady{ChannelId: channelId, UserChannelId: userChannelId, Counterparty: counterparty})
}

// debitOutboundChannel finds the first usable channel directly
// connected to payee with enough local balance for amountMsat and
// debits it. A single-path send in the reference engine; multi-path
// splitting across several channels is the delegated router's job
// (non-goal).
func (e *Engine) debitOutboundChannel(payee NodeId, amountMsat uint64) (FundingOutPoint, ChannelId, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.channels {
		if c.Detail.Counterparty != payee || !c.Detail.IsUsable || c.Detail.FundingTxo == nil {
			continue
		}
		if c.Detail.LocalBalanceMsat < amountMsat {
			continue
		}
		c.Detail.LocalBalanceMsat -= amountMsat
		return *c.Detail.FundingTxo, c.ChannelId, nil
	}
	return FundingOutPoint{}, ChannelId{}, fmt.Errorf("no usable channel with sufficient balance to %s", payee)
}

func (e *Engine) randomPreimage() PaymentPreimage {
	var p PaymentPreimage
	for i := range p {
		p[i] = byte(e.nextId())
	}
	return p
}

// SendPayment debits the outbound channel toward params.Payee and
// queues the resulting commitment-state monitor update; PaymentSent
// fires only once that update is acknowledged (spec §4.5), not here.
func (e *Engine) SendPayment(params SendPaymentParams) ([]PartialPaymentResult, error) {
	outpoint, channelId, err := e.debitOutboundChannel(params.Payee, params.AmountMsat)
	if err != nil {
		return nil, err
	}
	sent := PaymentSent{Id: params.PaymentId, Preimage: e.randomPreimage(), Hash: params.Hash}
	return []PartialPaymentResult{e.queueMonitorUpdate(outpoint, channelId, sent)}, nil
}

// SendSpontaneousPayment is SendPayment's keysend counterpart: there is
// no caller-supplied hash, so the engine derives one from a freshly
// generated preimage the way a real keysend payload does.
func (e *Engine) SendSpontaneousPayment(id PaymentId, payee NodeId, amountMsat uint64) ([]PartialPaymentResult, error) {
	outpoint, channelId, err := e.debitOutboundChannel(payee, amountMsat)
	if err != nil {
		return nil, err
	}
	preimage := e.randomPreimage()
	sent := PaymentSent{Id: id, Preimage: preimage, Hash: PaymentHash(sha256.Sum256(preimage[:]))}
	return []PartialPaymentResult{e.queueMonitorUpdate(outpoint, channelId, sent)}, nil
}

// ClaimFunds and ProcessPendingHTLCForwards remain no-ops: both are
// only ever invoked in response to PaymentClaimable/PendingHTLCsForwardable,
// and nothing in this port ever emits those — they require inbound
// HTLCs arriving over the Lightning peer protocol, which is delegated
// to the embedded library this reference engine stands in for (BOLT
// wire framing is a non-goal; see SPEC_FULL.md §0).
func (e *Engine) ClaimFunds(preimage PaymentPreimage) {}

func (e *Engine) ProcessPendingHTLCForwards() {}

// queueMonitorUpdate advances outpoint's update id by one and emits a
// MonitorUpdateNeeded event for the persistence layer to durably write.
// onAck (if non-nil) fires only once ChannelMonitorUpdated acknowledges
// this exact update id — spec §4.5's "the channel engine treats the
// monitor as update in progress and refuses to advance state beyond
// it". An outpoint already awaiting an acknowledgement reports
// MonitorUpdateInProgress instead of queuing a second update.
func (e *Engine) queueMonitorUpdate(outpoint FundingOutPoint, channelId ChannelId, onAck Event) PartialPaymentResult {
	e.mu.Lock()
	if _, busy := e.inFlight[outpoint]; busy {
		e.mu.Unlock()
		return PartialMonitorUpdateInProgress
	}
	next := e.monitors[outpoint] + 1
	e.inFlight[outpoint] = &inFlightUpdate{updateId: next, onAck: onAck}
	e.mu.Unlock()

	e.emit(MonitorUpdateNeeded{Outpoint: outpoint, ChannelId: channelId, UpdateId: next})
	return PartialOK
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		// The event channel is sized generously (256); a full channel
		// means the event loop has stalled, which is a bug elsewhere,
		// not something to deadlock the engine over.
	}
}

// Emit exposes event injection for the chain-sync/event-handler layer
// and for tests driving the engine without a live peer connection.
func (e *Engine) Emit(ev Event) { e.emit(ev) }

// --- ChainMonitor ---

func (e *Engine) WatchChannel(outpoint FundingOutPoint, monitor []byte, updateId uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.monitors[outpoint]; exists {
		return fmt.Errorf("channel monitor for %s already registered", outpoint)
	}
	e.monitors[outpoint] = updateId
	return nil
}

// ChannelMonitorUpdated acknowledges that update_id has been durably
// persisted. Acknowledgements for a given outpoint must arrive in
// non-decreasing order (spec §5); an out-of-order ack is rejected so a
// persistence-layer bug cannot silently regress the monitor. If this
// ack clears the outpoint's in-flight update, the deferred event
// queued alongside it (e.g. PaymentSent) is released only now — this
// is what lets the monitor's latest_update_id and the engine's own
// acknowledged state move in lockstep (spec §4.5/§8 scenario 3).
func (e *Engine) ChannelMonitorUpdated(outpoint FundingOutPoint, updateId uint64) error {
	e.mu.Lock()
	current, ok := e.monitors[outpoint]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("no monitor registered for %s", outpoint)
	}
	if updateId < current {
		e.mu.Unlock()
		return fmt.Errorf("monitor update id went backwards for %s: %d < %d", outpoint, updateId, current)
	}
	e.monitors[outpoint] = updateId

	var onAck Event
	if pending, busy := e.inFlight[outpoint]; busy && pending.updateId == updateId {
		onAck = pending.onAck
		delete(e.inFlight, outpoint)
	}
	e.mu.Unlock()

	if onAck != nil {
		e.emit(onAck)
	}
	return nil
}

func (e *Engine) LatestUpdateId(outpoint FundingOutPoint) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.monitors[outpoint]
	return id, ok
}
