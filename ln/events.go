package ln

import (
	"github.com/btcsuite/btcd/wire"
)

// Event is the closed set of Lightning events the event handler (spec
// §4.4) dispatches on. Every concrete event type below implements it as
// a marker; the handler type-switches on the concrete type exactly as
// rust-lightning's Event enum is matched in the original.
type Event interface{ isEvent() }

type FundingGenerationReady struct {
	TemporaryChannelId ChannelId
	Counterparty       NodeId
	ChannelValueSat    uint64
	OutputScript       []byte
	UserChannelId      UserChannelId
}

type ChannelPending struct {
	ChannelId         ChannelId
	UserChannelId     UserChannelId
	FormerTemporaryId *ChannelId
	Counterparty      NodeId
	FundingTxo        FundingOutPoint
}

type ChannelReady struct {
	ChannelId     ChannelId
	UserChannelId UserChannelId
	Counterparty  NodeId
}

type ChannelClosed struct {
	ChannelId     ChannelId
	Reason        string
	UserChannelId UserChannelId
}

type DiscardFunding struct {
	ChannelId ChannelId
	Tx        *wire.MsgTx
}

// PaymentPurpose distinguishes an invoice payment (carrying the payment
// secret used to verify the payer knew the invoice) from a spontaneous
// keysend payment (carrying only the preimage).
type PaymentPurpose struct {
	InvoicePayment bool
	Preimage       *PaymentPreimage
	Secret         *PaymentSecret
}

type PaymentClaimable struct {
	Hash       PaymentHash
	Purpose    PaymentPurpose
	AmountMsat uint64
}

type PaymentClaimed struct {
	Hash       PaymentHash
	Purpose    PaymentPurpose
	AmountMsat uint64
}

type PaymentSent struct {
	Id       PaymentId
	Preimage PaymentPreimage
	Hash     PaymentHash
	FeeMsat  *uint64
}

type PaymentFailed struct {
	Id     PaymentId
	Hash   PaymentHash
	Reason *string
}

// NetworkUpdate carries a scorer-relevant graph update derived from a
// failed payment path (e.g. "this channel is temporarily unusable").
type NetworkUpdate struct {
	ShortChannelId ShortChannelId
	Disabled       bool
}

type PaymentPathSuccessful struct {
	Id   PaymentId
	Path []ShortChannelId
}

type PaymentPathFailed struct {
	Id            PaymentId
	Path          []ShortChannelId
	NetworkUpdate *NetworkUpdate
}

type PaymentForwarded struct {
	PrevChannel *ChannelId
	NextChannel *ChannelId
	FeeEarnedMsat *uint64
	ClaimOnchain  bool
	OutAmountMsat *uint64
}

type HTLCHandlingFailed struct {
	PrevChannel     ChannelId
	FailedDestination *NodeId
}

type PendingHTLCsForwardable struct {
	TimeSeconds uint32
}

type SpendableOutputs struct {
	Outputs   []SpendableOutput
	ChannelId *ChannelId
}

type HTLCIntercepted struct{ InterceptId [32]byte }
type InvoiceRequestFailed struct{ PaymentId PaymentId }
type ConnectionNeeded struct{ NodeId NodeId }

// MonitorUpdateNeeded carries a channel-monitor write that must land
// durably before the engine can acknowledge the state change it guards
// (spec §4.5's persist_new_channel/update_persisted_channel). Real
// rust-lightning surfaces this through a separate Persist trait
// callback; this reference engine routes it through the same event
// channel the rest of the dispatch table already drains, since nothing
// here has a second channel to the persistence layer.
type MonitorUpdateNeeded struct {
	Outpoint  FundingOutPoint
	ChannelId ChannelId
	UpdateId  uint64
}

func (FundingGenerationReady) isEvent()  {}
func (ChannelPending) isEvent()          {}
func (ChannelReady) isEvent()            {}
func (ChannelClosed) isEvent()           {}
func (DiscardFunding) isEvent()          {}
func (PaymentClaimable) isEvent()        {}
func (PaymentClaimed) isEvent()          {}
func (PaymentSent) isEvent()             {}
func (PaymentFailed) isEvent()           {}
func (PaymentPathSuccessful) isEvent()   {}
func (PaymentPathFailed) isEvent()       {}
func (PaymentForwarded) isEvent()        {}
func (HTLCHandlingFailed) isEvent()      {}
func (PendingHTLCsForwardable) isEvent() {}
func (SpendableOutputs) isEvent()        {}
func (HTLCIntercepted) isEvent()         {}
func (InvoiceRequestFailed) isEvent()    {}
func (ConnectionNeeded) isEvent()        {}
func (MonitorUpdateNeeded) isEvent()     {}
