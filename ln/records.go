package ln

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SocketAddress is a typed peer network address: a bare TCP host:port, or
// a Tor onion address. Grounded on original_source/kld/src/api/netaddress.rs
// and skt_addr.rs, which keep the onion/clearnet distinction explicit
// instead of treating every address as an opaque string.
type SocketAddress struct {
	Host string
	Port uint16
	Onion bool
}

func (a SocketAddress) IsIPv4() bool {
	if a.Onion {
		return false
	}
	for _, r := range a.Host {
		if r == ':' {
			return false
		}
	}
	return true
}

// String renders a dialable "host:port" (the Onion flag carries no
// separate wire representation here — the daemon dials onion addresses
// through the same net.Dial path once Tor's SOCKS proxy is configured).
func (a SocketAddress) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// ParseSocketAddress parses a config-file address of the form
// "host:port" or "host:port:onion", the same shape advertised addresses
// and persisted peer hints take (see database.encodeSocketAddress).
func ParseSocketAddress(s string) (SocketAddress, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return SocketAddress{}, fmt.Errorf("malformed address %q: want host:port", s)
	}
	port, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return SocketAddress{}, fmt.Errorf("malformed port in %q: %w", s, err)
	}
	return SocketAddress{
		Host:  parts[0],
		Port:  uint16(port),
		Onion: len(parts) == 3 && parts[2] == "onion",
	}, nil
}

// Peer is persisted for reconnection.
type Peer struct {
	PublicKey NodeId
	Address   SocketAddress
}

// ChannelConfig are the per-channel forwarding/reserve parameters that
// can be overridden from the node-wide default via set_channel_fee.
type ChannelConfig struct {
	ForwardingFeeBaseMsat uint32
	ForwardingFeePPM      uint32
	CltvExpiryDelta       uint16
	MaxDustHTLCExposure   uint64
}

// ChannelDetail is the detail blob of a ChannelRecord: counterparty,
// funding outpoint, short channel id, capacities, balances, config and
// flags, as described in spec §3.
type ChannelDetail struct {
	Counterparty     NodeId
	FundingTxo       *FundingOutPoint
	ShortChannelId   *ShortChannelId
	ValueSat         uint64
	LocalBalanceMsat uint64
	PushMsat         uint64
	IsPublic         bool
	IsUsable         bool
	IsChannelReady   bool
	Config           ChannelConfig
}

// ChannelRecord is the logical channel state row described in spec §3.
// Invariants (enforced by callers in the database/event packages, not by
// the struct itself):
//   - exactly one FundingOutpoint once the channel leaves Pending
//   - UpdateTimestamp >= OpenTimestamp
//   - ClosureReason set iff the channel is terminal
type ChannelRecord struct {
	ChannelId       ChannelId
	UserChannelId   UserChannelId
	OpenTimestamp   time.Time
	UpdateTimestamp time.Time
	ClosureReason   *string
	Detail          ChannelDetail
}

func (c *ChannelRecord) IsTerminal() bool { return c.ClosureReason != nil }

// InvoiceStatus enumerates an invoice's lifecycle.
type InvoiceStatus int

const (
	InvoiceUnpaid InvoiceStatus = iota
	InvoicePaid
	InvoiceExpired
)

// Invoice is a BOLT-11 invoice tracked by the node.
type Invoice struct {
	Label       *string
	Bolt11      string
	PaymentHash PaymentHash
	Description string
	Status      InvoiceStatus
	AmountMsat  *uint64
	PaidAt      *time.Time
	ExpiresAt   *time.Time
}

// PaymentStatus enumerates a payment attempt's lifecycle.
type PaymentStatus int

const (
	PaymentPending PaymentStatus = iota
	PaymentSucceeded
	PaymentFailed
)

// PaymentDirection distinguishes money the node sent from money it
// received.
type PaymentDirection int

const (
	PaymentOutbound PaymentDirection = iota
	PaymentInbound
)

// Payment is a single payment attempt, keyed by PaymentId so concurrent
// attempts at the same PaymentHash (retries) don't collide.
type Payment struct {
	PaymentId  PaymentId
	Hash       PaymentHash
	Preimage   *PaymentPreimage
	Secret     *PaymentSecret
	Label      *string
	Status     PaymentStatus
	AmountMsat uint64
	FeeMsat    *uint64
	Direction  PaymentDirection
	Timestamp  time.Time
	Bolt11     *string
}

// ForwardStatus enumerates the outcome of an HTLC forward attempt.
type ForwardStatus int

const (
	ForwardSucceeded ForwardStatus = iota
	ForwardFailed
)

// ForwardRecord is a single HTLC forward accounting row.
type ForwardRecord struct {
	Id                int64
	InboundChannelId  ChannelId
	OutboundChannelId *ChannelId
	AmountMsat        *uint64
	FeeMsat           *uint64
	Status            ForwardStatus
	HTLCDestination   *NodeId
	Timestamp         time.Time
}

// SpendableOutput is a single output handed to the wallet for sweeping
// after a SpendableOutputs event, persisted unspent until the sweep
// transaction that claims it has been broadcast.
type SpendableOutput struct {
	Outpoint    FundingOutPoint
	ValueSat    uint64
	ChannelId   *ChannelId
	Spent       bool
	Descriptor  []byte
}
