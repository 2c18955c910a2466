// Package ln holds the domain model shared by every control-plane
// component: the identifiers from spec §3, the channel/invoice/payment/
// forward records, the Lightning event types, and the ChannelManager /
// ChainMonitor / PeerHandler interfaces that stand in for the embedded
// Lightning library the daemon wraps (see SPEC_FULL.md §0 — there is no
// published Go equivalent of rust-lightning/LDK, so this package defines
// the delegation boundary the rest of the core is built against).
package ln

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// NodeId is a 33-byte compressed secp256k1 public key identifying a peer.
type NodeId [33]byte

func NodeIdFromPubKey(pk *btcec.PublicKey) NodeId {
	var id NodeId
	copy(id[:], pk.SerializeCompressed())
	return id
}

func (n NodeId) PubKey() (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(n[:])
}

func (n NodeId) String() string { return hex.EncodeToString(n[:]) }

// ChannelId is the 32-byte identifier that stays stable once a channel
// has moved past the pending state.
type ChannelId [32]byte

func (c ChannelId) String() string { return hex.EncodeToString(c[:]) }

func ChannelIdFromOutPoint(op FundingOutPoint) ChannelId {
	// The reference engine derives the channel id the same way
	// rust-lightning does pre-taproot: the funding txid XORed with the
	// big-endian output index, which keeps it stable and collision-free
	// for a given funding outpoint.
	var id ChannelId
	copy(id[:], op.Txid[:])
	id[30] ^= byte(op.Vout >> 8)
	id[31] ^= byte(op.Vout)
	return id
}

// FundingOutPoint anchors a channel on-chain.
type FundingOutPoint struct {
	Txid chainhash.Hash
	Vout uint16
}

func (f FundingOutPoint) String() string {
	return fmt.Sprintf("%s:%d", f.Txid.String(), f.Vout)
}

// UserChannelId is an opaque 63-bit value (masked to fit a signed int64
// database column) chosen by the node at open_channel time, used only to
// correlate the asynchronous funding-ready event with the REST call that
// triggered it. See spec §9 for why 63 bits rather than the full 64.
type UserChannelId uint64

func NewUserChannelId(source func() uint64) UserChannelId {
	return UserChannelId(source() / 2)
}

// PaymentId distinguishes concurrent attempts at the same payment hash.
type PaymentId [32]byte

func (p PaymentId) String() string { return hex.EncodeToString(p[:]) }

// PaymentHash, PaymentPreimage and PaymentSecret are 32-byte values;
// Hash = SHA-256(Preimage).
type PaymentHash [32]byte
type PaymentPreimage [32]byte
type PaymentSecret [32]byte

func (h PaymentHash) String() string      { return hex.EncodeToString(h[:]) }
func (p PaymentPreimage) String() string  { return hex.EncodeToString(p[:]) }

// ShortChannelId is the compact 64-bit identifier of a confirmed channel
// (block height << 40 | tx index << 16 | output index).
type ShortChannelId uint64

func NewShortChannelId(blockHeight uint32, txIndex uint32, outputIndex uint16) ShortChannelId {
	return ShortChannelId(uint64(blockHeight)<<40 | uint64(txIndex&0xffffff)<<16 | uint64(outputIndex))
}

func (s ShortChannelId) BlockHeight() uint32 { return uint32(s >> 40) }
