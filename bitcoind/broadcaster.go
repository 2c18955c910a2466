package bitcoind

import (
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/wire"
)

// benignBroadcastErrors are substrings of bitcoind error messages that
// mean "already known to the backend" rather than a real failure (spec
// §4.8, §7).
var benignBroadcastErrors = []string{
	"Transaction already in block chain",
	"Inputs missing or spent",
	"bad-txns-inputs-missingorspent",
	"txn-mempool-conflict",
	"non-BIP68-final",
	"insufficient fee, rejecting replacement",
}

// Broadcaster is a fire-and-forget BroadcasterInterface implementation:
// errors the backend already knows about are swallowed, everything else
// is logged at error level without killing the process (spec §4.8, §7).
type Broadcaster struct {
	client *Client
}

func NewBroadcaster(client *Client) *Broadcaster {
	return &Broadcaster{client: client}
}

func (b *Broadcaster) BroadcastTransaction(tx *wire.MsgTx) {
	var buf strings.Builder
	if err := tx.Serialize(hexWriter{&buf}); err != nil {
		log.Errorf("serializing transaction %s for broadcast: %v", tx.TxHash(), err)
		return
	}
	if err := b.client.SendRawTransaction(buf.String()); err != nil {
		if isBenign(err.Error()) {
			log.Debugf("broadcast of %s: benign error (already known): %v", tx.TxHash(), err)
			return
		}
		log.Errorf("broadcasting transaction %s: %v", tx.TxHash(), err)
	}
}

func isBenign(msg string) bool {
	for _, benign := range benignBroadcastErrors {
		if strings.Contains(msg, benign) {
			return true
		}
	}
	return false
}

// hexWriter adapts an io.Writer expecting raw bytes (wire.MsgTx.Serialize)
// into hex text accumulated in a strings.Builder, so the RPC call can
// send the hex string bitcoind's sendrawtransaction expects without an
// intermediate []byte copy.
type hexWriter struct{ b *strings.Builder }

func (w hexWriter) Write(p []byte) (int, error) {
	w.b.WriteString(hex.EncodeToString(p))
	return len(p), nil
}
