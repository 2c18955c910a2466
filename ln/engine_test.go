package ln

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/wire"
)

// counter returns a deterministic stand-in for klog.Uint64, incrementing
// on every call so temp ids/preimages/outpoints never collide within one
// test run.
func counter() func() uint64 {
	var n uint64
	return func() uint64 {
		n++
		return n
	}
}

func openReadyChannel(t *testing.T, e *Engine, counterparty NodeId, valueSat uint64) (FundingOutPoint, ChannelId) {
	t.Helper()
	tempId, err := e.OpenChannel(counterparty, valueSat, 0, UserChannelId(1), ChannelConfig{})
	if err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	<-e.Events() // FundingGenerationReady

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(int64(valueSat), make([]byte, 34)))
	if err := e.FundingTransactionGenerated(tempId, counterparty, tx); err != nil {
		t.Fatalf("FundingTransactionGenerated: %v", err)
	}
	<-e.Events() // ChannelPending
	<-e.Events() // MonitorUpdateNeeded for the channel-open write

	outpoint := FundingOutPoint{Txid: tx.TxHash(), Vout: 0}
	channelId := ChannelIdFromOutPoint(outpoint)
	if err := e.ChannelMonitorUpdated(outpoint, 1); err != nil {
		t.Fatalf("acking open monitor update: %v", err)
	}

	e.MarkChannelReady(channelId)
	<-e.Events() // ChannelReady

	return outpoint, channelId
}

func TestSendPaymentAdvancesMonitorUpdateId(t *testing.T) {
	self := NodeId{1}
	counterparty := NodeId{2}
	e := NewEngine(self, counter())

	outpoint, _ := openReadyChannel(t, e, counterparty, 1_000_000)
	if id, ok := e.LatestUpdateId(outpoint); !ok || id != 1 {
		t.Fatalf("expected update id 1 after open, got %d (ok=%v)", id, ok)
	}

	var hash PaymentHash
	results, err := e.SendPayment(SendPaymentParams{PaymentId: PaymentId{9}, Hash: hash, AmountMsat: 1000, Payee: counterparty})
	if err != nil {
		t.Fatalf("SendPayment: %v", err)
	}
	if len(results) != 1 || results[0] != PartialOK {
		t.Fatalf("expected a single PartialOK, got %v", results)
	}

	select {
	case ev := <-e.Events():
		if _, ok := ev.(MonitorUpdateNeeded); !ok {
			t.Fatalf("expected MonitorUpdateNeeded, got %T", ev)
		}
	default:
		t.Fatal("expected a queued MonitorUpdateNeeded event")
	}

	// A second payment before the first update acks must report
	// in-progress rather than queue a conflicting update.
	results, err = e.SendPayment(SendPaymentParams{PaymentId: PaymentId{10}, Hash: hash, AmountMsat: 1000, Payee: counterparty})
	if err != nil {
		t.Fatalf("SendPayment (second): %v", err)
	}
	if len(results) != 1 || results[0] != PartialMonitorUpdateInProgress {
		t.Fatalf("expected PartialMonitorUpdateInProgress while an update is in flight, got %v", results)
	}

	if err := e.ChannelMonitorUpdated(outpoint, 2); err != nil {
		t.Fatalf("acking payment monitor update: %v", err)
	}
	if id, ok := e.LatestUpdateId(outpoint); !ok || id != 2 {
		t.Fatalf("expected update id 2 after ack, got %d (ok=%v)", id, ok)
	}

	select {
	case ev := <-e.Events():
		sent, ok := ev.(PaymentSent)
		if !ok {
			t.Fatalf("expected PaymentSent once the update acked, got %T", ev)
		}
		if sent.Id != (PaymentId{9}) {
			t.Fatalf("PaymentSent carries the wrong payment id: %v", sent.Id)
		}
	default:
		t.Fatal("expected PaymentSent to be released by the ack")
	}
}

func TestMarkChannelReadySetsUsableAndEmitsChannelReady(t *testing.T) {
	self := NodeId{1}
	counterparty := NodeId{2}
	e := NewEngine(self, counter())

	_, channelId := openReadyChannel(t, e, counterparty, 500_000)

	for _, c := range e.ListChannels() {
		if c.ChannelId == channelId {
			if !c.Detail.IsChannelReady || !c.Detail.IsUsable {
				t.Fatalf("expected channel %s to be ready and usable, got %+v", channelId, c.Detail)
			}
			if c.Detail.LocalBalanceMsat != 500_000*1000 {
				t.Fatalf("expected local balance to seed from the channel value, got %d", c.Detail.LocalBalanceMsat)
			}
			return
		}
	}
	t.Fatalf("channel %s not found after MarkChannelReady", channelId)
}

func TestSendSpontaneousPaymentDerivesHashFromPreimage(t *testing.T) {
	self := NodeId{1}
	counterparty := NodeId{2}
	e := NewEngine(self, counter())

	outpoint, _ := openReadyChannel(t, e, counterparty, 1_000_000)

	results, err := e.SendSpontaneousPayment(PaymentId{11}, counterparty, 2000)
	if err != nil {
		t.Fatalf("SendSpontaneousPayment: %v", err)
	}
	if len(results) != 1 || results[0] != PartialOK {
		t.Fatalf("expected PartialOK, got %v", results)
	}
	<-e.Events() // MonitorUpdateNeeded

	if err := e.ChannelMonitorUpdated(outpoint, 2); err != nil {
		t.Fatalf("acking keysend update: %v", err)
	}

	ev := <-e.Events()
	sent, ok := ev.(PaymentSent)
	if !ok {
		t.Fatalf("expected PaymentSent, got %T", ev)
	}
	if sent.Hash != PaymentHash(sha256.Sum256(sent.Preimage[:])) {
		t.Fatalf("payment hash does not match sha256(preimage)")
	}
}
