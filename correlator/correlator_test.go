package correlator

import (
	"testing"

	"github.com/kuutamolabs/kld/ln"
)

func TestRespondFundingDeliversResult(t *testing.T) {
	c := New()
	var id ln.UserChannelId = 42
	resp := make(chan FundingResult, 1)
	c.mu.Lock()
	c.funding[id] = FundingRequest{Response: resp}
	c.mu.Unlock()

	c.RespondFunding(id, FundingResult{Tx: []byte{1, 2, 3}})

	select {
	case result := <-resp:
		if len(result.Tx) != 3 {
			t.Fatalf("unexpected tx payload: %x", result.Tx)
		}
	default:
		t.Fatal("expected a buffered result on the response channel")
	}

	if _, ok := c.GetFunding(id); ok {
		t.Fatal("expected the entry to be removed after responding")
	}
}

func TestRespondFundingIgnoresUnknownId(t *testing.T) {
	c := New()
	// Must not panic or block when nothing is registered.
	c.RespondFunding(7, FundingResult{})
}

func TestGetPaymentRemovesEntry(t *testing.T) {
	c := New()
	var id ln.PaymentId
	id[0] = 1
	resp := c.InsertPayment(id, ln.Payment{})

	req, ok := c.GetPayment(id)
	if !ok {
		t.Fatal("expected the entry to be present")
	}
	req.Response <- PaymentResult{}
	if r := <-resp; r.Err != nil {
		t.Fatalf("unexpected error: %v", r.Err)
	}

	if _, ok := c.GetPayment(id); ok {
		t.Fatal("expected the entry to be gone after GetPayment")
	}
}
