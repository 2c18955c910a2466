package bitcoind

import "testing"

func TestIsBenign(t *testing.T) {
	cases := map[string]bool{
		"Transaction already in block chain":       true,
		"bad-txns-inputs-missingorspent":            true,
		"txn-mempool-conflict":                      true,
		"insufficient fee, rejecting replacement":   true,
		"some totally unrelated backend error":      false,
		"":                                          false,
	}
	for msg, want := range cases {
		if got := isBenign(msg); got != want {
			t.Errorf("isBenign(%q) = %v, want %v", msg, got, want)
		}
	}
}
