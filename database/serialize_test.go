package database

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/kuutamolabs/kld/ln"
)

func TestSocketAddressRoundTrip(t *testing.T) {
	cases := []ln.SocketAddress{
		{Host: "203.0.113.1", Port: 9735},
		{Host: "abcdefghijklmnop.onion", Port: 9735, Onion: true},
	}
	for _, want := range cases {
		got, err := decodeSocketAddress(encodeSocketAddress(want))
		if err != nil {
			t.Fatalf("decode %v: %v", want, err)
		}
		if got != want {
			t.Errorf("round trip: got %+v, want %+v", got, want)
		}
	}
}

func TestOutpointRoundTrip(t *testing.T) {
	var txid chainhash.Hash
	copy(txid[:], []byte("0123456789abcdef0123456789abcdef"))
	want := ln.FundingOutPoint{Txid: txid, Vout: 7}

	got, err := decodeOutpoint(encodeOutpoint(want))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("round trip: got %+v, want %+v", got, want)
	}
}

func TestDecodeOutpointRejectsShortInput(t *testing.T) {
	if _, err := decodeOutpoint([]byte("too short")); err == nil {
		t.Fatal("expected error for malformed outpoint bytes")
	}
}
