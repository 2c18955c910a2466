package wallet

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

func TestDeriveChildIsDeterministic(t *testing.T) {
	seed := make([]byte, seedLen)
	for i := range seed {
		seed[i] = byte(i)
	}
	w, err := New(seed, &chaincfg.RegressionNetParams, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	k1, err := w.deriveChild(0, 0)
	if err != nil {
		t.Fatalf("deriveChild: %v", err)
	}
	k2, err := w.deriveChild(0, 0)
	if err != nil {
		t.Fatalf("deriveChild: %v", err)
	}
	if !bytes.Equal(k1.Serialize(), k2.Serialize()) {
		t.Fatal("deriving the same branch/index twice produced different keys")
	}

	k3, err := w.deriveChild(0, 1)
	if err != nil {
		t.Fatalf("deriveChild: %v", err)
	}
	if bytes.Equal(k1.Serialize(), k3.Serialize()) {
		t.Fatal("different indices produced the same key")
	}
}

func TestScriptForProducesWitnessProgram(t *testing.T) {
	seed := make([]byte, seedLen)
	w, err := New(seed, &chaincfg.RegressionNetParams, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	priv, err := w.deriveChild(0, 0)
	if err != nil {
		t.Fatalf("deriveChild: %v", err)
	}
	script, addr, err := scriptFor(priv, &chaincfg.RegressionNetParams)
	if err != nil {
		t.Fatalf("scriptFor: %v", err)
	}
	if len(script) != 22 || script[0] != 0x00 || script[1] != 0x14 {
		t.Fatalf("expected a P2WPKH witness program, got %x", script)
	}
	if addr.EncodeAddress() == "" {
		t.Fatal("expected non-empty address")
	}
}
