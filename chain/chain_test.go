package chain

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

type fakeSource struct {
	hash   chainhash.Hash
	height int64
	blocks map[int64]chainhash.Hash
}

func (f *fakeSource) BestBlock() (chainhash.Hash, int64, error) { return f.hash, f.height, nil }
func (f *fakeSource) BlockHash(height int64) (chainhash.Hash, error) {
	h, ok := f.blocks[height]
	if !ok {
		return chainhash.Hash{}, nil
	}
	return h, nil
}
func (f *fakeSource) RawBlock(hash chainhash.Hash) ([]byte, error) {
	// A minimal valid serialized block: 80-byte header + 0 transactions.
	return make([]byte, 81), nil
}

func hashAt(height byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = height
	return h
}

func TestPollBestTipNoChangeIsNoop(t *testing.T) {
	src := &fakeSource{hash: hashAt(1), height: 100}
	s := &Syncer{source: src, tip: Tip{Hash: hashAt(1), Height: 100}}
	if err := s.pollBestTip(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.tip.Height != 100 {
		t.Fatalf("tip should not have moved, got height %d", s.tip.Height)
	}
}

func TestPollBestTipAdvancesOnNewBlock(t *testing.T) {
	src := &fakeSource{
		hash:   hashAt(2),
		height: 101,
		blocks: map[int64]chainhash.Hash{101: hashAt(2)},
	}
	s := &Syncer{source: src, tip: Tip{Hash: hashAt(1), Height: 100}}
	if err := s.pollBestTip(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.tip.Height != 101 || s.tip.Hash != hashAt(2) {
		t.Fatalf("expected tip to advance to height 101, got %+v", s.tip)
	}
}
