package bitcoind

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BlockSource delegates header/block/best-block fetches to the JSON-RPC
// client, exactly the adapter spec §4.8 describes. It's the seam the
// chain package's bootstrap/poll loop is built against, kept separate
// from Client so tests can fake it without a real bitcoind.
type BlockSource interface {
	BestBlock() (chainhash.Hash, int64, error)
	BlockHash(height int64) (chainhash.Hash, error)
	RawBlock(hash chainhash.Hash) ([]byte, error)
}

type clientBlockSource struct{ client *Client }

func NewBlockSource(client *Client) BlockSource { return clientBlockSource{client} }

func (c clientBlockSource) BestBlock() (chainhash.Hash, int64, error) { return c.client.BestBlock() }
func (c clientBlockSource) BlockHash(height int64) (chainhash.Hash, error) {
	return c.client.BlockHash(height)
}
func (c clientBlockSource) RawBlock(hash chainhash.Hash) ([]byte, error) {
	return c.client.RawBlock(hash)
}

// DecodeBlock parses raw block bytes into a wire.MsgBlock, used once the
// chain-sync poll loop has fetched a block's bytes from RawBlock.
func DecodeBlock(raw []byte) (*wire.MsgBlock, error) {
	block := &wire.MsgBlock{}
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return block, nil
}
