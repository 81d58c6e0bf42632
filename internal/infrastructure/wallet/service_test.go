package wallet

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	blocks    []*wire.MsgBlock
	mempool   []*wire.MsgTx
	broadcast []*wire.MsgTx
}

func (n *fakeNode) GetBlockCount() (int64, error) {
	return int64(len(n.blocks)), nil
}

func (n *fakeNode) GetBlockHash(height int64) (*chainhash.Hash, error) {
	if height < 1 || height > int64(len(n.blocks)) {
		return nil, fmt.Errorf("no block at height %d", height)
	}
	hash := n.blocks[height-1].BlockHash()
	return &hash, nil
}

func (n *fakeNode) GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error) {
	for _, block := range n.blocks {
		if block.BlockHash() == *hash {
			return block, nil
		}
	}
	return nil, fmt.Errorf("unknown block %s", hash)
}

func (n *fakeNode) GetRawMempool() ([]*chainhash.Hash, error) {
	txids := make([]*chainhash.Hash, 0, len(n.mempool))
	for _, tx := range n.mempool {
		txid := tx.TxHash()
		txids = append(txids, &txid)
	}
	return txids, nil
}

func (n *fakeNode) GetRawTransaction(hash *chainhash.Hash) (*btcutil.Tx, error) {
	for _, tx := range n.mempool {
		if tx.TxHash() == *hash {
			return btcutil.NewTx(tx), nil
		}
	}
	return nil, fmt.Errorf("unknown tx %s", hash)
}

func (n *fakeNode) SendRawTransaction(tx *wire.MsgTx, _ bool) (*chainhash.Hash, error) {
	n.broadcast = append(n.broadcast, tx)
	txid := tx.TxHash()
	return &txid, nil
}

func (n *fakeNode) Shutdown() {}

func (n *fakeNode) addBlock(txs ...*wire.MsgTx) {
	block := &wire.MsgBlock{
		Header: wire.BlockHeader{Nonce: uint32(len(n.blocks) + 1)},
	}
	if len(n.blocks) > 0 {
		block.Header.PrevBlock = n.blocks[len(n.blocks)-1].BlockHash()
	}
	if len(txs) > 0 {
		block.Header.MerkleRoot = txs[0].TxHash()
	}
	block.Transactions = txs
	n.blocks = append(n.blocks, block)
}

func payment(value int64, pkScript []byte, prevOuts ...wire.OutPoint) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	if len(prevOuts) == 0 {
		prevOuts = []wire.OutPoint{{Hash: chainhash.HashH(pkScript), Index: 0xffffffff}}
	}
	for i := range prevOuts {
		tx.AddTxIn(wire.NewTxIn(&prevOuts[i], nil, nil))
	}
	tx.AddTxOut(wire.NewTxOut(value, pkScript))
	return tx
}

func newTestService(t *testing.T, node *fakeNode) *service {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	svc, err := newService(node, ServiceConfig{
		PubKey:    key.PubKey(),
		NetParams: &chaincfg.RegressionNetParams,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestAddressIsIdempotent(t *testing.T) {
	svc := newTestService(t, &fakeNode{})

	first, err := svc.Address(context.Background())
	require.NoError(t, err)
	second, err := svc.Address(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.String(), second.String())
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{}
	svc := newTestService(t, node)

	funding := payment(10_000, svc.pkScript)
	node.addBlock(funding)

	balance, err := svc.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(10_000), balance)

	tip, err := svc.TipHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(1), tip)

	// a confirmed spend replaces the tracked utxo
	spend := payment(
		6_000, svc.pkScript, wire.OutPoint{Hash: funding.TxHash(), Index: 0},
	)
	node.addBlock(spend)

	balance, err = svc.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(6_000), balance)

	// mempool txs overlay the confirmed state
	node.mempool = append(node.mempool, payment(500, svc.pkScript))

	balance, err = svc.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(6_500), balance)

	// the overlay is rebuilt on every sync, not accumulated
	balance, err = svc.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(6_500), balance)
}

func TestSyncMempoolSpendEviction(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{}
	svc := newTestService(t, node)

	funding := payment(10_000, svc.pkScript)
	node.addBlock(funding)

	balance, err := svc.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(10_000), balance)

	// a mempool tx spends the confirmed utxo away
	foreign := append([]byte{0x51, 0x20}, bytes.Repeat([]byte{0xaa}, 32)...)
	node.mempool = append(node.mempool, payment(
		9_500, foreign, wire.OutPoint{Hash: funding.TxHash(), Index: 0},
	))

	balance, err = svc.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(0), balance)

	// the spend is evicted without ever confirming, the confirmed utxo
	// must survive
	node.mempool = nil

	balance, err = svc.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(10_000), balance)
}

func TestSyncDetectsReorg(t *testing.T) {
	ctx := context.Background()
	node := &fakeNode{}
	svc := newTestService(t, node)

	node.addBlock(payment(10_000, svc.pkScript))

	_, err := svc.Sync(ctx)
	require.NoError(t, err)

	// replace the block behind the checkpoint with a competing one
	node.blocks = nil
	node.addBlock(payment(7_000, svc.pkScript))

	_, err = svc.Sync(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "reorg")
}

func TestBroadcastTransaction(t *testing.T) {
	node := &fakeNode{}
	svc := newTestService(t, node)

	tx := payment(1_000, svc.pkScript)
	txid, err := svc.BroadcastTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash().String(), txid)
	require.Len(t, node.broadcast, 1)
}
