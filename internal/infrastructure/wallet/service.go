package wallet

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/arkade-os/aspd/internal/core/ports"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
)

// durable checkpoint cadence while catching up from a cold start
const checkpointInterval = 10_000

// nodeClient is the slice of the full-node RPC surface the wallet consumes.
type nodeClient interface {
	GetBlockCount() (int64, error)
	GetBlockHash(height int64) (*chainhash.Hash, error)
	GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error)
	GetRawMempool() ([]*chainhash.Hash, error)
	GetRawTransaction(hash *chainhash.Hash) (*btcutil.Tx, error)
	SendRawTransaction(tx *wire.MsgTx, allowHighFees bool) (*chainhash.Hash, error)
	Shutdown()
}

type ServiceConfig struct {
	// NodeUrl is the host:port of the bitcoind JSON-RPC endpoint.
	NodeUrl string
	// CookiePath authenticates against the node's cookie file.
	CookiePath string
	DataDir    string
	PubKey     *btcec.PublicKey
	NetParams  *chaincfg.Params
	Logger     badger.Logger
}

// service tracks the wallet's utxo set by scanning blocks from the last
// checkpoint and overlaying the mempool on top. Sync calls serialize on an
// internal lock.
type service struct {
	node     nodeClient
	store    *walletStore
	address  btcutil.Address
	pkScript []byte
	lock     sync.Mutex
}

func NewService(cfg ServiceConfig) (ports.WalletService, error) {
	node, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.NodeUrl,
		CookiePath:   cfg.CookiePath,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}
	return newService(node, cfg)
}

func newService(node nodeClient, cfg ServiceConfig) (*service, error) {
	store, err := newWalletStore(cfg.DataDir, cfg.Logger)
	if err != nil {
		return nil, err
	}

	// key-path only P2TR receive script, reused until a tx touches it
	outputKey := txscript.ComputeTaprootOutputKey(cfg.PubKey, nil)
	address, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(outputKey), cfg.NetParams,
	)
	if err != nil {
		store.close()
		return nil, err
	}
	pkScript, err := txscript.PayToAddrScript(address)
	if err != nil {
		store.close()
		return nil, err
	}

	return &service{node: node, store: store, address: address, pkScript: pkScript}, nil
}

func (s *service) Address(_ context.Context) (btcutil.Address, error) {
	return s.address, nil
}

func (s *service) TipHeight(_ context.Context) (uint32, error) {
	tip, err := s.node.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("failed to get block count: %w", err)
	}
	return uint32(tip), nil
}

// Sync verifies the stored checkpoint still lies on the node's chain, then
// scans blocks from there to the tip, committing a checkpoint every
// checkpointInterval blocks, applies the mempool as an unconfirmed overlay
// and returns the resulting balance.
func (s *service) Sync(ctx context.Context) (btcutil.Amount, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.store.dropUnconfirmed(); err != nil {
		return 0, err
	}

	tip, err := s.node.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("failed to get block count: %w", err)
	}
	checkpoint, checkpointHash, err := s.store.checkpoint()
	if err != nil {
		return 0, err
	}
	if checkpoint > 0 && checkpointHash != "" {
		hash, err := s.node.GetBlockHash(int64(checkpoint))
		if err != nil {
			return 0, fmt.Errorf("failed to get block hash at %d: %w", checkpoint, err)
		}
		if hash.String() != checkpointHash {
			return 0, fmt.Errorf(
				"chain reorg detected: block at checkpoint height %d is %s, expected %s",
				checkpoint, hash, checkpointHash,
			)
		}
	}

	var lastHash string
	for height := checkpoint + 1; height <= uint32(tip); height++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		hash, err := s.node.GetBlockHash(int64(height))
		if err != nil {
			return 0, fmt.Errorf("failed to get block hash at %d: %w", height, err)
		}
		block, err := s.node.GetBlock(hash)
		if err != nil {
			return 0, fmt.Errorf("failed to get block %s: %w", hash, err)
		}
		if err := s.applyTxs(block.Transactions, true); err != nil {
			return 0, err
		}

		lastHash = hash.String()
		if (height-checkpoint)%checkpointInterval == 0 {
			if err := s.store.setCheckpoint(height, lastHash); err != nil {
				return 0, err
			}
			log.Debugf("wallet sync checkpoint at height %d", height)
		}
	}
	if uint32(tip) > checkpoint {
		if err := s.store.setCheckpoint(uint32(tip), lastHash); err != nil {
			return 0, err
		}
	}

	if err := s.applyMempool(ctx); err != nil {
		return 0, err
	}

	return s.store.balance()
}

func (s *service) applyMempool(ctx context.Context) error {
	mempool, err := s.node.GetRawMempool()
	if err != nil {
		return fmt.Errorf("failed to get mempool: %w", err)
	}
	for _, txid := range mempool {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tx, err := s.node.GetRawTransaction(txid)
		if err != nil {
			return fmt.Errorf("failed to get mempool tx %s: %w", txid, err)
		}
		if err := s.applyTxs([]*wire.MsgTx{tx.MsgTx()}, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) applyTxs(txs []*wire.MsgTx, confirmed bool) error {
	for _, tx := range txs {
		for _, txIn := range tx.TxIn {
			spend := s.store.spendUtxoUnconfirmed
			if confirmed {
				spend = s.store.spendUtxo
			}
			if err := spend(txIn.PreviousOutPoint); err != nil {
				return err
			}
		}
		txid := tx.TxHash()
		for vout, txOut := range tx.TxOut {
			if !bytes.Equal(txOut.PkScript, s.pkScript) {
				continue
			}
			point := wire.OutPoint{Hash: txid, Index: uint32(vout)}
			if err := s.store.upsertUtxo(point, txOut, confirmed); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *service) BroadcastTransaction(_ context.Context, tx *wire.MsgTx) (string, error) {
	txid, err := s.node.SendRawTransaction(tx, false)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast tx: %w", err)
	}
	return txid.String(), nil
}

func (s *service) Close() {
	s.node.Shutdown()
	s.store.close()
}
