package wallet

import (
	"fmt"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const (
	walletStoreDir = "wallet"
	checkpointKey  = "sync"
)

type utxoRecord struct {
	Outpoint  string `badgerhold:"key"`
	Value     int64
	PkScript  []byte
	Confirmed bool
	// SpentUnconfirmed tombstones a confirmed utxo spent by a mempool tx.
	// Cleared on the next sync pass so an evicted or replaced spend never
	// destroys confirmed state.
	SpentUnconfirmed bool
}

type syncCheckpoint struct {
	Height uint32
	Hash   string
}

// walletStore is the wallet's durable state: the tracked utxo set and the
// sync checkpoint bounding recovery work after a crash.
type walletStore struct {
	store *badgerhold.Store
}

func newWalletStore(baseDir string, logger badger.Logger) (*walletStore, error) {
	isInMemory := len(baseDir) <= 0

	var dir string
	if !isInMemory {
		dir = filepath.Join(baseDir, walletStoreDir)
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = logger
	opts.InMemory = isInMemory

	store, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet store: %w", err)
	}
	return &walletStore{store}, nil
}

func (s *walletStore) checkpoint() (uint32, string, error) {
	var cp syncCheckpoint
	if err := s.store.Get(checkpointKey, &cp); err != nil {
		if err == badgerhold.ErrNotFound {
			return 0, "", nil
		}
		return 0, "", err
	}
	return cp.Height, cp.Hash, nil
}

func (s *walletStore) setCheckpoint(height uint32, hash string) error {
	return s.store.Upsert(checkpointKey, syncCheckpoint{Height: height, Hash: hash})
}

func (s *walletStore) upsertUtxo(
	point wire.OutPoint, txOut *wire.TxOut, confirmed bool,
) error {
	return s.store.Upsert(point.String(), utxoRecord{
		Outpoint:  point.String(),
		Value:     txOut.Value,
		PkScript:  txOut.PkScript,
		Confirmed: confirmed,
	})
}

// spendUtxo removes a utxo consumed by a confirmed transaction.
func (s *walletStore) spendUtxo(point wire.OutPoint) error {
	err := s.store.Delete(point.String(), utxoRecord{})
	if err != nil && err != badgerhold.ErrNotFound {
		return err
	}
	return nil
}

// spendUtxoUnconfirmed marks a utxo as spent by a mempool transaction.
// Confirmed utxos are tombstoned, never deleted; unconfirmed ones belong
// to the overlay itself and are dropped.
func (s *walletStore) spendUtxoUnconfirmed(point wire.OutPoint) error {
	var record utxoRecord
	if err := s.store.Get(point.String(), &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	}

	if !record.Confirmed {
		return s.store.Delete(point.String(), utxoRecord{})
	}
	record.SpentUnconfirmed = true
	return s.store.Update(point.String(), record)
}

// dropUnconfirmed removes the mempool overlay left by the previous sync
// pass: unconfirmed outputs are deleted and tombstoned confirmed utxos are
// restored, so confirmed state is rebuilt from blocks only.
func (s *walletStore) dropUnconfirmed() error {
	err := s.store.DeleteMatching(utxoRecord{}, badgerhold.Where("Confirmed").Eq(false))
	if err != nil {
		return err
	}
	return s.store.UpdateMatching(
		&utxoRecord{}, badgerhold.Where("SpentUnconfirmed").Eq(true),
		func(record interface{}) error {
			utxo, ok := record.(*utxoRecord)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			utxo.SpentUnconfirmed = false
			return nil
		},
	)
}

func (s *walletStore) balance() (btcutil.Amount, error) {
	var utxos []utxoRecord
	if err := s.store.Find(&utxos, nil); err != nil {
		return 0, err
	}
	total := btcutil.Amount(0)
	for _, utxo := range utxos {
		if utxo.SpentUnconfirmed {
			continue
		}
		total += btcutil.Amount(utxo.Value)
	}
	return total, nil
}

func (s *walletStore) close() {
	// nolint:all
	s.store.Close()
}
