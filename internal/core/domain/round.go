package domain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/arkade-os/aspd/pkg/arklib/tree"
	"github.com/btcsuite/btcd/wire"
)

// Round tx layout: output 0 anchors the vtxo tree root, output 1 funds the
// connector used by the reclamation path.
const (
	VtxoTreeOutputIndex  = 0
	ConnectorOutputIndex = 1
)

// Round is the persisted record of a completed round: its anchoring
// commitment transaction, the signed vtxo tree it committed to, and the
// block height after which the signer may unilaterally reclaim it.
// Read-only to the settlement core; created by the round finalizer and
// flagged swept once its outputs have been reclaimed.
type Round struct {
	Txid         string `badgerhold:"key"`
	Tx           string // commitment tx, hex
	SignedTree   []byte // encoded tree.SignedTreeSpec
	ExpiryHeight uint32 `badgerholdIndex:"ExpiryHeight"`
	Swept        bool
}

func NewRound(
	commitmentTx *wire.MsgTx, signedTree *tree.SignedTreeSpec, expiryHeight uint32,
) (*Round, error) {
	if len(commitmentTx.TxOut) < 2 {
		return nil, fmt.Errorf(
			"invalid commitment tx: expected at least 2 outputs, got %d", len(commitmentTx.TxOut),
		)
	}

	var buf strings.Builder
	if err := commitmentTx.Serialize(hex.NewEncoder(&buf)); err != nil {
		return nil, err
	}

	treeBytes, err := signedTree.Encode()
	if err != nil {
		return nil, err
	}

	return &Round{
		Txid:         commitmentTx.TxID(),
		Tx:           buf.String(),
		SignedTree:   treeBytes,
		ExpiryHeight: expiryHeight,
	}, nil
}

// CommitmentTx decodes the round's anchoring transaction.
func (r *Round) CommitmentTx() (*wire.MsgTx, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(hex.NewDecoder(strings.NewReader(r.Tx))); err != nil {
		return nil, fmt.Errorf("failed to decode commitment tx of round %s: %w", r.Txid, err)
	}
	return &tx, nil
}

// TreeSpec decodes the round's signed vtxo tree spec.
func (r *Round) TreeSpec() (*tree.SignedTreeSpec, error) {
	spec, err := tree.DecodeSignedTreeSpec(r.SignedTree)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signed tree of round %s: %w", r.Txid, err)
	}
	return spec, nil
}
