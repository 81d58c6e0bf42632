package badgerdb_test

import (
	"context"
	"testing"

	"github.com/arkade-os/aspd/internal/core/domain"
	badgerdb "github.com/arkade-os/aspd/internal/infrastructure/db/badger"
	arklib "github.com/arkade-os/aspd/pkg/arklib"
	"github.com/arkade-os/aspd/pkg/arklib/tree"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func newTestRound(t *testing.T, seed string, expiryHeight uint32) *domain.Round {
	t.Helper()

	cosignKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	signerKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	treeSpec, err := tree.NewSignedTreeSpec(
		cosignKey.PubKey(), signerKey.PubKey(),
		arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: 144},
	)
	require.NoError(t, err)
	treePkScript, err := treeSpec.PkScript()
	require.NoError(t, err)
	connectorPkScript, err := txscript.PayToTaprootScript(
		txscript.ComputeTaprootOutputKey(signerKey.PubKey(), nil),
	)
	require.NoError(t, err)

	roundTx := wire.NewMsgTx(2)
	roundTx.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Hash: chainhash.HashH([]byte(seed)), Index: 0,
	}, nil, nil))
	roundTx.AddTxOut(wire.NewTxOut(50_000, treePkScript))
	roundTx.AddTxOut(wire.NewTxOut(1_000, connectorPkScript))

	round, err := domain.NewRound(roundTx, treeSpec, expiryHeight)
	require.NoError(t, err)
	return round
}

func TestRoundRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := badgerdb.NewRoundRepository("", nil)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	early := newTestRound(t, "early", 100)
	late := newTestRound(t, "late", 200)

	require.NoError(t, repo.AddRound(ctx, early))
	require.NoError(t, repo.AddRound(ctx, late))
	require.Error(t, repo.AddRound(ctx, early))

	t.Run("get round", func(t *testing.T) {
		stored, err := repo.GetRoundWithTxid(ctx, early.Txid)
		require.NoError(t, err)
		require.Equal(t, early.Tx, stored.Tx)

		// the stored record must decode back to a usable tx and tree
		tx, err := stored.CommitmentTx()
		require.NoError(t, err)
		require.Equal(t, early.Txid, tx.TxID())
		_, err = stored.TreeSpec()
		require.NoError(t, err)

		_, err = repo.GetRoundWithTxid(ctx, "unknown")
		require.Error(t, err)
	})

	t.Run("expired rounds", func(t *testing.T) {
		txids, err := repo.GetExpiredRounds(ctx, 99)
		require.NoError(t, err)
		require.Empty(t, txids)

		txids, err = repo.GetExpiredRounds(ctx, 100)
		require.NoError(t, err)
		require.Equal(t, []string{early.Txid}, txids)

		txids, err = repo.GetExpiredRounds(ctx, 500)
		require.NoError(t, err)
		require.Len(t, txids, 2)
		require.Less(t, txids[0], txids[1])
	})

	t.Run("mark swept", func(t *testing.T) {
		require.NoError(t, repo.MarkSwept(ctx, early.Txid))

		txids, err := repo.GetExpiredRounds(ctx, 500)
		require.NoError(t, err)
		require.Equal(t, []string{late.Txid}, txids)

		require.Error(t, repo.MarkSwept(ctx, "unknown"))
	})
}
