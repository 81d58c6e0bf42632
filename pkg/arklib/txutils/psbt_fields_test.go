package txutils_test

import (
	"testing"

	"github.com/arkade-os/aspd/pkg/arklib/exit"
	"github.com/arkade-os/aspd/pkg/arklib/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func randomTxid(t *testing.T) chainhash.Hash {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return chainhash.HashH(priv.Serialize())
}

func testClaim(t *testing.T) *exit.ClaimInput {
	t.Helper()
	userKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	aspKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	claim, err := exit.NewClaimInput(
		wire.OutPoint{Hash: randomTxid(t), Index: 1},
		exit.VtxoSpec{
			UserPubKey: userKey.PubKey(),
			AspPubKey:  aspKey.PubKey(),
			ExitDelta:  12,
			Amount:     btcutil.Amount(50_000),
		},
	)
	require.NoError(t, err)
	return claim
}

func TestRoundMetaRoundTrip(t *testing.T) {
	txid := randomTxid(t)

	for _, kind := range []txutils.RoundMetaKind{
		txutils.RoundMetaVtxo, txutils.RoundMetaConnector,
	} {
		in := &psbt.PInput{}
		txutils.SetRoundMeta(in, txid, kind)

		meta, err := txutils.GetRoundMeta(in)
		require.NoError(t, err)
		require.NotNil(t, meta)
		require.Equal(t, txid, meta.Txid)
		require.Equal(t, kind, meta.Kind)
	}
}

func TestRoundMetaAbsent(t *testing.T) {
	meta, err := txutils.GetRoundMeta(&psbt.PInput{})
	require.NoError(t, err)
	require.Nil(t, meta)
}

func TestRoundMetaOverwrite(t *testing.T) {
	in := &psbt.PInput{}
	txutils.SetRoundMeta(in, randomTxid(t), txutils.RoundMetaVtxo)

	txid := randomTxid(t)
	txutils.SetRoundMeta(in, txid, txutils.RoundMetaConnector)

	require.Len(t, in.Unknowns, 1)
	meta, err := txutils.GetRoundMeta(in)
	require.NoError(t, err)
	require.Equal(t, txid, meta.Txid)
	require.Equal(t, txutils.RoundMetaConnector, meta.Kind)
}

func TestRoundMetaCorruption(t *testing.T) {
	t.Run("truncated value", func(t *testing.T) {
		in := &psbt.PInput{}
		txutils.SetRoundMeta(in, randomTxid(t), txutils.RoundMetaVtxo)
		in.Unknowns[0].Value = in.Unknowns[0].Value[:10]

		_, err := txutils.GetRoundMeta(in)
		require.Error(t, err)
	})

	t.Run("unknown kind", func(t *testing.T) {
		in := &psbt.PInput{}
		txutils.SetRoundMeta(in, randomTxid(t), txutils.RoundMetaVtxo)
		in.Unknowns[0].Value[chainhash.HashSize] = 0xff

		_, err := txutils.GetRoundMeta(in)
		require.Error(t, err)
	})
}

func TestClaimInputRoundTrip(t *testing.T) {
	claim := testClaim(t)

	in := &psbt.PInput{}
	require.NoError(t, txutils.SetClaimInput(in, claim))

	decoded, err := txutils.GetClaimInput(in)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	require.Equal(t, claim.Point, decoded.Point)
	require.True(t, decoded.Spec.UserPubKey.IsEqual(claim.Spec.UserPubKey))
	require.True(t, decoded.Spec.AspPubKey.IsEqual(claim.Spec.AspPubKey))
	require.Equal(t, claim.Spec.ExitDelta, decoded.Spec.ExitDelta)
	require.Equal(t, claim.Spec.Amount, decoded.Spec.Amount)
	require.NotZero(t, decoded.SatisfactionWeight)
	require.Equal(t, claim.SatisfactionWeight, decoded.SatisfactionWeight)
}

func TestClaimInputCorruption(t *testing.T) {
	in := &psbt.PInput{}
	require.NoError(t, txutils.SetClaimInput(in, testClaim(t)))
	in.Unknowns[0].Value = append(in.Unknowns[0].Value, 0x00)

	_, err := txutils.GetClaimInput(in)
	require.Error(t, err)
}

func TestTagIsolation(t *testing.T) {
	in := &psbt.PInput{}

	txutils.SetRoundMeta(in, randomTxid(t), txutils.RoundMetaVtxo)
	claim, err := txutils.GetClaimInput(in)
	require.NoError(t, err)
	require.Nil(t, claim)

	require.NoError(t, txutils.SetClaimInput(in, testClaim(t)))
	meta, err := txutils.GetRoundMeta(in)
	require.NoError(t, err)
	require.NotNil(t, meta)

	claim, err = txutils.GetClaimInput(in)
	require.NoError(t, err)
	require.NotNil(t, claim)
}
