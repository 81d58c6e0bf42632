package application

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/arkade-os/aspd/internal/core/domain"
	"github.com/arkade-os/aspd/internal/core/ports"
	arklib "github.com/arkade-os/aspd/pkg/arklib"
	"github.com/arkade-os/aspd/pkg/arklib/script"
	"github.com/arkade-os/aspd/pkg/arklib/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
	log "github.com/sirupsen/logrus"
)

const (
	schnorrSigLen = 64
	// key-path spend witness: a single 64-byte signature element
	connectorInputWeight = 1 + 1 + schnorrSigLen

	dustLimit = 330
)

// sweeper reclaims expired rounds: it enumerates the still-unclaimed round
// outputs whose expiry passed, cosigns their reclamation inputs and
// broadcasts one sweep transaction per round.
type sweeper struct {
	signerKey       *btcec.PrivateKey
	repoManager     ports.RepoManager
	wallet          ports.WalletService
	feeRateSatPerVb float64
}

func newSweeper(
	signerKey *btcec.PrivateKey, repoManager ports.RepoManager,
	wallet ports.WalletService, feeRateSatPerVb float64,
) *sweeper {
	return &sweeper{signerKey, repoManager, wallet, feeRateSatPerVb}
}

// spendableExpiredRounds lists all reclaimable outputs of rounds whose
// expiry height is at or below the given height, two entries per round,
// round-major with the tree output before the connector. Pure read plus
// PSBT construction: a fixed database state always yields the same list.
func (s *sweeper) spendableExpiredRounds(
	ctx context.Context, height uint32,
) ([]SpendableUtxo, error) {
	txids, err := s.repoManager.Rounds().GetExpiredRounds(ctx, height)
	if err != nil {
		return nil, err
	}

	utxos := make([]SpendableUtxo, 0, 2*len(txids))
	for _, txid := range txids {
		round, err := s.repoManager.Rounds().GetRoundWithTxid(ctx, txid)
		if err != nil {
			return nil, err
		}
		roundUtxos, err := s.roundSpendableUtxos(round)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, roundUtxos...)
	}
	return utxos, nil
}

func (s *sweeper) roundSpendableUtxos(round *domain.Round) ([]SpendableUtxo, error) {
	roundTx, err := round.CommitmentTx()
	if err != nil {
		return nil, err
	}
	treeSpec, err := round.TreeSpec()
	if err != nil {
		return nil, err
	}

	roundTxid, err := chainhash.NewHashFromStr(round.Txid)
	if err != nil {
		return nil, fmt.Errorf("invalid round txid %s: %w", round.Txid, err)
	}

	controlBlock, leafScript, leafVersion, merkleRoot := treeSpec.ExpiryScriptSpend()

	vtxoInput := psbt.PInput{
		WitnessUtxo:        roundTx.TxOut[domain.VtxoTreeOutputIndex],
		NonWitnessUtxo:     roundTx,
		TaprootInternalKey: schnorr.SerializePubKey(treeSpec.CosignAggKey),
		TaprootLeafScript: []*psbt.TaprootTapLeafScript{{
			ControlBlock: controlBlock,
			Script:       leafScript,
			LeafVersion:  leafVersion,
		}},
		TaprootMerkleRoot: merkleRoot,
	}
	txutils.SetRoundMeta(&vtxoInput, *roundTxid, txutils.RoundMetaVtxo)

	connectorInput := psbt.PInput{
		WitnessUtxo:        roundTx.TxOut[domain.ConnectorOutputIndex],
		NonWitnessUtxo:     roundTx,
		TaprootInternalKey: schnorr.SerializePubKey(s.signerKey.PubKey()),
	}
	txutils.SetRoundMeta(&connectorInput, *roundTxid, txutils.RoundMetaConnector)

	return []SpendableUtxo{
		{
			Point:  wire.OutPoint{Hash: *roundTxid, Index: domain.VtxoTreeOutputIndex},
			Input:  vtxoInput,
			Weight: treeSpec.NodeSpendWeight(),
		},
		{
			Point:  wire.OutPoint{Hash: *roundTxid, Index: domain.ConnectorOutputIndex},
			Input:  connectorInput,
			Weight: connectorInputWeight,
		},
	}, nil
}

// signRoundUtxoInputs fills the final witness of every input tagged with
// round metadata: taproot script path through the expiry leaf for tree
// outputs, key path with the tweaked signer key for connectors. Untagged
// inputs are left untouched, so a collaborator may mix in funding inputs.
// Each produced witness is checked against the weight the enumerator
// declared for that input, read back from the stored round for tree
// outputs, so a packet whose leaf diverged from the round's tree spec is
// rejected instead of signed.
func (s *sweeper) signRoundUtxoInputs(ctx context.Context, ptx *psbt.Packet) error {
	tx := ptx.UnsignedTx

	// taproot sighashes commit to every prevout of the transaction
	prevouts := make(map[wire.OutPoint]*wire.TxOut, len(ptx.Inputs))
	for i := range ptx.Inputs {
		if ptx.Inputs[i].WitnessUtxo == nil {
			return fmt.Errorf("missing witness utxo on input %d", i)
		}
		prevouts[tx.TxIn[i].PreviousOutPoint] = ptx.Inputs[i].WitnessUtxo
	}
	prevOutFetcher := txscript.NewMultiPrevOutFetcher(prevouts)
	sigHashes := txscript.NewTxSigHashes(tx, prevOutFetcher)

	for i := range ptx.Inputs {
		in := &ptx.Inputs[i]

		meta, err := txutils.GetRoundMeta(in)
		if err != nil {
			return &CorruptionError{InputIndex: i, Reason: err.Error()}
		}
		if meta == nil {
			continue
		}

		var witness wire.TxWitness
		var declaredWeight int

		switch meta.Kind {
		case txutils.RoundMetaVtxo:
			if len(in.TaprootLeafScript) == 0 {
				return &CorruptionError{
					InputIndex: i,
					RoundTxid:  meta.Txid.String(),
					Reason:     "vtxo-tagged input has no tap leaf script",
				}
			}
			leaf := in.TaprootLeafScript[0]

			round, err := s.repoManager.Rounds().GetRoundWithTxid(ctx, meta.Txid.String())
			if err != nil {
				return &CorruptionError{
					InputIndex: i,
					RoundTxid:  meta.Txid.String(),
					Reason:     fmt.Sprintf("tagged round not found: %s", err),
				}
			}
			treeSpec, err := round.TreeSpec()
			if err != nil {
				return err
			}

			sigHash, err := txscript.CalcTapscriptSignaturehash(
				sigHashes, txscript.SigHashDefault, tx, i, prevOutFetcher,
				txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script),
			)
			if err != nil {
				return fmt.Errorf(
					"failed to compute script-path sighash for input %d (round %s): %w",
					i, meta.Txid, err,
				)
			}
			sig, err := schnorr.Sign(s.signerKey, sigHash)
			if err != nil {
				return fmt.Errorf("failed to sign input %d (round %s): %w", i, meta.Txid, err)
			}

			witness = wire.TxWitness{sig.Serialize(), leaf.Script, leaf.ControlBlock}
			declaredWeight = treeSpec.NodeSpendWeight()
		case txutils.RoundMetaConnector:
			sigHash, err := txscript.CalcTaprootSignatureHash(
				sigHashes, txscript.SigHashDefault, tx, i, prevOutFetcher,
			)
			if err != nil {
				return fmt.Errorf(
					"failed to compute key-path sighash for input %d (round %s): %w",
					i, meta.Txid, err,
				)
			}
			sig, err := schnorr.Sign(txscript.TweakTaprootPrivKey(*s.signerKey, nil), sigHash)
			if err != nil {
				return fmt.Errorf("failed to sign input %d (round %s): %w", i, meta.Txid, err)
			}

			witness = wire.TxWitness{sig.Serialize()}
			declaredWeight = connectorInputWeight
		}

		if actual := witness.SerializeSize(); actual != declaredWeight {
			return &WeightMismatchError{
				InputIndex: i, Declared: declaredWeight, Actual: actual,
			}
		}

		var witnessBuf bytes.Buffer
		if err := psbt.WriteTxWitness(&witnessBuf, witness); err != nil {
			return err
		}
		in.FinalScriptWitness = witnessBuf.Bytes()
	}

	return nil
}

// reclaim sweeps every expired, unswept round at the current tip. Failures
// are isolated per round: a round that cannot be swept is logged and the
// others proceed.
func (s *sweeper) reclaim(ctx context.Context) error {
	height, err := s.wallet.TipHeight(ctx)
	if err != nil {
		return err
	}

	txids, err := s.repoManager.Rounds().GetExpiredRounds(ctx, height)
	if err != nil {
		return err
	}

	for _, txid := range txids {
		if err := s.sweepRound(ctx, txid); err != nil {
			log.WithError(err).Warnf("failed to sweep round %s", txid)
			continue
		}
		log.Infof("swept round %s", txid)
	}
	return nil
}

func (s *sweeper) sweepRound(ctx context.Context, txid string) error {
	round, err := s.repoManager.Rounds().GetRoundWithTxid(ctx, txid)
	if err != nil {
		return err
	}
	utxos, err := s.roundSpendableUtxos(round)
	if err != nil {
		return err
	}
	treeSpec, err := round.TreeSpec()
	if err != nil {
		return err
	}

	// the tree output is spent through a CSV leaf, so its input sequence
	// must encode the expiry locktime
	expiryClosure, err := script.DecodeClosure(treeSpec.ExpiryScript)
	if err != nil {
		return fmt.Errorf("failed to decode expiry script of round %s: %w", txid, err)
	}
	csvClosure, ok := expiryClosure.(*script.CSVMultisigClosure)
	if !ok {
		return fmt.Errorf("expiry script of round %s is not a csv closure", txid)
	}
	expirySequence, err := arklib.BIP68Sequence(csvClosure.Locktime)
	if err != nil {
		return err
	}

	ins := make([]*wire.OutPoint, 0, len(utxos))
	sequences := make([]uint32, 0, len(utxos))
	totalAmount := int64(0)
	weightEstimator := input.TxWeightEstimator{}

	for i := range utxos {
		point := utxos[i].Point
		ins = append(ins, &point)
		totalAmount += utxos[i].Input.WitnessUtxo.Value

		if leaves := utxos[i].Input.TaprootLeafScript; len(leaves) > 0 {
			sequences = append(sequences, expirySequence)

			controlBlock, err := txscript.ParseControlBlock(leaves[0].ControlBlock)
			if err != nil {
				return err
			}
			weightEstimator.AddTapscriptInput(
				lntypes.WeightUnit(1+schnorrSigLen), &waddrmgr.Tapscript{
					RevealedScript: leaves[0].Script,
					ControlBlock:   controlBlock,
				},
			)
		} else {
			sequences = append(sequences, wire.MaxTxInSequenceNum)
			weightEstimator.AddTaprootKeySpendInput(txscript.SigHashDefault)
		}
	}
	weightEstimator.AddP2TROutput()

	fee := int64(math.Ceil(float64(weightEstimator.Weight().ToVB()) * s.feeRateSatPerVb))
	if totalAmount-fee <= dustLimit {
		return fmt.Errorf(
			"round %s not economical to sweep: amount %d, fee %d", txid, totalAmount, fee,
		)
	}

	address, err := s.wallet.Address(ctx)
	if err != nil {
		return err
	}
	pkScript, err := txscript.PayToAddrScript(address)
	if err != nil {
		return err
	}

	ptx, err := psbt.New(
		ins, []*wire.TxOut{{Value: totalAmount - fee, PkScript: pkScript}},
		2, 0, sequences,
	)
	if err != nil {
		return err
	}
	for i := range utxos {
		ptx.Inputs[i] = utxos[i].Input
	}

	if err := s.signRoundUtxoInputs(ctx, ptx); err != nil {
		return err
	}

	sweepTx, err := psbt.Extract(ptx)
	if err != nil {
		return err
	}
	if _, err := s.wallet.BroadcastTransaction(ctx, sweepTx); err != nil {
		return err
	}

	return s.repoManager.Rounds().MarkSwept(ctx, txid)
}
