package arksdk

import (
	"bytes"
	"fmt"
	"math"

	arklib "github.com/arkade-os/aspd/pkg/arklib"
	"github.com/arkade-os/aspd/pkg/arklib/exit"
	"github.com/arkade-os/aspd/pkg/arklib/txutils"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
	log "github.com/sirupsen/logrus"
)

// witness element carrying a 64-byte schnorr signature, with its length
// prefix
const sigWitnessElementSize = 1 + 64

// SignClaimInput completes the witness of a unilateral exit input. The
// input must have been tagged with its claim when the exit package was
// assembled; untagged inputs are not this signer's concern and are left
// untouched.
func SignClaimInput(
	ptx *psbt.Packet, inputIndex int,
	sigHashes *txscript.TxSigHashes, prevOutFetcher txscript.PrevOutputFetcher,
	vtxoKey *btcec.PrivateKey,
) error {
	if len(ptx.Inputs) <= inputIndex {
		return fmt.Errorf("input index out of bounds %d, len(inputs)=%d", inputIndex, len(ptx.Inputs))
	}

	claim, err := txutils.GetClaimInput(&ptx.Inputs[inputIndex])
	if err != nil {
		return fmt.Errorf("corrupt claim input %d: %w", inputIndex, err)
	}
	if claim == nil {
		return nil
	}

	if !vtxoKey.PubKey().IsEqual(claim.Spec.UserPubKey) {
		return fmt.Errorf(
			"signing key does not match claim user key for input %d (vtxo %s)",
			inputIndex, claim.Point,
		)
	}

	exitScript, err := claim.Spec.ExitScript()
	if err != nil {
		return err
	}

	sigHash, err := txscript.CalcTapscriptSignaturehash(
		sigHashes, txscript.SigHashDefault, ptx.UnsignedTx, inputIndex,
		prevOutFetcher, txscript.NewBaseTapLeaf(exitScript),
	)
	if err != nil {
		return fmt.Errorf("failed to compute claim sighash for input %d: %w", inputIndex, err)
	}

	log.Tracef("signing exit claim input %d for vtxo %s", inputIndex, claim.Point)

	sig, err := schnorr.Sign(vtxoKey, sigHash)
	if err != nil {
		return err
	}

	_, _, controlBlock, _, err := claim.Spec.ExitTaproot()
	if err != nil {
		return err
	}

	witness := wire.TxWitness{sig.Serialize(), exitScript, controlBlock}

	// the claim carries the weight declared when the exit package was
	// built, the final witness must not diverge from it
	if actual := witness.SerializeSize(); actual != int(claim.SatisfactionWeight) {
		return fmt.Errorf(
			"claim witness size mismatch on input %d: got %d, declared %d",
			inputIndex, actual, claim.SatisfactionWeight,
		)
	}

	var witnessBuf bytes.Buffer
	if err := psbt.WriteTxWitness(&witnessBuf, witness); err != nil {
		return err
	}
	ptx.Inputs[inputIndex].FinalScriptWitness = witnessBuf.Bytes()

	return nil
}

// BuildClaimTx assembles the unsigned unilateral exit transaction spending
// the given claims to destination, deducting fees at the given rate. Each
// input is tagged with its claim so SignClaimInput needs no other context.
func BuildClaimTx(
	claims []exit.ClaimInput, destination []byte, feeRateSatPerVb float64,
) (*psbt.Packet, error) {
	if len(claims) == 0 {
		return nil, fmt.Errorf("no claims to build exit tx")
	}

	ins := make([]*wire.OutPoint, 0, len(claims))
	sequences := make([]uint32, 0, len(claims))
	totalAmount := int64(0)

	weightEstimator := input.TxWeightEstimator{}

	for _, claim := range claims {
		point := claim.Point
		ins = append(ins, &point)

		sequence, err := arklib.BIP68Sequence(claim.Spec.ExitClause().Locktime)
		if err != nil {
			return nil, err
		}
		sequences = append(sequences, sequence)
		totalAmount += int64(claim.Spec.Amount)

		exitScript, err := claim.Spec.ExitScript()
		if err != nil {
			return nil, err
		}
		_, _, controlBlockBytes, _, err := claim.Spec.ExitTaproot()
		if err != nil {
			return nil, err
		}
		controlBlock, err := txscript.ParseControlBlock(controlBlockBytes)
		if err != nil {
			return nil, err
		}

		weightEstimator.AddTapscriptInput(
			lntypes.WeightUnit(sigWitnessElementSize), &waddrmgr.Tapscript{
				RevealedScript: exitScript,
				ControlBlock:   controlBlock,
			},
		)
	}
	weightEstimator.AddP2TROutput()

	fee := int64(math.Ceil(float64(weightEstimator.Weight().ToVB()) * feeRateSatPerVb))
	if totalAmount-fee <= 0 {
		return nil, fmt.Errorf("claims amount %d does not cover fees %d", totalAmount, fee)
	}

	outputs := []*wire.TxOut{{Value: totalAmount - fee, PkScript: destination}}

	ptx, err := psbt.New(ins, outputs, 2, 0, sequences)
	if err != nil {
		return nil, err
	}

	for i := range claims {
		pkScript, err := claims[i].Spec.PkScript()
		if err != nil {
			return nil, err
		}
		ptx.Inputs[i].WitnessUtxo = &wire.TxOut{
			Value:    int64(claims[i].Spec.Amount),
			PkScript: pkScript,
		}
		ptx.Inputs[i].SighashType = txscript.SigHashDefault

		if err := txutils.SetClaimInput(&ptx.Inputs[i], &claims[i]); err != nil {
			return nil, err
		}
	}

	return ptx, nil
}
