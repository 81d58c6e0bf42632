package exit

import (
	"bytes"
	"encoding/binary"
	"fmt"

	arklib "github.com/arkade-os/aspd/pkg/arklib"
	"github.com/arkade-os/aspd/pkg/arklib/script"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const schnorrSigLen = 64

// VtxoSpec describes a single vtxo leaf: the two parties sharing it, its
// amount and the delta after which the owner may exit unilaterally.
type VtxoSpec struct {
	UserPubKey *btcec.PublicKey
	AspPubKey  *btcec.PublicKey
	ExitDelta  uint16
	Amount     btcutil.Amount
}

// ExitClause is the tapscript closure of the unilateral exit leaf:
// CSV(exit delta) + CHECKSIG(user).
func (s *VtxoSpec) ExitClause() *script.CSVMultisigClosure {
	return &script.CSVMultisigClosure{
		MultisigClosure: script.MultisigClosure{
			PubKeys: []*btcec.PublicKey{s.UserPubKey},
		},
		Locktime: arklib.RelativeLocktime{
			Type:  arklib.LocktimeTypeBlock,
			Value: uint32(s.ExitDelta),
		},
	}
}

// ExitScript returns the serialized exit clause script.
func (s *VtxoSpec) ExitScript() ([]byte, error) {
	return s.ExitClause().Script()
}

// CombinedKey is the musig2 aggregate of user and asp keys, the taproot
// internal key of the vtxo output.
func (s *VtxoSpec) CombinedKey() (*btcec.PublicKey, error) {
	aggKey, _, _, err := musig2.AggregateKeys(
		[]*btcec.PublicKey{s.UserPubKey, s.AspPubKey}, true,
	)
	if err != nil {
		return nil, err
	}
	return aggKey.FinalKey, nil
}

// ExitTaproot assembles the taproot spend info of the vtxo output: taptree
// containing the exit leaf, committed under the combined internal key.
func (s *VtxoSpec) ExitTaproot() (
	internalKey, outputKey *btcec.PublicKey,
	controlBlock []byte, merkleRoot []byte, err error,
) {
	internalKey, err = s.CombinedKey()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	exitScript, err := s.ExitScript()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	tapTree := txscript.AssembleTaprootScriptTree(txscript.NewBaseTapLeaf(exitScript))
	root := tapTree.RootNode.TapHash()

	cb := tapTree.LeafMerkleProofs[0].ToControlBlock(internalKey)
	controlBlock, err = cb.ToBytes()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	outputKey = txscript.ComputeTaprootOutputKey(internalKey, root[:])
	return internalKey, outputKey, controlBlock, root[:], nil
}

// PkScript returns the vtxo output script.
func (s *VtxoSpec) PkScript() ([]byte, error) {
	_, outputKey, _, _, err := s.ExitTaproot()
	if err != nil {
		return nil, err
	}
	return txscript.PayToTaprootScript(outputKey)
}

// ClaimInput identifies one unilateral exit input: the vtxo outpoint being
// claimed and the leaf spec resolving its exit path. It is attached to the
// PSBT input when the exit package is assembled and read back at signing
// time, so the signer needs no other context.
type ClaimInput struct {
	Point wire.OutPoint
	Spec  VtxoSpec
	// SatisfactionWeight is the serialized size of the [signature, script,
	// control block] witness claiming this input. It is declared when the
	// claim is built, travels with the encoded claim and is checked against
	// the final witness at signing time.
	SatisfactionWeight uint16
}

// NewClaimInput builds a claim for the given vtxo outpoint, declaring the
// satisfaction weight of its exit path.
func NewClaimInput(point wire.OutPoint, spec VtxoSpec) (*ClaimInput, error) {
	weight, err := satisfactionWeight(spec)
	if err != nil {
		return nil, err
	}
	return &ClaimInput{
		Point:              point,
		Spec:               spec,
		SatisfactionWeight: uint16(weight),
	}, nil
}

func satisfactionWeight(spec VtxoSpec) (int, error) {
	exitScript, err := spec.ExitScript()
	if err != nil {
		return 0, err
	}
	_, _, controlBlock, _, err := spec.ExitTaproot()
	if err != nil {
		return 0, err
	}

	witness := wire.TxWitness{make([]byte, schnorrSigLen), exitScript, controlBlock}
	return witness.SerializeSize(), nil
}

// Encode serializes the claim input to its PSBT metadata form.
func (c *ClaimInput) Encode() ([]byte, error) {
	if c.Spec.UserPubKey == nil || c.Spec.AspPubKey == nil {
		return nil, fmt.Errorf("missing public key in vtxo spec")
	}

	var buf bytes.Buffer
	buf.Write(c.Point.Hash[:])
	if err := binary.Write(&buf, binary.BigEndian, c.Point.Index); err != nil {
		return nil, err
	}
	buf.Write(c.Spec.UserPubKey.SerializeCompressed())
	buf.Write(c.Spec.AspPubKey.SerializeCompressed())
	if err := binary.Write(&buf, binary.BigEndian, c.Spec.ExitDelta); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint64(c.Spec.Amount)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, c.SatisfactionWeight); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const claimInputEncodedLen = 32 + 4 + 33 + 33 + 2 + 8 + 2

// DecodeClaimInput is the inverse of Encode. Any deviation from the fixed
// layout is a corruption error.
func DecodeClaimInput(data []byte) (*ClaimInput, error) {
	if len(data) != claimInputEncodedLen {
		return nil, fmt.Errorf(
			"invalid claim input length: expected %d, got %d", claimInputEncodedLen, len(data),
		)
	}

	var hash chainhash.Hash
	copy(hash[:], data[:32])
	index := binary.BigEndian.Uint32(data[32:36])

	userPubKey, err := btcec.ParsePubKey(data[36:69])
	if err != nil {
		return nil, fmt.Errorf("invalid user public key: %w", err)
	}
	aspPubKey, err := btcec.ParsePubKey(data[69:102])
	if err != nil {
		return nil, fmt.Errorf("invalid asp public key: %w", err)
	}

	exitDelta := binary.BigEndian.Uint16(data[102:104])
	amount := binary.BigEndian.Uint64(data[104:112])
	weight := binary.BigEndian.Uint16(data[112:114])

	return &ClaimInput{
		Point: wire.OutPoint{Hash: hash, Index: index},
		Spec: VtxoSpec{
			UserPubKey: userPubKey,
			AspPubKey:  aspPubKey,
			ExitDelta:  exitDelta,
			Amount:     btcutil.Amount(amount),
		},
		SatisfactionWeight: weight,
	}, nil
}
