package tree

import (
	"bytes"
	"fmt"

	arklib "github.com/arkade-os/aspd/pkg/arklib"
	"github.com/arkade-os/aspd/pkg/arklib/script"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const schnorrSigLen = 64

// SignedTreeSpec is the view of an already-constructed, fully cosigned vtxo
// tree that the settlement core consumes: the aggregate cosign key the tree
// root output commits to, and the expiry leaf allowing the signer to reclaim
// the whole tree once the round expired.
type SignedTreeSpec struct {
	// CosignAggKey is the taproot internal key of the tree root output,
	// aggregating all cosigners of the round.
	CosignAggKey *btcec.PublicKey
	// ExpiryScript is the CSV+CHECKSIG leaf spendable by the signer after
	// the round expiry delta.
	ExpiryScript []byte
	// ExpiryLeafVersion is the tapscript version of the expiry leaf.
	ExpiryLeafVersion txscript.TapscriptLeafVersion
	// ExpiryControlBlock is the serialized control block proving the expiry
	// leaf's inclusion in the tree root taptree.
	ExpiryControlBlock []byte
	// MerkleRoot is the taptree merkle root of the tree root output.
	MerkleRoot []byte
}

// NewSignedTreeSpec assembles the reclamation view of a round's vtxo tree
// from the aggregate cosign key, the signer key and the expiry delta.
func NewSignedTreeSpec(
	cosignAggKey, signerKey *btcec.PublicKey, expiry arklib.RelativeLocktime,
) (*SignedTreeSpec, error) {
	expiryClosure := &script.CSVMultisigClosure{
		MultisigClosure: script.MultisigClosure{PubKeys: []*btcec.PublicKey{signerKey}},
		Locktime:        expiry,
	}

	expiryScript, err := expiryClosure.Script()
	if err != nil {
		return nil, err
	}

	expiryLeaf := txscript.NewBaseTapLeaf(expiryScript)
	tapTree := txscript.AssembleTaprootScriptTree(expiryLeaf)
	merkleRoot := tapTree.RootNode.TapHash()

	controlBlock := tapTree.LeafMerkleProofs[0].ToControlBlock(cosignAggKey)
	controlBlockBytes, err := controlBlock.ToBytes()
	if err != nil {
		return nil, err
	}

	return &SignedTreeSpec{
		CosignAggKey:       cosignAggKey,
		ExpiryScript:       expiryScript,
		ExpiryLeafVersion:  txscript.BaseLeafVersion,
		ExpiryControlBlock: controlBlockBytes,
		MerkleRoot:         merkleRoot[:],
	}, nil
}

// ExpiryScriptSpend returns everything needed to populate a PSBT input
// spending the tree root through the expiry leaf.
func (s *SignedTreeSpec) ExpiryScriptSpend() (
	controlBlock, leafScript []byte,
	leafVersion txscript.TapscriptLeafVersion, merkleRoot []byte,
) {
	return s.ExpiryControlBlock, s.ExpiryScript, s.ExpiryLeafVersion, s.MerkleRoot
}

// OutputKey returns the taproot output key of the tree root output.
func (s *SignedTreeSpec) OutputKey() *btcec.PublicKey {
	return txscript.ComputeTaprootOutputKey(s.CosignAggKey, s.MerkleRoot)
}

// PkScript returns the tree root output script.
func (s *SignedTreeSpec) PkScript() ([]byte, error) {
	return txscript.PayToTaprootScript(s.OutputKey())
}

// NodeSpendWeight is the serialized size of the [signature, script,
// control block] witness spending a tree node through the expiry leaf.
// The enumerator declares it for fee estimation and the cosigner checks the
// final witness against it.
func (s *SignedTreeSpec) NodeSpendWeight() int {
	witness := wire.TxWitness{
		make([]byte, schnorrSigLen), s.ExpiryScript, s.ExpiryControlBlock,
	}
	return witness.SerializeSize()
}

// Encode serializes the spec for storage alongside its round.
func (s *SignedTreeSpec) Encode() ([]byte, error) {
	if s.CosignAggKey == nil {
		return nil, fmt.Errorf("missing cosign aggregate key")
	}

	var buf bytes.Buffer
	if err := wire.WriteVarBytes(&buf, 0, s.CosignAggKey.SerializeCompressed()); err != nil {
		return nil, err
	}
	if err := wire.WriteVarBytes(&buf, 0, s.ExpiryScript); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(byte(s.ExpiryLeafVersion)); err != nil {
		return nil, err
	}
	if err := wire.WriteVarBytes(&buf, 0, s.ExpiryControlBlock); err != nil {
		return nil, err
	}
	if err := wire.WriteVarBytes(&buf, 0, s.MerkleRoot); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSignedTreeSpec is the inverse of Encode.
func DecodeSignedTreeSpec(data []byte) (*SignedTreeSpec, error) {
	buf := bytes.NewReader(data)

	keyBytes, err := wire.ReadVarBytes(buf, 0, btcec.PubKeyBytesLenCompressed, "cosign key")
	if err != nil {
		return nil, err
	}
	cosignAggKey, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid cosign aggregate key: %w", err)
	}

	expiryScript, err := wire.ReadVarBytes(buf, 0, txscript.MaxScriptSize, "expiry script")
	if err != nil {
		return nil, err
	}

	leafVersion, err := buf.ReadByte()
	if err != nil {
		return nil, err
	}

	controlBlock, err := wire.ReadVarBytes(buf, 0, txscript.MaxScriptSize, "control block")
	if err != nil {
		return nil, err
	}

	merkleRoot, err := wire.ReadVarBytes(buf, 0, 32, "merkle root")
	if err != nil {
		return nil, err
	}

	return &SignedTreeSpec{
		CosignAggKey:       cosignAggKey,
		ExpiryScript:       expiryScript,
		ExpiryLeafVersion:  txscript.TapscriptLeafVersion(leafVersion),
		ExpiryControlBlock: controlBlock,
		MerkleRoot:         merkleRoot,
	}, nil
}
