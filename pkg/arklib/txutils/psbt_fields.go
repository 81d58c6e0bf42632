package txutils

import (
	"bytes"
	"fmt"

	"github.com/arkade-os/aspd/pkg/arklib/exit"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Proprietary key layout: 0xfc type byte, "aspd" namespace prefix, one
// subtype byte, empty selector. At most one value of each kind per input.
const (
	psbtKeyTypeProprietary = 0xfc

	roundMetaSubtype  = 0
	claimInputSubtype = 1
)

var propKeyPrefix = []byte("aspd")

type RoundMetaKind byte

const (
	// RoundMetaVtxo marks an input spending a round's vtxo tree root
	// through the expiry leaf (taproot script path).
	RoundMetaVtxo RoundMetaKind = iota
	// RoundMetaConnector marks an input spending a round's connector
	// output (taproot key path).
	RoundMetaConnector
)

func (k RoundMetaKind) String() string {
	switch k {
	case RoundMetaVtxo:
		return "vtxo"
	case RoundMetaConnector:
		return "connector"
	default:
		return fmt.Sprintf("unknown(%d)", byte(k))
	}
}

// RoundMeta tags a PSBT input as originating from the reclamation path of a
// specific round. Attached by the enumerator, read by the cosigner; absence
// means the input is not ours to sign.
type RoundMeta struct {
	Txid chainhash.Hash
	Kind RoundMetaKind
}

// SetRoundMeta tags the input, replacing any previous round meta.
func SetRoundMeta(in *psbt.PInput, txid chainhash.Hash, kind RoundMetaKind) {
	value := make([]byte, 0, chainhash.HashSize+1)
	value = append(value, txid[:]...)
	value = append(value, byte(kind))
	setPropField(in, roundMetaSubtype, value)
}

// GetRoundMeta returns the input's round meta, or nil if the input is not
// tagged. A present but malformed value is a corruption error.
func GetRoundMeta(in *psbt.PInput) (*RoundMeta, error) {
	value, ok := getPropField(in, roundMetaSubtype)
	if !ok {
		return nil, nil
	}

	if len(value) != chainhash.HashSize+1 {
		return nil, fmt.Errorf(
			"invalid round meta length: expected %d, got %d", chainhash.HashSize+1, len(value),
		)
	}

	kind := RoundMetaKind(value[chainhash.HashSize])
	if kind != RoundMetaVtxo && kind != RoundMetaConnector {
		return nil, fmt.Errorf("invalid round meta kind: %d", value[chainhash.HashSize])
	}

	var txid chainhash.Hash
	copy(txid[:], value[:chainhash.HashSize])

	return &RoundMeta{Txid: txid, Kind: kind}, nil
}

// SetClaimInput tags the input with its unilateral exit claim, replacing
// any previous claim.
func SetClaimInput(in *psbt.PInput, claim *exit.ClaimInput) error {
	value, err := claim.Encode()
	if err != nil {
		return err
	}
	setPropField(in, claimInputSubtype, value)
	return nil
}

// GetClaimInput returns the input's claim, or nil if the input is not
// tagged. A present but malformed value is a corruption error.
func GetClaimInput(in *psbt.PInput) (*exit.ClaimInput, error) {
	value, ok := getPropField(in, claimInputSubtype)
	if !ok {
		return nil, nil
	}
	return exit.DecodeClaimInput(value)
}

func makePropKey(subtype byte) []byte {
	key := make([]byte, 0, len(propKeyPrefix)+2)
	key = append(key, psbtKeyTypeProprietary)
	key = append(key, propKeyPrefix...)
	key = append(key, subtype)
	return key
}

func setPropField(in *psbt.PInput, subtype byte, value []byte) {
	key := makePropKey(subtype)
	for _, unknown := range in.Unknowns {
		if bytes.Equal(unknown.Key, key) {
			unknown.Value = value
			return
		}
	}
	in.Unknowns = append(in.Unknowns, &psbt.Unknown{Key: key, Value: value})
}

func getPropField(in *psbt.PInput, subtype byte) ([]byte, bool) {
	key := makePropKey(subtype)
	for _, unknown := range in.Unknowns {
		if bytes.Equal(unknown.Key, key) {
			return unknown.Value, true
		}
	}
	return nil, false
}
