package script

import (
	"bytes"
	"encoding/hex"
	"fmt"

	arklib "github.com/arkade-os/aspd/pkg/arklib"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

type Closure interface {
	Script() ([]byte, error)
	Decode(script []byte) (bool, error)
	Witness(controlBlock []byte, signatures map[string][]byte) (wire.TxWitness, error)
}

// MultisigClosure is a closure spendable with a CHECKSIG(VERIFY) per key.
// The witness size is 64 bytes per key, admitting the sighash type is
// SIGHASH_DEFAULT.
type MultisigClosure struct {
	PubKeys []*btcec.PublicKey
}

func DecodeClosure(script []byte) (Closure, error) {
	if len(script) == 0 {
		return nil, fmt.Errorf("cannot decode empty script")
	}

	for _, closure := range []Closure{&CSVMultisigClosure{}, &MultisigClosure{}} {
		scriptCopy := make([]byte, len(script))
		copy(scriptCopy, script)
		valid, err := closure.Decode(scriptCopy)
		if err != nil {
			return nil, err
		}
		if valid {
			return closure, nil
		}
	}

	return nil, fmt.Errorf(
		"script does not match any known closure type: %s", hex.EncodeToString(script),
	)
}

func (f *MultisigClosure) Script() ([]byte, error) {
	scriptBuilder := txscript.NewScriptBuilder()

	for i, pubkey := range f.PubKeys {
		scriptBuilder.AddData(schnorr.SerializePubKey(pubkey))
		if i == len(f.PubKeys)-1 {
			scriptBuilder.AddOp(txscript.OP_CHECKSIG)
			continue
		}
		scriptBuilder.AddOp(txscript.OP_CHECKSIGVERIFY)
	}

	return scriptBuilder.Script()
}

func (f *MultisigClosure) Decode(script []byte) (bool, error) {
	if len(script) == 0 {
		return false, fmt.Errorf("failed to decode: script is empty")
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script)

	pubkeys := make([]*btcec.PublicKey, 0)

	for tokenizer.Next() {
		if tokenizer.Opcode() != txscript.OP_DATA_32 {
			return false, nil
		}

		pubkey, err := schnorr.ParsePubKey(tokenizer.Data())
		if err != nil {
			return false, err
		}

		pubkeys = append(pubkeys, pubkey)

		if !tokenizer.Next() {
			return false, nil
		}

		if tokenizer.Opcode() == txscript.OP_CHECKSIGVERIFY {
			continue
		}
		break
	}

	if tokenizer.Err() != nil || tokenizer.Opcode() != txscript.OP_CHECKSIG {
		return false, nil
	}

	if len(pubkeys) == 0 {
		return false, nil
	}

	f.PubKeys = pubkeys

	// the script must match what we would generate
	rebuilt, err := f.Script()
	if err != nil {
		f.PubKeys = nil
		return false, err
	}
	if !bytes.Equal(rebuilt, script) {
		f.PubKeys = nil
		return false, nil
	}

	return true, nil
}

func (f *MultisigClosure) Witness(
	controlBlock []byte, signatures map[string][]byte,
) (wire.TxWitness, error) {
	witness := make(wire.TxWitness, 0, len(f.PubKeys)+2)

	// signatures are pushed in the reverse order of the public keys
	for i := len(f.PubKeys) - 1; i >= 0; i-- {
		xOnlyPubkey := schnorr.SerializePubKey(f.PubKeys[i])
		sig, ok := signatures[hex.EncodeToString(xOnlyPubkey)]
		if !ok {
			return nil, fmt.Errorf("missing signature for pubkey %x", xOnlyPubkey)
		}
		witness = append(witness, sig)
	}

	script, err := f.Script()
	if err != nil {
		return nil, fmt.Errorf("failed to generate script: %w", err)
	}

	witness = append(witness, script)
	witness = append(witness, controlBlock)

	return witness, nil
}

// CSVMultisigClosure prefixes a MultisigClosure with a
// CHECKSEQUENCEVERIFY over a relative locktime. It is the closure of both
// the tree expiry leaf (service key, expiry delta) and the unilateral exit
// leaf (user key, exit delta).
type CSVMultisigClosure struct {
	MultisigClosure
	Locktime arklib.RelativeLocktime
}

func (f *CSVMultisigClosure) Witness(
	controlBlock []byte, signatures map[string][]byte,
) (wire.TxWitness, error) {
	multisigWitness, err := f.MultisigClosure.Witness(controlBlock, signatures)
	if err != nil {
		return nil, err
	}

	script, err := f.Script()
	if err != nil {
		return nil, fmt.Errorf("failed to generate script: %w", err)
	}

	// replace the multisig script with the csv one
	multisigWitness[len(multisigWitness)-2] = script

	return multisigWitness, nil
}

func (f *CSVMultisigClosure) Script() ([]byte, error) {
	sequence, err := arklib.BIP68Sequence(f.Locktime)
	if err != nil {
		return nil, err
	}

	csvScript, err := txscript.NewScriptBuilder().
		AddInt64(int64(sequence)).
		AddOps([]byte{
			txscript.OP_CHECKSEQUENCEVERIFY,
			txscript.OP_DROP,
		}).
		Script()
	if err != nil {
		return nil, err
	}

	multisigScript, err := f.MultisigClosure.Script()
	if err != nil {
		return nil, err
	}

	return append(csvScript, multisigScript...), nil
}

func (f *CSVMultisigClosure) Decode(script []byte) (bool, error) {
	if len(script) == 0 {
		return false, fmt.Errorf("empty script")
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() {
		return false, nil
	}

	var sequence []byte
	if txscript.IsSmallInt(tokenizer.Opcode()) {
		sequence = []byte{byte(txscript.AsSmallInt(tokenizer.Opcode()))}
	} else {
		sequence = tokenizer.Data()
	}

	for _, opCode := range []byte{txscript.OP_CHECKSEQUENCEVERIFY, txscript.OP_DROP} {
		if !tokenizer.Next() || tokenizer.Opcode() != opCode {
			return false, nil
		}
	}

	locktime, err := arklib.BIP68DecodeSequenceFromBytes(sequence)
	if err != nil {
		return false, err
	}

	multisigClosure := &MultisigClosure{}
	subScript := tokenizer.Script()[tokenizer.ByteIndex():]
	valid, err := multisigClosure.Decode(subScript)
	if err != nil || !valid {
		return false, err
	}

	f.Locktime = *locktime
	f.MultisigClosure = *multisigClosure

	return true, nil
}
