package application

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// SpendableUtxo is one reclaimable round output: the outpoint, a PSBT input
// populated with everything needed to sign except the final witness, and the
// witness weight declared for fee budgeting. Built fresh on every
// enumeration, never persisted.
type SpendableUtxo struct {
	Point  wire.OutPoint
	Input  psbt.PInput
	Weight int
}

func (u *SpendableUtxo) Amount() btcutil.Amount {
	if u.Input.WitnessUtxo == nil {
		return 0
	}
	return btcutil.Amount(u.Input.WitnessUtxo.Value)
}

// RoundEvent is a round-phase notification broadcast to all subscribers.
// Consumers only need the current phase, so slow subscribers may miss
// events.
type RoundEvent interface {
	RoundId() string
}

type RoundStarted struct {
	Id               string
	SubmissionEndsAt time.Time
}

type RoundSigningStarted struct {
	Id string
}

type RoundFinalized struct {
	Id   string
	Txid string
}

type RoundFailed struct {
	Id  string
	Err error
}

func (e RoundStarted) RoundId() string        { return e.Id }
func (e RoundSigningStarted) RoundId() string { return e.Id }
func (e RoundFinalized) RoundId() string      { return e.Id }
func (e RoundFailed) RoundId() string         { return e.Id }

// RoundInput is a request pushed by a concurrent RPC handler and drained by
// the single round-scheduler task.
type RoundInput interface {
	isRoundInput()
}

// RegisterIntent asks the current round to include an offchain balance.
type RegisterIntent struct {
	Proof []byte
}

// SubmitSignatures carries a cosigner's tree signatures for the round being
// signed.
type SubmitSignatures struct {
	RoundId    string
	Signatures [][]byte
}

func (RegisterIntent) isRoundInput()   {}
func (SubmitSignatures) isRoundInput() {}
