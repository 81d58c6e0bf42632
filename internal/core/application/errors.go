package application

import "fmt"

// CorruptionError reports a broken invariant left by an earlier stage, like
// a malformed metadata tag or a tagged input missing its tap leaf. It fails
// the enclosing operation instead of being skipped.
type CorruptionError struct {
	InputIndex int
	RoundTxid  string
	Reason     string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf(
		"corrupted input %d (round %s): %s", e.InputIndex, e.RoundTxid, e.Reason,
	)
}

// WeightMismatchError reports a final witness whose serialized size differs
// from the weight declared for fee estimation. It points at an upstream
// construction bug, never at user input.
type WeightMismatchError struct {
	InputIndex int
	Declared   int
	Actual     int
}

func (e *WeightMismatchError) Error() string {
	return fmt.Sprintf(
		"witness weight mismatch on input %d: declared %d, got %d",
		e.InputIndex, e.Declared, e.Actual,
	)
}
