package domain

import "context"

type RoundRepository interface {
	// AddRound persists a freshly finalized round.
	AddRound(ctx context.Context, round *Round) error
	// GetRoundWithTxid returns the full round record, or an error if unknown.
	GetRoundWithTxid(ctx context.Context, txid string) (*Round, error)
	// GetExpiredRounds returns the txids of all non-swept rounds with
	// expiry height <= the given height, sorted by txid for determinism.
	GetExpiredRounds(ctx context.Context, height uint32) ([]string, error)
	// MarkSwept flags a round as reclaimed.
	MarkSwept(ctx context.Context, txid string) error
	Close()
}
