package ports

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// WalletService is the onchain wallet bridge: a checkpointed view of the
// chain fed by the full-node backend, plus the node operations the round
// scheduler needs. Implementations serialize Sync internally; callers must
// not rely on concurrent syncs making progress.
type WalletService interface {
	// Address returns the current receive address. Idempotent until a
	// transaction touches it.
	Address(ctx context.Context) (btcutil.Address, error)
	// Sync advances the wallet to the node tip, applies the mempool
	// overlay and returns the total balance.
	Sync(ctx context.Context) (btcutil.Amount, error)
	// TipHeight returns the node's current block height.
	TipHeight(ctx context.Context) (uint32, error)
	// BroadcastTransaction submits the tx and returns its txid.
	BroadcastTransaction(ctx context.Context, tx *wire.MsgTx) (string, error)
	Close()
}
