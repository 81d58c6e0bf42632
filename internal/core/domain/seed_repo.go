package domain

import "context"

// SeedRepository stores the service's master key material, written once at
// creation time.
type SeedRepository interface {
	StoreMasterSeed(ctx context.Context, mnemonic string, seed []byte) error
	GetMasterSeed(ctx context.Context) ([]byte, error)
	GetMasterMnemonic(ctx context.Context) (string, error)
	Close()
}
