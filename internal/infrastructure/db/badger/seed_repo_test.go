package badgerdb_test

import (
	"context"
	"testing"

	badgerdb "github.com/arkade-os/aspd/internal/infrastructure/db/badger"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"
)

func TestSeedRepository(t *testing.T) {
	ctx := context.Background()
	repo, err := badgerdb.NewSeedRepository("", nil)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	_, err = repo.GetMasterSeed(ctx)
	require.Error(t, err)
	_, err = repo.GetMasterMnemonic(ctx)
	require.Error(t, err)

	entropy, err := bip39.NewEntropy(256)
	require.NoError(t, err)
	mnemonic, err := bip39.NewMnemonic(entropy)
	require.NoError(t, err)
	seed := bip39.NewSeed(mnemonic, "")

	require.NoError(t, repo.StoreMasterSeed(ctx, mnemonic, seed))

	storedSeed, err := repo.GetMasterSeed(ctx)
	require.NoError(t, err)
	require.Equal(t, seed, storedSeed)

	storedMnemonic, err := repo.GetMasterMnemonic(ctx)
	require.NoError(t, err)
	require.Equal(t, mnemonic, storedMnemonic)

	// write-once
	require.Error(t, repo.StoreMasterSeed(ctx, mnemonic, seed))
}
