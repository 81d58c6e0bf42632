package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/arkade-os/aspd/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const (
	seedStoreDir = "seed"
	seedKey      = "master"
)

type masterSeed struct {
	Mnemonic string
	Seed     []byte
}

type seedRepository struct {
	store *badgerhold.Store
}

func NewSeedRepository(baseDir string, logger badger.Logger) (domain.SeedRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, seedStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed store: %w", err)
	}
	return &seedRepository{store}, nil
}

func (r *seedRepository) StoreMasterSeed(_ context.Context, mnemonic string, seed []byte) error {
	if err := r.store.Insert(seedKey, masterSeed{Mnemonic: mnemonic, Seed: seed}); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("master seed already stored")
		}
		return err
	}
	return nil
}

func (r *seedRepository) GetMasterSeed(_ context.Context) ([]byte, error) {
	var record masterSeed
	if err := r.store.Get(seedKey, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("master seed not found")
		}
		return nil, err
	}
	return record.Seed, nil
}

func (r *seedRepository) GetMasterMnemonic(_ context.Context) (string, error) {
	var record masterSeed
	if err := r.store.Get(seedKey, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return "", fmt.Errorf("master seed not found")
		}
		return "", err
	}
	return record.Mnemonic, nil
}

func (r *seedRepository) Close() {
	// nolint:all
	r.store.Close()
}
