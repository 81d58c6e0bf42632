package db

import (
	"fmt"

	"github.com/arkade-os/aspd/internal/core/domain"
	"github.com/arkade-os/aspd/internal/core/ports"
	badgerdb "github.com/arkade-os/aspd/internal/infrastructure/db/badger"
	"github.com/dgraph-io/badger/v4"
)

// ServiceConfig selects the storage backend. An empty DataDir opens
// everything in memory, which the tests rely on.
type ServiceConfig struct {
	DataDir string
	Logger  badger.Logger
}

type repoManager struct {
	rounds domain.RoundRepository
	seed   domain.SeedRepository
}

func NewRepoManager(cfg ServiceConfig) (ports.RepoManager, error) {
	rounds, err := badgerdb.NewRoundRepository(cfg.DataDir, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open round repository: %w", err)
	}
	seed, err := badgerdb.NewSeedRepository(cfg.DataDir, cfg.Logger)
	if err != nil {
		rounds.Close()
		return nil, fmt.Errorf("failed to open seed repository: %w", err)
	}
	return &repoManager{rounds: rounds, seed: seed}, nil
}

func (m *repoManager) Rounds() domain.RoundRepository {
	return m.rounds
}

func (m *repoManager) Seed() domain.SeedRepository {
	return m.seed
}

func (m *repoManager) Close() {
	m.rounds.Close()
	m.seed.Close()
}
