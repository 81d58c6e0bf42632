package badgerdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/arkade-os/aspd/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const roundStoreDir = "rounds"

type roundRepository struct {
	store *badgerhold.Store
}

func NewRoundRepository(baseDir string, logger badger.Logger) (domain.RoundRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, roundStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open round store: %w", err)
	}
	return &roundRepository{store}, nil
}

func (r *roundRepository) AddRound(_ context.Context, round *domain.Round) error {
	if err := r.store.Insert(round.Txid, *round); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("round %s already exists", round.Txid)
		}
		return err
	}
	return nil
}

func (r *roundRepository) GetRoundWithTxid(_ context.Context, txid string) (*domain.Round, error) {
	var round domain.Round
	if err := r.store.Get(txid, &round); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("round %s not found", txid)
		}
		return nil, err
	}
	return &round, nil
}

func (r *roundRepository) GetExpiredRounds(_ context.Context, height uint32) ([]string, error) {
	var rounds []domain.Round
	query := badgerhold.Where("ExpiryHeight").Le(height).And("Swept").Eq(false)
	if err := r.store.Find(&rounds, query); err != nil {
		return nil, err
	}

	txids := make([]string, 0, len(rounds))
	for _, round := range rounds {
		txids = append(txids, round.Txid)
	}
	sort.Strings(txids)
	return txids, nil
}

func (r *roundRepository) MarkSwept(ctx context.Context, txid string) error {
	round, err := r.GetRoundWithTxid(ctx, txid)
	if err != nil {
		return err
	}
	round.Swept = true
	return r.store.Update(txid, *round)
}

func (r *roundRepository) Close() {
	// nolint:all
	r.store.Close()
}
