package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arkade-os/aspd/internal/core/ports"
	"github.com/arkade-os/aspd/pkg/arklib/onboard"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig is the settlement core's tuning surface. Durations and
// counts are opaque here; the core only reacts to computed expiry heights.
type ServiceConfig struct {
	RoundInterval      time.Duration
	SubmissionDuration time.Duration
	SigningDuration    time.Duration
	NonceBudget        uint64
	SweepFeeRateSatVb  float64
}

// Service is the settlement core: it owns the long-lived signing key, the
// round scheduler, the sweeper and the onchain wallet bridge, and exposes
// the operations RPC handlers call into.
type Service struct {
	cfg       ServiceConfig
	signerKey *btcec.PrivateKey

	repoManager ports.RepoManager
	wallet      ports.WalletService
	walletLock  sync.Mutex

	sweeper        *sweeper
	roundScheduler *roundScheduler
	events         *eventBroker
	inputs         *inputQueue

	// serve runs the RPC-facing task. Injected by the process harness so
	// the core races it against the round loop under fail-fast supervision.
	serve func(ctx context.Context) error
}

// CreateMasterSeed generates and stores the service's master key material.
// Called once at creation time; fails if a seed is already stored.
func CreateMasterSeed(ctx context.Context, repoManager ports.RepoManager) (string, error) {
	if _, err := repoManager.Seed().GetMasterSeed(ctx); err == nil {
		return "", fmt.Errorf("master seed already exists")
	}

	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", err
	}
	seed := bip39.NewSeed(mnemonic, "")

	if err := repoManager.Seed().StoreMasterSeed(ctx, mnemonic, seed); err != nil {
		return "", err
	}
	return mnemonic, nil
}

func NewService(
	ctx context.Context, cfg ServiceConfig, netParams *chaincfg.Params,
	repoManager ports.RepoManager, wallet ports.WalletService,
	finalize RoundFinalizer, serve func(ctx context.Context) error,
) (*Service, error) {
	seed, err := repoManager.Seed().GetMasterSeed(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load master seed: %w", err)
	}

	signerKey, err := deriveSignerKey(seed, netParams)
	if err != nil {
		return nil, err
	}

	events := newEventBroker()
	inputs := newInputQueue()
	sweeper := newSweeper(signerKey, repoManager, wallet, cfg.SweepFeeRateSatVb)
	roundScheduler := newRoundScheduler(
		cfg.RoundInterval, cfg.SubmissionDuration, cfg.SigningDuration,
		cfg.NonceBudget, sweeper, repoManager, finalize, events, inputs,
	)

	return &Service{
		cfg:            cfg,
		signerKey:      signerKey,
		repoManager:    repoManager,
		wallet:         wallet,
		sweeper:        sweeper,
		roundScheduler: roundScheduler,
		events:         events,
		inputs:         inputs,
		serve:          serve,
	}, nil
}

func deriveSignerKey(seed []byte, netParams *chaincfg.Params) (*btcec.PrivateKey, error) {
	master, err := hdkeychain.NewMaster(seed, netParams)
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	child, err := master.Derive(0)
	if err != nil {
		return nil, fmt.Errorf("failed to derive signer key: %w", err)
	}
	return child.ECPrivKey()
}

// Start races the RPC-serving task against the round-scheduling task.
// Whichever exits first, with or without error, takes the whole service
// down with it.
func (s *Service) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.serve(gctx)
	})
	g.Go(func() error {
		if err := s.roundScheduler.start(); err != nil {
			return err
		}
		<-gctx.Done()
		s.roundScheduler.stop()
		return gctx.Err()
	})

	return g.Wait()
}

func (s *Service) Close() {
	s.roundScheduler.stop()
	s.wallet.Close()
	s.repoManager.Close()
}

// SignerPubKey is the service's long-lived public key. Immutable after
// startup, safe for concurrent reads.
func (s *Service) SignerPubKey() *btcec.PublicKey {
	return s.signerKey.PubKey()
}

func (s *Service) GetMasterMnemonic(ctx context.Context) (string, error) {
	return s.repoManager.Seed().GetMasterMnemonic(ctx)
}

// OnchainAddress returns the wallet's current receive address.
func (s *Service) OnchainAddress(ctx context.Context) (btcutil.Address, error) {
	s.walletLock.Lock()
	defer s.walletLock.Unlock()
	return s.wallet.Address(ctx)
}

// SyncOnchainWallet advances the wallet to the node tip and returns the
// balance. Concurrent calls serialize on the wallet lock.
func (s *Service) SyncOnchainWallet(ctx context.Context) (btcutil.Amount, error) {
	s.walletLock.Lock()
	defer s.walletLock.Unlock()
	return s.wallet.Sync(ctx)
}

// CosignOnboard cosigns a user's onboarding commitment. Stateless; a fresh
// nonce pair is drawn per call.
func (s *Service) CosignOnboard(user onboard.UserPart) (*onboard.AspPart, error) {
	return onboard.NewAspPart(user, s.signerKey)
}

// SpendableExpiredRounds enumerates reclaimable round outputs at the given
// height for a collaborator building the sweep transaction itself.
func (s *Service) SpendableExpiredRounds(
	ctx context.Context, height uint32,
) ([]SpendableUtxo, error) {
	return s.sweeper.spendableExpiredRounds(ctx, height)
}

// SignRoundUtxoInputs cosigns all round-tagged inputs of the packet in
// place. Safe to run concurrently with wallet operations.
func (s *Service) SignRoundUtxoInputs(ctx context.Context, ptx *psbt.Packet) error {
	return s.sweeper.signRoundUtxoInputs(ctx, ptx)
}

// Events subscribes to round-phase events.
func (s *Service) Events() (<-chan RoundEvent, func()) {
	return s.events.Subscribe()
}

// PushRoundInput queues a round input for the scheduler. Never blocks.
func (s *Service) PushRoundInput(input RoundInput) {
	s.inputs.Push(input)
}
