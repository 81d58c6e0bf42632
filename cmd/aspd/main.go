package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkade-os/aspd/internal/config"
	"github.com/arkade-os/aspd/internal/core/application"
	"github.com/arkade-os/aspd/internal/core/ports"
	"github.com/arkade-os/aspd/internal/infrastructure/db"
	"github.com/arkade-os/aspd/internal/infrastructure/wallet"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// derivation indexes under the master key
const walletKeyIndex = 1

var datadirFlag = &cli.StringFlag{
	Name:  "datadir",
	Usage: "directory holding the service's config and databases",
	Value: config.LoadDefaultDatadir(),
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "aspd",
		Usage: "ark settlement service",
		Commands: []*cli.Command{
			{
				Name:   "create",
				Usage:  "initialize the datadir and generate the master seed",
				Flags:  []cli.Flag{datadirFlag},
				Action: create,
			},
			{
				Name:   "start",
				Usage:  "run the service",
				Flags:  []cli.Flag{datadirFlag},
				Action: start,
			},
			{
				Name:   "mnemonic",
				Usage:  "print the master mnemonic",
				Flags:  []cli.Flag{datadirFlag},
				Action: mnemonic,
			},
			{
				Name:   "balance",
				Usage:  "sync the onchain wallet and print the balance",
				Flags:  []cli.Flag{datadirFlag},
				Action: balance,
			},
		},
	}
}

func create(ctx *cli.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	// the flag beats the ASPD_DATADIR environment when given explicitly
	if ctx.IsSet("datadir") {
		cfg.Datadir = ctx.String("datadir")
	}

	if entries, err := os.ReadDir(cfg.Datadir); err == nil && len(entries) > 0 {
		return fmt.Errorf("datadir %s is not empty, refusing to create", cfg.Datadir)
	}
	if err := os.MkdirAll(cfg.Datadir, 0700); err != nil {
		return err
	}
	if err := cfg.Save(); err != nil {
		return err
	}

	repoManager, err := db.NewRepoManager(db.ServiceConfig{DataDir: cfg.Datadir})
	if err != nil {
		return err
	}
	defer repoManager.Close()

	mnemonic, err := application.CreateMasterSeed(context.Background(), repoManager)
	if err != nil {
		return err
	}

	fmt.Println(mnemonic)
	return nil
}

func start(ctx *cli.Context) error {
	cfg, err := config.ReadFromDatadir(ctx.String("datadir"))
	if err != nil {
		return err
	}
	log.SetLevel(log.Level(cfg.LogLevel))

	netParams, err := cfg.NetParams()
	if err != nil {
		return err
	}

	repoManager, err := db.NewRepoManager(db.ServiceConfig{DataDir: cfg.Datadir})
	if err != nil {
		return err
	}

	walletSvc, err := newWalletService(ctx.Context, cfg, netParams, repoManager)
	if err != nil {
		repoManager.Close()
		return err
	}

	svc, err := application.NewService(
		ctx.Context, application.ServiceConfig{
			RoundInterval:      cfg.RoundInterval,
			SubmissionDuration: cfg.RoundSubmitTime,
			SigningDuration:    cfg.RoundSignTime,
			NonceBudget:        cfg.NonceBudget,
			SweepFeeRateSatVb:  cfg.SweepFeeRateSatVb,
		},
		netParams, repoManager, walletSvc, nil, waitForShutdown,
	)
	if err != nil {
		walletSvc.Close()
		repoManager.Close()
		return err
	}
	defer svc.Close()

	log.Infof("aspd started on %s, datadir %s", cfg.Network, cfg.Datadir)

	runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(runCtx); err != nil && runCtx.Err() == nil {
		return err
	}
	log.Info("shutting down")
	return nil
}

// waitForShutdown stands in for the RPC-serving task until a transport is
// wired; it keeps the fail-fast supervision shape intact.
func waitForShutdown(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func mnemonic(ctx *cli.Context) error {
	repoManager, err := db.NewRepoManager(
		db.ServiceConfig{DataDir: ctx.String("datadir")},
	)
	if err != nil {
		return err
	}
	defer repoManager.Close()

	mnemonic, err := repoManager.Seed().GetMasterMnemonic(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Println(mnemonic)
	return nil
}

func balance(ctx *cli.Context) error {
	cfg, err := config.ReadFromDatadir(ctx.String("datadir"))
	if err != nil {
		return err
	}
	netParams, err := cfg.NetParams()
	if err != nil {
		return err
	}

	repoManager, err := db.NewRepoManager(db.ServiceConfig{DataDir: cfg.Datadir})
	if err != nil {
		return err
	}
	defer repoManager.Close()

	walletSvc, err := newWalletService(ctx.Context, cfg, netParams, repoManager)
	if err != nil {
		return err
	}
	defer walletSvc.Close()

	total, err := walletSvc.Sync(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("%d\n", int64(total))
	return nil
}

func newWalletService(
	ctx context.Context, cfg *config.Config, netParams *chaincfg.Params,
	repoManager ports.RepoManager,
) (ports.WalletService, error) {
	seed, err := repoManager.Seed().GetMasterSeed(ctx)
	if err != nil {
		return nil, err
	}
	walletKey, err := deriveKey(seed, netParams, walletKeyIndex)
	if err != nil {
		return nil, err
	}

	return wallet.NewService(wallet.ServiceConfig{
		NodeUrl:    cfg.NodeUrl,
		CookiePath: cfg.NodeCookiePath,
		DataDir:    cfg.Datadir,
		PubKey:     walletKey.PubKey(),
		NetParams:  netParams,
	})
}

func deriveKey(
	seed []byte, netParams *chaincfg.Params, index uint32,
) (*btcec.PrivateKey, error) {
	master, err := hdkeychain.NewMaster(seed, netParams)
	if err != nil {
		return nil, err
	}
	child, err := master.Derive(index)
	if err != nil {
		return nil, err
	}
	return child.ECPrivKey()
}
