// Command crankd runs the automated deployment crank: it watches a round's
// public schedule on chain and submits deploy, checkpoint, and fee-update
// transactions on behalf of every delegated deployer account.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/joeycumines/logiface"
	logifacezerolog "github.com/joeycumines/logiface-zerolog"

	"github.com/evore-labs/deploycrank/internal/boardstate"
	"github.com/evore-labs/deploycrank/internal/config"
	"github.com/evore-labs/deploycrank/internal/keypair"
	"github.com/evore-labs/deploycrank/internal/ledger"
	"github.com/evore-labs/deploycrank/internal/lutregistry"
	"github.com/evore-labs/deploycrank/internal/minercache"
	"github.com/evore-labs/deploycrank/internal/pipeline"
	"github.com/evore-labs/deploycrank/internal/program"
	"github.com/evore-labs/deploycrank/internal/rpcclient"
	"github.com/evore-labs/deploycrank/internal/stats"
	"github.com/evore-labs/deploycrank/internal/wire"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to a TOML configuration file",
	Value:   "crankd.toml",
}

var rpcURLFlag = &cli.StringFlag{
	Name:  "rpc-url",
	Usage: "override the configured RPC endpoint",
}

var keypairFlag = &cli.StringFlag{
	Name:  "keypair",
	Usage: "override the configured operator keypair path",
}

func main() {
	app := &cli.App{
		Name:  "crankd",
		Usage: "automated board deployment crank",
		Flags: []cli.Flag{configFlag, rpcURLFlag, keypairFlag},
		Commands: []*cli.Command{
			runCommand,
			testCommand,
			listCommand,
			checkAccountsCommand,
			lutCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("rpc-url"); v != "" {
		cfg.RPCURL = v
	}
	if v := c.String("keypair"); v != "" {
		cfg.KeypairPath = v
	}
	return cfg, nil
}

func newLogger() *logiface.Logger[logiface.Event] {
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	return logiface.New[*logifacezerolog.Event](logifacezerolog.WithZerolog(zl)).Logger()
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "run the deployment crank continuously",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		log := newLogger()

		keys, err := keypair.Load(cfg.KeypairPath)
		if err != nil {
			return fmt.Errorf("load keypair: %w", err)
		}

		client := rpcclient.New(cfg.RPCURL)
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}

		deployProgramID, err := wire.ParsePubkey(cfg.DeployProgramID)
		if err != nil {
			return fmt.Errorf("parse deploy_program_id: %w", err)
		}
		program.SetDeployProgramID(deployProgramID)

		feeCollector, err := wire.ParsePubkey(cfg.FeeCollector)
		if err != nil {
			return fmt.Errorf("parse fee_collector: %w", err)
		}
		treasury, err := wire.ParsePubkey(cfg.Treasury)
		if err != nil {
			return fmt.Errorf("parse treasury: %w", err)
		}
		oreProgramID, err := wire.ParsePubkey(cfg.OreProgramID)
		if err != nil {
			return fmt.Errorf("parse ore_program_id: %w", err)
		}
		entropyProgramID, err := wire.ParsePubkey(cfg.EntropyProgramID)
		if err != nil {
			return fmt.Errorf("parse entropy_program_id: %w", err)
		}
		program.SetStaticAccounts(feeCollector, treasury, oreProgramID, entropyProgramID)

		boardPDA, _, err := program.DeriveBoardPDA(deployProgramID)
		if err != nil {
			return fmt.Errorf("derive board pda: %w", err)
		}
		configPDA, _, err := program.DeriveConfigPDA(deployProgramID)
		if err != nil {
			return fmt.Errorf("derive config pda: %w", err)
		}
		entropyPDA, _, err := program.DeriveEntropyPDA(deployProgramID)
		if err != nil {
			return fmt.Errorf("derive entropy pda: %w", err)
		}

		st := stats.New(time.Now())
		led, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		defer led.Close()

		cache := minercache.New(client, nil)
		registry := lutregistry.New(client, keys.Public)

		if err := registry.LoadAllLUTs(ctx, lutregistry.StaticAddresses{
			Operator:             keys.Public,
			DeployProgramID:      deployProgramID,
			SystemProgramID:      program.SystemProgramID,
			CollaboratorProgramA: oreProgramID,
			CollaboratorProgramB: entropyProgramID,
			FeeCollector:         feeCollector,
			BoardPDA:             boardPDA,
			ConfigPDA:            configPDA,
			Treasury:             treasury,
			EntropyPDA:           entropyPDA,
		}); err != nil {
			log.Warning().Err(err).Log("initial lut scan failed")
		}

		channels := pipeline.NewChannels()
		interval := time.Duration(cfg.PollIntervalMS) * time.Millisecond
		monitor := boardstate.New(client, boardPDA, interval, log, st, channels)

		orch := pipeline.New(pipeline.Config{
			Channels:      channels,
			Client:        client,
			Keys:          keys,
			Cache:         cache,
			Registry:      registry,
			Monitor:       monitor,
			Ledger:        led,
			Stats:         st,
			Log:           log,
			BoardPDA:      boardPDA,
			ConfigPDA:     configPDA,
			EntropyPDA:    entropyPDA,
			PriorityFee:   cfg.PriorityFee,
			DeployWorkers: cfg.WorkerCount,
		})

		go serveMetrics(cfg.MetricsAddr, st, log)

		deployers, err := discoverDeployers(ctx, client, deployProgramID)
		if err != nil {
			return fmt.Errorf("discover deployers: %w", err)
		}

		orch.Run(ctx, deployers)
		return nil
	},
}

var testCommand = &cli.Command{
	Name:  "test",
	Usage: "submit a self-transfer probe transaction and exit",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		keys, err := keypair.Load(cfg.KeypairPath)
		if err != nil {
			return err
		}
		client := rpcclient.New(cfg.RPCURL)
		ctx := context.Background()
		if err := client.Connect(ctx); err != nil {
			return err
		}

		blockhash, err := client.GetLatestBlockhash(ctx)
		if err != nil {
			return err
		}

		data := make([]byte, 12)
		data[0] = 2
		ix := wire.Instruction{
			ProgramID: program.SystemProgramID,
			Accounts: []wire.AccountMeta{
				{Pubkey: keys.Public, IsSigner: true, IsWritable: true},
				{Pubkey: keys.Public, IsWritable: true},
			},
			Data: data, // Transfer(0 lamports): discriminator 2 + u64 amount
		}

		msg, err := wire.CompileMessageV0(keys.Public, []wire.Instruction{ix}, blockhash, nil)
		if err != nil {
			return err
		}
		tx := wire.NewTransaction(msg)
		if err := tx.Sign(keys.Private); err != nil {
			return err
		}
		sig, err := client.SendTransaction(ctx, tx.Serialize())
		if err != nil {
			return err
		}
		fmt.Println(sig.String())
		return nil
	},
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "list delegated deployer accounts and their cached state",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		client := rpcclient.New(cfg.RPCURL)
		ctx := context.Background()
		if err := client.Connect(ctx); err != nil {
			return err
		}
		deployProgramID, err := wire.ParsePubkey(cfg.DeployProgramID)
		if err != nil {
			return err
		}
		deployers, err := discoverDeployers(ctx, client, deployProgramID)
		if err != nil {
			return err
		}
		for _, d := range deployers {
			fmt.Printf("%s manager=%s flat_fee=%d expected_fee=%d\n", d.Address, d.Manager, d.FlatFee, d.ExpectedFlatFee)
		}
		return nil
	},
}

var checkAccountsCommand = &cli.Command{
	Name:  "check-accounts",
	Usage: "print cached miner eligibility for every delegated deployer",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		client := rpcclient.New(cfg.RPCURL)
		ctx := context.Background()
		if err := client.Connect(ctx); err != nil {
			return err
		}
		deployProgramID, err := wire.ParsePubkey(cfg.DeployProgramID)
		if err != nil {
			return err
		}
		deployers, err := discoverDeployers(ctx, client, deployProgramID)
		if err != nil {
			return err
		}
		cache := minercache.New(client, nil)
		currentSlot, err := client.GetSlot(ctx)
		if err != nil {
			return err
		}
		if err := cache.Refresh(ctx, deployers, currentSlot); err != nil {
			return err
		}
		for _, d := range deployers {
			entry, _ := cache.Get(d.Address)
			fmt.Printf("%s exists=%v has_deployed=%v balance=%d rewards=%d\n",
				d.Address, entry.Exists, entry.HasDeployed, entry.AuthBalanceLamports, entry.RewardsSOLLamports)
		}
		return nil
	},
}

var lutCommand = &cli.Command{
	Name:  "lut",
	Usage: "manual lookup-table housekeeping",
	Subcommands: []*cli.Command{
		{
			Name:  "scan",
			Usage: "list legacy/invalid lookup tables owned by this operator",
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return err
				}
				keys, err := keypair.Load(cfg.KeypairPath)
				if err != nil {
					return err
				}
				client := rpcclient.New(cfg.RPCURL)
				ctx := context.Background()
				if err := client.Connect(ctx); err != nil {
					return err
				}
				registry := lutregistry.New(client, keys.Public)
				deployProgramID, err := wire.ParsePubkey(cfg.DeployProgramID)
				if err != nil {
					return err
				}
				if err := registry.LoadAllLUTs(ctx, lutregistry.StaticAddresses{
					Operator:        keys.Public,
					DeployProgramID: deployProgramID,
					SystemProgramID: program.SystemProgramID,
				}); err != nil {
					return err
				}
				for _, addr := range registry.ScanLegacy() {
					fmt.Println(addr.String())
				}
				return nil
			},
		},
	},
}

func serveMetrics(addr string, st *stats.Stats, log *logiface.Logger[logiface.Event]) {
	collector := stats.NewCollector(st)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Err().Err(err).Log("metrics server exited")
	}
}

// discoverDeployers fetches every delegated deployer account owned by the
// deploy program via getProgramAccounts filtered by the fixed account size;
// ParseDeployerAccount then skips accounts whose discriminator does not
// match (spec.md §6). No authority filter is applied, so deployers of every
// operator are returned.
func discoverDeployers(ctx context.Context, client *rpcclient.Client, deployProgramID wire.Pubkey) ([]pipeline.DeployerInfo, error) {
	accounts, err := client.GetProgramAccounts(ctx, deployProgramID, program.DeployerAccountSize, nil)
	if err != nil {
		return nil, err
	}

	out := make([]pipeline.DeployerInfo, 0, len(accounts))
	for _, acc := range accounts {
		parsed, err := program.ParseDeployerAccount(acc.Data)
		if err != nil {
			continue
		}
		out = append(out, pipeline.DeployerInfo{
			Address:           acc.Pubkey,
			Manager:           parsed.Manager,
			AuthID:            parsed.AuthID,
			FlatFee:           parsed.FlatFee,
			ExpectedFlatFee:   parsed.ExpectedFlatFee,
			MaxFeeBps:         parsed.MaxFeeBps,
			DeployCapPerRound: parsed.DeployCapPerRound,
		})
	}
	return out, nil
}
