// Package config loads operator configuration (spec.md §6) from a TOML
// file, with environment variable overrides for secrets.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the recognized operator configuration option set, per spec.md
// §6.
type Config struct {
	RPCURL         string `toml:"rpc_url"`
	KeypairPath    string `toml:"keypair_path"`
	PriorityFee    uint64 `toml:"priority_fee"`
	PollIntervalMS uint64 `toml:"poll_interval_ms"`
	DeployProgramID string `toml:"deploy_program_id"`
	LedgerPath     string `toml:"ledger_path"`
	MetricsAddr    string `toml:"metrics_addr"`
	WorkerCount    int    `toml:"worker_count"`

	// FeeCollector, Treasury, OreProgramID and EntropyProgramID are the
	// fixed addresses the deploy program's autodeploy/autocheckpoint
	// instructions reference, consumed as external collaborator accounts
	// (spec.md §1: "the on-chain program itself ... consumed as a fixed
	// ABI").
	FeeCollector     string `toml:"fee_collector"`
	Treasury         string `toml:"treasury"`
	OreProgramID     string `toml:"ore_program_id"`
	EntropyProgramID string `toml:"entropy_program_id"`
}

// Defaults matching the Operator Configuration table in spec.md §6.
const (
	DefaultPriorityFee    = 100000
	DefaultPollIntervalMS = 400
	DefaultLedgerPath     = "deploycrank.db"
	DefaultMetricsAddr    = ":9400"
	DefaultWorkerCount    = 4
)

// env var names used to override secrets without putting them in the TOML
// file on disk.
const (
	EnvKeypairPath = "DEPLOYCRANK_KEYPAIR_PATH"
	EnvRPCURL      = "DEPLOYCRANK_RPC_URL"
)

// Load reads and parses path, applies documented defaults for zero fields,
// then applies environment variable overrides for secrets.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if v := os.Getenv(EnvKeypairPath); v != "" {
		cfg.KeypairPath = v
	}
	if v := os.Getenv(EnvRPCURL); v != "" {
		cfg.RPCURL = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.PriorityFee == 0 {
		cfg.PriorityFee = DefaultPriorityFee
	}
	if cfg.PollIntervalMS == 0 {
		cfg.PollIntervalMS = DefaultPollIntervalMS
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = DefaultLedgerPath
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = DefaultMetricsAddr
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
}

func (cfg *Config) validate() error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("config: rpc_url is required")
	}
	if cfg.KeypairPath == "" {
		return fmt.Errorf("config: keypair_path is required")
	}
	if cfg.DeployProgramID == "" {
		return fmt.Errorf("config: deploy_program_id is required")
	}
	if cfg.FeeCollector == "" {
		return fmt.Errorf("config: fee_collector is required")
	}
	if cfg.Treasury == "" {
		return fmt.Errorf("config: treasury is required")
	}
	if cfg.OreProgramID == "" {
		return fmt.Errorf("config: ore_program_id is required")
	}
	if cfg.EntropyProgramID == "" {
		return fmt.Errorf("config: entropy_program_id is required")
	}
	return nil
}
