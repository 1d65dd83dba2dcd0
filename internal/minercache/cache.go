// Package minercache implements the Miner Cache (spec.md §4.2): bulk reads
// of per-deployer miner state, exposing deploy/checkpoint eligibility
// queries to every downstream stage.
package minercache

import (
	"context"
	"sync"

	"github.com/evore-labs/deploycrank/internal/pipeline"
	"github.com/evore-labs/deploycrank/internal/program"
	"github.com/evore-labs/deploycrank/internal/rpcclient"
	"github.com/evore-labs/deploycrank/internal/wire"
)

// Config configures the cache's chunked refresh behavior.
type Config struct {
	// MaxConcurrency bounds the worker pool used to chunk getMultipleAccounts
	// calls during Refresh (SPEC_FULL.md [4.2] supplement). Default 4.
	MaxConcurrency int
}

// Cache owns per-deployer CachedMiner entries, written only by itself, by
// the confirmation tracker (MarkDeployed), and by the failure handler
// (RefreshSingle) — per spec.md §5 lock discipline.
type Cache struct {
	client         *rpcclient.Client
	maxConcurrency int

	mu      sync.RWMutex
	entries map[wire.Pubkey]pipeline.CachedMiner // keyed by deployer address
}

// New constructs an empty Cache. cfg may be nil for defaults.
func New(client *rpcclient.Client, cfg *Config) *Cache {
	maxConcurrency := 4
	if cfg != nil && cfg.MaxConcurrency > 0 {
		maxConcurrency = cfg.MaxConcurrency
	}
	return &Cache{
		client:         client,
		maxConcurrency: maxConcurrency,
		entries:        make(map[wire.Pubkey]pipeline.CachedMiner),
	}
}

// deployerAuthority pairs a deployer address with its derived miner and
// authority addresses, the refresh unit of work.
type deployerAuthority struct {
	Deployer  wire.Pubkey
	Miner     wire.Pubkey
	Authority wire.Pubkey
}

// Refresh produces one CachedMiner entry per deployer, chunking
// getMultipleAccounts calls through a bounded worker pool (SPEC_FULL.md
// [4.2]: mirrors original_source's miner_cache.rs concurrent-chunk-fetch).
func (c *Cache) Refresh(ctx context.Context, deployers []pipeline.DeployerInfo, currentRoundID uint64) error {
	units := make([]deployerAuthority, len(deployers))
	for i, d := range deployers {
		auth, _, err := program.DeriveMinerAuthorityPDA(program.DeployProgramID(), d.Manager, d.AuthID)
		if err != nil {
			return err
		}
		miner, _, err := program.DeriveMinerPDA(program.DeployProgramID(), auth)
		if err != nil {
			return err
		}
		units[i] = deployerAuthority{Deployer: d.Address, Miner: miner, Authority: auth}
	}

	chunks := chunkUnits(units, rpcclient.MaxAccountsPerCall/2) // 2 accounts per unit (miner + authority)

	// bounded worker pool via a buffered semaphore channel, mirroring the
	// concurrency-limiting pattern microbatch.Batcher uses for its own
	// MaxConcurrency (see runningBatchCh in microbatch/microbatch.go).
	sem := make(chan struct{}, c.maxConcurrency)
	var wg sync.WaitGroup
	errCh := make(chan error, len(chunks))

	for _, chunk := range chunks {
		chunk := chunk
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.refreshChunk(ctx, chunk, currentRoundID); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func chunkUnits(units []deployerAuthority, size int) [][]deployerAuthority {
	if size <= 0 {
		size = 1
	}
	var out [][]deployerAuthority
	for i := 0; i < len(units); i += size {
		end := i + size
		if end > len(units) {
			end = len(units)
		}
		out = append(out, units[i:end])
	}
	return out
}

func (c *Cache) refreshChunk(ctx context.Context, chunk []deployerAuthority, currentRoundID uint64) error {
	addrs := make([]wire.Pubkey, 0, len(chunk)*2)
	for _, u := range chunk {
		addrs = append(addrs, u.Miner, u.Authority)
	}

	infos, err := c.client.GetMultipleAccounts(ctx, addrs)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, u := range chunk {
		minerInfo := infos[i*2]
		authInfo := infos[i*2+1]

		var authBalance uint64
		if authInfo != nil {
			authBalance = authInfo.Lamports
		}

		entry := pipeline.CachedMiner{
			MinerAddress:        u.Miner,
			AuthorityAddress:    u.Authority,
			AuthBalanceLamports: authBalance,
		}

		if minerInfo != nil {
			parsed, err := program.ParseMinerAccount(minerInfo.Data)
			if err != nil {
				return err
			}
			entry.Exists = true
			entry.CheckpointID = parsed.CheckpointID
			entry.RoundID = parsed.RoundID
			entry.HasDeployed = parsed.HasDeployed && parsed.RoundID == currentRoundID
			entry.RewardsSOLLamports = parsed.RewardsSOL
		}

		c.entries[u.Deployer] = entry
	}

	return nil
}

// RefreshBalances re-reads only the authority PDA lamport balance for each
// deployer, fetching the authorities sequentially in chunks of
// MaxAccountsPerCall rather than through Refresh's worker pool
// (SPEC_FULL.md [4.2]).
func (c *Cache) RefreshBalances(ctx context.Context, deployerAddrs []wire.Pubkey) error {
	c.mu.RLock()
	authorities := make([]wire.Pubkey, 0, len(deployerAddrs))
	present := make([]wire.Pubkey, 0, len(deployerAddrs))
	for _, d := range deployerAddrs {
		if e, ok := c.entries[d]; ok {
			authorities = append(authorities, e.AuthorityAddress)
			present = append(present, d)
		}
	}
	c.mu.RUnlock()

	const chunkSize = rpcclient.MaxAccountsPerCall
	for i := 0; i < len(authorities); i += chunkSize {
		end := i + chunkSize
		if end > len(authorities) {
			end = len(authorities)
		}
		infos, err := c.client.GetMultipleAccounts(ctx, authorities[i:end])
		if err != nil {
			return err
		}

		c.mu.Lock()
		for j, info := range infos {
			d := present[i+j]
			entry := c.entries[d]
			if info != nil {
				entry.AuthBalanceLamports = info.Lamports
			}
			entry.NeedsBalanceRefresh = false
			c.entries[d] = entry
		}
		c.mu.Unlock()
	}

	return nil
}

// RefreshSingle re-reads both accounts for a single deployer and overwrites
// the cached entry, used by the Failure Handler during culprit isolation
// (spec.md §4.2, §4.14).
func (c *Cache) RefreshSingle(ctx context.Context, deployer pipeline.DeployerInfo, currentRoundID uint64) error {
	auth, _, err := program.DeriveMinerAuthorityPDA(program.DeployProgramID(), deployer.Manager, deployer.AuthID)
	if err != nil {
		return err
	}
	miner, _, err := program.DeriveMinerPDA(program.DeployProgramID(), auth)
	if err != nil {
		return err
	}
	unit := deployerAuthority{Deployer: deployer.Address, Miner: miner, Authority: auth}
	return c.refreshChunk(ctx, []deployerAuthority{unit}, currentRoundID)
}

// MarkDeployed sets RoundID = round and HasDeployed = true for every
// address in addrs, and flags them for a balance-only refresh. Used by the
// Confirmation Tracker on a confirmed deploy (spec.md §4.2).
func (c *Cache) MarkDeployed(addrs []wire.Pubkey, round uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, addr := range addrs {
		entry := c.entries[addr]
		entry.RoundID = round
		entry.HasDeployed = true
		entry.NeedsBalanceRefresh = true
		c.entries[addr] = entry
	}
}

// Get returns the cached entry for addr, if any.
func (c *Cache) Get(addr wire.Pubkey) (pipeline.CachedMiner, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[addr]
	return e, ok
}

// HasDeployedInRound reports exists ∧ round_id == round ∧ has_deployed, per
// spec.md §4.2. Pure, read-only.
func (c *Cache) HasDeployedInRound(addr wire.Pubkey, round uint64) bool {
	e, ok := c.Get(addr)
	return ok && e.Exists && e.RoundID == round && e.HasDeployed
}

// AuthBalance returns the cached authority-PDA lamport balance, used by
// Deployment Check's MinDeployBalance comparison.
func (c *Cache) AuthBalance(addr wire.Pubkey) (uint64, bool) {
	e, ok := c.Get(addr)
	if !ok {
		return 0, false
	}
	return e.AuthBalanceLamports, true
}

// NeedsCheckpoint returns the round id if exists ∧ checkpoint_id < round_id,
// and whether such a round exists.
func (c *Cache) NeedsCheckpoint(addr wire.Pubkey) (uint64, bool) {
	e, ok := c.Get(addr)
	if !ok || !e.Exists || e.CheckpointID >= e.RoundID {
		return 0, false
	}
	return e.RoundID, true
}

// HasSOLToRecycle reports exists ∧ rewards_sol > 0.
func (c *Cache) HasSOLToRecycle(addr wire.Pubkey) bool {
	e, ok := c.Get(addr)
	return ok && e.Exists && e.RewardsSOLLamports > 0
}
