// Package lutregistry implements the LUT Registry (spec.md §4.3): it owns
// the shared static-address table and the per-miner 5-address tables,
// discovers and classifies tables on chain, and drives their lifecycle
// (create, extend, deactivate, close).
package lutregistry

import (
	"context"
	"fmt"
	"time"

	"github.com/evore-labs/deploycrank/internal/program"
	"github.com/evore-labs/deploycrank/internal/rpcclient"
	"github.com/evore-labs/deploycrank/internal/wire"

	"sync"
)

// MinerLUTSize is the exact address count of a valid miner lookup table;
// any other size is legacy/invalid (spec.md §3, §4.3).
const MinerLUTSize = 5

// settleWait is the pause after create/extend to let the new table become
// visible to subsequent lookups (spec.md §4.3, §5: "~500ms settle pause").
const settleWait = 500 * time.Millisecond

// Registry owns the two disjoint LUT tables plus the materialized account
// cache, written only by the LUT-creation stage and the initial boot scan
// (spec.md §5 lock discipline).
type Registry struct {
	client   *rpcclient.Client
	operator wire.Pubkey

	mu         sync.RWMutex
	sharedLUT  *wire.Pubkey
	minerLUTs  map[wire.Pubkey]wire.Pubkey // keyed by miner-authority PDA
	materialized map[wire.Pubkey]wire.LookupTableAccount
	legacy     []wire.Pubkey
}

// New constructs an empty Registry for the given operator authority.
func New(client *rpcclient.Client, operator wire.Pubkey) *Registry {
	return &Registry{
		client:       client,
		operator:     operator,
		minerLUTs:    make(map[wire.Pubkey]wire.Pubkey),
		materialized: make(map[wire.Pubkey]wire.LookupTableAccount),
	}
}

// StaticAddresses are the ten process-static addresses consolidated into
// the shared table (spec.md §4.3): operator, program ids, treasury, fee
// collector, config PDA, board PDA, entropy variable PDA.
type StaticAddresses struct {
	Operator            wire.Pubkey
	DeployProgramID      wire.Pubkey
	SystemProgramID      wire.Pubkey
	CollaboratorProgramA wire.Pubkey
	CollaboratorProgramB wire.Pubkey
	FeeCollector         wire.Pubkey
	BoardPDA             wire.Pubkey
	ConfigPDA            wire.Pubkey
	Treasury             wire.Pubkey
	EntropyPDA           wire.Pubkey
}

func (s StaticAddresses) list() []wire.Pubkey {
	return []wire.Pubkey{
		s.Operator, s.DeployProgramID, s.SystemProgramID, s.CollaboratorProgramA,
		s.CollaboratorProgramB, s.FeeCollector, s.BoardPDA, s.ConfigPDA, s.Treasury, s.EntropyPDA,
	}
}

// LoadAllLUTs scans all lookup-table-program accounts filtered by
// authority = operator, parses each, and classifies them: exact match on
// the static set wins the shared table (first one wins); exactly 5
// addresses is a miner table keyed by the address at index 2; anything
// else is legacy/invalid. Idempotent: running it twice does not add
// duplicate miner entries (spec.md §8).
func (r *Registry) LoadAllLUTs(ctx context.Context, static StaticAddresses) error {
	accounts, err := r.client.GetProgramAccounts(ctx, program.AddressLookupTableProgramID, 0, []rpcclient.MemcmpFilter{
		{Offset: program.LookupTableAuthorityOffset, Bytes: r.operator.Bytes()},
	})
	if err != nil {
		return fmt.Errorf("lutregistry: load_all_luts: %w", err)
	}

	staticSet := make(map[wire.Pubkey]bool, 10)
	for _, a := range static.list() {
		staticSet[a] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.legacy = r.legacy[:0]

	for _, acc := range accounts {
		addrs, err := parseLookupTableAddresses(acc.Data)
		if err != nil {
			continue
		}

		table := wire.LookupTableAccount{Address: acc.Pubkey, Addresses: addrs}
		r.materialized[acc.Pubkey] = table

		switch {
		case containsAllStatic(addrs, staticSet):
			if r.sharedLUT == nil {
				addr := acc.Pubkey
				r.sharedLUT = &addr
			}
		case len(addrs) == MinerLUTSize:
			key := addrs[2] // miner-authority PDA, by documented offset (spec.md §3)
			if _, exists := r.minerLUTs[key]; !exists {
				r.minerLUTs[key] = acc.Pubkey
			}
		default:
			r.legacy = append(r.legacy, acc.Pubkey)
		}
	}

	return nil
}

func containsAllStatic(addrs []wire.Pubkey, staticSet map[wire.Pubkey]bool) bool {
	found := make(map[wire.Pubkey]bool, len(staticSet))
	for _, a := range addrs {
		if staticSet[a] {
			found[a] = true
		}
	}
	return len(found) == len(staticSet)
}

// ClassifyShape is a pure function of table content, per spec.md §8: it
// classifies a table as shared/miner/legacy without any registry state.
func ClassifyShape(addrs []wire.Pubkey, staticSet map[wire.Pubkey]bool) string {
	switch {
	case containsAllStatic(addrs, staticSet):
		return "shared"
	case len(addrs) == MinerLUTSize:
		return "miner"
	default:
		return "legacy"
	}
}

// HasMinerLUT reports whether authority has a registered miner table (O(1)
// lookup under read lock, spec.md §4.6 LUT Check fast path).
func (r *Registry) HasMinerLUT(authority wire.Pubkey) (wire.Pubkey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.minerLUTs[authority]
	return addr, ok
}

// SharedLUT returns the registered shared table, if any.
func (r *Registry) SharedLUT() (wire.Pubkey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.sharedLUT == nil {
		return wire.Pubkey{}, false
	}
	return *r.sharedLUT, true
}

// Legacy returns the addresses classified as legacy/invalid on the last
// LoadAllLUTs scan, surfaced to cleanup tooling (spec.md §4.3).
func (r *Registry) Legacy() []wire.Pubkey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.Pubkey, len(r.legacy))
	copy(out, r.legacy)
	return out
}

// LookupTables resolves a set of registered table addresses into their
// materialized LookupTableAccount, for message compilation.
func (r *Registry) LookupTables(addrs []wire.Pubkey) []wire.LookupTableAccount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.LookupTableAccount, 0, len(addrs))
	for _, a := range addrs {
		if t, ok := r.materialized[a]; ok {
			out = append(out, t)
		}
	}
	return out
}

// RegisterMinerLUT records a newly created table for authority and its
// materialized content, called by the LUT-creation stage after extension.
func (r *Registry) RegisterMinerLUT(authority, table wire.Pubkey, addrs []wire.Pubkey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minerLUTs[authority] = table
	r.materialized[table] = wire.LookupTableAccount{Address: table, Addresses: addrs}
}

// CompileMessage builds a versioned message using whichever of the shared
// and per-miner tables are available, with payer as fee payer, and enforces
// the per-transaction byte/account limits (spec.md §4.3). The returned
// message is unsigned.
func (r *Registry) CompileMessage(ctx context.Context, payer wire.Pubkey, instructions []wire.Instruction, recentBlockhash [32]byte, authorities []wire.Pubkey) (*wire.MessageV0, error) {
	var tableAddrs []wire.Pubkey
	if shared, ok := r.SharedLUT(); ok {
		tableAddrs = append(tableAddrs, shared)
	}
	for _, a := range authorities {
		if table, ok := r.HasMinerLUT(a); ok {
			tableAddrs = append(tableAddrs, table)
		}
	}

	tables := r.LookupTables(tableAddrs)

	return wire.CompileMessageV0(payer, instructions, recentBlockhash, tables)
}
