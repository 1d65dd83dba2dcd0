package lutregistry

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/evore-labs/deploycrank/internal/program"
	"github.com/evore-labs/deploycrank/internal/wire"
)

// CreateMinerLUT creates the miner table for a single miner authority
// (spec.md §4.7): if a table is already registered for authority, it is
// returned unchanged; otherwise a fresh table, with the operator (payer) as
// its table authority, is created, extended with the miner's five
// addresses, and registered. Only the in-memory registry is checked; the
// chain is not rescanned for existing tables before creating. After
// three failed attempts the caller is expected to drop the task (spec.md
// §4.7 "3-failure drop").
func (r *Registry) CreateMinerLUT(ctx context.Context, payerKey ed25519.PrivateKey, authority wire.Pubkey, addresses [5]wire.Pubkey) (wire.Pubkey, error) {
	if table, ok := r.HasMinerLUT(authority); ok {
		return table, nil
	}

	payer := wire.Pubkey{}
	copy(payer[:], payerKey.Public().(ed25519.PublicKey))

	slot, err := r.client.GetSlot(ctx)
	if err != nil {
		return wire.Pubkey{}, fmt.Errorf("lutregistry: create: get slot: %w", err)
	}

	createIx, table := program.CreateLookupTable(payer, payer, slot, 0)
	if table.IsZero() {
		return wire.Pubkey{}, fmt.Errorf("lutregistry: create: could not derive table address")
	}

	if err := r.sendAndConfirm(ctx, payerKey, []wire.Instruction{createIx}); err != nil {
		return wire.Pubkey{}, fmt.Errorf("lutregistry: create: %w", err)
	}

	time.Sleep(settleWait)

	extendIx := program.ExtendLookupTable(table, payer, payer, addresses[:])
	if err := r.sendAndConfirm(ctx, payerKey, []wire.Instruction{extendIx}); err != nil {
		return wire.Pubkey{}, fmt.Errorf("lutregistry: extend: %w", err)
	}

	time.Sleep(settleWait)

	r.RegisterMinerLUT(authority, table, addresses[:])

	return table, nil
}

// Deactivate marks a miner's table for closure, the first step of manual
// LUT teardown tooling (spec.md §4.3 admin hooks).
func (r *Registry) Deactivate(ctx context.Context, payerKey ed25519.PrivateKey, authority, table wire.Pubkey) error {
	ix := program.DeactivateLookupTable(table, authority)
	return r.sendAndConfirm(ctx, payerKey, []wire.Instruction{ix})
}

// Close reclaims a deactivated table's rent once the cooldown has elapsed,
// given the slot at which it was deactivated.
func (r *Registry) Close(ctx context.Context, payerKey ed25519.PrivateKey, authority, table, recipient wire.Pubkey, deactivatedAtSlot uint64) error {
	slot, err := r.client.GetSlot(ctx)
	if err != nil {
		return fmt.Errorf("lutregistry: close: get slot: %w", err)
	}
	if slot < deactivatedAtSlot+program.LUTCloseCooldownSlots {
		return fmt.Errorf("lutregistry: close: cooldown not elapsed: need slot >= %d, at %d", deactivatedAtSlot+program.LUTCloseCooldownSlots, slot)
	}
	ix := program.CloseLookupTable(table, authority, recipient)
	return r.sendAndConfirm(ctx, payerKey, []wire.Instruction{ix})
}

// ScanLegacy returns the addresses classified as legacy/invalid on the last
// LoadAllLUTs scan, for manual operator review (spec.md §4.3 admin hooks:
// legacy tables are surfaced, never auto-closed).
func (r *Registry) ScanLegacy() []wire.Pubkey {
	return r.Legacy()
}

// sendAndConfirm compiles, signs, and submits a one-shot transaction built
// from instructions, using the latest blockhash; it does not wait for
// confirmation beyond submission, matching the fire-and-forget style of the
// rest of the pipeline's sender stage (spec.md §4.12).
func (r *Registry) sendAndConfirm(ctx context.Context, payerKey ed25519.PrivateKey, instructions []wire.Instruction) error {
	payer := wire.Pubkey{}
	copy(payer[:], payerKey.Public().(ed25519.PublicKey))

	blockhash, err := r.client.GetLatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("get latest blockhash: %w", err)
	}

	msg, err := wire.CompileMessageV0(payer, instructions, blockhash, nil)
	if err != nil {
		return fmt.Errorf("compile message: %w", err)
	}

	tx := wire.NewTransaction(msg)
	if err := tx.Sign(payerKey); err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	if _, err := r.client.SendTransaction(ctx, tx.Serialize()); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
