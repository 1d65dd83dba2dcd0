// Package keypair loads and holds the operator's ed25519 signing key.
//
// The keypair is process-wide state, per spec.md §9 "Global state": loaded
// at boot, never rotated, dropped on shutdown. The only other package-level
// state is the program package's deploy program id and static account
// addresses, set once at boot; the scheduler, connection pool, and audit
// ledger handle are passed explicitly through stage constructors.
package keypair

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"github.com/evore-labs/deploycrank/internal/wire"
)

// Keypair holds the operator's signing key, loaded once at boot.
type Keypair struct {
	Public  wire.Pubkey
	Private ed25519.PrivateKey
}

// Load reads a Solana CLI-style keypair file: a JSON array of 64 bytes
// (the 32-byte seed followed by the 32-byte public key, ed25519's standard
// "extended" secret key encoding).
func Load(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keypair: read %s: %w", path, err)
	}

	var bytes []byte
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil, fmt.Errorf("keypair: parse %s: %w", path, err)
	}
	if len(bytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair: %s must contain %d bytes, got %d", path, ed25519.PrivateKeySize, len(bytes))
	}

	priv := ed25519.PrivateKey(bytes)
	pub := priv.Public().(ed25519.PublicKey)

	var pk wire.Pubkey
	copy(pk[:], pub)

	return &Keypair{Public: pk, Private: priv}, nil
}
