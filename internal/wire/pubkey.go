// Package wire implements the Solana wire format this operator needs to
// build, sign, and serialize versioned transactions: base58 addresses,
// ed25519 signatures, compact-u16 ("shortvec") length prefixes, and the
// MessageV0 / Transaction envelopes with their address-lookup-table
// compression.
package wire

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	// PubkeySize and SignatureSize are fixed by ed25519 and the Solana wire
	// format respectively.
	PubkeySize    = 32
	SignatureSize = 64
)

type (
	// Pubkey is a 32-byte Solana address (ed25519 public key, or a
	// program-derived address with no corresponding private key).
	Pubkey [PubkeySize]byte

	// Signature is a 64-byte ed25519 signature, also used as the canonical
	// identity of a transaction once signed.
	Signature [SignatureSize]byte
)

var ErrInvalidPubkeyLength = errors.New("wire: invalid pubkey length")

// ParsePubkey decodes a base58-encoded Solana address.
func ParsePubkey(s string) (Pubkey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("wire: decode pubkey: %w", err)
	}
	if len(b) != PubkeySize {
		return Pubkey{}, ErrInvalidPubkeyLength
	}
	var pk Pubkey
	copy(pk[:], b)
	return pk, nil
}

// MustParsePubkey is ParsePubkey, panicking on error. Intended for
// process-static addresses known at compile time (program ids, etc).
func MustParsePubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (p Pubkey) String() string { return base58.Encode(p[:]) }

func (p Pubkey) Bytes() []byte { return p[:] }

func (p Pubkey) IsZero() bool { return p == Pubkey{} }

func (s Signature) String() string { return base58.Encode(s[:]) }

func (s Signature) Bytes() []byte { return s[:] }

func (s Signature) IsZero() bool { return s == Signature{} }

// SignMessage signs raw message bytes with an ed25519 private key, returning
// the 64-byte Signature.
func SignMessage(priv ed25519.PrivateKey, message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(priv, message))
	return sig
}

// ToBase64 is a convenience wrapper used when posting serialized
// transactions to sendTransaction, which expects a base64 string.
func ToBase64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
