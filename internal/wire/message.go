package wire

import (
	"errors"
	"fmt"
	"sort"
)

const (
	// MaxMessageBytes and MaxMessageAccounts are the hard per-transaction
	// resource limits named in spec.md §5: a compiled message exceeding
	// either is a build failure, never a partially-submitted transaction.
	MaxMessageBytes    = 1232
	MaxMessageAccounts = 64

	messageVersionV0 = 0x80 // high bit set signals a versioned message
)

type (
	// AccountMeta describes one account referenced by an instruction, prior
	// to address compression via lookup tables.
	AccountMeta struct {
		Pubkey     Pubkey
		IsSigner   bool
		IsWritable bool
	}

	// Instruction is a program invocation with its account list and opaque
	// data, prior to compilation into a CompiledInstruction.
	Instruction struct {
		ProgramID Pubkey
		Accounts  []AccountMeta
		Data      []byte
	}

	// CompiledInstruction references accounts by index into the message's
	// combined (static + looked-up) account list.
	CompiledInstruction struct {
		ProgramIDIndex byte
		AccountIndexes []byte
		Data           []byte
	}

	// MessageAddressTableLookup references one lookup table account and the
	// indexes, within that table, of the writable and readonly addresses
	// this message draws from it.
	MessageAddressTableLookup struct {
		AccountKey      Pubkey
		WritableIndexes []byte
		ReadonlyIndexes []byte
	}

	// MessageHeader carries the three counts needed to partition the static
	// account list into signer/writable, signer/readonly, and
	// unsigned/readonly segments.
	MessageHeader struct {
		NumRequiredSignatures      byte
		NumReadonlySignedAccounts  byte
		NumReadonlyUnsignedAccounts byte
	}

	// MessageV0 is a versioned Solana message: a static account list plus
	// zero or more address-table lookups that extend it without spending
	// message bytes on full 32-byte pubkeys.
	MessageV0 struct {
		Header              MessageHeader
		StaticAccountKeys   []Pubkey
		RecentBlockhash     [32]byte
		Instructions        []CompiledInstruction
		AddressTableLookups []MessageAddressTableLookup
	}

	// LookupTableAccount is a materialized view of an on-chain address
	// lookup table: its own address, plus the ordered addresses it holds.
	LookupTableAccount struct {
		Address   Pubkey
		Addresses []Pubkey
	}
)

var (
	ErrTooManyAccounts = errors.New("wire: message exceeds max account limit")
	ErrMessageTooLarge = errors.New("wire: message exceeds max byte limit")
)

// CompileMessageV0 builds a versioned message from payer, a list of
// instructions (addressed by full Pubkey), a recent blockhash, and whichever
// lookup tables are available to compress non-signer accounts. Accounts
// referenced by an instruction but absent from every lookup table fall back
// to the static account list, spending 32 bytes each.
//
// Fails with ErrTooManyAccounts or ErrMessageTooLarge if the compiled result
// would exceed the hard resource limits; callers (the batcher stages) treat
// this as a build failure, never a partial submission.
func CompileMessageV0(payer Pubkey, instructions []Instruction, recentBlockhash [32]byte, luts []LookupTableAccount) (*MessageV0, error) {
	metas := collectAccountMetas(payer, instructions)

	var signerWritable, signerReadonly, nonSignerWritable, nonSignerReadonly []Pubkey
	seen := make(map[Pubkey]bool, len(metas))
	for _, m := range metas {
		if seen[m.Pubkey] {
			continue
		}
		seen[m.Pubkey] = true
		switch {
		case m.IsSigner && m.IsWritable:
			signerWritable = append(signerWritable, m.Pubkey)
		case m.IsSigner && !m.IsWritable:
			signerReadonly = append(signerReadonly, m.Pubkey)
		case !m.IsSigner && m.IsWritable:
			nonSignerWritable = append(nonSignerWritable, m.Pubkey)
		default:
			nonSignerReadonly = append(nonSignerReadonly, m.Pubkey)
		}
	}

	// payer must be index 0 amongst the signer/writable set
	signerWritable = movePayerFirst(payer, signerWritable)

	// attempt to resolve non-signer accounts against the provided tables;
	// anything left over stays static.
	staticWritable, lookupWritable := resolveAgainstLUTs(nonSignerWritable, luts)
	staticReadonly, lookupReadonly := resolveAgainstLUTs(nonSignerReadonly, luts)

	static := make([]Pubkey, 0, len(signerWritable)+len(signerReadonly)+len(staticWritable)+len(staticReadonly))
	static = append(static, signerWritable...)
	static = append(static, signerReadonly...)
	static = append(static, staticWritable...)
	static = append(static, staticReadonly...)

	lookups := buildLookups(luts, lookupWritable, lookupReadonly)

	totalAccounts := len(static)
	for _, l := range lookups {
		totalAccounts += len(l.WritableIndexes) + len(l.ReadonlyIndexes)
	}
	if totalAccounts > MaxMessageAccounts {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyAccounts, totalAccounts, MaxMessageAccounts)
	}

	index := indexOf(static, lookups, luts)

	compiled := make([]CompiledInstruction, 0, len(instructions))
	for _, ins := range instructions {
		programIdx, ok := index[ins.ProgramID]
		if !ok {
			return nil, fmt.Errorf("wire: program id %s not in account list", ins.ProgramID)
		}
		accIdx := make([]byte, 0, len(ins.Accounts))
		for _, a := range ins.Accounts {
			idx, ok := index[a.Pubkey]
			if !ok {
				return nil, fmt.Errorf("wire: account %s not in account list", a.Pubkey)
			}
			accIdx = append(accIdx, idx)
		}
		compiled = append(compiled, CompiledInstruction{
			ProgramIDIndex: programIdx,
			AccountIndexes: accIdx,
			Data:           ins.Data,
		})
	}

	msg := &MessageV0{
		Header: MessageHeader{
			NumRequiredSignatures:       byte(len(signerWritable) + len(signerReadonly)),
			NumReadonlySignedAccounts:   byte(len(signerReadonly)),
			NumReadonlyUnsignedAccounts: byte(len(staticReadonly)),
		},
		StaticAccountKeys:   static,
		RecentBlockhash:     recentBlockhash,
		Instructions:        compiled,
		AddressTableLookups: lookups,
	}

	if n := len(msg.Serialize()); n > MaxMessageBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, MaxMessageBytes)
	}

	return msg, nil
}

func collectAccountMetas(payer Pubkey, instructions []Instruction) []AccountMeta {
	metas := []AccountMeta{{Pubkey: payer, IsSigner: true, IsWritable: true}}
	for _, ins := range instructions {
		metas = append(metas, AccountMeta{Pubkey: ins.ProgramID, IsSigner: false, IsWritable: false})
		metas = append(metas, ins.Accounts...)
	}
	return mergeMetas(metas)
}

// mergeMetas deduplicates by pubkey, OR-ing IsSigner/IsWritable across
// every occurrence, since an account referenced both read-only and
// read-write anywhere in the instruction set must be treated as writable.
func mergeMetas(in []AccountMeta) []AccountMeta {
	order := make([]Pubkey, 0, len(in))
	byKey := make(map[Pubkey]*AccountMeta, len(in))
	for i := range in {
		m := in[i]
		if existing, ok := byKey[m.Pubkey]; ok {
			existing.IsSigner = existing.IsSigner || m.IsSigner
			existing.IsWritable = existing.IsWritable || m.IsWritable
			continue
		}
		cp := m
		byKey[m.Pubkey] = &cp
		order = append(order, m.Pubkey)
	}
	out := make([]AccountMeta, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

func movePayerFirst(payer Pubkey, keys []Pubkey) []Pubkey {
	out := make([]Pubkey, 0, len(keys))
	out = append(out, payer)
	for _, k := range keys {
		if k != payer {
			out = append(out, k)
		}
	}
	return out
}

// resolveAgainstLUTs splits keys into those that must remain static (not
// found in any table) and those resolvable via a lookup table.
func resolveAgainstLUTs(keys []Pubkey, luts []LookupTableAccount) (static, lookup []Pubkey) {
	for _, k := range keys {
		resolved := false
		for _, l := range luts {
			if _, ok := findInTable(l, k); ok {
				resolved = true
				break
			}
		}
		if resolved {
			lookup = append(lookup, k)
		} else {
			static = append(static, k)
		}
	}
	return static, lookup
}

func findInTable(l LookupTableAccount, k Pubkey) (int, bool) {
	for i, a := range l.Addresses {
		if a == k {
			return i, true
		}
	}
	return 0, false
}

// buildLookups assigns writable/readonly keys to whichever table contains
// them, preferring the first table in luts order for deterministic output.
func buildLookups(luts []LookupTableAccount, writable, readonly []Pubkey) []MessageAddressTableLookup {
	type acc struct {
		writable []byte
		readonly []byte
	}
	byTable := make(map[Pubkey]*acc)
	var order []Pubkey

	assign := func(keys []Pubkey, writableBucket bool) {
		for _, k := range keys {
			for _, l := range luts {
				idx, ok := findInTable(l, k)
				if !ok {
					continue
				}
				a, exists := byTable[l.Address]
				if !exists {
					a = &acc{}
					byTable[l.Address] = a
					order = append(order, l.Address)
				}
				if writableBucket {
					a.writable = append(a.writable, byte(idx))
				} else {
					a.readonly = append(a.readonly, byte(idx))
				}
				break
			}
		}
	}
	assign(writable, true)
	assign(readonly, false)

	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })

	out := make([]MessageAddressTableLookup, 0, len(order))
	for _, addr := range order {
		a := byTable[addr]
		out = append(out, MessageAddressTableLookup{
			AccountKey:      addr,
			WritableIndexes: a.writable,
			ReadonlyIndexes: a.readonly,
		})
	}
	return out
}

// indexOf builds the combined index: static accounts first (in message
// order), then every lookup-table writable address across all tables (in
// table order), then every lookup-table readonly address, matching the
// on-chain account-resolution order for versioned messages.
func indexOf(static []Pubkey, lookups []MessageAddressTableLookup, luts []LookupTableAccount) map[Pubkey]byte {
	tables := make(map[Pubkey][]Pubkey, len(luts))
	for _, l := range luts {
		if _, ok := tables[l.Address]; !ok {
			tables[l.Address] = l.Addresses
		}
	}
	index := make(map[Pubkey]byte, len(static))
	var i byte
	for _, k := range static {
		index[k] = i
		i++
	}
	for _, l := range lookups {
		for _, idx := range l.WritableIndexes {
			index[tables[l.AccountKey][idx]] = i
			i++
		}
	}
	for _, l := range lookups {
		for _, idx := range l.ReadonlyIndexes {
			index[tables[l.AccountKey][idx]] = i
			i++
		}
	}
	return index
}

// Serialize encodes the message using Solana's wire format: a version
// prefix byte, the three header counts, the shortvec-prefixed static
// account list, the blockhash, shortvec-prefixed compiled instructions, and
// (for v0) shortvec-prefixed address table lookups.
func (m *MessageV0) Serialize() []byte {
	var buf []byte
	buf = append(buf, messageVersionV0)
	buf = append(buf, m.Header.NumRequiredSignatures, m.Header.NumReadonlySignedAccounts, m.Header.NumReadonlyUnsignedAccounts)

	buf = EncodeShortVecLen(buf, len(m.StaticAccountKeys))
	for _, k := range m.StaticAccountKeys {
		buf = append(buf, k[:]...)
	}

	buf = append(buf, m.RecentBlockhash[:]...)

	buf = EncodeShortVecLen(buf, len(m.Instructions))
	for _, ins := range m.Instructions {
		buf = append(buf, ins.ProgramIDIndex)
		buf = EncodeShortVecLen(buf, len(ins.AccountIndexes))
		buf = append(buf, ins.AccountIndexes...)
		buf = EncodeShortVecLen(buf, len(ins.Data))
		buf = append(buf, ins.Data...)
	}

	buf = EncodeShortVecLen(buf, len(m.AddressTableLookups))
	for _, l := range m.AddressTableLookups {
		buf = append(buf, l.AccountKey[:]...)
		buf = EncodeShortVecLen(buf, len(l.WritableIndexes))
		buf = append(buf, l.WritableIndexes...)
		buf = EncodeShortVecLen(buf, len(l.ReadonlyIndexes))
		buf = append(buf, l.ReadonlyIndexes...)
	}

	return buf
}

// NumRequiredSignatures reports how many accounts must sign this message.
func (m *MessageV0) NumRequiredSignatures() int { return int(m.Header.NumRequiredSignatures) }
