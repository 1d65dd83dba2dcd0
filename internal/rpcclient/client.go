// Package rpcclient implements the chain JSON-RPC-over-HTTP surface named
// in spec.md §6: getProgramAccounts, getMultipleAccounts, getBalance,
// getLatestBlockhash, getSlot, getBlockHeight, sendTransaction, and
// getSignatureStatuses, each as a typed Go method over a generic JSON-RPC
// 2.0 envelope.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/mr-tron/base58"
	"github.com/sony/gobreaker"

	"github.com/evore-labs/deploycrank/internal/wire"
)

// Client wraps a retryable HTTP transport with a circuit breaker around the
// two RPC calls whose failure mode is "the endpoint is genuinely down, stop
// queueing work that will never resolve": sendTransaction and
// getSignatureStatuses (spec.md's DOMAIN STACK expansion).
type Client struct {
	url        string
	readClient *http.Client // bounded retries, for read-only calls
	sendClient *http.Client // RetryMax: 0, operator owns retry policy
	breaker    *gobreaker.CircuitBreaker[json.RawMessage]
	nextID     atomic.Int64
}

// New constructs a Client against url. Does not attempt a connection; call
// Connect to verify connectivity with boot-time backoff.
func New(url string) *Client {
	read := retryablehttp.NewClient()
	read.RetryMax = 3
	read.Logger = nil

	send := retryablehttp.NewClient()
	send.RetryMax = 0 // sendTransaction: the operator owns retry policy, per spec.md §6
	send.Logger = nil

	c := &Client{
		url:        url,
		readClient: read.StandardClient(),
		sendClient: send.StandardClient(),
	}
	c.breaker = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        "rpc",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

// Connect verifies RPC connectivity with exponential backoff, used once at
// boot (spec.md §6 exit codes: "non-zero on failure to ... connect to RPC").
func (c *Client) Connect(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		_, err := c.GetSlot(ctx)
		return struct{}{}, err
	}, backoff.WithMaxTries(10))
	if err != nil {
		return fmt.Errorf("rpcclient: connect: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, httpClient *http.Client, method string, params ...any) (json.RawMessage, error) {
	req := request{
		JSONRPC: "2.0",
		ID:      int(c.nextID.Add(1)),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpcclient: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("rpcclient: %s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpcclient: %s: %w", method, rpcResp.Error)
	}
	return rpcResp.Result, nil
}

// breakered routes a call through the circuit breaker using the send
// transport (no read-side retry applies once inside the breaker).
func (c *Client) breakered(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return c.breaker.Execute(func() (json.RawMessage, error) {
		return c.call(ctx, c.sendClient, method, params...)
	})
}

// AccountInfo is the decoded form of a getAccountInfo/getMultipleAccounts
// result entry. Absent accounts decode to a nil *AccountInfo.
type AccountInfo struct {
	Owner    wire.Pubkey
	Lamports uint64
	Data     []byte
}

type rpcAccountInfo struct {
	Owner    string   `json:"owner"`
	Lamports uint64   `json:"lamports"`
	Data     []string `json:"data"` // [base64 data, encoding]
}

func decodeAccountInfo(raw *rpcAccountInfo) (*AccountInfo, error) {
	if raw == nil {
		return nil, nil
	}
	owner, err := wire.ParsePubkey(raw.Owner)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: decode owner: %w", err)
	}
	var data []byte
	if len(raw.Data) > 0 {
		data, err = base64.StdEncoding.DecodeString(raw.Data[0])
		if err != nil {
			return nil, fmt.Errorf("rpcclient: decode account data: %w", err)
		}
	}
	return &AccountInfo{Owner: owner, Lamports: raw.Lamports, Data: data}, nil
}

// GetMultipleAccounts fetches up to 100 accounts in one RPC call, per
// spec.md §5's per-call account limit.
func (c *Client) GetMultipleAccounts(ctx context.Context, addrs []wire.Pubkey) ([]*AccountInfo, error) {
	strs := make([]string, len(addrs))
	for i, a := range addrs {
		strs[i] = a.String()
	}

	raw, err := c.call(ctx, c.readClient, "getMultipleAccounts", strs, map[string]any{"encoding": "base64"})
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Context any               `json:"context"`
		Value   []*rpcAccountInfo `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("rpcclient: getMultipleAccounts: decode: %w", err)
	}

	out := make([]*AccountInfo, len(wrapper.Value))
	for i, v := range wrapper.Value {
		ai, err := decodeAccountInfo(v)
		if err != nil {
			return nil, err
		}
		out[i] = ai
	}
	return out, nil
}

// GetAccount fetches a single account, returning nil if it doesn't exist.
func (c *Client) GetAccount(ctx context.Context, addr wire.Pubkey) (*AccountInfo, error) {
	raw, err := c.call(ctx, c.readClient, "getAccountInfo", addr.String(), map[string]any{"encoding": "base64"})
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Value *rpcAccountInfo `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("rpcclient: getAccountInfo: decode: %w", err)
	}
	return decodeAccountInfo(wrapper.Value)
}

// ProgramAccount pairs an account's address with its decoded data, as
// returned by getProgramAccounts.
type ProgramAccount struct {
	Pubkey wire.Pubkey
	AccountInfo
}

// MemcmpFilter filters getProgramAccounts results by comparing bytes at a
// fixed offset.
type MemcmpFilter struct {
	Offset int
	Bytes  []byte
}

// GetProgramAccounts fetches every account owned by programID matching the
// given filters (data size plus memcmp), used for deployer discovery and
// LUT discovery (spec.md §6).
func (c *Client) GetProgramAccounts(ctx context.Context, programID wire.Pubkey, dataSize int, filters []MemcmpFilter) ([]ProgramAccount, error) {
	var rpcFilters []map[string]any
	if dataSize > 0 {
		rpcFilters = append(rpcFilters, map[string]any{"dataSize": dataSize})
	}
	for _, f := range filters {
		rpcFilters = append(rpcFilters, map[string]any{
			"memcmp": map[string]any{
				"offset": f.Offset,
				"bytes":  base58.Encode(f.Bytes),
			},
		})
	}

	opts := map[string]any{"encoding": "base64"}
	if len(rpcFilters) > 0 {
		opts["filters"] = rpcFilters
	}

	raw, err := c.call(ctx, c.readClient, "getProgramAccounts", programID.String(), opts)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		Pubkey  string          `json:"pubkey"`
		Account *rpcAccountInfo `json:"account"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("rpcclient: getProgramAccounts: decode: %w", err)
	}

	out := make([]ProgramAccount, 0, len(entries))
	for _, e := range entries {
		pk, err := wire.ParsePubkey(e.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("rpcclient: decode pubkey: %w", err)
		}
		ai, err := decodeAccountInfo(e.Account)
		if err != nil || ai == nil {
			continue
		}
		out = append(out, ProgramAccount{Pubkey: pk, AccountInfo: *ai})
	}
	return out, nil
}

// GetBalance returns the lamport balance of addr.
func (c *Client) GetBalance(ctx context.Context, addr wire.Pubkey) (uint64, error) {
	raw, err := c.call(ctx, c.readClient, "getBalance", addr.String())
	if err != nil {
		return 0, err
	}
	var wrapper struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return 0, fmt.Errorf("rpcclient: getBalance: decode: %w", err)
	}
	return wrapper.Value, nil
}

// GetLatestBlockhash fetches a recent blockhash at commitment "confirmed",
// per spec.md §6.
func (c *Client) GetLatestBlockhash(ctx context.Context) ([32]byte, error) {
	raw, err := c.call(ctx, c.readClient, "getLatestBlockhash", map[string]any{"commitment": "confirmed"})
	if err != nil {
		return [32]byte{}, err
	}
	var wrapper struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return [32]byte{}, fmt.Errorf("rpcclient: getLatestBlockhash: decode: %w", err)
	}
	b, err := base58.Decode(wrapper.Value.Blockhash)
	if err != nil || len(b) != 32 {
		return [32]byte{}, fmt.Errorf("rpcclient: getLatestBlockhash: invalid blockhash")
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

// GetSlot returns the current slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	raw, err := c.call(ctx, c.readClient, "getSlot")
	if err != nil {
		return 0, err
	}
	var slot uint64
	if err := json.Unmarshal(raw, &slot); err != nil {
		return 0, fmt.Errorf("rpcclient: getSlot: decode: %w", err)
	}
	return slot, nil
}

// GetBlockHeight returns the current block height.
func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	raw, err := c.call(ctx, c.readClient, "getBlockHeight")
	if err != nil {
		return 0, err
	}
	var height uint64
	if err := json.Unmarshal(raw, &height); err != nil {
		return 0, fmt.Errorf("rpcclient: getBlockHeight: decode: %w", err)
	}
	return height, nil
}

// SendTransaction posts serialized transaction bytes with skipPreflight and
// maxRetries=0, per spec.md §4.12 and §6. Routed through the circuit
// breaker: a tripped breaker fails fast rather than queueing a confirmation
// that will never resolve.
func (c *Client) SendTransaction(ctx context.Context, raw []byte) (wire.Signature, error) {
	encoded := base64.StdEncoding.EncodeToString(raw)
	result, err := c.breakered(ctx, "sendTransaction", encoded, map[string]any{
		"encoding":      "base64",
		"skipPreflight": true,
		"maxRetries":    0,
	})
	if err != nil {
		return wire.Signature{}, err
	}
	var sigStr string
	if err := json.Unmarshal(result, &sigStr); err != nil {
		return wire.Signature{}, fmt.Errorf("rpcclient: sendTransaction: decode: %w", err)
	}
	b, err := base58.Decode(sigStr)
	if err != nil || len(b) != wire.SignatureSize {
		return wire.Signature{}, fmt.Errorf("rpcclient: sendTransaction: invalid signature")
	}
	var sig wire.Signature
	copy(sig[:], b)
	return sig, nil
}

// SignatureStatus is one entry of a getSignatureStatuses response.
type SignatureStatus struct {
	Found             bool
	Confirmations     *uint64
	Err               json.RawMessage
	ConfirmationStatus string // "processed" | "confirmed" | "finalized"
}

// GetSignatureStatuses checks up to 200 signatures per call (spec.md §4.13;
// §9 open questions notes the chain's actual limit is 256 and the 200 cap
// is carried from the source without documented rationale), without
// searching transaction history. Routed through the circuit breaker.
func (c *Client) GetSignatureStatuses(ctx context.Context, sigs []wire.Signature) ([]SignatureStatus, error) {
	strs := make([]string, len(sigs))
	for i, s := range sigs {
		strs[i] = s.String()
	}

	result, err := c.breakered(ctx, "getSignatureStatuses", strs, map[string]any{"searchTransactionHistory": false})
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Value []*struct {
			Confirmations      *uint64         `json:"confirmations"`
			Err                json.RawMessage `json:"err"`
			ConfirmationStatus string          `json:"confirmationStatus"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &wrapper); err != nil {
		return nil, fmt.Errorf("rpcclient: getSignatureStatuses: decode: %w", err)
	}

	out := make([]SignatureStatus, len(wrapper.Value))
	for i, v := range wrapper.Value {
		if v == nil {
			out[i] = SignatureStatus{Found: false}
			continue
		}
		out[i] = SignatureStatus{
			Found:              true,
			Confirmations:      v.Confirmations,
			Err:                v.Err,
			ConfirmationStatus: v.ConfirmationStatus,
		}
	}
	return out, nil
}

// MaxSignatureStatusesPerCall and MaxAccountsPerCall mirror spec.md §5's
// per-RPC-call limits.
const (
	MaxSignatureStatusesPerCall = 200
	MaxAccountsPerCall          = 100
)
