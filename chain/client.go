// Package chain adapts a Solana JSON-RPC node to the engine's account,
// balance, fee and confirmation interfaces.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"

	"github.com/rexbrahh/amm-arb/decoder/common"
	"github.com/rexbrahh/amm-arb/execution"
	"github.com/rexbrahh/amm-arb/pool"
)

var (
	// ErrNetwork wraps transport failures that survived the retry budget.
	ErrNetwork = errors.New("chain: network error")
	// ErrAccountNotFound reports an address with no account data.
	ErrAccountNotFound = errors.New("chain: account not found")
	// ErrNoWallet reports a balance read without a configured wallet.
	ErrNoWallet = errors.New("chain: wallet not configured")
)

// Account is one raw account read.
type Account struct {
	Address pool.Address
	Owner   pool.Address
	Data    []byte
}

// Client wraps rpc.Client with retries and engine-typed results.
type Client struct {
	cfg        Config
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	wallet     sol.PublicKey
	logger     *zap.Logger
	sleep      func(context.Context, time.Duration) error

	mu            sync.Mutex
	tokenAccounts map[pool.Address]sol.PublicKey
}

// New dials nothing; the underlying client connects lazily per request.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:           cfg,
		rpc:           rpc.New(cfg.Endpoint),
		commitment:    rpc.CommitmentType(cfg.Commitment),
		logger:        logger,
		sleep:         sleepCtx,
		tokenAccounts: make(map[pool.Address]sol.PublicKey),
	}
	if cfg.Wallet != "" {
		pk, err := sol.PublicKeyFromBase58(cfg.Wallet)
		if err != nil {
			return nil, fmt.Errorf("invalid wallet: %w", err)
		}
		c.wallet = pk
	}
	return c, nil
}

// GetAccountBytes returns the raw data of one account.
func (c *Client) GetAccountBytes(ctx context.Context, addr pool.Address) ([]byte, error) {
	accounts, _, err := c.GetAccounts(ctx, []pool.Address{addr})
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return accounts[0].Data, nil
}

// GetAccounts reads addrs in batches and returns the accounts that exist in
// request order with the lowest context slot across batches.
func (c *Client) GetAccounts(ctx context.Context, addrs []pool.Address) ([]Account, uint64, error) {
	out := make([]Account, 0, len(addrs))
	var slot uint64
	for start := 0; start < len(addrs); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(addrs))
		batch := addrs[start:end]
		keys := make([]sol.PublicKey, len(batch))
		for i, a := range batch {
			keys[i] = sol.PublicKey(a)
		}

		var res *rpc.GetMultipleAccountsResult
		err := c.withRetry(ctx, "getMultipleAccounts", func(ctx context.Context) error {
			var err error
			res, err = c.rpc.GetMultipleAccountsWithOpts(ctx, keys, &rpc.GetMultipleAccountsOpts{
				Encoding:   sol.EncodingBase64,
				Commitment: c.commitment,
			})
			return err
		})
		if err != nil {
			return nil, 0, err
		}
		if s := res.Context.Slot; slot == 0 || s < slot {
			slot = s
		}
		for i, acc := range res.Value {
			if acc == nil || acc.Data == nil || i >= len(batch) {
				continue
			}
			out = append(out, Account{
				Address: batch[i],
				Owner:   pool.Address(acc.Owner),
				Data:    acc.Data.GetBinary(),
			})
		}
	}
	return out, slot, nil
}

// GetSlot returns the node's current slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.withRetry(ctx, "getSlot", func(ctx context.Context) error {
		var err error
		slot, err = c.rpc.GetSlot(ctx, c.commitment)
		return err
	})
	return slot, err
}

// GetBalance returns lamports for the SOL mint and the token amount of the
// wallet's associated token account for any other mint.
func (c *Client) GetBalance(ctx context.Context, mint pool.Address) (uint64, error) {
	if c.wallet.IsZero() {
		return 0, ErrNoWallet
	}
	if mint.String() == common.MintSOL {
		var lamports uint64
		err := c.withRetry(ctx, "getBalance", func(ctx context.Context) error {
			res, err := c.rpc.GetBalance(ctx, c.wallet, c.commitment)
			if err != nil {
				return err
			}
			lamports = res.Value
			return nil
		})
		return lamports, err
	}

	ata, err := c.tokenAccount(mint)
	if err != nil {
		return 0, err
	}
	var amount uint64
	err = c.withRetry(ctx, "getTokenAccountBalance", func(ctx context.Context) error {
		res, err := c.rpc.GetTokenAccountBalance(ctx, ata, c.commitment)
		if err != nil {
			if missingAccount(err) {
				amount = 0
				return nil
			}
			return err
		}
		if res.Value == nil {
			amount = 0
			return nil
		}
		amount, err = strconv.ParseUint(res.Value.Amount, 10, 64)
		return err
	})
	return amount, err
}

// missingAccount reports a read of an account that does not exist. Token
// balance reads of an uncreated associated token account fail with a
// JSON-RPC error rather than a null value.
func missingAccount(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	var rpcErr *jsonrpc.RPCError
	return errors.As(err, &rpcErr) && strings.Contains(rpcErr.Message, "could not find account")
}

func (c *Client) tokenAccount(mint pool.Address) (sol.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ata, ok := c.tokenAccounts[mint]; ok {
		return ata, nil
	}
	ata, _, err := sol.FindAssociatedTokenAddress(c.wallet, sol.PublicKey(mint))
	if err != nil {
		return sol.PublicKey{}, fmt.Errorf("derive token account for %s: %w", mint, err)
	}
	c.tokenAccounts[mint] = ata
	return ata, nil
}

// Fees returns the base signature fee and the priority fee of one
// transaction, both in lamports. The node quotes priority fees in
// micro-lamports per compute unit; the median quote is priced against the
// configured compute unit limit.
func (c *Client) Fees(ctx context.Context, accounts ...pool.Address) (network, priority uint64, err error) {
	keys := make(sol.PublicKeySlice, len(accounts))
	for i, a := range accounts {
		keys[i] = sol.PublicKey(a)
	}
	var fees []rpc.PriorizationFeeResult
	err = c.withRetry(ctx, "getRecentPrioritizationFees", func(ctx context.Context) error {
		var err error
		fees, err = c.rpc.GetRecentPrioritizationFees(ctx, keys)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	values := make([]uint64, len(fees))
	for i, f := range fees {
		values[i] = f.PrioritizationFee
	}
	return lamportsPerSignature, priorityLamports(median(values), c.cfg.ComputeUnitLimit), nil
}

const microLamportsPerLamport = 1_000_000

// priorityLamports converts a micro-lamports per compute unit price into
// lamports for a transaction of units compute units.
func priorityLamports(microLamportsPerCU uint64, units uint32) uint64 {
	hi, lo := bits.Mul64(microLamportsPerCU, uint64(units))
	if hi >= microLamportsPerLamport {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, microLamportsPerLamport)
	return q
}

// lamportsPerSignature is the fixed base fee of one signature.
const lamportsPerSignature = 5_000

// FeeOracle adapts Client to costmodel.FeeOracle for a fixed account set.
type FeeOracle struct {
	Client   *Client
	Accounts []pool.Address
}

func (o FeeOracle) Fees(ctx context.Context) (uint64, uint64, error) {
	return o.Client.Fees(ctx, o.Accounts...)
}

// Confirm polls the signature status until it is confirmed, reverted, or
// ctx expires.
func (c *Client) Confirm(ctx context.Context, signature string) (execution.Status, error) {
	sig, err := sol.SignatureFromBase58(signature)
	if err != nil {
		return execution.StatusUnknown, fmt.Errorf("invalid signature %q: %w", signature, err)
	}
	for {
		var status *rpc.SignatureStatusesResult
		err := c.withRetry(ctx, "getSignatureStatuses", func(ctx context.Context) error {
			res, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				return err
			}
			if len(res.Value) > 0 {
				status = res.Value[0]
			}
			return nil
		})
		if err != nil {
			return execution.StatusUnknown, err
		}
		if status != nil {
			if status.Err != nil {
				return execution.StatusReverted, nil
			}
			if c.reached(status.ConfirmationStatus) {
				return execution.StatusConfirmed, nil
			}
		}
		if err := c.sleep(ctx, c.cfg.ConfirmPollInterval); err != nil {
			return execution.StatusUnknown, err
		}
	}
}

func (c *Client) reached(status rpc.ConfirmationStatusType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return c.commitment != rpc.CommitmentFinalized
	case rpc.ConfirmationStatusProcessed:
		return c.commitment == rpc.CommitmentProcessed
	}
	return false
}

// withRetry runs fn with a per-request timeout, retrying transport errors
// with exponential backoff.
func (c *Client) withRetry(ctx context.Context, method string, fn func(context.Context) error) error {
	backoff := c.cfg.RetryBackoffBase
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying rpc call", zap.String("method", method), zap.Int("attempt", attempt), zap.Error(lastErr))
			if err := c.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if c.cfg.RetryBackoffMax > 0 && backoff > c.cfg.RetryBackoffMax {
				backoff = c.cfg.RetryBackoffMax
			}
		}

		reqCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.cfg.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		}
		err := fn(reqCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %s failed after %d retries: %w", ErrNetwork, method, c.cfg.MaxRetries, lastErr)
}

func median(values []uint64) uint64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
