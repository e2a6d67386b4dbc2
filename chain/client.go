package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// USDCMintMainnet is the canonical USDC mint on mainnet-beta.
const USDCMintMainnet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

const (
	defaultConfirmRetries  = 30
	defaultConfirmInterval = 2 * time.Second

	// SPL token accounts are a fixed 165 bytes; rent exemption for that
	// size is what a recipient account creation costs the node.
	tokenAccountSize = 165
	// Fallback rent charge used for accounting when the live rent lookup
	// fails; matches the long-stable 165-byte rent-exempt minimum.
	fallbackTokenAccountRent uint64 = 2_039_280
)

// ErrConfirmationTimeout is returned when a submitted transaction does not
// reach confirmed commitment within the configured retry budget.
var ErrConfirmationTimeout = errors.New("chain: confirmation timed out")

// Config controls RPC access and confirmation behaviour.
type Config struct {
	Endpoint        string
	USDCMint        string
	ConfirmRetries  int
	ConfirmInterval time.Duration
}

// Client executes transfers and balance lookups against a Solana RPC
// endpoint. It implements the balance source consumed by the wallet pool
// and the executor consumed by the execution engine.
type Client struct {
	rpc             *rpc.Client
	usdcMint        solana.PublicKey
	confirmRetries  int
	confirmInterval time.Duration
}

// New validates the configuration and builds a client. No connection is
// established until the first call.
func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("chain: rpc endpoint required")
	}
	mintRaw := strings.TrimSpace(cfg.USDCMint)
	if mintRaw == "" {
		mintRaw = USDCMintMainnet
	}
	mint, err := solana.PublicKeyFromBase58(mintRaw)
	if err != nil {
		return nil, fmt.Errorf("chain: invalid usdc mint: %w", err)
	}
	retries := cfg.ConfirmRetries
	if retries <= 0 {
		retries = defaultConfirmRetries
	}
	interval := cfg.ConfirmInterval
	if interval <= 0 {
		interval = defaultConfirmInterval
	}
	return &Client{
		rpc:             rpc.New(endpoint),
		usdcMint:        mint,
		confirmRetries:  retries,
		confirmInterval: interval,
	}, nil
}

// USDCMint returns the mint this client transfers for the stable asset.
func (c *Client) USDCMint() solana.PublicKey {
	return c.usdcMint
}

// SOLBalance returns the account's lamport balance.
func (c *Client) SOLBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("chain: balance for %s: %w", account, err)
	}
	if out == nil {
		return 0, fmt.Errorf("chain: empty balance response for %s", account)
	}
	return out.Value, nil
}

// USDCBalance returns the account's USDC balance in base units, read from
// its associated token account.
func (c *Client) USDCBalance(ctx context.Context, account solana.PublicKey) (string, error) {
	tokenAccount, _, err := solana.FindAssociatedTokenAddress(account, c.usdcMint)
	if err != nil {
		return "", fmt.Errorf("chain: derive token account for %s: %w", account, err)
	}
	out, err := c.rpc.GetTokenAccountBalance(ctx, tokenAccount, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("chain: token balance for %s: %w", account, err)
	}
	if out == nil || out.Value == nil {
		return "", fmt.Errorf("chain: empty token balance response for %s", account)
	}
	return out.Value.Amount, nil
}

func (c *Client) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	info, err := c.rpc.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("chain: account lookup for %s: %w", account, err)
	}
	return info != nil && info.Value != nil, nil
}
