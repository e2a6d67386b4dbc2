package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/shhcash/Shh.Cash-Node/crypto"
	"github.com/shhcash/Shh.Cash-Node/offer"
)

// MinBalanceLamports is the default funding floor per relay wallet
// (0.01 SOL). Validation fails only when every wallet sits below it.
const MinBalanceLamports uint64 = 10_000_000

var (
	// ErrEmptyPool is returned by Next when no relay keys are loaded.
	ErrEmptyPool = errors.New("wallet: relay pool is empty")
	// ErrInsufficientFunds is returned when every relay wallet is below the
	// minimum balance.
	ErrInsufficientFunds = errors.New("wallet: all relay wallets below minimum balance")
	// ErrConfiguration is returned for invalid pool construction input.
	ErrConfiguration = errors.New("wallet: invalid configuration")
)

// BalanceSource looks up on-chain balances for a relay identity. SOLBalance
// reports lamports; USDCBalance reports token base units as a decimal
// string.
type BalanceSource interface {
	SOLBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	USDCBalance(ctx context.Context, account solana.PublicKey) (string, error)
}

// Pool holds the node identity plus an ordered set of relay signing keys and
// the round-robin rotation cursor. The cursor advances by one on every Next
// call regardless of what the caller does with the wallet, and it does not
// survive a restart.
type Pool struct {
	identity   *crypto.Keypair
	relays     []*crypto.Keypair
	source     BalanceSource
	logger     *slog.Logger
	minBalance uint64

	mu     sync.Mutex
	cursor int
}

// Option adjusts pool construction.
type Option func(*Pool)

// WithBalanceSource wires the on-chain balance lookups used by Balances and
// ValidateBalances.
func WithBalanceSource(source BalanceSource) Option {
	return func(p *Pool) { p.source = source }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMinBalance overrides the per-wallet funding floor in lamports.
func WithMinBalance(lamports uint64) Option {
	return func(p *Pool) { p.minBalance = lamports }
}

// New validates the key material and builds the pool. Construction fails
// fast; a node with no usable relay keys must not start.
func New(identity *crypto.Keypair, relays []*crypto.Keypair, opts ...Option) (*Pool, error) {
	if identity == nil {
		return nil, fmt.Errorf("%w: identity key required", ErrConfiguration)
	}
	if len(relays) == 0 {
		return nil, fmt.Errorf("%w: at least one relay key required", ErrConfiguration)
	}
	for i, kp := range relays {
		if kp == nil {
			return nil, fmt.Errorf("%w: relay key at index %d is nil", ErrConfiguration, i)
		}
	}
	p := &Pool{
		identity:   identity,
		relays:     relays,
		minBalance: MinBalanceLamports,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// Identity returns the node's signing identity.
func (p *Pool) Identity() *crypto.Keypair {
	return p.identity
}

// Size returns the number of relay wallets.
func (p *Pool) Size() int {
	return len(p.relays)
}

// Next returns the relay wallet at the rotation cursor and advances the
// cursor by one. Selection is pure round-robin with no affinity or balance
// weighting.
func (p *Pool) Next() (*crypto.Keypair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.relays) == 0 {
		return nil, ErrEmptyPool
	}
	kp := p.relays[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.relays)
	return kp, nil
}

// ByIndex returns the relay wallet at position i; ok is false when i is out
// of range.
func (p *Pool) ByIndex(i int) (*crypto.Keypair, bool) {
	if i < 0 || i >= len(p.relays) {
		return nil, false
	}
	return p.relays[i], true
}

// Balances queries the balance source for every relay wallet. A failed SOL
// lookup marks the wallet inactive with a zero balance; a failed USDC lookup
// leaves the token balance unknown. One wallet's error never aborts the
// batch and the method itself never fails.
func (p *Pool) Balances(ctx context.Context) []offer.WalletBalance {
	balances := make([]offer.WalletBalance, 0, len(p.relays))
	for _, kp := range p.relays {
		entry := offer.WalletBalance{Address: kp.Address()}
		if p.source == nil {
			p.logger.Warn("wallet: balance source not configured", "address", entry.Address)
			balances = append(balances, entry)
			continue
		}
		lamports, err := p.source.SOLBalance(ctx, kp.PublicKey())
		if err != nil {
			p.logger.Warn("wallet: balance lookup failed", "address", entry.Address, "error", err)
			balances = append(balances, entry)
			continue
		}
		entry.Lamports = lamports
		entry.Active = true
		usdc, err := p.source.USDCBalance(ctx, kp.PublicKey())
		if err != nil {
			p.logger.Debug("wallet: token balance unknown", "address", entry.Address, "error", err)
		} else {
			entry.USDC = &usdc
		}
		balances = append(balances, entry)
	}
	return balances
}

// ValidateBalances fails only when every relay wallet's SOL balance is below
// the funding floor. Wallets individually below the floor are reported in a
// warning but do not block startup.
func (p *Pool) ValidateBalances(ctx context.Context) error {
	low := make([]string, 0)
	funded := false
	for _, entry := range p.Balances(ctx) {
		if entry.Lamports < p.minBalance {
			low = append(low, entry.Address)
			continue
		}
		funded = true
	}
	if !funded {
		return fmt.Errorf("%w: minimum %d lamports", ErrInsufficientFunds, p.minBalance)
	}
	if len(low) > 0 {
		p.logger.Warn("wallet: relay wallets below minimum balance",
			"min_lamports", p.minBalance,
			"wallets", strings.Join(low, ","))
	}
	return nil
}
