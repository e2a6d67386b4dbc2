package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shhcash/Shh.Cash-Node/crypto"
	"github.com/shhcash/Shh.Cash-Node/offer"
	"github.com/shhcash/Shh.Cash-Node/wallet"
)

// Executor performs the on-chain transfer for one offer from the supplied
// relay wallet. The returned rent is the lamports paid to create the
// recipient's token account, zero when none was needed.
type Executor interface {
	Transfer(ctx context.Context, asset offer.AssetKind, from *crypto.Keypair, recipient string, amount uint64) (signature string, rentLamports uint64, err error)
}

// FuncExecutor adapts a callback to the Executor interface.
type FuncExecutor struct {
	TransferFunc func(ctx context.Context, asset offer.AssetKind, from *crypto.Keypair, recipient string, amount uint64) (string, uint64, error)
}

// Transfer delegates to the configured callback.
func (f FuncExecutor) Transfer(ctx context.Context, asset offer.AssetKind, from *crypto.Keypair, recipient string, amount uint64) (string, uint64, error) {
	if f.TransferFunc == nil {
		return "", 0, errors.New("engine: executor not configured")
	}
	return f.TransferFunc(ctx, asset, from, recipient, amount)
}

// Engine turns a claimed offer into an execution receipt. Execute always
// returns a receipt: every failure path is converted into a failed receipt
// with a readable error so the outcome stays reportable and the offer can be
// released.
type Engine struct {
	pool     *wallet.Pool
	executor Executor
	logger   *slog.Logger
	now      func() time.Time
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the timestamp source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New constructs an execution engine around the wallet pool and executor.
func New(pool *wallet.Pool, executor Executor, opts ...Option) (*Engine, error) {
	if pool == nil {
		return nil, errors.New("engine: wallet pool required")
	}
	if executor == nil {
		return nil, errors.New("engine: executor required")
	}
	e := &Engine{
		pool:     pool,
		executor: executor,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute attempts the offer's transfer from the next relay wallet in
// rotation. Exactly one wallet is consumed per call; there is no
// re-selection on failure. Spent accounting: for SOL the spend equals the
// requested amount, for USDC only the rent paid for a recipient account
// creation counts as node spend.
func (e *Engine) Execute(ctx context.Context, item offer.Offer) offer.Receipt {
	if !item.Asset.Valid() {
		return e.fail(item, fmt.Sprintf("unsupported asset kind %q", item.Asset))
	}
	units, err := item.AmountUnits()
	if err != nil {
		return e.fail(item, err.Error())
	}
	if !units.IsUint64() {
		return e.fail(item, fmt.Sprintf("amount %s exceeds the transferable range", units))
	}
	amount := units.Uint64()
	recipient := strings.TrimSpace(item.Recipient)
	if recipient == "" {
		return e.fail(item, "recipient missing")
	}

	relay, err := e.pool.Next()
	if err != nil {
		return e.fail(item, err.Error())
	}

	signature, rent, err := e.executor.Transfer(ctx, item.Asset, relay, recipient, amount)
	if err != nil {
		e.logger.Warn("engine: transfer failed",
			"offer_id", item.ID,
			"asset", item.Asset,
			"wallet", relay.Address(),
			"error", err)
		return e.fail(item, err.Error())
	}

	spent := amount
	if item.Asset == offer.AssetUSDC {
		spent = rent
	}
	e.logger.Info("engine: transfer confirmed",
		"offer_id", item.ID,
		"asset", item.Asset,
		"wallet", relay.Address(),
		"signature", signature,
		"spent_lamports", spent)
	return offer.Receipt{
		PartID:        item.PartID,
		TxSignature:   signature,
		SpentLamports: spent,
		FeeLamports:   item.FeeLamports,
		Timestamp:     e.now().UnixMilli(),
		Success:       true,
	}
}

func (e *Engine) fail(item offer.Offer, reason string) offer.Receipt {
	return offer.Receipt{
		PartID:    item.PartID,
		Timestamp: e.now().UnixMilli(),
		Error:     reason,
	}
}
