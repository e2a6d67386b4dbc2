package relay

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shhcash/Shh.Cash-Node/journal"
	"github.com/shhcash/Shh.Cash-Node/offer"
	"github.com/shhcash/Shh.Cash-Node/telemetry"
	"github.com/shhcash/Shh.Cash-Node/wallet"
)

const (
	defaultMaxActiveOffers   = 5
	defaultDrainTimeout      = 30 * time.Second
	defaultDrainPollInterval = 500 * time.Millisecond
	defaultHeartbeatInterval = 30 * time.Second
)

// Gateway is the dispatcher surface the coordinator drives: claiming offers,
// reporting outcomes and posting heartbeats.
type Gateway interface {
	Claim(ctx context.Context, claim offer.Claim) (bool, error)
	SubmitReceipt(ctx context.Context, receipt offer.Receipt) error
	Heartbeat(ctx context.Context, status offer.HeartbeatStatus) error
}

// Engine produces a terminal receipt for one claimed offer. It never returns
// an error; failures arrive as receipts with Success=false.
type Engine interface {
	Execute(ctx context.Context, item offer.Offer) offer.Receipt
}

// Config carries the coordinator's admission and cadence settings.
type Config struct {
	// NodeID is the base58 identity public key claims are issued under.
	NodeID  string
	Version string
	// MaxActiveOffers caps the active set; offers beyond it are dropped
	// before claiming.
	MaxActiveOffers int
	// PerTxCeiling limits single-offer amounts per asset in smallest
	// units. Only the base asset's entry is enforced.
	PerTxCeiling      map[offer.AssetKind]*big.Int
	DrainTimeout      time.Duration
	DrainPollInterval time.Duration
	HeartbeatInterval time.Duration
}

// Coordinator owns the offer lifecycle: admission, the claim protocol,
// execution dispatch, receipt submission and the bookkeeping that keeps the
// active set consistent under failure and shutdown.
type Coordinator struct {
	gateway Gateway
	engine  Engine
	pool    *wallet.Pool
	journal *journal.Journal
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time

	nodeID    string
	sessionID string
	version   string

	maxActive         int
	ceilings          map[offer.AssetKind]*big.Int
	drainTimeout      time.Duration
	drainPoll         time.Duration
	heartbeatInterval time.Duration

	mu          sync.Mutex
	paused      bool
	closed      bool
	active      map[string]offer.Offer
	balances    []offer.WalletBalance
	heartbeatOK bool
}

// Option adjusts coordinator construction.
type Option func(*Coordinator)

// WithJournal wires the receipt audit log. A nil journal disables auditing.
func WithJournal(jour *journal.Journal) Option {
	return func(c *Coordinator) { c.journal = jour }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the timestamp source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New validates the wiring and builds a coordinator. A fresh session id is
// minted per construction so the dispatcher can tell restarts apart.
func New(cfg Config, gateway Gateway, eng Engine, pool *wallet.Pool, opts ...Option) (*Coordinator, error) {
	if gateway == nil {
		return nil, errors.New("relay: gateway required")
	}
	if eng == nil {
		return nil, errors.New("relay: engine required")
	}
	if pool == nil {
		return nil, errors.New("relay: wallet pool required")
	}
	nodeID := strings.TrimSpace(cfg.NodeID)
	if nodeID == "" {
		return nil, errors.New("relay: node id required")
	}
	c := &Coordinator{
		gateway:           gateway,
		engine:            eng,
		pool:              pool,
		logger:            slog.Default(),
		now:               time.Now,
		nodeID:            nodeID,
		sessionID:         uuid.NewString(),
		version:           strings.TrimSpace(cfg.Version),
		maxActive:         cfg.MaxActiveOffers,
		ceilings:          make(map[offer.AssetKind]*big.Int, len(cfg.PerTxCeiling)),
		drainTimeout:      cfg.DrainTimeout,
		drainPoll:         cfg.DrainPollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		active:            make(map[string]offer.Offer),
		heartbeatOK:       true,
	}
	for asset, ceiling := range cfg.PerTxCeiling {
		if ceiling != nil {
			c.ceilings[asset] = new(big.Int).Set(ceiling)
		}
	}
	if c.version == "" {
		c.version = "dev"
	}
	if c.maxActive <= 0 {
		c.maxActive = defaultMaxActiveOffers
	}
	if c.drainTimeout <= 0 {
		c.drainTimeout = defaultDrainTimeout
	}
	if c.drainPoll <= 0 {
		c.drainPoll = defaultDrainPollInterval
	}
	if c.heartbeatInterval <= 0 {
		c.heartbeatInterval = defaultHeartbeatInterval
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SessionID identifies this node run across heartbeats.
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// Run consumes the subscription channel until it closes or the context
// ends. Each offer is handled on its own goroutine; the handler context is
// detached from ctx so a shutdown signal stops new admissions without
// cancelling transfers already in flight.
func (c *Coordinator) Run(ctx context.Context, offers <-chan offer.Offer) error {
	execCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-offers:
			if !ok {
				return nil
			}
			go c.Handle(execCtx, item)
		}
	}
}

// Handle drives one offer through received → admitted → claimed →
// executing → resolved. Admission failures and lost claim races drop the
// offer silently; they are routine, not faults.
func (c *Coordinator) Handle(ctx context.Context, item offer.Offer) {
	c.metrics.RecordOfferReceived()

	if reason, ok := c.admit(item); !ok {
		c.metrics.RecordOfferDropped(reason)
		c.logger.Info("relay: offer dropped",
			"offer_id", item.ID, "asset", item.Asset, "reason", reason)
		return
	}

	claim := offer.Claim{
		OfferID:   item.ID,
		NodeID:    c.nodeID,
		Timestamp: c.now().UnixMilli(),
	}
	owned, err := c.gateway.Claim(ctx, claim)
	if err != nil {
		// Claims are not retried at this layer; the next poll cycle
		// redelivers anything still unowned.
		c.metrics.RecordOfferDropped("claim_error")
		c.logger.Warn("relay: claim request failed", "offer_id", item.ID, "error", err)
		return
	}
	if !owned {
		c.metrics.RecordClaimLost()
		c.logger.Info("relay: claim lost to another node", "offer_id", item.ID)
		return
	}

	// The offer enters the active set before execution begins so shutdown
	// drain and the health surface see it from the first instant.
	if !c.track(item) {
		c.metrics.RecordOfferDropped("duplicate")
		c.logger.Warn("relay: claimed offer already active", "offer_id", item.ID)
		return
	}
	c.metrics.RecordOfferAccepted()
	c.logger.Info("relay: offer claimed",
		"offer_id", item.ID,
		"part_id", item.PartID,
		"asset", item.Asset,
		"amount", item.Amount)

	c.resolve(ctx, item)
}

// admit applies the admission policy. The returned reason is a stable label
// for the drop metric.
func (c *Coordinator) admit(item offer.Offer) (string, bool) {
	if strings.TrimSpace(item.ID) == "" {
		return "missing_id", false
	}
	if item.Expired(c.now()) {
		return "expired", false
	}
	units, err := item.AmountUnits()
	if err != nil {
		return "invalid_amount", false
	}
	// Only the base asset has an enforced per-transaction ceiling; stable
	// token offers pass through unchecked.
	if item.Asset == offer.AssetSOL {
		if ceiling := c.ceilings[item.Asset]; ceiling != nil && units.Cmp(ceiling) > 0 {
			return "ceiling", false
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "shutdown", false
	}
	if c.paused {
		return "paused", false
	}
	if _, exists := c.active[item.ID]; exists {
		return "duplicate", false
	}
	if len(c.active) >= c.maxActive {
		return "capacity", false
	}
	return "", true
}

func (c *Coordinator) track(item offer.Offer) bool {
	c.mu.Lock()
	if _, exists := c.active[item.ID]; exists {
		c.mu.Unlock()
		return false
	}
	c.active[item.ID] = item
	n := len(c.active)
	c.mu.Unlock()
	c.metrics.SetActiveOffers(n)
	return true
}

func (c *Coordinator) untrack(id string) {
	c.mu.Lock()
	delete(c.active, id)
	n := len(c.active)
	c.mu.Unlock()
	c.metrics.SetActiveOffers(n)
}

// resolve drives a claimed offer to its terminal outcome. The offer leaves
// the active set on every path out of here; a downstream fault must never
// leak an entry.
func (c *Coordinator) resolve(ctx context.Context, item offer.Offer) {
	start := c.now()
	defer c.untrack(item.ID)

	receipt := c.engine.Execute(ctx, item)
	c.appendJournal(ctx, item, receipt)

	if err := c.gateway.SubmitReceipt(ctx, receipt); err != nil {
		c.metrics.RecordFailure(string(item.Asset), "receipt_submission")
		c.logger.Error("relay: receipt submission failed",
			"offer_id", item.ID, "part_id", item.PartID, "error", err)
		return
	}
	if receipt.Success {
		elapsed := c.now().Sub(start)
		c.metrics.RecordCompletion(string(item.Asset), elapsed, receipt.SpentLamports)
		c.logger.Info("relay: offer completed",
			"offer_id", item.ID,
			"signature", receipt.TxSignature,
			"spent_lamports", receipt.SpentLamports,
			"elapsed_ms", elapsed.Milliseconds())
		return
	}
	c.metrics.RecordFailure(string(item.Asset), "execution")
	c.logger.Warn("relay: offer execution failed",
		"offer_id", item.ID, "error", receipt.Error)
}

func (c *Coordinator) appendJournal(ctx context.Context, item offer.Offer, receipt offer.Receipt) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Append(ctx, item, receipt); err != nil {
		c.logger.Warn("relay: journal append failed", "offer_id", item.ID, "error", err)
	}
}

// ActiveCount reports the size of the active-offer set.
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Shutdown stops admitting offers immediately and waits for the active set
// to drain, bounded by the configured timeout. Offers still active at the
// deadline are logged as abandoned, never cancelled: their transfers may
// already be in flight on-chain. Abandonment is reported, not an error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	remaining := len(c.active)
	c.mu.Unlock()

	c.logger.Info("relay: draining active offers",
		"active", remaining, "timeout", c.drainTimeout.String())

	deadline := time.NewTimer(c.drainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.drainPoll)
	defer ticker.Stop()
	for {
		if c.ActiveCount() == 0 {
			c.logger.Info("relay: drain complete")
			return nil
		}
		select {
		case <-ctx.Done():
			c.abandonRemaining()
			return nil
		case <-deadline.C:
			c.abandonRemaining()
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) abandonRemaining() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, item := range c.active {
		c.logger.Warn("relay: abandoning in-flight offer",
			"offer_id", id, "part_id", item.PartID, "asset", item.Asset)
	}
}

// Pause stops admitting new offers. In-flight executions are unaffected.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	c.metrics.SetPaused(true)
	c.logger.Info("relay: admission paused")
}

// Resume re-enables offer admission.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.metrics.SetPaused(false)
	c.logger.Info("relay: admission resumed")
}

// Paused reports whether admission is currently paused.
func (c *Coordinator) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Status summarises coordinator state for the admin surface.
type Status struct {
	NodeID       string   `json:"nodeId"`
	SessionID    string   `json:"sessionId"`
	Version      string   `json:"version"`
	Paused       bool     `json:"paused"`
	ActiveOffers int      `json:"activeOffers"`
	ActiveIDs    []string `json:"activeIds,omitempty"`
}

// Status reports the current coordinator snapshot.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Status{
		NodeID:       c.nodeID,
		SessionID:    c.sessionID,
		Version:      c.version,
		Paused:       c.paused,
		ActiveOffers: len(c.active),
		ActiveIDs:    ids,
	}
}

// Health is the point-in-time node state backing /health and /ready.
// Balances come from the last heartbeat sweep, so the health surface never
// blocks on RPC.
type Health struct {
	Status        offer.NodeStatus
	WalletCount   int
	ActiveWallets int
	ActiveOffers  int
}

// Health derives the node status from the cached wallet balances and the
// last heartbeat outcome.
func (c *Coordinator) Health() Health {
	c.mu.Lock()
	balances := c.balances
	hbOK := c.heartbeatOK
	activeOffers := len(c.active)
	c.mu.Unlock()

	activeWallets := 0
	for _, b := range balances {
		if b.Active {
			activeWallets++
		}
	}
	return Health{
		Status:        DeriveStatus(balances, hbOK),
		WalletCount:   c.pool.Size(),
		ActiveWallets: activeWallets,
		ActiveOffers:  activeOffers,
	}
}

// DeriveStatus maps wallet funding state and heartbeat delivery onto the
// node status reported to both the dispatcher and the local health surface:
// unhealthy with no active wallet, degraded when some wallets are inactive
// or the last heartbeat failed, healthy otherwise.
func DeriveStatus(balances []offer.WalletBalance, heartbeatOK bool) offer.NodeStatus {
	active := 0
	for _, b := range balances {
		if b.Active {
			active++
		}
	}
	switch {
	case active == 0:
		return offer.StatusUnhealthy
	case active < len(balances) || !heartbeatOK:
		return offer.StatusDegraded
	default:
		return offer.StatusHealthy
	}
}
