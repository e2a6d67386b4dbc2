package offer

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// AssetKind identifies which asset an offer moves.
type AssetKind string

const (
	// AssetSOL is the network's base asset, denominated in lamports.
	AssetSOL AssetKind = "SOL"
	// AssetUSDC is the supported stable token, denominated in base units.
	AssetUSDC AssetKind = "USDC"
)

// Valid reports whether the asset kind is one this node can execute.
func (a AssetKind) Valid() bool {
	switch a {
	case AssetSOL, AssetUSDC:
		return true
	}
	return false
}

// NodeStatus summarises overall node health as reported on heartbeats and on
// the local health surface.
type NodeStatus string

const (
	StatusHealthy   NodeStatus = "healthy"
	StatusDegraded  NodeStatus = "degraded"
	StatusUnhealthy NodeStatus = "unhealthy"
)

// Offer is a dispatcher-issued request to move value to a recipient,
// attributable to one part of a larger split transfer. Amounts travel as
// decimal strings in the asset's smallest unit so nothing is lost to float
// conversion on the wire. Asset and amount are immutable after receipt.
type Offer struct {
	ID          string    `json:"id"`
	PartID      string    `json:"partId"`
	Asset       AssetKind `json:"asset"`
	Amount      string    `json:"amount"`
	Recipient   string    `json:"recipient"`
	FeeLamports uint64    `json:"feeLamports"`
	// ExpiresAt is a unix-millisecond deadline; zero means no expiry.
	ExpiresAt  int64  `json:"expiresAt,omitempty"`
	TransferID string `json:"transferId,omitempty"`
}

// AmountUnits parses the offer amount into an integer in the asset's
// smallest unit. The amount must be a positive base-10 integer.
func (o Offer) AmountUnits() (*big.Int, error) {
	raw := strings.TrimSpace(o.Amount)
	if raw == "" {
		return nil, fmt.Errorf("offer: amount missing")
	}
	units, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("offer: amount %q is not a base-10 integer", o.Amount)
	}
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("offer: amount must be positive, got %s", units.String())
	}
	return units, nil
}

// Expired reports whether the offer's deadline has passed relative to now.
// Offers without a deadline never expire.
func (o Offer) Expired(now time.Time) bool {
	if o.ExpiresAt == 0 {
		return false
	}
	return now.UnixMilli() > o.ExpiresAt
}

// Claim asserts this node's exclusive right to execute an offer. It is sent
// once per offer; the dispatcher's response is the sole arbiter of ownership.
type Claim struct {
	OfferID   string `json:"offerId"`
	NodeID    string `json:"nodeId"`
	Timestamp int64  `json:"timestamp"`
}

// Receipt records the terminal outcome of one execution attempt. Failed
// attempts still produce a receipt so the dispatcher learns the outcome;
// TxSignature is empty on failure. A receipt is immutable once constructed.
type Receipt struct {
	PartID        string `json:"partId"`
	TxSignature   string `json:"txSignature"`
	SpentLamports uint64 `json:"spentLamports"`
	FeeLamports   uint64 `json:"feeLamports"`
	Timestamp     int64  `json:"timestamp"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

// WalletBalance reports one relay wallet's funding state. USDC holds the
// token balance in base units and is nil when the lookup failed; Active is
// false when the primary balance could not be determined at all.
type WalletBalance struct {
	Address  string  `json:"address"`
	Lamports uint64  `json:"lamports"`
	USDC     *string `json:"usdc,omitempty"`
	Active   bool    `json:"active"`
}

// HeartbeatStatus is the periodic node report posted to the dispatcher. The
// session id distinguishes restarts of the same node identity.
type HeartbeatStatus struct {
	Timestamp    int64           `json:"timestamp"`
	Status       NodeStatus      `json:"status"`
	Balances     []WalletBalance `json:"balances"`
	ActiveOffers int             `json:"activeOffers"`
	Version      string          `json:"version"`
	SessionID    string          `json:"sessionId"`
}
