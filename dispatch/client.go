package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shhcash/Shh.Cash-Node/crypto"
	"github.com/shhcash/Shh.Cash-Node/offer"
)

const (
	pingPath      = "/api/node/ping"
	offersPath    = "/api/node/offers"
	acceptPath    = "/api/node/accept"
	receiptPath   = "/api/node/receipt"
	heartbeatPath = "/api/node/heartbeat"

	defaultTimeout = 10 * time.Second
)

var (
	// ErrDispatcherUnreachable marks a failed liveness probe.
	ErrDispatcherUnreachable = errors.New("dispatch: dispatcher unreachable")
	// ErrClaimRequest marks a claim that failed for a reason other than a
	// lost race.
	ErrClaimRequest = errors.New("dispatch: claim request failed")
	// ErrReceiptSubmission marks a rejected or undeliverable receipt.
	ErrReceiptSubmission = errors.New("dispatch: receipt submission failed")
)

// Config represents the dispatcher client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the authenticated request/response side of the dispatcher
// protocol. Every call signs timestamp, method, path and body with the
// node's identity key and attaches the signature headers.
type Client struct {
	baseURL    string
	key        *crypto.Keypair
	httpClient *http.Client
	now        func() time.Time
}

// Option adjusts client construction.
type Option func(*Client)

// WithClock overrides the timestamp source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a dispatcher client for the supplied base URL and identity.
func New(cfg Config, key *crypto.Keypair, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("dispatch: base URL required")
	}
	if key == nil {
		return nil, errors.New("dispatch: identity keypair required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:    base,
		key:        key,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// NodeID returns the base58 identity this client signs with.
func (c *Client) NodeID() string {
	return c.key.Address()
}

// NewClaim builds a claim for the supplied offer stamped with the current
// time.
func (c *Client) NewClaim(offerID string) offer.Claim {
	return offer.Claim{
		OfferID:   strings.TrimSpace(offerID),
		NodeID:    c.key.Address(),
		Timestamp: c.now().UnixMilli(),
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("dispatch: client not configured")
	}
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("dispatch: encode %s body: %w", path, err)
		}
		body = encoded
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dispatch: build %s request: %w", path, err)
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	sig, err := c.key.Sign(SigningPayload(ts, method, path, body))
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderNodePubkey, c.key.Address())
	req.Header.Set(HeaderSignature, sig.String())
	req.Header.Set(HeaderTimestamp, ts)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// Connect probes dispatcher liveness. Any transport failure or non-2xx
// response means the dispatcher is unreachable.
func (c *Client) Connect(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, pingPath, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDispatcherUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unexpected status %d", ErrDispatcherUnreachable, resp.StatusCode)
	}
	return nil
}

// ListOffers fetches the offers currently available to this node.
func (c *Client) ListOffers(ctx context.Context) ([]offer.Offer, error) {
	resp, err := c.do(ctx, http.MethodGet, offersPath, nil)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list offers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("dispatch: list offers: unexpected status %d", resp.StatusCode)
	}
	var payload struct {
		Offers []offer.Offer `json:"offers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("dispatch: decode offers: %w", err)
	}
	return payload.Offers, nil
}

// Claim asserts execution rights over an offer. A conflict response means
// another node already owns the offer and is reported as false, not as an
// error; that is the expected race outcome.
func (c *Client) Claim(ctx context.Context, claim offer.Claim) (bool, error) {
	resp, err := c.do(ctx, http.MethodPost, acceptPath, claim)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrClaimRequest, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusConflict:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("%w: unexpected status %d", ErrClaimRequest, resp.StatusCode)
	}
}

// SubmitReceipt reports an execution outcome. Retrying a failed submission
// is the caller's decision.
func (c *Client) SubmitReceipt(ctx context.Context, receipt offer.Receipt) error {
	resp, err := c.do(ctx, http.MethodPost, receiptPath, receipt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReceiptSubmission, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unexpected status %d", ErrReceiptSubmission, resp.StatusCode)
	}
	return nil
}

// Heartbeat posts the periodic node status. Callers treat a failure as
// log-and-continue; a missed heartbeat must never destabilise the node.
func (c *Client) Heartbeat(ctx context.Context, status offer.HeartbeatStatus) error {
	resp, err := c.do(ctx, http.MethodPost, heartbeatPath, status)
	if err != nil {
		return fmt.Errorf("dispatch: heartbeat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch: heartbeat: unexpected status %d", resp.StatusCode)
	}
	return nil
}
