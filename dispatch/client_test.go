package dispatch

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/shhcash/Shh.Cash-Node/crypto"
	"github.com/shhcash/Shh.Cash-Node/offer"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *crypto.Keypair, *httptest.Server) {
	t.Helper()
	key, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}, key)
	require.NoError(t, err)
	return client, key, srv
}

// verifyRequest checks the three auth headers against the request they
// arrived on, exactly as the dispatcher would.
func verifyRequest(t *testing.T, r *http.Request, body []byte) {
	t.Helper()
	ts := r.Header.Get(HeaderTimestamp)
	require.NotEmpty(t, ts)

	pubkey, err := solana.PublicKeyFromBase58(r.Header.Get(HeaderNodePubkey))
	require.NoError(t, err)

	sig, err := solana.SignatureFromBase58(r.Header.Get(HeaderSignature))
	require.NoError(t, err)

	payload := SigningPayload(ts, r.Method, r.URL.Path, body)
	require.True(t, ed25519.Verify(pubkey.Bytes(), payload, sig[:]),
		"signature must bind timestamp, method, path and body")
}

func TestConnectSignsRequest(t *testing.T) {
	var verified bool
	client, _, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/node/ping", r.URL.Path)
		verifyRequest(t, r, nil)
		verified = true
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.Connect(context.Background()))
	require.True(t, verified)
}

func TestConnectUnreachable(t *testing.T) {
	client, _, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	require.ErrorIs(t, client.Connect(context.Background()), ErrDispatcherUnreachable)
}

func TestClaimOutcomes(t *testing.T) {
	var status int
	var got offer.Claim
	client, _, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		verifyRequest(t, r, body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(status)
	}))

	claim := client.NewClaim("offer-1")
	require.Equal(t, client.NodeID(), claim.NodeID)
	require.NotZero(t, claim.Timestamp)

	status = http.StatusOK
	owned, err := client.Claim(context.Background(), claim)
	require.NoError(t, err)
	require.True(t, owned)
	require.Equal(t, "offer-1", got.OfferID)

	// A conflict is the expected race outcome, not an error.
	status = http.StatusConflict
	owned, err = client.Claim(context.Background(), claim)
	require.NoError(t, err)
	require.False(t, owned)

	status = http.StatusInternalServerError
	_, err = client.Claim(context.Background(), claim)
	require.ErrorIs(t, err, ErrClaimRequest)
}

func TestSubmitReceipt(t *testing.T) {
	var status int
	var got offer.Receipt
	client, _, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		verifyRequest(t, r, body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(status)
	}))

	receipt := offer.Receipt{
		PartID:        "part-9",
		TxSignature:   "SIG1",
		SpentLamports: 10_000_000,
		Success:       true,
		Timestamp:     time.Now().UnixMilli(),
	}

	status = http.StatusOK
	require.NoError(t, client.SubmitReceipt(context.Background(), receipt))
	require.Equal(t, receipt.PartID, got.PartID)
	require.Equal(t, receipt.TxSignature, got.TxSignature)

	status = http.StatusUnprocessableEntity
	require.ErrorIs(t, client.SubmitReceipt(context.Background(), receipt), ErrReceiptSubmission)
}

func TestListOffers(t *testing.T) {
	client, _, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/node/offers", r.URL.Path)
		verifyRequest(t, r, nil)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"offers":[{"id":"o1","partId":"p1","asset":"SOL","amount":"5000","recipient":"addr"}]}`)
	}))

	offers, err := client.ListOffers(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 1)
	require.Equal(t, "o1", offers[0].ID)
	require.Equal(t, offer.AssetSOL, offers[0].Asset)
}

func TestHeartbeatFailureIsReported(t *testing.T) {
	client, _, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	err := client.Heartbeat(context.Background(), offer.HeartbeatStatus{Status: offer.StatusHealthy})
	require.Error(t, err)
}

func TestSigningPayloadStability(t *testing.T) {
	payload := SigningPayload("1718000000000", "post", "/api/node/accept", []byte(`{"offerId":"o1"}`))
	require.Equal(t, `1718000000000POST/api/node/accept{"offerId":"o1"}`, string(payload))
}
