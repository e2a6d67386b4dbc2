package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shhcash/Shh.Cash-Node/crypto"
	"github.com/shhcash/Shh.Cash-Node/offer"
	"github.com/shhcash/Shh.Cash-Node/wallet"
)

type transferCall struct {
	asset     offer.AssetKind
	from      string
	recipient string
	amount    uint64
}

type stubExecutor struct {
	mu    sync.Mutex
	calls []transferCall

	signature string
	rent      uint64
	err       error
}

func (s *stubExecutor) Transfer(_ context.Context, asset offer.AssetKind, from *crypto.Keypair, recipient string, amount uint64) (string, uint64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, transferCall{asset: asset, from: from.Address(), recipient: recipient, amount: amount})
	s.mu.Unlock()
	if s.err != nil {
		return "", 0, s.err
	}
	return s.signature, s.rent, nil
}

func testEngine(t *testing.T, relays int, exec Executor) (*Engine, []*crypto.Keypair) {
	t.Helper()
	identity, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	keys := make([]*crypto.Keypair, 0, relays)
	for i := 0; i < relays; i++ {
		kp, err := crypto.GenerateKeypair()
		require.NoError(t, err)
		keys = append(keys, kp)
	}
	pool, err := wallet.New(identity, keys)
	require.NoError(t, err)
	eng, err := New(pool, exec, WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	return eng, keys
}

func TestExecuteSOLSuccess(t *testing.T) {
	exec := &stubExecutor{signature: "SIG1"}
	eng, keys := testEngine(t, 1, exec)

	receipt := eng.Execute(context.Background(), offer.Offer{
		ID:          "o1",
		PartID:      "p1",
		Asset:       offer.AssetSOL,
		Amount:      "10000000",
		Recipient:   "recipient-address",
		FeeLamports: 5_000,
	})

	require.True(t, receipt.Success)
	require.Equal(t, "SIG1", receipt.TxSignature)
	require.Equal(t, uint64(10_000_000), receipt.SpentLamports)
	require.Equal(t, uint64(5_000), receipt.FeeLamports)
	require.Equal(t, "p1", receipt.PartID)
	require.Empty(t, receipt.Error)
	require.NotZero(t, receipt.Timestamp)

	require.Len(t, exec.calls, 1)
	require.Equal(t, keys[0].Address(), exec.calls[0].from)
	require.Equal(t, uint64(10_000_000), exec.calls[0].amount)
}

func TestExecuteUSDCSpendsRentOnly(t *testing.T) {
	exec := &stubExecutor{signature: "SIG2", rent: 2_039_280}
	eng, _ := testEngine(t, 1, exec)

	receipt := eng.Execute(context.Background(), offer.Offer{
		ID:        "o2",
		PartID:    "p2",
		Asset:     offer.AssetUSDC,
		Amount:    "25000000",
		Recipient: "recipient-address",
	})

	require.True(t, receipt.Success)
	// The token amount is the recipient's, not the node's spend; only the
	// account-creation rent counts.
	require.Equal(t, uint64(2_039_280), receipt.SpentLamports)
	require.Equal(t, uint64(25_000_000), exec.calls[0].amount)
}

func TestExecuteUnsupportedAsset(t *testing.T) {
	exec := &stubExecutor{signature: "SIG3"}
	eng, _ := testEngine(t, 1, exec)

	receipt := eng.Execute(context.Background(), offer.Offer{
		ID:        "o3",
		PartID:    "p3",
		Asset:     offer.AssetKind("DOGE"),
		Amount:    "100",
		Recipient: "recipient-address",
	})

	require.False(t, receipt.Success)
	require.Empty(t, receipt.TxSignature)
	require.Zero(t, receipt.SpentLamports)
	require.Zero(t, receipt.FeeLamports)
	require.Contains(t, receipt.Error, "DOGE")
	require.Empty(t, exec.calls, "no transfer may be attempted for an unsupported asset")
}

func TestExecuteInvalidAmounts(t *testing.T) {
	exec := &stubExecutor{signature: "SIG"}
	eng, _ := testEngine(t, 1, exec)

	for _, amount := range []string{"", "0", "-5", "1.5", "99999999999999999999999999"} {
		receipt := eng.Execute(context.Background(), offer.Offer{
			ID:        "o",
			PartID:    "p",
			Asset:     offer.AssetSOL,
			Amount:    amount,
			Recipient: "recipient-address",
		})
		require.False(t, receipt.Success, "amount %q must not execute", amount)
		require.NotEmpty(t, receipt.Error)
	}
	require.Empty(t, exec.calls)
}

func TestExecuteTransferFailureYieldsReceipt(t *testing.T) {
	exec := &stubExecutor{err: fmt.Errorf("confirmation timed out")}
	eng, _ := testEngine(t, 2, exec)

	receipt := eng.Execute(context.Background(), offer.Offer{
		ID:        "o4",
		PartID:    "p4",
		Asset:     offer.AssetSOL,
		Amount:    "5000",
		Recipient: "recipient-address",
	})

	require.False(t, receipt.Success)
	require.Empty(t, receipt.TxSignature)
	require.Zero(t, receipt.SpentLamports)
	require.Contains(t, receipt.Error, "confirmation timed out")
}

func TestExecuteRotatesOneWalletPerAttempt(t *testing.T) {
	exec := &stubExecutor{signature: "SIG"}
	eng, keys := testEngine(t, 3, exec)

	item := offer.Offer{ID: "o", PartID: "p", Asset: offer.AssetSOL, Amount: "1000", Recipient: "r"}
	for i := 0; i < 4; i++ {
		eng.Execute(context.Background(), item)
	}

	require.Len(t, exec.calls, 4)
	require.Equal(t, keys[0].Address(), exec.calls[0].from)
	require.Equal(t, keys[1].Address(), exec.calls[1].from)
	require.Equal(t, keys[2].Address(), exec.calls[2].from)
	// The fourth attempt wraps around the pool.
	require.Equal(t, keys[0].Address(), exec.calls[3].from)
}

func TestNewValidation(t *testing.T) {
	identity, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	relay, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	pool, err := wallet.New(identity, []*crypto.Keypair{relay})
	require.NoError(t, err)

	_, err = New(nil, &stubExecutor{})
	require.Error(t, err)
	_, err = New(pool, nil)
	require.Error(t, err)
}

func TestFuncExecutorAdapter(t *testing.T) {
	called := false
	exec := FuncExecutor{TransferFunc: func(context.Context, offer.AssetKind, *crypto.Keypair, string, uint64) (string, uint64, error) {
		called = true
		return "SIG", 0, nil
	}}
	identity, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	sig, rent, err := exec.Transfer(context.Background(), offer.AssetSOL, identity, "r", 1)
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, "SIG", sig)
	require.Zero(t, rent)

	_, _, err = FuncExecutor{}.Transfer(context.Background(), offer.AssetSOL, identity, "r", 1)
	require.Error(t, err)
}
