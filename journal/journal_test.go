package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shhcash/Shh.Cash-Node/offer"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dsn, err := FileDSN(filepath.Join(t.TempDir(), "relay.sqlite"))
	require.NoError(t, err)
	jour, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { jour.Close() })
	return jour
}

func TestAppendAndRecent(t *testing.T) {
	jour := openTestJournal(t)
	ctx := context.Background()

	first := offer.Offer{ID: "o1", PartID: "p1", Asset: offer.AssetSOL, Amount: "10000000", Recipient: "addr1", FeeLamports: 500}
	firstReceipt := offer.Receipt{
		PartID:        "p1",
		TxSignature:   "SIG1",
		SpentLamports: 10_000_000,
		FeeLamports:   500,
		Timestamp:     time.Now().UnixMilli(),
		Success:       true,
	}
	require.NoError(t, jour.Append(ctx, first, firstReceipt))

	second := offer.Offer{ID: "o2", PartID: "p2", Asset: offer.AssetUSDC, Amount: "2500000", Recipient: "addr2"}
	secondReceipt := offer.Receipt{
		PartID:    "p2",
		Timestamp: time.Now().UnixMilli(),
		Error:     "confirmation timed out",
	}
	require.NoError(t, jour.Append(ctx, second, secondReceipt))

	entries, err := jour.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	require.Equal(t, "o2", entries[0].OfferID)
	require.False(t, entries[0].Success)
	require.Equal(t, "confirmation timed out", entries[0].Error)
	require.Empty(t, entries[0].TxSignature)

	require.Equal(t, "o1", entries[1].OfferID)
	require.True(t, entries[1].Success)
	require.Equal(t, "SIG1", entries[1].TxSignature)
	require.Equal(t, uint64(10_000_000), entries[1].SpentLamports)
	require.Equal(t, uint64(500), entries[1].FeeLamports)
	require.Equal(t, "SOL", entries[1].Asset)
	require.NotEmpty(t, entries[1].ID)
}

func TestRecentLimit(t *testing.T) {
	jour := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		item := offer.Offer{ID: "o", PartID: "p", Asset: offer.AssetSOL, Amount: "1", Recipient: "r"}
		require.NoError(t, jour.Append(ctx, item, offer.Receipt{PartID: "p", Success: true, Timestamp: int64(i)}))
	}

	entries, err := jour.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// A non-positive limit falls back to the default instead of erroring.
	entries, err = jour.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
}

func TestNilJournalIsRejected(t *testing.T) {
	var jour *Journal
	require.Error(t, jour.Append(context.Background(), offer.Offer{}, offer.Receipt{}))
	_, err := jour.Recent(context.Background(), 5)
	require.Error(t, err)
	require.NoError(t, jour.Close())
}

func TestFileDSN(t *testing.T) {
	_, err := FileDSN("  ")
	require.ErrorIs(t, err, ErrPathRequired)

	dsn, err := FileDSN("relay.sqlite")
	require.NoError(t, err)
	require.Contains(t, dsn, "file:")
	require.Contains(t, dsn, "_journal_mode=WAL")

	_, err = Open("")
	require.ErrorIs(t, err, ErrPathRequired)
}
