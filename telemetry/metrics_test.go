package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotReflectsRecordedEvents(t *testing.T) {
	m := New()

	m.RecordOfferReceived()
	m.RecordOfferReceived()
	m.RecordOfferDropped("ceiling")
	m.RecordOfferAccepted()
	m.RecordClaimLost()
	m.RecordCompletion("SOL", 120*time.Millisecond, 10_000_000)
	m.RecordCompletion("SOL", 80*time.Millisecond, 2_000_000)
	m.RecordFailure("USDC", "confirmation_timeout")
	m.RecordHeartbeat(nil)
	m.RecordHeartbeat(fmt.Errorf("dispatcher down"))
	m.RecordPollFailure()
	m.SetActiveOffers(2)

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.OffersReceived)
	require.Equal(t, uint64(1), snap.OffersDropped)
	require.Equal(t, uint64(1), snap.OffersAccepted)
	require.Equal(t, uint64(1), snap.ClaimsLost)
	require.Equal(t, uint64(2), snap.OffersCompleted)
	require.Equal(t, uint64(1), snap.OffersFailed)
	require.Equal(t, uint64(1), snap.HeartbeatsSent)
	require.Equal(t, uint64(1), snap.HeartbeatFailures)
	require.Equal(t, uint64(1), snap.PollFailures)
	require.Equal(t, uint64(12_000_000), snap.TotalSpentLamports)
	require.Equal(t, 2, snap.ActiveOffers)
	require.InDelta(t, 100.0, snap.AvgExecutionMs, 0.5)
	require.InDelta(t, 120.0, snap.MaxExecutionMs, 0.5)
	require.Greater(t, snap.UptimeSeconds, 0.0)
}

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.RecordOfferReceived()
	m.RecordOfferDropped("capacity")
	m.RecordOfferAccepted()
	m.RecordClaimLost()
	m.RecordCompletion("SOL", time.Second, 1)
	m.RecordFailure("SOL", "")
	m.RecordHeartbeat(nil)
	m.RecordPollFailure()
	m.SetActiveOffers(3)
	m.SetPaused(true)
	require.Equal(t, Snapshot{}, m.Snapshot())
}
