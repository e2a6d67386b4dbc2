package relay

import (
	"context"
	"time"

	"github.com/shhcash/Shh.Cash-Node/offer"
)

// RunHeartbeat posts node status to the dispatcher on a fixed cadence until
// the context ends. The first beat fires immediately so the dispatcher and
// the local health surface see fresh balances right after start. Delivery
// failures are logged and counted, never fatal; the loop always reschedules.
func (c *Coordinator) RunHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		c.beat(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// beat sweeps wallet balances, posts one heartbeat and refreshes the cached
// snapshot the health surface reads. The status it reports derives from the
// previous delivery outcome, so a failed beat degrades the next one.
func (c *Coordinator) beat(ctx context.Context) {
	balances := c.pool.Balances(ctx)

	c.mu.Lock()
	hbOK := c.heartbeatOK
	activeOffers := len(c.active)
	c.mu.Unlock()

	status := offer.HeartbeatStatus{
		Timestamp:    c.now().UnixMilli(),
		Status:       DeriveStatus(balances, hbOK),
		Balances:     balances,
		ActiveOffers: activeOffers,
		Version:      c.version,
		SessionID:    c.sessionID,
	}
	err := c.gateway.Heartbeat(ctx, status)
	c.metrics.RecordHeartbeat(err)

	c.mu.Lock()
	c.balances = balances
	c.heartbeatOK = err == nil
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("relay: heartbeat delivery failed", "error", err)
		return
	}
	c.logger.Debug("relay: heartbeat delivered",
		"status", status.Status, "active_offers", activeOffers)
}
