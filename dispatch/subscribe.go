package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shhcash/Shh.Cash-Node/offer"
	"github.com/shhcash/Shh.Cash-Node/telemetry"
)

const defaultPollInterval = 5 * time.Second

// Subscription polls the dispatcher for offers on a fixed interval and
// delivers each one on a channel consumed by the coordinator. Poll failures
// are logged and counted; the loop always reschedules until the context
// ends. The schedule is independent of the request/response calls on Client.
type Subscription struct {
	client   *Client
	interval time.Duration
	metrics  *telemetry.Metrics
	out      chan offer.Offer
	once     sync.Once
}

// NewSubscription builds an offer subscription around the supplied client.
func NewSubscription(client *Client, interval time.Duration, metrics *telemetry.Metrics) (*Subscription, error) {
	if client == nil {
		return nil, errors.New("dispatch: client required")
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Subscription{
		client:   client,
		interval: interval,
		metrics:  metrics,
		out:      make(chan offer.Offer, 16),
	}, nil
}

// Offers returns the delivery channel. It closes when Run returns.
func (s *Subscription) Offers() <-chan offer.Offer {
	return s.out
}

// Run blocks, polling until the context is cancelled. The first poll happens
// immediately; a failed poll never terminates the loop.
func (s *Subscription) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.out)
	s.once.Do(func() {
		slog.Info("dispatch: offer subscription started", "interval", s.interval.String())
	})
	for {
		if err := s.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("dispatch: offer poll failed", "error", err)
			s.metrics.RecordPollFailure()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Subscription) tick(ctx context.Context) error {
	offers, err := s.client.ListOffers(ctx)
	if err != nil {
		return err
	}
	for _, item := range offers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.out <- item:
		}
	}
	return nil
}
