package service

import (
	"context"
	"fmt"
	"time"

	"market-sentinel/internal/alerting"
	"market-sentinel/internal/market"
	"market-sentinel/internal/provider"
	"market-sentinel/internal/storage"
)

// DigestOptions configure the daily summary.
type DigestOptions struct {
	Enabled      bool
	Hour         int
	Location     *time.Location
	WeekdaysOnly bool
	Queue        alerting.DigestQueue
	Notifier     alerting.Notifier
	// Quotes serves the price snapshot; nil leaves it out.
	Quotes      provider.Provider
	Instruments []market.Instrument
	// History is pruned of alerts older than Retention on every flush.
	History   storage.AlertStore
	Retention time.Duration
}

// DigestJob is the hourly tick; it flushes once per local day at the
// configured hour.
func (s *Service) DigestJob(ctx context.Context, bucket time.Time) error {
	d := s.opts.Digest
	if !d.Enabled || d.Queue == nil {
		return nil
	}
	local := bucket.In(d.location())
	if local.Hour() != d.Hour {
		return nil
	}
	if d.WeekdaysOnly && (local.Weekday() == time.Saturday || local.Weekday() == time.Sunday) {
		return nil
	}

	day := local.Format("2006-01-02")
	s.digestMu.Lock()
	if s.lastDigest == day {
		s.digestMu.Unlock()
		return nil
	}
	s.lastDigest = day
	s.digestMu.Unlock()

	unlock, proceed, err := s.acquireLock(ctx, 2)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	if unlock != nil {
		defer unlock()
	}
	return s.FlushDigest(ctx, local)
}

// FlushDigest drains the queue and sends the summary with a price snapshot.
func (s *Service) FlushDigest(ctx context.Context, at time.Time) error {
	d := s.opts.Digest
	entries, err := d.Queue.Drain(ctx)
	if err != nil {
		return fmt.Errorf("drain digest: %w", err)
	}
	quotes := s.snapshot(ctx)

	if d.Notifier != nil {
		if err := d.Notifier.Notify(ctx, alerting.DigestNotification(entries, quotes, at)); err != nil {
			// 摘要已出队，失败只记录日志。
			s.logger.Error().Err(err).Int("entries", len(entries)).Msg("failed to send digest")
		}
	}
	s.logger.Info().Int("entries", len(entries)).Int("quotes", len(quotes)).Msg("digest flushed")

	if d.History != nil && d.Retention > 0 {
		cutoff := s.opts.Now().Add(-d.Retention)
		removed, err := d.History.DeleteAlertsBefore(ctx, cutoff)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to prune alert history")
		} else if removed > 0 {
			s.logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("alert history pruned")
		}
	}
	return nil
}

func (s *Service) snapshot(ctx context.Context) []alerting.Quote {
	d := s.opts.Digest
	if d.Quotes == nil {
		return nil
	}
	var quotes []alerting.Quote
	for _, inst := range d.Instruments {
		res, err := d.Quotes.Fetch(ctx, inst, provider.Request{Capability: provider.CapQuote})
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", inst.Symbol).Msg("quote unavailable for digest")
			continue
		}
		quotes = append(quotes, alerting.Quote{Symbol: inst.Symbol, Price: res.Quote, Source: res.Provider})
	}
	return quotes
}

func (d DigestOptions) location() *time.Location {
	if d.Location == nil {
		return time.UTC
	}
	return d.Location
}
