package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/fleet-billing/internal"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/fleet-billing/internal/gateway"
)

// StalePendingPayments lists PENDING payments older than the cutoff, for the
// sweeper.
func (s *Service) StalePendingPayments(olderThan time.Time, limit int) ([]*payment.Payment, error) {
	return s.repo.ListStalePendingPayments(olderThan, limit)
}

// ReconcileStalePayment re-checks one stale PENDING payment against the
// gateway. Webhooks that never arrived (or were dropped) converge through
// this path; the commit goes through the same transaction and auto-action
// machinery as a webhook delivery. A transient poll error leaves the payment
// PENDING for the next sweep, unlike the webhook path where the gateway
// itself retries.
func (s *Service) ReconcileStalePayment(ctx context.Context, pay *payment.Payment) error {
	inv, err := s.repo.GetInvoiceByID(pay.InvoiceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("payment %d references missing invoice %d", pay.ID, pay.InvoiceID)
		}
		return fmt.Errorf("failed to load invoice for stale payment: %w", err)
	}

	meta := RequestMeta{SourceAddr: "sweeper"}

	if pay.PollURL == "" {
		// Without a poll handle this payment can never be reconciled against
		// the gateway; it is disposable and a new checkout will replace it.
		s.failPayment(pay, "stale pending payment without poll handle", payment.FailureMetadata(payment.FailureMeta{
			Reason: "expired by sweeper: no poll handle",
		}), inv, meta)
		return nil
	}

	pollCtx, cancel := internal.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	probe, err := s.prober.Poll(pollCtx, pay.PollURL)
	if err != nil {
		s.logger.Warn("sweep poll failed, leaving payment pending",
			"payment_id", pay.ID,
			"reference", inv.Number,
			"error", err)
		return err
	}

	switch {
	case probe.Success && probe.Paid && probe.Status == gateway.StatusPaid:
		if inv.AmountMinorUnits() != probe.AmountMinorUnits() {
			reason := fmt.Sprintf("amount mismatch on sweep: expected %s, gateway reported %s",
				inv.Amount.StringFixed(2), probe.Amount.StringFixed(2))
			s.logger.Error("amount mismatch detected by sweeper, flagged for manual review",
				"payment_id", pay.ID,
				"reference", inv.Number,
				"expected_amount", inv.Amount.StringFixed(2),
				"reported_amount", probe.Amount.StringFixed(2))
			s.failPayment(pay, reason, payment.FailureMetadata(payment.FailureMeta{
				Reason:         reason,
				GatewayStatus:  probe.Status,
				ExpectedAmount: inv.Amount.StringFixed(2),
				ReportedAmount: probe.Amount.StringFixed(2),
			}), inv, meta)
			return nil
		}
		_, err := s.commitConfirmation(inv, pay, probe, meta, false)
		return err

	case probe.Status == gateway.StatusCancelled || probe.Status == gateway.StatusFailed || !probe.Success:
		reason := fmt.Sprintf("gateway reports terminal status: %s", probe.Status)
		s.failPayment(pay, reason, payment.FailureMetadata(payment.FailureMeta{
			Reason:        reason,
			GatewayStatus: probe.Status,
		}), inv, meta)
		return nil

	default:
		// Still awaiting payment on the gateway side.
		s.logger.Debug("stale payment still awaiting settlement",
			"payment_id", pay.ID,
			"gateway_status", probe.Status)
		return nil
	}
}

// SweeperAPI is the service surface the sweeper consumes.
type SweeperAPI interface {
	StalePendingPayments(olderThan time.Time, limit int) ([]*payment.Payment, error)
	ReconcileStalePayment(ctx context.Context, pay *payment.Payment) error
}

// Sweeper periodically drains stale PENDING payments through a small worker
// pool. It exists because webhooks are at-least-once in theory but can be
// zero-times in practice (gateway outages, network partitions).
type Sweeper struct {
	service    SweeperAPI
	logger     *slog.Logger
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	workers    int

	jobQueue chan *payment.Payment
	wg       sync.WaitGroup
}

func NewSweeper(service SweeperAPI, cfg internal.SweeperConfig, logger *slog.Logger) *Sweeper {
	cfg.ApplyDefaults()
	return &Sweeper{
		service:    service,
		logger:     logger,
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
		batchSize:  cfg.BatchSize,
		workers:    cfg.Workers,
		jobQueue:   make(chan *payment.Payment, cfg.BatchSize),
	}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (sw *Sweeper) Run(ctx context.Context) {
	for i := 0; i < sw.workers; i++ {
		sw.wg.Add(1)
		go sw.worker(ctx, i)
	}

	sw.logger.Info("payment sweeper started",
		"interval", sw.interval,
		"stale_after", sw.staleAfter,
		"workers", sw.workers)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.sweep(ctx)
		case <-ctx.Done():
			close(sw.jobQueue)
			sw.wg.Wait()
			sw.logger.Info("payment sweeper stopped")
			return
		}
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-sw.staleAfter)
	stale, err := sw.service.StalePendingPayments(cutoff, sw.batchSize)
	if err != nil {
		sw.logger.Error("failed to list stale payments", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	sw.logger.Info("sweeping stale pending payments", "count", len(stale))
	for _, pay := range stale {
		select {
		case sw.jobQueue <- pay:
		case <-ctx.Done():
			return
		}
	}
}

func (sw *Sweeper) worker(ctx context.Context, id int) {
	defer sw.wg.Done()

	for pay := range sw.jobQueue {
		if err := sw.service.ReconcileStalePayment(ctx, pay); err != nil {
			sw.logger.Warn("stale payment reconciliation failed",
				"worker_id", id,
				"payment_id", pay.ID,
				"error", err)
		}
	}
}
