package billing

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/fleet-billing/internal"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/audit"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/invoice"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/fleet-billing/internal/core/events"
	"github.com/frahmantamala/fleet-billing/internal/gateway"
)

// Service is the reconciliation engine. It converts at-least-once webhook
// deliveries into exactly-once billing state transitions: validate against
// gateway-side truth, then commit payment, invoice, audit trail and
// auto-actions in a single transaction.
type Service struct {
	repo        Repository
	prober      gateway.ProberAPI
	checkout    gateway.CheckoutAPI
	eventBus    *events.EventBus
	logger      *slog.Logger
	pollTimeout time.Duration
	now         func() time.Time
}

func NewService(repo Repository, prober gateway.ProberAPI, checkout gateway.CheckoutAPI, eventBus *events.EventBus, logger *slog.Logger, pollTimeout time.Duration) *Service {
	return &Service{
		repo:        repo,
		prober:      prober,
		checkout:    checkout,
		eventBus:    eventBus,
		logger:      logger,
		pollTimeout: pollTimeout,
		now:         time.Now,
	}
}

// ConfirmPayment runs the full reconciliation for one webhook delivery.
// Transport-level guards (rate limit, signature, replay) have already
// passed; the notification body is authenticated but not yet trusted for
// the paid/unpaid determination.
func (s *Service) ConfirmPayment(ctx context.Context, n *gateway.Notification, meta RequestMeta) (*ConfirmOutcome, error) {
	inv, err := s.repo.GetInvoiceByNumber(n.Reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn("confirmation for unknown invoice",
				"reference", n.Reference,
				"source_addr", meta.SourceAddr)
			return nil, internal.ErrInvoiceNotFound
		}
		return nil, internal.NewInternalError("failed to load invoice", err)
	}

	pay, err := s.repo.GetPendingPaymentByInvoiceID(inv.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if inv.Status == invoice.StatusPaid {
				s.logger.Info("duplicate confirmation for settled invoice",
					"reference", n.Reference,
					"invoice_id", inv.ID)
				return &ConfirmOutcome{AlreadySettled: true, Message: "payment already confirmed"}, nil
			}
			return nil, internal.ErrPaymentNotFound
		}
		return nil, internal.NewInternalError("failed to load payment", err)
	}

	probe, degraded, err := s.probeStatus(ctx, pay, n, meta)
	if err != nil {
		return nil, err
	}

	if !probe.Success {
		reason := fmt.Sprintf("gateway reported failure: %s", probe.Err)
		s.failPayment(pay, reason, payment.FailureMetadata(payment.FailureMeta{
			Reason:        reason,
			GatewayStatus: probe.Status,
		}), inv, meta)
		return nil, internal.NewExternalError("gateway status poll reported failure", internal.ErrCodeGatewayFailed, errors.New(probe.Err))
	}

	if !probe.Paid || probe.Status != gateway.StatusPaid {
		reason := fmt.Sprintf("payment not completed, gateway status: %s", probe.Status)
		s.failPayment(pay, reason, payment.FailureMetadata(payment.FailureMeta{
			Reason:        reason,
			GatewayStatus: probe.Status,
		}), inv, meta)
		return &ConfirmOutcome{Confirmed: false, Message: reason}, nil
	}

	expectedMinor := inv.AmountMinorUnits()
	reportedMinor := probe.AmountMinorUnits()
	if expectedMinor != reportedMinor {
		s.logger.Error("amount mismatch on payment confirmation, flagged for manual review",
			"reference", n.Reference,
			"invoice_id", inv.ID,
			"payment_id", pay.ID,
			"expected_amount", inv.Amount.StringFixed(2),
			"reported_amount", probe.Amount.StringFixed(2),
			"expected_minor_units", expectedMinor,
			"reported_minor_units", reportedMinor,
			"source_addr", meta.SourceAddr)
		reason := fmt.Sprintf("amount mismatch: expected %s (%d minor units), gateway reported %s (%d minor units)",
			inv.Amount.StringFixed(2), expectedMinor, probe.Amount.StringFixed(2), reportedMinor)
		s.failPayment(pay, reason, payment.FailureMetadata(payment.FailureMeta{
			Reason:         reason,
			GatewayStatus:  probe.Status,
			ExpectedAmount: inv.Amount.StringFixed(2),
			ReportedAmount: probe.Amount.StringFixed(2),
		}), inv, meta)
		return nil, internal.NewAmountMismatchError(inv.Amount.StringFixed(2), probe.Amount.StringFixed(2))
	}

	return s.commitConfirmation(inv, pay, probe, meta, degraded)
}

// probeStatus obtains gateway-side truth. A payment without a poll handle is
// an operational anomaly: the engine degrades to trusting the authenticated
// notification body alone, which is logged as a security-relevant event.
func (s *Service) probeStatus(ctx context.Context, pay *payment.Payment, n *gateway.Notification, meta RequestMeta) (*gateway.PollResult, bool, error) {
	if pay.PollURL == "" {
		s.logger.Warn("payment has no poll handle, degrading to signature-only trust",
			"security_degradation", true,
			"payment_id", pay.ID,
			"reference", n.Reference,
			"source_addr", meta.SourceAddr)
		return &gateway.PollResult{
			Success:          true,
			Paid:             n.Status == gateway.StatusPaid,
			Status:           n.Status,
			Amount:           n.Amount,
			GatewayReference: n.GatewayReference,
			Raw:              n.Raw,
		}, true, nil
	}

	pollCtx, cancel := internal.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	probe, err := s.prober.Poll(pollCtx, pay.PollURL)
	if err != nil {
		reason := fmt.Sprintf("gateway status poll failed: %v", err)
		s.failPayment(pay, reason, payment.FailureMetadata(payment.FailureMeta{Reason: reason}), nil, meta)
		return nil, false, internal.NewExternalError("gateway status poll failed", internal.ErrCodeGatewayFailed, err)
	}
	return probe, false, nil
}

// commitConfirmation performs the atomic PENDING -> PAID transition. The
// row-level lock inside the transaction is what serializes concurrent
// deliveries; the in-memory replay guard is only an optimization.
func (s *Service) commitConfirmation(inv *invoice.Invoice, pay *payment.Payment, probe *gateway.PollResult, meta RequestMeta, degraded bool) (*ConfirmOutcome, error) {
	outcome := &ConfirmOutcome{}

	err := s.repo.WithinTransaction(func(tx Repository) error {
		locked, err := tx.LockPendingPayment(inv.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Lost the race: another delivery settled the payment.
				outcome.AlreadySettled = true
				outcome.Message = "payment already confirmed"
				return nil
			}
			return fmt.Errorf("failed to lock pending payment: %w", err)
		}

		now := s.now()
		proof := verificationProof(inv.Number, probe.GatewayReference, probe.Amount.StringFixed(2), now)

		locked.Status = payment.StatusPaid
		locked.Verified = true
		locked.VerifiedAt = &now
		locked.VerificationHash = &proof
		locked.ErrorMessage = nil
		if probe.GatewayReference != "" {
			ref := probe.GatewayReference
			locked.GatewayReference = &ref
		}
		locked.Metadata = payment.GatewayStatusMetadata(payment.GatewayStatusMeta{
			Status:           probe.Status,
			GatewayReference: probe.GatewayReference,
			Amount:           probe.Amount.StringFixed(2),
			Extra:            probe.Raw,
		})
		if err := tx.UpdatePayment(locked); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}

		inv.Status = invoice.StatusPaid
		inv.PaidAt = &now
		if err := tx.UpdateInvoice(inv); err != nil {
			return fmt.Errorf("failed to update invoice: %w", err)
		}

		after, _ := json.Marshal(map[string]interface{}{
			"invoice_number":    inv.Number,
			"amount":            inv.Amount.StringFixed(2),
			"currency":          inv.Currency,
			"gateway_reference": probe.GatewayReference,
			"analytics_event":   "payment_confirmed",
		})
		if err := tx.AppendAudit(&audit.Entry{
			Actor:       audit.ActorSystem,
			TenantID:    inv.TenantID,
			Action:      audit.ActionPaymentConfirmed,
			Entity:      "payment",
			EntityID:    locked.ID,
			After:       after,
			Details:     fmt.Sprintf("payment for invoice %s confirmed", inv.Number),
			SourceAddr:  meta.SourceAddr,
			SourceAgent: meta.SourceAgent,
			CreatedAt:   now,
		}); err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}

		// Auto-actions run inside the same transaction: a failure here must
		// roll back the payment/invoice transition too, since a confirmed
		// but unprocessed payment is worse than leaving the delivery to be
		// retried.
		upgraded, unsuspended, err := s.runAutoActions(tx, inv, locked, meta, now)
		if err != nil {
			return err
		}

		outcome.Confirmed = true
		outcome.Payment = locked
		outcome.Upgraded = upgraded
		outcome.Unsuspended = unsuspended
		return nil
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to commit payment confirmation", err)
	}

	if outcome.AlreadySettled {
		s.logger.Info("concurrent delivery observed settled payment",
			"invoice_id", inv.ID,
			"reference", inv.Number)
		return outcome, nil
	}

	s.logger.Info("payment confirmed",
		"payment_id", outcome.Payment.ID,
		"invoice_id", inv.ID,
		"reference", inv.Number,
		"amount", inv.Amount.StringFixed(2),
		"gateway_reference", probe.GatewayReference,
		"upgraded", outcome.Upgraded,
		"unsuspended", outcome.Unsuspended,
		"signature_only", degraded)

	s.eventBus.Publish(context.Background(), events.NewPaymentConfirmedEvent(
		outcome.Payment.ID, inv.ID, inv.TenantID, inv.Number,
		inv.Amount.StringFixed(2), inv.Currency, probe.GatewayReference,
		outcome.Upgraded, outcome.Unsuspended))

	return outcome, nil
}

// failPayment records a terminal FAILED state with the reason. Best effort:
// a failure to persist the failure is logged, not propagated, because the
// caller is already on an error path.
func (s *Service) failPayment(pay *payment.Payment, reason string, meta []byte, inv *invoice.Invoice, reqMeta RequestMeta) {
	pay.Status = payment.StatusFailed
	pay.ErrorMessage = &reason
	if meta != nil {
		pay.Metadata = meta
	}
	if err := s.repo.UpdatePayment(pay); err != nil {
		s.logger.Error("failed to mark payment as failed",
			"payment_id", pay.ID,
			"reason", reason,
			"error", err)
		return
	}

	s.logger.Warn("payment marked failed",
		"payment_id", pay.ID,
		"reason", reason,
		"source_addr", reqMeta.SourceAddr)

	invoiceID := pay.InvoiceID
	tenantID := pay.TenantID
	number := ""
	if inv != nil {
		number = inv.Number
	}
	s.eventBus.Publish(context.Background(), events.NewPaymentFailedEvent(pay.ID, invoiceID, tenantID, number, reason))
}

// GetPaymentStatus serves the manual polling endpoint.
func (s *Service) GetPaymentStatus(reference string) (*PaymentStatusView, error) {
	inv, err := s.repo.GetInvoiceByNumber(reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, internal.ErrInvoiceNotFound
		}
		return nil, internal.NewInternalError("failed to load invoice", err)
	}

	pay, err := s.repo.GetLatestPaymentByInvoiceID(inv.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, internal.ErrPaymentNotFound
		}
		return nil, internal.NewInternalError("failed to load payment", err)
	}

	return &PaymentStatusView{
		InvoiceStatus: string(inv.Status),
		PaymentStatus: string(pay.Status),
		Verified:      pay.Verified,
		Amount:        inv.Amount.StringFixed(2),
	}, nil
}

// InitiateCheckout creates the PENDING payment and obtains its poll handle
// from the gateway. This is the only writer of a payment's initial poll URL;
// reconciliation only ever reads it.
func (s *Service) InitiateCheckout(ctx context.Context, invoiceID int64, phone, method string) (*CheckoutResult, error) {
	inv, err := s.repo.GetInvoiceByID(invoiceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, internal.ErrInvoiceNotFound
		}
		return nil, internal.NewInternalError("failed to load invoice", err)
	}

	if inv.Status != invoice.StatusPending && inv.Status != invoice.StatusOverdue {
		return nil, internal.ErrInvoiceNotOpen
	}

	ten, err := s.repo.GetTenantByID(inv.TenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, internal.ErrTenantNotFound
		}
		return nil, internal.NewInternalError("failed to load tenant", err)
	}

	existing, err := s.repo.GetPendingPaymentByInvoiceID(inv.ID)
	if err == nil {
		if existing.PollURL != "" {
			return nil, internal.ErrPaymentInFlight
		}
		// A stale pending payment without a poll handle is disposable: it can
		// never be reconciled against the gateway, so replace it.
		s.logger.Info("replacing stale pending payment without poll handle",
			"payment_id", existing.ID,
			"invoice_id", inv.ID)
		if err := s.repo.DeletePayment(existing.ID); err != nil {
			return nil, internal.NewInternalError("failed to replace stale payment", err)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, internal.NewInternalError("failed to load payment", err)
	}

	pay := &payment.Payment{
		InvoiceID: inv.ID,
		TenantID:  inv.TenantID,
		Amount:    inv.Amount,
		Currency:  inv.Currency,
		Status:    payment.StatusPending,
	}
	if err := s.repo.CreatePayment(pay); err != nil {
		return nil, internal.NewInternalError("failed to create payment", err)
	}

	checkoutCtx, cancel := internal.WithTimeout(ctx, s.pollTimeout)
	defer cancel()

	result, err := s.checkout.InitiateExpressCheckout(checkoutCtx, &gateway.ExpressCheckoutRequest{
		Reference: inv.Number,
		Amount:    inv.Amount,
		Phone:     phone,
		Method:    method,
		AuthEmail: ten.AdminEmail,
	})
	if err != nil {
		reason := fmt.Sprintf("checkout initiation failed: %v", err)
		s.failPayment(pay, reason, payment.FailureMetadata(payment.FailureMeta{Reason: reason}), inv, RequestMeta{})
		return nil, internal.NewExternalError("checkout initiation failed", internal.ErrCodeGatewayFailed, err)
	}
	if !result.Success {
		reason := fmt.Sprintf("gateway rejected checkout: %s", result.Err)
		s.failPayment(pay, reason, payment.FailureMetadata(payment.FailureMeta{Reason: reason}), inv, RequestMeta{})
		return nil, internal.NewExternalError(reason, internal.ErrCodeGatewayFailed, errors.New(result.Err))
	}

	pay.PollURL = result.PollURL
	pay.Metadata = payment.ExpressCheckoutMetadata(payment.ExpressCheckoutMeta{
		Phone:        phone,
		Method:       method,
		Instructions: result.Instructions,
		PollURL:      result.PollURL,
	})
	if err := s.repo.UpdatePayment(pay); err != nil {
		return nil, internal.NewInternalError("failed to store poll handle", err)
	}

	s.logger.Info("checkout initiated",
		"payment_id", pay.ID,
		"invoice_id", inv.ID,
		"reference", inv.Number,
		"method", method)

	return &CheckoutResult{Payment: pay, Instructions: result.Instructions}, nil
}

// verificationProof derives the internal audit hash stored on a confirmed
// payment. It is not a security boundary.
func verificationProof(reference, gatewayReference, amount string, at time.Time) string {
	sum := sha512.Sum512([]byte(fmt.Sprintf("%s|%s|%s|%d", reference, gatewayReference, amount, at.Unix())))
	return hex.EncodeToString(sum[:])
}
