package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/tenant"
	"github.com/frahmantamala/fleet-billing/internal/core/events"
)

// Repository is the read/write surface the notifier needs. The sent flags are
// updated outside the reconciliation transaction on purpose: notification
// delivery must never hold up or roll back a confirmed payment.
type Repository interface {
	GetPaymentByID(id int64) (*payment.Payment, error)
	GetTenantByID(id int64) (*tenant.Tenant, error)
	UpdatePayment(p *payment.Payment) error
}

// Service sends post-confirmation emails. Everything here is best effort:
// failures are logged and swallowed, and the email_sent / admin_notified
// flags make redelivered events idempotent.
type Service struct {
	repo     Repository
	mailer   Mailer
	logger   *slog.Logger
	opsEmail string
}

func NewService(repo Repository, mailer Mailer, opsEmail string, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		mailer:   mailer,
		logger:   logger,
		opsEmail: opsEmail,
	}
}

// RegisterHandlers subscribes the notifier to billing events.
func (s *Service) RegisterHandlers(bus *events.EventBus) {
	bus.Subscribe(events.EventTypePaymentConfirmed, s.handlePaymentConfirmed)
	bus.Subscribe(events.EventTypePaymentFailed, s.handlePaymentFailed)
}

func (s *Service) handlePaymentConfirmed(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.PaymentConfirmedEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload type %T", event)
	}

	pay, err := s.repo.GetPaymentByID(e.PaymentID)
	if err != nil {
		s.logger.Error("notifier could not load payment", "payment_id", e.PaymentID, "error", err)
		return nil
	}
	ten, err := s.repo.GetTenantByID(e.TenantID)
	if err != nil {
		s.logger.Error("notifier could not load tenant", "tenant_id", e.TenantID, "error", err)
		return nil
	}

	if !pay.EmailSent {
		subject := fmt.Sprintf("Payment received for invoice %s", e.Reference)
		body := fmt.Sprintf(
			"Hi %s,\n\nWe received your payment of %s %s for invoice %s.\n",
			ten.Name, e.Amount, e.Currency, e.Reference)
		if e.Upgraded {
			body += "\nYour plan upgrade is now active.\n"
		}
		if e.Unsuspended {
			body += "\nYour account has been reactivated.\n"
		}
		body += "\nThank you,\nFleet Billing"

		if err := s.mailer.Send([]string{ten.AdminEmail}, subject, body); err != nil {
			s.logger.Error("failed to send confirmation email",
				"payment_id", pay.ID,
				"tenant_id", ten.ID,
				"error", err)
		} else {
			pay.EmailSent = true
			if err := s.repo.UpdatePayment(pay); err != nil {
				s.logger.Error("failed to persist email_sent flag", "payment_id", pay.ID, "error", err)
			}
			s.logger.Info("confirmation email sent", "payment_id", pay.ID, "tenant_id", ten.ID)
		}
	}

	if !pay.AdminNotified && s.opsEmail != "" {
		subject := fmt.Sprintf("[billing] payment confirmed: %s", e.Reference)
		body := fmt.Sprintf(
			"Payment %d confirmed.\n\nTenant: %s (id %d)\nInvoice: %s\nAmount: %s %s\nGateway reference: %s\nUpgraded: %t\nUnsuspended: %t\n",
			pay.ID, ten.Name, ten.ID, e.Reference, e.Amount, e.Currency, e.GatewayReference, e.Upgraded, e.Unsuspended)

		if err := s.mailer.Send([]string{s.opsEmail}, subject, body); err != nil {
			s.logger.Error("failed to send ops notification",
				"payment_id", pay.ID,
				"error", err)
		} else {
			pay.AdminNotified = true
			if err := s.repo.UpdatePayment(pay); err != nil {
				s.logger.Error("failed to persist admin_notified flag", "payment_id", pay.ID, "error", err)
			}
		}
	}

	return nil
}

// handlePaymentFailed alerts ops only; tenants are not mailed about failures
// since most are abandoned checkouts.
func (s *Service) handlePaymentFailed(ctx context.Context, event events.Event) error {
	e, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload type %T", event)
	}
	if s.opsEmail == "" {
		return nil
	}

	subject := fmt.Sprintf("[billing] payment failed: %s", e.Reference)
	body := fmt.Sprintf(
		"Payment %d failed.\n\nTenant id: %d\nInvoice id: %d\nReference: %s\nReason: %s\n",
		e.PaymentID, e.TenantID, e.InvoiceID, e.Reference, e.Reason)

	if err := s.mailer.Send([]string{s.opsEmail}, subject, body); err != nil {
		s.logger.Error("failed to send failure notification",
			"payment_id", e.PaymentID,
			"error", err)
	}
	return nil
}
