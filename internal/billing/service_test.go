package billing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/fleet-billing/internal"
	"github.com/frahmantamala/fleet-billing/internal/billing"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/audit"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/invoice"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/tenant"
	"github.com/frahmantamala/fleet-billing/internal/core/events"
	"github.com/frahmantamala/fleet-billing/internal/gateway"
)

func TestBillingService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Billing Service Suite")
}

// Mock repository for testing
type mockRepository struct {
	invoices map[int64]*invoice.Invoice
	payments map[int64]*payment.Payment
	tenants  map[int64]*tenant.Tenant
	audits   []*audit.Entry
	nextID   int64

	lockErr          error
	updatePaymentErr error
	txErr            error
	lockCalls        int
	deletedPayments  []int64
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		invoices: make(map[int64]*invoice.Invoice),
		payments: make(map[int64]*payment.Payment),
		tenants:  make(map[int64]*tenant.Tenant),
		nextID:   1,
	}
}

func (m *mockRepository) GetInvoiceByID(id int64) (*invoice.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return inv, nil
}

func (m *mockRepository) GetInvoiceByNumber(number string) (*invoice.Invoice, error) {
	for _, inv := range m.invoices {
		if inv.Number == number {
			return inv, nil
		}
	}
	return nil, billing.ErrNotFound
}

func (m *mockRepository) UpdateInvoice(inv *invoice.Invoice) error {
	m.invoices[inv.ID] = inv
	return nil
}

func (m *mockRepository) GetPaymentByID(id int64) (*payment.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return p, nil
}

func (m *mockRepository) pendingForInvoice(invoiceID int64) *payment.Payment {
	var candidates []*payment.Payment
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID && p.Status == payment.StatusPending {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return candidates[0]
}

func (m *mockRepository) GetPendingPaymentByInvoiceID(invoiceID int64) (*payment.Payment, error) {
	if p := m.pendingForInvoice(invoiceID); p != nil {
		return p, nil
	}
	return nil, billing.ErrNotFound
}

func (m *mockRepository) GetLatestPaymentByInvoiceID(invoiceID int64) (*payment.Payment, error) {
	var latest *payment.Payment
	for _, p := range m.payments {
		if p.InvoiceID != invoiceID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, billing.ErrNotFound
	}
	return latest, nil
}

func (m *mockRepository) CreatePayment(p *payment.Payment) error {
	p.ID = m.nextID
	m.nextID++
	p.CreatedAt = time.Now()
	m.payments[p.ID] = p
	return nil
}

func (m *mockRepository) UpdatePayment(p *payment.Payment) error {
	if m.updatePaymentErr != nil {
		return m.updatePaymentErr
	}
	m.payments[p.ID] = p
	return nil
}

func (m *mockRepository) DeletePayment(id int64) error {
	delete(m.payments, id)
	m.deletedPayments = append(m.deletedPayments, id)
	return nil
}

func (m *mockRepository) ListStalePendingPayments(olderThan time.Time, limit int) ([]*payment.Payment, error) {
	var stale []*payment.Payment
	for _, p := range m.payments {
		if p.Status == payment.StatusPending && p.CreatedAt.Before(olderThan) {
			stale = append(stale, p)
		}
	}
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (m *mockRepository) LockPendingPayment(invoiceID int64) (*payment.Payment, error) {
	m.lockCalls++
	if m.lockErr != nil {
		return nil, m.lockErr
	}
	if p := m.pendingForInvoice(invoiceID); p != nil {
		return p, nil
	}
	return nil, billing.ErrNotFound
}

func (m *mockRepository) GetTenantByID(id int64) (*tenant.Tenant, error) {
	t, ok := m.tenants[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return t, nil
}

func (m *mockRepository) UpdateTenant(t *tenant.Tenant) error {
	m.tenants[t.ID] = t
	return nil
}

func (m *mockRepository) AppendAudit(entry *audit.Entry) error {
	m.audits = append(m.audits, entry)
	return nil
}

func (m *mockRepository) WithinTransaction(fn func(billing.Repository) error) error {
	if m.txErr != nil {
		return m.txErr
	}
	return fn(m)
}

func (m *mockRepository) auditActions() []audit.Action {
	actions := make([]audit.Action, 0, len(m.audits))
	for _, entry := range m.audits {
		actions = append(actions, entry.Action)
	}
	return actions
}

type mockProber struct {
	result *gateway.PollResult
	err    error
	calls  int
}

func (m *mockProber) Poll(ctx context.Context, pollURL string) (*gateway.PollResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type mockCheckout struct {
	result *gateway.InitiateResult
	err    error
	last   *gateway.ExpressCheckoutRequest
}

func (m *mockCheckout) InitiateExpressCheckout(ctx context.Context, req *gateway.ExpressCheckoutRequest) (*gateway.InitiateResult, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var _ = Describe("Billing Service", func() {
	var (
		repo     *mockRepository
		prober   *mockProber
		checkout *mockCheckout
		service  *billing.Service
		meta     billing.RequestMeta
	)

	newNotification := func(reference, amount, status string) *gateway.Notification {
		amt, err := decimal.NewFromString(amount)
		Expect(err).NotTo(HaveOccurred())
		return &gateway.Notification{
			Reference:        reference,
			GatewayReference: "PN-555",
			Amount:           amt,
			Status:           status,
		}
	}

	paidProbe := func(amount string) *gateway.PollResult {
		amt, err := decimal.NewFromString(amount)
		Expect(err).NotTo(HaveOccurred())
		return &gateway.PollResult{
			Success:          true,
			Paid:             true,
			Status:           gateway.StatusPaid,
			Amount:           amt,
			GatewayReference: "PN-555",
		}
	}

	seedInvoice := func(number string, amount string) *invoice.Invoice {
		amt, err := decimal.NewFromString(amount)
		Expect(err).NotTo(HaveOccurred())
		inv := &invoice.Invoice{
			ID:       repo.nextID,
			TenantID: 1,
			Number:   number,
			Amount:   amt,
			Currency: "USD",
			Status:   invoice.StatusPending,
			Type:     invoice.TypeSubscription,
		}
		repo.nextID++
		repo.invoices[inv.ID] = inv
		return inv
	}

	seedPendingPayment := func(inv *invoice.Invoice, pollURL string) *payment.Payment {
		p := &payment.Payment{
			ID:        repo.nextID,
			InvoiceID: inv.ID,
			TenantID:  inv.TenantID,
			Amount:    inv.Amount,
			Currency:  inv.Currency,
			Status:    payment.StatusPending,
			PollURL:   pollURL,
			CreatedAt: time.Now().Add(-time.Minute),
		}
		repo.nextID++
		repo.payments[p.ID] = p
		return p
	}

	BeforeEach(func() {
		repo = newMockRepository()
		prober = &mockProber{}
		checkout = &mockCheckout{}
		eventBus := events.NewEventBus(testLogger())
		service = billing.NewService(repo, prober, checkout, eventBus, testLogger(), time.Second)
		meta = billing.RequestMeta{SourceAddr: "203.0.113.7", SourceAgent: "gateway/1.0"}

		repo.tenants[1] = &tenant.Tenant{
			ID:             1,
			Name:           "Acme Logistics",
			AdminEmail:     "billing@acme.test",
			Plan:           tenant.PlanBasic,
			Status:         tenant.StatusActive,
			MonthlyRevenue: tenant.PlanPrice(tenant.PlanBasic),
		}
	})

	Describe("ConfirmPayment", func() {
		Context("when the gateway confirms a paid transaction", func() {
			It("transitions payment and invoice to PAID atomically", func() {
				inv := seedInvoice("INV-1001", "99.00")
				pay := seedPendingPayment(inv, "https://gateway.test/poll/abc")
				prober.result = paidProbe("99.00")

				outcome, err := service.ConfirmPayment(context.Background(), newNotification("INV-1001", "99.00", gateway.StatusPaid), meta)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Confirmed).To(BeTrue())
				Expect(outcome.AlreadySettled).To(BeFalse())
				Expect(pay.Status).To(Equal(payment.StatusPaid))
				Expect(pay.Verified).To(BeTrue())
				Expect(pay.VerifiedAt).NotTo(BeNil())
				Expect(pay.VerificationHash).NotTo(BeNil())
				Expect(inv.Status).To(Equal(invoice.StatusPaid))
				Expect(inv.PaidAt).NotTo(BeNil())
				Expect(repo.auditActions()).To(ContainElement(audit.ActionPaymentConfirmed))
			})

			It("records the source address on the audit trail", func() {
				inv := seedInvoice("INV-1001", "99.00")
				seedPendingPayment(inv, "https://gateway.test/poll/abc")
				prober.result = paidProbe("99.00")

				_, err := service.ConfirmPayment(context.Background(), newNotification("INV-1001", "99.00", gateway.StatusPaid), meta)

				Expect(err).NotTo(HaveOccurred())
				Expect(repo.audits).NotTo(BeEmpty())
				Expect(repo.audits[0].Actor).To(Equal(audit.ActorSystem))
				Expect(repo.audits[0].SourceAddr).To(Equal("203.0.113.7"))
			})
		})

		Context("when the invoice is unknown", func() {
			It("returns invoice not found without touching state", func() {
				_, err := service.ConfirmPayment(context.Background(), newNotification("INV-GHOST", "99.00", gateway.StatusPaid), meta)

				Expect(err).To(MatchError(internal.ErrInvoiceNotFound))
				Expect(prober.calls).To(BeZero())
			})
		})

		Context("when the invoice is already settled", func() {
			It("reports already settled without re-running side effects", func() {
				inv := seedInvoice("INV-1001", "99.00")
				inv.Status = invoice.StatusPaid

				outcome, err := service.ConfirmPayment(context.Background(), newNotification("INV-1001", "99.00", gateway.StatusPaid), meta)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.AlreadySettled).To(BeTrue())
				Expect(outcome.Confirmed).To(BeFalse())
				Expect(prober.calls).To(BeZero())
				Expect(repo.audits).To(BeEmpty())
			})
		})

		Context("when a concurrent delivery wins the row lock", func() {
			It("treats the payment as already settled", func() {
				inv := seedInvoice("INV-1001", "99.00")
				seedPendingPayment(inv, "https://gateway.test/poll/abc")
				prober.result = paidProbe("99.00")
				repo.lockErr = billing.ErrNotFound

				outcome, err := service.ConfirmPayment(context.Background(), newNotification("INV-1001", "99.00", gateway.StatusPaid), meta)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.AlreadySettled).To(BeTrue())
				Expect(repo.lockCalls).To(Equal(1))
			})
		})

		Context("when the gateway reports the transaction unpaid", func() {
			It("marks the payment failed and reports a soft failure", func() {
				inv := seedInvoice("INV-1001", "99.00")
				pay := seedPendingPayment(inv, "https://gateway.test/poll/abc")
				prober.result = &gateway.PollResult{
					Success: true,
					Paid:    false,
					Status:  gateway.StatusAwaitingDelivery,
					Amount:  inv.Amount,
				}

				outcome, err := service.ConfirmPayment(context.Background(), newNotification("INV-1001", "99.00", gateway.StatusPaid), meta)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Confirmed).To(BeFalse())
				Expect(outcome.Message).To(ContainSubstring("Awaiting Delivery"))
				Expect(pay.Status).To(Equal(payment.StatusFailed))
				Expect(inv.Status).To(Equal(invoice.StatusPending))
			})
		})

		Context("when the reported amount differs from the invoice", func() {
			It("rejects a one-cent difference and flags the payment", func() {
				inv := seedInvoice("INV-1001", "100.00")
				pay := seedPendingPayment(inv, "https://gateway.test/poll/abc")
				prober.result = paidProbe("100.01")

				_, err := service.ConfirmPayment(context.Background(), newNotification("INV-1001", "100.01", gateway.StatusPaid), meta)

				appErr, ok := internal.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(internal.ErrCodeAmountMismatch))
				Expect(pay.Status).To(Equal(payment.StatusFailed))
				Expect(pay.ErrorMessage).NotTo(BeNil())
				Expect(inv.Status).To(Equal(invoice.StatusPending))
			})
		})

		Context("when the payment has no poll handle", func() {
			It("degrades to the authenticated notification body", func() {
				inv := seedInvoice("INV-1001", "99.00")
				pay := seedPendingPayment(inv, "")

				outcome, err := service.ConfirmPayment(context.Background(), newNotification("INV-1001", "99.00", gateway.StatusPaid), meta)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Confirmed).To(BeTrue())
				Expect(prober.calls).To(BeZero())
				Expect(pay.Status).To(Equal(payment.StatusPaid))
			})

			It("still rejects an unpaid notification status", func() {
				inv := seedInvoice("INV-1001", "99.00")
				pay := seedPendingPayment(inv, "")

				outcome, err := service.ConfirmPayment(context.Background(), newNotification("INV-1001", "99.00", gateway.StatusCancelled), meta)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Confirmed).To(BeFalse())
				Expect(pay.Status).To(Equal(payment.StatusFailed))
			})
		})

		Context("when the status poll fails", func() {
			It("marks the payment failed and surfaces a gateway error", func() {
				inv := seedInvoice("INV-1001", "99.00")
				pay := seedPendingPayment(inv, "https://gateway.test/poll/abc")
				prober.err = errors.New("connection refused")

				_, err := service.ConfirmPayment(context.Background(), newNotification("INV-1001", "99.00", gateway.StatusPaid), meta)

				appErr, ok := internal.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(internal.ErrCodeGatewayFailed))
				Expect(pay.Status).To(Equal(payment.StatusFailed))
			})
		})
	})

	Describe("auto-actions", func() {
		Context("for an upgrade invoice", func() {
			It("upgrades the tenant plan and recomputes monthly revenue", func() {
				inv := seedInvoice("INV-2001", "99.00")
				targetPlan := tenant.PlanPremium
				inv.Type = invoice.TypeUpgrade
				inv.TargetPlan = &targetPlan
				pay := seedPendingPayment(inv, "https://gateway.test/poll/up")
				prober.result = paidProbe("99.00")

				outcome, err := service.ConfirmPayment(context.Background(), newNotification("INV-2001", "99.00", gateway.StatusPaid), meta)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Upgraded).To(BeTrue())
				Expect(repo.tenants[1].Plan).To(Equal(tenant.PlanPremium))
				Expect(repo.tenants[1].MonthlyRevenue.String()).To(Equal("99"))
				Expect(pay.UpgradeActioned).To(BeTrue())
				Expect(repo.auditActions()).To(ContainElement(audit.ActionAutoUpgrade))
			})

			It("does not upgrade twice on a redelivered confirmation", func() {
				inv := seedInvoice("INV-2001", "99.00")
				targetPlan := tenant.PlanPremium
				inv.Type = invoice.TypeUpgrade
				inv.TargetPlan = &targetPlan
				seedPendingPayment(inv, "https://gateway.test/poll/up")
				prober.result = paidProbe("99.00")

				_, err := service.ConfirmPayment(context.Background(), newNotification("INV-2001", "99.00", gateway.StatusPaid), meta)
				Expect(err).NotTo(HaveOccurred())

				outcome, err := service.ConfirmPayment(context.Background(), newNotification("INV-2001", "99.00", gateway.StatusPaid), meta)
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.AlreadySettled).To(BeTrue())

				upgradeAudits := 0
				for _, entry := range repo.audits {
					if entry.Action == audit.ActionAutoUpgrade {
						upgradeAudits++
					}
				}
				Expect(upgradeAudits).To(Equal(1))
			})

			It("rolls back the confirmation when the target plan is unknown", func() {
				inv := seedInvoice("INV-2002", "99.00")
				bogus := tenant.Plan("PLATINUM")
				inv.Type = invoice.TypeUpgrade
				inv.TargetPlan = &bogus
				seedPendingPayment(inv, "https://gateway.test/poll/up")
				prober.result = paidProbe("99.00")

				_, err := service.ConfirmPayment(context.Background(), newNotification("INV-2002", "99.00", gateway.StatusPaid), meta)

				Expect(err).To(HaveOccurred())
				Expect(repo.tenants[1].Plan).To(Equal(tenant.PlanBasic))
			})
		})

		Context("for a suspended tenant", func() {
			It("reactivates the tenant and clears the suspension timestamp", func() {
				suspendedAt := time.Now().Add(-48 * time.Hour)
				repo.tenants[1].Status = tenant.StatusSuspended
				repo.tenants[1].SuspendedAt = &suspendedAt

				inv := seedInvoice("INV-3001", "49.00")
				pay := seedPendingPayment(inv, "https://gateway.test/poll/un")
				prober.result = paidProbe("49.00")

				outcome, err := service.ConfirmPayment(context.Background(), newNotification("INV-3001", "49.00", gateway.StatusPaid), meta)

				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Unsuspended).To(BeTrue())
				Expect(repo.tenants[1].Status).To(Equal(tenant.StatusActive))
				Expect(repo.tenants[1].SuspendedAt).To(BeNil())
				Expect(pay.UnsuspendActioned).To(BeTrue())
				Expect(repo.auditActions()).To(ContainElement(audit.ActionAutoUnsuspend))
			})
		})
	})

	Describe("GetPaymentStatus", func() {
		It("returns the invoice and latest payment state", func() {
			inv := seedInvoice("INV-4001", "49.00")
			seedPendingPayment(inv, "https://gateway.test/poll/st")

			view, err := service.GetPaymentStatus("INV-4001")

			Expect(err).NotTo(HaveOccurred())
			Expect(view.InvoiceStatus).To(Equal("PENDING"))
			Expect(view.PaymentStatus).To(Equal("PENDING"))
			Expect(view.Verified).To(BeFalse())
			Expect(view.Amount).To(Equal("49.00"))
		})

		It("returns not found for an unknown reference", func() {
			_, err := service.GetPaymentStatus("INV-GHOST")
			Expect(err).To(MatchError(internal.ErrInvoiceNotFound))
		})
	})

	Describe("InitiateCheckout", func() {
		BeforeEach(func() {
			checkout.result = &gateway.InitiateResult{
				Success:      true,
				PollURL:      "https://gateway.test/poll/new",
				Instructions: "Enter your PIN to approve the payment.",
			}
		})

		It("creates a pending payment and stores the poll handle", func() {
			inv := seedInvoice("INV-5001", "49.00")

			result, err := service.InitiateCheckout(context.Background(), inv.ID, "0771234567", "ecocash")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Payment.Status).To(Equal(payment.StatusPending))
			Expect(result.Payment.PollURL).To(Equal("https://gateway.test/poll/new"))
			Expect(result.Instructions).To(ContainSubstring("PIN"))
			Expect(checkout.last.Reference).To(Equal("INV-5001"))
			Expect(checkout.last.AuthEmail).To(Equal("billing@acme.test"))
		})

		It("rejects an invoice that is not open", func() {
			inv := seedInvoice("INV-5002", "49.00")
			inv.Status = invoice.StatusPaid

			_, err := service.InitiateCheckout(context.Background(), inv.ID, "0771234567", "ecocash")
			Expect(err).To(MatchError(internal.ErrInvoiceNotOpen))
		})

		It("rejects when a reconcilable payment is already in flight", func() {
			inv := seedInvoice("INV-5003", "49.00")
			seedPendingPayment(inv, "https://gateway.test/poll/old")

			_, err := service.InitiateCheckout(context.Background(), inv.ID, "0771234567", "ecocash")
			Expect(err).To(MatchError(internal.ErrPaymentInFlight))
		})

		It("replaces a stale pending payment that has no poll handle", func() {
			inv := seedInvoice("INV-5004", "49.00")
			stale := seedPendingPayment(inv, "")

			result, err := service.InitiateCheckout(context.Background(), inv.ID, "0771234567", "ecocash")

			Expect(err).NotTo(HaveOccurred())
			Expect(repo.deletedPayments).To(ContainElement(stale.ID))
			Expect(result.Payment.ID).NotTo(Equal(stale.ID))
		})

		It("marks the payment failed when the gateway rejects the checkout", func() {
			inv := seedInvoice("INV-5005", "49.00")
			checkout.result = &gateway.InitiateResult{Success: false, Err: "insufficient merchant balance"}

			_, err := service.InitiateCheckout(context.Background(), inv.ID, "0771234567", "ecocash")

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeGatewayFailed))

			latest, lerr := repo.GetLatestPaymentByInvoiceID(inv.ID)
			Expect(lerr).NotTo(HaveOccurred())
			Expect(latest.Status).To(Equal(payment.StatusFailed))
		})
	})

	Describe("ReconcileStalePayment", func() {
		It("confirms a stale payment the gateway reports as paid", func() {
			inv := seedInvoice("INV-6001", "49.00")
			pay := seedPendingPayment(inv, "https://gateway.test/poll/stale")
			prober.result = paidProbe("49.00")

			err := service.ReconcileStalePayment(context.Background(), pay)

			Expect(err).NotTo(HaveOccurred())
			Expect(pay.Status).To(Equal(payment.StatusPaid))
			Expect(inv.Status).To(Equal(invoice.StatusPaid))
		})

		It("expires a stale payment without a poll handle", func() {
			inv := seedInvoice("INV-6002", "49.00")
			pay := seedPendingPayment(inv, "")

			err := service.ReconcileStalePayment(context.Background(), pay)

			Expect(err).NotTo(HaveOccurred())
			Expect(pay.Status).To(Equal(payment.StatusFailed))
			Expect(inv.Status).To(Equal(invoice.StatusPending))
		})

		It("fails a stale payment the gateway reports as cancelled", func() {
			inv := seedInvoice("INV-6003", "49.00")
			pay := seedPendingPayment(inv, "https://gateway.test/poll/stale")
			prober.result = &gateway.PollResult{Success: true, Status: gateway.StatusCancelled, Amount: inv.Amount}

			err := service.ReconcileStalePayment(context.Background(), pay)

			Expect(err).NotTo(HaveOccurred())
			Expect(pay.Status).To(Equal(payment.StatusFailed))
		})

		It("leaves the payment pending on a transient poll error", func() {
			inv := seedInvoice("INV-6004", "49.00")
			pay := seedPendingPayment(inv, "https://gateway.test/poll/stale")
			prober.err = errors.New("timeout")

			err := service.ReconcileStalePayment(context.Background(), pay)

			Expect(err).To(HaveOccurred())
			Expect(pay.Status).To(Equal(payment.StatusPending))
			Expect(inv.Status).To(Equal(invoice.StatusPending))
		})

		It("leaves the payment pending while the gateway still awaits settlement", func() {
			inv := seedInvoice("INV-6005", "49.00")
			pay := seedPendingPayment(inv, "https://gateway.test/poll/stale")
			prober.result = &gateway.PollResult{Success: true, Status: gateway.StatusSent, Amount: inv.Amount}

			err := service.ReconcileStalePayment(context.Background(), pay)

			Expect(err).NotTo(HaveOccurred())
			Expect(pay.Status).To(Equal(payment.StatusPending))
		})
	})
})
