package billing

import (
	"errors"
	"time"

	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/audit"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/invoice"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/tenant"
)

// ErrNotFound is returned by Repository implementations for missing rows so
// the service layer never depends on driver-specific sentinels.
var ErrNotFound = errors.New("record not found")

// Repository defines the data access surface of the reconciliation engine.
// WithinTransaction hands the callback a Repository bound to the transaction;
// invoice, payment and tenant mutations during confirmation all go through
// that bound instance so the commit is all-or-nothing.
type Repository interface {
	GetInvoiceByID(id int64) (*invoice.Invoice, error)
	GetInvoiceByNumber(number string) (*invoice.Invoice, error)
	UpdateInvoice(inv *invoice.Invoice) error

	GetPaymentByID(id int64) (*payment.Payment, error)
	GetPendingPaymentByInvoiceID(invoiceID int64) (*payment.Payment, error)
	GetLatestPaymentByInvoiceID(invoiceID int64) (*payment.Payment, error)
	CreatePayment(p *payment.Payment) error
	UpdatePayment(p *payment.Payment) error
	DeletePayment(id int64) error
	ListStalePendingPayments(olderThan time.Time, limit int) ([]*payment.Payment, error)

	// LockPendingPayment acquires a row-level lock on the PENDING payment of
	// the invoice. Under concurrent deliveries exactly one caller observes
	// the PENDING row; the loser gets ErrNotFound and must treat the payment
	// as already settled.
	LockPendingPayment(invoiceID int64) (*payment.Payment, error)

	GetTenantByID(id int64) (*tenant.Tenant, error)
	UpdateTenant(t *tenant.Tenant) error

	AppendAudit(entry *audit.Entry) error

	WithinTransaction(fn func(Repository) error) error
}

// RequestMeta carries forensic context from the transport layer into audit
// rows and logs.
type RequestMeta struct {
	SourceAddr  string
	SourceAgent string
}

// ConfirmOutcome is the reconciliation verdict for one delivery.
type ConfirmOutcome struct {
	// Confirmed means this delivery performed the PENDING -> PAID transition.
	Confirmed bool
	// AlreadySettled means the payment was settled by an earlier delivery;
	// the caller responds with success without re-running side effects.
	AlreadySettled bool
	// Message explains a soft failure (gateway reports unpaid) returned with
	// a 200 response, since an unpaid transaction is not attacker activity.
	Message string

	Payment     *payment.Payment
	Upgraded    bool
	Unsuspended bool
}

// PaymentStatusView is the manual polling response.
type PaymentStatusView struct {
	InvoiceStatus string `json:"invoice_status"`
	PaymentStatus string `json:"payment_status"`
	Verified      bool   `json:"verified"`
	Amount        string `json:"amount"`
}

// CheckoutResult is returned by checkout initiation.
type CheckoutResult struct {
	Payment      *payment.Payment
	Instructions string
}
