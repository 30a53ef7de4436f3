package postgres

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/fleet-billing/internal/billing"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/audit"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/invoice"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/tenant"
)

type BillingRepository struct {
	db *gorm.DB
}

func NewBillingRepository(db *gorm.DB) billing.Repository {
	return &BillingRepository{db: db}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.ErrNotFound
	}
	return err
}

func (r *BillingRepository) GetInvoiceByID(id int64) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	if err := r.db.First(&inv, id).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (r *BillingRepository) GetInvoiceByNumber(number string) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	if err := r.db.Where("number = ?", number).First(&inv).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (r *BillingRepository) UpdateInvoice(inv *invoice.Invoice) error {
	return translate(r.db.Save(inv).Error)
}

func (r *BillingRepository) GetPaymentByID(id int64) (*payment.Payment, error) {
	var p payment.Payment
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *BillingRepository) GetPendingPaymentByInvoiceID(invoiceID int64) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Where("invoice_id = ? AND status = ?", invoiceID, payment.StatusPending).
		Order("created_at DESC").First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *BillingRepository) GetLatestPaymentByInvoiceID(invoiceID int64) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Where("invoice_id = ?", invoiceID).Order("created_at DESC").First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *BillingRepository) CreatePayment(p *payment.Payment) error {
	return translate(r.db.Create(p).Error)
}

func (r *BillingRepository) UpdatePayment(p *payment.Payment) error {
	return translate(r.db.Save(p).Error)
}

func (r *BillingRepository) DeletePayment(id int64) error {
	return translate(r.db.Delete(&payment.Payment{}, id).Error)
}

func (r *BillingRepository) ListStalePendingPayments(olderThan time.Time, limit int) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.Where("status = ? AND created_at < ?", payment.StatusPending, olderThan).
		Order("created_at ASC").Limit(limit).Find(&payments).Error
	return payments, translate(err)
}

// LockPendingPayment takes a FOR UPDATE lock on the invoice's PENDING payment.
// Concurrent transactions serialize here; whichever commits first flips the
// status, so the second caller no longer matches the predicate and receives
// billing.ErrNotFound.
func (r *BillingRepository) LockPendingPayment(invoiceID int64) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("invoice_id = ? AND status = ?", invoiceID, payment.StatusPending).
		Order("created_at DESC").First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *BillingRepository) GetTenantByID(id int64) (*tenant.Tenant, error) {
	var t tenant.Tenant
	if err := r.db.First(&t, id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (r *BillingRepository) UpdateTenant(t *tenant.Tenant) error {
	return translate(r.db.Save(t).Error)
}

func (r *BillingRepository) AppendAudit(entry *audit.Entry) error {
	return translate(r.db.Create(entry).Error)
}

// WithinTransaction runs fn against a repository bound to a single gorm
// transaction. Returning an error from fn rolls everything back.
func (r *BillingRepository) WithinTransaction(fn func(billing.Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&BillingRepository{db: tx})
	})
}
