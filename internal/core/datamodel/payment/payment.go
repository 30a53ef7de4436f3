package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
)

// Payment is one attempt to settle an invoice via the gateway. PAID and
// FAILED are terminal and only the reconciliation service writes them.
// The four actioned flags guard exactly-once side effects across retried
// webhook deliveries; each is set at most once.
type Payment struct {
	ID               int64           `json:"id" gorm:"primaryKey"`
	InvoiceID        int64           `json:"invoice_id" gorm:"column:invoice_id;not null;index"`
	TenantID         int64           `json:"tenant_id" gorm:"column:tenant_id;not null;index"`
	Amount           decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric(12,2);not null"`
	Currency         string          `json:"currency" gorm:"column:currency;default:USD"`
	Status           Status          `json:"status" gorm:"column:status;default:PENDING"`
	PollURL          string          `json:"poll_url,omitempty" gorm:"column:poll_url"`
	GatewayReference *string         `json:"gateway_reference,omitempty" gorm:"column:gateway_reference"`
	VerificationHash *string         `json:"verification_hash,omitempty" gorm:"column:verification_hash"`
	Metadata         json.RawMessage `json:"metadata,omitempty" gorm:"column:metadata;type:jsonb"`
	ErrorMessage     *string         `json:"error_message,omitempty" gorm:"column:error_message"`
	Verified         bool            `json:"verified" gorm:"column:verified;default:false"`
	VerifiedAt       *time.Time      `json:"verified_at,omitempty" gorm:"column:verified_at"`

	UpgradeActioned   bool `json:"upgrade_actioned" gorm:"column:upgrade_actioned;default:false"`
	UnsuspendActioned bool `json:"unsuspend_actioned" gorm:"column:unsuspend_actioned;default:false"`
	EmailSent         bool `json:"email_sent" gorm:"column:email_sent;default:false"`
	AdminNotified     bool `json:"admin_notified" gorm:"column:admin_notified;default:false"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// AmountMinorUnits converts the payment amount to integer cents.
func (p *Payment) AmountMinorUnits() int64 {
	return p.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
