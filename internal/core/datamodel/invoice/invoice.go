package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/tenant"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
	StatusCancelled Status = "CANCELLED"
)

type Type string

const (
	TypeSubscription Type = "SUBSCRIPTION"
	TypeUpgrade      Type = "UPGRADE"
	TypeRenewal      Type = "RENEWAL"
)

// Invoice is a billing obligation owned by a tenant. Number is the
// gateway-facing reference used to correlate webhook deliveries.
type Invoice struct {
	ID         int64           `json:"id" gorm:"primaryKey"`
	TenantID   int64           `json:"tenant_id" gorm:"column:tenant_id;not null;index"`
	Number     string          `json:"number" gorm:"column:number;not null;uniqueIndex"`
	Amount     decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric(12,2);not null"`
	Currency   string          `json:"currency" gorm:"column:currency;default:USD"`
	Status     Status          `json:"status" gorm:"column:status;default:PENDING"`
	Type       Type            `json:"type" gorm:"column:type;default:SUBSCRIPTION"`
	TargetPlan *tenant.Plan    `json:"target_plan,omitempty" gorm:"column:target_plan"`
	DueAt      *time.Time      `json:"due_at,omitempty" gorm:"column:due_at"`
	PaidAt     *time.Time      `json:"paid_at,omitempty" gorm:"column:paid_at"`
	CreatedAt  time.Time       `json:"created_at" gorm:"column:created_at"`
	UpdatedAt  time.Time       `json:"updated_at" gorm:"column:updated_at"`
}

func (Invoice) TableName() string {
	return "invoices"
}

// AmountMinorUnits converts the invoice amount to integer cents. All amount
// comparisons in reconciliation happen in minor units, never on floats.
func (i *Invoice) AmountMinorUnits() int64 {
	return i.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
