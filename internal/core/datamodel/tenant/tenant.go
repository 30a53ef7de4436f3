package tenant

import (
	"time"

	"github.com/shopspring/decimal"
)

type Plan string

const (
	PlanFree    Plan = "FREE"
	PlanBasic   Plan = "BASIC"
	PlanPremium Plan = "PREMIUM"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusCancelled Status = "CANCELLED"
)

// planPrices is the monthly price table in USD. monthly_revenue is always
// recomputed from this table, never incremented.
var planPrices = map[Plan]decimal.Decimal{
	PlanFree:    decimal.Zero,
	PlanBasic:   decimal.NewFromInt(49),
	PlanPremium: decimal.NewFromInt(99),
}

func ValidPlan(p Plan) bool {
	_, ok := planPrices[p]
	return ok
}

func PlanPrice(p Plan) decimal.Decimal {
	if price, ok := planPrices[p]; ok {
		return price
	}
	return decimal.Zero
}

type Tenant struct {
	ID             int64           `json:"id" gorm:"primaryKey"`
	Name           string          `json:"name" gorm:"column:name;not null"`
	AdminEmail     string          `json:"admin_email" gorm:"column:admin_email;not null"`
	Plan           Plan            `json:"plan" gorm:"column:plan;default:FREE"`
	Status         Status          `json:"status" gorm:"column:status;default:ACTIVE"`
	MonthlyRevenue decimal.Decimal `json:"monthly_revenue" gorm:"column:monthly_revenue;type:numeric(12,2)"`
	SuspendedAt    *time.Time      `json:"suspended_at,omitempty" gorm:"column:suspended_at"`
	CreatedAt      time.Time       `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"column:updated_at"`
}

func (Tenant) TableName() string {
	return "tenants"
}
