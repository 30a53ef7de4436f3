package audit

import (
	"encoding/json"
	"time"
)

type Action string

const (
	ActionPaymentConfirmed Action = "PAYMENT_CONFIRMED"
	ActionAutoUpgrade      Action = "AUTO_UPGRADE"
	ActionAutoUnsuspend    Action = "AUTO_UNSUSPEND"
)

// ActorSystem is recorded on entries written by the reconciliation engine
// itself rather than a human operator.
const ActorSystem = "system"

// Entry is an append-only audit record. Entries hold back-references only
// and are never updated or deleted.
type Entry struct {
	ID          int64           `json:"id" gorm:"primaryKey"`
	Actor       string          `json:"actor" gorm:"column:actor;not null"`
	TenantID    int64           `json:"tenant_id" gorm:"column:tenant_id;not null;index"`
	Action      Action          `json:"action" gorm:"column:action;not null;index"`
	Entity      string          `json:"entity" gorm:"column:entity"`
	EntityID    int64           `json:"entity_id" gorm:"column:entity_id"`
	Before      json.RawMessage `json:"before,omitempty" gorm:"column:before;type:jsonb"`
	After       json.RawMessage `json:"after,omitempty" gorm:"column:after;type:jsonb"`
	Details     string          `json:"details,omitempty" gorm:"column:details"`
	SourceAddr  string          `json:"source_addr,omitempty" gorm:"column:source_addr"`
	SourceAgent string          `json:"source_agent,omitempty" gorm:"column:source_agent"`
	CreatedAt   time.Time       `json:"created_at" gorm:"column:created_at"`
}

func (Entry) TableName() string {
	return "audit_logs"
}
