package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentConfirmed = "billing.payment.confirmed"
	EventTypePaymentFailed    = "billing.payment.failed"
)

// PaymentConfirmedEvent is published after the reconciliation transaction
// commits. Consumers run outside the transaction and must tolerate
// redelivery; the actioned flags on the payment row carry the exactly-once
// guarantee, not this event.
type PaymentConfirmedEvent struct {
	BaseEvent
	PaymentID        int64  `json:"payment_id"`
	InvoiceID        int64  `json:"invoice_id"`
	TenantID         int64  `json:"tenant_id"`
	Reference        string `json:"reference"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	GatewayReference string `json:"gateway_reference"`
	Upgraded         bool   `json:"upgraded"`
	Unsuspended      bool   `json:"unsuspended"`
}

func NewPaymentConfirmedEvent(paymentID, invoiceID, tenantID int64, reference, amount, currency, gatewayReference string, upgraded, unsuspended bool) *PaymentConfirmedEvent {
	return &PaymentConfirmedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentConfirmed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":        paymentID,
				"invoice_id":        invoiceID,
				"tenant_id":         tenantID,
				"reference":         reference,
				"amount":            amount,
				"currency":          currency,
				"gateway_reference": gatewayReference,
				"upgraded":          upgraded,
				"unsuspended":       unsuspended,
			},
		},
		PaymentID:        paymentID,
		InvoiceID:        invoiceID,
		TenantID:         tenantID,
		Reference:        reference,
		Amount:           amount,
		Currency:         currency,
		GatewayReference: gatewayReference,
		Upgraded:         upgraded,
		Unsuspended:      unsuspended,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentID int64  `json:"payment_id"`
	InvoiceID int64  `json:"invoice_id"`
	TenantID  int64  `json:"tenant_id"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

func NewPaymentFailedEvent(paymentID, invoiceID, tenantID int64, reference, reason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id": paymentID,
				"invoice_id": invoiceID,
				"tenant_id":  tenantID,
				"reference":  reference,
				"reason":     reason,
			},
		},
		PaymentID: paymentID,
		InvoiceID: invoiceID,
		TenantID:  tenantID,
		Reference: reference,
		Reason:    reason,
	}
}
