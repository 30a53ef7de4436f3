package billing

import (
	"regexp"

	"github.com/spf13/cast"

	errors "github.com/frahmantamala/fleet-billing/internal"
	"github.com/frahmantamala/fleet-billing/internal/core/common/validation"
)

// Mobile-money methods the gateway accepts for express checkout.
var checkoutMethods = []string{"ecocash", "onemoney", "innbucks"}

var phonePattern = regexp.MustCompile(`^(\+?263|0)7[0-9]{8}$`)

// CheckoutRequest initiates a payment for an invoice. invoice_id tolerates
// both a JSON number and a numeric string, since the dashboard and the
// mobile client disagree on the encoding.
type CheckoutRequest struct {
	InvoiceID interface{} `json:"invoice_id"`
	Phone     string      `json:"phone"`
	Method    string      `json:"method"`
}

func (r *CheckoutRequest) InvoiceIDValue() (int64, error) {
	return cast.ToInt64E(r.InvoiceID)
}

func (r *CheckoutRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("phone", r.Phone).
		Required().
		Matches(phonePattern, "phone must be a valid mobile number", errors.ErrCodeInvalidPhone)
	validator.Field("method", r.Method).
		Required().
		OneOf(checkoutMethods, errors.ErrCodeInvalidMethod)

	if invoiceID, err := r.InvoiceIDValue(); err != nil || invoiceID <= 0 {
		return errors.NewValidationFieldError("invoice_id", "invoice_id must be a positive integer", errors.ErrCodeValidationFailed)
	}

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// CheckoutResponse is returned on successful initiation.
type CheckoutResponse struct {
	PaymentID    int64  `json:"payment_id"`
	InvoiceID    int64  `json:"invoice_id"`
	Status       string `json:"status"`
	Instructions string `json:"instructions,omitempty"`
}

// WebhookResponse is the small JSON body the gateway sees on every
// confirmation delivery.
type WebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
