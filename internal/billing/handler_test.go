package billing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/fleet-billing/internal"
	"github.com/frahmantamala/fleet-billing/internal/billing"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/fleet-billing/internal/transport"
)

type mockBillingService struct {
	statusView  *billing.PaymentStatusView
	statusErr   error
	checkout    *billing.CheckoutResult
	checkoutErr error

	lastInvoiceID int64
	lastPhone     string
	lastMethod    string
}

func (m *mockBillingService) GetPaymentStatus(reference string) (*billing.PaymentStatusView, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return m.statusView, nil
}

func (m *mockBillingService) InitiateCheckout(ctx context.Context, invoiceID int64, phone, method string) (*billing.CheckoutResult, error) {
	m.lastInvoiceID = invoiceID
	m.lastPhone = phone
	m.lastMethod = method
	if m.checkoutErr != nil {
		return nil, m.checkoutErr
	}
	return m.checkout, nil
}

var _ = Describe("Billing Handler", func() {
	var (
		service *mockBillingService
		handler *billing.Handler
	)

	BeforeEach(func() {
		service = &mockBillingService{}
		handler = billing.NewHandler(transport.NewBaseHandler(testLogger()), service, testLogger())
	})

	Describe("GetPaymentStatus", func() {
		It("returns the status view for a known reference", func() {
			service.statusView = &billing.PaymentStatusView{
				InvoiceStatus: "PAID",
				PaymentStatus: "PAID",
				Verified:      true,
				Amount:        "99.00",
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/payments/status?reference=INV-1001", nil)
			rec := httptest.NewRecorder()
			handler.GetPaymentStatus(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"invoice_status":"PAID"`))
			Expect(rec.Body.String()).To(ContainSubstring(`"verified":true`))
		})

		It("requires the reference parameter", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/payments/status", nil)
			rec := httptest.NewRecorder()
			handler.GetPaymentStatus(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("maps a not found error to 404", func() {
			service.statusErr = internal.ErrInvoiceNotFound

			req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/payments/status?reference=INV-GHOST", nil)
			rec := httptest.NewRecorder()
			handler.GetPaymentStatus(rec, req)

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("InitiateCheckout", func() {
		It("creates a checkout from a valid request", func() {
			service.checkout = &billing.CheckoutResult{
				Payment:      &payment.Payment{ID: 7, InvoiceID: 3, Status: payment.StatusPending},
				Instructions: "Enter your PIN to approve the payment.",
			}

			body := `{"invoice_id": 3, "phone": "0771234567", "method": "ecocash"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/payments/checkout", strings.NewReader(body))
			rec := httptest.NewRecorder()
			handler.InitiateCheckout(rec, req)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(service.lastInvoiceID).To(Equal(int64(3)))
			Expect(service.lastMethod).To(Equal("ecocash"))
			Expect(rec.Body.String()).To(ContainSubstring(`"payment_id":7`))
		})

		It("accepts invoice_id as a numeric string", func() {
			service.checkout = &billing.CheckoutResult{
				Payment: &payment.Payment{ID: 8, InvoiceID: 4, Status: payment.StatusPending},
			}

			body := `{"invoice_id": "4", "phone": "+263771234567", "method": "onemoney"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/payments/checkout", strings.NewReader(body))
			rec := httptest.NewRecorder()
			handler.InitiateCheckout(rec, req)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(service.lastInvoiceID).To(Equal(int64(4)))
		})

		It("rejects an invalid phone number", func() {
			body := `{"invoice_id": 3, "phone": "12345", "method": "ecocash"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/payments/checkout", strings.NewReader(body))
			rec := httptest.NewRecorder()
			handler.InitiateCheckout(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects an unsupported payment method", func() {
			body := `{"invoice_id": 3, "phone": "0771234567", "method": "cheque"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/payments/checkout", strings.NewReader(body))
			rec := httptest.NewRecorder()
			handler.InitiateCheckout(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a non-numeric invoice id", func() {
			body := `{"invoice_id": "abc", "phone": "0771234567", "method": "ecocash"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/payments/checkout", strings.NewReader(body))
			rec := httptest.NewRecorder()
			handler.InitiateCheckout(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("maps an in-flight payment conflict to 409", func() {
			service.checkoutErr = internal.ErrPaymentInFlight

			body := `{"invoice_id": 3, "phone": "0771234567", "method": "ecocash"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/payments/checkout", strings.NewReader(body))
			rec := httptest.NewRecorder()
			handler.InitiateCheckout(rec, req)

			Expect(rec.Code).To(Equal(http.StatusConflict))
		})
	})
})
