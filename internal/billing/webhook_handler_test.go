package billing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/fleet-billing/internal"
	"github.com/frahmantamala/fleet-billing/internal/billing"
	"github.com/frahmantamala/fleet-billing/internal/gateway"
	"github.com/frahmantamala/fleet-billing/internal/transport"
)

type mockConfirmer struct {
	outcome *billing.ConfirmOutcome
	err     error
	calls   int
	lastRef string
}

func (m *mockConfirmer) ConfirmPayment(ctx context.Context, n *gateway.Notification, meta billing.RequestMeta) (*billing.ConfirmOutcome, error) {
	m.calls++
	m.lastRef = n.Reference
	if m.err != nil {
		return nil, m.err
	}
	return m.outcome, nil
}

type mockVerifier struct {
	valid bool
	calls int
}

func (m *mockVerifier) VerifyNotification(fields []gateway.Field) bool {
	m.calls++
	return m.valid
}

type mockLimiter struct {
	admit bool
}

func (m *mockLimiter) Admit(sourceAddr string) bool {
	return m.admit
}

type mockReplayGuard struct {
	replay    bool
	committed []string
}

func (m *mockReplayGuard) IsReplay(reference string, observedAt time.Time) bool {
	return m.replay
}

func (m *mockReplayGuard) Commit(reference string, observedAt time.Time) {
	m.committed = append(m.committed, reference)
}

var _ = Describe("Webhook Handler", func() {
	var (
		confirmer *mockConfirmer
		verifier  *mockVerifier
		limiter   *mockLimiter
		replays   *mockReplayGuard
		handler   *billing.WebhookHandler
	)

	validBody := "reference=INV-1001&paynowreference=PN-555&amount=99.00&status=Paid&pollurl=https%3A%2F%2Fgateway.test%2Fpoll&hash=ABCDEF"

	doRequest := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/payments/confirm", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = "203.0.113.7:51234"
		rec := httptest.NewRecorder()
		handler.HandleConfirmation(rec, req)
		return rec
	}

	BeforeEach(func() {
		confirmer = &mockConfirmer{outcome: &billing.ConfirmOutcome{Confirmed: true}}
		verifier = &mockVerifier{valid: true}
		limiter = &mockLimiter{admit: true}
		replays = &mockReplayGuard{}
		handler = billing.NewWebhookHandler(transport.NewBaseHandler(testLogger()), confirmer, verifier, limiter, replays, testLogger())
	})

	Context("with a valid paid notification", func() {
		It("responds 200 success and commits the replay guard", func() {
			rec := doRequest(validBody)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"success":true`))
			Expect(confirmer.lastRef).To(Equal("INV-1001"))
			Expect(replays.committed).To(ConsistOf("INV-1001"))
		})

		It("reports already settled deliveries as success", func() {
			confirmer.outcome = &billing.ConfirmOutcome{AlreadySettled: true}

			rec := doRequest(validBody)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"success":true`))
		})

		It("reports a soft failure with success false", func() {
			confirmer.outcome = &billing.ConfirmOutcome{Confirmed: false, Message: "payment not completed"}

			rec := doRequest(validBody)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"success":false`))
			Expect(rec.Body.String()).To(ContainSubstring("payment not completed"))
		})
	})

	Context("when the rate limit is exceeded", func() {
		It("responds 429 before reading the body", func() {
			limiter.admit = false

			rec := doRequest(validBody)

			Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
			Expect(verifier.calls).To(BeZero())
			Expect(confirmer.calls).To(BeZero())
		})
	})

	Context("when the signature is invalid", func() {
		It("responds 403 and never reaches the service", func() {
			verifier.valid = false

			rec := doRequest(validBody)

			Expect(rec.Code).To(Equal(http.StatusForbidden))
			Expect(confirmer.calls).To(BeZero())
			Expect(replays.committed).To(BeEmpty())
		})
	})

	Context("when the body is malformed", func() {
		It("responds 400 on an empty body", func() {
			rec := doRequest("")

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(confirmer.calls).To(BeZero())
		})

		It("responds 400 when required fields are missing", func() {
			rec := doRequest("paynowreference=PN-555&hash=ABCDEF")

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(confirmer.calls).To(BeZero())
		})
	})

	Context("when the notification is a replay", func() {
		It("responds 409 without invoking reconciliation", func() {
			replays.replay = true

			rec := doRequest(validBody)

			Expect(rec.Code).To(Equal(http.StatusConflict))
			Expect(confirmer.calls).To(BeZero())
			Expect(replays.committed).To(BeEmpty())
		})
	})

	Context("when reconciliation fails", func() {
		It("maps a not found error to 404 and skips the replay commit", func() {
			confirmer.err = internal.ErrInvoiceNotFound

			rec := doRequest(validBody)

			Expect(rec.Code).To(Equal(http.StatusNotFound))
			Expect(replays.committed).To(BeEmpty())
		})

		It("maps an amount mismatch to 400", func() {
			confirmer.err = internal.NewAmountMismatchError("100.00", "100.01")

			rec := doRequest(validBody)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(replays.committed).To(BeEmpty())
		})
	})

	Context("source address resolution", func() {
		It("prefers the first X-Forwarded-For hop", func() {
			limiter.admit = false

			req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/payments/confirm", strings.NewReader(validBody))
			req.Header.Set("X-Forwarded-For", "198.51.100.9, 203.0.113.7")
			rec := httptest.NewRecorder()
			handler.HandleConfirmation(rec, req)

			Expect(rec.Code).To(Equal(http.StatusTooManyRequests))
		})
	})
})
