package billing_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/fleet-billing/internal"
	"github.com/frahmantamala/fleet-billing/internal/billing"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/payment"
)

type mockSweeperService struct {
	mu         sync.Mutex
	stale      []*payment.Payment
	reconciled []int64
}

func (m *mockSweeperService) StalePendingPayments(olderThan time.Time, limit int) ([]*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stale := m.stale
	m.stale = nil
	return stale, nil
}

func (m *mockSweeperService) ReconcileStalePayment(ctx context.Context, pay *payment.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciled = append(m.reconciled, pay.ID)
	return nil
}

func (m *mockSweeperService) reconciledIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.reconciled...)
}

var _ = Describe("Sweeper", func() {
	It("drains stale payments through the worker pool", func() {
		service := &mockSweeperService{
			stale: []*payment.Payment{{ID: 1}, {ID: 2}, {ID: 3}},
		}
		sweeper := billing.NewSweeper(service, internal.SweeperConfig{
			Interval:   10 * time.Millisecond,
			StaleAfter: time.Minute,
			BatchSize:  10,
			Workers:    2,
		}, testLogger())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			sweeper.Run(ctx)
			close(done)
		}()

		Eventually(service.reconciledIDs, time.Second).Should(ConsistOf(int64(1), int64(2), int64(3)))

		cancel()
		Eventually(done, time.Second).Should(BeClosed())
	})

	It("stops cleanly when nothing is stale", func() {
		service := &mockSweeperService{}
		sweeper := billing.NewSweeper(service, internal.SweeperConfig{
			Interval:   10 * time.Millisecond,
			StaleAfter: time.Minute,
			BatchSize:  10,
			Workers:    2,
		}, testLogger())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			sweeper.Run(ctx)
			close(done)
		}()

		time.Sleep(30 * time.Millisecond)
		cancel()

		Eventually(done, time.Second).Should(BeClosed())
		Expect(service.reconciledIDs()).To(BeEmpty())
	})
})
