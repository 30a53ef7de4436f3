package guard

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestGuards(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Guard Suite")
}

var _ = Describe("WindowRateLimiter", func() {
	var (
		limiter *WindowRateLimiter
		clock   time.Time
	)

	BeforeEach(func() {
		clock = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
		limiter = NewWindowRateLimiter(100, time.Minute)
		limiter.now = func() time.Time { return clock }
	})

	It("admits requests up to the limit", func() {
		for i := 0; i < 100; i++ {
			Expect(limiter.Admit("203.0.113.7")).To(BeTrue())
		}
	})

	It("denies the request after the limit within one window", func() {
		for i := 0; i < 100; i++ {
			limiter.Admit("203.0.113.7")
		}
		Expect(limiter.Admit("203.0.113.7")).To(BeFalse())
	})

	It("tracks source addresses independently", func() {
		for i := 0; i < 101; i++ {
			limiter.Admit("203.0.113.7")
		}
		Expect(limiter.Admit("198.51.100.9")).To(BeTrue())
	})

	It("resets the count when the window expires", func() {
		for i := 0; i < 101; i++ {
			limiter.Admit("203.0.113.7")
		}
		Expect(limiter.Admit("203.0.113.7")).To(BeFalse())

		clock = clock.Add(61 * time.Second)
		Expect(limiter.Admit("203.0.113.7")).To(BeTrue())
	})

	It("falls back to sane defaults for non-positive settings", func() {
		l := NewWindowRateLimiter(0, 0)
		Expect(l.limit).To(Equal(100))
		Expect(l.size).To(Equal(60 * time.Second))
	})
})

var _ = Describe("MemoryReplayGuard", func() {
	var (
		g     *MemoryReplayGuard
		clock time.Time
	)

	BeforeEach(func() {
		clock = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
		g = NewMemoryReplayGuard(time.Hour)
		g.now = func() time.Time { return clock }
	})

	It("does not flag a first delivery", func() {
		Expect(g.IsReplay("INV-1001", clock)).To(BeFalse())
	})

	It("flags a committed reference delivered again within retention", func() {
		g.Commit("INV-1001", clock)

		Expect(g.IsReplay("INV-1001", clock.Add(10*time.Minute))).To(BeTrue())
	})

	It("tracks references independently", func() {
		g.Commit("INV-1001", clock)

		Expect(g.IsReplay("INV-2002", clock.Add(time.Minute))).To(BeFalse())
	})

	It("allows the reference again once the retention window has passed", func() {
		g.Commit("INV-1001", clock)

		clock = clock.Add(2 * time.Hour)
		Expect(g.IsReplay("INV-1001", clock)).To(BeFalse())
	})

	It("evicts expired entries lazily", func() {
		g.Commit("INV-1001", clock)
		clock = clock.Add(2 * time.Hour)

		g.IsReplay("INV-OTHER", clock)
		Expect(g.committed).NotTo(HaveKey("INV-1001"))
	})

	It("keeps the newest commit time for a reference", func() {
		later := clock.Add(5 * time.Minute)
		g.Commit("INV-1001", later)
		g.Commit("INV-1001", clock)

		Expect(g.committed["INV-1001"]).To(Equal(later))
	})
})
