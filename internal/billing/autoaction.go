package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/audit"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/invoice"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/tenant"
)

// runAutoActions executes the post-confirmation business actions inside the
// reconciliation transaction. Each action checks its guard flag and writes
// it back in the same transaction as the mutation, so the executor is safe
// to re-enter on a redelivered webhook: actioned branches are skipped,
// not-yet-actioned branches still fire.
func (s *Service) runAutoActions(tx Repository, inv *invoice.Invoice, pay *payment.Payment, meta RequestMeta, now time.Time) (upgraded, unsuspended bool, err error) {
	ten, err := tx.GetTenantByID(inv.TenantID)
	if err != nil {
		return false, false, fmt.Errorf("failed to load tenant for auto-actions: %w", err)
	}

	if inv.Type == invoice.TypeUpgrade && inv.TargetPlan != nil && !pay.UpgradeActioned {
		targetPlan := *inv.TargetPlan
		if !tenant.ValidPlan(targetPlan) {
			return false, false, fmt.Errorf("invoice %s targets unknown plan %q", inv.Number, targetPlan)
		}

		beforePlan := ten.Plan
		ten.Plan = targetPlan
		ten.MonthlyRevenue = tenant.PlanPrice(targetPlan)
		if err := tx.UpdateTenant(ten); err != nil {
			return false, false, fmt.Errorf("failed to upgrade tenant plan: %w", err)
		}

		before, _ := json.Marshal(map[string]interface{}{"plan": beforePlan})
		after, _ := json.Marshal(map[string]interface{}{
			"plan":            targetPlan,
			"monthly_revenue": ten.MonthlyRevenue.StringFixed(2),
		})
		if err := tx.AppendAudit(&audit.Entry{
			Actor:       audit.ActorSystem,
			TenantID:    ten.ID,
			Action:      audit.ActionAutoUpgrade,
			Entity:      "tenant",
			EntityID:    ten.ID,
			Before:      before,
			After:       after,
			Details:     fmt.Sprintf("plan upgraded from %s to %s on payment of invoice %s", beforePlan, targetPlan, inv.Number),
			SourceAddr:  meta.SourceAddr,
			SourceAgent: meta.SourceAgent,
			CreatedAt:   now,
		}); err != nil {
			return false, false, fmt.Errorf("failed to append upgrade audit entry: %w", err)
		}

		pay.UpgradeActioned = true
		if err := tx.UpdatePayment(pay); err != nil {
			return false, false, fmt.Errorf("failed to set upgrade actioned flag: %w", err)
		}

		s.logger.Info("auto-upgrade applied",
			"tenant_id", ten.ID,
			"from_plan", beforePlan,
			"to_plan", targetPlan,
			"invoice_id", inv.ID)
		upgraded = true
	}

	if ten.Status == tenant.StatusSuspended && !pay.UnsuspendActioned {
		suspendedSince := ten.SuspendedAt
		ten.Status = tenant.StatusActive
		ten.SuspendedAt = nil
		if err := tx.UpdateTenant(ten); err != nil {
			return upgraded, false, fmt.Errorf("failed to unsuspend tenant: %w", err)
		}

		before, _ := json.Marshal(map[string]interface{}{
			"status":       tenant.StatusSuspended,
			"suspended_at": suspendedSince,
		})
		after, _ := json.Marshal(map[string]interface{}{"status": tenant.StatusActive})
		if err := tx.AppendAudit(&audit.Entry{
			Actor:       audit.ActorSystem,
			TenantID:    ten.ID,
			Action:      audit.ActionAutoUnsuspend,
			Entity:      "tenant",
			EntityID:    ten.ID,
			Before:      before,
			After:       after,
			Details:     fmt.Sprintf("tenant unsuspended on payment of invoice %s", inv.Number),
			SourceAddr:  meta.SourceAddr,
			SourceAgent: meta.SourceAgent,
			CreatedAt:   now,
		}); err != nil {
			return upgraded, false, fmt.Errorf("failed to append unsuspend audit entry: %w", err)
		}

		pay.UnsuspendActioned = true
		if err := tx.UpdatePayment(pay); err != nil {
			return upgraded, false, fmt.Errorf("failed to set unsuspend actioned flag: %w", err)
		}

		s.logger.Info("auto-unsuspend applied",
			"tenant_id", ten.ID,
			"invoice_id", inv.ID)
		unsuspended = true
	}

	return upgraded, unsuspended, nil
}
