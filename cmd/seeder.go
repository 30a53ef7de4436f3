package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/invoice"
	"github.com/frahmantamala/fleet-billing/internal/core/datamodel/tenant"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample tenants and invoices for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		gormDB, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init orm: %v", err)
		}

		if clearData {
			for _, table := range []string{"audit_logs", "payments", "invoices", "tenants"} {
				if err := gormDB.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		suspendedAt := time.Now().Add(-72 * time.Hour)
		tenants := []*tenant.Tenant{
			{
				Name:           "Acme Logistics",
				AdminEmail:     "billing@acme-logistics.test",
				Plan:           tenant.PlanBasic,
				Status:         tenant.StatusActive,
				MonthlyRevenue: tenant.PlanPrice(tenant.PlanBasic),
			},
			{
				Name:           "Harare Haulage",
				AdminEmail:     "accounts@harare-haulage.test",
				Plan:           tenant.PlanFree,
				Status:         tenant.StatusSuspended,
				MonthlyRevenue: decimal.Zero,
				SuspendedAt:    &suspendedAt,
			},
		}

		for _, t := range tenants {
			var exists int64
			gormDB.Model(&tenant.Tenant{}).Where("admin_email = ?", t.AdminEmail).Count(&exists)
			if exists > 0 {
				fmt.Println("tenant already exists:", t.AdminEmail)
				continue
			}
			if err := gormDB.Create(t).Error; err != nil {
				log.Fatalf("failed to seed tenant %s: %v", t.Name, err)
			}
			fmt.Println("Seeded tenant:", t.Name)
		}

		targetPlan := tenant.PlanPremium
		dueAhead := time.Now().Add(14 * 24 * time.Hour)
		duePast := time.Now().Add(-7 * 24 * time.Hour)
		invoices := []*invoice.Invoice{
			{
				TenantID:   tenants[0].ID,
				Number:     "INV-2026-0001",
				Type:       invoice.TypeUpgrade,
				Status:     invoice.StatusPending,
				Amount:     tenant.PlanPrice(tenant.PlanPremium),
				Currency:   "USD",
				DueAt:      &dueAhead,
				TargetPlan: &targetPlan,
			},
			{
				TenantID: tenants[1].ID,
				Number:   "INV-2026-0002",
				Type:     invoice.TypeRenewal,
				Status:   invoice.StatusOverdue,
				Amount:   tenant.PlanPrice(tenant.PlanBasic),
				Currency: "USD",
				DueAt:    &duePast,
			},
		}

		for _, inv := range invoices {
			if inv.TenantID == 0 {
				continue
			}
			var exists int64
			gormDB.Model(&invoice.Invoice{}).Where("number = ?", inv.Number).Count(&exists)
			if exists > 0 {
				fmt.Println("invoice already exists:", inv.Number)
				continue
			}
			if err := gormDB.Create(inv).Error; err != nil {
				log.Fatalf("failed to seed invoice %s: %v", inv.Number, err)
			}
			fmt.Println("Seeded invoice:", inv.Number)
		}
	},
}
