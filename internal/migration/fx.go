package migration

import (
	"github.com/smallbiznis/payway/internal/config"
	merchantdomain "github.com/smallbiznis/payway/internal/merchant/domain"
	operationdomain "github.com/smallbiznis/payway/internal/operation/domain"
	pspdomain "github.com/smallbiznis/payway/internal/psp/domain"
	"github.com/smallbiznis/payway/internal/seed"
	transactiondomain "github.com/smallbiznis/payway/internal/transaction/domain"
	webhookdomain "github.com/smallbiznis/payway/internal/webhook/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Non-postgres deployments (sqlite, mysql) rely on schema sync.
			if err := conn.AutoMigrate(
				&merchantdomain.Merchant{},
				&transactiondomain.Transaction{},
				&operationdomain.Operation{},
				&webhookdomain.WebhookEvent{},
				&pspdomain.ProcessorCallback{},
			); err != nil {
				return err
			}
		}

		if cfg.Bootstrap.EnsureDefaultMerchant && !cfg.IsProduction() {
			return seed.EnsureDefaultMerchant(conn)
		}
		return nil
	}),
)
