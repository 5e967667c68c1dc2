package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/internal/clock"
	"github.com/smallbiznis/payway/internal/config"
	"github.com/smallbiznis/payway/internal/merchant"
	"github.com/smallbiznis/payway/internal/migration"
	"github.com/smallbiznis/payway/internal/observability"
	"github.com/smallbiznis/payway/internal/ratelimit"
	"github.com/smallbiznis/payway/internal/scheduler"
	"github.com/smallbiznis/payway/internal/transaction"
	"github.com/smallbiznis/payway/internal/webhook"
	"github.com/smallbiznis/payway/pkg/db"
	"go.uber.org/fx"
)

// Standalone sweep worker. Runs the webhook retry sweep and the
// transaction expiry job without serving the merchant API.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		migration.Module,
		merchant.Module,
		transaction.Module,
		webhook.Module,
		ratelimit.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
