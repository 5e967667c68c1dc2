package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/payway/internal/clock"
	"github.com/smallbiznis/payway/internal/config"
	"github.com/smallbiznis/payway/internal/migration"
	"github.com/smallbiznis/payway/internal/observability"
	"github.com/smallbiznis/payway/internal/scheduler"
	"github.com/smallbiznis/payway/internal/server"
	"github.com/smallbiznis/payway/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		migration.Module,
		server.Module,
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
