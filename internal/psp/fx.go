package psp

import (
	"github.com/smallbiznis/payway/internal/psp/client"
	"github.com/smallbiznis/payway/internal/psp/repository"
	"github.com/smallbiznis/payway/internal/psp/service"
	"go.uber.org/fx"
)

var Module = fx.Module("psp.service",
	fx.Provide(repository.Provide),
	fx.Provide(client.New),
	fx.Provide(service.New),
)
