package operation

import (
	"github.com/smallbiznis/payway/internal/operation/repository"
	"github.com/smallbiznis/payway/internal/operation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("operation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
