package metering

import (
	"github.com/lumacallabs/lumacall/internal/metering/service"
	"go.uber.org/fx"
)

var Module = fx.Module("metering.service",
	fx.Provide(service.NewService),
	fx.Provide(service.NewRunner),
)
