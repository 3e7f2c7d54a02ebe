package gift

import (
	"github.com/lumacallabs/lumacall/internal/gift/service"
	"go.uber.org/fx"
)

var Module = fx.Module("gift.service",
	fx.Provide(service.NewService),
)
