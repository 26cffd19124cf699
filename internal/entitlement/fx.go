package entitlement

import (
	"github.com/smallbiznis/entitle/internal/entitlement/plugin"
	"github.com/smallbiznis/entitle/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(plugin.NewRegistry),
	fx.Provide(service.New),
)
