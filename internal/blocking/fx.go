package blocking

import (
	"github.com/smallbiznis/entitle/internal/blocking/repository"
	"github.com/smallbiznis/entitle/internal/blocking/service"
	"go.uber.org/fx"
)

var Module = fx.Module("blocking.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(service.NewChecker),
	fx.Provide(service.NewWriter),
)
