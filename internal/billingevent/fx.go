package billingevent

import (
	"github.com/smallbiznis/entitle/internal/billingevent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingevent.publisher",
	fx.Provide(service.NewPublisher),
	fx.Provide(service.NewReader),
)
