package scheduler

import (
	"github.com/smallbiznis/botledger/internal/scheduler/repository"
	"github.com/smallbiznis/botledger/internal/scheduler/service"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
