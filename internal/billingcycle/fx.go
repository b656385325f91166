package billingcycle

import (
	"context"

	billingcycledomain "github.com/smallbiznis/botledger/internal/billingcycle/domain"
	"github.com/smallbiznis/botledger/internal/billingcycle/service"
	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/cronjob"
	"go.uber.org/fx"
)

const JobName = "billing_cycle_rollover"

var Module = fx.Module("billingcycle.service",
	fx.Provide(service.NewService),
)

// JobModule schedules rollover on the cron runner. Only worker binaries include it.
var JobModule = fx.Module("billingcycle.job",
	fx.Invoke(Register),
)

func Register(runner *cronjob.Runner, svc billingcycledomain.Service, cfg config.Config) error {
	return runner.Add(cronjob.Job{
		Name: JobName,
		Spec: cfg.Credit.RolloverSchedule,
		Run: func(ctx context.Context) error {
			_, err := svc.RolloverDue(ctx)
			return err
		},
	})
}
