package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/billingcycle"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/credit"
	"github.com/smallbiznis/botledger/internal/cronjob"
	"github.com/smallbiznis/botledger/internal/lock"
	"github.com/smallbiznis/botledger/internal/migration"
	"github.com/smallbiznis/botledger/internal/observability"
	"github.com/smallbiznis/botledger/internal/plan"
	"github.com/smallbiznis/botledger/internal/providers"
	"github.com/smallbiznis/botledger/internal/reengagement"
	"github.com/smallbiznis/botledger/internal/scheduler"
	"github.com/smallbiznis/botledger/internal/subscription"
	"github.com/smallbiznis/botledger/internal/taskqueue"
	"github.com/smallbiznis/botledger/internal/taskqueue/amqpqueue"
	"github.com/smallbiznis/botledger/internal/taskqueue/redisqueue"
	"github.com/smallbiznis/botledger/internal/usage"
	"github.com/smallbiznis/botledger/pkg/db"
	"github.com/smallbiznis/botledger/pkg/kvstore"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		kvstore.Module,
		lock.Module,
		migration.Module,

		plan.Module,
		subscription.Module,
		usage.Module,
		credit.Module,

		// Background jobs
		cronjob.Module,
		credit.ReconcileModule,
		billingcycle.Module,
		billingcycle.JobModule,

		// Task consumption. The cron provider is in-memory, so it is not offered here.
		taskqueue.Module,
		redisqueue.Module,
		amqpqueue.Module,
		scheduler.Module,
		providers.Module,
		reengagement.Module,
		taskqueue.WorkerModule,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
