package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/audit"
	"github.com/smallbiznis/botledger/internal/billingcycle"
	"github.com/smallbiznis/botledger/internal/cache"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/credit"
	"github.com/smallbiznis/botledger/internal/cronjob"
	"github.com/smallbiznis/botledger/internal/gate"
	"github.com/smallbiznis/botledger/internal/lock"
	"github.com/smallbiznis/botledger/internal/migration"
	"github.com/smallbiznis/botledger/internal/observability"
	"github.com/smallbiznis/botledger/internal/organization"
	"github.com/smallbiznis/botledger/internal/plan"
	"github.com/smallbiznis/botledger/internal/providers"
	"github.com/smallbiznis/botledger/internal/ratelimit"
	"github.com/smallbiznis/botledger/internal/reengagement"
	"github.com/smallbiznis/botledger/internal/scheduler"
	"github.com/smallbiznis/botledger/internal/server"
	"github.com/smallbiznis/botledger/internal/subscription"
	"github.com/smallbiznis/botledger/internal/taskqueue"
	"github.com/smallbiznis/botledger/internal/taskqueue/amqpqueue"
	"github.com/smallbiznis/botledger/internal/taskqueue/cronqueue"
	"github.com/smallbiznis/botledger/internal/taskqueue/redisqueue"
	"github.com/smallbiznis/botledger/internal/usage"
	"github.com/smallbiznis/botledger/pkg/db"
	"github.com/smallbiznis/botledger/pkg/kvstore"
	"go.uber.org/fx"
)

// botledger runs the API, the background jobs and the task consumer in one process.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		kvstore.Module,
		lock.Module,
		migration.Module,
		cronjob.Module,

		// Functional Domains
		plan.Module,
		organization.Module,
		subscription.Module,
		usage.Module,
		credit.Module,
		credit.ReconcileModule,
		billingcycle.Module,
		billingcycle.JobModule,
		cache.Module,
		gate.Module,
		ratelimit.Module,
		audit.Module,

		taskqueue.Module,
		redisqueue.Module,
		amqpqueue.Module,
		cronqueue.Module,
		scheduler.Module,
		providers.Module,
		reengagement.Module,
		taskqueue.WorkerModule,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
