package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/audit"
	"github.com/smallbiznis/botledger/internal/cache"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/credit"
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
	"go.uber.org/zap"
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

		// Accounting
		plan.Module,
		organization.Module,
		subscription.Module,
		usage.Module,
		credit.Module,
		cache.Module,
		gate.Module,
		ratelimit.Module,
		audit.Module,

		// Deferred tasks
		taskqueue.Module,
		redisqueue.Module,
		amqpqueue.Module,
		cronqueue.Module,
		scheduler.Module,
		providers.Module,
		reengagement.Module,

		server.Module,
		fx.Invoke(RunInMemoryConsumer),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// RunInMemoryConsumer fires cron-backed tasks here, since nothing else can see them.
func RunInMemoryConsumer(lc fx.Lifecycle, provider taskqueue.Provider, dispatcher *taskqueue.Dispatcher, log *zap.Logger) error {
	if provider.Name() != cronqueue.Name {
		return nil
	}
	return taskqueue.RunConsumer(lc, provider, dispatcher, log)
}
