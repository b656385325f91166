package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	creditdomain "github.com/smallbiznis/botledger/internal/credit/domain"
	creditrepo "github.com/smallbiznis/botledger/internal/credit/repository"
	creditservice "github.com/smallbiznis/botledger/internal/credit/service"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
	planrepo "github.com/smallbiznis/botledger/internal/plan/repository"
	planservice "github.com/smallbiznis/botledger/internal/plan/service"
	"github.com/smallbiznis/botledger/internal/seed"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/botledger/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/botledger/internal/subscription/service"
	usagedomain "github.com/smallbiznis/botledger/internal/usage/domain"
	usagerepo "github.com/smallbiznis/botledger/internal/usage/repository"
	usageservice "github.com/smallbiznis/botledger/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestRunReportsDriftAndOverage(t *testing.T) {
	ctx := context.Background()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&plandomain.PlanFeature{},
		&plandomain.PlanLimit{},
		&subscriptiondomain.Subscription{},
		&creditdomain.CreditBalance{},
		&creditdomain.CreditTransaction{},
		&usagedomain.UsageRecord{},
	))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	require.NoError(t, seed.EnsurePlanCatalog(ctx, conn, node))

	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	plans := planservice.NewService(planservice.Params{DB: conn, Log: log, GenID: node, Clock: fake, Repo: planrepo.Provide()})
	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{DB: conn, Log: log, GenID: node, Clock: fake, Repo: subscriptionrepo.Provide()})
	credits := creditservice.NewService(creditservice.Params{
		DB:              conn,
		Log:             log,
		GenID:           node,
		Clock:           fake,
		Costs:           config.NewCreditCostHolderWithConfig(config.DefaultCreditCostConfig()),
		Repo:            creditrepo.Provide(),
		PlanSvc:         plans,
		SubscriptionSvc: subs,
	})
	usageRepo := usagerepo.Provide()
	usage := usageservice.NewService(usageservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, Repo: usageRepo, PlanSvc: plans, SubscriptionSvc: subs,
	})

	within, over := snowflake.ID(801), snowflake.ID(802)
	for _, orgID := range []snowflake.ID{within, over} {
		_, err := subs.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{OrgID: orgID, PlanType: plandomain.PlanTypeFree})
		require.NoError(t, err)
	}
	// FREE allows one agent; Track does not enforce it.
	require.NoError(t, usage.TrackAgentUsage(ctx, within, 1, usagedomain.UsageMetadata{}))
	require.NoError(t, usage.TrackAgentUsage(ctx, over, 1, usagedomain.UsageMetadata{}))
	require.NoError(t, usage.TrackAgentUsage(ctx, over, 1, usagedomain.UsageMetadata{}))

	_, err = credits.GrantCredits(ctx, creditdomain.CreditRequest{OrgID: within, Amount: 20})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(`UPDATE credit_balances SET balance = 25 WHERE org_id = ?`, within).Error)

	reconciler := New(Params{
		DB:              conn,
		Log:             log,
		CreditSvc:       credits,
		PlanSvc:         plans,
		SubscriptionSvc: subs,
		UsageRepo:       usageRepo,
	})
	report, err := reconciler.Run(ctx)
	require.NoError(t, err)

	require.Len(t, report.Drifts, 1)
	assert.Equal(t, within, report.Drifts[0].OrgID)
	assert.Equal(t, int64(20), report.Drifts[0].Derived)

	require.Len(t, report.Overages, 1)
	assert.Equal(t, Overage{OrgID: over, Feature: plandomain.FeatureAgents, Used: 2, Limit: 1}, report.Overages[0])
}
