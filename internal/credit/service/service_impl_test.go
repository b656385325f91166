package service

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	creditdomain "github.com/smallbiznis/botledger/internal/credit/domain"
	"github.com/smallbiznis/botledger/internal/credit/repository"
	"github.com/smallbiznis/botledger/internal/observability/metrics"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
	planrepo "github.com/smallbiznis/botledger/internal/plan/repository"
	planservice "github.com/smallbiznis/botledger/internal/plan/service"
	"github.com/smallbiznis/botledger/internal/seed"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/botledger/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/botledger/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	db      *gorm.DB
	credits creditdomain.Service
	plans   plandomain.Service
	subs    subscriptiondomain.Service
	clock   *clock.FakeClock
}

func newFixture(t *testing.T, seedCatalog bool) fixture {
	t.Helper()
	return newFixtureWithDSN(t, "file:"+t.Name()+"?mode=memory&cache=shared", seedCatalog)
}

func newFixtureWithDSN(t *testing.T, dsn string, seedCatalog bool) fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&plandomain.PlanFeature{},
		&plandomain.PlanLimit{},
		&subscriptiondomain.Subscription{},
		&creditdomain.CreditBalance{},
		&creditdomain.CreditTransaction{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	if seedCatalog {
		require.NoError(t, seed.EnsurePlanCatalog(context.Background(), conn, node))
	}

	fake := clock.NewFakeClock(periodStart.Add(12 * time.Hour))
	log := zap.NewNop()
	plans := planservice.NewService(planservice.Params{DB: conn, Log: log, GenID: node, Clock: fake, Repo: planrepo.Provide()})
	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: conn, Log: log, GenID: node, Clock: fake, Repo: subscriptionrepo.Provide(),
	})
	costs := config.NewCreditCostHolderWithConfig(config.CreditCostConfig{
		DefaultCost: 1,
		Models:      []config.ModelCreditCost{{ID: "gpt-4o", Cost: 2}},
	})

	credits := NewService(Params{
		DB:              conn,
		Log:             log,
		GenID:           node,
		Clock:           fake,
		Cfg:             config.Config{Credit: config.CreditConfig{DebitMaxRetries: 25}},
		Costs:           costs,
		Repo:            repository.Provide(),
		PlanSvc:         plans,
		SubscriptionSvc: subs,
		Metrics:         metrics.NewNop(),
	})
	return fixture{db: conn, credits: credits, plans: plans, subs: subs, clock: fake}
}

// subscribe creates a STARTER subscription whose message credit allocation is allocation.
func (f fixture) subscribe(t *testing.T, orgID snowflake.ID, allocation int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.plans.UpsertLimit(ctx, plandomain.UpsertLimitRequest{
		PlanType:    plandomain.PlanTypeStarter,
		FeatureName: plandomain.FeatureMessageCredits,
		Value:       allocation,
	})
	require.NoError(t, err)
	start := periodStart
	_, err = f.subs.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		OrgID:       orgID,
		PlanType:    plandomain.PlanTypeStarter,
		PeriodStart: &start,
	})
	require.NoError(t, err)
	_, err = f.credits.RenewPlanAllocation(ctx, creditdomain.RenewRequest{OrgID: orgID})
	require.NoError(t, err)
}

func (f fixture) assertLedgerConsistent(t *testing.T, orgID snowflake.ID) {
	t.Helper()
	var stored, derived int64
	require.NoError(t, f.db.Raw(`SELECT balance FROM credit_balances WHERE org_id = ?`, orgID).Scan(&stored).Error)
	require.NoError(t, f.db.Raw(`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE org_id = ?`, orgID).Scan(&derived).Error)
	assert.Equal(t, derived, stored)
}

func TestFeatureCreditCost(t *testing.T) {
	f := newFixture(t, true)
	assert.Equal(t, int64(2), f.credits.FeatureCreditCost("gpt-4o"))
	assert.Equal(t, int64(1), f.credits.FeatureCreditCost("unknown-model"))
	assert.Equal(t, int64(1), f.credits.FeatureCreditCost(""))
}

func TestProcessFeatureCreditUsage_PlanCreditsFirst(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	orgID := snowflake.ID(501)

	// allocation is twice the per-call cost
	f.subscribe(t, orgID, 4)
	_, err := f.credits.PurchaseCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: 5, ExternalRef: "order_1"})
	require.NoError(t, err)

	expected := []struct{ plan, purchased, balance int64 }{
		{2, 0, 7},
		{2, 0, 5},
		{0, 2, 3},
	}
	for i, want := range expected {
		f.clock.Advance(time.Minute)
		assert.True(t, f.credits.HasEnoughCredits(ctx, orgID, "gpt-4o"))

		result, err := f.credits.ProcessFeatureCreditUsage(ctx, orgID, "gpt-4o", creditdomain.UsageMetadata{Reason: "chat"})
		require.NoError(t, err, "call %d", i+1)
		assert.Equal(t, int64(2), result.Cost)
		assert.Equal(t, result.Cost, result.FromPlan+result.FromPurchased)
		assert.Equal(t, want.plan, result.FromPlan, "call %d", i+1)
		assert.Equal(t, want.purchased, result.FromPurchased, "call %d", i+1)
		assert.Equal(t, want.balance, result.Balance, "call %d", i+1)
		f.assertLedgerConsistent(t, orgID)
	}

	summary, err := f.credits.GetCreditSummary(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Balance)
	assert.Equal(t, int64(4), summary.PlanUsed)
	assert.Equal(t, int64(0), summary.PlanRemaining)
	assert.Equal(t, int64(3), summary.PurchasedRemaining)
}

func TestProcessFeatureCreditUsage_SplitAcrossBuckets(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	orgID := snowflake.ID(502)

	f.subscribe(t, orgID, 3)
	_, err := f.credits.PurchaseCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: 10})
	require.NoError(t, err)

	_, err = f.credits.ProcessFeatureCreditUsage(ctx, orgID, "gpt-4o", creditdomain.UsageMetadata{})
	require.NoError(t, err)

	result, err := f.credits.ProcessFeatureCreditUsage(ctx, orgID, "gpt-4o", creditdomain.UsageMetadata{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.FromPlan)
	assert.Equal(t, int64(1), result.FromPurchased)

	var usage []creditdomain.CreditTransaction
	require.NoError(t, f.db.Where("org_id = ? AND type = ?", orgID, creditdomain.TransactionTypeUsage).Order("id ASC").Find(&usage).Error)
	require.Len(t, usage, 3)
	assert.Equal(t, int64(-2), usage[0].Amount)
	assert.True(t, usage[0].Metadata.Data().FromPlanAllocation)
	assert.Equal(t, int64(-1), usage[1].Amount)
	assert.True(t, usage[1].Metadata.Data().FromPlanAllocation)
	assert.Equal(t, int64(-1), usage[2].Amount)
	assert.False(t, usage[2].Metadata.Data().FromPlanAllocation)
	assert.Equal(t, "gpt-4o", usage[2].Metadata.Data().ModelID)
	f.assertLedgerConsistent(t, orgID)
}

func TestProcessFeatureCreditUsage_Insufficient(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	orgID := snowflake.ID(503)

	// no balance row yet
	_, err := f.credits.ProcessFeatureCreditUsage(ctx, orgID, "gpt-4o", creditdomain.UsageMetadata{})
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)
	assert.False(t, f.credits.HasEnoughCredits(ctx, orgID, "gpt-4o"))

	_, err = f.credits.GrantCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: 1, Reason: "promo"})
	require.NoError(t, err)

	_, err = f.credits.ProcessFeatureCreditUsage(ctx, orgID, "gpt-4o", creditdomain.UsageMetadata{})
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)

	var count int64
	require.NoError(t, f.db.Model(&creditdomain.CreditTransaction{}).Where("org_id = ?", orgID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	f.assertLedgerConsistent(t, orgID)
}

func TestProcessFeatureCreditUsage_WithoutSubscriptionUsesPurchased(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	orgID := snowflake.ID(504)

	_, err := f.credits.PurchaseCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: 3})
	require.NoError(t, err)

	result, err := f.credits.ProcessFeatureCreditUsage(ctx, orgID, "default", creditdomain.UsageMetadata{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.FromPlan)
	assert.Equal(t, int64(1), result.FromPurchased)
}

func TestProcessFeatureCreditUsage_MissingFeature(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	orgID := snowflake.ID(505)

	_, err := f.credits.ProcessFeatureCreditUsage(ctx, orgID, "gpt-4o", creditdomain.UsageMetadata{})
	assert.ErrorIs(t, err, creditdomain.ErrFeatureNotFound)
	assert.False(t, f.credits.HasEnoughCredits(ctx, orgID, "gpt-4o"))
}

func TestPostingValidation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	orgID := snowflake.ID(506)

	_, err := f.credits.GrantCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: 0})
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)
	_, err = f.credits.PurchaseCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: -4})
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)
	_, err = f.credits.GrantCredits(ctx, creditdomain.CreditRequest{Amount: 4})
	assert.ErrorIs(t, err, creditdomain.ErrInvalidOrganization)

	_, err = f.credits.AdjustCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: -1})
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)

	_, err = f.credits.GrantCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: 4})
	require.NoError(t, err)
	_, err = f.credits.AdjustCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: -5})
	assert.ErrorIs(t, err, creditdomain.ErrInsufficientCredits)

	entry, err := f.credits.AdjustCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: -3, Reason: "refund"})
	require.NoError(t, err)
	assert.Equal(t, creditdomain.TransactionTypeAdjustment, entry.Type)
	assert.Equal(t, "refund", entry.Metadata.Data().Reason)
	f.assertLedgerConsistent(t, orgID)
}

func TestRenewPlanAllocation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	orgID := snowflake.ID(507)

	f.subscribe(t, orgID, 4)
	_, err := f.credits.PurchaseCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: 1})
	require.NoError(t, err)
	_, err = f.credits.ProcessFeatureCreditUsage(ctx, orgID, "gpt-4o", creditdomain.UsageMetadata{})
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 4, 1, 1, 0, 0, 0, time.UTC))
	rollover, err := f.subs.RolloverPeriod(ctx, orgID)
	require.NoError(t, err)

	req := creditdomain.RenewRequest{
		OrgID:         orgID,
		PreviousStart: rollover.PreviousStart,
		PreviousEnd:   rollover.PreviousEnd,
	}
	result, err := f.credits.RenewPlanAllocation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Expired)
	assert.Equal(t, int64(4), result.Granted)
	// the purchased credit survives the rollover
	assert.Equal(t, int64(5), result.Balance)

	again, err := f.credits.RenewPlanAllocation(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.Expired)
	assert.Equal(t, int64(0), again.Granted)
	assert.Equal(t, int64(5), again.Balance)
	f.assertLedgerConsistent(t, orgID)

	summary, err := f.credits.GetCreditSummary(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.PlanUsed)
	assert.Equal(t, int64(4), summary.PlanRemaining)
	assert.Equal(t, int64(1), summary.PurchasedRemaining)
}

func TestProcessFeatureCreditUsage_AfterPeriodEndBeforeRollover(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	orgID := snowflake.ID(510)

	f.subscribe(t, orgID, 4)
	_, err := f.credits.PurchaseCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: 10})
	require.NoError(t, err)

	// the period has ended but the rollover has not run yet
	f.clock.Set(time.Date(2026, 4, 1, 0, 1, 0, 0, time.UTC))
	expected := []struct{ plan, purchased int64 }{
		{2, 0},
		{2, 0},
		{0, 2},
	}
	for i, want := range expected {
		result, err := f.credits.ProcessFeatureCreditUsage(ctx, orgID, "gpt-4o", creditdomain.UsageMetadata{})
		require.NoError(t, err, "call %d", i+1)
		assert.Equal(t, want.plan, result.FromPlan, "call %d", i+1)
		assert.Equal(t, want.purchased, result.FromPurchased, "call %d", i+1)
	}

	var planTagged int64
	resp, err := f.credits.ListTransactions(ctx, creditdomain.ListTransactionsRequest{OrgID: orgID, PageSize: 50})
	require.NoError(t, err)
	for _, tx := range resp.Transactions {
		if tx.Type == creditdomain.TransactionTypeUsage && tx.Metadata.Data().FromPlanAllocation {
			planTagged += -tx.Amount
		}
	}
	assert.Equal(t, int64(4), planTagged)

	summary, err := f.credits.GetCreditSummary(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.PlanUsed)
	assert.Equal(t, int64(0), summary.PlanRemaining)
	assert.Equal(t, int64(8), summary.PurchasedRemaining)

	rollover, err := f.subs.RolloverPeriod(ctx, orgID)
	require.NoError(t, err)
	result, err := f.credits.RenewPlanAllocation(ctx, creditdomain.RenewRequest{
		OrgID:         orgID,
		PreviousStart: rollover.PreviousStart,
		PreviousEnd:   rollover.PreviousEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Expired)
	assert.Equal(t, int64(4), result.Granted)
	assert.Equal(t, int64(12), result.Balance)
	f.assertLedgerConsistent(t, orgID)

	// late usage of the old grant does not eat into the new one
	summary, err = f.credits.GetCreditSummary(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.PlanUsed)
	assert.Equal(t, int64(4), summary.PlanRemaining)
	assert.Equal(t, int64(8), summary.PurchasedRemaining)
}

func TestProcessFeatureCreditUsage_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "credits.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	f := newFixtureWithDSN(t, dsn, true)
	ctx := context.Background()
	orgID := snowflake.ID(511)

	_, err := f.credits.PurchaseCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: 5})
	require.NoError(t, err)

	const callers = 20
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.credits.ProcessFeatureCreditUsage(ctx, orgID, "default-model", creditdomain.UsageMetadata{}); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Positive(t, succeeded.Load())
	assert.LessOrEqual(t, succeeded.Load(), int64(5))

	var stored int64
	require.NoError(t, f.db.Raw(`SELECT balance FROM credit_balances WHERE org_id = ?`, orgID).Scan(&stored).Error)
	assert.GreaterOrEqual(t, stored, int64(0))
	assert.Equal(t, 5-succeeded.Load(), stored)
	f.assertLedgerConsistent(t, orgID)
}

func TestListTransactionsPaging(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	orgID := snowflake.ID(508)

	for i := range 5 {
		_, err := f.credits.GrantCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: int64(i + 1)})
		require.NoError(t, err)
	}

	first, err := f.credits.ListTransactions(ctx, creditdomain.ListTransactionsRequest{OrgID: orgID, PageSize: 3})
	require.NoError(t, err)
	require.Len(t, first.Transactions, 3)
	assert.True(t, first.PageInfo.HasMore)
	assert.Equal(t, int64(5), first.Transactions[0].Amount)

	second, err := f.credits.ListTransactions(ctx, creditdomain.ListTransactionsRequest{
		OrgID:     orgID,
		PageSize:  3,
		PageToken: first.PageInfo.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, second.Transactions, 2)
	assert.False(t, second.PageInfo.HasMore)
	assert.Equal(t, int64(1), second.Transactions[1].Amount)

	empty, err := f.credits.ListTransactions(ctx, creditdomain.ListTransactionsRequest{OrgID: snowflake.ID(999)})
	require.NoError(t, err)
	assert.Empty(t, empty.Transactions)
}

func TestReconcileReportsDrift(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	orgID := snowflake.ID(509)

	_, err := f.credits.GrantCredits(ctx, creditdomain.CreditRequest{OrgID: orgID, Amount: 10})
	require.NoError(t, err)

	drifts, err := f.credits.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	require.NoError(t, f.db.Exec(`UPDATE credit_balances SET balance = 7 WHERE org_id = ?`, orgID).Error)
	drifts, err = f.credits.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, int64(7), drifts[0].Stored)
	assert.Equal(t, int64(10), drifts[0].Derived)
}
