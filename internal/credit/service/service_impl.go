package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	creditdomain "github.com/smallbiznis/botledger/internal/credit/domain"
	"github.com/smallbiznis/botledger/internal/observability/metrics"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/botledger/internal/subscription/domain"
	"github.com/smallbiznis/botledger/pkg/db"
	"github.com/smallbiznis/botledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultMaxRetries = 3
	reconcileBatch    = 200

	bucketPlan      = "plan"
	bucketPurchased = "purchased"
)

// errVersionConflict signals a lost optimistic update; the attempt is retried.
var errVersionConflict = errors.New("credit_balance_version_conflict")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Cfg             config.Config
	Costs           *config.CreditCostHolder
	Repo            creditdomain.Repository
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Metrics         *metrics.Metrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	costs           *config.CreditCostHolder
	repo            creditdomain.Repository
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	metrics         *metrics.Metrics
	maxRetries      int
}

func NewService(p Params) creditdomain.Service {
	maxRetries := p.Cfg.Credit.DebitMaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("credit.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		costs:           p.Costs,
		repo:            p.Repo,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		metrics:         p.Metrics,
		maxRetries:      maxRetries,
	}
}

// period is the billing window plan credits are measured against.
type period struct {
	start      time.Time
	end        time.Time
	allocation int64
	unlimited  bool
}

// remaining returns the unused plan allocation given what was already drawn.
func (p period) remaining(used, want int64) int64 {
	if p.unlimited {
		return want
	}
	return max(p.allocation-used, 0)
}

func (s *Service) FeatureCreditCost(modelID string) int64 {
	return s.costs.Get().CostFor(modelID)
}

func (s *Service) HasEnoughCredits(ctx context.Context, orgID snowflake.ID, modelID string) bool {
	log := s.log.With(zap.String("org_id", orgID.String()), zap.String("model_id", modelID))

	feature, err := s.feature(ctx)
	if err != nil {
		log.Error("credit feature lookup failed", zap.Error(err))
		return false
	}
	balance, err := s.repo.FindBalance(ctx, s.db, orgID, feature.ID)
	if err != nil {
		log.Error("credit balance lookup failed", zap.Error(err))
		return false
	}
	if balance == nil {
		return false
	}
	return balance.Balance >= s.FeatureCreditCost(modelID)
}

func (s *Service) ProcessFeatureCreditUsage(ctx context.Context, orgID snowflake.ID, modelID string, metadata creditdomain.UsageMetadata) (creditdomain.DebitResult, error) {
	log := s.log.With(zap.String("org_id", orgID.String()), zap.String("model_id", modelID))
	if orgID == 0 {
		return creditdomain.DebitResult{}, creditdomain.ErrInvalidOrganization
	}

	cost := s.FeatureCreditCost(modelID)
	feature, err := s.feature(ctx)
	if err != nil {
		log.Error("credit feature lookup failed", zap.Error(err))
		return creditdomain.DebitResult{}, err
	}
	window, err := s.currentPeriod(ctx, orgID)
	if err != nil {
		log.Error("credit period lookup failed", zap.Error(err))
		return creditdomain.DebitResult{}, err
	}

	var result creditdomain.DebitResult
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		result, err = s.debit(ctx, orgID, feature.ID, modelID, cost, window, metadata)
		if !errors.Is(err, errVersionConflict) {
			break
		}
		s.metrics.RecordDebitConflict(ctx)
		log.Debug("credit debit conflict", zap.Int("attempt", attempt))
	}

	switch {
	case err == nil:
	case errors.Is(err, errVersionConflict):
		log.Warn("credit debit retries exhausted", zap.Int("attempts", s.maxRetries))
		return creditdomain.DebitResult{}, creditdomain.ErrDebitConflict
	case errors.Is(err, creditdomain.ErrInsufficientCredits):
		s.metrics.RecordCreditDenied(ctx, plandomain.FeatureMessageCredits)
		log.Info("insufficient credits", zap.Int64("cost", cost))
		return creditdomain.DebitResult{}, err
	default:
		log.Error("credit debit failed", zap.Error(err))
		return creditdomain.DebitResult{}, err
	}

	s.metrics.RecordCreditsDebited(ctx, plandomain.FeatureMessageCredits, bucketPlan, result.FromPlan)
	s.metrics.RecordCreditsDebited(ctx, plandomain.FeatureMessageCredits, bucketPurchased, result.FromPurchased)
	log.Info("credits debited",
		zap.Int64("cost", result.Cost),
		zap.Int64("from_plan", result.FromPlan),
		zap.Int64("from_purchased", result.FromPurchased),
	)
	return result, nil
}

func (s *Service) debit(ctx context.Context, orgID, featureID snowflake.ID, modelID string, cost int64, window period, metadata creditdomain.UsageMetadata) (creditdomain.DebitResult, error) {
	var result creditdomain.DebitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.repo.FindBalance(ctx, tx, orgID, featureID)
		if err != nil {
			return err
		}
		if balance == nil || balance.Balance < cost {
			return creditdomain.ErrInsufficientCredits
		}

		now := s.clock.Now()
		used, err := s.planUsed(ctx, tx, balance.ID, window.start, usageBound(window.end, now))
		if err != nil {
			return err
		}
		fromPlan := min(cost, window.remaining(used, cost))
		fromPurchased := cost - fromPlan

		rows, err := s.repo.ApplyDelta(ctx, tx, balance.ID, balance.Version, -cost, now)
		if err != nil {
			return err
		}
		if rows == 0 {
			return errVersionConflict
		}

		parts := []struct {
			amount   int64
			fromPlan bool
		}{
			{fromPlan, true},
			{fromPurchased, false},
		}
		for _, part := range parts {
			if part.amount <= 0 {
				continue
			}
			var key string
			if part.fromPlan {
				key = periodKey(window.start)
			}
			if err := s.repo.InsertTransaction(ctx, tx, &creditdomain.CreditTransaction{
				ID:        s.genID.Generate(),
				BalanceID: balance.ID,
				OrgID:     orgID,
				FeatureID: featureID,
				Type:      creditdomain.TransactionTypeUsage,
				Amount:    -part.amount,
				Metadata: datatypes.NewJSONType(creditdomain.TransactionMetadata{
					FromPlanAllocation: part.fromPlan,
					ModelID:            modelID,
					Reason:             metadata.Reason,
					ExternalRef:        metadata.ExternalRef,
					Period:             key,
				}),
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}

		result = creditdomain.DebitResult{
			Cost:          cost,
			FromPlan:      fromPlan,
			FromPurchased: fromPurchased,
			Balance:       balance.Balance - cost,
		}
		return nil
	})
	return result, err
}

func (s *Service) GrantCredits(ctx context.Context, req creditdomain.CreditRequest) (creditdomain.CreditTransaction, error) {
	if req.Amount <= 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInvalidAmount
	}
	return s.applyCredit(ctx, req, creditdomain.TransactionTypeGrant)
}

func (s *Service) PurchaseCredits(ctx context.Context, req creditdomain.CreditRequest) (creditdomain.CreditTransaction, error) {
	if req.Amount <= 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInvalidAmount
	}
	return s.applyCredit(ctx, req, creditdomain.TransactionTypePurchase)
}

// AdjustCredits applies a signed correction. Negative adjustments cannot overdraw.
func (s *Service) AdjustCredits(ctx context.Context, req creditdomain.CreditRequest) (creditdomain.CreditTransaction, error) {
	if req.Amount == 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInvalidAmount
	}
	return s.applyCredit(ctx, req, creditdomain.TransactionTypeAdjustment)
}

func (s *Service) applyCredit(ctx context.Context, req creditdomain.CreditRequest, txType creditdomain.TransactionType) (creditdomain.CreditTransaction, error) {
	log := s.log.With(zap.String("org_id", req.OrgID.String()), zap.String("type", string(txType)))
	if req.OrgID == 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInvalidOrganization
	}
	feature, err := s.feature(ctx)
	if err != nil {
		log.Error("credit feature lookup failed", zap.Error(err))
		return creditdomain.CreditTransaction{}, err
	}

	meta := creditdomain.TransactionMetadata{Reason: req.Reason, ExternalRef: req.ExternalRef}
	var entry creditdomain.CreditTransaction
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := s.ensureBalance(ctx, tx, req.OrgID, feature.ID, req.Amount)
			if err != nil {
				return err
			}
			entry, err = s.post(ctx, tx, balance, txType, req.Amount, meta)
			return err
		})
		if !errors.Is(err, errVersionConflict) {
			break
		}
		s.metrics.RecordDebitConflict(ctx)
	}
	if errors.Is(err, errVersionConflict) {
		return creditdomain.CreditTransaction{}, creditdomain.ErrDebitConflict
	}
	if err != nil {
		if !errors.Is(err, creditdomain.ErrInsufficientCredits) {
			log.Error("credit posting failed", zap.Error(err))
		}
		return creditdomain.CreditTransaction{}, err
	}

	log.Info("credits posted", zap.Int64("amount", req.Amount))
	return entry, nil
}

// ensureBalance returns the balance row, creating it at zero for positive postings.
func (s *Service) ensureBalance(ctx context.Context, tx *gorm.DB, orgID, featureID snowflake.ID, delta int64) (*creditdomain.CreditBalance, error) {
	balance, err := s.repo.FindBalance(ctx, tx, orgID, featureID)
	if err != nil {
		return nil, err
	}
	if balance != nil {
		return balance, nil
	}
	if delta < 0 {
		return nil, creditdomain.ErrInsufficientCredits
	}

	now := s.clock.Now()
	balance = &creditdomain.CreditBalance{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		FeatureID: featureID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertBalance(ctx, tx, balance); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, errVersionConflict
		}
		return nil, err
	}
	return balance, nil
}

// post applies delta to balance and appends the matching transaction. balance is
// updated in place so several postings can share one database transaction.
func (s *Service) post(ctx context.Context, tx *gorm.DB, balance *creditdomain.CreditBalance, txType creditdomain.TransactionType, delta int64, meta creditdomain.TransactionMetadata) (creditdomain.CreditTransaction, error) {
	if balance.Balance+delta < 0 {
		return creditdomain.CreditTransaction{}, creditdomain.ErrInsufficientCredits
	}
	now := s.clock.Now()
	rows, err := s.repo.ApplyDelta(ctx, tx, balance.ID, balance.Version, delta, now)
	if err != nil {
		return creditdomain.CreditTransaction{}, err
	}
	if rows == 0 {
		return creditdomain.CreditTransaction{}, errVersionConflict
	}
	balance.Balance += delta
	balance.Version++
	balance.UpdatedAt = now

	entry := creditdomain.CreditTransaction{
		ID:        s.genID.Generate(),
		BalanceID: balance.ID,
		OrgID:     balance.OrgID,
		FeatureID: balance.FeatureID,
		Type:      txType,
		Amount:    delta,
		Metadata:  datatypes.NewJSONType(meta),
		CreatedAt: now,
	}
	if err := s.repo.InsertTransaction(ctx, tx, &entry); err != nil {
		return creditdomain.CreditTransaction{}, err
	}
	return entry, nil
}

func (s *Service) RenewPlanAllocation(ctx context.Context, req creditdomain.RenewRequest) (creditdomain.RenewResult, error) {
	log := s.log.With(zap.String("org_id", req.OrgID.String()))
	if req.OrgID == 0 {
		return creditdomain.RenewResult{}, creditdomain.ErrInvalidOrganization
	}
	feature, err := s.feature(ctx)
	if err != nil {
		log.Error("credit feature lookup failed", zap.Error(err))
		return creditdomain.RenewResult{}, err
	}
	subscription, err := s.subscriptionSvc.GetByOrgID(ctx, req.OrgID)
	if err != nil {
		return creditdomain.RenewResult{}, err
	}
	current, err := s.periodFor(ctx, subscription)
	if err != nil {
		log.Error("plan allocation lookup failed", zap.Error(err))
		return creditdomain.RenewResult{}, err
	}

	var result creditdomain.RenewResult
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		result = creditdomain.RenewResult{}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := s.ensureBalance(ctx, tx, req.OrgID, feature.ID, 0)
			if err != nil {
				return err
			}
			grants, err := s.repo.ListTransactionsByType(ctx, tx, balance.ID, creditdomain.TransactionTypeGrant)
			if err != nil {
				return err
			}

			if !req.PreviousStart.IsZero() {
				expired, err := s.expireAllocation(ctx, tx, balance, grants, req.PreviousStart, req.PreviousEnd)
				if err != nil {
					return err
				}
				result.Expired = expired
			}

			key := periodKey(current.start)
			if !current.unlimited && current.allocation > 0 && findPlanGrant(grants, key) == nil {
				if _, err := s.post(ctx, tx, balance, creditdomain.TransactionTypeGrant, current.allocation, creditdomain.TransactionMetadata{
					PlanGrant: true,
					Period:    key,
					Reason:    "plan allocation",
				}); err != nil {
					return err
				}
				result.Granted = current.allocation
			}
			result.Balance = balance.Balance
			return nil
		})
		if !errors.Is(err, errVersionConflict) {
			break
		}
		s.metrics.RecordDebitConflict(ctx)
	}
	if errors.Is(err, errVersionConflict) {
		return creditdomain.RenewResult{}, creditdomain.ErrDebitConflict
	}
	if err != nil {
		log.Error("plan allocation renewal failed", zap.Error(err))
		return creditdomain.RenewResult{}, err
	}

	log.Info("plan allocation renewed",
		zap.Int64("expired", result.Expired),
		zap.Int64("granted", result.Granted),
		zap.Int64("balance", result.Balance),
	)
	return result, nil
}

// expireAllocation removes what is left of the plan grant for the period starting at start.
func (s *Service) expireAllocation(ctx context.Context, tx *gorm.DB, balance *creditdomain.CreditBalance, grants []creditdomain.CreditTransaction, start, end time.Time) (int64, error) {
	key := periodKey(start)
	grant := findPlanGrant(grants, key)
	if grant == nil {
		return 0, nil
	}

	adjustments, err := s.repo.ListTransactionsByType(ctx, tx, balance.ID, creditdomain.TransactionTypeAdjustment)
	if err != nil {
		return 0, err
	}
	for _, adj := range adjustments {
		meta := adj.Metadata.Data()
		if meta.ExpiredPlanAllocation && meta.Period == key {
			return 0, nil
		}
	}

	used, err := s.planUsed(ctx, tx, balance.ID, start, usageBound(end, s.clock.Now()))
	if err != nil {
		return 0, err
	}
	expired := min(max(grant.Amount-used, 0), balance.Balance)
	if expired <= 0 {
		return 0, nil
	}
	if _, err := s.post(ctx, tx, balance, creditdomain.TransactionTypeAdjustment, -expired, creditdomain.TransactionMetadata{
		ExpiredPlanAllocation: true,
		Period:                key,
		Reason:                "plan allocation expired",
	}); err != nil {
		return 0, err
	}
	return expired, nil
}

func (s *Service) GetCreditSummary(ctx context.Context, orgID snowflake.ID) (creditdomain.CreditSummary, error) {
	if orgID == 0 {
		return creditdomain.CreditSummary{}, creditdomain.ErrInvalidOrganization
	}
	feature, err := s.feature(ctx)
	if err != nil {
		return creditdomain.CreditSummary{}, err
	}
	window, err := s.currentPeriod(ctx, orgID)
	if err != nil {
		return creditdomain.CreditSummary{}, err
	}

	summary := creditdomain.CreditSummary{
		PlanAllocation: window.allocation,
		PlanUnlimited:  window.unlimited,
		PeriodStart:    window.start,
		PeriodEnd:      window.end,
	}
	balance, err := s.repo.FindBalance(ctx, s.db, orgID, feature.ID)
	if err != nil {
		return creditdomain.CreditSummary{}, err
	}
	if balance == nil {
		return summary, nil
	}

	used, err := s.planUsed(ctx, s.db, balance.ID, window.start, usageBound(window.end, s.clock.Now()))
	if err != nil {
		return creditdomain.CreditSummary{}, err
	}
	summary.Balance = balance.Balance
	summary.PlanUsed = used
	summary.PlanRemaining = min(window.remaining(used, balance.Balance), balance.Balance)
	summary.PurchasedRemaining = balance.Balance - summary.PlanRemaining
	return summary, nil
}

func (s *Service) ListTransactions(ctx context.Context, req creditdomain.ListTransactionsRequest) (creditdomain.ListTransactionsResponse, error) {
	if req.OrgID == 0 {
		return creditdomain.ListTransactionsResponse{}, creditdomain.ErrInvalidOrganization
	}
	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return creditdomain.ListTransactionsResponse{}, err
	}
	feature, err := s.feature(ctx)
	if err != nil {
		return creditdomain.ListTransactionsResponse{}, err
	}
	balance, err := s.repo.FindBalance(ctx, s.db, req.OrgID, feature.ID)
	if err != nil {
		return creditdomain.ListTransactionsResponse{}, err
	}
	if balance == nil {
		return creditdomain.ListTransactionsResponse{Transactions: []creditdomain.CreditTransaction{}}, nil
	}

	limit := page.Limit()
	rows, err := s.repo.ListTransactions(ctx, s.db, balance.ID, cursor, limit+1)
	if err != nil {
		return creditdomain.ListTransactionsResponse{}, err
	}
	txs, info, err := pagination.Page(rows, limit, func(t creditdomain.CreditTransaction) pagination.Cursor {
		return pagination.Cursor{ID: int64(t.ID), CreatedAt: t.CreatedAt}
	})
	if err != nil {
		return creditdomain.ListTransactionsResponse{}, err
	}
	return creditdomain.ListTransactionsResponse{Transactions: txs, PageInfo: info}, nil
}

func (s *Service) Reconcile(ctx context.Context) ([]creditdomain.BalanceDrift, error) {
	var (
		drifts  []creditdomain.BalanceDrift
		afterID snowflake.ID
	)
	for {
		balances, err := s.repo.ListBalances(ctx, s.db, afterID, reconcileBatch)
		if err != nil {
			return nil, err
		}
		for _, balance := range balances {
			derived, err := s.repo.SumTransactions(ctx, s.db, balance.ID)
			if err != nil {
				return nil, err
			}
			if derived == balance.Balance {
				continue
			}
			drift := creditdomain.BalanceDrift{
				BalanceID: balance.ID,
				OrgID:     balance.OrgID,
				Stored:    balance.Balance,
				Derived:   derived,
			}
			drifts = append(drifts, drift)
			s.log.Warn("credit balance drift",
				zap.String("balance_id", balance.ID.String()),
				zap.String("org_id", balance.OrgID.String()),
				zap.Int64("stored", balance.Balance),
				zap.Int64("derived", derived),
			)
		}
		if len(balances) < reconcileBatch {
			return drifts, nil
		}
		afterID = balances[len(balances)-1].ID
	}
}

func (s *Service) feature(ctx context.Context) (plandomain.PlanFeature, error) {
	feature, err := s.planSvc.GetFeature(ctx, plandomain.FeatureMessageCredits)
	if errors.Is(err, plandomain.ErrFeatureNotFound) {
		return plandomain.PlanFeature{}, creditdomain.ErrFeatureNotFound
	}
	return feature, err
}

// currentPeriod degenerates to an empty window with no allocation when the org has no subscription.
func (s *Service) currentPeriod(ctx context.Context, orgID snowflake.ID) (period, error) {
	subscription, err := s.subscriptionSvc.GetByOrgID(ctx, orgID)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		now := s.clock.Now()
		return period{start: now, end: now}, nil
	}
	if err != nil {
		return period{}, err
	}
	return s.periodFor(ctx, subscription)
}

func (s *Service) periodFor(ctx context.Context, subscription subscriptiondomain.Subscription) (period, error) {
	window := period{
		start: subscription.CurrentPeriodStart,
		end:   subscription.CurrentPeriodEnd,
	}
	limit, err := s.planSvc.GetLimit(ctx, subscription.PlanType, plandomain.FeatureMessageCredits)
	switch {
	case errors.Is(err, plandomain.ErrLimitNotFound):
		return window, nil
	case err != nil:
		return period{}, err
	}
	window.allocation = limit.Value
	window.unlimited = limit.IsUnlimited
	return window, nil
}

// planUsed sums USAGE drawn from the plan allocation of the period starting at from,
// looking at transactions stamped in [from, to).
func (s *Service) planUsed(ctx context.Context, tx *gorm.DB, balanceID snowflake.ID, from, to time.Time) (int64, error) {
	if !to.After(from) {
		return 0, nil
	}
	txs, err := s.repo.ListTransactionsBetween(ctx, tx, balanceID, creditdomain.TransactionTypeUsage, from, to)
	if err != nil {
		return 0, err
	}
	key := periodKey(from)
	var used int64
	for _, t := range txs {
		meta := t.Metadata.Data()
		if meta.FromPlanAllocation && meta.Period == key {
			used += -t.Amount
		}
	}
	return used, nil
}

// usageBound keeps a period's usage window open past its end until the rollover renews it.
func usageBound(end, now time.Time) time.Time {
	if now.Before(end) {
		return end
	}
	return now.Add(time.Nanosecond)
}

func findPlanGrant(grants []creditdomain.CreditTransaction, key string) *creditdomain.CreditTransaction {
	for i := range grants {
		meta := grants[i].Metadata.Data()
		if meta.PlanGrant && meta.Period == key {
			return &grants[i]
		}
	}
	return nil
}

func periodKey(start time.Time) string {
	return start.UTC().Format(time.RFC3339)
}
