package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/botledger/internal/audit/domain"
	"github.com/smallbiznis/botledger/internal/audit/repository"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewService(Params{DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: repository.Provide()}), fake
}

func TestRecord(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := domain.WithActor(context.Background(), domain.Actor{Type: "operator", ID: "ops-1"})
	ctx = domain.WithClient(ctx, domain.Client{IPAddress: "10.0.0.1", UserAgent: "curl/8"})

	require.NoError(t, svc.Record(ctx, domain.Entry{
		OrgID:      7,
		Action:     domain.ActionCreditGrant,
		TargetType: "credit_transaction",
		TargetID:   "123",
		Metadata:   map[string]any{"amount": 500, "contact_email": "jane@example.com"},
	}))

	resp, err := svc.List(context.Background(), domain.ListRequest{OrgID: 7})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	got := resp.AuditLogs[0]
	assert.Equal(t, "operator", got.ActorType)
	require.NotNil(t, got.ActorID)
	assert.Equal(t, "ops-1", *got.ActorID)
	require.NotNil(t, got.IPAddress)
	assert.Equal(t, "10.0.0.1", *got.IPAddress)
	assert.Equal(t, "****.com", got.Metadata["contact_email"])
	assert.False(t, resp.PageInfo.HasMore)
}

func TestRecordDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	assert.ErrorIs(t, svc.Record(context.Background(), domain.Entry{OrgID: 7}), domain.ErrInvalidAction)
	assert.ErrorIs(t, svc.Record(context.Background(), domain.Entry{Action: domain.ActionCreditAdjust}), domain.ErrInvalidOrganization)

	require.NoError(t, svc.Record(context.Background(), domain.Entry{OrgID: 7, Action: domain.ActionCreditAdjust}))
	resp, err := svc.List(context.Background(), domain.ListRequest{OrgID: 7})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, domain.ActorSystem, resp.AuditLogs[0].ActorType)
	assert.Equal(t, "unknown", resp.AuditLogs[0].TargetType)
	assert.Nil(t, resp.AuditLogs[0].ActorID)
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	for _, action := range []string{domain.ActionCreditGrant, domain.ActionCreditPurchase, domain.ActionSubscriptionPlan} {
		require.NoError(t, svc.Record(ctx, domain.Entry{OrgID: 7, Action: action}))
		fake.Advance(time.Minute)
	}
	require.NoError(t, svc.Record(ctx, domain.Entry{OrgID: 8, Action: domain.ActionCreditGrant}))

	first, err := svc.List(ctx, domain.ListRequest{OrgID: 7, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.Equal(t, domain.ActionSubscriptionPlan, first.AuditLogs[0].Action)
	assert.Equal(t, domain.ActionCreditPurchase, first.AuditLogs[1].Action)
	require.True(t, first.PageInfo.HasMore)

	second, err := svc.List(ctx, domain.ListRequest{OrgID: 7, PageSize: 2, PageToken: first.PageInfo.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.Equal(t, domain.ActionCreditGrant, second.AuditLogs[0].Action)
	assert.False(t, second.PageInfo.HasMore)

	filtered, err := svc.List(ctx, domain.ListRequest{OrgID: 7, Action: domain.ActionCreditPurchase})
	require.NoError(t, err)
	assert.Len(t, filtered.AuditLogs, 1)
}
