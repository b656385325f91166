package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/organization/domain"
	"github.com/smallbiznis/botledger/internal/organization/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Organization{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestCreateBuildsSlug(t *testing.T) {
	svc := newTestService(t)

	org, err := svc.Create(context.Background(), domain.CreateOrganizationRequest{Name: "  Acme Bots Ltd "})
	require.NoError(t, err)
	assert.Equal(t, "Acme Bots Ltd", org.Name)
	assert.Equal(t, "acme-bots-ltd", org.Slug)

	got, err := svc.GetByID(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, org.Slug, got.Slug)
}

func TestCreateDeduplicatesSlug(t *testing.T) {
	svc := newTestService(t)

	first, err := svc.Create(context.Background(), domain.CreateOrganizationRequest{Name: "Acme"})
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), domain.CreateOrganizationRequest{Name: "acme"})
	require.NoError(t, err)

	assert.Equal(t, "acme", first.Slug)
	assert.NotEqual(t, first.Slug, second.Slug)
	assert.Contains(t, second.Slug, "acme-")
}

func TestCreateRejectsBlankName(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Create(context.Background(), domain.CreateOrganizationRequest{Name: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestGetByID(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetByID(context.Background(), "not-an-id")
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)

	_, err = svc.GetByID(context.Background(), "1234567")
	assert.ErrorIs(t, err, domain.ErrOrganizationNotFound)
}
