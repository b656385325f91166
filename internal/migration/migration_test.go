package migration

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
	"github.com/smallbiznis/botledger/internal/seed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMigrateFallsBackToAutoMigrate(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	require.NoError(t, Migrate(conn))
	for _, model := range Models() {
		assert.True(t, conn.Migrator().HasTable(model))
	}

	require.NoError(t, seed.EnsurePlanCatalog(context.Background(), conn, node))
	var features int64
	require.NoError(t, conn.Model(&plandomain.PlanFeature{}).Count(&features).Error)
	assert.Equal(t, int64(3), features)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := embeddedMigrations.ReadDir(migrationsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}
