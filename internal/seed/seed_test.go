package seed

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEnsurePlanCatalogIsIdempotent(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&plandomain.PlanFeature{}, &plandomain.PlanLimit{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, EnsurePlanCatalog(ctx, conn, node))

	require.NoError(t, conn.Exec(`UPDATE plan_limits SET value = 7 WHERE plan_type = ?`, plandomain.PlanTypeFree).Error)
	require.NoError(t, EnsurePlanCatalog(ctx, conn, node))

	var features, limits int64
	require.NoError(t, conn.Model(&plandomain.PlanFeature{}).Count(&features).Error)
	require.NoError(t, conn.Model(&plandomain.PlanLimit{}).Count(&limits).Error)
	assert.Equal(t, int64(3), features)
	assert.Equal(t, int64(12), limits)

	var freeValues []int64
	require.NoError(t, conn.Model(&plandomain.PlanLimit{}).Where("plan_type = ?", plandomain.PlanTypeFree).Pluck("value", &freeValues).Error)
	for _, v := range freeValues {
		assert.Equal(t, int64(7), v, "operator edits survive reseeding")
	}
}
