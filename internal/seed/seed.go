// Package seed installs the default plan catalog on startup.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/botledger/internal/plan/domain"
	planrepo "github.com/smallbiznis/botledger/internal/plan/repository"
	"gorm.io/gorm"
)

type defaultLimit struct {
	value     int64
	unlimited bool
}

var defaultFeatures = []plandomain.PlanFeature{
	{Name: plandomain.FeatureMessageCredits, Description: "Message credits consumed by AI responses"},
	{Name: plandomain.FeatureLinks, Description: "Website links crawled into knowledge bases"},
	{Name: plandomain.FeatureAgents, Description: "Agents an organization may create"},
}

var defaultLimits = map[plandomain.PlanType]map[string]defaultLimit{
	plandomain.PlanTypeFree: {
		plandomain.FeatureMessageCredits: {value: 50},
		plandomain.FeatureLinks:          {value: 10},
		plandomain.FeatureAgents:         {value: 1},
	},
	plandomain.PlanTypeStarter: {
		plandomain.FeatureMessageCredits: {value: 2000},
		plandomain.FeatureLinks:          {value: 100},
		plandomain.FeatureAgents:         {value: 3},
	},
	plandomain.PlanTypeGrowth: {
		plandomain.FeatureMessageCredits: {value: 10000},
		plandomain.FeatureLinks:          {value: 1000},
		plandomain.FeatureAgents:         {value: 10},
	},
	plandomain.PlanTypeEnterprise: {
		plandomain.FeatureMessageCredits: {value: 50000},
		plandomain.FeatureLinks:          {unlimited: true},
		plandomain.FeatureAgents:         {unlimited: true},
	},
}

// EnsurePlanCatalog inserts missing features and limits. Existing rows are left
// untouched so operator edits survive restarts.
func EnsurePlanCatalog(ctx context.Context, db *gorm.DB, node *snowflake.Node) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}

	repo := planrepo.Provide()
	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		featureIDs := make(map[string]snowflake.ID, len(defaultFeatures))
		for _, def := range defaultFeatures {
			existing, err := repo.FindFeatureByName(ctx, tx, def.Name)
			if err != nil {
				return err
			}
			if existing != nil {
				featureIDs[def.Name] = existing.ID
				continue
			}
			feature := def
			feature.ID = node.Generate()
			feature.CreatedAt = now
			if err := repo.InsertFeature(ctx, tx, &feature); err != nil {
				return err
			}
			featureIDs[def.Name] = feature.ID
		}

		for planType, limits := range defaultLimits {
			for name, def := range limits {
				featureID := featureIDs[name]
				existing, err := repo.FindLimit(ctx, tx, planType, featureID)
				if err != nil {
					return err
				}
				if existing != nil {
					continue
				}
				if err := repo.InsertLimit(ctx, tx, &plandomain.PlanLimit{
					ID:          node.Generate(),
					PlanType:    planType,
					FeatureID:   featureID,
					Value:       def.value,
					IsUnlimited: def.unlimited,
					CreatedAt:   now,
					UpdatedAt:   now,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
