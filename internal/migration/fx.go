package migration

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, node *snowflake.Node, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			log.Info("database auto migrate disabled")
			return nil
		}
		if err := Migrate(conn); err != nil {
			return err
		}
		return seed.EnsurePlanCatalog(context.Background(), conn, node)
	}),
)
