package migrate

import (
	"context"
	"fmt"

	"github.com/ajimenez-dev/circulation-backend/pkg/config"
	"github.com/ajimenez-dev/circulation-backend/pkg/db"
	"github.com/ajimenez-dev/circulation-backend/pkg/db/models"
	"github.com/ajimenez-dev/circulation-backend/pkg/logger"
)

// MaybeRunDev brings the schema up automatically when running in dev mode
// with the feature flag enabled. The sqlite path AutoMigrates from the models
// because the goose migrations are written for Postgres.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	if cfg.FeatureFlags.UseSQLite {
		logg.Info(ctx, "auto-migrating sqlite schema from models")
		return client.DB().WithContext(ctx).AutoMigrate(
			&models.Library{},
			&models.Patron{},
			&models.Collection{},
			&models.LicensePool{},
			&models.License{},
			&models.DeliveryMechanism{},
			&models.Loan{},
			&models.Hold{},
		)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": DefaultDir})
	logg.Info(ctx, "running Goose migrations (dev auto-run)")

	if err := Run(ctx, sqlDB, DefaultDir, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "Goose migrations completed")
	return nil
}
