package registry

import (
	"context"
	"fmt"

	"github.com/EmpoweredVote/instance-registry/internal/db"
	"gorm.io/gorm"
)

const schemaName = "registry"

// Migrate provisions the registry schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, d *gorm.DB) error {
	tx := d.WithContext(ctx)

	if err := db.EnsureSchema(tx, schemaName); err != nil {
		return fmt.Errorf("ensure schema %s: %w", schemaName, err)
	}
	if err := db.EnsureExtension(tx, "postgis"); err != nil {
		return fmt.Errorf("enable postgis: %w", err)
	}

	if err := tx.AutoMigrate(&Instance{}); err != nil {
		return fmt.Errorf("auto-migrate instances: %w", err)
	}

	if err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS instances_region_gix
		ON registry.instances USING GIST (region);
	`).Error; err != nil {
		return fmt.Errorf("create instances_region_gix: %w", err)
	}
	return nil
}
