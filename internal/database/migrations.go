package database

import (
	"fmt"

	"propertyfeed/internal/models"
)

// Migrate creates or updates the schema. It is safe to run on every start.
func (d *Database) Migrate() error {
	if err := d.db.AutoMigrate(&models.Property{}, &models.PropertyAnalysis{}, &models.RunSummary{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return d.RunMigrations()
}

// RunMigrations adds the composite indexes AutoMigrate cannot express from tags.
func (d *Database) RunMigrations() error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_properties_coordinates
		ON properties(latitude, longitude)`,
		`CREATE INDEX IF NOT EXISTS idx_properties_active_verified
		ON properties(is_active, last_verified_at)`,
		`CREATE INDEX IF NOT EXISTS idx_properties_missing_image
		ON properties(id) WHERE image_url IS NULL`,
	}

	for _, stmt := range statements {
		if err := d.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	d.logger.Info("Database migrations applied")
	return nil
}
