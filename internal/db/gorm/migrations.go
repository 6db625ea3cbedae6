// Package gorm provides GORM-based storage for lectern report history.
package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: report runs and their clusters
		{
			ID: "001_report_history",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&ReportRun{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&ReportCluster{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("report_clusters", "report_runs")
			},
		},
	})

	return m.Migrate()
}
