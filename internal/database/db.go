package database

import (
	"fmt"

	"sitestock-backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to Postgres and migrates every table the service owns.
func Open(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("database connected, migrations applied")
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.AuditLog{},
		&models.Project{},
		&models.MaterialBatch{},
		&models.UsedMaterial{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// Depleted batches are deleted, so every stored row has qnt > 0.
	if err := db.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_name = 'material_batches' AND constraint_name = 'chk_material_batches_qnt_positive'
			) THEN
				ALTER TABLE material_batches ADD CONSTRAINT chk_material_batches_qnt_positive CHECK (qnt > 0);
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("add qnt constraint: %w", err)
	}
	return nil
}
