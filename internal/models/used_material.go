package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UsedMaterial: snapshot written by one allocation, never updated.
type UsedMaterial struct {
	ID            string            `gorm:"primaryKey;size:36"`
	ProjectID     string            `gorm:"size:36;index:idx_used_materials_project_pos,priority:1;not null"`
	Position      int               `gorm:"index:idx_used_materials_project_pos,priority:2;not null"`
	BatchID       string            `gorm:"size:36;index;not null"` // source batch, may be pruned since
	Name          string            `gorm:"size:150;not null"`
	Unit          string            `gorm:"size:20;not null"`
	Specs         datatypes.JSONMap `gorm:"type:jsonb"`
	Qnt           decimal.Decimal   `gorm:"type:numeric;not null"`
	Cost          decimal.Decimal   `gorm:"type:numeric;not null"` // per unit at allocation time
	TotalCost     decimal.Decimal   `gorm:"type:numeric;not null;default:0"`
	SectionID     string            `gorm:"size:64;index;not null"`
	MiniSectionID string            `gorm:"size:64"`
	UsedBy        string            `gorm:"size:64"`
	UsedAt        time.Time         `gorm:"index;not null"`
}
