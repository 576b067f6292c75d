package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MaterialBatch: acquired but unused material. SectionID empty = global batch.
type MaterialBatch struct {
	ID        string            `gorm:"primaryKey;size:36"`
	ProjectID string            `gorm:"size:36;index:idx_material_batches_project_pos,priority:1;not null"`
	Position  int               `gorm:"index:idx_material_batches_project_pos,priority:2;not null"` // collection order
	Name      string            `gorm:"size:150;not null"`
	Unit      string            `gorm:"size:20;not null"`
	Specs     datatypes.JSONMap `gorm:"type:jsonb"`
	Qnt       decimal.Decimal   `gorm:"type:numeric;not null"`
	Cost      decimal.Decimal   `gorm:"type:numeric;not null"` // per unit, derived
	TotalCost decimal.Decimal   `gorm:"type:numeric;not null;default:0"`
	SectionID string            `gorm:"size:64;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
