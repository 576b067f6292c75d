package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Project: one construction project of a client; owns its stock pools.
type Project struct {
	ID        string          `gorm:"primaryKey;size:36"`
	ClientID  string          `gorm:"size:64;index;not null"`
	Name      string          `gorm:"size:150;not null"`
	Spent     decimal.Decimal `gorm:"type:numeric;not null;default:0"` // running total of allocations
	Version   int64           `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Available []MaterialBatch `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	Used      []UsedMaterial  `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}
