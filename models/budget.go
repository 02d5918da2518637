package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget is a per-user monthly spending cap for one category. Month uses the
// YYYY-MM form so it groups the same way the analytics queries do.
type Budget struct {
	ID         uint `gorm:"primaryKey"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	UserID     uint            `gorm:"index;not null;uniqueIndex:idx_budget_scope"`
	CategoryID uint            `gorm:"not null;uniqueIndex:idx_budget_scope"`
	Month      string          `gorm:"size:7;not null;uniqueIndex:idx_budget_scope"`
	Amount     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
}
