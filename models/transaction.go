package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one ledger entry. Type is "entry" (income) or "exit"
// (expense); Value is always positive, the type carries the sign.
type Transaction struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	UserID      uint            `gorm:"index;not null"`
	Type        string          `gorm:"size:8;not null;index"`
	Value       decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Date        time.Time       `gorm:"type:date;not null;index"`
	Description string          `gorm:"size:255;not null"`
	Notes       string          `gorm:"size:1024"`
	CategoryID  *uint           `gorm:"index"`
	Category    *Category       `gorm:"foreignKey:CategoryID;references:ID"`
	// ImportID links rows materialized by an import commit back to their session.
	ImportID *string `gorm:"size:36;index"`
}
