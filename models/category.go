package models

import (
	"time"

	"gorm.io/gorm"
)

// Category is a user-defined transaction category. NameNormalized holds the
// trimmed, diacritic-stripped, lowercased form used for lookups during CSV
// import; two categories of one user may not normalize to the same value
// (enforced at the handler with an optimistic check, since a plain unique
// index would also cover soft-deleted rows).
type Category struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
	UserID         uint           `gorm:"index;not null"`
	Name           string         `gorm:"size:120;not null"`
	NameNormalized string         `gorm:"size:120;not null;index"`
}
