package models

import "time"

// Subscription mirrors the billing state kept current by the Stripe webhook
// worker (one-to-one with User). The API only reads it to derive entitlements;
// users without a row are treated as plan "free".
type Subscription struct {
	ID               uint `gorm:"primaryKey"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	UserID           uint   `gorm:"uniqueIndex;not null"`
	Plan             string `gorm:"size:32;not null;default:free"`
	Status           string `gorm:"size:32;not null;default:active"`
	StripeCustomerID string `gorm:"size:64"`
	CurrentPeriodEnd *time.Time
}
