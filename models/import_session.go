package models

import "time"

// ImportSession is the persisted result of a CSV dry-run awaiting
// confirmation. Payload holds the JSON-encoded valid rows plus summary.
// CommittedAt is written at most once, by the conditional claim update in the
// commit path; rows past ExpiresAt with a null CommittedAt are dead and get
// swept by an external janitor.
type ImportSession struct {
	ID          string `gorm:"primaryKey;size:36"`
	CreatedAt   time.Time
	UserID      uint      `gorm:"index;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	ExpiresAt   time.Time `gorm:"index;not null"`
	CommittedAt *time.Time
}
