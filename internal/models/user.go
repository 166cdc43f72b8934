package models

import "time"

// User represents application user.
type User struct {
	ID           uint      `gorm:"primaryKey"`
	Username     string    `gorm:"type:TEXT COLLATE NOCASE;uniqueIndex;not null"`
	PasswordHash string    `gorm:"size:255;not null"`
	DisplayName  string    `gorm:"size:64"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	FailedLoginAttempts int        `gorm:"default:0"`
	LockedUntil         *time.Time `gorm:"index"`
	LastLoginAt         *time.Time
	LastLoginIP         string     `gorm:"size:64"`

	DeletedAt           *time.Time `gorm:"index"` // non-nil means the account is closed
	DeletePermanentlyAt *time.Time // closed + 7 days
}
