package models

import "time"

// Backup tracks encrypted metadata backup files on disk.
type Backup struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	FileName  string    `gorm:"size:255;not null"`
	SizeBytes int64
	CreatedAt time.Time

	User User `gorm:"constraint:OnDelete:CASCADE"`
}
