package models

import "time"

// Upload represents a stored file and its extracted metadata.
// The file itself lives under <upload_root>/<user_id>/<stored_name>;
// only metadata goes in the database.
type Upload struct {
	ID           uint      `gorm:"primaryKey"`
	UserID       uint      `gorm:"index;not null"`
	Title        string    `gorm:"size:255"`
	Notes        string    `gorm:"size:1024"`
	OriginalName string    `gorm:"size:255;not null"`
	StoredName   string    `gorm:"size:255;uniqueIndex;not null"` // uuid + original extension
	MimeType     string    `gorm:"size:128;index"`
	SizeBytes    int64     `gorm:"not null"`
	MD5          string    `gorm:"size:32"`
	ExifJSON     string    `gorm:"type:text"` // extracted EXIF tags, JSON object
	CreatedAt    time.Time
	UpdatedAt    time.Time

	User User `gorm:"constraint:OnDelete:CASCADE"`
}
