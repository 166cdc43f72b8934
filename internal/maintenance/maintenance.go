// Package maintenance holds startup housekeeping: dead sessions are
// deleted and accounts past their 7-day close buffer are removed for
// good, files included.
package maintenance

import (
	"fmt"
	"time"

	"file-warehouse/internal/models"
	"file-warehouse/internal/session"
	"file-warehouse/internal/storage"

	"gorm.io/gorm"
)

// Sweep runs all housekeeping once. It is called at startup; restarts
// are frequent enough on shared hosting that no timer is needed.
func Sweep(db *gorm.DB, store *storage.Store) error {
	if err := session.NewManager(db, 0).PurgeExpired(); err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	if err := purgeClosedAccounts(db, store); err != nil {
		return fmt.Errorf("purge accounts: %w", err)
	}
	return nil
}

// purgeClosedAccounts erases every account whose undo buffer has run
// out: stored files first, then all rows that reference the user.
func purgeClosedAccounts(db *gorm.DB, store *storage.Store) error {
	var users []models.User
	if err := db.
		Where("delete_permanently_at IS NOT NULL AND delete_permanently_at < ?", time.Now()).
		Find(&users).Error; err != nil {
		return fmt.Errorf("query closed accounts: %w", err)
	}

	for _, u := range users {
		if err := store.RemoveAll(u.ID); err != nil {
			return err
		}
		for _, m := range []interface{}{
			&models.Upload{}, &models.Session{}, &models.Backup{}, &models.AuditLog{},
		} {
			if err := db.Where("user_id = ?", u.ID).Delete(m).Error; err != nil {
				return fmt.Errorf("delete user rows: %w", err)
			}
		}
		if err := db.Delete(&models.User{}, u.ID).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
	}
	return nil
}
