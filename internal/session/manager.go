// Package session implements opaque, database-backed login sessions.
// A token is 32 random bytes hex encoded; the row is the only source
// of truth, so revocation and expiry take effect immediately.
package session

import (
	"errors"
	"fmt"
	"time"

	"file-warehouse/internal/models"
	"file-warehouse/internal/util"

	"gorm.io/gorm"
)

// ErrSessionInvalid covers unknown, revoked and expired tokens alike.
var ErrSessionInvalid = errors.New("session invalid")

const tokenBytes = 32

// Manager issues and validates session tokens.
type Manager struct {
	DB       *gorm.DB
	Lifetime time.Duration
}

// NewManager builds a Manager. lifetimeHours <= 0 defaults to 24.
func NewManager(db *gorm.DB, lifetimeHours int) *Manager {
	if lifetimeHours <= 0 {
		lifetimeHours = 24
	}
	return &Manager{
		DB:       db,
		Lifetime: time.Duration(lifetimeHours) * time.Hour,
	}
}

// Create issues a fresh token for userID. Tokens are never reused:
// every login gets its own row.
func (m *Manager) Create(userID uint) (string, error) {
	token, err := util.RandomToken(tokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	s := models.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().Add(m.Lifetime),
	}
	if err := m.DB.Create(&s).Error; err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Validate returns the user id a token belongs to. Expiry is not
// renewed: after the lifetime runs out the user logs in again.
func (m *Manager) Validate(token string) (uint, error) {
	if token == "" {
		return 0, ErrSessionInvalid
	}

	var s models.Session
	if err := m.DB.Where("token = ?", token).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrSessionInvalid
		}
		return 0, fmt.Errorf("query session: %w", err)
	}

	if s.Revoked || time.Now().After(s.ExpiresAt) {
		return 0, ErrSessionInvalid
	}
	return s.UserID, nil
}

// Revoke invalidates a token. Revoking an unknown or already-revoked
// token is a no-op.
func (m *Manager) Revoke(token string) error {
	if token == "" {
		return nil
	}
	if err := m.DB.Model(&models.Session{}).
		Where("token = ?", token).
		Update("revoked", true).Error; err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAll invalidates every session of a user (password change,
// account deletion).
func (m *Manager) RevokeAll(userID uint) error {
	if err := m.DB.Model(&models.Session{}).
		Where("user_id = ?", userID).
		Update("revoked", true).Error; err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

// PurgeExpired deletes rows that can never validate again.
func (m *Manager) PurgeExpired() error {
	if err := m.DB.
		Where("expires_at < ? OR revoked = ?", time.Now(), true).
		Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	return nil
}
