package handler

import (
	"net/http"
	"strings"
	"time"

	"file-warehouse/internal/middleware"
	"file-warehouse/internal/models"
	"file-warehouse/internal/session"
	"file-warehouse/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// currentUser pulls the authenticated user the middleware stashed in
// the context. Missing means the route was wired without Auth.
func currentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not logged in")
		return nil, false
	}
	user, ok := v.(*models.User)
	if !ok || user == nil {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not logged in")
		return nil, false
	}
	return user, true
}

// GetMe returns the current user's profile.
func GetMe(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	util.Success(c, util.Response{
		"user": gin.H{
			"id":           user.ID,
			"username":     user.Username,
			"display_name": user.DisplayName,
			"created_at":   user.CreatedAt,
		},
	})
}

// UpdateProfileReq carries the editable profile fields.
type UpdateProfileReq struct {
	DisplayName string `json:"display_name" binding:"max=64"`
}

// UpdateProfile updates display name.
func UpdateProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var req UpdateProfileReq
		if err := c.ShouldBindJSON(&req); err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid request")
			return
		}

		req.DisplayName = strings.TrimSpace(req.DisplayName)

		if err := db.Model(user).Update("display_name", req.DisplayName).Error; err != nil {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "update failed")
			return
		}

		user.DisplayName = req.DisplayName

		util.Success(c, util.Response{
			"user": gin.H{
				"id":           user.ID,
				"username":     user.Username,
				"display_name": user.DisplayName,
			},
		})
	}
}

// ChangePasswordReq requires the old password before setting a new one.
type ChangePasswordReq struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePassword rotates the password hash and revokes every other
// session of the account.
func ChangePassword(db *gorm.DB, sessions *session.Manager, bcryptCost int) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var req ChangePasswordReq
		if err := c.ShouldBindJSON(&req); err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid request")
			return
		}

		if !util.CheckPassword(req.OldPassword, user.PasswordHash) {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "old password is wrong")
			return
		}
		if err := util.ValidatePassword(req.NewPassword); err != nil {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
			return
		}

		hash, err := util.HashPassword(req.NewPassword, bcryptCost)
		if err != nil {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "hash password failed")
			return
		}

		if err := db.Model(user).Update("password_hash", hash).Error; err != nil {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "update password failed")
			return
		}

		_ = sessions.RevokeAll(user.ID)

		util.Success(c, util.Response{
			"message": "password changed, log in again with the new password",
		})
	}
}

// DeleteAccount closes the account with a 7-day undo buffer. Logging
// in during the buffer reopens it; after that the account is gone.
func DeleteAccount(db *gorm.DB, sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}

		now := time.Now()
		purgeAt := now.Add(7 * 24 * time.Hour)

		if err := db.Model(user).Updates(map[string]interface{}{
			"deleted_at":            now,
			"delete_permanently_at": purgeAt,
		}).Error; err != nil {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "close account failed")
			return
		}

		_ = sessions.RevokeAll(user.ID)

		util.Success(c, util.Response{
			"message":   "account closed, log in within 7 days to undo",
			"purges_at": purgeAt,
		})
	}
}
