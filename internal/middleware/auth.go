package middleware

import (
	"errors"
	"net/http"
	"strings"

	"file-warehouse/internal/config"
	"file-warehouse/internal/models"
	"file-warehouse/internal/session"
	"file-warehouse/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ContextUserKey is where the authenticated user is stashed in the
// gin context for downstream handlers.
const ContextUserKey = "currentUser"

// Auth resolves the caller's identity and loads the user row.
// Browser clients carry the opaque session cookie; API clients may
// instead send "Authorization: Bearer <jwt>".
func Auth(cfg *config.Config, sessions *session.Manager, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := resolveUser(c, cfg, sessions)
		if !ok {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not logged in")
			c.Abort()
			return
		}

		var user models.User
		if err := db.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not logged in")
			} else {
				util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query user failed")
			}
			c.Abort()
			return
		}

		// closed accounts cannot act, even with a live session
		if user.DeletedAt != nil {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not logged in")
			c.Abort()
			return
		}

		c.Set(ContextUserKey, &user)
		c.Next()
	}
}

func resolveUser(c *gin.Context, cfg *config.Config, sessions *session.Manager) (uint, bool) {
	// 1) session cookie
	if cookie, err := c.Cookie(cfg.Session.CookieName); err == nil && cookie != "" {
		if userID, err := sessions.Validate(cookie); err == nil {
			return userID, true
		}
		return 0, false
	}

	// 2) Header: Authorization: Bearer <jwt>
	tokenStr := ""
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			tokenStr = parts[1]
		}
	}

	// 3) query parameter ?token= (downloads cannot set headers)
	if tokenStr == "" {
		tokenStr = c.Query("token")
	}

	if tokenStr == "" {
		return 0, false
	}
	claims, err := util.ParseToken(cfg.JWT.Secret, tokenStr)
	if err != nil {
		return 0, false
	}
	return claims.UserID, true
}
