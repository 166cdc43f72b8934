package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"file-warehouse/internal/config"
	"file-warehouse/internal/models"
	"file-warehouse/internal/session"
	"file-warehouse/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuthHandler covers register, login, logout and API token minting.
type AuthHandler struct {
	DB       *gorm.DB
	Cfg      *config.Config
	Sessions *session.Manager
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config, sessions *session.Manager) *AuthHandler {
	return &AuthHandler{
		DB:       db,
		Cfg:      cfg,
		Sessions: sessions,
	}
}

// ---------- register ----------

type registerReq struct {
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
	DisplayName     string `json:"display_name" binding:"max=64"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)

	if err := util.ValidateUsername(req.Username); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return
	}
	if err := util.ValidatePassword(req.Password); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return
	}
	if req.Password != req.ConfirmPassword {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "passwords do not match")
		return
	}

	hash, err := util.HashPassword(req.Password, h.Cfg.Security.BcryptCost)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "hash password failed")
		return
	}

	user := models.User{
		Username:     req.Username,
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
	}
	// the NOCASE unique index is the duplicate check: two concurrent
	// registrations can both pass a pre-query, only one insert wins
	if err := h.DB.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "username already taken")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "create user failed")
		}
		return
	}

	util.Success(c, util.Response{
		"message": "account created",
		"user": gin.H{
			"id":           user.ID,
			"username":     user.Username,
			"display_name": user.DisplayName,
		},
	})
}

// ---------- login ----------

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login verifies credentials and issues an opaque session cookie.
// Unknown user and wrong password answer identically.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)

	user, ok := h.verifyCredentials(c, req.Username, req.Password)
	if !ok {
		return
	}

	token, err := h.Sessions.Create(user.ID)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "create session failed")
		return
	}

	h.setSessionCookie(c, token, int(h.Sessions.Lifetime.Seconds()))

	util.Success(c, util.Response{
		"user": gin.H{
			"id":           user.ID,
			"username":     user.Username,
			"display_name": user.DisplayName,
		},
	})
}

// verifyCredentials implements the shared login checks and writes the
// error response itself when it returns ok=false.
func (h *AuthHandler) verifyCredentials(c *gin.Context, username, password string) (*models.User, bool) {
	var user models.User
	if err := h.DB.Where("LOWER(username) = LOWER(?)", username).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// burn a bcrypt compare so unknown users cost the same
			util.FakePasswordCheck(password)
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "wrong username or password")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query user failed")
		}
		return nil, false
	}

	now := time.Now()

	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "account locked, try again later")
		return nil, false
	}

	if !util.CheckPassword(password, user.PasswordHash) {
		// wrong password: count it, lock for 10 minutes after 5 misses
		user.FailedLoginAttempts++
		if user.FailedLoginAttempts >= 5 {
			lockUntil := now.Add(10 * time.Minute)
			user.LockedUntil = &lockUntil
			user.FailedLoginAttempts = 0
		}
		_ = h.DB.Save(&user).Error
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "wrong username or password")
		return nil, false
	}

	// a login inside the 7-day buffer reopens a closed account
	if user.DeletedAt != nil {
		if user.DeletePermanentlyAt != nil && now.Before(*user.DeletePermanentlyAt) {
			user.DeletedAt = nil
			user.DeletePermanentlyAt = nil
		} else {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "account closed")
			return nil, false
		}
	}

	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginIP = c.ClientIP()
	user.LastLoginAt = &now
	_ = h.DB.Save(&user).Error

	return &user, true
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.Cfg.Session.CookieName, token, maxAge, "/", "", h.Cfg.Session.Secure, true)
}

// ---------- logout ----------

// Logout revokes the current session and clears the cookie. Revoking
// twice is harmless.
func (h *AuthHandler) Logout(c *gin.Context) {
	if cookie, err := c.Cookie(h.Cfg.Session.CookieName); err == nil && cookie != "" {
		if err := h.Sessions.Revoke(cookie); err != nil {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "revoke session failed")
			return
		}
	}
	h.setSessionCookie(c, "", -1)

	util.Success(c, util.Response{
		"message": "logged out",
	})
}

// ---------- API token ----------

// Token exchanges credentials for an HS256 bearer token, for clients
// that cannot hold a cookie jar.
func (h *AuthHandler) Token(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid request")
		return
	}

	req.Username = strings.TrimSpace(req.Username)

	user, ok := h.verifyCredentials(c, req.Username, req.Password)
	if !ok {
		return
	}

	ttl := time.Duration(h.Cfg.JWT.ExpireHours) * time.Hour
	token, err := util.GenerateToken(h.Cfg.JWT.Secret, h.Cfg.JWT.Issuer, user.ID, ttl)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "generate token failed")
		return
	}

	util.Success(c, util.Response{
		"token": token,
		"user": gin.H{
			"id":       user.ID,
			"username": user.Username,
		},
	})
}
