package middleware

import (
	"encoding/base64"

	"file-warehouse/internal/models"
	"file-warehouse/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func encryptField(encryptKey, plain string) (string, error) {
	if plain == "" || encryptKey == "" {
		return plain, nil
	}
	b, err := util.EncryptAES(encryptKey, []byte(plain))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Audit records one row per authenticated request. Path and action are
// stored encrypted; the trail itself should not reveal what a user
// keeps in their warehouse.
func Audit(db *gorm.DB, encryptKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var userID uint
		if v, ok := c.Get(ContextUserKey); ok {
			if user, ok := v.(*models.User); ok && user != nil {
				userID = user.ID
			}
		}

		c.Next()

		// only log actions by logged-in users
		if userID == 0 {
			return
		}

		path := c.Request.URL.Path
		action := c.Request.Method + " " + path

		encPath, _ := encryptField(encryptKey, path)
		encAction, _ := encryptField(encryptKey, action)

		log := models.AuditLog{
			UserID:    &userID,
			PathEnc:   encPath,
			Method:    c.Request.Method,
			ActionEnc: encAction,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}

		_ = db.Create(&log).Error
	}
}
