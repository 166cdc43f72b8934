package handler

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"file-warehouse/internal/models"
	"file-warehouse/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// LogHandler lists the caller's audit trail.
type LogHandler struct {
	DB         *gorm.DB
	EncryptKey string
}

func NewLogHandler(db *gorm.DB, encryptKey string) *LogHandler {
	return &LogHandler{
		DB:         db,
		EncryptKey: encryptKey,
	}
}

// decryptField undoes base64+AES; on any failure the raw value comes
// back so old plaintext rows still render.
func (h *LogHandler) decryptField(cipherStr string) string {
	if cipherStr == "" || h.EncryptKey == "" {
		return cipherStr
	}
	b, err := base64.StdEncoding.DecodeString(cipherStr)
	if err != nil {
		return cipherStr
	}
	plain, err := util.DecryptAES(h.EncryptKey, b)
	if err != nil {
		return cipherStr
	}
	return string(plain)
}

type logResp struct {
	ID        uint      `json:"id"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Action    string    `json:"action"`
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"created_at"`
}

// ListLogs returns the caller's audit records, newest first, paged.
func (h *LogHandler) ListLogs(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page <= 0 {
		page = 1
	}
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	base := h.DB.Model(&models.AuditLog{}).Where("user_id = ?", user.ID)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		return
	}

	var logs []models.AuditLog
	if err := base.Session(&gorm.Session{}).
		Order("id DESC").
		Limit(size).
		Offset(offset).
		Find(&logs).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		return
	}

	items := make([]logResp, 0, len(logs))
	for _, l := range logs {
		items = append(items, logResp{
			ID:        l.ID,
			Method:    l.Method,
			Path:      h.decryptField(l.PathEnc),
			Action:    h.decryptField(l.ActionEnc),
			IP:        l.IP,
			CreatedAt: l.CreatedAt,
		})
	}

	util.Success(c, util.Response{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
	})
}
