package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"file-warehouse/internal/models"
	"file-warehouse/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BackupHandler writes and restores encrypted snapshots of a user's
// file metadata. The stored files themselves are not copied; a backup
// is the inventory, restorable after an accidental bulk delete.
type BackupHandler struct {
	DB         *gorm.DB
	EncryptKey string
	BackupDir  string
}

func NewBackupHandler(db *gorm.DB, encryptKey, backupDir string) *BackupHandler {
	return &BackupHandler{
		DB:         db,
		EncryptKey: encryptKey,
		BackupDir:  backupDir,
	}
}

type backupData struct {
	UserID  uint            `json:"user_id"`
	Created time.Time       `json:"created"`
	Uploads []models.Upload `json:"uploads"`
}

// Create snapshots the caller's upload metadata into an encrypted file.
func (h *BackupHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var uploads []models.Upload
	if err := h.DB.Where("user_id = ?", user.ID).
		Order("id ASC").
		Find(&uploads).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		return
	}

	data := backupData{
		UserID:  user.ID,
		Created: time.Now(),
		Uploads: uploads,
	}
	raw, err := json.MarshalIndent(&data, "", "  ")
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "serialize failed")
		return
	}

	enc, err := util.EncryptAES(h.EncryptKey, raw)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "encrypt failed")
		return
	}

	if err := os.MkdirAll(h.BackupDir, 0o755); err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "create backup dir failed")
		return
	}

	fileName := fmt.Sprintf("backup-%d-%s.bin", user.ID, uuid.New().String())
	filePath := filepath.Join(h.BackupDir, fileName)

	if err := os.WriteFile(filePath, enc, 0o600); err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "write backup failed")
		return
	}

	backup := models.Backup{
		UserID:    user.ID,
		FileName:  fileName,
		SizeBytes: int64(len(enc)),
	}
	if err := h.DB.Create(&backup).Error; err != nil {
		_ = os.Remove(filePath)
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "record backup failed")
		return
	}

	util.Success(c, util.Response{
		"backup": gin.H{
			"id":         backup.ID,
			"file_name":  backup.FileName,
			"size_bytes": backup.SizeBytes,
			"created_at": backup.CreatedAt,
			"files":      len(uploads),
		},
	})
}

// List returns the caller's backups, newest first.
func (h *BackupHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	var backups []models.Backup
	if err := h.DB.Where("user_id = ?", user.ID).
		Order("id DESC").
		Find(&backups).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		return
	}

	items := make([]gin.H, 0, len(backups))
	for _, b := range backups {
		items = append(items, gin.H{
			"id":         b.ID,
			"file_name":  b.FileName,
			"size_bytes": b.SizeBytes,
			"created_at": b.CreatedAt,
		})
	}

	util.Success(c, util.Response{
		"items": items,
	})
}

// loadOwnedBackup fetches a backup row with the same 404/403 split as
// file lookups.
func (h *BackupHandler) loadOwnedBackup(c *gin.Context, id uint, requesterID uint) (*models.Backup, bool) {
	var backup models.Backup
	if err := h.DB.First(&backup, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "backup not found")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		}
		return nil, false
	}
	if backup.UserID != requesterID {
		util.Error(c, http.StatusForbidden, util.CodeForbidden, "not your backup")
		return nil, false
	}
	return &backup, true
}

// Restore re-inserts metadata rows from a backup that no longer exist.
// Rows whose stored name is still present are left untouched.
func (h *BackupHandler) Restore(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	backup, ok := h.loadOwnedBackup(c, id, user.ID)
	if !ok {
		return
	}

	enc, err := os.ReadFile(filepath.Join(h.BackupDir, backup.FileName))
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "read backup failed")
		return
	}

	raw, err := util.DecryptAES(h.EncryptKey, enc)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "decrypt backup failed")
		return
	}

	var data backupData
	if err := json.Unmarshal(raw, &data); err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "parse backup failed")
		return
	}
	if data.UserID != user.ID {
		util.Error(c, http.StatusForbidden, util.CodeForbidden, "not your backup")
		return
	}

	restored := 0
	for i := range data.Uploads {
		u := data.Uploads[i]

		var count int64
		if err := h.DB.Model(&models.Upload{}).
			Where("stored_name = ?", u.StoredName).
			Count(&count).Error; err != nil || count > 0 {
			continue
		}

		u.ID = 0 // fresh primary key
		u.UserID = user.ID
		if err := h.DB.Create(&u).Error; err == nil {
			restored++
		}
	}

	util.Success(c, util.Response{
		"message":  "restore finished",
		"restored": restored,
	})
}

// Delete removes a backup row and its file on disk.
func (h *BackupHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	backup, ok := h.loadOwnedBackup(c, id, user.ID)
	if !ok {
		return
	}

	if err := h.DB.Delete(backup).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "delete failed")
		return
	}
	_ = os.Remove(filepath.Join(h.BackupDir, backup.FileName))

	util.Success(c, util.Response{
		"message": "deleted",
	})
}
