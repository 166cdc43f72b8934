package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"file-warehouse/internal/config"
	"file-warehouse/internal/metadata"
	"file-warehouse/internal/models"
	"file-warehouse/internal/storage"
	"file-warehouse/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// FileHandler covers upload, listing, metadata edit, delete and
// download of warehouse files.
type FileHandler struct {
	DB    *gorm.DB
	Store *storage.Store
	Cfg   *config.Config
}

func NewFileHandler(db *gorm.DB, store *storage.Store, cfg *config.Config) *FileHandler {
	return &FileHandler{
		DB:    db,
		Store: store,
		Cfg:   cfg,
	}
}

// ---------- responses ----------

type uploadResp struct {
	ID           uint            `json:"id"`
	Title        string          `json:"title"`
	Notes        string          `json:"notes"`
	OriginalName string          `json:"original_name"`
	MimeType     string          `json:"mime_type"`
	SizeBytes    int64           `json:"size_bytes"`
	MD5          string          `json:"md5"`
	Exif         json.RawMessage `json:"exif"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toUploadResp(u *models.Upload) uploadResp {
	exif := u.ExifJSON
	if exif == "" {
		exif = "{}"
	}
	return uploadResp{
		ID:           u.ID,
		Title:        u.Title,
		Notes:        u.Notes,
		OriginalName: u.OriginalName,
		MimeType:     u.MimeType,
		SizeBytes:    u.SizeBytes,
		MD5:          u.MD5,
		Exif:         json.RawMessage(exif),
		CreatedAt:    u.CreatedAt,
	}
}

// parseID reads the :id route parameter.
func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid id")
		return 0, false
	}
	return uint(id), true
}

// loadOwned fetches an upload and enforces ownership: unknown id is
// 404, someone else's upload is 403. The error response is already
// written when ok is false.
func (h *FileHandler) loadOwned(c *gin.Context, id uint, requesterID uint) (*models.Upload, bool) {
	var upload models.Upload
	if err := h.DB.First(&upload, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "file not found")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		}
		return nil, false
	}
	if upload.UserID != requesterID {
		util.Error(c, http.StatusForbidden, util.CodeForbidden, "not your file")
		return nil, false
	}
	return &upload, true
}

// ---------- upload ----------

// Upload accepts a multipart form: file (required), title, notes.
// Metadata (mime, checksum, EXIF) is probed server side after the
// bytes land on disk.
func (h *FileHandler) Upload(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "please select a file")
		return
	}
	if fileHeader.Size > h.Cfg.Storage.MaxUploadBytes {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "file too large")
		return
	}
	if err := util.ValidateFilename(fileHeader.Filename); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	notes := strings.TrimSpace(c.PostForm("notes"))
	if err := util.ValidateTitle(title); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "read upload failed")
		return
	}
	defer src.Close()

	stored, size, err := h.Store.Save(user.ID, fileHeader.Filename, src)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "store file failed")
		return
	}

	info, err := metadata.Probe(h.Store.Path(user.ID, stored))
	if err != nil {
		_ = h.Store.Remove(user.ID, stored)
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "inspect file failed")
		return
	}

	upload := models.Upload{
		UserID:       user.ID,
		Title:        title,
		Notes:        notes,
		OriginalName: fileHeader.Filename,
		StoredName:   stored,
		MimeType:     info.MimeType,
		SizeBytes:    size,
		MD5:          info.MD5,
		ExifJSON:     info.ExifJSON,
	}
	if err := h.DB.Create(&upload).Error; err != nil {
		_ = h.Store.Remove(user.ID, stored)
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "save failed, try again")
		return
	}

	util.Success(c, util.Response{
		"file": toUploadResp(&upload),
	})
}

// ---------- get / list ----------

func (h *FileHandler) Get(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	upload, ok := h.loadOwned(c, id, user.ID)
	if !ok {
		return
	}

	util.Success(c, util.Response{
		"file": toUploadResp(upload),
	})
}

// List returns the caller's files, newest first, with paging and
// optional mime-prefix / text filters.
func (h *FileHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page <= 0 {
		page = 1
	}
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(h.Cfg.App.PageSize)))
	if size <= 0 || size > 100 {
		size = h.Cfg.App.PageSize
	}
	offset := (page - 1) * size

	base := h.DB.Model(&models.Upload{}).Where("user_id = ?", user.ID)

	// ?mime=image filters by mime type prefix
	if mime := strings.TrimSpace(c.Query("mime")); mime != "" {
		base = base.Where("mime_type LIKE ?", mime+"%")
	}
	// ?q= matches title, notes and original name
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + q + "%"
		base = base.Where("title LIKE ? OR notes LIKE ? OR original_name LIKE ?", like, like, like)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		return
	}

	var uploads []models.Upload
	if err := base.Session(&gorm.Session{}).
		Order("id DESC").
		Limit(size).
		Offset(offset).
		Find(&uploads).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		return
	}

	items := make([]uploadResp, 0, len(uploads))
	for i := range uploads {
		items = append(items, toUploadResp(&uploads[i]))
	}

	util.Success(c, util.Response{
		"items": items,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

// ---------- update metadata ----------

type updateFileReq struct {
	Title string `json:"title" binding:"max=255"`
	Notes string `json:"notes" binding:"max=1024"`
}

// Update edits title and notes. The stored bytes are immutable;
// replacing content means a new upload.
func (h *FileHandler) Update(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req updateFileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "invalid request")
		return
	}

	upload, ok := h.loadOwned(c, id, user.ID)
	if !ok {
		return
	}

	upload.Title = strings.TrimSpace(req.Title)
	upload.Notes = strings.TrimSpace(req.Notes)

	if err := h.DB.Save(upload).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "save failed, try again")
		return
	}

	util.Success(c, util.Response{
		"file": toUploadResp(upload),
	})
}

// ---------- delete ----------

func (h *FileHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	upload, ok := h.loadOwned(c, id, user.ID)
	if !ok {
		return
	}

	if err := h.DB.Delete(upload).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "delete failed")
		return
	}
	// row is gone; a leftover file on disk is only wasted space
	_ = h.Store.Remove(upload.UserID, upload.StoredName)

	util.Success(c, util.Response{
		"message": "deleted",
	})
}

// ---------- download ----------

// Download streams the stored bytes under the original filename.
// Other users' files are off limits unless the deployment explicitly
// enables global downloads.
func (h *FileHandler) Download(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	var upload models.Upload
	if err := h.DB.First(&upload, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "file not found")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		}
		return
	}

	if upload.UserID != user.ID && !h.Cfg.Storage.AllowGlobalDownloads {
		util.Error(c, http.StatusForbidden, util.CodeForbidden, "not your file")
		return
	}

	path := h.Store.Path(upload.UserID, upload.StoredName)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", upload.OriginalName))
	c.Header("Content-Type", upload.MimeType)
	c.File(path)
}
