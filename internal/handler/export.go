package handler

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"file-warehouse/internal/models"
	"file-warehouse/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// ExportHandler writes the caller's file inventory as CSV or XLSX.
type ExportHandler struct {
	DB *gorm.DB
}

func NewExportHandler(db *gorm.DB) *ExportHandler {
	return &ExportHandler{DB: db}
}

var exportHeader = []string{"ID", "Title", "Original Name", "MIME Type", "Size (bytes)", "MD5", "Uploaded At"}

func exportRow(u *models.Upload) []string {
	return []string{
		strconv.FormatUint(uint64(u.ID), 10),
		u.Title,
		u.OriginalName,
		u.MimeType,
		strconv.FormatInt(u.SizeBytes, 10),
		u.MD5,
		u.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

func (h *ExportHandler) listAll(c *gin.Context, userID uint) ([]models.Upload, bool) {
	var uploads []models.Upload
	if err := h.DB.Where("user_id = ?", userID).
		Order("id DESC").
		Find(&uploads).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "query failed")
		return nil, false
	}
	return uploads, true
}

// ExportCSV streams the inventory as CSV.
func (h *ExportHandler) ExportCSV(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	uploads, ok := h.listAll(c, user.ID)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"files_%s.csv\"",
		time.Now().Format("20060102")))

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	// UTF-8 BOM so spreadsheet apps detect the encoding
	c.Writer.Write([]byte{0xEF, 0xBB, 0xBF})

	writer.Write(exportHeader)
	for i := range uploads {
		writer.Write(exportRow(&uploads[i]))
	}
}

// ExportXLSX streams the inventory as an Excel workbook.
func (h *ExportHandler) ExportXLSX(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	uploads, ok := h.listAll(c, user.ID)
	if !ok {
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Files"
	f.SetSheetName("Sheet1", sheet)

	for col, name := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, name)
	}
	for row := range uploads {
		for col, v := range exportRow(&uploads[row]) {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"files_%s.xlsx\"",
		time.Now().Format("20060102")))

	if err := f.Write(c.Writer); err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "write workbook failed")
	}
}
