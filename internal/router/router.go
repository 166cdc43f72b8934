package router

import (
	"net/http"

	"file-warehouse/internal/config"
	"file-warehouse/internal/handler"
	"file-warehouse/internal/middleware"
	"file-warehouse/internal/session"
	"file-warehouse/internal/storage"
	"file-warehouse/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter wires the Gin engine and all API routes.
func SetupRouter(cfg *config.Config, db *gorm.DB) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// unmatched path vs matched path with wrong verb
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		util.Error(c, http.StatusNotFound, util.CodeNotFound, "not found")
	})
	r.NoMethod(func(c *gin.Context) {
		util.Error(c, http.StatusMethodNotAllowed, util.CodeMethod, "method not allowed")
	})

	sessions := session.NewManager(db, cfg.Session.LifetimeHrs)
	store := storage.NewStore(cfg.Storage.UploadRoot)

	// ====== API ======
	api := r.Group("/api")

	// no auth required
	authHandler := handler.NewAuthHandler(db, cfg, sessions)
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/token", authHandler.Token)

	// everything else requires a session or API token
	protected := api.Group("")
	protected.Use(
		middleware.Auth(cfg, sessions, db),
		middleware.Audit(db, cfg.Security.EncryptionKey),
	)

	protected.POST("/auth/logout", authHandler.Logout)

	protected.GET("/me", handler.GetMe)
	protected.POST("/profile", handler.UpdateProfile(db))
	protected.POST("/profile/password", handler.ChangePassword(db, sessions, cfg.Security.BcryptCost))
	protected.POST("/profile/delete", handler.DeleteAccount(db, sessions))

	fileHandler := handler.NewFileHandler(db, store, cfg)
	protected.POST("/files", fileHandler.Upload)
	protected.GET("/files", fileHandler.List)
	protected.GET("/files/:id", fileHandler.Get)
	protected.PUT("/files/:id", fileHandler.Update)
	protected.DELETE("/files/:id", fileHandler.Delete)
	protected.GET("/files/:id/download", fileHandler.Download)

	exportHandler := handler.NewExportHandler(db)
	protected.GET("/export/csv", exportHandler.ExportCSV)
	protected.GET("/export/xlsx", exportHandler.ExportXLSX)

	backupHandler := handler.NewBackupHandler(db, cfg.Security.EncryptionKey, cfg.Backup.Dir)
	protected.POST("/backups", backupHandler.Create)
	protected.GET("/backups", backupHandler.List)
	protected.POST("/backups/:id/restore", backupHandler.Restore)
	protected.DELETE("/backups/:id", backupHandler.Delete)

	logHandler := handler.NewLogHandler(db, cfg.Security.EncryptionKey)
	protected.GET("/logs", logHandler.ListLogs)

	return r
}
