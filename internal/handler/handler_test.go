package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"file-warehouse/internal/config"
	"file-warehouse/internal/database"
	"file-warehouse/internal/models"
	"file-warehouse/internal/router"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func newTestServer(t *testing.T) *gin.Engine {
	r, _ := newTestEnv(t)
	return r
}

// newTestEnv also hands back the database for tests that need to poke
// at rows directly.
func newTestEnv(t *testing.T) (*gin.Engine, *gorm.DB) {
	tmp := t.TempDir()

	cfg := &config.Config{}
	cfg.Server.Mode = gin.TestMode
	cfg.Database.Path = filepath.Join(tmp, "warehouse.db")
	cfg.Session.CookieName = "wh_session"
	cfg.Session.LifetimeHrs = 24
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.Issuer = "file-warehouse"
	cfg.JWT.ExpireHours = 1
	cfg.Security.BcryptCost = 4 // keep the tests fast
	cfg.Security.EncryptionKey = "test-encryption-key"
	cfg.Storage.UploadRoot = filepath.Join(tmp, "uploads")
	cfg.Storage.MaxUploadBytes = 1 << 20
	cfg.Backup.Dir = filepath.Join(tmp, "backups")
	cfg.App.PageSize = 20

	db, err := database.Init(cfg.Database)
	if err != nil {
		t.Fatalf("init database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return router.SetupRouter(cfg, db), db
}

// doJSON posts a JSON body and returns the recorder.
func doJSON(r *gin.Engine, method, path string, body interface{}, cookie string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "wh_session", Value: cookie})
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func register(t *testing.T, r *gin.Engine, username, password string) {
	w := doJSON(r, http.MethodPost, "/api/auth/register", map[string]string{
		"username":         username,
		"password":         password,
		"confirm_password": password,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("register %s: status %d, body %s", username, w.Code, w.Body.String())
	}
}

// login returns the session cookie value.
func login(t *testing.T, r *gin.Engine, username, password string) string {
	w := doJSON(r, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status %d, body %s", username, w.Code, w.Body.String())
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == "wh_session" && c.Value != "" {
			return c.Value
		}
	}
	t.Fatal("login did not set a session cookie")
	return ""
}

// upload posts a small text file and returns its id.
func upload(t *testing.T, r *gin.Engine, cookie, title, content string) uint {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "note.txt")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte(content))
	mw.WriteField("title", title)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: "wh_session", Value: cookie})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("upload: status %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			File struct {
				ID uint `json:"id"`
			} `json:"file"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse upload response: %v", err)
	}
	if resp.Data.File.ID == 0 {
		t.Fatal("upload returned no id")
	}
	return resp.Data.File.ID
}

// ---------- auth ----------

func TestRegisterLoginMe(t *testing.T) {
	r := newTestServer(t)

	register(t, r, "alice", "Password123")
	cookie := login(t, r, "alice", "Password123")

	w := doJSON(r, http.MethodGet, "/api/me", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("me: status %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"alice"`)) {
		t.Errorf("me response missing username: %s", w.Body.String())
	}

	// no cookie -> 401
	w = doJSON(r, http.MethodGet, "/api/me", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated me: want 401, got %d", w.Code)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := newTestServer(t)

	register(t, r, "alice", "Password123")

	w := doJSON(r, http.MethodPost, "/api/auth/register", map[string]string{
		"username":         "ALICE", // unique case-insensitively
		"password":         "Password123",
		"confirm_password": "Password123",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate register: want 400, got %d", w.Code)
	}
}

func TestUsernameUniqueInDatabase(t *testing.T) {
	r, db := newTestEnv(t)

	register(t, r, "alice", "Password123")

	// the index itself rejects case variants, so a second writer that
	// slips past the handler still cannot commit
	err := db.Create(&models.User{Username: "ALICE", PasswordHash: "x"}).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Errorf("case-variant insert: want gorm.ErrDuplicatedKey, got %v", err)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	r := newTestServer(t)

	register(t, r, "alice", "Password123")

	wrongPwd := doJSON(r, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "Password456",
	}, "")
	unknownUser := doJSON(r, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "nobody",
		"password": "Password123",
	}, "")

	if wrongPwd.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: want 401, got %d", wrongPwd.Code)
	}
	if unknownUser.Code != http.StatusUnauthorized {
		t.Errorf("unknown user: want 401, got %d", unknownUser.Code)
	}
	// no username enumeration: both answers are identical
	if wrongPwd.Body.String() != unknownUser.Body.String() {
		t.Errorf("responses differ:\n%s\n%s", wrongPwd.Body.String(), unknownUser.Body.String())
	}
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	r := newTestServer(t)

	register(t, r, "alice", "Password123")

	for i := 0; i < 5; i++ {
		w := doJSON(r, http.MethodPost, "/api/auth/login", map[string]string{
			"username": "alice",
			"password": "Password456",
		}, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("wrong password %d: want 401, got %d", i+1, w.Code)
		}
	}

	// even the right password bounces off a locked account
	w := doJSON(r, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "Password123",
	}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("locked login: want 401, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("account locked")) {
		t.Errorf("locked login should say so: %s", w.Body.String())
	}
}

func TestLogin_LockExpires(t *testing.T) {
	r, db := newTestEnv(t)

	register(t, r, "alice", "Password123")
	for i := 0; i < 5; i++ {
		doJSON(r, http.MethodPost, "/api/auth/login", map[string]string{
			"username": "alice", "password": "nope-Password1",
		}, "")
	}

	// age the lock out instead of waiting ten minutes
	if err := db.Model(&models.User{}).
		Where("username = ?", "alice").
		Update("locked_until", time.Now().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("age lock: %v", err)
	}

	login(t, r, "alice", "Password123")
}

func TestLogout_TokenUnusable(t *testing.T) {
	r := newTestServer(t)

	register(t, r, "alice", "Password123")
	cookie := login(t, r, "alice", "Password123")

	w := doJSON(r, http.MethodPost, "/api/auth/logout", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: status %d", w.Code)
	}

	// the old token must not validate again
	w = doJSON(r, http.MethodGet, "/api/me", nil, cookie)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("reused token: want 401, got %d", w.Code)
	}
}

func TestAPIToken(t *testing.T) {
	r := newTestServer(t)

	register(t, r, "alice", "Password123")

	w := doJSON(r, http.MethodPost, "/api/auth/token", map[string]string{
		"username": "alice",
		"password": "Password123",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("token: status %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Data.Token == "" {
		t.Fatal("no token in response")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Data.Token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("bearer me: want 200, got %d, body %s", rec.Code, rec.Body.String())
	}
}

// ---------- files ----------

func TestFileLifecycle(t *testing.T) {
	r := newTestServer(t)

	register(t, r, "alice", "Password123")
	cookie := login(t, r, "alice", "Password123")

	id := upload(t, r, cookie, "hi", "note contents")

	// read it back
	w := doJSON(r, http.MethodGet, fmt.Sprintf("/api/files/%d", id), nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"hi"`)) {
		t.Errorf("get response missing title: %s", w.Body.String())
	}

	// update metadata
	w = doJSON(r, http.MethodPut, fmt.Sprintf("/api/files/%d", id), map[string]string{
		"title": "renamed",
		"notes": "now with notes",
	}, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("update: status %d, body %s", w.Code, w.Body.String())
	}

	// download brings back the original bytes
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/files/%d/download", id), nil)
	req.AddCookie(&http.Cookie{Name: "wh_session", Value: cookie})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("download: status %d", rec.Code)
	}
	if rec.Body.String() != "note contents" {
		t.Errorf("download content mismatch: %q", rec.Body.String())
	}

	// delete, then the id is gone
	w = doJSON(r, http.MethodDelete, fmt.Sprintf("/api/files/%d", id), nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status %d", w.Code)
	}
	w = doJSON(r, http.MethodGet, fmt.Sprintf("/api/files/%d", id), nil, cookie)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: want 404, got %d", w.Code)
	}
}

func TestFileOwnership(t *testing.T) {
	r := newTestServer(t)

	register(t, r, "alice", "Password123")
	register(t, r, "bob", "Password456")
	aliceCookie := login(t, r, "alice", "Password123")

	id := upload(t, r, aliceCookie, "hi", "alice's note")

	bobCookie := login(t, r, "bob", "Password456")

	// bob cannot read, update or delete alice's file
	if w := doJSON(r, http.MethodGet, fmt.Sprintf("/api/files/%d", id), nil, bobCookie); w.Code != http.StatusForbidden {
		t.Errorf("bob get: want 403, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodPut, fmt.Sprintf("/api/files/%d", id), map[string]string{"title": "mine now"}, bobCookie); w.Code != http.StatusForbidden {
		t.Errorf("bob update: want 403, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodDelete, fmt.Sprintf("/api/files/%d", id), nil, bobCookie); w.Code != http.StatusForbidden {
		t.Errorf("bob delete: want 403, got %d", w.Code)
	}

	// downloads are owner-only by default
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/files/%d/download", id), nil)
	req.AddCookie(&http.Cookie{Name: "wh_session", Value: bobCookie})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("bob download: want 403, got %d", rec.Code)
	}

	// unknown ids stay 404 for everyone
	if w := doJSON(r, http.MethodGet, "/api/files/99999", nil, bobCookie); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: want 404, got %d", w.Code)
	}

	// and alice's own list never shows bob anything
	w := doJSON(r, http.MethodGet, "/api/files", nil, bobCookie)
	if w.Code != http.StatusOK {
		t.Fatalf("bob list: status %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"total":0`)) {
		t.Errorf("bob's list should be empty: %s", w.Body.String())
	}
}

// ---------- routing ----------

func TestRouting_NotFoundAndMethodNotAllowed(t *testing.T) {
	r := newTestServer(t)

	register(t, r, "alice", "Password123")
	cookie := login(t, r, "alice", "Password123")

	if w := doJSON(r, http.MethodGet, "/api/no/such/route", nil, cookie); w.Code != http.StatusNotFound {
		t.Errorf("unknown path: want 404, got %d", w.Code)
	}
	if w := doJSON(r, http.MethodPatch, "/api/files/1", nil, cookie); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("wrong verb: want 405, got %d", w.Code)
	}
}

// ---------- backups and exports ----------

func TestBackupRoundtrip(t *testing.T) {
	r := newTestServer(t)

	register(t, r, "alice", "Password123")
	cookie := login(t, r, "alice", "Password123")

	id := upload(t, r, cookie, "keep me", "precious data")

	w := doJSON(r, http.MethodPost, "/api/backups", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("create backup: status %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data struct {
			Backup struct {
				ID uint `json:"id"`
			} `json:"backup"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Data.Backup.ID == 0 {
		t.Fatal("backup returned no id")
	}

	// wipe the metadata row, then restore it from the backup
	doJSON(r, http.MethodDelete, fmt.Sprintf("/api/files/%d", id), nil, cookie)

	w = doJSON(r, http.MethodPost, fmt.Sprintf("/api/backups/%d/restore", resp.Data.Backup.ID), nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("restore: status %d, body %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"restored":1`)) {
		t.Errorf("restore should bring one row back: %s", w.Body.String())
	}

	w = doJSON(r, http.MethodGet, "/api/files", nil, cookie)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"keep me"`)) {
		t.Errorf("restored file missing from list: %s", w.Body.String())
	}
}

func TestExportCSV(t *testing.T) {
	r := newTestServer(t)

	register(t, r, "alice", "Password123")
	cookie := login(t, r, "alice", "Password123")
	upload(t, r, cookie, "exported", "some bytes")

	req := httptest.NewRequest(http.MethodGet, "/api/export/csv", nil)
	req.AddCookie(&http.Cookie{Name: "wh_session", Value: cookie})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("export: status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !bytes.Contains([]byte(ct), []byte("text/csv")) {
		t.Errorf("content type: %s", ct)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("exported")) {
		t.Error("csv missing the uploaded title")
	}
}

// ---------- profile ----------

func TestChangePassword_RevokesSessions(t *testing.T) {
	r := newTestServer(t)

	register(t, r, "alice", "Password123")
	cookie := login(t, r, "alice", "Password123")

	w := doJSON(r, http.MethodPost, "/api/profile/password", map[string]string{
		"old_password": "Password123",
		"new_password": "Password456",
	}, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("change password: status %d, body %s", w.Code, w.Body.String())
	}

	// the old session died with the old password
	if w := doJSON(r, http.MethodGet, "/api/me", nil, cookie); w.Code != http.StatusUnauthorized {
		t.Errorf("old session: want 401, got %d", w.Code)
	}

	// old password no longer works, new one does
	if w := doJSON(r, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice", "password": "Password123",
	}, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("old password login: want 401, got %d", w.Code)
	}
	login(t, r, "alice", "Password456")
}

func TestAccountCloseAndReopen(t *testing.T) {
	r, db := newTestEnv(t)

	register(t, r, "alice", "Password123")
	cookie := login(t, r, "alice", "Password123")

	w := doJSON(r, http.MethodPost, "/api/profile/delete", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("close account: status %d, body %s", w.Code, w.Body.String())
	}

	// every session of the closed account is dead
	if w := doJSON(r, http.MethodGet, "/api/me", nil, cookie); w.Code != http.StatusUnauthorized {
		t.Errorf("closed account session: want 401, got %d", w.Code)
	}

	// logging in inside the undo buffer reopens the account
	cookie = login(t, r, "alice", "Password123")
	if w := doJSON(r, http.MethodGet, "/api/me", nil, cookie); w.Code != http.StatusOK {
		t.Errorf("reopened account: want 200, got %d, body %s", w.Code, w.Body.String())
	}

	var user models.User
	if err := db.Where("username = ?", "alice").First(&user).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.DeletedAt != nil || user.DeletePermanentlyAt != nil {
		t.Error("reopening must clear the close markers")
	}
}

func TestAccountClose_NoReopenPastBuffer(t *testing.T) {
	r, db := newTestEnv(t)

	register(t, r, "alice", "Password123")
	cookie := login(t, r, "alice", "Password123")
	doJSON(r, http.MethodPost, "/api/profile/delete", nil, cookie)

	// pretend the 7 days are over
	if err := db.Model(&models.User{}).
		Where("username = ?", "alice").
		Update("delete_permanently_at", time.Now().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("age close marker: %v", err)
	}

	w := doJSON(r, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": "Password123",
	}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("login past buffer: want 401, got %d", w.Code)
	}
}
