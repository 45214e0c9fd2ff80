package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/mediavault/catalog"
	"github.com/cppla/mediavault/config"
	"github.com/cppla/mediavault/media"
	"github.com/cppla/mediavault/models"
	"github.com/cppla/mediavault/storage"
	"github.com/cppla/mediavault/utils"
)

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupTestServer(t *testing.T) http.Handler {
	t.Helper()

	dir := t.TempDir()
	cfg := config.AppConfig{
		AppPort:            "0",
		JWTSecret:          "router-test-secret",
		GinMode:            "test",
		GinPath:            filepath.Join(dir, "gin.log"),
		DBDriver:           "sqlite",
		SQLitePath:         filepath.Join(dir, "test.db"),
		StoragePath:        filepath.Join(dir, "blobs"),
		MaxStorageMB:       1,
		MaxUploadSizeMB:    1,
		RateLimitPerMinute: 100000,
		AllowedOrigins:     []string{"*"},
		RedisHost:          "127.0.0.1",
		RedisPort:          6379,
		LogLevel:           "error",
	}
	config.Set(cfg)
	require.NoError(t, utils.InitLogger(cfg))

	db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.MediaEntry{}))

	store, err := storage.NewDiskStore(cfg.StoragePath)
	require.NoError(t, err)
	cat := catalog.New(db)
	svc := media.NewService(store, cat, cfg.MaxStorageBytes(), utils.Sugar)

	return SetupRouter(db, cat, svc)
}

func do(t *testing.T, h http.Handler, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return do(t, h, method, path, token, bytes.NewReader(b), "application/json")
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, out), string(resp.Data))
}

func multipartUpload(t *testing.T, filename, mimeType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func register(t *testing.T, h http.Handler, username string) {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func login(t *testing.T, h http.Handler, username string) string {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Token string `json:"token"`
	}
	decodeData(t, w, &data)
	require.NotEmpty(t, data.Token)
	return data.Token
}

func approve(t *testing.T, h http.Handler, adminToken string, username string) {
	t.Helper()
	w := do(t, h, http.MethodGet, "/api/v1/admin/users/pending", adminToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Pending []struct {
			ID       uint   `json:"id"`
			Username string `json:"username"`
		} `json:"pending_users"`
	}
	decodeData(t, w, &data)

	for _, u := range data.Pending {
		if u.Username == username {
			w = do(t, h, http.MethodPost, fmt.Sprintf("/api/v1/admin/users/%d/approve", u.ID), adminToken, nil, "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			return
		}
	}
	t.Fatalf("user %s not in pending list", username)
}

func TestHealth(t *testing.T) {
	h := setupTestServer(t)
	w := do(t, h, http.MethodGet, "/health", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestFirstUserIsApprovedAdmin(t *testing.T) {
	h := setupTestServer(t)

	register(t, h, "root")
	adminToken := login(t, h, "root")

	// Second user cannot log in until approved.
	register(t, h, "bob")
	w := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "bob",
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	approve(t, h, adminToken, "bob")
	bobToken := login(t, h, "bob")

	// Bob is no admin.
	w = do(t, h, http.MethodGet, "/api/v1/admin/users", bobToken, nil, "")
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/v1/admin/users", adminToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestUploadRequiresAuth(t *testing.T) {
	h := setupTestServer(t)
	body, ct := multipartUpload(t, "anon.txt", "text/plain", []byte("hi"))
	w := do(t, h, http.MethodPost, "/api/v1/files/upload", "", body, ct)
	require.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
}

func TestMediaLifecycle(t *testing.T) {
	h := setupTestServer(t)

	register(t, h, "admin")
	adminToken := login(t, h, "admin")
	register(t, h, "bob")
	approve(t, h, adminToken, "bob")
	bobToken := login(t, h, "bob")
	register(t, h, "carol")
	approve(t, h, adminToken, "carol")
	carolToken := login(t, h, "carol")

	// Upload a plain file as bob.
	body, ct := multipartUpload(t, "notes.txt", "text/plain", []byte("hello world"))
	w := do(t, h, http.MethodPost, "/api/v1/files/upload", bobToken, body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var uploaded struct {
		ID  uint   `json:"id"`
		Key string `json:"key"`
	}
	decodeData(t, w, &uploaded)
	require.Equal(t, "notes.txt", uploaded.Key)

	// Same filename again is a conflict.
	body, ct = multipartUpload(t, "notes.txt", "text/plain", []byte("other content"))
	w = do(t, h, http.MethodPost, "/api/v1/files/upload", bobToken, body, ct)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	// Listing shows the entry.
	w = do(t, h, http.MethodGet, "/api/v1/files", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var listing struct {
		Items []models.MediaEntry `json:"items"`
		Total int64               `json:"total"`
	}
	decodeData(t, w, &listing)
	require.Equal(t, int64(1), listing.Total)
	require.Equal(t, "notes.txt", listing.Items[0].Key)
	require.Equal(t, int64(len("hello world")), listing.Items[0].SizeBytes)

	// Search hits and misses.
	w = do(t, h, http.MethodGet, "/api/v1/search?query=NOTES", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var search struct {
		Results []models.MediaEntry `json:"results"`
	}
	decodeData(t, w, &search)
	require.Len(t, search.Results, 1)

	w = do(t, h, http.MethodGet, "/api/v1/search?query=zzzzz", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, &search)
	require.Empty(t, search.Results)

	// Range request against the stored file.
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/files/%d", uploaded.ID), nil)
	req.Header.Set("Range", "bytes=0-4")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusPartialContent, rec.Code)
	require.Equal(t, "bytes 0-4/11", rec.Header().Get("Content-Range"))
	require.Equal(t, "hello", rec.Body.String())

	// Carol may not delete bob's file; bob may.
	w = do(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/files/%d", uploaded.ID), carolToken, nil, "")
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = do(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/files/%d", uploaded.ID), bobToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Gone after deletion.
	w = do(t, h, http.MethodGet, fmt.Sprintf("/api/v1/files/%d", uploaded.ID), "", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}

func TestVideoUploadEnforcesMimePolicy(t *testing.T) {
	h := setupTestServer(t)

	register(t, h, "admin")
	token := login(t, h, "admin")

	// Non-video content is rejected by the video endpoint.
	body, ct := multipartUpload(t, "fake.mp4", "text/plain", []byte("not a video"))
	w := do(t, h, http.MethodPost, "/api/v1/videos/upload", token, body, ct)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	// video/* goes through and is range-streamable.
	body, ct = multipartUpload(t, "clip.mp4", "video/mp4", bytes.Repeat([]byte("v"), 200))
	w = do(t, h, http.MethodPost, "/api/v1/videos/upload", token, body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var uploaded struct {
		ID uint `json:"id"`
	}
	decodeData(t, w, &uploaded)

	rec := do(t, h, http.MethodGet, fmt.Sprintf("/api/v1/videos/stream/%d", uploaded.ID), "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	require.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	require.Len(t, rec.Body.Bytes(), 200)
}

func TestUnsatisfiableRangeOverHTTP(t *testing.T) {
	h := setupTestServer(t)

	register(t, h, "admin")
	token := login(t, h, "admin")

	body, ct := multipartUpload(t, "small.bin", "application/octet-stream", []byte("tiny"))
	w := do(t, h, http.MethodPost, "/api/v1/files/upload", token, body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var uploaded struct {
		ID uint `json:"id"`
	}
	decodeData(t, w, &uploaded)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/files/%d", uploaded.ID), nil)
	req.Header.Set("Range", "bytes=100-")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	require.Equal(t, "bytes */4", rec.Header().Get("Content-Range"))
}

func TestUnknownEntryAndRoute(t *testing.T) {
	h := setupTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/files/99999", "", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/files/not-a-number", "", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/does-not-exist", "", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStorageStatsEndpoint(t *testing.T) {
	h := setupTestServer(t)

	register(t, h, "admin")
	token := login(t, h, "admin")

	body, ct := multipartUpload(t, "counted.bin", "application/octet-stream", bytes.Repeat([]byte("x"), 300))
	w := do(t, h, http.MethodPost, "/api/v1/files/upload", token, body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/v1/admin/storage", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stats struct {
		UsedBytes   int64 `json:"used_bytes"`
		FreeBytes   int64 `json:"free_bytes"`
		BudgetBytes int64 `json:"budget_bytes"`
	}
	decodeData(t, w, &stats)
	require.Equal(t, int64(300), stats.UsedBytes)
	require.Greater(t, stats.FreeBytes, int64(0))
	require.Equal(t, int64(1)<<20, stats.BudgetBytes)
}
