package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cppla/mediavault/catalog"
	"github.com/cppla/mediavault/config"
	"github.com/cppla/mediavault/media"
	"github.com/cppla/mediavault/middleware"
	"github.com/cppla/mediavault/models"
	"github.com/cppla/mediavault/utils"
)

// MediaController exposes the upload, listing, streaming, and deletion surface
// over the admission pipeline and the catalog.
type MediaController struct {
	cat catalog.Catalog
	svc *media.Service
}

// NewMediaController creates a new MediaController instance.
func NewMediaController(cat catalog.Catalog, svc *media.Service) *MediaController {
	return &MediaController{cat: cat, svc: svc}
}

// UploadFile accepts any content type and stores it as a plain file entry.
func (m *MediaController) UploadFile(ctx *gin.Context) {
	m.upload(ctx, "", models.KindFile)
}

// UploadVideo only admits video/* content.
func (m *MediaController) UploadVideo(ctx *gin.Context) {
	m.upload(ctx, "video/", models.KindVideo)
}

func (m *MediaController) upload(ctx *gin.Context, mimePrefix, kind string) {
	username, ok := getUsername(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40113, "unauthorized")
		return
	}

	// Accept common field name 'file' or fallback to 'f'
	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		file, header, err = ctx.Request.FormFile("f")
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40030, "no file uploaded")
			return
		}
	}
	defer file.Close()

	maxUpload := config.Get().MaxUploadBytes()
	if header.Size > 0 && header.Size > maxUpload {
		utils.Error(ctx, http.StatusBadRequest, 40032,
			fmt.Sprintf("file size exceeds %d bytes", maxUpload))
		return
	}

	key := filepath.Base(header.Filename)
	if key == "" || key == "." {
		key = uuid.NewString()
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	title := utils.Sanitize(strings.TrimSpace(ctx.PostForm("title")))
	if title == "" {
		title = key
	}

	entry, err := m.svc.Admit(media.UploadRequest{
		Key:          key,
		Title:        title,
		MimeType:     mimeType,
		Kind:         kind,
		Owner:        username,
		Body:         file,
		DeclaredSize: header.Size,
		MimePrefix:   mimePrefix,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnsupportedType):
			utils.Error(ctx, http.StatusBadRequest, 40033, "only "+mimePrefix+"* files are allowed")
		case errors.Is(err, models.ErrDuplicateEntry):
			utils.Error(ctx, http.StatusConflict, 40901, "an entry with this filename already exists")
		case errors.Is(err, models.ErrQuotaExceeded):
			utils.Error(ctx, http.StatusRequestEntityTooLarge, 41301, "not enough storage available")
		default:
			utils.Sugar.Errorw("upload admission failed", "key", key, "error", err)
			utils.Error(ctx, http.StatusInternalServerError, 50030, "an error occurred during upload")
		}
		return
	}

	utils.InvalidateByPrefix("cache:media:list:")

	utils.Respond(ctx, http.StatusCreated, 0, "uploaded", gin.H{
		"id":    entry.ID,
		"key":   entry.Key,
		"title": entry.Title,
	})
}

// List returns one page of catalog entries, newest first.
func (m *MediaController) List(ctx *gin.Context) {
	page, perPage := parsePagination(ctx.Query("page"), ctx.Query("per_page"))

	cacheKey := fmt.Sprintf("cache:media:list:page=%d:size=%d", page, perPage)
	if b, ok := utils.CacheGetBytes(cacheKey); ok {
		ctx.Data(http.StatusOK, "application/json", b)
		return
	}

	entries, total, err := m.cat.ListPage(page, perPage)
	if err != nil {
		utils.Sugar.Errorw("catalog listing failed", "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to list entries")
		return
	}

	payload := gin.H{
		"items":    entries,
		"page":     page,
		"per_page": perPage,
		"total":    total,
	}
	wrapper := utils.JSONResponse{Code: 0, Message: "success", Data: payload}
	utils.CacheSetJSON(cacheKey, wrapper, time.Hour)
	utils.Success(ctx, payload)
}

// Search matches a substring against titles and declared mime types.
// Results are not cached to avoid cache key explosion on arbitrary queries.
func (m *MediaController) Search(ctx *gin.Context) {
	results, err := m.cat.Search(ctx.Query("query"))
	if err != nil {
		utils.Sugar.Errorw("catalog search failed", "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to search entries")
		return
	}
	utils.Success(ctx, gin.H{"results": results})
}

// Stream serves an entry's bytes with HTTP range support.
func (m *MediaController) Stream(ctx *gin.Context) {
	entry, ok := m.lookup(ctx)
	if !ok {
		return
	}
	if err := m.svc.ServeEntry(ctx.Writer, ctx.Request, entry); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40411, "file not found on server")
			return
		}
		utils.Sugar.Errorw("streaming failed", "id", entry.ID, "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50040, "an error occurred while retrieving the file")
	}
}

// Delete removes an entry and its blob. Only the owner or an admin may delete.
func (m *MediaController) Delete(ctx *gin.Context) {
	entry, ok := m.lookup(ctx)
	if !ok {
		return
	}

	username, ok := getUsername(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40112, "unauthorized")
		return
	}
	if entry.Owner != username && !isAdmin(ctx) {
		utils.Error(ctx, http.StatusForbidden, 40302, "you can only delete your own files")
		return
	}

	if err := m.svc.Remove(entry); err != nil {
		utils.Sugar.Errorw("entry removal failed", "id", entry.ID, "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to delete entry")
		return
	}

	utils.InvalidateByPrefix("cache:media:list:")
	utils.Success(ctx, gin.H{"message": "entry deleted"})
}

// lookup resolves the :id path parameter to a catalog entry, answering 404
// itself when the id is malformed or unknown.
func (m *MediaController) lookup(ctx *gin.Context) (*models.MediaEntry, bool) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40410, "entry not found")
		return nil, false
	}
	entry, err := m.cat.GetByID(uint(id))
	if err != nil {
		utils.Sugar.Errorw("catalog lookup failed", "id", id, "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50020, "failed to load entry")
		return nil, false
	}
	if entry == nil {
		utils.Error(ctx, http.StatusNotFound, 40410, "entry not found")
		return nil, false
	}
	return entry, true
}

func parsePagination(pageStr, sizeStr string) (int, int) {
	page := 1
	perPage := 20
	if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
		page = p
	}
	if s, err := strconv.Atoi(sizeStr); err == nil && s > 0 && s <= 100 {
		perPage = s
	}
	return page, perPage
}

func getUserID(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok
}

func getUsername(ctx *gin.Context) (string, bool) {
	value, exists := ctx.Get(middleware.ContextUsernameKey)
	if !exists {
		return "", false
	}
	name, ok := value.(string)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

func isAdmin(ctx *gin.Context) bool {
	value, exists := ctx.Get(middleware.ContextIsAdminKey)
	if !exists {
		return false
	}
	admin, _ := value.(bool)
	return admin
}
