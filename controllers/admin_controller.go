package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/mediavault/media"
	"github.com/cppla/mediavault/models"
	"github.com/cppla/mediavault/utils"
)

// AdminController handles account approval and storage diagnostics. All routes
// sit behind the AdminRequired middleware.
type AdminController struct {
	db  *gorm.DB
	svc *media.Service
}

// NewAdminController creates a new AdminController instance.
func NewAdminController(db *gorm.DB, svc *media.Service) *AdminController {
	return &AdminController{db: db, svc: svc}
}

// ListUsers returns all accounts, pending and approved.
func (a *AdminController) ListUsers(ctx *gin.Context) {
	var users []models.User
	if err := a.db.Order("created_at DESC").Find(&users).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50050, "failed to retrieve users")
		return
	}
	utils.Success(ctx, gin.H{"users": publicUsers(users)})
}

// PendingUsers returns registration requests awaiting review.
func (a *AdminController) PendingUsers(ctx *gin.Context) {
	var users []models.User
	if err := a.db.Where("is_approved = ?", false).Order("created_at ASC").Find(&users).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50051, "failed to retrieve pending users")
		return
	}
	utils.Success(ctx, gin.H{"pending_users": publicUsers(users)})
}

// ApproveUser marks a pending account as approved so it can log in.
func (a *AdminController) ApproveUser(ctx *gin.Context) {
	user, ok := a.lookupUser(ctx)
	if !ok {
		return
	}
	if err := a.db.Model(user).Update("is_approved", true).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50052, "failed to approve user")
		return
	}
	utils.Success(ctx, gin.H{"message": "user approved"})
}

// DeleteUser removes an account. Admins cannot delete themselves.
func (a *AdminController) DeleteUser(ctx *gin.Context) {
	user, ok := a.lookupUser(ctx)
	if !ok {
		return
	}
	if requesterID, ok := getUserID(ctx); ok && requesterID == user.ID {
		utils.Error(ctx, http.StatusBadRequest, 40050, "cannot delete your own account")
		return
	}
	if err := a.db.Delete(user).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50053, "failed to delete user")
		return
	}
	utils.Success(ctx, gin.H{"message": "user deleted"})
}

// StorageStats reports blob store usage against the configured budget.
func (a *AdminController) StorageStats(ctx *gin.Context) {
	used, free, budget, err := a.svc.Usage()
	if err != nil {
		utils.Sugar.Errorw("storage stats failed", "error", err)
		utils.Error(ctx, http.StatusInternalServerError, 50054, "failed to read storage stats")
		return
	}
	utils.Success(ctx, gin.H{
		"used_bytes":   used,
		"free_bytes":   free,
		"budget_bytes": budget,
	})
}

func (a *AdminController) lookupUser(ctx *gin.Context) (*models.User, bool) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40402, "user not found")
		return nil, false
	}
	var user models.User
	if err := a.db.First(&user, uint(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40402, "user not found")
			return nil, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50055, "failed to load user")
		return nil, false
	}
	return &user, true
}

func publicUsers(users []models.User) []gin.H {
	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		out = append(out, publicUser(u))
	}
	return out
}
