package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"doc-ingest-platform/internal/logger"
	"doc-ingest-platform/internal/store"
	foldersync "doc-ingest-platform/internal/sync"
	"doc-ingest-platform/models"
	"doc-ingest-platform/utils"
)

// SyncDeps bundles what the sync routes need.
type SyncDeps struct {
	Bindings     *store.BindingRepo
	Synchronizer *foldersync.Synchronizer
	Scheduler    *foldersync.Scheduler
	RunTimeout   time.Duration
}

func SetupSyncRoutes(router *gin.Engine, deps SyncDeps) {
	api := router.Group("/api/sync/bindings")
	{
		api.POST("", HandleCreateBinding(deps))
		api.GET("", HandleListBindings(deps))
		api.GET("/:id", HandleGetBinding(deps))
		api.POST("/:id/sync", HandleTriggerSync(deps))
		api.PATCH("/:id", HandleUpdateBinding(deps))
		api.DELETE("/:id", HandleDeleteBinding(deps))
	}
}

type createBindingRequest struct {
	RemoteFolderID  string `json:"remoteFolderId" binding:"required"`
	Recursive       bool   `json:"recursive"`
	SyncIntervalMin int    `json:"syncIntervalMin"`
	ProfileID       string `json:"profileId"`
	Enabled         *bool  `json:"enabled"`
}

func HandleCreateBinding(deps SyncDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createBindingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, utils.CodeValidationError,
				"Invalid binding payload", gin.H{"error": err.Error()})
			return
		}

		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		binding := &models.RemoteFolderBinding{
			ID:              uuid.New().String(),
			RemoteFolderID:  req.RemoteFolderID,
			Recursive:       req.Recursive,
			SyncIntervalMin: req.SyncIntervalMin,
			ProfileID:       req.ProfileID,
			Enabled:         enabled,
		}
		if err := deps.Bindings.Insert(c.Request.Context(), binding); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				utils.RespondWithConflict(c, utils.CodeDuplicateFile,
					"Folder is already bound", gin.H{"remoteFolderId": req.RemoteFolderID})
				return
			}
			utils.RespondWithInternalError(c, "Failed to create binding", nil)
			return
		}
		refreshSchedule(deps)

		c.JSON(http.StatusCreated, binding)
	}
}

func HandleListBindings(deps SyncDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		bindings, err := deps.Bindings.List(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list bindings", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"bindings": bindings, "count": len(bindings)})
	}
}

func HandleGetBinding(deps SyncDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		binding, err := deps.Bindings.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondWithNotFound(c, "Binding not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch binding", nil)
			return
		}
		c.JSON(http.StatusOK, binding)
	}
}

// HandleTriggerSync starts a sync run out of band and returns immediately.
// A binding already mid-run answers 409.
func HandleTriggerSync(deps SyncDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		binding, err := deps.Bindings.Get(c.Request.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondWithNotFound(c, "Binding not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch binding", nil)
			return
		}
		if binding.SyncStatus == models.SyncSyncing {
			utils.RespondWithConflict(c, "SYNC_IN_PROGRESS",
				"A sync run is already in progress for this binding", nil)
			return
		}

		timeout := deps.RunTimeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if _, err := deps.Synchronizer.Sync(ctx, id); err != nil &&
				!errors.Is(err, store.ErrSyncInProgress) {
				logger.Error("manual sync failed", "binding_id", id, "error", err.Error())
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{"bindingId": id, "started": true})
	}
}

type updateBindingRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func HandleUpdateBinding(deps SyncDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateBindingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, utils.CodeValidationError,
				"Invalid binding update", gin.H{"error": err.Error()})
			return
		}

		err := deps.Bindings.SetEnabled(c.Request.Context(), c.Param("id"), *req.Enabled)
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondWithNotFound(c, "Binding not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to update binding", nil)
			return
		}
		refreshSchedule(deps)

		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "enabled": *req.Enabled})
	}
}

func HandleDeleteBinding(deps SyncDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := deps.Bindings.Delete(c.Request.Context(), c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondWithNotFound(c, "Binding not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to delete binding", nil)
			return
		}
		refreshSchedule(deps)

		c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
	}
}

func refreshSchedule(deps SyncDeps) {
	if deps.Scheduler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := deps.Scheduler.Refresh(ctx); err != nil {
		logger.Warn("failed to refresh sync schedule", "error", err.Error())
	}
}
