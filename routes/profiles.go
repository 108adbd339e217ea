package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"doc-ingest-platform/internal/store"
	"doc-ingest-platform/models"
	"doc-ingest-platform/utils"
)

func SetupProfileRoutes(router *gin.Engine, profiles *store.ProfileRepo) {
	api := router.Group("/api/profiles")
	{
		api.GET("", HandleListProfiles(profiles))
		api.GET("/:id", HandleGetProfile(profiles))
		api.POST("", HandleCreateProfile(profiles))
		api.PUT("/:id", HandleUpdateProfile(profiles))
		api.POST("/:id/archive", HandleArchiveProfile(profiles))
		api.POST("/:id/default", HandleSetDefaultProfile(profiles))
		api.DELETE("/:id", HandleDeleteProfile(profiles))
	}
}

type profileRequest struct {
	Name       string                  `json:"name" binding:"required"`
	Conversion models.ConversionConfig `json:"conversion"`
	Chunking   models.ChunkingConfig   `json:"chunking"`
	Quality    models.QualityConfig    `json:"quality"`
}

func HandleListProfiles(profiles *store.ProfileRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		includeArchived := c.Query("includeArchived") == "true"
		list, err := profiles.List(c.Request.Context(), includeArchived)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list profiles", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"profiles": list, "count": len(list)})
	}
}

func HandleGetProfile(profiles *store.ProfileRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, err := profiles.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondWithNotFound(c, "Profile not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch profile", nil)
			return
		}
		c.JSON(http.StatusOK, profile)
	}
}

func HandleCreateProfile(profiles *store.ProfileRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req profileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, utils.CodeValidationError,
				"Invalid profile payload", gin.H{"error": err.Error()})
			return
		}

		// The embedding section is deployment-fixed; copy it from the default
		// so every profile reports the live model and dimension.
		base, err := profiles.GetDefault(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load default profile", nil)
			return
		}

		profile := &models.ProcessingProfile{
			ID:         uuid.New().String(),
			Name:       req.Name,
			Conversion: req.Conversion,
			Chunking:   req.Chunking,
			Quality:    req.Quality,
			Embedding:  base.Embedding,
			IsActive:   true,
		}
		if err := profiles.Create(c.Request.Context(), profile); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				utils.RespondWithConflict(c, utils.CodeDuplicateFile,
					"A profile with this name already exists", gin.H{"name": req.Name})
				return
			}
			utils.RespondWithInternalError(c, "Failed to create profile", nil)
			return
		}
		c.JSON(http.StatusCreated, profile)
	}
}

func HandleUpdateProfile(profiles *store.ProfileRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req profileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, utils.CodeValidationError,
				"Invalid profile payload", gin.H{"error": err.Error()})
			return
		}

		id := c.Param("id")
		err := profiles.Update(c.Request.Context(), id, &models.ProcessingProfile{
			Name:       req.Name,
			Conversion: req.Conversion,
			Chunking:   req.Chunking,
			Quality:    req.Quality,
		})
		switch {
		case errors.Is(err, store.ErrNotFound):
			utils.RespondWithNotFound(c, "Profile not found")
		case errors.Is(err, store.ErrDuplicate):
			utils.RespondWithConflict(c, utils.CodeDuplicateFile,
				"A profile with this name already exists", gin.H{"name": req.Name})
		case err != nil:
			utils.RespondWithInternalError(c, "Failed to update profile", nil)
		default:
			c.JSON(http.StatusOK, gin.H{"id": id, "updated": true})
		}
	}
}

func HandleArchiveProfile(profiles *store.ProfileRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := profiles.Archive(c.Request.Context(), c.Param("id"))
		switch {
		case errors.Is(err, store.ErrNotFound):
			utils.RespondWithNotFound(c, "Profile not found")
		case errors.Is(err, store.ErrProfileDefault):
			utils.RespondWithConflict(c, utils.CodeStateConflict,
				"The default profile cannot be archived", nil)
		case err != nil:
			utils.RespondWithInternalError(c, "Failed to archive profile", nil)
		default:
			c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "archived": true})
		}
	}
}

func HandleSetDefaultProfile(profiles *store.ProfileRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := profiles.SetDefault(c.Request.Context(), c.Param("id"))
		switch {
		case errors.Is(err, store.ErrNotFound):
			utils.RespondWithNotFound(c, "Profile not found")
		case errors.Is(err, store.ErrProfileNotArchived):
			utils.RespondWithConflict(c, utils.CodeStateConflict,
				"An archived profile cannot be the default", nil)
		case err != nil:
			utils.RespondWithInternalError(c, "Failed to set default profile", nil)
		default:
			c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "default": true})
		}
	}
}

func HandleDeleteProfile(profiles *store.ProfileRepo) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := profiles.Delete(c.Request.Context(), c.Param("id"))
		switch {
		case errors.Is(err, store.ErrNotFound):
			utils.RespondWithNotFound(c, "Profile not found")
		case errors.Is(err, store.ErrProfileDefault):
			utils.RespondWithConflict(c, utils.CodeStateConflict,
				"The default profile cannot be deleted", nil)
		case errors.Is(err, store.ErrProfileNotArchived):
			utils.RespondWithConflict(c, utils.CodeStateConflict,
				"Archive the profile before deleting it", nil)
		case errors.Is(err, store.ErrProfileInUse):
			utils.RespondWithConflict(c, utils.CodeStateConflict,
				"Documents still reference this profile", nil)
		case err != nil:
			utils.RespondWithInternalError(c, "Failed to delete profile", nil)
		default:
			c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
		}
	}
}
