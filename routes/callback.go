package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"doc-ingest-platform/internal/ai"
	"doc-ingest-platform/internal/pipeline"
	"doc-ingest-platform/internal/store"
	"doc-ingest-platform/utils"
)

func SetupCallbackRoutes(router *gin.Engine, reconciler *pipeline.CallbackReconciler) {
	router.POST("/internal/callback", HandleConverterCallback(reconciler))
}

// HandleConverterCallback receives heavy-lane completion reports from the
// converter worker. A 5xx tells the converter to retry delivery later.
func HandleConverterCallback(reconciler *pipeline.CallbackReconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload pipeline.CallbackPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			utils.RespondWithBadRequest(c, utils.CodeValidationError,
				"Invalid callback payload", gin.H{"error": err.Error()})
			return
		}

		result, err := reconciler.Reconcile(c.Request.Context(), payload)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				utils.RespondWithNotFound(c, "Unknown document")
			case ai.IsTransient(err):
				// The embedding provider is briefly down; ask the converter
				// to redeliver the same callback.
				utils.RespondWithError(c, http.StatusServiceUnavailable,
					utils.CodeInternalError, "Temporarily unable to finalize, retry later", nil)
			case errors.Is(err, pipeline.ErrStateConflict):
				utils.RespondWithConflict(c, utils.CodeStateConflict,
					"Concurrent transition, retry later", nil)
			default:
				utils.RespondWithInternalError(c, "Failed to reconcile callback", nil)
			}
			return
		}

		c.JSON(http.StatusOK, result)
	}
}
