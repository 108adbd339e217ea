package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"doc-ingest-platform/internal/search"
	"doc-ingest-platform/internal/telemetry"
	"doc-ingest-platform/utils"
)

func SetupQueryRoutes(router *gin.Engine, searcher *search.Searcher, metrics *telemetry.Metrics) {
	router.POST("/api/query", HandleQuery(searcher, metrics))
}

// HandleQuery runs a retrieval query and returns the fused ranking.
func HandleQuery(searcher *search.Searcher, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req search.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, utils.CodeValidationError, "Invalid query payload",
				gin.H{"error": err.Error()})
			return
		}
		if req.Alpha != nil && (*req.Alpha < 0 || *req.Alpha > 1) {
			utils.RespondWithBadRequest(c, utils.CodeValidationError,
				"alpha must be between 0 and 1", nil)
			return
		}

		started := time.Now()
		results, err := searcher.Search(c.Request.Context(), req)
		if err != nil {
			if errors.Is(err, search.ErrEmptyQuery) || errors.Is(err, search.ErrBadMode) {
				utils.RespondWithBadRequest(c, utils.CodeValidationError, err.Error(), nil)
				return
			}
			utils.RespondWithInternalError(c, "Search failed", nil)
			return
		}
		if metrics != nil {
			mode := req.Mode
			if mode == "" {
				mode = search.ModeHybrid
			}
			metrics.RecordSearch(mode, time.Since(started).Seconds())
		}

		c.JSON(http.StatusOK, gin.H{
			"results": results,
			"count":   len(results),
		})
	}
}
