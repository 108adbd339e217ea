package routes

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"doc-ingest-platform/internal/ingest"
	"doc-ingest-platform/internal/pipeline"
	"doc-ingest-platform/internal/store"
	"doc-ingest-platform/utils"
)

// DocumentDeps bundles what the document routes need.
type DocumentDeps struct {
	Intake    *ingest.Intake
	Documents *store.DocumentRepo
	Chunks    *store.ChunkRepo
	Machine   *pipeline.StateMachine
}

func SetupDocumentRoutes(router *gin.Engine, deps DocumentDeps) {
	api := router.Group("/api/documents")
	{
		api.POST("", HandleUpload(deps))
		api.GET("", HandleListDocuments(deps))
		api.GET("/:id", HandleGetDocument(deps))
		api.GET("/:id/chunks", HandleGetDocumentChunks(deps))
		api.POST("/:id/reprocess", HandleReprocess(deps))
		api.DELETE("/:id", HandleDeleteDocument(deps))
	}
}

// uploadResponse confirms admission: the document exists and has been
// dispatched to its lane, but processing continues after the response.
type uploadResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Format   string `json:"format"`
	Lane     string `json:"lane"`
}

// HandleUpload accepts a multipart upload and admits it into the pipeline.
func HandleUpload(deps DocumentDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, utils.CodeValidationError, "No file uploaded", nil)
			return
		}

		file, err := header.Open()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read upload", nil)
			return
		}
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read upload", nil)
			return
		}

		doc, err := deps.Intake.Ingest(c.Request.Context(), ingest.Upload{
			Filename:  header.Filename,
			MimeType:  header.Header.Get("Content-Type"),
			Content:   content,
			ProfileID: c.PostForm("profileId"),
		})
		if err != nil {
			var dup *ingest.DuplicateError
			switch {
			case errors.As(err, &dup):
				utils.RespondWithConflict(c, utils.CodeDuplicateFile,
					"A document with identical content already exists",
					gin.H{"existingId": dup.ExistingID})
			case errors.Is(err, pipeline.ErrUnsupportedFormat):
				utils.RespondWithBadRequest(c, utils.CodeInvalidFormat,
					"Unsupported file format", gin.H{"filename": header.Filename})
			case errors.Is(err, pipeline.ErrFileTooLarge):
				utils.RespondWithError(c, http.StatusRequestEntityTooLarge,
					utils.CodeFileTooLarge, "File exceeds the size limit", nil)
			default:
				utils.RespondWithInternalError(c, "Failed to ingest document", nil)
			}
			return
		}

		lane, _ := pipeline.LaneFor(doc.Format)
		c.JSON(http.StatusCreated, uploadResponse{
			ID:       doc.ID,
			Filename: doc.Filename,
			Status:   doc.Status,
			Format:   doc.Format,
			Lane:     lane,
		})
	}
}

// HandleListDocuments pages through documents with optional status and
// filename filters, and includes per-status counts for dashboards.
func HandleListDocuments(deps DocumentDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
		offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

		docs, total, err := deps.Documents.List(c.Request.Context(), store.ListFilter{
			Status: c.Query("status"),
			Search: c.Query("search"),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list documents", nil)
			return
		}

		counts, err := deps.Documents.CountsByStatus(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to count documents", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"documents": docs,
			"total":     total,
			"counts":    counts,
		})
	}
}

func HandleGetDocument(deps DocumentDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := deps.Documents.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondWithNotFound(c, "Document not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch document", nil)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

func HandleGetDocumentChunks(deps DocumentDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := deps.Documents.Get(c.Request.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.RespondWithNotFound(c, "Document not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to fetch document", nil)
			return
		}

		chunks, err := deps.Chunks.ListForDocument(c.Request.Context(), id)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list chunks", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"chunks": chunks, "count": len(chunks)})
	}
}

// HandleReprocess sends a terminal document back through its lane.
func HandleReprocess(deps DocumentDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		doc, err := deps.Intake.Reprocess(c.Request.Context(), deps.Machine, c.Param("id"))
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				utils.RespondWithNotFound(c, "Document not found")
			case errors.Is(err, pipeline.ErrInvalidTransition), errors.Is(err, pipeline.ErrStateConflict):
				utils.RespondWithConflict(c, utils.CodeStateConflict,
					"Document is not in a reprocessable state", nil)
			default:
				utils.RespondWithInternalError(c, "Failed to reprocess document", nil)
			}
			return
		}
		c.JSON(http.StatusAccepted, doc)
	}
}

// HandleDeleteDocument removes the document, its chunks and its stored file.
func HandleDeleteDocument(deps DocumentDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		doc, err := deps.Documents.Get(c.Request.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondWithNotFound(c, "Document not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to fetch document", nil)
			return
		}

		if err := deps.Chunks.DeleteForDocument(c.Request.Context(), id); err != nil {
			utils.RespondWithInternalError(c, "Failed to delete chunks", nil)
			return
		}
		if err := deps.Documents.Delete(c.Request.Context(), id); err != nil {
			utils.RespondWithInternalError(c, "Failed to delete document", nil)
			return
		}
		deps.Intake.RemoveFiles(doc)

		c.JSON(http.StatusOK, gin.H{"deleted": id})
	}
}
