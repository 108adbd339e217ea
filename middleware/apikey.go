package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"doc-ingest-platform/utils"
)

const APIKeyHeader = "X-API-Key"

// exemptPaths bypass API key auth: probes must work for orchestrators and
// the converter callback authenticates by network placement, not key.
var exemptPaths = map[string]bool{
	"/health":            true,
	"/ready":             true,
	"/live":              true,
	"/internal/callback": true,
}

// APIKeyMiddleware authenticates requests with a static API key. The
// comparison is constant-time so response timing leaks nothing about the
// configured key.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	expected := []byte(apiKey)
	return func(c *gin.Context) {
		if exemptPaths[c.FullPath()] || strings.HasPrefix(c.Request.URL.Path, "/internal/") {
			c.Next()
			return
		}

		provided := []byte(c.GetHeader(APIKeyHeader))
		if len(provided) != len(expected) || subtle.ConstantTimeCompare(provided, expected) != 1 {
			utils.RespondWithError(c, http.StatusUnauthorized,
				"UNAUTHORIZED", "Missing or invalid API key", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
