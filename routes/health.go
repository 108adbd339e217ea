package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// HealthDeps bundles the dependencies the readiness probe checks.
type HealthDeps struct {
	Mongo *mongo.Client
	Redis redis.UniversalClient
}

func SetupHealthRoutes(router *gin.Engine, deps HealthDeps) {
	router.GET("/health", HandleHealth())
	router.GET("/live", HandleHealth())
	router.GET("/ready", HandleReady(deps))
}

// HandleHealth is the liveness probe: the process is up.
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// HandleReady is the readiness probe: both backing stores answer pings.
func HandleReady(deps HealthDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{}
		healthy := true

		if deps.Mongo != nil {
			if err := deps.Mongo.Ping(ctx, nil); err != nil {
				checks["mongo"] = "down"
				healthy = false
			} else {
				checks["mongo"] = "ok"
			}
		}
		if deps.Redis != nil {
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				checks["redis"] = "down"
				healthy = false
			} else {
				checks["redis"] = "ok"
			}
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": healthy, "checks": checks})
	}
}
