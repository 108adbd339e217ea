package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func requestIDRouter() (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	var seen string
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})
	return router, &seen
}

func TestRequestIDMintedWhenAbsent(t *testing.T) {
	router, seen := requestIDRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	echoed := rec.Header().Get(RequestIDHeader)
	if echoed == "" {
		t.Fatal("no request ID in response header")
	}
	if *seen != echoed {
		t.Fatalf("context ID %q != header ID %q", *seen, echoed)
	}
}

func TestRequestIDPropagatedWhenSupplied(t *testing.T) {
	router, seen := requestIDRouter()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "caller-chosen-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Header().Get(RequestIDHeader) != "caller-chosen-id" {
		t.Fatalf("header: got %q", rec.Header().Get(RequestIDHeader))
	}
	if *seen != "caller-chosen-id" {
		t.Fatalf("context: got %q", *seen)
	}
}
