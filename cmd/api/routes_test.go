package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"crm-platform/internal/httpapi"

	"github.com/gin-gonic/gin"
)

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	registerRoutes(r, routeDeps{
		handlers: httpapi.Handlers{},
		authMW:   func(c *gin.Context) { c.Next() },
		mutCapMW: func(c *gin.Context) { c.Next() },
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
