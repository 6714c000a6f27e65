package logger

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddlewareRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(slog.New(slog.NewTextHandler(io.Discard, nil))))

	var scoped *slog.Logger
	r.GET("/x", func(c *gin.Context) {
		scoped = FromGin(c)
		c.Status(204)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	if w.Header().Get(headerRequestID) == "" {
		t.Fatal("expected a generated request id header")
	}
	if scoped == nil || scoped == slog.Default() {
		t.Fatal("expected the request-scoped logger inside the handler")
	}
}

func TestMiddlewareKeepsCallerRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(slog.New(slog.NewTextHandler(io.Discard, nil))))
	r.GET("/x", func(c *gin.Context) { c.Status(204) })

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(headerRequestID, "req-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "req-abc" {
		t.Fatalf("request id not preserved: %q", got)
	}
}
