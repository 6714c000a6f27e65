package main

import (
	"callbridge/internal/httpapi"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider-facing surface (public).
	// NOTE: these endpoints should be protected by provider signature
	// validation in production; the stream socket is bound to its call by a
	// signed short-lived token instead.
	r.POST("/webhooks/voice", h.VoiceWebhook)
	r.POST("/webhooks/status", h.StatusWebhook)
	r.POST("/webhooks/dtmf", h.DTMFWebhook)
	r.GET("/stream", h.Stream)

	v1 := r.Group("/v1")
	{
		v1.POST("/calls", h.CreateCall)
		v1.GET("/calls/:call_id", h.GetCall)
		v1.GET("/calls/:call_id/transcript", h.GetTranscript)
	}
}
