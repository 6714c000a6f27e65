// Package httpapi exposes the HTTP surface: the calls API, the telephony
// provider webhooks, the DTMF workaround endpoint, and the media-stream
// websocket. Handlers stay thin: parse/validate input, call internal
// services, return JSON or TwiML.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/metrics"
	"callbridge/internal/session"
	"callbridge/internal/store"
	"callbridge/internal/telephony"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// CallStore is the persistence surface the handlers use.
type CallStore interface {
	CreateCall(ctx context.Context, to, purpose, voice, instructions string) (calls.Call, error)
	GetCall(ctx context.Context, callID string) (calls.Call, error)
	GetCallByProviderID(ctx context.Context, providerCallID string) (calls.Call, error)
	SetProviderCallID(ctx context.Context, callID, providerCallID string) error
	SetCallResult(ctx context.Context, callID string, durationSeconds int, recordingURL, outcome string) error
	ListTranscript(ctx context.Context, callID string) ([]calls.TranscriptTurn, error)
}

// StatusRelay applies lifecycle transitions and broadcasts them.
type StatusRelay interface {
	Status(ctx context.Context, callID string, next calls.Status) (bool, error)
}

// CallDialer places outbound calls with the provider.
type CallDialer interface {
	PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (string, error)
}

// Handlers groups the HTTP handlers for dependency injection.
type Handlers struct {
	Cfg      config.Config
	Store    CallStore
	Relay    StatusRelay
	Recorder session.Recorder
	Registry *calls.Registry
	Dialer   CallDialer
	Tokens   *telephony.StreamTokens
	RDB      *redis.Client
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

// --- Calls API ---

type createCallRequest struct {
	To           string `json:"to"`
	Purpose      string `json:"purpose"`
	Voice        string `json:"voice,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// CreateCall queues a call record and places the outbound dial.
func (h Handlers) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.To == "" || req.Purpose == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to and purpose required"})
		return
	}

	ctx := c.Request.Context()
	log := logger.FromGin(c)
	call, err := h.Store.CreateCall(ctx, req.To, req.Purpose, req.Voice, req.Instructions)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call creation failed"})
		return
	}

	providerID, err := h.Dialer.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:                call.To,
		InstructionsURL:   h.Cfg.PublicURL("/webhooks/voice?call_id=" + call.CallID),
		StatusCallbackURL: h.Cfg.PublicURL("/webhooks/status"),
	})
	if err != nil {
		log.Error("dial placement failed", "call_id", call.CallID, "err", err)
		if _, serr := h.Relay.Status(ctx, call.CallID, calls.StatusFailed); serr != nil {
			log.Error("failed-status write failed", "call_id", call.CallID, "err", serr)
		}
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "dial placement failed", "call_id": call.CallID})
		return
	}

	if err := h.Store.SetProviderCallID(ctx, call.CallID, providerID); err != nil {
		log.Error("provider id write failed", "call_id", call.CallID, "err", err)
	}
	if _, err := h.Relay.Status(ctx, call.CallID, calls.StatusCalling); err != nil {
		log.Error("calling-status write failed", "call_id", call.CallID, "err", err)
	}
	if h.Metrics != nil {
		h.Metrics.CallsPlaced.Inc()
	}

	call.ProviderCallID = providerID
	call.Status = calls.StatusCalling
	c.JSON(http.StatusCreated, call)
}

// GetCall returns one call record.
func (h Handlers) GetCall(c *gin.Context) {
	call, err := h.Store.GetCall(c.Request.Context(), c.Param("call_id"))
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, call)
}

// GetTranscript returns a call's transcript turns in order.
func (h Handlers) GetTranscript(c *gin.Context) {
	callID := c.Param("call_id")
	if _, err := h.Store.GetCall(c.Request.Context(), callID); errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	turns, err := h.Store.ListTranscript(c.Request.Context(), callID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transcript lookup failed"})
		return
	}
	if turns == nil {
		turns = []calls.TranscriptTurn{}
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "turns": turns})
}

// Healthz is the liveness probe.
func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "active_calls": h.Registry.Len()})
}
