package httpapi

import (
	"net/http"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/telephony"
	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

const twimlContentType = "text/xml; charset=utf-8"

// VoiceWebhook answers the provider's synchronous instruction request once
// an outbound call connects. It always returns a valid document: the stream
// directive normally, the spoken apology on any internal error, so the
// callee is never left on a silent connected call.
func (h Handlers) VoiceWebhook(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Query("call_id")
	if callID == "" {
		callID = c.PostForm("call_id")
	}
	if callID == "" {
		log.Warn("voice webhook missing call_id")
		c.Data(http.StatusOK, twimlContentType, []byte(telephony.RenderApologyTwiML()))
		return
	}

	if _, err := h.Store.GetCall(c.Request.Context(), callID); err != nil {
		log.Warn("voice webhook for unknown call", "call_id", callID, "err", err)
		c.Data(http.StatusOK, twimlContentType, []byte(telephony.RenderApologyTwiML()))
		return
	}

	token, err := h.Tokens.Issue(callID, time.Now())
	if err != nil {
		log.Error("stream token issue failed", "call_id", callID, "err", err)
		c.Data(http.StatusOK, twimlContentType, []byte(telephony.RenderApologyTwiML()))
		return
	}

	doc, err := telephony.RenderStreamTwiML(telephony.StreamDirective{
		URL:    h.Cfg.StreamURL("/stream"),
		CallID: callID,
		Token:  token,
	})
	if err != nil {
		log.Error("stream twiml render failed", "call_id", callID, "err", err)
		c.Data(http.StatusOK, twimlContentType, []byte(telephony.RenderApologyTwiML()))
		return
	}
	c.Data(http.StatusOK, twimlContentType, []byte(doc))
}

// StatusWebhook ingests asynchronous lifecycle callbacks. It acknowledges
// with 200 regardless of internal outcome so the provider never enters a
// retry storm; failures are logged only.
func (h Handlers) StatusWebhook(c *gin.Context) {
	log := logger.FromGin(c)
	defer c.String(http.StatusOK, "ok")

	cb, ok := telephony.ParseStatusCallback(c.Request)
	if !ok {
		log.Warn("status webhook unparseable")
		return
	}

	ctx := c.Request.Context()
	call, err := h.Store.GetCallByProviderID(ctx, cb.ProviderCallID)
	if err != nil {
		log.Warn("status webhook for unknown call", "provider_call_id", cb.ProviderCallID, "err", err)
		return
	}

	mapped := calls.MapProviderStatus(cb.CallStatus)
	if mapped != "" {
		if _, err := h.Relay.Status(ctx, call.CallID, mapped); err != nil {
			log.Error("status webhook write failed", "call_id", call.CallID, "status", mapped, "err", err)
		}
	}

	if cb.DurationSec > 0 || cb.RecordingURL != "" {
		if err := h.Store.SetCallResult(ctx, call.CallID, cb.DurationSec, cb.RecordingURL, ""); err != nil {
			log.Error("call result write failed", "call_id", call.CallID, "err", err)
		}
	}

	// A terminal provider status while the stream is still up means the
	// provider hung up without a clean stop message.
	if mapped.Terminal() {
		if live, ok := h.Registry.Get(call.CallID); ok {
			live.Stop("provider status " + cb.CallStatus)
		}
	}
}

// DTMFWebhook returns a document that plays keypad digits and reconnects
// the audio stream. Invalid digits or an unknown call get a clean hangup
// document; the endpoint never errors at the HTTP layer.
func (h Handlers) DTMFWebhook(c *gin.Context) {
	log := logger.FromGin(c)
	callID := c.Query("call_id")
	if callID == "" {
		callID = c.PostForm("call_id")
	}
	digits := c.Query("digits")
	if digits == "" {
		digits = c.PostForm("digits")
	}

	if err := telephony.ValidateDTMF(digits); err != nil {
		log.Warn("dtmf rejected", "call_id", callID, "err", err)
		c.Data(http.StatusOK, twimlContentType, []byte(telephony.RenderHangupTwiML()))
		return
	}
	if callID == "" {
		c.Data(http.StatusOK, twimlContentType, []byte(telephony.RenderHangupTwiML()))
		return
	}
	if _, err := h.Store.GetCall(c.Request.Context(), callID); err != nil {
		log.Warn("dtmf for unknown call", "call_id", callID, "err", err)
		c.Data(http.StatusOK, twimlContentType, []byte(telephony.RenderHangupTwiML()))
		return
	}

	token, err := h.Tokens.Issue(callID, time.Now())
	if err != nil {
		log.Error("stream token issue failed", "call_id", callID, "err", err)
		c.Data(http.StatusOK, twimlContentType, []byte(telephony.RenderHangupTwiML()))
		return
	}
	doc, err := telephony.RenderDTMFTwiML(digits, telephony.StreamDirective{
		URL:    h.Cfg.StreamURL("/stream"),
		CallID: callID,
		Token:  token,
	})
	if err != nil {
		c.Data(http.StatusOK, twimlContentType, []byte(telephony.RenderHangupTwiML()))
		return
	}
	c.Data(http.StatusOK, twimlContentType, []byte(doc))
}
