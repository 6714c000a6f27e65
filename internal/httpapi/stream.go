package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/model"
	"callbridge/internal/pipeline"
	"callbridge/internal/session"
	"callbridge/internal/store"
	"callbridge/internal/telephony"
	"callbridge/internal/turn"
	"callbridge/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The provider connects server-to-server; no browser origin to check.
	CheckOrigin: func(*http.Request) bool { return true },
}

// capKey counts live calls across the deployment.
const capKey = "callbridge:active_calls"

// modelLeg is what both conversation paths provide once connected.
type modelLeg interface {
	session.ModelLeg
	Start() error
}

// Stream terminates one provider media-stream connection: correlate the
// start message to a call, verify its token, connect the model leg, and run
// the conversation until teardown.
func (h Handlers) Stream(c *gin.Context) {
	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Log.Warn("stream upgrade failed", "err", err)
		return
	}

	gw := telephony.NewGateway(conn, h.Log)
	gw.Start()

	started, ok := h.awaitStart(gw)
	if !ok {
		h.Log.Warn("stream closed before start message")
		gw.Close()
		return
	}

	callID, err := h.Tokens.Verify(started.Token, time.Now())
	if err != nil || (started.CallID != "" && started.CallID != callID) {
		h.Log.Warn("stream token rejected", "call_id", started.CallID, "err", err)
		gw.Close()
		return
	}

	call, ok := h.correlate(callID)
	if !ok {
		h.Log.Warn("stream correlation failed", "call_id", callID)
		gw.Close()
		return
	}

	ctx := context.Background()
	released, err := h.acquireSlot(ctx)
	if err != nil {
		h.Log.Error("call slot acquire failed", "call_id", callID, "err", err)
		gw.Close()
		return
	}
	defer released()

	mdl, err := h.connectModelLeg(ctx, call)
	if err != nil {
		h.Log.Error("model leg connect failed", "call_id", callID, "err", err)
		if _, serr := h.Relay.Status(ctx, callID, calls.StatusFailed); serr != nil {
			h.Log.Error("failed-status write failed", "call_id", callID, "err", serr)
		}
		gw.Close()
		return
	}

	conv := session.New(session.Config{
		CallID:    callID,
		Telephony: gw,
		Model:     mdl,
		Recorder:  h.Recorder,
		Outcomes:  h.Store,
		Turn: turn.Config{
			BargeInGrace:  h.Cfg.Stream.BargeInGrace,
			ResponseDelay: h.Cfg.Stream.ResponseDelay,
		},
		Metrics: h.Metrics,
		Log:     h.Log,
	})
	if !h.Registry.Put(conv) {
		h.Log.Warn("duplicate stream for live call", "call_id", callID)
		gw.Close()
		mdl.Close()
		return
	}
	defer h.Registry.Remove(callID)

	if err := mdl.Start(); err != nil {
		h.Log.Error("model leg start failed", "call_id", callID, "err", err)
		if _, serr := h.Relay.Status(ctx, callID, calls.StatusFailed); serr != nil {
			h.Log.Error("failed-status write failed", "call_id", callID, "err", serr)
		}
		gw.Close()
		mdl.Close()
		return
	}

	if _, err := h.Relay.Status(ctx, callID, calls.StatusInProgress); err != nil {
		h.Log.Error("in-progress status write failed", "call_id", callID, "err", err)
	}

	conv.Run(ctx)
}

// awaitStart reads gateway events until the start message arrives or the
// correlation grace window expires. Media before start is dropped.
func (h Handlers) awaitStart(gw *telephony.Gateway) (telephony.StreamStarted, bool) {
	deadline := time.After(h.Cfg.Stream.CorrelationGrace)
	for {
		select {
		case ev, ok := <-gw.Events():
			if !ok {
				return telephony.StreamStarted{}, false
			}
			switch ev := ev.(type) {
			case telephony.StreamStarted:
				return ev, true
			case telephony.StreamStopped, telephony.StreamClosed:
				return telephony.StreamStarted{}, false
			}
		case <-deadline:
			return telephony.StreamStarted{}, false
		}
	}
}

// correlate looks the call record up, retrying inside the grace window:
// the provider's stream connect can race the dial transaction landing.
func (h Handlers) correlate(callID string) (calls.Call, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), h.Cfg.Stream.CorrelationGrace)
	defer cancel()

	for {
		call, err := h.Store.GetCall(ctx, callID)
		if err == nil {
			if call.Status.Terminal() {
				return calls.Call{}, false
			}
			return call, true
		}
		if !errors.Is(err, store.ErrNotFound) {
			h.Log.Error("correlation lookup failed", "call_id", callID, "err", err)
			return calls.Call{}, false
		}
		select {
		case <-ctx.Done():
			return calls.Call{}, false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// acquireSlot enforces the deployment-wide concurrent-call cap in Redis.
// The TTL covers the longest possible call so crashed processes cannot leak
// slots forever.
func (h Handlers) acquireSlot(ctx context.Context) (func(), error) {
	if h.RDB == nil {
		return func() {}, nil
	}
	ttl := h.Cfg.Model.MaxCallDuration + time.Minute
	ok, err := utils.AcquireConcurrencyCap(ctx, h.RDB, capKey, h.Cfg.Stream.MaxConcurrentCalls, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("httpapi: concurrent call limit reached")
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := utils.ReleaseConcurrencyCap(releaseCtx, h.RDB, capKey); err != nil {
			h.Log.Warn("call slot release failed", "err", err)
		}
	}, nil
}

// connectModelLeg opens whichever conversation path is configured.
func (h Handlers) connectModelLeg(ctx context.Context, call calls.Call) (modelLeg, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if h.Cfg.Pipeline.Mode == "legacy" {
		rec, err := pipeline.DialRecognizer(dialCtx, h.Cfg.Pipeline.STTEndpoint, h.Log)
		if err != nil {
			return nil, err
		}
		rsn := pipeline.NewChatReasoner(h.Cfg.Model.APIKey, h.Cfg.Model.Model)
		syn := pipeline.NewHTTPSynthesizer(h.Cfg.Pipeline.TTSEndpoint, h.Cfg.Pipeline.TTSVoice)
		return pipeline.NewOrchestrator(rec, rsn, syn, pipeline.CallContext{
			Purpose:      call.Purpose,
			Instructions: call.Instructions,
		}, h.Log), nil
	}

	opts := model.OptionsFromConfig(h.Cfg.Model, call.Voice, buildInstructions(call))
	return model.Dial(dialCtx, h.Cfg.Model, opts, h.Log)
}

func buildInstructions(call calls.Call) string {
	s := "You are making an outbound phone call. Purpose: " + call.Purpose + "."
	if call.Instructions != "" {
		s += " " + call.Instructions
	}
	s += " Keep replies short and conversational; you are speaking aloud."
	return s
}
