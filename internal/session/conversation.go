// Package session orchestrates one live call: caller audio flows from the
// telephony leg through the transcoder into the model, AI audio flows back
// the other way, and the turn controller gates forwarding so barge-in works.
//
// One Conversation exists per call. It owns no sockets itself; both legs are
// injected already connected, and the event loop runs on the caller's
// goroutine until teardown completes. Teardown is idempotent and may be
// triggered by either leg closing, the max-duration policy, or Stop.
package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"callbridge/internal/audio"
	"callbridge/internal/calls"
	"callbridge/internal/metrics"
	"callbridge/internal/model"
	"callbridge/internal/telephony"
	"callbridge/internal/turn"
)

// TelephonyLeg is the gateway surface the conversation drives.
type TelephonyLeg interface {
	Events() <-chan telephony.StreamEvent
	SendAudio(f audio.Frame) error
	SendClear() error
	SendMark(name string) error
	Close() error
}

// ModelLeg is the model-session surface the conversation drives.
type ModelLeg interface {
	Events() <-chan model.Event
	SendAudio(f audio.Frame) error
	RequestResponse() error
	RequestSummary() error
	Truncate(itemID string, audioEndMS int64) error
	Close() error
}

// Recorder persists and broadcasts transcript turns and status changes.
type Recorder interface {
	Turn(callID string, speaker calls.Speaker, message string, confidence *float64)
	Status(ctx context.Context, callID string, next calls.Status) (bool, error)
	Flush()
}

// OutcomeStore records the end-of-call summary.
type OutcomeStore interface {
	SetCallResult(ctx context.Context, callID string, durationSeconds int, recordingURL, outcome string) error
}

const defaultSummaryTimeout = 5 * time.Second

// defaultDrainGrace pads the drain-mark wait beyond the queued playout time.
const defaultDrainGrace = 2 * time.Second

// Config wires one conversation.
type Config struct {
	CallID    string
	Telephony TelephonyLeg
	Model     ModelLeg
	Recorder  Recorder
	Outcomes  OutcomeStore
	Turn      turn.Config
	Metrics   *metrics.Metrics
	Log       *slog.Logger

	// SummaryTimeout bounds how long teardown waits for the outcome summary
	// after the caller hangs up. Zero means defaultSummaryTimeout.
	SummaryTimeout time.Duration

	// DrainGrace pads the wait for the final playout mark when the max call
	// duration expires mid-utterance. Zero means defaultDrainGrace.
	DrainGrace time.Duration
}

type Conversation struct {
	callID string
	tel    TelephonyLeg
	mdl    ModelLeg
	rec    Recorder
	out    OutcomeStore
	tc     *turn.Controller
	codec  audio.Transcoder
	met    *metrics.Metrics
	log    *slog.Logger

	summaryTimeout time.Duration
	drainGrace     time.Duration

	stopReq chan string
}

func New(cfg Config) *Conversation {
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = defaultSummaryTimeout
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = defaultDrainGrace
	}
	return &Conversation{
		callID:         cfg.CallID,
		tel:            cfg.Telephony,
		mdl:            cfg.Model,
		rec:            cfg.Recorder,
		out:            cfg.Outcomes,
		tc:             turn.New(cfg.Turn),
		met:            cfg.Metrics,
		log:            cfg.Log.With("call_id", cfg.CallID),
		summaryTimeout: cfg.SummaryTimeout,
		drainGrace:     cfg.DrainGrace,
		stopReq:        make(chan string, 1),
	}
}

// CallID identifies the call this conversation serves.
func (c *Conversation) CallID() string { return c.callID }

// Stop requests teardown from outside the event loop (registry shutdown,
// provider status webhook). Safe to call more than once and after Run ends.
func (c *Conversation) Stop(reason string) {
	select {
	case c.stopReq <- reason:
	default:
	}
}

// Controller exposes the turn state, used by tests and diagnostics.
func (c *Conversation) Controller() *turn.Controller { return c.tc }

// Run drives the conversation until both legs are down, then writes the
// final status and flushes buffered transcript turns. Blocks; call it on the
// connection-handler goroutine.
func (c *Conversation) Run(ctx context.Context) calls.Status {
	started := time.Now()
	if c.met != nil {
		c.met.ActiveCalls.Inc()
	}

	st := &loopState{status: calls.StatusCompleted}
	telEvents := c.tel.Events()
	mdlEvents := c.mdl.Events()
	ctxDone := ctx.Done()

	for telEvents != nil || mdlEvents != nil {
		select {
		case <-ctxDone:
			ctxDone = nil
			c.log.Info("conversation context cancelled")
			c.closeBoth(st)

		case reason := <-c.stopReq:
			c.log.Info("conversation stop requested", "reason", reason)
			c.closeBoth(st)

		case ev, ok := <-telEvents:
			if !ok {
				telEvents = nil
				continue
			}
			c.handleTelephony(st, ev)

		case ev, ok := <-mdlEvents:
			if !ok {
				mdlEvents = nil
				continue
			}
			c.handleModel(st, ev)

		case <-st.responseTimer:
			st.responseTimer = nil
			if err := c.mdl.RequestResponse(); err != nil {
				c.fail(st, "response request", err)
			}

		case <-st.drainTimer:
			st.drainTimer = nil
			if st.draining && !st.stopping {
				c.log.Warn("drain mark never acknowledged")
				c.beginGracefulStop(st)
			}

		case <-st.summaryTimer:
			st.summaryTimer = nil
			if st.awaitingSummary {
				c.log.Warn("call summary timed out")
				st.awaitingSummary = false
			}
			c.closeBoth(st)
		}
	}

	c.finalize(st, time.Since(started))
	return st.status
}

// loopState is owned by the Run goroutine; nothing here needs locking.
type loopState struct {
	status   calls.Status
	stopping bool

	// Current AI utterance bookkeeping.
	utteranceID string
	itemID      string
	textBuf     strings.Builder

	// Graceful end: drain the in-flight utterance, wait for its playout
	// mark, then close. The timer bounds the wait in case the ack is lost.
	draining   bool
	drainMark  string
	drainTimer <-chan time.Time

	awaitingSummary bool
	summary         string

	responseTimer <-chan time.Time
	summaryTimer  <-chan time.Time
}

func (c *Conversation) handleTelephony(st *loopState, ev telephony.StreamEvent) {
	switch ev := ev.(type) {
	case telephony.MediaReceived:
		frame, err := c.codec.ToModel(ev.Frame)
		if err != nil {
			c.log.Warn("caller frame dropped", "err", err)
			c.countDrop(metrics.DirectionToModel)
			return
		}
		if err := c.mdl.SendAudio(frame); err != nil {
			c.fail(st, "model audio send", err)
			return
		}
		c.countForward(metrics.DirectionToModel)

	case telephony.MarkReceived:
		if st.draining && ev.Name == st.drainMark {
			// Final utterance has audibly finished; wrap the call up the
			// same way a hangup would, summary included.
			st.drainTimer = nil
			c.beginGracefulStop(st)
		}

	case telephony.StreamStopped:
		// Provider ended the stream: hangup or a control-plane redirect.
		c.beginGracefulStop(st)

	case telephony.StreamClosed:
		if ev.Err != nil {
			c.fail(st, "telephony stream", ev.Err)
			return
		}
		c.beginGracefulStop(st)

	case telephony.StreamStarted:
		// Correlation happens before the conversation starts; a duplicate
		// start mid-call carries nothing new.
	}
}

func (c *Conversation) handleModel(st *loopState, ev model.Event) {
	switch ev := ev.(type) {
	case model.AudioDelta:
		if st.stopping {
			// Telephony leg is already down; late audio has nowhere to go.
			c.countDrop(metrics.DirectionToTelephony)
			return
		}
		if ev.UtteranceID != st.utteranceID {
			st.utteranceID = ev.UtteranceID
			st.itemID = ev.ItemID
			st.textBuf.Reset()
			c.tc.AIUtteranceStarted(ev.UtteranceID)
		}
		if !c.tc.ShouldForward(ev.UtteranceID) {
			c.countDrop(metrics.DirectionToTelephony)
			return
		}
		out, err := c.codec.ToTelephony(ev.Frame)
		if err != nil {
			c.log.Warn("ai frame dropped", "err", err)
			c.countDrop(metrics.DirectionToTelephony)
			return
		}
		if err := c.tel.SendAudio(out); err != nil {
			c.fail(st, "telephony audio send", err)
			return
		}
		c.tc.AIAudioQueued(ev.UtteranceID, out.DurationMS())
		c.countForward(metrics.DirectionToTelephony)

	case model.TextDelta:
		if ev.UtteranceID == st.utteranceID || st.utteranceID == "" {
			st.textBuf.WriteString(ev.Delta)
		}

	case model.UtteranceDone:
		text := ev.Text
		if text == "" {
			text = st.textBuf.String()
		}
		if st.awaitingSummary {
			st.awaitingSummary = false
			st.summaryTimer = nil
			st.summary = text
			c.closeBoth(st)
			return
		}
		c.tc.AIUtteranceDone(ev.UtteranceID)
		c.relayTurn(calls.SpeakerAI, text, nil)
		if err := c.tel.SendMark(ev.UtteranceID); err != nil {
			c.log.Warn("mark send failed", "err", err)
		}
		if st.draining {
			// The mark ack can be lost if the provider drops the stream
			// without a stop message; bound the wait by the audio still
			// queued for playout plus a margin.
			st.drainMark = ev.UtteranceID
			wait := time.Duration(c.tc.QueuedMS())*time.Millisecond + c.drainGrace
			st.drainTimer = time.After(wait)
		}

	case model.CallerSpeechStarted:
		cmd, bargeIn := c.tc.CallerStarted()
		if !bargeIn {
			return
		}
		if c.met != nil {
			c.met.BargeIns.Inc()
		}
		// Order matters: the clear must land before any further frames so
		// stale audio never plays after it.
		if cmd.ClearPlayback {
			if err := c.tel.SendClear(); err != nil {
				c.log.Warn("playback clear failed", "err", err)
			}
		}
		if cmd.UtteranceID == st.utteranceID && st.itemID != "" {
			if err := c.mdl.Truncate(st.itemID, cmd.TruncateMS); err != nil {
				c.log.Warn("utterance truncate failed", "err", err)
			}
		}

	case model.CallerSpeechStopped:
		if delay := c.tc.CallerStopped(); delay > 0 {
			st.responseTimer = time.After(delay)
		}

	case model.CallerTranscribed:
		c.relayTurn(calls.SpeakerHuman, ev.Text, nil)

	case model.DurationExceeded:
		c.log.Info("max call duration reached, draining")
		st.draining = true
		if c.tc.State() != turn.StateAISpeaking {
			c.beginGracefulStop(st)
		}

	case model.SessionFailed:
		c.fail(st, "model session", ev.Err)

	case model.SessionClosed:
		c.closeBoth(st)
	}
}

// beginGracefulStop starts a completed-path teardown. If the model leg is
// still usable it is asked for an outcome summary first; the telephony leg
// closes immediately either way.
func (c *Conversation) beginGracefulStop(st *loopState) {
	if st.awaitingSummary {
		// We closed the telephony leg ourselves; the summary wait owns
		// teardown now.
		return
	}
	if st.stopping {
		c.closeBoth(st)
		return
	}
	if c.out == nil || st.status != calls.StatusCompleted {
		c.closeBoth(st)
		return
	}
	st.stopping = true
	if err := c.tel.Close(); err != nil {
		c.log.Warn("telephony close failed", "err", err)
	}
	if err := c.mdl.RequestSummary(); err != nil {
		c.log.Warn("summary request failed", "err", err)
		c.closeBoth(st)
		return
	}
	st.awaitingSummary = true
	st.summaryTimer = time.After(c.summaryTimeout)
}

func (c *Conversation) fail(st *loopState, stage string, err error) {
	c.log.Error("conversation failed", "stage", stage, "err", err)
	st.status = calls.StatusFailed
	c.closeBoth(st)
}

func (c *Conversation) closeBoth(st *loopState) {
	st.stopping = true
	st.awaitingSummary = false
	if err := c.tel.Close(); err != nil {
		c.log.Warn("telephony close failed", "err", err)
	}
	if err := c.mdl.Close(); err != nil {
		c.log.Warn("model close failed", "err", err)
	}
}

func (c *Conversation) relayTurn(speaker calls.Speaker, text string, confidence *float64) {
	if text == "" {
		return
	}
	c.rec.Turn(c.callID, speaker, text, confidence)
	if c.met != nil {
		c.met.TranscriptTurns.WithLabelValues(string(speaker)).Inc()
	}
}

func (c *Conversation) finalize(st *loopState, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := c.rec.Status(ctx, c.callID, st.status); err != nil {
		c.log.Error("final status write failed", "status", st.status, "err", err)
	}
	if st.summary != "" && c.out != nil {
		if err := c.out.SetCallResult(ctx, c.callID, 0, "", st.summary); err != nil {
			c.log.Error("outcome write failed", "err", err)
		}
	}
	c.rec.Flush()

	if c.met != nil {
		c.met.ActiveCalls.Dec()
		c.met.CallsEnded.WithLabelValues(string(st.status)).Inc()
		c.met.CallDuration.Observe(elapsed.Seconds())
	}
	c.log.Info("conversation ended", "status", st.status, "elapsed", elapsed.Round(time.Millisecond))
}

func (c *Conversation) countForward(direction string) {
	if c.met != nil {
		c.met.FramesForwarded.WithLabelValues(direction).Inc()
	}
}

func (c *Conversation) countDrop(direction string) {
	if c.met != nil {
		c.met.FramesDropped.WithLabelValues(direction).Inc()
	}
}

var _ calls.LiveSession = (*Conversation)(nil)
