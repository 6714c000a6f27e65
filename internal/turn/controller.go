// Package turn arbitrates speaking rights between the caller and the AI
// voice for one live call.
//
// The controller is a plain finite-state machine: events in, commands out.
// It holds no sockets and no timers of its own, which keeps barge-in timing
// testable without a live audio stream. One controller exists per model
// session and is never shared across calls.
package turn

import (
	"sync"
	"time"
)

// State is the current turn owner.
type State string

const (
	StateIdle           State = "idle"
	StateAISpeaking     State = "ai_speaking"
	StateCallerSpeaking State = "caller_speaking"
)

// Config holds the operator-tunable timing knobs.
type Config struct {
	// BargeInGrace suppresses interruption for a window after AI speech
	// begins, to avoid false triggers from the AI's own audio leaking into
	// the caller-side detector. Zero means interrupt immediately.
	BargeInGrace time.Duration

	// ResponseDelay is an extra pause before the next AI response is
	// requested once the caller stops speaking. Zero means respond as soon
	// as the model allows.
	ResponseDelay time.Duration
}

// BargeIn is the command set emitted when the caller interrupts the AI.
type BargeIn struct {
	// ClearPlayback discards AI audio already queued on the telephony leg.
	ClearPlayback bool

	// TruncateMS tells the model how much of its interrupted utterance was
	// actually heard, bounded by the audio actually queued for playout.
	TruncateMS int64

	// UtteranceID identifies the interrupted utterance.
	UtteranceID string
}

// Controller tracks who owns the floor.
type Controller struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	state State

	// Current AI utterance bookkeeping.
	utteranceID    string
	utteranceStart time.Time
	queuedMS       int64
	interrupted    bool
}

// New returns a controller in the idle state.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, now: time.Now, state: StateIdle}
}

// SetClock overrides the time source. Test hook only.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// State returns the current turn owner.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AIUtteranceStarted records that the model began emitting audio for a new
// utterance and moves the floor to the AI.
func (c *Controller) AIUtteranceStarted(utteranceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateAISpeaking
	c.utteranceID = utteranceID
	c.utteranceStart = c.now()
	c.queuedMS = 0
	c.interrupted = false
}

// AIAudioQueued accounts audio queued for playout on the telephony leg.
// The running total bounds the truncation figure reported on barge-in.
func (c *Controller) AIAudioQueued(utteranceID string, durMS int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if utteranceID == c.utteranceID {
		c.queuedMS += int64(durMS)
	}
}

// QueuedMS reports how much audio has been queued for playout for the
// current utterance, in milliseconds.
func (c *Controller) QueuedMS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queuedMS
}

// AIUtteranceDone releases the floor when the AI finishes an utterance.
func (c *Controller) AIUtteranceDone(utteranceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAISpeaking && utteranceID == c.utteranceID {
		c.state = StateIdle
	}
}

// ShouldForward reports whether AI audio for the given utterance may still
// be sent to the telephony leg. Frames from an interrupted utterance are
// dropped so stale audio never plays after a clear.
func (c *Controller) ShouldForward(utteranceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !(c.interrupted && utteranceID == c.utteranceID)
}

// CallerStarted handles a caller-speech-started signal. If the AI holds the
// floor and the grace window has passed, this is a barge-in and the returned
// command must be applied before any further AI frames are forwarded.
func (c *Controller) CallerStarted() (BargeIn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAISpeaking {
		c.state = StateCallerSpeaking
		return BargeIn{}, false
	}

	elapsed := c.now().Sub(c.utteranceStart)
	if c.cfg.BargeInGrace > 0 && elapsed < c.cfg.BargeInGrace {
		// Too early to trust the detector; the AI keeps the floor.
		return BargeIn{}, false
	}

	c.state = StateCallerSpeaking
	c.interrupted = true

	playedMS := elapsed.Milliseconds()
	if playedMS > c.queuedMS {
		playedMS = c.queuedMS
	}
	if playedMS < 0 {
		playedMS = 0
	}
	return BargeIn{
		ClearPlayback: true,
		TruncateMS:    playedMS,
		UtteranceID:   c.utteranceID,
	}, true
}

// CallerStopped handles a caller-speech-stopped signal. The model has
// already applied its silence window before signalling, so the floor goes
// straight to idle. The returned delay is the extra pause to apply before
// requesting the next AI response.
func (c *Controller) CallerStopped() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCallerSpeaking {
		c.state = StateIdle
	}
	return c.cfg.ResponseDelay
}
