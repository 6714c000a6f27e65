// Package pipeline is the legacy fallback path: sequential speech
// recognition, a reasoning stage, and speech synthesis composed behind the
// same contract the realtime model session presents, so the conversation
// loop does not care which path is active.
//
// Turn-taking here is explicit. AI speech is generated only after a final
// caller transcript; interruption is not audio-level, it simply discards
// in-flight synthesis when new caller speech is recognized.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callbridge/internal/audio"
	"callbridge/internal/model"
)

// Transcript is one recognition result. Interim results carry partial text
// and Final=false; exactly one Final result ends each caller utterance.
type Transcript struct {
	Text       string
	Final      bool
	Confidence float64
}

// Recognizer is the streaming speech-to-text stage.
type Recognizer interface {
	Write(f audio.Frame) error
	Results() <-chan Transcript
	Close() error
}

// CallContext is the behavioral framing passed to the reasoning stage.
type CallContext struct {
	Purpose      string
	Instructions string
}

// Exchange is one prior turn of the conversation, for reasoning context.
type Exchange struct {
	Role string // "assistant" or "user"
	Text string
}

// Reasoner produces the next AI utterance, and the terminal call summary.
type Reasoner interface {
	NextUtterance(ctx context.Context, call CallContext, history []Exchange, callerText string) (string, error)
	Summarize(ctx context.Context, call CallContext, history []Exchange) (string, error)
}

// Synthesizer turns utterance text into PCM16 24 kHz frames.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]audio.Frame, error)
}

const stageTimeout = 30 * time.Second

// Orchestrator drives the three stages for one call. It satisfies the same
// surface as the realtime model session: audio in, typed events out.
type Orchestrator struct {
	rec  Recognizer
	rsn  Reasoner
	syn  Synthesizer
	call CallContext
	log  *slog.Logger

	events chan model.Event
	done   chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup // in-flight respond/summary workers

	mu             sync.Mutex
	gen            int // bumped to discard in-flight reasoning/synthesis
	utterances     int
	history        []Exchange
	callerSpeaking bool
	seq            uint64
}

func NewOrchestrator(rec Recognizer, rsn Reasoner, syn Synthesizer, call CallContext, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		rec:    rec,
		rsn:    rsn,
		syn:    syn,
		call:   call,
		log:    log,
		events: make(chan model.Event, 256),
		done:   make(chan struct{}),
	}
}

// Start launches the recognition consumer and requests the opening greeting
// so the call begins with the AI speaking.
func (o *Orchestrator) Start() error {
	go o.consumeResults()
	o.spawn(func() { o.respond(o.currentGen(), "") })
	return nil
}

// spawn tracks worker goroutines so the events channel is not closed while
// any of them can still emit.
func (o *Orchestrator) spawn(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

// stageContext bounds one stage call and aborts it when the pipeline closes.
func (o *Orchestrator) stageContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), stageTimeout)
	go func() {
		select {
		case <-o.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Events returns the outbound event stream. Closed on session end.
func (o *Orchestrator) Events() <-chan model.Event { return o.events }

// SendAudio feeds one caller frame (PCM16 24 kHz) to the recognizer.
func (o *Orchestrator) SendAudio(f audio.Frame) error {
	if f.Encoding != audio.EncodingPCM24k {
		return fmt.Errorf("pipeline: SendAudio expects %s, got %s", audio.EncodingPCM24k, f.Encoding)
	}
	return o.rec.Write(f)
}

// RequestResponse re-prompts with no new caller text; used after an explicit
// response delay.
func (o *Orchestrator) RequestResponse() error {
	o.spawn(func() { o.respond(o.currentGen(), "") })
	return nil
}

// RequestSummary asks the reasoning stage for the terminal call summary.
// The answer arrives as an UtteranceDone event carrying text only.
func (o *Orchestrator) RequestSummary() error {
	o.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), stageTimeout)
		defer cancel()

		o.mu.Lock()
		history := append([]Exchange(nil), o.history...)
		o.mu.Unlock()

		text, err := o.rsn.Summarize(ctx, o.call, history)
		if err != nil {
			o.log.Warn("summary stage failed", "err", err)
			o.emitBlocking(model.UtteranceDone{UtteranceID: "summary"})
			return
		}
		o.emitBlocking(model.UtteranceDone{UtteranceID: "summary", Text: text})
	})
	return nil
}

// Truncate discards the in-flight utterance. There is no model-side playback
// position to report in this path; the generation bump is the whole story.
func (o *Orchestrator) Truncate(string, int64) error {
	o.bumpGen()
	return nil
}

// Close tears the pipeline down. Idempotent.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.done)
		o.bumpGen()
		err = o.rec.Close()
	})
	return err
}

func (o *Orchestrator) currentGen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen
}

func (o *Orchestrator) bumpGen() {
	o.mu.Lock()
	o.gen++
	o.mu.Unlock()
}

func (o *Orchestrator) consumeResults() {
	for res := range o.rec.Results() {
		if res.Text == "" {
			continue
		}
		if !res.Final {
			o.mu.Lock()
			speaking := o.callerSpeaking
			o.callerSpeaking = true
			o.gen++ // new speech discards any in-flight synthesis
			o.mu.Unlock()
			if !speaking {
				o.emit(model.CallerSpeechStarted{})
			}
			continue
		}

		o.mu.Lock()
		o.callerSpeaking = false
		o.gen++
		gen := o.gen
		o.history = append(o.history, Exchange{Role: "user", Text: res.Text})
		o.mu.Unlock()

		o.emit(model.CallerTranscribed{Text: res.Text})
		o.emit(model.CallerSpeechStopped{})
		o.spawn(func() { o.respond(gen, res.Text) })
	}
	o.wg.Wait()
	o.emitBlocking(model.SessionClosed{})
	close(o.events)
}

// respond runs one reason-then-synthesize cycle. A stale generation at any
// checkpoint means the caller spoke again; the work is silently discarded.
func (o *Orchestrator) respond(gen int, callerText string) {
	ctx, cancel := o.stageContext()
	defer cancel()

	o.mu.Lock()
	history := append([]Exchange(nil), o.history...)
	o.mu.Unlock()

	text, err := o.rsn.NextUtterance(ctx, o.call, history, callerText)
	if err != nil {
		o.log.Error("reasoning stage failed", "err", err)
		o.emitBlocking(model.SessionFailed{Err: err})
		return
	}
	if o.stale(gen) || text == "" {
		return
	}

	frames, err := o.syn.Synthesize(ctx, text)
	if err != nil {
		o.log.Error("synthesis stage failed", "err", err)
		o.emitBlocking(model.SessionFailed{Err: err})
		return
	}
	if o.stale(gen) {
		return
	}

	o.mu.Lock()
	o.utterances++
	utteranceID := fmt.Sprintf("legacy-%d", o.utterances)
	o.history = append(o.history, Exchange{Role: "assistant", Text: text})
	o.mu.Unlock()

	for _, f := range frames {
		if o.stale(gen) {
			return
		}
		o.mu.Lock()
		o.seq++
		f.Seq = o.seq
		o.mu.Unlock()
		o.emitBlocking(model.AudioDelta{UtteranceID: utteranceID, ItemID: utteranceID, Frame: f})
	}
	o.emitBlocking(model.UtteranceDone{UtteranceID: utteranceID, Text: text})
}

func (o *Orchestrator) stale(gen int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return gen != o.gen
}

func (o *Orchestrator) emit(ev model.Event) {
	select {
	case o.events <- ev:
	case <-o.done:
	default:
		o.log.Warn("pipeline event dropped, consumer saturated", "type", fmt.Sprintf("%T", ev))
	}
}

func (o *Orchestrator) emitBlocking(ev model.Event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}
