// Package model owns the streaming connection to the realtime AI
// conversation model for the life of one call.
//
// The client speaks the realtime protocol: a session-configuration message
// up front, audio-append messages streamed continuously, and a stream of
// typed server events back (audio deltas, text deltas, speech start/stop,
// caller transcriptions, errors). The model runs its own speech detection;
// no explicit start/stop talking signals are sent for normal turns.
package model

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"callbridge/internal/audio"
	"callbridge/internal/config"

	"github.com/gorilla/websocket"
)

const realtimeURL = "wss://api.openai.com/v1/realtime"

// eventBuffer absorbs bursts of audio deltas without backpressuring the
// read loop into the websocket.
const eventBuffer = 256

// Conn is the subset of the websocket connection the session uses.
// *websocket.Conn satisfies it; tests substitute a fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Options configures one model session.
type Options struct {
	Voice        string
	Instructions string

	VADThreshold    float64
	PrefixPadding   time.Duration
	SilenceDuration time.Duration

	Temperature      float64
	FrequencyPenalty float64
	PresencePenalty  float64

	// MaxCallDuration bounds the session; zero disables the bound.
	MaxCallDuration time.Duration
}

// OptionsFromConfig builds session options from app config, with the
// per-call voice preference and behavioral instructions applied on top.
func OptionsFromConfig(cfg config.ModelConfig, voice, instructions string) Options {
	if voice == "" {
		voice = cfg.Voice
	}
	return Options{
		Voice:            voice,
		Instructions:     instructions,
		VADThreshold:     cfg.VADThreshold,
		PrefixPadding:    cfg.PrefixPadding,
		SilenceDuration:  cfg.SilenceDuration,
		Temperature:      cfg.Temperature,
		FrequencyPenalty: cfg.FrequencyPenalty,
		PresencePenalty:  cfg.PresencePenalty,
		MaxCallDuration:  cfg.MaxCallDuration,
	}
}

type Session struct {
	conn Conn
	opts Options
	log  *slog.Logger

	writeMu sync.Mutex

	events chan Event
	done   chan struct{}

	closeOnce sync.Once
	seq       uint64
	durTimer  *time.Timer
}

// Dial opens the realtime websocket and returns an unstarted session.
func Dial(ctx context.Context, cfg config.ModelConfig, opts Options, log *slog.Logger) (*Session, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, realtimeURL+"?model="+cfg.Model, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("model: dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("model: dial failed: %w", err)
	}
	return NewSession(conn, opts, log), nil
}

// NewSession wraps an established connection. Call Start before use.
func NewSession(conn Conn, opts Options, log *slog.Logger) *Session {
	return &Session{
		conn:   conn,
		opts:   opts,
		log:    log,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Start sends the session configuration, requests the opening greeting so
// the call begins with the AI speaking, and launches the read loop.
func (s *Session) Start() error {
	if err := s.write(s.configurePayload()); err != nil {
		return fmt.Errorf("model: configure: %w", err)
	}
	// Greeting: an empty response request with no caller input.
	if err := s.write(responseCreateMsg{Type: "response.create"}); err != nil {
		return fmt.Errorf("model: greeting request: %w", err)
	}

	if s.opts.MaxCallDuration > 0 {
		s.durTimer = time.AfterFunc(s.opts.MaxCallDuration, func() {
			s.emit(DurationExceeded{})
		})
	}

	go s.readLoop()
	return nil
}

func (s *Session) configurePayload() sessionUpdateMsg {
	return sessionUpdateMsg{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:        []string{"audio", "text"},
			Voice:             s.opts.Voice,
			Instructions:      s.opts.Instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection: &turnDetection{
				Type:              "server_vad",
				Threshold:         s.opts.VADThreshold,
				PrefixPaddingMS:   int(s.opts.PrefixPadding / time.Millisecond),
				SilenceDurationMS: int(s.opts.SilenceDuration / time.Millisecond),
			},
			InputTranscription: &transcription{Model: "whisper-1"},
			Temperature:        s.opts.Temperature,
			FrequencyPenalty:   s.opts.FrequencyPenalty,
			PresencePenalty:    s.opts.PresencePenalty,
		},
	}
}

// Events returns the inbound event stream. Closed on session end.
func (s *Session) Events() <-chan Event {
	return s.events
}

// SendAudio streams one caller frame (PCM16 24 kHz) to the model.
func (s *Session) SendAudio(f audio.Frame) error {
	if f.Encoding != audio.EncodingPCM24k {
		return fmt.Errorf("model: SendAudio expects %s, got %s", audio.EncodingPCM24k, f.Encoding)
	}
	return s.write(audioAppendMsg{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(f.Payload),
	})
}

// RequestResponse asks the model to produce its next utterance. Used by the
// session after an explicit response delay; normal turns are driven by the
// model's own VAD.
func (s *Session) RequestResponse() error {
	return s.write(responseCreateMsg{Type: "response.create"})
}

// RequestSummary asks for a text-only outcome summary of the conversation.
// The answer arrives as a normal UtteranceDone event.
func (s *Session) RequestSummary() error {
	return s.write(responseCreateMsg{
		Type: "response.create",
		Response: &responseParams{
			Modalities:   []string{"text"},
			Instructions: "Summarize the call outcome in one short paragraph: what was requested, what was agreed, and any follow-up needed.",
		},
	})
}

// Truncate tells the model how much of its interrupted utterance the caller
// actually heard, and cancels the in-flight response.
func (s *Session) Truncate(itemID string, audioEndMS int64) error {
	if itemID == "" {
		return errors.New("model: truncate requires an item id")
	}
	if err := s.write(responseCancelMsg{Type: "response.cancel"}); err != nil {
		return err
	}
	return s.write(itemTruncateMsg{
		Type:       "conversation.item.truncate",
		ItemID:     itemID,
		AudioEndMS: audioEndMS,
	})
}

// Close tears the connection down. Idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.durTimer != nil {
			s.durTimer.Stop()
		}
		err = s.conn.Close()
	})
	return err
}

func (s *Session) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, marshal(v))
}

func (s *Session) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				s.emitBlocking(SessionClosed{})
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.emitBlocking(SessionClosed{})
				} else {
					s.emitBlocking(SessionFailed{Err: err})
				}
			}
			return
		}
		ev, ok := s.parseServerEvent(data)
		if !ok {
			continue
		}
		if failed, terminal := ev.(SessionFailed); terminal {
			s.emitBlocking(failed)
			return
		}
		switch ev.(type) {
		case CallerSpeechStarted, CallerSpeechStopped:
			// A dropped speech-start means a missed barge-in; these are
			// rare and must reach the consumer.
			s.emitBlocking(ev)
		default:
			s.emit(ev)
		}
	}
}

// parseServerEvent maps one wire message to an internal event. Unknown
// types and malformed payloads return ok=false; a single bad message never
// terminates the stream.
func (s *Session) parseServerEvent(data []byte) (Event, bool) {
	var ev serverEvent
	if err := unmarshal(data, &ev); err != nil {
		s.log.Warn("model event decode failed", "err", err)
		return nil, false
	}

	switch ev.Type {
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil || len(pcm) == 0 {
			s.log.Warn("model audio delta decode failed", "err", err)
			return nil, false
		}
		s.seq++
		return AudioDelta{
			UtteranceID: ev.ResponseID,
			ItemID:      ev.ItemID,
			Frame: audio.Frame{
				Encoding: audio.EncodingPCM24k,
				Seq:      s.seq,
				Payload:  pcm,
			},
		}, true
	case "response.audio_transcript.delta", "response.text.delta":
		return TextDelta{UtteranceID: ev.ResponseID, Delta: ev.Delta}, true
	case "response.audio_transcript.done":
		return UtteranceDone{UtteranceID: ev.ResponseID, Text: ev.Transcript}, true
	case "response.text.done":
		return UtteranceDone{UtteranceID: ev.ResponseID, Text: ev.Text}, true
	case "input_audio_buffer.speech_started":
		return CallerSpeechStarted{}, true
	case "input_audio_buffer.speech_stopped":
		return CallerSpeechStopped{}, true
	case "conversation.item.input_audio_transcription.completed":
		return CallerTranscribed{Text: ev.Transcript}, true
	case "error":
		msg := "model session error"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		return SessionFailed{Err: errors.New(msg)}, true
	default:
		return nil, false
	}
}

// emit drops the event if the consumer is saturated; only audio deltas are
// ever numerous enough to hit this, and a dropped delta is preferable to a
// stalled read loop.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	default:
		s.log.Warn("model event dropped, consumer saturated", "type", fmt.Sprintf("%T", ev))
	}
}

// emitBlocking is used for terminal events that must not be lost.
func (s *Session) emitBlocking(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
