package model

import "callbridge/internal/audio"

// Event is one occurrence surfaced from the model session. The conversation
// session consumes these from Events() in order.
type Event interface {
	eventType() string
}

// AudioDelta carries one chunk of AI speech (PCM16 24 kHz).
// UtteranceID groups deltas of one AI utterance; ItemID is the model-side
// handle needed for truncation on barge-in.
type AudioDelta struct {
	UtteranceID string
	ItemID      string
	Frame       audio.Frame
}

func (AudioDelta) eventType() string { return "audio_delta" }

// TextDelta carries a fragment of the AI utterance's text as it is spoken.
type TextDelta struct {
	UtteranceID string
	Delta       string
}

func (TextDelta) eventType() string { return "text_delta" }

// UtteranceDone marks an AI utterance complete with its full text.
type UtteranceDone struct {
	UtteranceID string
	Text        string
}

func (UtteranceDone) eventType() string { return "utterance_done" }

// CallerSpeechStarted fires when the model's VAD detects the caller talking;
// this is the barge-in trigger.
type CallerSpeechStarted struct{}

func (CallerSpeechStarted) eventType() string { return "caller_speech_started" }

// CallerSpeechStopped fires after the configured silence window elapses.
type CallerSpeechStopped struct{}

func (CallerSpeechStopped) eventType() string { return "caller_speech_stopped" }

// CallerTranscribed carries the recognized text of a caller utterance.
type CallerTranscribed struct {
	Text string
}

func (CallerTranscribed) eventType() string { return "caller_transcribed" }

// DurationExceeded fires once when the maximum call duration is reached.
// The session should let the current utterance finish, then stop.
type DurationExceeded struct{}

func (DurationExceeded) eventType() string { return "duration_exceeded" }

// SessionFailed is terminal: the model connection is unusable and the call
// must be torn down as failed. No reconnect is attempted mid-call.
type SessionFailed struct {
	Err error
}

func (SessionFailed) eventType() string { return "session_failed" }

// SessionClosed is terminal: the connection closed cleanly.
type SessionClosed struct{}

func (SessionClosed) eventType() string { return "session_closed" }
