package calls

import "time"

// Call represents one outbound phone call placed on a user's behalf.
//
// The row is owned by the store; a live conversation session holds a working
// copy for the duration of the call and writes status/outcome back on
// transitions. Status only ever moves forward through the lifecycle.
type Call struct {
	CallID string `json:"call_id" db:"call_id"`

	// To is the destination number, E.164 where possible.
	To string `json:"to" db:"to_number"`

	// Purpose is what the AI is trying to accomplish on the call.
	Purpose string `json:"purpose" db:"purpose"`

	// Voice is the caller's preferred AI voice; empty means the default.
	Voice string `json:"voice,omitempty" db:"voice"`

	// Instructions are free-text behavioral directions for the AI.
	Instructions string `json:"instructions,omitempty" db:"instructions"`

	Status Status `json:"status" db:"status"`

	// ProviderCallID is the telephony provider's reference (e.g. CallSid).
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	DurationSeconds int    `json:"duration,omitempty" db:"duration"`
	RecordingURL    string `json:"recording_url,omitempty" db:"recording_url"`

	// Outcome is the free-text summary written at call end.
	Outcome string `json:"outcome,omitempty" db:"outcome"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Status is the call lifecycle state.
//
// queued -> calling -> in_progress -> {completed | failed | cancelled}
type Status string

const (
	StatusQueued     Status = "queued"
	StatusCalling    Status = "calling"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// rank orders the lifecycle for forward-only transitions.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusCalling:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted, StatusFailed, StatusCancelled:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next respects the
// forward-only lifecycle. Terminal states never transition again; equal
// states are a no-op, not a violation.
func (s Status) CanTransition(next Status) bool {
	if s.rank() < 0 || next.rank() < 0 {
		return false
	}
	if s == next {
		return false
	}
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	SpeakerAI    Speaker = "ai"
	SpeakerHuman Speaker = "human"
)

// TranscriptTurn is one utterance on a call. Append-only: a turn is never
// updated or deleted once created.
type TranscriptTurn struct {
	TurnID  string  `json:"turn_id" db:"turn_id"`
	CallID  string  `json:"call_id" db:"call_id"`
	Speaker Speaker `json:"speaker" db:"speaker"`
	Message string  `json:"message" db:"message"`

	// Confidence is set only for recognized caller speech, when available.
	Confidence *float64 `json:"confidence,omitempty" db:"confidence"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
