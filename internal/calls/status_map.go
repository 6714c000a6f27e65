package calls

// MapProviderStatus translates a telephony provider call status into the
// internal lifecycle. Pure function: unknown statuses map to "", which
// callers must treat as a no-op, never an error.
//
// Provider statuses: queued, initiated, ringing, in-progress, completed,
// busy, no-answer, failed, canceled.
func MapProviderStatus(provider string) Status {
	switch provider {
	case "queued", "initiated", "ringing":
		return StatusCalling
	case "in-progress":
		return StatusInProgress
	case "completed":
		return StatusCompleted
	case "busy", "no-answer", "failed":
		return StatusFailed
	case "canceled":
		return StatusCancelled
	default:
		return ""
	}
}
