package telephony

import (
	"net/http"
	"strconv"
	"strings"
)

// StatusCallback captures the subset of status webhook fields we care
// about. The provider sends application/x-www-form-urlencoded.
type StatusCallback struct {
	ProviderCallID string
	CallStatus     string
	DurationSec    int
	RecordingURL   string
}

// ParseStatusCallback reads the provider's asynchronous status form.
// Missing optional fields stay zero; only the call reference is required.
func ParseStatusCallback(r *http.Request) (StatusCallback, bool) {
	if err := r.ParseForm(); err != nil {
		return StatusCallback{}, false
	}
	cb := StatusCallback{
		ProviderCallID: strings.TrimSpace(r.PostFormValue("CallSid")),
		CallStatus:     strings.TrimSpace(r.PostFormValue("CallStatus")),
		RecordingURL:   strings.TrimSpace(r.PostFormValue("RecordingUrl")),
	}
	if cb.ProviderCallID == "" {
		return StatusCallback{}, false
	}
	if v := strings.TrimSpace(r.PostFormValue("CallDuration")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cb.DurationSec = n
		}
	}
	return cb, true
}
