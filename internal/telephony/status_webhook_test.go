package telephony

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestParseStatusCallback(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA42")
	form.Set("CallStatus", "completed")
	form.Set("CallDuration", "87")
	form.Set("RecordingUrl", "https://api.example.com/rec/RE1")

	r := httptest.NewRequest("POST", "/webhooks/status", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	cb, ok := ParseStatusCallback(r)
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if cb.ProviderCallID != "CA42" || cb.CallStatus != "completed" {
		t.Fatalf("unexpected callback: %+v", cb)
	}
	if cb.DurationSec != 87 || cb.RecordingURL != "https://api.example.com/rec/RE1" {
		t.Fatalf("optional fields not parsed: %+v", cb)
	}
}

func TestParseStatusCallbackMinimal(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA42")
	form.Set("CallStatus", "ringing")

	r := httptest.NewRequest("POST", "/webhooks/status", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	cb, ok := ParseStatusCallback(r)
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if cb.DurationSec != 0 || cb.RecordingURL != "" {
		t.Fatalf("expected zero optional fields: %+v", cb)
	}
}

func TestParseStatusCallbackRequiresCallSid(t *testing.T) {
	form := url.Values{}
	form.Set("CallStatus", "completed")

	r := httptest.NewRequest("POST", "/webhooks/status", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if _, ok := ParseStatusCallback(r); ok {
		t.Fatalf("expected rejection without CallSid")
	}
}
