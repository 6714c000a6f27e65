package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"callbridge/internal/config"
)

func testDialer(baseURL string) *Dialer {
	d := NewDialer(config.TwilioConfig{
		AccountSID:   "AC123",
		AuthToken:    "secret",
		CallerNumber: "+15550001111",
	})
	d.BaseURL = baseURL
	return d
}

func TestPlaceCall(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		r.ParseForm()
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostFormValue(k)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"CA777","status":"queued"}`))
	}))
	defer srv.Close()

	sid, err := testDialer(srv.URL).PlaceCall(context.Background(), PlaceCallRequest{
		To:                "+15552223333",
		InstructionsURL:   "https://calls.example.com/webhooks/voice?call_id=c1",
		StatusCallbackURL: "https://calls.example.com/webhooks/status",
	})
	if err != nil {
		t.Fatalf("place call failed: %v", err)
	}
	if sid != "CA777" {
		t.Fatalf("expected CA777, got %q", sid)
	}
	if gotPath != "/Accounts/AC123/Calls.json" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotUser != "AC123" || gotPass != "secret" {
		t.Fatalf("basic auth not set: %q/%q", gotUser, gotPass)
	}
	if gotForm["To"] != "+15552223333" || gotForm["From"] != "+15550001111" {
		t.Fatalf("unexpected numbers: %v", gotForm)
	}
	if gotForm["Url"] == "" || gotForm["StatusCallback"] == "" {
		t.Fatalf("webhook urls missing: %v", gotForm)
	}
}

func TestPlaceCallRejectedByProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"invalid number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testDialer(srv.URL).PlaceCall(context.Background(), PlaceCallRequest{
		To:              "+1555",
		InstructionsURL: "https://calls.example.com/webhooks/voice",
	})
	if err == nil {
		t.Fatalf("expected rejection error")
	}
}

func TestPlaceCallMissingSID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	_, err := testDialer(srv.URL).PlaceCall(context.Background(), PlaceCallRequest{
		To:              "+15552223333",
		InstructionsURL: "https://calls.example.com/webhooks/voice",
	})
	if err == nil {
		t.Fatalf("expected error for missing sid")
	}
}

func TestPlaceCallValidation(t *testing.T) {
	d := testDialer("http://unused")
	if _, err := d.PlaceCall(context.Background(), PlaceCallRequest{To: "+1555"}); err == nil {
		t.Fatalf("expected error for missing instructions url")
	}
	if _, err := d.PlaceCall(context.Background(), PlaceCallRequest{InstructionsURL: "https://x"}); err == nil {
		t.Fatalf("expected error for missing destination")
	}
}
