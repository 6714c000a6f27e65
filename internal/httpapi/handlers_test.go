package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/store"
	"callbridge/internal/telephony"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	calls       map[string]calls.Call
	byProvider  map[string]string
	transcripts map[string][]calls.TranscriptTurn
	results     []string // recorded outcomes/recordings
	createErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		calls:       map[string]calls.Call{},
		byProvider:  map[string]string{},
		transcripts: map[string][]calls.TranscriptTurn{},
	}
}

func (f *fakeStore) CreateCall(_ context.Context, to, purpose, voice, instructions string) (calls.Call, error) {
	if f.createErr != nil {
		return calls.Call{}, f.createErr
	}
	c := calls.Call{CallID: "c1", To: to, Purpose: purpose, Voice: voice, Instructions: instructions, Status: calls.StatusQueued}
	f.calls[c.CallID] = c
	return c, nil
}

func (f *fakeStore) GetCall(_ context.Context, callID string) (calls.Call, error) {
	c, ok := f.calls[callID]
	if !ok {
		return calls.Call{}, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) GetCallByProviderID(_ context.Context, providerCallID string) (calls.Call, error) {
	id, ok := f.byProvider[providerCallID]
	if !ok {
		return calls.Call{}, store.ErrNotFound
	}
	return f.calls[id], nil
}

func (f *fakeStore) SetProviderCallID(_ context.Context, callID, providerCallID string) error {
	c := f.calls[callID]
	c.ProviderCallID = providerCallID
	f.calls[callID] = c
	f.byProvider[providerCallID] = callID
	return nil
}

func (f *fakeStore) SetCallResult(_ context.Context, callID string, durationSeconds int, recordingURL, outcome string) error {
	f.results = append(f.results, callID)
	c := f.calls[callID]
	if durationSeconds > 0 {
		c.DurationSeconds = durationSeconds
	}
	if recordingURL != "" {
		c.RecordingURL = recordingURL
	}
	if outcome != "" {
		c.Outcome = outcome
	}
	f.calls[callID] = c
	return nil
}

func (f *fakeStore) ListTranscript(_ context.Context, callID string) ([]calls.TranscriptTurn, error) {
	return f.transcripts[callID], nil
}

type fakeStatusRelay struct {
	statuses []calls.Status
}

func (f *fakeStatusRelay) Status(_ context.Context, _ string, next calls.Status) (bool, error) {
	f.statuses = append(f.statuses, next)
	return true, nil
}

type fakeDialer struct {
	req telephony.PlaceCallRequest
	err error
}

func (f *fakeDialer) PlaceCall(_ context.Context, req telephony.PlaceCallRequest) (string, error) {
	f.req = req
	if f.err != nil {
		return "", f.err
	}
	return "CA99", nil
}

type stoppableSession struct {
	id      string
	stopped []string
}

func (s *stoppableSession) CallID() string     { return s.id }
func (s *stoppableSession) Stop(reason string) { s.stopped = append(s.stopped, reason) }

func testConfig() config.Config {
	var cfg config.Config
	cfg.App.PublicHost = "calls.example.com"
	cfg.Stream.CorrelationGrace = 200 * time.Millisecond
	cfg.Stream.MaxConcurrentCalls = 5
	cfg.Model.MaxCallDuration = time.Minute
	return cfg
}

func testHandlers(st *fakeStore, rel *fakeStatusRelay, d *fakeDialer) Handlers {
	tokens, _ := telephony.NewStreamTokens("test-secret", time.Minute)
	return Handlers{
		Cfg:      testConfig(),
		Store:    st,
		Relay:    rel,
		Registry: calls.NewRegistry(),
		Dialer:   d,
		Tokens:   tokens,
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func performJSON(h gin.HandlerFunc, method, target, body string, params ...gin.Param) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	c.Request = r
	c.Params = params
	h(c)
	return w
}

func performForm(h gin.HandlerFunc, target string, form url.Values) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.Request = r
	h(c)
	return w
}

func TestCreateCall(t *testing.T) {
	st := newFakeStore()
	rel := &fakeStatusRelay{}
	d := &fakeDialer{}
	h := testHandlers(st, rel, d)

	w := performJSON(h.CreateCall, http.MethodPost, "/v1/calls",
		`{"to":"+15552223333","purpose":"confirm appointment","voice":"alloy"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var out calls.Call
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if out.ProviderCallID != "CA99" || out.Status != calls.StatusCalling {
		t.Fatalf("unexpected call: %+v", out)
	}

	if !strings.Contains(d.req.InstructionsURL, "https://calls.example.com/webhooks/voice?call_id=c1") {
		t.Fatalf("instructions url wrong: %q", d.req.InstructionsURL)
	}
	if d.req.StatusCallbackURL != "https://calls.example.com/webhooks/status" {
		t.Fatalf("status callback url wrong: %q", d.req.StatusCallbackURL)
	}
	if len(rel.statuses) != 1 || rel.statuses[0] != calls.StatusCalling {
		t.Fatalf("expected calling status, got %v", rel.statuses)
	}
	if st.calls["c1"].ProviderCallID != "CA99" {
		t.Fatalf("provider id not stored")
	}
}

func TestCreateCallDialFailure(t *testing.T) {
	st := newFakeStore()
	rel := &fakeStatusRelay{}
	d := &fakeDialer{err: errors.New("provider down")}
	h := testHandlers(st, rel, d)

	w := performJSON(h.CreateCall, http.MethodPost, "/v1/calls",
		`{"to":"+15552223333","purpose":"confirm appointment"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if len(rel.statuses) != 1 || rel.statuses[0] != calls.StatusFailed {
		t.Fatalf("expected failed status, got %v", rel.statuses)
	}
}

func TestCreateCallValidation(t *testing.T) {
	h := testHandlers(newFakeStore(), &fakeStatusRelay{}, &fakeDialer{})

	w := performJSON(h.CreateCall, http.MethodPost, "/v1/calls", `{"to":"+15552223333"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing purpose, got %d", w.Code)
	}
	w = performJSON(h.CreateCall, http.MethodPost, "/v1/calls", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", w.Code)
	}
}

func TestGetCall(t *testing.T) {
	st := newFakeStore()
	st.calls["c1"] = calls.Call{CallID: "c1", Status: calls.StatusCompleted}
	h := testHandlers(st, &fakeStatusRelay{}, &fakeDialer{})

	w := performJSON(h.GetCall, http.MethodGet, "/v1/calls/c1", "", gin.Param{Key: "call_id", Value: "c1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = performJSON(h.GetCall, http.MethodGet, "/v1/calls/zzz", "", gin.Param{Key: "call_id", Value: "zzz"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetTranscript(t *testing.T) {
	st := newFakeStore()
	st.calls["c1"] = calls.Call{CallID: "c1"}
	st.transcripts["c1"] = []calls.TranscriptTurn{
		{TurnID: "t1", CallID: "c1", Speaker: calls.SpeakerAI, Message: "Hello, how can I help?"},
	}
	h := testHandlers(st, &fakeStatusRelay{}, &fakeDialer{})

	w := performJSON(h.GetTranscript, http.MethodGet, "/v1/calls/c1/transcript", "", gin.Param{Key: "call_id", Value: "c1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Hello, how can I help?") {
		t.Fatalf("transcript missing: %s", w.Body.String())
	}
}

func TestVoiceWebhook(t *testing.T) {
	st := newFakeStore()
	st.calls["c1"] = calls.Call{CallID: "c1", Status: calls.StatusCalling}
	h := testHandlers(st, &fakeStatusRelay{}, &fakeDialer{})

	w := performJSON(h.VoiceWebhook, http.MethodPost, "/webhooks/voice?call_id=c1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `<Stream url="wss://calls.example.com/stream">`) {
		t.Fatalf("expected stream directive:\n%s", body)
	}
	if !strings.Contains(body, `value="c1"`) {
		t.Fatalf("call reference missing:\n%s", body)
	}
}

func TestVoiceWebhookUnknownCall(t *testing.T) {
	h := testHandlers(newFakeStore(), &fakeStatusRelay{}, &fakeDialer{})

	w := performJSON(h.VoiceWebhook, http.MethodPost, "/webhooks/voice?call_id=zzz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("webhook must always succeed, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Say>") || !strings.Contains(w.Body.String(), "<Hangup>") {
		t.Fatalf("expected apology document:\n%s", w.Body.String())
	}
}

func TestStatusWebhook(t *testing.T) {
	st := newFakeStore()
	st.calls["c1"] = calls.Call{CallID: "c1", ProviderCallID: "CA99", Status: calls.StatusCalling}
	st.byProvider["CA99"] = "c1"
	rel := &fakeStatusRelay{}
	h := testHandlers(st, rel, &fakeDialer{})

	form := url.Values{}
	form.Set("CallSid", "CA99")
	form.Set("CallStatus", "in-progress")
	form.Set("CallDuration", "42")

	w := performForm(h.StatusWebhook, "/webhooks/status", form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(rel.statuses) != 1 || rel.statuses[0] != calls.StatusInProgress {
		t.Fatalf("expected in_progress, got %v", rel.statuses)
	}
	if len(st.results) != 1 {
		t.Fatalf("expected result write for duration, got %v", st.results)
	}
}

func TestStatusWebhookStopsLiveSessionOnTerminal(t *testing.T) {
	st := newFakeStore()
	st.calls["c1"] = calls.Call{CallID: "c1", ProviderCallID: "CA99", Status: calls.StatusInProgress}
	st.byProvider["CA99"] = "c1"
	rel := &fakeStatusRelay{}
	h := testHandlers(st, rel, &fakeDialer{})

	live := &stoppableSession{id: "c1"}
	h.Registry.Put(live)

	form := url.Values{}
	form.Set("CallSid", "CA99")
	form.Set("CallStatus", "no-answer")

	performForm(h.StatusWebhook, "/webhooks/status", form)
	if len(rel.statuses) != 1 || rel.statuses[0] != calls.StatusFailed {
		t.Fatalf("no-answer must map to failed, got %v", rel.statuses)
	}
	if len(live.stopped) != 1 {
		t.Fatalf("live session not stopped: %v", live.stopped)
	}
}

func TestStatusWebhookUnknownStatusIsNoOp(t *testing.T) {
	st := newFakeStore()
	st.calls["c1"] = calls.Call{CallID: "c1", ProviderCallID: "CA99"}
	st.byProvider["CA99"] = "c1"
	rel := &fakeStatusRelay{}
	h := testHandlers(st, rel, &fakeDialer{})

	form := url.Values{}
	form.Set("CallSid", "CA99")
	form.Set("CallStatus", "some-new-status")

	w := performForm(h.StatusWebhook, "/webhooks/status", form)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(rel.statuses) != 0 {
		t.Fatalf("unknown status must not transition, got %v", rel.statuses)
	}
}

func TestStatusWebhookAlwaysAcks(t *testing.T) {
	h := testHandlers(newFakeStore(), &fakeStatusRelay{}, &fakeDialer{})

	// No CallSid at all.
	w := performForm(h.StatusWebhook, "/webhooks/status", url.Values{})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 even for garbage, got %d", w.Code)
	}
}

func TestDTMFWebhook(t *testing.T) {
	st := newFakeStore()
	st.calls["c1"] = calls.Call{CallID: "c1", Status: calls.StatusInProgress}
	h := testHandlers(st, &fakeStatusRelay{}, &fakeDialer{})

	w := performJSON(h.DTMFWebhook, http.MethodPost, "/webhooks/dtmf?call_id=c1&digits=123%23", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `<Play digits="123#">`) {
		t.Fatalf("expected play directive:\n%s", w.Body.String())
	}
}

func TestDTMFWebhookRejectsBadDigits(t *testing.T) {
	st := newFakeStore()
	st.calls["c1"] = calls.Call{CallID: "c1"}
	h := testHandlers(st, &fakeStatusRelay{}, &fakeDialer{})

	w := performJSON(h.DTMFWebhook, http.MethodPost, "/webhooks/dtmf?call_id=c1&digits=12x", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "<Play") {
		t.Fatalf("bad digits must not render a play directive:\n%s", body)
	}
	if !strings.Contains(body, "<Hangup>") {
		t.Fatalf("expected clean hangup document:\n%s", body)
	}
}
