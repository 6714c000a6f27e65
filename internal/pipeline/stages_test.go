package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"callbridge/internal/audio"

	"github.com/gorilla/websocket"
)

type fakeSTTConn struct {
	mu     sync.Mutex
	reads  chan sttResult
	writes [][]byte
	closed bool
}

func newFakeSTTConn() *fakeSTTConn {
	return &fakeSTTConn{reads: make(chan sttResult, 8)}
}

func (c *fakeSTTConn) ReadJSON(v any) error {
	res, ok := <-c.reads
	if !ok {
		return errors.New("connection closed")
	}
	b, _ := json.Marshal(res)
	return json.Unmarshal(b, v)
}

func (c *fakeSTTConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageType != websocket.BinaryMessage {
		return errors.New("expected binary frame")
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeSTTConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func TestWSRecognizer(t *testing.T) {
	conn := newFakeSTTConn()
	r := newWSRecognizer(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer r.Close()

	frame := audio.Frame{Encoding: audio.EncodingPCM24k, Payload: make([]byte, 480)}
	if err := r.Write(frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if len(conn.writes) != 1 || len(conn.writes[0]) != 480 {
		t.Fatalf("frame not forwarded: %d writes", len(conn.writes))
	}
	bad := audio.Frame{Encoding: audio.EncodingMulaw8k, Payload: []byte{0xff}}
	if err := r.Write(bad); err == nil {
		t.Fatalf("expected encoding rejection")
	}

	conn.reads <- sttResult{Text: "hel", Final: false}
	conn.reads <- sttResult{Text: "hello there", Final: true, Confidence: 0.9}

	first := <-r.Results()
	if first.Final || first.Text != "hel" {
		t.Fatalf("unexpected interim: %+v", first)
	}
	second := <-r.Results()
	if !second.Final || second.Text != "hello there" || second.Confidence != 0.9 {
		t.Fatalf("unexpected final: %+v", second)
	}

	conn.Close()
	select {
	case _, ok := <-r.Results():
		if ok {
			t.Fatalf("expected results closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("results never closed")
	}
}

func TestChatReasoner(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "Sure, Tuesday works."}}},
		})
	}))
	defer srv.Close()

	rsn := NewChatReasoner("sk-test", "gpt-4o-mini")
	rsn.Endpoint = srv.URL

	call := CallContext{Purpose: "confirm an appointment", Instructions: "Be brief."}
	history := []Exchange{{Role: "assistant", Text: "Hi."}, {Role: "user", Text: "Who is this?"}}
	text, err := rsn.NextUtterance(context.Background(), call, history, "Who is this?")
	if err != nil {
		t.Fatalf("next utterance failed: %v", err)
	}
	if text != "Sure, Tuesday works." {
		t.Fatalf("unexpected reply %q", text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth header not set: %q", gotAuth)
	}
	if len(gotReq.Messages) != 3 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("history not forwarded: %+v", gotReq.Messages)
	}

	summary, err := rsn.Summarize(context.Background(), call, history)
	if err != nil || summary == "" {
		t.Fatalf("summarize failed: %q %v", summary, err)
	}
}

func TestChatReasonerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rsn := NewChatReasoner("sk-test", "gpt-4o-mini")
	rsn.Endpoint = srv.URL
	if _, err := rsn.NextUtterance(context.Background(), CallContext{}, nil, "hi"); err == nil {
		t.Fatalf("expected rejection error")
	}
}

func TestHTTPSynthesizer(t *testing.T) {
	pcm := make([]byte, 2400) // 50ms at 24 kHz
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ttsRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Text == "" {
			http.Error(w, "missing text", http.StatusBadRequest)
			return
		}
		w.Write(pcm)
	}))
	defer srv.Close()

	syn := NewHTTPSynthesizer(srv.URL, "en-US-1")
	frames, err := syn.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	// 2400 bytes in 960-byte frames: 960 + 960 + 480.
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	var total int
	for _, f := range frames {
		if f.Encoding != audio.EncodingPCM24k {
			t.Fatalf("unexpected encoding %s", f.Encoding)
		}
		total += len(f.Payload)
	}
	if total != 2400 {
		t.Fatalf("payload bytes lost: %d", total)
	}

	if _, err := syn.Synthesize(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty text")
	}
}
