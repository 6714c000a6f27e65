package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"callbridge/internal/calls"
)

type memStore struct {
	mu     sync.Mutex
	turns  []calls.TranscriptTurn
	status map[string]calls.Status

	failTurns bool
}

func newMemStore() *memStore {
	return &memStore{status: make(map[string]calls.Status)}
}

func (m *memStore) AppendTranscriptTurn(_ context.Context, turn calls.TranscriptTurn) (calls.TranscriptTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTurns {
		return calls.TranscriptTurn{}, errors.New("store down")
	}
	turn.TurnID = "t1"
	turn.CreatedAt = time.Now().UTC()
	m.turns = append(m.turns, turn)
	return turn, nil
}

func (m *memStore) UpdateStatus(_ context.Context, callID string, next calls.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.status[callID]
	if ok && !current.CanTransition(next) {
		return false, nil
	}
	m.status[callID] = next
	return true, nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *memPublisher) Publish(_ context.Context, _ string, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *memPublisher) snapshot() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTurnPersistsAndBroadcasts(t *testing.T) {
	st := newMemStore()
	pub := &memPublisher{}
	r := New(st, pub, testLogger())

	conf := 0.92
	r.Turn("c1", calls.SpeakerHuman, "cancel my order", &conf)
	r.Flush()

	if len(st.turns) != 1 {
		t.Fatalf("expected 1 persisted turn, got %d", len(st.turns))
	}
	got := st.turns[0]
	if got.Speaker != calls.SpeakerHuman || got.Message != "cancel my order" {
		t.Fatalf("unexpected turn %+v", got)
	}

	evs := pub.snapshot()
	if len(evs) != 1 || evs[0].Type != "transcript" || evs[0].CallID != "c1" {
		t.Fatalf("unexpected events %+v", evs)
	}
	if evs[0].Confidence == nil || *evs[0].Confidence != 0.92 {
		t.Fatalf("confidence lost in broadcast")
	}
}

func TestTurnDropsEmptyMessage(t *testing.T) {
	st := newMemStore()
	pub := &memPublisher{}
	r := New(st, pub, testLogger())

	r.Turn("c1", calls.SpeakerAI, "", nil)
	r.Flush()

	if len(st.turns) != 0 || len(pub.snapshot()) != 0 {
		t.Fatalf("empty message must be dropped")
	}
}

func TestTurnStoreFailureIsNotBroadcast(t *testing.T) {
	st := newMemStore()
	st.failTurns = true
	pub := &memPublisher{}
	r := New(st, pub, testLogger())

	r.Turn("c1", calls.SpeakerAI, "hello", nil)
	r.Flush()

	if len(pub.snapshot()) != 0 {
		t.Fatalf("failed persist must not broadcast")
	}
}

func TestStatusBroadcastOnlyWhenApplied(t *testing.T) {
	st := newMemStore()
	pub := &memPublisher{}
	r := New(st, pub, testLogger())
	ctx := context.Background()

	applied, err := r.Status(ctx, "c1", calls.StatusInProgress)
	if err != nil || !applied {
		t.Fatalf("expected first transition applied, got %v/%v", applied, err)
	}
	applied, err = r.Status(ctx, "c1", calls.StatusCompleted)
	if err != nil || !applied {
		t.Fatalf("expected terminal transition applied, got %v/%v", applied, err)
	}
	// Second teardown trigger loses the race: no write, no broadcast.
	applied, err = r.Status(ctx, "c1", calls.StatusFailed)
	if err != nil || applied {
		t.Fatalf("expected no-op after terminal, got %v/%v", applied, err)
	}

	evs := pub.snapshot()
	if len(evs) != 2 {
		t.Fatalf("expected 2 status events, got %d", len(evs))
	}
	if evs[1].Status != calls.StatusCompleted {
		t.Fatalf("unexpected final status %s", evs[1].Status)
	}
}

func TestChannelName(t *testing.T) {
	if got := Channel("abc"); got != "call:abc:events" {
		t.Fatalf("unexpected channel %q", got)
	}
}
