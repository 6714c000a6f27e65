// Package relay persists transcript turns and call-status transitions and
// broadcasts them to dashboard subscribers over Redis pub/sub.
//
// Turns are written asynchronously: live audio forwarding must never block
// on the store, so a slow database costs a log line, not audible latency.
// There is no replay: subscribers that join mid-call fetch current state
// from the API first.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"callbridge/internal/calls"

	"github.com/redis/go-redis/v9"
)

// Channel returns the pub/sub channel for a call.
func Channel(callID string) string {
	return "call:" + callID + ":events"
}

// Event is the wire shape published to subscribers.
type Event struct {
	Type   string       `json:"type"` // "transcript" or "status"
	CallID string       `json:"call_id"`
	Status calls.Status `json:"status,omitempty"`

	Speaker    calls.Speaker `json:"speaker,omitempty"`
	Message    string        `json:"message,omitempty"`
	Confidence *float64      `json:"confidence,omitempty"`

	At time.Time `json:"at"`
}

// TurnStore is the slice of the call store the relay writes through.
type TurnStore interface {
	AppendTranscriptTurn(ctx context.Context, turn calls.TranscriptTurn) (calls.TranscriptTurn, error)
	UpdateStatus(ctx context.Context, callID string, next calls.Status) (bool, error)
}

// Publisher abstracts the broadcast side for tests.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher broadcasts over a Redis client.
type RedisPublisher struct {
	RDB *redis.Client
}

func (p RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.RDB.Publish(ctx, channel, payload).Err()
}

type Relay struct {
	store TurnStore
	pub   Publisher
	log   *slog.Logger

	// writeTimeout bounds each background persistence call so a wedged
	// store cannot pin goroutines for the life of the process.
	writeTimeout time.Duration

	wg sync.WaitGroup
}

func New(store TurnStore, pub Publisher, log *slog.Logger) *Relay {
	return &Relay{
		store:        store,
		pub:          pub,
		log:          log,
		writeTimeout: 10 * time.Second,
	}
}

// Turn persists and broadcasts one transcript turn without blocking the
// caller. Failures are logged, never retried inline.
func (r *Relay) Turn(callID string, speaker calls.Speaker, message string, confidence *float64) {
	if message == "" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		defer cancel()

		turn, err := r.store.AppendTranscriptTurn(ctx, calls.TranscriptTurn{
			CallID:     callID,
			Speaker:    speaker,
			Message:    message,
			Confidence: confidence,
		})
		if err != nil {
			r.log.Error("transcript persist failed", "call_id", callID, "err", err)
			return
		}

		r.broadcast(ctx, Event{
			Type:       "transcript",
			CallID:     callID,
			Speaker:    turn.Speaker,
			Message:    turn.Message,
			Confidence: turn.Confidence,
			At:         turn.CreatedAt,
		})
	}()
}

// Status applies a lifecycle transition and broadcasts it if it took
// effect. Synchronous: status writes sit on the control path, not the audio
// path, and callers need to know whether their trigger won.
func (r *Relay) Status(ctx context.Context, callID string, next calls.Status) (bool, error) {
	applied, err := r.store.UpdateStatus(ctx, callID, next)
	if err != nil {
		return false, err
	}
	if applied {
		r.broadcast(ctx, Event{
			Type:   "status",
			CallID: callID,
			Status: next,
			At:     time.Now().UTC(),
		})
	}
	return applied, nil
}

// Flush waits for in-flight background turn writes; called on teardown so
// buffered turns land before the process or session goes away.
func (r *Relay) Flush() {
	r.wg.Wait()
}

func (r *Relay) broadcast(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("event marshal failed", "call_id", ev.CallID, "err", err)
		return
	}
	if err := r.pub.Publish(ctx, Channel(ev.CallID), payload); err != nil {
		r.log.Warn("event publish failed", "call_id", ev.CallID, "type", ev.Type, "err", err)
	}
}
