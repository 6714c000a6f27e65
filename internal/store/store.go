// Package store persists call records and transcript turns in Postgres.
//
// All methods take a context and return wrapped errors; status writes
// enforce the forward-only lifecycle inside a transaction so concurrent
// teardown triggers cannot regress a terminal state.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"callbridge/internal/calls"
	"callbridge/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrInvalidArgument = errors.New("store: invalid argument")
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateCall inserts a queued call and returns it with generated fields set.
func (s *Store) CreateCall(ctx context.Context, to, purpose, voice, instructions string) (calls.Call, error) {
	if to == "" || purpose == "" {
		return calls.Call{}, ErrInvalidArgument
	}
	c := calls.Call{
		CallID:       uuid.NewString(),
		To:           to,
		Purpose:      purpose,
		Voice:        voice,
		Instructions: instructions,
		Status:       calls.StatusQueued,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (call_id, to_number, purpose, voice, instructions, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.CallID, c.To, c.Purpose, c.Voice, c.Instructions, c.Status, c.CreatedAt,
	)
	if err != nil {
		return calls.Call{}, fmt.Errorf("store: insert call: %w", err)
	}
	return c, nil
}

const callColumns = `
	call_id, to_number, purpose, voice, instructions, status,
	COALESCE(provider_call_id, ''), COALESCE(duration, 0),
	COALESCE(recording_url, ''), COALESCE(outcome, ''),
	created_at, started_at, ended_at`

func scanCall(row *sql.Row) (calls.Call, error) {
	var c calls.Call
	err := row.Scan(
		&c.CallID, &c.To, &c.Purpose, &c.Voice, &c.Instructions, &c.Status,
		&c.ProviderCallID, &c.DurationSeconds,
		&c.RecordingURL, &c.Outcome,
		&c.CreatedAt, &c.StartedAt, &c.EndedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Call{}, ErrNotFound
	}
	if err != nil {
		return calls.Call{}, fmt.Errorf("store: scan call: %w", err)
	}
	return c, nil
}

func (s *Store) GetCall(ctx context.Context, callID string) (calls.Call, error) {
	if callID == "" {
		return calls.Call{}, ErrInvalidArgument
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE call_id = $1`, callID)
	return scanCall(row)
}

// GetCallByProviderID looks a call up by the provider's reference; used by
// status webhooks, which only carry the provider id.
func (s *Store) GetCallByProviderID(ctx context.Context, providerCallID string) (calls.Call, error) {
	if providerCallID == "" {
		return calls.Call{}, ErrInvalidArgument
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE provider_call_id = $1`, providerCallID)
	return scanCall(row)
}

// SetProviderCallID records the provider reference after dial placement.
func (s *Store) SetProviderCallID(ctx context.Context, callID, providerCallID string) error {
	if callID == "" || providerCallID == "" {
		return ErrInvalidArgument
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE calls SET provider_call_id = $2 WHERE call_id = $1`, callID, providerCallID)
	if err != nil {
		return fmt.Errorf("store: set provider call id: %w", err)
	}
	return nil
}

// UpdateStatus moves a call forward through the lifecycle. Returns true if
// the transition was applied, false if it was a no-op (already there, or a
// later trigger lost the race against a terminal write).
func (s *Store) UpdateStatus(ctx context.Context, callID string, next calls.Status) (bool, error) {
	if callID == "" || next == "" {
		return false, ErrInvalidArgument
	}

	applied := false
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var current calls.Status
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM calls WHERE call_id = $1 FOR UPDATE`, callID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: read status: %w", err)
		}
		if !current.CanTransition(next) {
			return nil
		}

		now := time.Now().UTC()
		switch {
		case next == calls.StatusInProgress:
			_, err = tx.ExecContext(ctx,
				`UPDATE calls SET status = $2, started_at = COALESCE(started_at, $3) WHERE call_id = $1`,
				callID, next, now)
		case next.Terminal():
			_, err = tx.ExecContext(ctx,
				`UPDATE calls SET status = $2, ended_at = COALESCE(ended_at, $3) WHERE call_id = $1`,
				callID, next, now)
		default:
			_, err = tx.ExecContext(ctx,
				`UPDATE calls SET status = $2 WHERE call_id = $1`, callID, next)
		}
		if err != nil {
			return fmt.Errorf("store: update status: %w", err)
		}
		applied = true
		return nil
	})
	return applied, err
}

// SetCallResult writes duration, recording and outcome after call end.
// Zero/empty fields are left untouched.
func (s *Store) SetCallResult(ctx context.Context, callID string, durationSeconds int, recordingURL, outcome string) error {
	if callID == "" {
		return ErrInvalidArgument
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE calls SET
			duration      = CASE WHEN $2 > 0 THEN $2 ELSE duration END,
			recording_url = CASE WHEN $3 <> '' THEN $3 ELSE recording_url END,
			outcome       = CASE WHEN $4 <> '' THEN $4 ELSE outcome END
		WHERE call_id = $1`,
		callID, durationSeconds, recordingURL, outcome,
	)
	if err != nil {
		return fmt.Errorf("store: set call result: %w", err)
	}
	return nil
}

// AppendTranscriptTurn inserts one utterance. Turns are append-only.
func (s *Store) AppendTranscriptTurn(ctx context.Context, turn calls.TranscriptTurn) (calls.TranscriptTurn, error) {
	if turn.CallID == "" || turn.Message == "" {
		return calls.TranscriptTurn{}, ErrInvalidArgument
	}
	if turn.Speaker != calls.SpeakerAI && turn.Speaker != calls.SpeakerHuman {
		return calls.TranscriptTurn{}, ErrInvalidArgument
	}
	if turn.TurnID == "" {
		turn.TurnID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_turns (turn_id, call_id, speaker, message, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.TurnID, turn.CallID, turn.Speaker, turn.Message, turn.Confidence, turn.CreatedAt,
	)
	if err != nil {
		return calls.TranscriptTurn{}, fmt.Errorf("store: insert transcript turn: %w", err)
	}
	return turn, nil
}

// ListTranscript returns a call's turns in creation order.
func (s *Store) ListTranscript(ctx context.Context, callID string) ([]calls.TranscriptTurn, error) {
	if callID == "" {
		return nil, ErrInvalidArgument
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_id, call_id, speaker, message, confidence, created_at
		FROM transcript_turns WHERE call_id = $1 ORDER BY created_at, turn_id`, callID)
	if err != nil {
		return nil, fmt.Errorf("store: list transcript: %w", err)
	}
	defer rows.Close()

	var out []calls.TranscriptTurn
	for rows.Next() {
		var turn calls.TranscriptTurn
		if err := rows.Scan(&turn.TurnID, &turn.CallID, &turn.Speaker, &turn.Message, &turn.Confidence, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan transcript turn: %w", err)
		}
		out = append(out, turn)
	}
	return out, rows.Err()
}
