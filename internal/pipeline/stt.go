package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"callbridge/internal/audio"

	"github.com/gorilla/websocket"
)

// sttConn is the websocket subset the recognizer uses.
type sttConn interface {
	ReadJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// WSRecognizer streams caller audio to an external recognition service over
// a websocket: binary PCM frames out, JSON transcript results back.
type WSRecognizer struct {
	conn sttConn
	log  *slog.Logger

	writeMu sync.Mutex
	results chan Transcript

	closeOnce sync.Once
	done      chan struct{}
}

type sttResult struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
}

// DialRecognizer connects to the recognition endpoint and starts reading
// results.
func DialRecognizer(ctx context.Context, endpoint string, log *slog.Logger) (*WSRecognizer, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: recognizer dial failed: %w", err)
	}
	return newWSRecognizer(conn, log), nil
}

func newWSRecognizer(conn sttConn, log *slog.Logger) *WSRecognizer {
	r := &WSRecognizer{
		conn:    conn,
		log:     log,
		results: make(chan Transcript, 16),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	return r
}

// Write streams one caller frame (PCM16 24 kHz) to the service.
func (r *WSRecognizer) Write(f audio.Frame) error {
	if f.Encoding != audio.EncodingPCM24k {
		return fmt.Errorf("pipeline: recognizer expects %s, got %s", audio.EncodingPCM24k, f.Encoding)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn.WriteMessage(websocket.BinaryMessage, f.Payload)
}

// Results returns the transcript stream. Closed when the connection ends.
func (r *WSRecognizer) Results() <-chan Transcript { return r.results }

// Close tears the connection down. Idempotent.
func (r *WSRecognizer) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.conn.Close()
	})
	return err
}

func (r *WSRecognizer) readLoop() {
	defer close(r.results)
	for {
		var res sttResult
		if err := r.conn.ReadJSON(&res); err != nil {
			select {
			case <-r.done:
			default:
				r.log.Warn("recognizer stream ended", "err", err)
			}
			return
		}
		select {
		case r.results <- Transcript{Text: res.Text, Final: res.Final, Confidence: res.Confidence}:
		case <-r.done:
			return
		}
	}
}
