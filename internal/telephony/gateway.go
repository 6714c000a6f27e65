// Package telephony is the provider adapter boundary: the media-stream
// gateway, TwiML generation, outbound dial placement, and webhook parsing.
// No conversation logic lives here.
package telephony

import (
	"fmt"
	"log/slog"
	"sync"

	"callbridge/internal/audio"

	"github.com/gorilla/websocket"
)

// StreamEvent is one occurrence on the provider media stream.
type StreamEvent interface {
	streamEventType() string
}

// StreamStarted is the first event on a healthy stream; it carries the
// provider references and the custom parameters set on the Stream verb.
type StreamStarted struct {
	StreamSID      string
	ProviderCallID string
	CallID         string
	Token          string
}

func (StreamStarted) streamEventType() string { return "started" }

// MediaReceived carries one inbound caller frame (mu-law 8 kHz).
type MediaReceived struct {
	Frame audio.Frame
}

func (MediaReceived) streamEventType() string { return "media" }

// MarkReceived is the provider's acknowledgement that audio queued before
// the named mark has finished playing out on the line.
type MarkReceived struct {
	Name string
}

func (MarkReceived) streamEventType() string { return "mark" }

// StreamStopped means the provider ended the stream (hangup or redirect).
type StreamStopped struct{}

func (StreamStopped) streamEventType() string { return "stopped" }

// StreamClosed is terminal: the socket is gone. Err is nil for a clean
// close and non-nil for a transport failure.
type StreamClosed struct {
	Err error
}

func (StreamClosed) streamEventType() string { return "closed" }

// Conn is the websocket subset the gateway uses; *websocket.Conn satisfies
// it and tests substitute a fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// streamEventBuffer absorbs 20ms media frames without backpressuring the
// provider socket.
const streamEventBuffer = 256

// Gateway terminates one provider media-stream connection.
//
// Events are delivered in arrival order; inbound frames get monotonic
// sequence numbers. Malformed messages are logged and dropped, never fatal.
type Gateway struct {
	conn Conn
	log  *slog.Logger

	writeMu   sync.Mutex
	streamSID string // set once on start

	events chan StreamEvent
	done   chan struct{}

	closeOnce sync.Once
	seq       uint64
}

func NewGateway(conn Conn, log *slog.Logger) *Gateway {
	return &Gateway{
		conn:   conn,
		log:    log,
		events: make(chan StreamEvent, streamEventBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the inbound event stream. Closed when the socket dies.
func (g *Gateway) Events() <-chan StreamEvent {
	return g.events
}

// Start launches the read loop.
func (g *Gateway) Start() {
	go g.readLoop()
}

// SendAudio forwards one AI frame (mu-law 8 kHz) to the line.
func (g *Gateway) SendAudio(f audio.Frame) error {
	if f.Encoding != audio.EncodingMulaw8k {
		return fmt.Errorf("telephony: SendAudio expects %s, got %s", audio.EncodingMulaw8k, f.Encoding)
	}
	return g.write(mediaMessage(g.sid(), audio.EncodeBase64Payload(f.Payload)))
}

// SendClear discards audio the provider has buffered but not yet played.
// Used on barge-in; must land before any further frames are sent.
func (g *Gateway) SendClear() error {
	return g.write(clearMessage(g.sid()))
}

// SendMark asks the provider to acknowledge once everything queued before
// this point has played out on the line.
func (g *Gateway) SendMark(name string) error {
	if name == "" {
		return fmt.Errorf("telephony: mark requires a name")
	}
	return g.write(markMessage(g.sid(), name))
}

// Close tears the socket down. Idempotent.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		close(g.done)
		err = g.conn.Close()
	})
	return err
}

func (g *Gateway) sid() string {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.streamSID
}

func (g *Gateway) setSID(sid string) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	g.streamSID = sid
}

func (g *Gateway) write(data []byte) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return g.conn.WriteMessage(websocket.TextMessage, data)
}

func (g *Gateway) readLoop() {
	defer close(g.events)
	for {
		_, data, err := g.conn.ReadMessage()
		if err != nil {
			select {
			case <-g.done:
				g.emitBlocking(StreamClosed{})
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					g.emitBlocking(StreamClosed{})
				} else {
					g.emitBlocking(StreamClosed{Err: err})
				}
			}
			return
		}

		msg, err := parseStreamMessage(data)
		if err != nil {
			g.log.Warn("stream message dropped", "err", err)
			continue
		}

		switch msg.Event {
		case "connected":
			// Protocol preamble; nothing to do.
		case "start":
			if msg.Start == nil {
				g.log.Warn("start message missing payload")
				continue
			}
			g.setSID(msg.Start.StreamSID)
			g.emit(StreamStarted{
				StreamSID:      msg.Start.StreamSID,
				ProviderCallID: msg.Start.CallSID,
				CallID:         msg.Start.CustomParameters["call_id"],
				Token:          msg.Start.CustomParameters["token"],
			})
		case "media":
			if msg.Media == nil || msg.Media.Payload == "" {
				g.log.Warn("media message missing payload")
				continue
			}
			payload, err := audio.DecodeBase64Payload(msg.Media.Payload)
			if err != nil {
				g.log.Warn("media frame dropped", "err", err)
				continue
			}
			g.seq++
			g.emit(MediaReceived{Frame: audio.Frame{
				Encoding: audio.EncodingMulaw8k,
				Seq:      g.seq,
				Payload:  payload,
			}})
		case "mark":
			if msg.Mark == nil {
				continue
			}
			g.emit(MarkReceived{Name: msg.Mark.Name})
		case "stop":
			g.emit(StreamStopped{})
		default:
			g.log.Debug("unhandled stream event", "event", msg.Event)
		}
	}
}

func (g *Gateway) emit(ev StreamEvent) {
	select {
	case g.events <- ev:
	case <-g.done:
	default:
		g.log.Warn("stream event dropped, consumer saturated", "type", fmt.Sprintf("%T", ev))
	}
}

func (g *Gateway) emitBlocking(ev StreamEvent) {
	select {
	case g.events <- ev:
	case <-g.done:
	}
}
