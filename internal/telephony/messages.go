package telephony

import (
	"encoding/json"
	"fmt"
)

// Media-stream wire messages. The provider sends discrete JSON messages
// over the websocket ("start", "media", "stop", "mark" acks) and accepts
// "media", "clear" and "mark" from us. Audio payloads are base64 mu-law.

type streamMessage struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid,omitempty"`

	Start *startPayload `json:"start,omitempty"`
	Media *mediaPayload `json:"media,omitempty"`
	Mark  *markPayload  `json:"mark,omitempty"`
}

type startPayload struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid"`

	// CustomParameters carries the values set on the <Stream> verb; we use
	// them to bind the socket to a call id with a signed token.
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

func parseStreamMessage(data []byte) (streamMessage, error) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return streamMessage{}, fmt.Errorf("telephony: bad stream message: %w", err)
	}
	if msg.Event == "" {
		return streamMessage{}, fmt.Errorf("telephony: stream message missing event")
	}
	return msg, nil
}

func mediaMessage(streamSID, payload string) []byte {
	b, _ := json.Marshal(streamMessage{
		Event:     "media",
		StreamSID: streamSID,
		Media:     &mediaPayload{Payload: payload},
	})
	return b
}

func clearMessage(streamSID string) []byte {
	b, _ := json.Marshal(streamMessage{Event: "clear", StreamSID: streamSID})
	return b
}

func markMessage(streamSID, name string) []byte {
	b, _ := json.Marshal(streamMessage{
		Event:     "mark",
		StreamSID: streamSID,
		Mark:      &markPayload{Name: name},
	})
	return b
}
