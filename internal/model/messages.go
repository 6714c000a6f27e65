package model

import "encoding/json"

// Client -> model messages. The realtime API takes JSON envelopes with a
// "type" discriminator; audio payloads are base64 inside the envelope.

type sessionUpdateMsg struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities        []string       `json:"modalities"`
	Voice             string         `json:"voice"`
	Instructions      string         `json:"instructions"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *turnDetection `json:"turn_detection"`
	InputTranscription *transcription `json:"input_audio_transcription,omitempty"`
	Temperature       float64        `json:"temperature,omitempty"`
	FrequencyPenalty  float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty   float64        `json:"presence_penalty,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type transcription struct {
	Model string `json:"model"`
}

type audioAppendMsg struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64 PCM16 24 kHz
}

type responseCreateMsg struct {
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

type responseCancelMsg struct {
	Type string `json:"type"`
}

type itemTruncateMsg struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

// Model -> client messages. Only the fields this client reads are declared;
// unknown event types are skipped by the read loop.

type serverEvent struct {
	Type string `json:"type"`

	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Text       string `json:"text,omitempty"`

	Error *serverError `json:"error,omitempty"`
}

type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func marshal(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
