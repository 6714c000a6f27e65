package audio

import (
	"encoding/base64"
	"fmt"
)

// Transcoder converts frames between the telephony and model legs.
//
// Stateless per direction: each call depends only on its input frame, the
// sequence number passes through untouched, and a frame in produces exactly
// one frame out. Malformed payloads return an error so the caller can drop
// the single frame and keep the stream alive.
type Transcoder struct{}

// ToModel converts a telephony frame (mu-law 8 kHz) to a model frame
// (PCM16 24 kHz).
func (Transcoder) ToModel(f Frame) (Frame, error) {
	if f.Encoding != EncodingMulaw8k {
		return Frame{}, fmt.Errorf("audio: ToModel expects %s, got %s", EncodingMulaw8k, f.Encoding)
	}
	if len(f.Payload) == 0 {
		return Frame{}, fmt.Errorf("audio: empty telephony frame")
	}
	pcm8k := DecodeMuLaw(f.Payload)
	pcm24k := Upsample8to24(pcm8k)
	return Frame{
		Encoding: EncodingPCM24k,
		Seq:      f.Seq,
		Payload:  pcmBytes(pcm24k),
	}, nil
}

// ToTelephony converts a model frame (PCM16 24 kHz) to a telephony frame
// (mu-law 8 kHz).
func (Transcoder) ToTelephony(f Frame) (Frame, error) {
	if f.Encoding != EncodingPCM24k {
		return Frame{}, fmt.Errorf("audio: ToTelephony expects %s, got %s", EncodingPCM24k, f.Encoding)
	}
	if len(f.Payload) < 2 || len(f.Payload)%2 != 0 {
		return Frame{}, fmt.Errorf("audio: PCM payload must be a positive even byte count, got %d", len(f.Payload))
	}
	pcm24k := pcmSamples(f.Payload)
	pcm8k := Downsample24to8(pcm24k)
	if len(pcm8k) == 0 {
		return Frame{}, fmt.Errorf("audio: PCM payload too short to downsample (%d samples)", len(pcm24k))
	}
	return Frame{
		Encoding: EncodingMulaw8k,
		Seq:      f.Seq,
		Payload:  EncodeMuLaw(pcm8k),
	}, nil
}

// DecodeBase64Payload decodes the text framing used on the telephony socket.
func DecodeBase64Payload(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: bad base64 payload: %w", err)
	}
	return b, nil
}

// EncodeBase64Payload encodes a payload for the telephony socket.
func EncodeBase64Payload(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
