package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"callbridge/internal/audio"
)

// ttsFrameBytes is 20ms of PCM16 at 24 kHz.
const ttsFrameBytes = 960

// HTTPSynthesizer calls an external text-to-speech service that returns raw
// PCM16 24 kHz audio for a given text.
type HTTPSynthesizer struct {
	endpoint string
	voice    string
	client   *http.Client
}

func NewHTTPSynthesizer(endpoint, voice string) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		endpoint: endpoint,
		voice:    voice,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Synthesize returns the utterance as a sequence of 20ms frames. The last
// frame may be shorter.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]audio.Frame, error) {
	if text == "" {
		return nil, fmt.Errorf("pipeline: synthesize requires text")
	}
	body, err := json.Marshal(ttsRequest{Text: text, Voice: s.voice})
	if err != nil {
		return nil, fmt.Errorf("pipeline: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pipeline: build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pipeline: tts request rejected with status %d", resp.StatusCode)
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read tts response: %w", err)
	}
	if len(pcm) < 2 {
		return nil, fmt.Errorf("pipeline: tts response too short (%d bytes)", len(pcm))
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1] // trim a trailing odd byte rather than fail the utterance
	}

	var frames []audio.Frame
	for off := 0; off < len(pcm); off += ttsFrameBytes {
		end := off + ttsFrameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		frames = append(frames, audio.Frame{
			Encoding: audio.EncodingPCM24k,
			Payload:  pcm[off:end],
		})
	}
	return frames, nil
}
