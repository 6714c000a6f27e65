package audio

// Encoding tags the wire format of a frame payload.
type Encoding string

const (
	// EncodingMulaw8k is the narrowband telephony leg: G.711 mu-law, 8 kHz, mono.
	EncodingMulaw8k Encoding = "mulaw/8000"

	// EncodingPCM24k is the model leg: 16-bit little-endian linear PCM, 24 kHz, mono.
	EncodingPCM24k Encoding = "pcm16/24000"
)

// Frame is one immutable chunk of encoded audio.
//
// Ownership transfers receiver -> transcoder -> sender; a Frame is never
// mutated after creation and never shared between goroutines.
// Seq is monotonic per direction and must survive transcoding unchanged.
type Frame struct {
	Encoding Encoding
	Seq      uint64
	Payload  []byte
}

// Samples returns the number of audio samples in the frame.
func (f Frame) Samples() int {
	switch f.Encoding {
	case EncodingMulaw8k:
		return len(f.Payload)
	case EncodingPCM24k:
		return len(f.Payload) / 2
	default:
		return 0
	}
}

// DurationMS returns the playout duration of the frame in milliseconds.
func (f Frame) DurationMS() int {
	switch f.Encoding {
	case EncodingMulaw8k:
		return f.Samples() * 1000 / 8000
	case EncodingPCM24k:
		return f.Samples() * 1000 / 24000
	default:
		return 0
	}
}
