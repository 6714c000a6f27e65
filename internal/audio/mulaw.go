package audio

// G.711 mu-law codec.
//
// The telephony leg carries 8-bit mu-law samples; the model leg wants 16-bit
// linear PCM. Conversion is per-sample and stateless.

const (
	muLawBias = 0x84
	muLawClip = 32635
)

func encodeMuLawSample(s int16) byte {
	var sign byte
	if s < 0 {
		// -32768 has no positive counterpart; clamp before negating.
		if s == -32768 {
			s = -32767
		}
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := byte(7)
	for mask := int16(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0f
	return ^(sign | exponent<<4 | mantissa)
}

func decodeMuLawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0f

	magnitude := (int(mantissa)<<3 + muLawBias) << exponent
	magnitude -= muLawBias
	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// DecodeMuLaw converts mu-law bytes to 16-bit linear PCM samples.
func DecodeMuLaw(in []byte) []int16 {
	out := make([]int16, len(in))
	for i, b := range in {
		out[i] = decodeMuLawSample(b)
	}
	return out
}

// EncodeMuLaw converts 16-bit linear PCM samples to mu-law bytes.
func EncodeMuLaw(in []int16) []byte {
	out := make([]byte, len(in))
	for i, s := range in {
		out[i] = encodeMuLawSample(s)
	}
	return out
}
