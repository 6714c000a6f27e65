package audio

// Sample-rate conversion between the 8 kHz telephony leg and the 24 kHz
// model leg. The ratio is an exact integer (x3), so no fractional phase
// tracking is needed and frames map 1:1 across the converter. That 1:1
// mapping is what keeps mark/ack correlation intact: a frame is never
// merged with or split from its neighbours.

// Upsample8to24 converts 8 kHz samples to 24 kHz by linear interpolation.
// Output length is exactly 3x the input length.
func Upsample8to24(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, len(in)*3)
	for i, cur := range in {
		next := cur
		if i+1 < len(in) {
			next = in[i+1]
		}
		d := int(next) - int(cur)
		out[i*3] = cur
		out[i*3+1] = int16(int(cur) + d/3)
		out[i*3+2] = int16(int(cur) + 2*d/3)
	}
	return out
}

// Downsample24to8 converts 24 kHz samples to 8 kHz. Each output sample is
// the mean of three consecutive inputs, which acts as a crude low-pass and
// keeps telephony-band content free of obvious aliasing. Trailing samples
// that do not fill a group of three are dropped.
func Downsample24to8(in []int16) []int16 {
	n := len(in) / 3
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		sum := int(in[i*3]) + int(in[i*3+1]) + int(in[i*3+2])
		out[i] = int16(sum / 3)
	}
	return out
}

// pcmBytes packs samples as 16-bit little-endian.
func pcmBytes(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, s := range in {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// pcmSamples unpacks 16-bit little-endian bytes. Odd trailing bytes are an
// error handled by the caller; here the tail is ignored.
func pcmSamples(in []byte) []int16 {
	n := len(in) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(in[i*2]) | int16(in[i*2+1])<<8
	}
	return out
}
