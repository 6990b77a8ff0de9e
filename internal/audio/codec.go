// Package audio holds the sample-level helpers used by the call bridge:
// G.711 μ-law conversion, RMS energy, and the 24k→8k downsample applied to
// synthesized speech before it goes back on the wire.
package audio

const (
	// SampleRate is the carrier sample rate (G.711 telephony).
	SampleRate = 8000
	// FrameSamples is one 20ms frame at 8kHz.
	FrameSamples = 160
	// FrameBytes is the μ-law byte size of one frame.
	FrameBytes = 160
	// PCMFrameBytes is the 16-bit PCM byte size of one frame.
	PCMFrameBytes = 320
)

const (
	muLawBias = 0x84
	muLawClip = 32635
)

var muLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
	}
}

// DecodeMuLaw converts μ-law bytes to 16-bit little-endian PCM.
func DecodeMuLaw(payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	out := make([]byte, len(payload)*2)
	for i, b := range payload {
		sample := muLawDecodeTable[b]
		out[2*i] = byte(sample)
		out[2*i+1] = byte(sample >> 8)
	}
	return out
}

// EncodeMuLaw converts 16-bit little-endian PCM to μ-law bytes.
// An odd trailing byte is ignored.
func EncodeMuLaw(pcm []byte) []byte {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = encodeMuLawSample(sample)
	}
	return out
}

func decodeMuLawSample(uval byte) int16 {
	uval = ^uval
	sign := int16(uval & 0x80)
	exponent := (uval >> 4) & 0x07
	mantissa := uval & 0x0F
	magnitude := ((int16(mantissa) << 3) + muLawBias) << exponent
	magnitude -= muLawBias
	if sign != 0 {
		return -magnitude
	}
	return magnitude
}

func encodeMuLawSample(sample int16) byte {
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias
	exponent := byte(7)
	for mask := int32(0x4000); (s&mask) == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}
