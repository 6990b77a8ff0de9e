package audio

import "math"

// RMS computes the root-mean-square amplitude of 16-bit little-endian PCM.
// A frame shorter than one sample yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		sum += float64(sample) * float64(sample)
	}
	return math.Sqrt(sum / float64(n))
}

// Downsample24kTo8k decimates 24kHz PCM16 to 8kHz by averaging each group of
// three samples. TTS providers hand back 24k; the carrier wants 8k.
func Downsample24kTo8k(pcm []byte) []byte {
	samples := len(pcm) / 2
	groups := samples / 3
	if groups == 0 {
		return nil
	}
	out := make([]byte, groups*2)
	for g := 0; g < groups; g++ {
		var acc int32
		for k := 0; k < 3; k++ {
			i := (g*3 + k) * 2
			acc += int32(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		}
		avg := int16(acc / 3)
		out[2*g] = byte(avg)
		out[2*g+1] = byte(avg >> 8)
	}
	return out
}
