// Package audio converts between the telephony transport's narrowband
// G.711 mulaw encoding (8kHz) and the speech engine's PCM16 format.
// All functions are pure and safe for concurrent use.
package audio

import "encoding/binary"

// TelephonyRate is the sample rate of Twilio Media Streams audio.
const TelephonyRate = 8000

// EngineRate is the PCM16 sample rate expected by the realtime engine.
const EngineRate = 24000

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// UlawToLinear decodes a single G.711 mulaw byte to a linear PCM sample.
func UlawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + ulawBias
	value <<= uint(exp)
	value -= ulawBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

// LinearToUlaw encodes a linear PCM sample to a G.711 mulaw byte.
func LinearToUlaw(s int16) byte {
	sign := byte(0)
	v := int(s)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias

	exp := byte(7)
	for mask := 0x4000; v&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := byte((v >> (uint(exp) + 3)) & 0x0F)
	return ^(sign | exp<<4 | mant)
}

// Resample converts samples between rates using linear interpolation.
// It returns the input unchanged when the rates match.
func Resample(in []int16, from, to int) []int16 {
	if from == to || len(in) == 0 {
		return in
	}
	n := len(in) * to / from
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	for i := range out {
		// Position of output sample i on the input timeline.
		pos := float64(i) * float64(from) / float64(to)
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		a, b := float64(in[j]), float64(in[j+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// DecodeInbound converts mulaw telephony audio to PCM16 little-endian bytes
// at the engine's sample rate.
func DecodeInbound(mulaw []byte, engineRate int) []byte {
	if len(mulaw) == 0 {
		return nil
	}
	samples := make([]int16, len(mulaw))
	for i, b := range mulaw {
		samples[i] = UlawToLinear(b)
	}
	samples = Resample(samples, TelephonyRate, engineRate)
	return samplesToBytes(samples)
}

// EncodeOutbound converts engine PCM16 little-endian bytes to mulaw telephony
// audio at 8kHz.
func EncodeOutbound(pcm []byte, engineRate int) []byte {
	samples := bytesToSamples(pcm)
	if len(samples) == 0 {
		return nil
	}
	samples = Resample(samples, engineRate, TelephonyRate)
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = LinearToUlaw(s)
	}
	return out
}

func samplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func bytesToSamples(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}
