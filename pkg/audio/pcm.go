package audio

import "math"

const (
	// MinSample is the most negative 16-bit PCM value.
	MinSample = math.MinInt16

	// MaxSample is the most positive 16-bit PCM value.
	MaxSample = math.MaxInt16
)

// FloatToPCM16 converts a floating-point sample to signed 16-bit PCM.
//
// The input is clamped to [-1, 1] and scaled asymmetrically: negative values
// by 32768 and non-negative values by 32767, so -1.0 maps to -32768 and +1.0
// to 32767 without overflowing. NaN maps to 0.
func FloatToPCM16(s float32) int16 {
	if s != s {
		return 0
	}
	if s < -1 {
		s = -1
	} else if s > 1 {
		s = 1
	}
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// PCM16ToFloat is the inverse of [FloatToPCM16].
func PCM16ToFloat(s int16) float32 {
	if s < 0 {
		return float32(s) / 32768
	}
	return float32(s) / 32767
}

// clampInt32 limits v to the int16 range.
func clampInt32(v int32) int16 {
	if v > MaxSample {
		return MaxSample
	}
	if v < MinSample {
		return MinSample
	}
	return int16(v)
}
