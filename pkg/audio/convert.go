package audio

// StereoToMono averages interleaved L/R sample pairs into a mono stream.
// Uses int32 arithmetic to prevent overflow. A trailing unpaired sample is
// dropped.
func StereoToMono(interleaved []int16) []int16 {
	frames := len(interleaved) / 2
	out := make([]int16, frames)
	for i := range frames {
		avg := (int32(interleaved[i*2]) + int32(interleaved[i*2+1])) / 2
		out[i] = clampInt32(avg)
	}
	return out
}

// ResampleMono resamples mono PCM from srcRate to dstRate using linear
// interpolation. If the rates match or either is non-positive, the input is
// returned unchanged.
func ResampleMono(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
