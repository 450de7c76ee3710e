package audio

// DownmixMono averages interleaved multi-channel samples into a single
// channel. Trailing samples that do not form a complete frame are dropped.
// With channels <= 1 the input is returned unchanged.
func DownmixMono(data []int, channels int) []int {
	if channels <= 1 {
		return data
	}
	frames := len(data) / channels
	out := make([]int, frames)
	for i := range frames {
		sum := 0
		for c := range channels {
			sum += data[i*channels+c]
		}
		out[i] = sum / channels
	}
	return out
}

// IntToFloat32 scales integer PCM samples at the given bit depth into
// float32 values in [-1, 1]. Samples outside the nominal range are clamped.
func IntToFloat32(data []int, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	out := make([]float32, len(data))
	for i, s := range data {
		v := float32(s) / scale
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = v
	}
	return out
}

// ResampleMono resamples mono float32 samples from srcRate to dstRate using
// linear interpolation. If the rates match, or either rate is not positive,
// the input is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
