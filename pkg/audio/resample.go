package audio

// Resample performs linear interpolation resampling from inRate to outRate.
// It is deliberately simple: good enough to bridge a sound card's native
// rate (44100/48000) to the codec's expected rate (12000) without pulling in
// a full DSP resampling library for a one-shot rate conversion.
func Resample(in []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || len(in) == 0 {
		return nil
	}
	if inRate == outRate {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	ratio := float64(inRate) / float64(outRate)
	outLen := int(float64(len(in)) / ratio)
	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)
		if idx+1 < len(in) {
			out[i] = in[idx]*float32(1-frac) + in[idx+1]*float32(frac)
		} else if idx < len(in) {
			out[i] = in[idx]
		}
	}
	return out
}
