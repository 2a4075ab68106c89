package media

// Downsample reduces the sample rate by an integer factor, averaging each
// group of factor samples. Used to bring a 16 kHz microphone down to the
// 8 kHz G.711 rate.
func Downsample(samples []int16, factor int) []int16 {
	if factor <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/factor)
	for i := range out {
		var sum int32
		for j := 0; j < factor; j++ {
			sum += int32(samples[i*factor+j])
		}
		out[i] = int16(sum / int32(factor))
	}
	return out
}

// Upsample raises the sample rate by an integer factor, repeating each
// sample. Used to feed a 16 kHz speaker from 8 kHz call audio.
func Upsample(samples []int16, factor int) []int16 {
	if factor <= 1 {
		return samples
	}
	out := make([]int16, len(samples)*factor)
	for i, s := range samples {
		for j := 0; j < factor; j++ {
			out[i*factor+j] = s
		}
	}
	return out
}
