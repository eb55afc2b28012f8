package segment

import "math"

// frameMs is the analysis window for silence detection.
const frameMs = 10

// voicedFrames marks each frameLen-sample window whose RMS level is above
// thresholdDB (dBFS). The final partial frame is included.
func voicedFrames(samples []int16, frameLen int, thresholdDB float64) []bool {
	nFrames := (len(samples) + frameLen - 1) / frameLen
	voiced := make([]bool, nFrames)
	for f := 0; f < nFrames; f++ {
		lo := f * frameLen
		hi := min(lo+frameLen, len(samples))
		voiced[f] = levelDB(samples[lo:hi]) > thresholdDB
	}
	return voiced
}

// levelDB returns the RMS level of samples relative to 16-bit full scale.
func levelDB(samples []int16) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/32768)
}

// cutCandidates returns sample offsets at the midpoint of every silent run
// that lasts at least minSilenceSamples and sits between two voiced frames.
// Leading and trailing silence never produce a cut. Offsets are increasing.
func cutCandidates(voiced []bool, frameLen, nSamples, minSilenceSamples int) []int {
	var cuts []int
	seenVoice := false
	runStart := -1
	for f, v := range voiced {
		if !v {
			if runStart < 0 {
				runStart = f
			}
			continue
		}
		if runStart >= 0 && seenVoice {
			lo := runStart * frameLen
			hi := min(f*frameLen, nSamples)
			if hi-lo >= minSilenceSamples {
				cuts = append(cuts, (lo+hi)/2)
			}
		}
		runStart = -1
		seenVoice = true
	}
	return cuts
}

func anyVoiced(voiced []bool) bool {
	for _, v := range voiced {
		if v {
			return true
		}
	}
	return false
}
