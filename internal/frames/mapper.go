package frames

import (
	"math"
	"sort"
)

// RecordingToVideoSeconds maps a recording-relative second onto the video
// file clock. The query is bracketed by binary search over the samples'
// Seconds and the rank fraction is interpolated between the two nearest
// samples, then scaled by the file duration. Before the first sample the
// result is 0, at or past the last it is the file duration. With one sample
// or none the query passes through duration-clamped.
func RecordingToVideoSeconds(recordingSeconds, fileDurationSeconds float64, samples []Sample) float64 {
	n := len(samples)
	if n < 2 {
		return clamp(recordingSeconds, 0, fileDurationSeconds)
	}
	if recordingSeconds <= samples[0].Seconds {
		return 0
	}
	if recordingSeconds >= samples[n-1].Seconds {
		return fileDurationSeconds
	}
	hi := sort.Search(n, func(i int) bool { return samples[i].Seconds > recordingSeconds })
	lo := hi - 1
	rank := float64(lo)
	if d := samples[hi].Seconds - samples[lo].Seconds; d > 0 {
		rank += (recordingSeconds - samples[lo].Seconds) / d
	}
	return rank / float64(n-1) * fileDurationSeconds
}

// VideoToRecordingSeconds is the inverse mapping: a video file clock
// position back to the recording-relative second, interpolating between the
// two samples bracketing the fractional rank.
func VideoToRecordingSeconds(videoSeconds, fileDurationSeconds float64, samples []Sample) float64 {
	n := len(samples)
	if n < 2 {
		return clamp(videoSeconds, 0, fileDurationSeconds)
	}
	if fileDurationSeconds <= 0 {
		return samples[0].Seconds
	}
	frac := clamp(videoSeconds/fileDurationSeconds, 0, 1)
	rank := frac * float64(n-1)
	lo := int(math.Floor(rank))
	if lo >= n-1 {
		return samples[n-1].Seconds
	}
	t := rank - float64(lo)
	return samples[lo].Seconds + t*(samples[lo+1].Seconds-samples[lo].Seconds)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
