package timeline

import "math"

// SpeechToOriginal maps a speech-only time to the original recording time.
// A time inside a segment maps linearly. A time in the collapsed silence
// before a segment maps to that segment's original start. A time past the
// last segment clamps to TotalOriginalMs. Both segment bounds are inclusive,
// so boundary values resolve the same way from either side.
// A nil or empty timeline maps as identity.
func (t *Timeline) SpeechToOriginal(speechMs float64) float64 {
	if t == nil || len(t.Segments) == 0 {
		return speechMs
	}
	for _, s := range t.Segments {
		if speechMs < s.SpeechStartMs {
			return s.OriginalStartMs
		}
		if speechMs <= s.SpeechEndMs {
			return s.OriginalStartMs + math.Min(speechMs-s.SpeechStartMs, s.DurationMs)
		}
	}
	return t.TotalOriginalMs
}

// OriginalToSpeech is the mirror of SpeechToOriginal: original recording
// time to speech-only time, silence collapses to the next segment's speech
// start, past the last segment clamps to TotalSpeechMs.
func (t *Timeline) OriginalToSpeech(originalMs float64) float64 {
	if t == nil || len(t.Segments) == 0 {
		return originalMs
	}
	for _, s := range t.Segments {
		if originalMs < s.OriginalStartMs {
			return s.SpeechStartMs
		}
		if originalMs <= s.OriginalEndMs {
			return s.SpeechStartMs + math.Min(originalMs-s.OriginalStartMs, s.DurationMs)
		}
	}
	return t.TotalSpeechMs
}
