package frames

import (
	"math"
	"time"
)

const unknownWindow = "Unknown window"

// Sample is one extracted still of a recording. Its rank in the ordered list
// doubles as the position anchor inside the continuous video file: N samples
// are assumed evenly spread over the file duration.
type Sample struct {
	OffsetIndex int       `json:"offset_index"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
	WindowName  string    `json:"window_name,omitempty"`
	Seconds     float64   `json:"seconds_from_video_start"`
}

// Clip is a maximal contiguous run of samples sharing one focused window.
type Clip struct {
	WindowName       string    `json:"window_name"`
	StartSeconds     float64   `json:"start_seconds"`
	EndSeconds       float64   `json:"end_seconds"`
	StartTimestamp   time.Time `json:"start_timestamp,omitzero"`
	EndTimestamp     time.Time `json:"end_timestamp,omitzero"`
	StartOffsetIndex int       `json:"start_offset_index"`
	EndOffsetIndex   int       `json:"end_offset_index"`
	FrameCount       int       `json:"frame_count"`
}

// ClipList is the ordered clip view of one recording.
type ClipList struct {
	FirstTimestamp time.Time `json:"first_timestamp,omitzero"`
	LastTimestamp  time.Time `json:"last_timestamp,omitzero"`
	Clips          []Clip    `json:"clips"`
}

// Alignment relates the recording clock to a separately recorded audio
// track. AudioOffsetSeconds is added to a recording-relative second to get
// the matching audio track position.
type Alignment struct {
	OriginTimestamp      time.Time `json:"origin_timestamp,omitzero"`
	TimelineEndTimestamp time.Time `json:"timeline_end_timestamp,omitzero"`
	AudioOffsetSeconds   float64   `json:"audio_offset_seconds"`
	AudioLeadSeconds     float64   `json:"audio_lead_seconds"`
	AudioDelaySeconds    float64   `json:"audio_delay_seconds"`
}

// NewAlignment computes the audio offset from the first video frame and the
// audio track start. A positive offset means audio started first.
func NewAlignment(firstFrame, lastFrame, audioStart, audioEnd time.Time) Alignment {
	off := firstFrame.Sub(audioStart).Seconds()
	origin := firstFrame
	if audioStart.Before(origin) {
		origin = audioStart
	}
	end := lastFrame
	if audioEnd.After(end) {
		end = audioEnd
	}
	return Alignment{
		OriginTimestamp:      origin,
		TimelineEndTimestamp: end,
		AudioOffsetSeconds:   off,
		AudioLeadSeconds:     math.Max(0, off),
		AudioDelaySeconds:    math.Max(0, -off),
	}
}

// SecondsFromStart fills every sample's Seconds relative to the first
// sample's timestamp. The input is expected ordered by OffsetIndex.
func SecondsFromStart(samples []Sample) []Sample {
	if len(samples) == 0 {
		return samples
	}
	first := samples[0].Timestamp
	for i := range samples {
		samples[i].Seconds = samples[i].Timestamp.Sub(first).Seconds()
	}
	return samples
}

// BuildClips groups ordered samples into window clips. Each clip ends where
// the next one starts, the last clip is extended by the first observed
// inter-frame delta (or a 30 fps guess when there is none).
func BuildClips(samples []Sample) ClipList {
	if len(samples) == 0 {
		return ClipList{Clips: []Clip{}}
	}
	samples = SecondsFromStart(samples)

	fallbackDelta := 1.0 / 30
	for i := 1; i < len(samples); i++ {
		if d := samples[i].Seconds - samples[i-1].Seconds; d > 0 {
			fallbackDelta = d
			break
		}
	}

	var clips []Clip
	start := 0
	for i := 1; i < len(samples); i++ {
		if windowLabel(samples[i].WindowName) != windowLabel(samples[i-1].WindowName) {
			clips = append(clips, clipFromRun(samples, start, i-1, fallbackDelta))
			start = i
		}
	}
	clips = append(clips, clipFromRun(samples, start, len(samples)-1, fallbackDelta))

	return ClipList{
		FirstTimestamp: samples[0].Timestamp,
		LastTimestamp:  samples[len(samples)-1].Timestamp,
		Clips:          clips,
	}
}

func clipFromRun(samples []Sample, start, end int, fallbackDelta float64) Clip {
	endSeconds := samples[end].Seconds + fallbackDelta
	if end+1 < len(samples) {
		endSeconds = samples[end+1].Seconds
	}
	return Clip{
		WindowName:       windowLabel(samples[start].WindowName),
		StartSeconds:     samples[start].Seconds,
		EndSeconds:       endSeconds,
		StartTimestamp:   samples[start].Timestamp,
		EndTimestamp:     samples[end].Timestamp,
		StartOffsetIndex: samples[start].OffsetIndex,
		EndOffsetIndex:   samples[end].OffsetIndex,
		FrameCount:       end - start + 1,
	}
}

func windowLabel(name string) string {
	if name == "" {
		return unknownWindow
	}
	return name
}

// Slice returns the samples belonging to a clip by its offset index range.
func Slice(samples []Sample, c Clip) []Sample {
	var res []Sample
	for _, s := range samples {
		if s.OffsetIndex >= c.StartOffsetIndex && s.OffsetIndex <= c.EndOffsetIndex {
			res = append(res, s)
		}
	}
	return res
}
