package timeline

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Segment is one contiguous span of speech mapped between the original
// recording time and the silence-stripped speech-only time. All values are
// milliseconds.
type Segment struct {
	OriginalStartMs float64 `json:"original_start_ms"`
	OriginalEndMs   float64 `json:"original_end_ms"`
	SpeechStartMs   float64 `json:"speech_start_ms"`
	SpeechEndMs     float64 `json:"speech_end_ms"`
	DurationMs      float64 `json:"duration_ms"`
}

// Span is one silence interval of the original recording.
type Span struct {
	StartMs    float64 `json:"start_ms"`
	EndMs      float64 `json:"end_ms"`
	DurationMs float64 `json:"duration_ms"`
}

// Timeline holds the ordered speech segments of one session. A nil Timeline
// means no usable timeline, mapping through it is identity.
type Timeline struct {
	Segments        []Segment `json:"segments"`
	SilenceSpans    []Span    `json:"silence_spans,omitempty"`
	TotalOriginalMs float64   `json:"total_original_ms"`
	TotalSpeechMs   float64   `json:"total_speech_ms"`
}

// New validates raw segments and builds an ordered timeline. Malformed
// segments (non-finite values, negative times, non-positive duration) are
// dropped. Totals default to the last segment's end marks when not passed.
// Returns nil when no valid segment remains.
func New(segments []Segment, totalOriginalMs, totalSpeechMs float64) *Timeline {
	valid := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if s.ok() {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].SpeechStartMs < valid[j].SpeechStartMs })
	last := valid[len(valid)-1]
	if !finitePositive(totalOriginalMs) {
		totalOriginalMs = last.OriginalEndMs
	}
	if !finitePositive(totalSpeechMs) {
		totalSpeechMs = last.SpeechEndMs
	}
	return &Timeline{Segments: valid, TotalOriginalMs: totalOriginalMs, TotalSpeechMs: totalSpeechMs}
}

func (s Segment) ok() bool {
	for _, v := range [...]float64{s.OriginalStartMs, s.OriginalEndMs, s.SpeechStartMs, s.SpeechEndMs, s.DurationMs} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return s.OriginalEndMs >= s.OriginalStartMs && s.SpeechEndMs >= s.SpeechStartMs && s.DurationMs > 0
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// FromSilence derives the timeline from silence spans of an original
// recording of totalMs length. Everything between silences becomes a speech
// segment, the silence spans themselves are kept for reference.
func FromSilence(spans []Span, totalMs float64) *Timeline {
	merged := MergeSpans(spans)
	if len(merged) == 0 && !finitePositive(totalMs) {
		return nil
	}
	totalOriginal := totalMs
	if !finitePositive(totalOriginal) {
		totalOriginal = merged[len(merged)-1].EndMs
	}
	var segments []Segment
	var speechCursor, cur float64
	for _, sp := range merged {
		start := math.Max(cur, sp.StartMs)
		if start > cur {
			dur := start - cur
			segments = append(segments, Segment{
				OriginalStartMs: cur, OriginalEndMs: start,
				SpeechStartMs: speechCursor, SpeechEndMs: speechCursor + dur,
				DurationMs: dur,
			})
			speechCursor += dur
		}
		cur = math.Max(cur, sp.EndMs)
	}
	if cur < totalOriginal {
		dur := totalOriginal - cur
		segments = append(segments, Segment{
			OriginalStartMs: cur, OriginalEndMs: totalOriginal,
			SpeechStartMs: speechCursor, SpeechEndMs: speechCursor + dur,
			DurationMs: dur,
		})
		speechCursor += dur
	}
	return &Timeline{Segments: segments, SilenceSpans: merged, TotalOriginalMs: totalOriginal, TotalSpeechMs: speechCursor}
}

// MergeSpans sorts spans by start and merges overlapping or touching ones.
func MergeSpans(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMs < sorted[j].StartMs })
	res := []Span{{StartMs: sorted[0].StartMs, EndMs: sorted[0].EndMs}}
	for _, sp := range sorted[1:] {
		last := &res[len(res)-1]
		if sp.StartMs <= last.EndMs {
			last.EndMs = math.Max(last.EndMs, sp.EndMs)
		} else {
			res = append(res, Span{StartMs: sp.StartMs, EndMs: sp.EndMs})
		}
	}
	for i := range res {
		res[i].DurationMs = math.Max(0, res[i].EndMs-res[i].StartMs)
	}
	return res
}

// ReadSilenceMap parses a silence map TSV: "start_ms\tend_ms\tdur_ms" header
// followed by integer rows. Empty, header and unparsable lines are skipped,
// so a damaged map degrades to fewer spans instead of an error.
func ReadSilenceMap(r io.Reader) ([]Span, error) {
	var res []Span
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(strings.ToLower(line), "start_ms") {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}
		start, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			continue
		}
		if end < start {
			continue
		}
		res = append(res, Span{StartMs: start, EndMs: end, DurationMs: end - start})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read silence map: %w", err)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartMs < res[j].StartMs })
	return res, nil
}

// WriteSilenceMap writes spans in the silence map TSV format.
func WriteSilenceMap(w io.Writer, spans []Span) error {
	if _, err := fmt.Fprint(w, "start_ms\tend_ms\tdur_ms\n"); err != nil {
		return err
	}
	for _, sp := range spans {
		if _, err := fmt.Fprintf(w, "%d\t%d\t%d\n", int64(math.Round(sp.StartMs)), int64(math.Round(sp.EndMs)),
			int64(math.Round(sp.EndMs-sp.StartMs))); err != nil {
			return err
		}
	}
	return nil
}
