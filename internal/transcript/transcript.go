package transcript

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Line is one transcript line. StartMs and EndMs are nil for lines that
// carry no timestamps, such lines are kept for display but never match the
// playback cursor.
type Line struct {
	ID      int      `json:"id"`
	StartMs *float64 `json:"start_ms"`
	EndMs   *float64 `json:"end_ms"`
	Text    string   `json:"text"`
}

var reBracketed = regexp.MustCompile(`^\s*\[(\d+(?:\.\d+)?)s\s*->\s*(\d+(?:\.\d+)?)s\]\s*(.+?)\s*$`)

// ParseBracketed parses "[1.23s -> 4.56s] text" transcript lines.
// Lines without a timestamp bracket are kept as text-only entries, empty
// lines are dropped. End never precedes start.
func ParseBracketed(txt string) []Line {
	var res []Line
	idx := 0
	for _, raw := range strings.Split(txt, "\n") {
		m := reBracketed.FindStringSubmatch(raw)
		if m == nil {
			trimmed := strings.TrimSpace(raw)
			if trimmed != "" {
				res = append(res, Line{ID: idx, Text: trimmed})
				idx++
			}
			continue
		}
		start, _ := strconv.ParseFloat(m[1], 64)
		end, _ := strconv.ParseFloat(m[2], 64)
		startMs := math.Round(start * 1000)
		endMs := math.Max(math.Round(end*1000), startMs)
		res = append(res, Line{ID: idx, StartMs: &startMs, EndMs: &endMs, Text: m[3]})
		idx++
	}
	return res
}

// Active returns the index of the first line whose [StartMs, EndMs)
// interval contains positionMs, or -1 when the position falls in a gap.
func Active(lines []Line, positionMs float64) int {
	for i, l := range lines {
		if l.StartMs == nil || l.EndMs == nil {
			continue
		}
		if positionMs >= *l.StartMs && positionMs < *l.EndMs {
			return i
		}
	}
	return -1
}
