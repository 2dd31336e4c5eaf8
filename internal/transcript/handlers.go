package transcript

import (
	"context"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/airenas/session-replay-server/internal/utils"
)

// Handler reworks transcript lines before they are served.
type Handler interface {
	Process(context.Context, []Line) ([]Line, error)
}

// ListHandler passes lines through a list of handlers. A failing handler is
// logged and skipped, the previous lines stay.
type ListHandler struct {
	handlers []Handler
}

func NewListHandler() (*ListHandler, error) {
	res := &ListHandler{}
	return res, nil
}

func (sp *ListHandler) Process(ctx context.Context, lines []Line) ([]Line, error) {
	res := lines
	for i, h := range sp.handlers {
		goapp.Log.Debug().Int("handler", i).Msg("Processing")
		if linesNew, err := h.Process(ctx, res); err != nil {
			goapp.Log.Error().Err(err).Msg("Can't process")
		} else {
			res = linesNew
		}
		goapp.Log.Debug().Int("handler", i).Msg("Finished")
	}
	return res, nil
}

func (sp *ListHandler) Add(h Handler) {
	sp.handlers = append(sp.handlers, h)
}

// Cleaner normalizes line text
type Cleaner struct {
}

// NewCleaner creates a text cleaner
func NewCleaner() *Cleaner {
	res := Cleaner{}
	goapp.Log.Info().Msg("Cleaner")
	return &res
}

func (sp *Cleaner) Process(ctx context.Context, lines []Line) ([]Line, error) {
	defer utils.MeasureTime("cleaner", time.Now())
	res := make([]Line, 0, len(lines))
	for _, l := range lines {
		l.Text = strings.Join(strings.Fields(strings.ReplaceAll(l.Text, "_", " ")), " ")
		if l.Text == "" {
			continue
		}
		res = append(res, l)
	}
	return res, nil
}

// Merger joins consecutive timestamped lines separated by at most MaxGapMs
// when the joined text stays under MaxChars. Line IDs of merged lines keep
// the first line's ID.
type Merger struct {
	MaxGapMs float64
	MaxChars int
}

// NewMerger creates a line merger
func NewMerger(maxGapMs float64, maxChars int) *Merger {
	res := Merger{MaxGapMs: maxGapMs, MaxChars: maxChars}
	goapp.Log.Info().Float64("maxGapMs", maxGapMs).Int("maxChars", maxChars).Msg("Merger")
	return &res
}

func (sp *Merger) Process(ctx context.Context, lines []Line) ([]Line, error) {
	defer utils.MeasureTime("merger", time.Now())
	var res []Line
	for _, l := range lines {
		if len(res) > 0 && sp.canMerge(res[len(res)-1], l) {
			prev := &res[len(res)-1]
			prev.Text = prev.Text + " " + l.Text
			prev.EndMs = l.EndMs
			continue
		}
		res = append(res, l)
	}
	return res, nil
}

func (sp *Merger) canMerge(prev, next Line) bool {
	if prev.StartMs == nil || prev.EndMs == nil || next.StartMs == nil || next.EndMs == nil {
		return false
	}
	if *next.StartMs-*prev.EndMs > sp.MaxGapMs {
		return false
	}
	return len(prev.Text)+len(next.Text)+1 <= sp.MaxChars
}
