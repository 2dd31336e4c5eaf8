package timeline_test

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/airenas/session-replay-server/internal/timeline"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		segments     []timeline.Segment
		wantNil      bool
		wantCount    int
		wantTotalOrg float64
		wantTotalSp  float64
	}{
		{name: "empty", segments: nil, wantNil: true},
		{name: "all malformed",
			segments: []timeline.Segment{
				{OriginalStartMs: math.NaN(), OriginalEndMs: 10, SpeechStartMs: 0, SpeechEndMs: 10, DurationMs: 10},
				{OriginalStartMs: 0, OriginalEndMs: 10, SpeechStartMs: 0, SpeechEndMs: 10, DurationMs: 0},
				{OriginalStartMs: 20, OriginalEndMs: 10, SpeechStartMs: 0, SpeechEndMs: 10, DurationMs: 10},
			},
			wantNil: true},
		{name: "drops bad keeps good",
			segments: []timeline.Segment{
				{OriginalStartMs: 0, OriginalEndMs: 10, SpeechStartMs: 0, SpeechEndMs: 10, DurationMs: 10},
				{OriginalStartMs: -1, OriginalEndMs: 10, SpeechStartMs: 0, SpeechEndMs: 10, DurationMs: 10},
			},
			wantCount: 1, wantTotalOrg: 10, wantTotalSp: 10},
		{name: "sorts and defaults totals",
			segments: []timeline.Segment{
				{OriginalStartMs: 3000, OriginalEndMs: 4000, SpeechStartMs: 1000, SpeechEndMs: 2000, DurationMs: 1000},
				{OriginalStartMs: 0, OriginalEndMs: 1000, SpeechStartMs: 0, SpeechEndMs: 1000, DurationMs: 1000},
			},
			wantCount: 2, wantTotalOrg: 4000, wantTotalSp: 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := timeline.New(tt.segments, 0, 0)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("New() = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("New() = nil, want timeline")
			}
			if len(got.Segments) != tt.wantCount {
				t.Errorf("segments = %d, want %d", len(got.Segments), tt.wantCount)
			}
			if got.TotalOriginalMs != tt.wantTotalOrg || got.TotalSpeechMs != tt.wantTotalSp {
				t.Errorf("totals = %v/%v, want %v/%v", got.TotalOriginalMs, got.TotalSpeechMs, tt.wantTotalOrg, tt.wantTotalSp)
			}
			for i := 1; i < len(got.Segments); i++ {
				if got.Segments[i].SpeechStartMs < got.Segments[i-1].SpeechStartMs {
					t.Errorf("segments not sorted at %d", i)
				}
			}
		})
	}
}

func TestNew_KeepsPassedTotals(t *testing.T) {
	got := timeline.New([]timeline.Segment{
		{OriginalStartMs: 0, OriginalEndMs: 1000, SpeechStartMs: 0, SpeechEndMs: 1000, DurationMs: 1000},
	}, 5000, 1000)
	if got.TotalOriginalMs != 5000 {
		t.Errorf("TotalOriginalMs = %v, want 5000", got.TotalOriginalMs)
	}
}

func TestMergeSpans(t *testing.T) {
	tests := []struct {
		name string
		in   []timeline.Span
		want []timeline.Span
	}{
		{name: "empty", in: nil, want: nil},
		{name: "overlap and touch",
			in: []timeline.Span{{StartMs: 0, EndMs: 10}, {StartMs: 5, EndMs: 15}, {StartMs: 20, EndMs: 30}},
			want: []timeline.Span{{StartMs: 0, EndMs: 15, DurationMs: 15},
				{StartMs: 20, EndMs: 30, DurationMs: 10}}},
		{name: "unsorted input",
			in:   []timeline.Span{{StartMs: 20, EndMs: 30}, {StartMs: 0, EndMs: 10}},
			want: []timeline.Span{{StartMs: 0, EndMs: 10, DurationMs: 10}, {StartMs: 20, EndMs: 30, DurationMs: 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := timeline.MergeSpans(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("MergeSpans() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("span %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFromSilence(t *testing.T) {
	got := timeline.FromSilence([]timeline.Span{
		{StartMs: 1000, EndMs: 3000},
	}, 4000)
	if got == nil {
		t.Fatal("FromSilence() = nil")
	}
	want := []timeline.Segment{
		{OriginalStartMs: 0, OriginalEndMs: 1000, SpeechStartMs: 0, SpeechEndMs: 1000, DurationMs: 1000},
		{OriginalStartMs: 3000, OriginalEndMs: 4000, SpeechStartMs: 1000, SpeechEndMs: 2000, DurationMs: 1000},
	}
	if len(got.Segments) != len(want) {
		t.Fatalf("segments = %v, want %v", got.Segments, want)
	}
	for i := range want {
		if got.Segments[i] != want[i] {
			t.Errorf("segment %d = %v, want %v", i, got.Segments[i], want[i])
		}
	}
	if got.TotalOriginalMs != 4000 || got.TotalSpeechMs != 2000 {
		t.Errorf("totals = %v/%v, want 4000/2000", got.TotalOriginalMs, got.TotalSpeechMs)
	}
}

func TestFromSilence_Edge(t *testing.T) {
	tests := []struct {
		name      string
		spans     []timeline.Span
		totalMs   float64
		wantNil   bool
		wantCount int
		wantSp    float64
	}{
		{name: "no spans no total", spans: nil, totalMs: 0, wantNil: true},
		{name: "no spans with total", spans: nil, totalMs: 500, wantCount: 1, wantSp: 500},
		{name: "silence covers all", spans: []timeline.Span{{StartMs: 0, EndMs: 500}}, totalMs: 500, wantCount: 0, wantSp: 0},
		{name: "silence at start", spans: []timeline.Span{{StartMs: 0, EndMs: 100}}, totalMs: 500, wantCount: 1, wantSp: 400},
		{name: "no total uses last span end", spans: []timeline.Span{{StartMs: 100, EndMs: 500}}, totalMs: 0, wantCount: 1, wantSp: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := timeline.FromSilence(tt.spans, tt.totalMs)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("FromSilence() = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("FromSilence() = nil, want timeline")
			}
			if len(got.Segments) != tt.wantCount {
				t.Errorf("segments = %v, want %d", got.Segments, tt.wantCount)
			}
			if got.TotalSpeechMs != tt.wantSp {
				t.Errorf("TotalSpeechMs = %v, want %v", got.TotalSpeechMs, tt.wantSp)
			}
		})
	}
}

func TestReadSilenceMap(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []timeline.Span
	}{
		{name: "with header",
			in:   "start_ms\tend_ms\tdur_ms\n100\t200\t100\n300\t400\t100\n",
			want: []timeline.Span{{StartMs: 100, EndMs: 200, DurationMs: 100}, {StartMs: 300, EndMs: 400, DurationMs: 100}}},
		{name: "skips damage",
			in:   "start_ms\tend_ms\tdur_ms\noops\t200\n\n500\t400\t0\n100\t200\t100\nsingle\n",
			want: []timeline.Span{{StartMs: 100, EndMs: 200, DurationMs: 100}}},
		{name: "sorts", in: "300\t400\t100\n100\t200\t100\n",
			want: []timeline.Span{{StartMs: 100, EndMs: 200, DurationMs: 100}, {StartMs: 300, EndMs: 400, DurationMs: 100}}},
		{name: "empty", in: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := timeline.ReadSilenceMap(strings.NewReader(tt.in))
			if err != nil {
				t.Fatalf("ReadSilenceMap() failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ReadSilenceMap() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("span %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWriteSilenceMap(t *testing.T) {
	var b bytes.Buffer
	err := timeline.WriteSilenceMap(&b, []timeline.Span{{StartMs: 100, EndMs: 320, DurationMs: 220}})
	if err != nil {
		t.Fatalf("WriteSilenceMap() failed: %v", err)
	}
	want := "start_ms\tend_ms\tdur_ms\n100\t320\t220\n"
	if b.String() != want {
		t.Errorf("WriteSilenceMap() = %q, want %q", b.String(), want)
	}
	back, err := timeline.ReadSilenceMap(&b)
	if err != nil {
		t.Fatalf("ReadSilenceMap() failed: %v", err)
	}
	if len(back) != 1 || back[0].StartMs != 100 || back[0].EndMs != 320 {
		t.Errorf("read back = %v", back)
	}
}
