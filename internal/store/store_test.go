package store_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/airenas/session-replay-server/internal/domain"
	"github.com/airenas/session-replay-server/internal/frames"
	"github.com/airenas/session-replay-server/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "replay.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessions_InsertAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	older := domain.Session{Title: "morning", FilePath: "session-1.wav", Device: "mic",
		SampleRate: 16000, Channels: 1, Model: "base",
		StartTime: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), Status: "completed"}
	newer := domain.Session{Title: "afternoon", FilePath: "session-2.wav",
		StartTime: time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC), Status: "active",
		VideoPath: "session-2.mkv"}
	id1, err := s.InsertSession(ctx, &older)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.InsertSession(ctx, &newer)
	if err != nil {
		t.Fatal(err)
	}

	all, err := s.Sessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d, wanted 2", len(all))
	}
	if all[0].ID != id2 || all[1].ID != id1 {
		t.Errorf("got order %d, %d, wanted newest first", all[0].ID, all[1].ID)
	}

	got, err := s.Session(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("wanted a session")
	}
	if got.Title != "morning" || got.FilePath != "session-1.wav" || got.SampleRate != 16000 {
		t.Errorf("got %+v", got)
	}
	if !got.StartTime.Equal(older.StartTime) {
		t.Errorf("got %v, wanted %v", got.StartTime, older.StartTime)
	}

	missing, err := s.Session(ctx, 999)
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("got %+v, wanted nil", missing)
	}
}

func TestCloseSession(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id, err := s.InsertSession(ctx, &domain.Session{FilePath: "a.wav",
		StartTime: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), Status: "active"})
	if err != nil {
		t.Fatal(err)
	}
	end := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	if err := s.CloseSession(ctx, id, end); err != nil {
		t.Fatal(err)
	}
	got, err := s.Session(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "completed" {
		t.Errorf("got %s, wanted completed", got.Status)
	}
	if !got.EndTime.Equal(end) {
		t.Errorf("got %v, wanted %v", got.EndTime, end)
	}
}

func TestTranscription_LatestWins(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.SaveTranscription(ctx, "session-1", "base", "old text"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTranscription(ctx, "session-1", "large", "new text"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Transcription(ctx, "session-1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "new text" {
		t.Errorf("got %q, wanted new text", got)
	}
	empty, err := s.Transcription(ctx, "nope")
	if err != nil {
		t.Fatal(err)
	}
	if empty != "" {
		t.Errorf("got %q, wanted empty", empty)
	}
}

func TestFrames_RoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id, err := s.InsertSession(ctx, &domain.Session{FilePath: "a.wav",
		StartTime: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2025, 6, 1, 9, 0, 0, 123456789, time.UTC)
	in := []frames.Sample{
		{OffsetIndex: 0, Timestamp: base, WindowName: "editor"},
		{OffsetIndex: 1, Timestamp: base.Add(2 * time.Second), WindowName: "browser"},
		{OffsetIndex: 2, Timestamp: base.Add(4 * time.Second)},
	}
	if err := s.InsertFrames(ctx, id, in); err != nil {
		t.Fatal(err)
	}
	got, err := s.Frames(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d, wanted 3", len(got))
	}
	for i := range got {
		if got[i].OffsetIndex != in[i].OffsetIndex || got[i].WindowName != in[i].WindowName {
			t.Errorf("got %+v, wanted %+v", got[i], in[i])
		}
		if !got[i].Timestamp.Equal(in[i].Timestamp) {
			t.Errorf("got %v, wanted %v", got[i].Timestamp, in[i].Timestamp)
		}
	}
	none, err := s.Frames(ctx, 777)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("got %d, wanted 0", len(none))
	}
}

func TestEvents_Filter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	add := func(ts int64, typ, title string) {
		t.Helper()
		if _, err := s.AddEvent(ctx, &domain.Event{SessionID: 1, TsWallMs: ts, TsMonoMs: ts,
			EventType: typ, ProcessName: "code", WindowTitle: title}); err != nil {
			t.Fatal(err)
		}
	}
	add(100, "focus", "Editor")
	add(200, "input", "Editor")
	add(300, "focus", "Browser")
	add(400, "input", "Browser")

	all, err := s.Events(ctx, 1, store.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].TsMonoMs != 100 || all[3].TsMonoMs != 400 {
		t.Errorf("got %+v", all)
	}

	focus, err := s.Events(ctx, 1, store.EventFilter{Type: "focus"})
	if err != nil {
		t.Fatal(err)
	}
	if len(focus) != 2 {
		t.Errorf("got %d, wanted 2", len(focus))
	}

	ranged, err := s.Events(ctx, 1, store.EventFilter{FromMs: 150, ToMs: 350})
	if err != nil {
		t.Fatal(err)
	}
	if len(ranged) != 2 || ranged[0].TsMonoMs != 200 || ranged[1].TsMonoMs != 300 {
		t.Errorf("got %+v", ranged)
	}

	limited, err := s.Events(ctx, 1, store.EventFilter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].TsMonoMs != 100 {
		t.Errorf("got %+v", limited)
	}

	found, err := s.Events(ctx, 1, store.EventFilter{Search: "brows"})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0].TsMonoMs != 300 {
		t.Errorf("got %+v", found)
	}

	other, err := s.Events(ctx, 2, store.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("got %d, wanted 0", len(other))
	}
}

func TestPins(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.Pin(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Pin(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.Pin(ctx, 1); err != nil {
		t.Fatal(err)
	}
	pins, err := s.Pins(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pins) != 2 {
		t.Fatalf("got %d, wanted 2", len(pins))
	}
	if err := s.Unpin(ctx, 1); err != nil {
		t.Fatal(err)
	}
	pins, err = s.Pins(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pins) != 1 || pins[0].SessionID != 2 {
		t.Errorf("got %+v", pins)
	}
}

func TestCanonicalPath(t *testing.T) {
	got := store.CanonicalPath("/Data/Audio/Session-1.WAV")
	if got != "/data/audio/session-1.wav" {
		t.Errorf("got %q", got)
	}
	rel := store.CanonicalPath("recordings/a.wav")
	if !filepath.IsAbs(filepath.FromSlash(rel)) {
		t.Errorf("got %q, wanted absolute", rel)
	}
	if rel != strings.ToLower(rel) {
		t.Errorf("got %q, wanted lowercase", rel)
	}
}
