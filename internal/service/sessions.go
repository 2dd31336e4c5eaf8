package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/session-replay-server/internal/api"
	"github.com/airenas/session-replay-server/internal/domain"
	"github.com/airenas/session-replay-server/internal/frames"
	"github.com/airenas/session-replay-server/internal/silence"
	"github.com/airenas/session-replay-server/internal/store"
	"github.com/airenas/session-replay-server/internal/timeline"
	"github.com/airenas/session-replay-server/internal/transcript"
	"github.com/labstack/echo/v4"
)

func listSessions(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		rows, err := data.Store.Sessions(ctx)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't load sessions")
		}
		pinned := map[int64]bool{}
		if pins, err := data.Store.Pins(ctx); err != nil {
			goapp.Log.Error().Err(err).Msg("can't load pins")
		} else {
			for _, p := range pins {
				pinned[p.SessionID] = true
			}
		}
		res := make([]api.SessionEntry, 0, len(rows))
		for i := range rows {
			res = append(res, data.sessionEntry(&rows[i], pinned[rows[i].ID]))
		}
		return c.JSON(http.StatusOK, res)
	}
}

func getSession(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ses, err := data.session(c)
		if err != nil {
			return err
		}
		pinned := false
		if pins, err := data.Store.Pins(c.Request().Context()); err == nil {
			for _, p := range pins {
				pinned = pinned || p.SessionID == ses.ID
			}
		}
		return c.JSON(http.StatusOK, data.sessionEntry(ses, pinned))
	}
}

func (d *Data) sessionEntry(ses *domain.Session, pinned bool) api.SessionEntry {
	wav := d.absPath(ses.FilePath)
	res := api.SessionEntry{ID: ses.ID, Title: ses.Title, FilePath: wav,
		Device: ses.Device, SampleRate: ses.SampleRate, Channels: ses.Channels,
		Model: ses.Model, StartTime: timeString(ses.StartTime), EndTime: timeString(ses.EndTime),
		Status: ses.Status, Pinned: pinned}
	if fileExists(wav) {
		res.OriginalAudioURL = d.fileURL(wav)
	}
	speechWav, silenceMap := silence.Outputs(wav)
	if fileExists(silenceMap) {
		res.SilenceMapURL = d.fileURL(silenceMap)
		if fileExists(speechWav) {
			res.SpeechAudioURL = d.fileURL(speechWav)
		}
	}
	return res
}

func manifest(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ses, err := data.session(c)
		if err != nil {
			return err
		}
		wav := data.absPath(ses.FilePath)
		if !fileExists(wav) {
			return echo.NewHTTPError(http.StatusNotFound, "audio file not found for session")
		}
		durMs, err := silence.WavDurationMs(wav)
		if err != nil {
			goapp.Log.Warn().Err(err).Str("file", wav).Msg("can't read wav duration")
		}
		res := &api.Manifest{SessionID: ses.ID, Title: ses.Title, DurationMs: durMs}
		res.Audio = &api.AudioInfo{OriginalURL: data.fileURL(wav)}

		speechWav, silenceMap := silence.Outputs(wav)
		if fileExists(silenceMap) {
			res.SilenceMapURL = data.fileURL(silenceMap)
			if spans, err := readSilenceMapFile(silenceMap); err != nil {
				goapp.Log.Error().Err(err).Str("file", silenceMap).Msg("can't read silence map")
			} else {
				res.Audio.Timeline = timeline.FromSilence(spans, durMs)
			}
			if fileExists(speechWav) {
				res.Audio.SpeechURL = data.fileURL(speechWav)
			}
		}

		res.Transcript = &api.TranscriptInfo{
			Format: "bracketed_text",
			URL:    fmt.Sprintf("/sessions/%d/transcript", ses.ID),
		}
		txt, err := data.transcriptText(c.Request().Context(), ses)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
		} else if strings.TrimSpace(txt) != "" {
			res.Transcript.RawURL = fmt.Sprintf("/sessions/%d/transcript.txt", ses.ID)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func transcriptJSON(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ses, err := data.session(c)
		if err != nil {
			return err
		}
		ctx := c.Request().Context()
		txt, err := data.transcriptText(ctx, ses)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't load transcript")
		}
		if strings.TrimSpace(txt) == "" {
			return echo.NewHTTPError(http.StatusNotFound, "transcript not found for session")
		}
		lines := data.parseTranscript(ctx, txt)
		return c.JSON(http.StatusOK, lines)
	}
}

func transcriptRaw(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ses, err := data.session(c)
		if err != nil {
			return err
		}
		txt, err := data.transcriptText(c.Request().Context(), ses)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't load transcript")
		}
		if strings.TrimSpace(txt) == "" {
			return echo.NewHTTPError(http.StatusNotFound, "transcript not found for session")
		}
		return c.String(http.StatusOK, txt)
	}
}

func listEvents(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		id, err := sessionID(c)
		if err != nil {
			return err
		}
		filter, err := eventFilter(c.QueryParams())
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		events, err := data.Store.Events(c.Request().Context(), id, filter)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't load events")
		}
		if events == nil {
			events = []domain.Event{}
		}
		return c.JSON(http.StatusOK, events)
	}
}

func eventFilter(vals url.Values) (store.EventFilter, error) {
	res := store.EventFilter{Type: vals.Get("type"), Search: vals.Get("search")}
	var err error
	if res.FromMs, err = int64Param(vals, "from_ms"); err != nil {
		return res, err
	}
	if res.ToMs, err = int64Param(vals, "to_ms"); err != nil {
		return res, err
	}
	lim, err := int64Param(vals, "limit")
	if err != nil {
		return res, err
	}
	res.Limit = int(lim)
	return res, nil
}

func int64Param(vals url.Values, name string) (int64, error) {
	v := vals.Get(name)
	if v == "" {
		return 0, nil
	}
	res, err := strconv.ParseInt(v, 10, 64)
	if err != nil || res < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return res, nil
}

func buildSpeech(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ses, err := data.session(c)
		if err != nil {
			return err
		}
		wav := data.absPath(ses.FilePath)
		if !fileExists(wav) {
			return echo.NewHTTPError(http.StatusNotFound, "audio file not found for session")
		}
		res, err := silence.Build(wav, "", "", silence.DefaultParams())
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't build speech audio")
		}
		return c.JSON(http.StatusOK, res)
	}
}

func pinSession(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ses, err := data.session(c)
		if err != nil {
			return err
		}
		if err := data.Store.Pin(c.Request().Context(), ses.ID); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't pin session")
		}
		return c.JSON(http.StatusOK, api.PinStatus{SessionID: ses.ID, Pinned: true})
	}
}

func unpinSession(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		id, err := sessionID(c)
		if err != nil {
			return err
		}
		if err := data.Store.Unpin(c.Request().Context(), id); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't unpin session")
		}
		return c.JSON(http.StatusOK, api.PinStatus{SessionID: id, Pinned: false})
	}
}

func listPins(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		pins, err := data.Store.Pins(c.Request().Context())
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't load pins")
		}
		if pins == nil {
			pins = []domain.Pin{}
		}
		return c.JSON(http.StatusOK, pins)
	}
}

func getResume(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		id, err := sessionID(c)
		if err != nil {
			return err
		}
		res, err := data.Resume.GetResume(c.Request().Context(), id)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't load resume position")
		}
		if res == nil {
			return echo.NewHTTPError(http.StatusNotFound, "no resume position")
		}
		return c.JSON(http.StatusOK, res)
	}
}

func deleteResume(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		id, err := sessionID(c)
		if err != nil {
			return err
		}
		if err := data.Resume.DeleteResume(c.Request().Context(), id); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't delete resume position")
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func listClips(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ses, err := data.session(c)
		if err != nil {
			return err
		}
		samples, err := data.Store.Frames(c.Request().Context(), ses.ID)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "can't load frames")
		}
		samples = frames.SecondsFromStart(samples)
		cl := frames.BuildClips(samples)
		res := api.ClipsResponse{SessionID: ses.ID, Clips: cl, Frames: samples}
		if video := data.absPath(ses.VideoPath); fileExists(video) {
			res.VideoURL = data.fileURL(video)
		}
		if len(samples) > 0 && !ses.StartTime.IsZero() {
			al := frames.NewAlignment(cl.FirstTimestamp, cl.LastTimestamp, ses.StartTime, ses.EndTime)
			res.Alignment = &al
		}
		return c.JSON(http.StatusOK, res)
	}
}

func (d *Data) transcriptText(ctx context.Context, ses *domain.Session) (string, error) {
	if ses.FilePath == "" {
		return "", nil
	}
	return d.Store.Transcription(ctx, store.CanonicalPath(d.absPath(ses.FilePath)))
}

func (d *Data) parseTranscript(ctx context.Context, txt string) []transcript.Line {
	lines := transcript.ParseBracketed(txt)
	if d.TranscriptHandler != nil {
		processed, err := d.TranscriptHandler.Process(ctx, lines)
		if err != nil {
			goapp.Log.Error().Err(err).Msg("can't process transcript")
		} else {
			lines = processed
		}
	}
	if lines == nil {
		lines = []transcript.Line{}
	}
	return lines
}

func readSilenceMapFile(path string) ([]timeline.Span, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return timeline.ReadSilenceMap(f)
}
