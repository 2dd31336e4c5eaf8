package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/session-replay-server/internal/api"
	"github.com/airenas/session-replay-server/internal/domain"
	"github.com/airenas/session-replay-server/internal/frames"
	"github.com/airenas/session-replay-server/internal/playback"
	"github.com/airenas/session-replay-server/internal/silence"
	"github.com/airenas/session-replay-server/internal/store"
	"github.com/airenas/session-replay-server/internal/timeline"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

type wsData struct {
	t   int
	msg []byte
}

// handlePlayerConnection runs one playback bridge connection. The page sends
// element signals and user requests, the controller answers with sync
// commands and state snapshots. All writes go through a single goroutine.
func handlePlayerConnection(ctx context.Context, d *Data, conn *websocket.Conn, sessionID int64) error {
	connID := ulid.Make().String()
	goapp.Log.Info().Str("conn", connID).Int64("session", sessionID).Msg("Player connected")

	sd, err := playerSessionData(ctx, d, sessionID)
	if err != nil {
		return err
	}

	closeCtx, cf := context.WithCancel(ctx)
	defer cf()

	writeCh := make(chan *api.PlayerMessage, 32)
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for msg := range writeCh {
			if err := conn.WriteJSON(msg); err != nil {
				goapp.Log.Error().Err(err).Str("conn", connID).Msg("write error")
				cf()
				return
			}
		}
	}()
	writeFunc := func(msg *api.PlayerMessage) error {
		select {
		case writeCh <- msg:
			return nil
		case <-closeCtx.Done():
			return closeCtx.Err()
		}
	}

	ctrl := playback.NewController(*sd, d.SyncCfg, writeFunc)

	readCh := readWebSocket(closeCtx, conn)
loop:
	for {
		select {
		case <-closeCtx.Done():
			goapp.Log.Info().Str("conn", connID).Msg("context canceled")
			break loop
		case in, ok := <-readCh:
			if !ok {
				break loop
			}
			if in.t != websocket.TextMessage {
				continue
			}
			msg, err := decodePlayer(in.msg)
			if err != nil {
				goapp.Log.Error().Err(err).Str("conn", connID).Msg("decode error")
				continue
			}
			dispatch(ctx, d, ctrl, sessionID, msg)
		}
	}
	close(writeCh)
	<-writeDone
	savePosition(ctx, d, ctrl, sessionID)
	goapp.Log.Info().Str("conn", connID).Msg("Player disconnected")
	return nil
}

func dispatch(ctx context.Context, d *Data, ctrl *playback.Controller, sessionID int64, msg *api.PlayerMessage) {
	goapp.Log.Trace().Str("event", msg.Event).Str("element", msg.Element).Send()
	switch msg.Event {
	case api.EventHello:
		ctrl.Register(msg.Elements)
		if res, err := d.Resume.GetResume(ctx, sessionID); err != nil {
			goapp.Log.Error().Err(err).Msg("can't load resume position")
		} else if res != nil {
			ctrl.Restore(res)
		}
	case api.EventLoadedMetadata:
		ctrl.OnLoadedMetadata(msg.Element, msg.Duration)
	case api.EventTimeUpdate:
		ctrl.OnTimeUpdate(msg.Element, msg.Seconds, msg.Epoch)
	case api.EventEnded:
		ctrl.OnEnded(msg.Element, msg.Epoch)
		savePosition(ctx, d, ctrl, sessionID)
	case api.EventElementError:
		ctrl.OnElementError(msg.Element, msg.Error, msg.Epoch)
	case api.EventPlay:
		ctrl.Play()
	case api.EventPause:
		ctrl.Pause()
		savePosition(ctx, d, ctrl, sessionID)
	case api.EventSeek:
		ctrl.Seek(msg.Ms)
	case api.EventSetMode:
		mode, ok := playback.ParseMode(msg.Mode)
		if !ok {
			goapp.Log.Warn().Str("mode", msg.Mode).Msg("unknown mode")
			return
		}
		ctrl.SetMode(mode)
	case api.EventSelectClip:
		ctrl.SelectClip(msg.Clip)
	case api.EventRestartClip:
		ctrl.RestartClip(msg.Clip)
	case api.EventSetOffset:
		ctrl.SetOffset(msg.Seconds)
	default:
		goapp.Log.Warn().Str("event", msg.Event).Msg("unknown event")
	}
}

func savePosition(ctx context.Context, d *Data, ctrl *playback.Controller, sessionID int64) {
	st := ctrl.Snapshot()
	res := &domain.Resume{SessionID: sessionID, Mode: st.Mode, LogicalMs: st.LogicalMs,
		Clip: st.ActiveClip, UpdatedAt: time.Now()}
	if err := d.Resume.SaveResume(ctx, res); err != nil {
		goapp.Log.Error().Err(err).Msg("can't save resume position")
	}
}

// playerSessionData assembles the session material the controller maps
// through. Missing pieces degrade, only the session row itself is required.
func playerSessionData(ctx context.Context, d *Data, sessionID int64) (*playback.SessionData, error) {
	ses, err := d.Store.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ses == nil {
		return nil, errors.New("session not found")
	}
	res := &playback.SessionData{}

	wav := d.absPath(ses.FilePath)
	if durMs, err := silence.WavDurationMs(wav); err != nil {
		goapp.Log.Warn().Err(err).Str("file", wav).Msg("can't read wav duration")
	} else {
		res.DurationMs = durMs
	}
	_, silenceMap := silence.Outputs(wav)
	if fileExists(silenceMap) {
		if spans, err := readSilenceMapFile(silenceMap); err != nil {
			goapp.Log.Error().Err(err).Str("file", silenceMap).Msg("can't read silence map")
		} else {
			res.Timeline = timeline.FromSilence(spans, res.DurationMs)
		}
	}

	txt, err := d.Store.Transcription(ctx, store.CanonicalPath(wav))
	if err != nil {
		goapp.Log.Error().Err(err).Msg("can't load transcript")
	} else if txt != "" {
		res.Lines = d.parseTranscript(ctx, txt)
	}

	samples, err := d.Store.Frames(ctx, sessionID)
	if err != nil {
		goapp.Log.Error().Err(err).Msg("can't load frames")
	} else if len(samples) > 0 {
		samples = frames.SecondsFromStart(samples)
		cl := frames.BuildClips(samples)
		res.Samples = samples
		res.Clips = cl.Clips
		if !ses.StartTime.IsZero() {
			al := frames.NewAlignment(cl.FirstTimestamp, cl.LastTimestamp, ses.StartTime, ses.EndTime)
			res.Alignment = &al
		}
	}
	return res, nil
}

func decodePlayer(b []byte) (*api.PlayerMessage, error) {
	res := &api.PlayerMessage{}
	if err := json.Unmarshal(b, res); err != nil {
		return nil, err
	}
	return res, nil
}

func readWebSocket(ctx context.Context, in *websocket.Conn) <-chan wsData {
	resCh := make(chan wsData)
	go func() {
		defer close(resCh)
		defer goapp.Log.Debug().Msg("read routine ended")
		for {
			mType, message, err := in.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) ||
					errors.Is(err, net.ErrClosed) {
					goapp.Log.Info().Msg("connection closed")
					return
				}
				goapp.Log.Error().Err(err).Send()
				return
			}
			select {
			case resCh <- wsData{t: mType, msg: message}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return resCh
}
