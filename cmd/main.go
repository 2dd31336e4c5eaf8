package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/session-replay-server/internal/db"
	"github.com/airenas/session-replay-server/internal/playback"
	"github.com/airenas/session-replay-server/internal/service"
	"github.com/airenas/session-replay-server/internal/store"
	"github.com/airenas/session-replay-server/internal/transcript"
	"github.com/labstack/gommon/color"
)

func main() {
	goapp.StartWithDefault()

	printBanner()

	cfg := goapp.Config

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	data := &service.Data{}
	data.Ctx = ctx
	data.Port = cfg.GetInt("port")
	data.DataDir = cfg.GetString("data.dir")
	if data.DataDir == "" {
		goapp.Log.Fatal().Msg("no data.dir configured")
	}
	dbPath := cfg.GetString("db.path")
	if dbPath == "" {
		dbPath = filepath.Join(data.DataDir, "transcriptions.sqlite3")
	}
	st, err := store.Open(dbPath)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't open store")
	}
	defer st.Close()
	data.Store = st

	if url := cfg.GetString("resume.url"); url != "" {
		rm, err := db.NewRedisResumeManager(url, cfg.GetString("resume.key"))
		if err != nil {
			goapp.Log.Fatal().Err(err).Msg("can't init resume store")
		}
		defer rm.Close()
		data.Resume = rm
	} else {
		goapp.Log.Info().Msg("Using in-memory resume store")
		data.Resume = db.NewMemoryResumeManager()
	}

	hList, err := transcript.NewListHandler()
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't init list handler")
	}
	hList.Add(transcript.NewCleaner())
	if gap := cfg.GetFloat64("merge.gapMs"); gap > 0 {
		maxChars := cfg.GetInt("merge.maxChars")
		if maxChars <= 0 {
			maxChars = 120
		}
		hList.Add(transcript.NewMerger(gap, maxChars))
	}
	data.TranscriptHandler = hList

	data.SyncCfg = playback.Config{AudioDriftSec: cfg.GetFloat64("sync.audioDrift"),
		VideoDriftSec: cfg.GetFloat64("sync.videoDrift")}

	doneCh, err := service.StartWebServer(data)
	if err != nil {
		goapp.Log.Fatal().Err(err).Msg("can't start web server")
	}

	/////////////////////// Waiting for terminate
	waitCh := make(chan os.Signal, 2)
	signal.Notify(waitCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-waitCh:
		goapp.Log.Info().Msg("Got exit signal")
	case <-doneCh:
		goapp.Log.Info().Msg("Service exit")
	}
	cancelFunc()
	select {
	case <-doneCh:
		goapp.Log.Info().Msg("All code returned. Now exit. Bye")
	case <-time.After(time.Second * 15):
		goapp.Log.Warn().Msg("Timeout gracefull shutdown")
	}
}

var (
	version = "DEV"
)

func printBanner() {
	banner :=
		`
    SESSION REPLAY SERVER v: %s

%s
________________________________________________________

`
	cl := color.New()
	cl.Printf(banner, cl.Red(version), cl.Green("https://github.com/airenas/session-replay-server"))
}
