package service

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/gorilla/websocket"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/session-replay-server/internal/domain"
	"github.com/airenas/session-replay-server/internal/playback"
	"github.com/airenas/session-replay-server/internal/store"
	"github.com/airenas/session-replay-server/internal/transcript"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// ResumeManager keeps last playback positions between sessions.
type ResumeManager interface {
	SaveResume(ctx context.Context, in *domain.Resume) error
	GetResume(ctx context.Context, sessionID int64) (*domain.Resume, error)
	DeleteResume(ctx context.Context, sessionID int64) error
}

// Data keeps data required for service work
type Data struct {
	Port              int
	DataDir           string
	Store             *store.Store
	Resume            ResumeManager
	TranscriptHandler transcript.Handler
	SyncCfg           playback.Config
	Ctx               context.Context
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) (<-chan struct{}, error) {
	goapp.Log.Info().Msgf("Starting replay service at %d", data.Port)
	if err := validate(data); err != nil {
		return nil, err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 60 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	res := make(chan struct{}, 1)
	go func() {
		defer close(res)
		if err := gracehttp.Serve(e.Server); err != nil {
			goapp.Log.Error().Err(err).Msg("can't start web server")
		}
		goapp.Log.Info().Msg("exit http routine")
	}()
	return res, nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("replay", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.CORS())
	promMdlw.Use(e)

	e.GET("/live", live(data))
	e.GET("/sessions", listSessions(data))
	e.GET("/sessions/:id", getSession(data))
	e.GET("/sessions/:id/manifest", manifest(data))
	e.GET("/sessions/:id/transcript", transcriptJSON(data))
	e.GET("/sessions/:id/transcript.txt", transcriptRaw(data))
	e.GET("/sessions/:id/events", listEvents(data))
	e.POST("/sessions/:id/speech", buildSpeech(data))
	e.POST("/sessions/:id/pin", pinSession(data))
	e.DELETE("/sessions/:id/pin", unpinSession(data))
	e.GET("/pins", listPins(data))
	e.GET("/sessions/:id/resume", getResume(data))
	e.DELETE("/sessions/:id/resume", deleteResume(data))
	e.GET("/recordings/:id/clips", listClips(data))
	e.GET("/client/ws/playback/:id", playerWS(data))
	e.Static("/files", data.DataDir)

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

func validate(data *Data) error {
	if data.Store == nil {
		return fmt.Errorf("no Store")
	}
	if data.Resume == nil {
		return fmt.Errorf("no Resume")
	}
	if data.DataDir == "" {
		return fmt.Errorf("no DataDir")
	}
	return nil
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	}}

func playerWS(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		id, err := sessionID(c)
		if err != nil {
			return err
		}
		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return err
		}
		defer ws.Close()

		return handlePlayerConnection(data.Ctx, data, ws, id)
	}
}

func sessionID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	return id, nil
}

func (d *Data) session(c echo.Context) (*domain.Session, error) {
	id, err := sessionID(c)
	if err != nil {
		return nil, err
	}
	ses, err := d.Store.Session(c.Request().Context(), id)
	if err != nil {
		goapp.Log.Error().Err(err).Send()
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "can't load session")
	}
	if ses == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return ses, nil
}

// absPath resolves a stored file path against the served data dir. Paths may
// come with backslash separators.
func (d *Data) absPath(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if filepath.IsAbs(filepath.FromSlash(p)) {
		return filepath.Clean(filepath.FromSlash(p))
	}
	return filepath.Join(d.DataDir, filepath.FromSlash(p))
}

// fileURL maps an absolute path under the data dir to its /files URL, empty
// when the path lies outside the served tree.
func (d *Data) fileURL(abs string) string {
	if abs == "" {
		return ""
	}
	rel, err := filepath.Rel(d.DataDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return "/files/" + filepath.ToSlash(rel)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
