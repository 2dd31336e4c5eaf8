package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/session-replay-server/internal/domain"
	"github.com/airenas/session-replay-server/internal/frames"
	_ "modernc.org/sqlite"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 5000;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS audio_sessions (
    id INTEGER PRIMARY KEY,
    title TEXT,
    file_path TEXT,
    device TEXT,
    sample_rate INTEGER,
    channels INTEGER,
    model TEXT,
    start_time TEXT NOT NULL,
    end_time TEXT,
    status TEXT DEFAULT 'active',
    video_path TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audio_transcriptions (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    model_size TEXT NOT NULL,
    transcription TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS frames (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id INTEGER NOT NULL,
    offset_index INTEGER NOT NULL,
    timestamp TEXT NOT NULL,
    window_name TEXT,
    FOREIGN KEY (session_id) REFERENCES audio_sessions(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_frames_session ON frames(session_id, offset_index);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id INTEGER,
    ts_wall_ms INTEGER,
    ts_mono_ms INTEGER,
    event_type TEXT,
    process_name TEXT,
    window_title TEXT,
    window_class TEXT,
    window_rect TEXT,
    mouse TEXT,
    payload TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_session_time ON events(session_id, ts_mono_ms);
CREATE INDEX IF NOT EXISTS idx_events_session_type ON events(session_id, event_type);

CREATE TABLE IF NOT EXISTS pinned_sessions (
    session_id INTEGER PRIMARY KEY,
    pinned_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_pinned_sessions_at ON pinned_sessions(pinned_at);
`

// Store is the session metadata database.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	goapp.Log.Info().Str("path", path).Msg("Session db ready")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InsertSession(ctx context.Context, in *domain.Session) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_sessions (title, file_path, device, sample_rate, channels, model,
			start_time, end_time, status, video_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Title, in.FilePath, in.Device, in.SampleRate, in.Channels, in.Model,
		formatTime(in.StartTime), formatTime(in.EndTime), in.Status, in.VideoPath)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("session id: %w", err)
	}
	return id, nil
}

func (s *Store) CloseSession(ctx context.Context, id int64, end time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE audio_sessions SET end_time = ?, status = 'completed' WHERE id = ?`,
		formatTime(end), id); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

const sessionColumns = `id, title, file_path, device, sample_rate, channels, model,
	start_time, end_time, status, video_path`

func (s *Store) Sessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM audio_sessions ORDER BY start_time DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		ses, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *ses)
	}
	return res, rows.Err()
}

// Session returns one session or nil when the id is unknown.
func (s *Store) Session(ctx context.Context, id int64) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM audio_sessions WHERE id = ?`, id)
	ses, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ses, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var ses domain.Session
	var title, filePath, device, model, start, end, status, video sql.NullString
	var sampleRate, channels sql.NullInt64
	if err := row.Scan(&ses.ID, &title, &filePath, &device, &sampleRate, &channels, &model,
		&start, &end, &status, &video); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	ses.Title = title.String
	ses.FilePath = filePath.String
	ses.Device = device.String
	ses.SampleRate = int(sampleRate.Int64)
	ses.Channels = int(channels.Int64)
	ses.Model = model.String
	ses.StartTime = parseTime(start.String)
	ses.EndTime = parseTime(end.String)
	ses.Status = status.String
	ses.VideoPath = video.String
	return &ses, nil
}

func (s *Store) SaveTranscription(ctx context.Context, name, modelSize, text string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_transcriptions (name, model_size, transcription, created_at)
		VALUES (?, ?, ?, ?)`,
		name, modelSize, text, formatTime(time.Now())); err != nil {
		return fmt.Errorf("save transcription: %w", err)
	}
	return nil
}

// Transcription returns the latest stored transcription for a name, empty
// when none exists.
func (s *Store) Transcription(ctx context.Context, name string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `
		SELECT transcription FROM audio_transcriptions
		WHERE name = ? ORDER BY created_at DESC, id DESC LIMIT 1`, name).Scan(&text)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query transcription: %w", err)
	}
	return text, nil
}

func (s *Store) InsertFrames(ctx context.Context, sessionID int64, samples []frames.Sample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO frames (session_id, offset_index, timestamp, window_name)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, fr := range samples {
		if _, err := stmt.ExecContext(ctx, sessionID, fr.OffsetIndex,
			fr.Timestamp.Format(time.RFC3339Nano), fr.WindowName); err != nil {
			return fmt.Errorf("insert frame: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) Frames(ctx context.Context, sessionID int64) ([]frames.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT offset_index, timestamp, window_name FROM frames
		WHERE session_id = ? ORDER BY offset_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()
	var res []frames.Sample
	for rows.Next() {
		var fr frames.Sample
		var ts string
		var name sql.NullString
		if err := rows.Scan(&fr.OffsetIndex, &ts, &name); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		fr.Timestamp = parseTime(ts)
		fr.WindowName = name.String
		res = append(res, fr)
	}
	return res, rows.Err()
}

func (s *Store) AddEvent(ctx context.Context, ev *domain.Event) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (session_id, ts_wall_ms, ts_mono_ms, event_type, process_name,
			window_title, window_class, window_rect, mouse, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.TsWallMs, ev.TsMonoMs, ev.EventType, ev.ProcessName,
		ev.WindowTitle, ev.WindowClass, ev.WindowRect, ev.Mouse, ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event id: %w", err)
	}
	return id, nil
}

// EventFilter narrows an event query. Zero values mean no constraint.
type EventFilter struct {
	Type   string
	Search string
	FromMs int64
	ToMs   int64
	Limit  int
}

func (s *Store) Events(ctx context.Context, sessionID int64, f EventFilter) ([]domain.Event, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, session_id, ts_wall_ms, ts_mono_ms, event_type, process_name,
		window_title, window_class, window_rect, mouse, payload
		FROM events WHERE session_id = ?`)
	args := []any{sessionID}
	if f.Type != "" {
		sb.WriteString(" AND event_type = ?")
		args = append(args, f.Type)
	}
	if f.Search != "" {
		sb.WriteString(` AND (lower(process_name) LIKE ? OR lower(window_title) LIKE ?
			OR lower(window_class) LIKE ? OR lower(payload) LIKE ?)`)
		like := "%" + strings.ToLower(f.Search) + "%"
		args = append(args, like, like, like, like)
	}
	if f.FromMs > 0 {
		sb.WriteString(" AND ts_mono_ms >= ?")
		args = append(args, f.FromMs)
	}
	if f.ToMs > 0 {
		sb.WriteString(" AND ts_mono_ms <= ?")
		args = append(args, f.ToMs)
	}
	sb.WriteString(" ORDER BY ts_mono_ms, id")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var ev domain.Event
		var sid sql.NullInt64
		var proc, title, class, rect, mouse, payload sql.NullString
		if err := rows.Scan(&ev.ID, &sid, &ev.TsWallMs, &ev.TsMonoMs, &ev.EventType,
			&proc, &title, &class, &rect, &mouse, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.SessionID = sid.Int64
		ev.ProcessName = proc.String
		ev.WindowTitle = title.String
		ev.WindowClass = class.String
		ev.WindowRect = rect.String
		ev.Mouse = mouse.String
		ev.Payload = payload.String
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *Store) Pin(ctx context.Context, sessionID int64) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pinned_sessions (session_id, pinned_at) VALUES (?, ?)`,
		sessionID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("pin: %w", err)
	}
	return nil
}

func (s *Store) Unpin(ctx context.Context, sessionID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pinned_sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("unpin: %w", err)
	}
	return nil
}

func (s *Store) Pins(ctx context.Context) ([]domain.Pin, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, pinned_at FROM pinned_sessions ORDER BY pinned_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query pins: %w", err)
	}
	defer rows.Close()
	var res []domain.Pin
	for rows.Next() {
		var p domain.Pin
		var at sql.NullInt64
		if err := rows.Scan(&p.SessionID, &at); err != nil {
			return nil, fmt.Errorf("scan pin: %w", err)
		}
		p.PinnedAt = at.Int64
		res = append(res, p)
	}
	return res, rows.Err()
}

// CanonicalPath normalizes a file path into the stable form used as the
// transcription key: absolute, forward-slash separated, lowercase.
func CanonicalPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	return strings.ToLower(filepath.ToSlash(filepath.Clean(abs)))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
