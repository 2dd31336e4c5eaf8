package domain

import "time"

// Session is one recorded audio session.
type Session struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title,omitempty"`
	FilePath   string    `json:"file_path"`
	Device     string    `json:"device,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Channels   int       `json:"channels,omitempty"`
	Model      string    `json:"model,omitempty"`
	StartTime  time.Time `json:"start_time,omitzero"`
	EndTime    time.Time `json:"end_time,omitzero"`
	Status     string    `json:"status,omitempty"`
	VideoPath  string    `json:"video_path,omitempty"`
}

// Event is one recorded desktop event of a session.
type Event struct {
	ID          int64  `json:"id"`
	SessionID   int64  `json:"session_id"`
	TsWallMs    int64  `json:"ts_wall_ms"`
	TsMonoMs    int64  `json:"ts_mono_ms"`
	EventType   string `json:"event_type"`
	ProcessName string `json:"process_name,omitempty"`
	WindowTitle string `json:"window_title,omitempty"`
	WindowClass string `json:"window_class,omitempty"`
	WindowRect  string `json:"window_rect,omitempty"`
	Mouse       string `json:"mouse,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

// Pin marks a session as pinned in the listing.
type Pin struct {
	SessionID int64 `json:"session_id"`
	PinnedAt  int64 `json:"pinned_at"`
}

// Resume is a saved playback position, enough to reopen a session where the
// viewer left off.
type Resume struct {
	SessionID int64     `json:"session_id"`
	Mode      string    `json:"mode,omitempty"`
	LogicalMs float64   `json:"logical_ms"`
	Clip      int       `json:"clip"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}
