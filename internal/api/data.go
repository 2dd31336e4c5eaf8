package api

import (
	"github.com/airenas/session-replay-server/internal/frames"
	"github.com/airenas/session-replay-server/internal/timeline"
	"github.com/airenas/session-replay-server/internal/transcript"
)

// PlayerMessage is the one message shape of the player websocket, used in
// both directions. Fields not relevant for an event stay empty.
type PlayerMessage struct {
	Event     string           `json:"event"`
	SessionID string           `json:"session_id,omitempty"`
	Surface   string           `json:"surface,omitempty"`
	Elements  []ElementInfo    `json:"elements,omitempty"`
	Element   string           `json:"element,omitempty"`
	Seconds   float64          `json:"seconds,omitempty"`
	Ms        float64          `json:"ms,omitempty"`
	Duration  float64          `json:"duration,omitempty"`
	Mode      string           `json:"mode,omitempty"`
	Clip      int              `json:"clip,omitempty"`
	Epoch     uint64           `json:"epoch,omitempty"`
	Error     string           `json:"error,omitempty"`
	State     *PlayerState     `json:"state,omitempty"`
	Line      *transcript.Line `json:"line,omitempty"`
}

// ElementInfo declares one media element the page drives.
type ElementInfo struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// PlayerState is the controller state snapshot pushed to the page.
type PlayerState struct {
	State      string            `json:"state"`
	Mode       string            `json:"mode,omitempty"`
	ActiveClip int               `json:"active_clip"`
	LogicalMs  float64           `json:"logical_ms"`
	Playing    bool              `json:"playing"`
	Epoch      uint64            `json:"epoch"`
	Errors     map[string]string `json:"errors,omitempty"`
}

const (
	// from the player page
	EventHello          = "HELLO"
	EventLoadedMetadata = "LOADED_METADATA"
	EventTimeUpdate     = "TIME_UPDATE"
	EventEnded          = "ENDED"
	EventElementError   = "ELEMENT_ERROR"
	EventPlay           = "PLAY"
	EventPause          = "PAUSE"
	EventSeek           = "SEEK"
	EventSetMode        = "SET_MODE"
	EventSelectClip     = "SELECT_CLIP"
	EventRestartClip    = "RESTART_CLIP"
	EventSetOffset      = "SET_OFFSET"

	// to the player page
	EventSetTime      = "SET_TIME"
	EventElementPlay  = "ELEMENT_PLAY"
	EventElementPause = "ELEMENT_PAUSE"
	EventState        = "STATE"
)

const (
	ElementAudio = "audio"
	ElementVideo = "video"
)

// Manifest is everything the player page needs to mount one session.
type Manifest struct {
	SessionID     int64           `json:"session_id"`
	Title         string          `json:"title,omitempty"`
	DurationMs    float64         `json:"duration,omitempty"`
	Audio         *AudioInfo      `json:"audio,omitempty"`
	SilenceMapURL string          `json:"silence_map_url,omitempty"`
	Transcript    *TranscriptInfo `json:"transcript,omitempty"`
}

type AudioInfo struct {
	OriginalURL string             `json:"original_url"`
	SpeechURL   string             `json:"speech_url,omitempty"`
	Timeline    *timeline.Timeline `json:"timeline,omitempty"`
}

type TranscriptInfo struct {
	Format string `json:"format"`
	URL    string `json:"url"`
	RawURL string `json:"raw_url,omitempty"`
}

// ClipsResponse is the window-clips view of one session's recording.
type ClipsResponse struct {
	SessionID int64             `json:"session_id"`
	VideoURL  string            `json:"video_url,omitempty"`
	Clips     frames.ClipList   `json:"clips"`
	Frames    []frames.Sample   `json:"frames,omitempty"`
	Alignment *frames.Alignment `json:"alignment,omitempty"`
}

// PinStatus reports the pin state of a session after a change.
type PinStatus struct {
	SessionID int64 `json:"session_id"`
	Pinned    bool  `json:"pinned"`
}

// SessionEntry is one row of the sessions listing.
type SessionEntry struct {
	ID               int64  `json:"id"`
	Title            string `json:"title,omitempty"`
	FilePath         string `json:"file_path,omitempty"`
	Device           string `json:"device,omitempty"`
	SampleRate       int    `json:"sample_rate,omitempty"`
	Channels         int    `json:"channels,omitempty"`
	Model            string `json:"model,omitempty"`
	StartTime        string `json:"start_time,omitempty"`
	EndTime          string `json:"end_time,omitempty"`
	Status           string `json:"status,omitempty"`
	OriginalAudioURL string `json:"original_audio_url,omitempty"`
	SpeechAudioURL   string `json:"speech_audio_url,omitempty"`
	SilenceMapURL    string `json:"silence_map_url,omitempty"`
	Pinned           bool   `json:"pinned,omitempty"`
}
