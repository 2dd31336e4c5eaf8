//go:generate stringer -type=State
package playback

// State is the lifecycle of one playback surface.
type State int

const (
	Idle State = iota
	Ready
	Playing
	Paused
	Ended
)

// Mode selects which audio track drives the session surface.
type Mode string

const (
	ModeOriginal   Mode = "original"
	ModeSpeechOnly Mode = "speech"
)

// ParseMode maps a wire mode value, empty means original.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", string(ModeOriginal):
		return ModeOriginal, true
	case string(ModeSpeechOnly):
		return ModeSpeechOnly, true
	}
	return ModeOriginal, false
}
