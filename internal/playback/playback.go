package playback

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/session-replay-server/internal/api"
	"github.com/airenas/session-replay-server/internal/domain"
	"github.com/airenas/session-replay-server/internal/frames"
	"github.com/airenas/session-replay-server/internal/timeline"
	"github.com/airenas/session-replay-server/internal/transcript"
)

// Well-known element ids. Clip video elements use ClipElem(i).
const (
	ElemOriginal = "audio:original"
	ElemSpeech   = "audio:speech"
	ElemMix      = "audio:mix"
)

// ClipElem returns the wire id of the i-th clip's video element.
func ClipElem(i int) string {
	return fmt.Sprintf("clip:%d", i)
}

// Config holds drift snap thresholds in seconds.
type Config struct {
	AudioDriftSec float64
	VideoDriftSec float64
}

func (c Config) withDefaults() Config {
	if c.AudioDriftSec <= 0 {
		c.AudioDriftSec = 0.02
	}
	if c.VideoDriftSec <= 0 {
		c.VideoDriftSec = 0.15
	}
	return c
}

func (c Config) threshold(primaryKind, followerKind string) float64 {
	if primaryKind == api.ElementAudio && followerKind == api.ElementAudio {
		return c.AudioDriftSec
	}
	return c.VideoDriftSec
}

// SessionData is the immutable session material the controller maps through.
type SessionData struct {
	Timeline   *timeline.Timeline
	Lines      []transcript.Line
	Clips      []frames.Clip
	Samples    []frames.Sample
	Alignment  *frames.Alignment
	DurationMs float64
}

type element struct {
	id       string
	kind     string
	ready    bool
	playing  bool
	seeking  bool
	duration float64
	current  float64
	pending  uint64 // epoch of a queued seek, 0 none
}

// Controller keeps every media element of one player page in sync.
// The logical position is always expressed in original-recording milliseconds,
// no matter which element currently drives playback.
type Controller struct {
	State      State
	Mode       Mode
	LogicalMs  float64
	ActiveClip int

	offsetSec float64
	epoch     uint64

	data   SessionData
	cfg    Config
	elems  map[string]*element
	errors map[string]string

	writeFunc func(msg *api.PlayerMessage) error
	lock      sync.Mutex
}

func NewController(data SessionData, cfg Config, writeFunc func(msg *api.PlayerMessage) error) *Controller {
	return &Controller{State: Idle, Mode: ModeOriginal, ActiveClip: -1, epoch: 1,
		data: data, cfg: cfg.withDefaults(), elems: map[string]*element{}, errors: map[string]string{},
		writeFunc: writeFunc}
}

// Register declares the media elements the page drives. Signals for
// undeclared ids are dropped.
func (c *Controller) Register(infos []api.ElementInfo) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, ei := range infos {
		if ei.ID == "" {
			continue
		}
		kind := ei.Kind
		if kind == "" {
			kind = kindOf(ei.ID)
		}
		c.elems[ei.ID] = &element{id: ei.ID, kind: kind}
	}
	goapp.Log.Info().Int("elements", len(c.elems)).Msg("Player elements registered")
	c.pushState()
}

func kindOf(id string) string {
	if strings.HasPrefix(id, "audio:") {
		return api.ElementAudio
	}
	return api.ElementVideo
}

// OnLoadedMetadata marks an element ready and flushes its queued seek.
// Readiness is not epoch scoped, metadata arrives once per mount.
func (c *Controller) OnLoadedMetadata(id string, durationSec float64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	el := c.elems[id]
	if el == nil {
		goapp.Log.Debug().Str("element", id).Msg("Metadata for unknown element")
		return
	}
	el.ready = true
	if durationSec > 0 {
		el.duration = durationSec
	}
	delete(c.errors, id)
	goapp.Log.Info().Str("element", id).Float64("duration", durationSec).Msg("Element loaded")
	if p := el.pending; p != 0 {
		el.pending = 0
		if p == c.epoch {
			// target is recomputed here, the duration was unknown when the seek was queued
			c.emitSetTime(el, c.elementTarget(el))
			if c.State == Playing && c.playsNow(el) && !el.playing {
				c.emitPlay(el)
			}
		} else {
			goapp.Log.Debug().Str("element", id).Msg("Dropping queued seek from old source")
		}
	}
	if c.State == Idle && c.allReady() {
		c.State = Ready
	}
	c.pushState()
}

// OnTimeUpdate is the sync tick. Only the primary element drives the
// logical position, every other participating element gets snapped when
// it drifts past the threshold.
func (c *Controller) OnTimeUpdate(id string, seconds float64, epoch uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.staleLocked(epoch) {
		return
	}
	el := c.elems[id]
	if el == nil {
		goapp.Log.Debug().Str("element", id).Msg("Tick for unknown element")
		return
	}
	el.current = seconds
	if el.seeking {
		// first tick after SET_TIME may still carry the pre-seek clock
		el.seeking = false
		return
	}
	if c.State == Ended {
		return
	}
	if id != c.primaryID() {
		return
	}
	c.syncFromPrimary(el)
}

// OnEnded handles an element reaching its native end.
func (c *Controller) OnEnded(id string, epoch uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.staleLocked(epoch) {
		return
	}
	el := c.elems[id]
	if el == nil {
		return
	}
	el.playing = false
	if id != c.primaryID() {
		goapp.Log.Debug().Str("element", id).Msg("Follower ended")
		return
	}
	if c.State != Playing && c.State != Paused {
		return
	}
	if b := c.endBoundaryMs(); b > 0 {
		c.LogicalMs = b
	}
	c.endLocked()
}

// OnElementError records a soft per-element failure. A failed follower
// never halts the primary, a failed primary pauses its surface.
func (c *Controller) OnElementError(id, message string, epoch uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.staleLocked(epoch) {
		return
	}
	el := c.elems[id]
	if el == nil {
		goapp.Log.Warn().Str("element", id).Msg("Error for unknown element")
		return
	}
	if message == "" {
		message = "media error"
	}
	c.errors[id] = message
	el.playing = false
	goapp.Log.Error().Str("element", id).Str("error", message).Msg("Element failed")
	if id == c.primaryID() && c.State == Playing {
		c.pauseAllLocked()
		c.State = Paused
	}
	if c.State == Idle && c.allReady() {
		c.State = Ready
	}
	c.pushState()
}

func (c *Controller) Play() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.State != Ready && c.State != Paused {
		goapp.Log.Debug().Str("state", c.State.String()).Msg("Ignoring play")
		return
	}
	c.State = Playing
	for _, el := range c.elems {
		if c.playsNow(el) {
			if el.ready {
				c.emitPlay(el)
			}
		} else if el.playing {
			c.emitPause(el)
		}
	}
	c.pushState()
}

func (c *Controller) Pause() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.State != Playing {
		goapp.Log.Debug().Str("state", c.State.String()).Msg("Ignoring pause")
		return
	}
	c.pauseAllLocked()
	c.State = Paused
	c.pushState()
}

// Seek moves the logical position, clamped to the active clip or track
// bounds, and retargets every participating element.
func (c *Controller) Seek(ms float64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.seekLocked(ms)
	c.pushState()
}

// SetMode switches the driving audio track. The logical position is kept,
// so the transcript cursor does not move.
func (c *Controller) SetMode(mode Mode) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.ActiveClip >= 0 {
		goapp.Log.Warn().Msg("Mode change ignored while a clip is active")
		return
	}
	if mode == c.Mode {
		return
	}
	nextID := ElemOriginal
	if mode == ModeSpeechOnly {
		nextID = ElemSpeech
	}
	next := c.elems[nextID]
	if next == nil {
		goapp.Log.Warn().Str("element", nextID).Msg("No element for mode")
		return
	}
	prev := c.elems[c.sessionPrimaryID()]
	wasPlaying := c.State == Playing
	c.Mode = mode
	c.epoch++
	goapp.Log.Info().Str("mode", string(mode)).Uint64("epoch", c.epoch).Msg("Switching mode")
	if prev != nil && prev.playing {
		c.emitPause(prev)
	}
	c.setTime(next, c.elementTarget(next))
	if wasPlaying && next.ready {
		c.emitPlay(next)
	}
	c.pushState()
}

// SelectClip activates a clip. A different clip starts at its beginning,
// reselecting the active one keeps the position.
func (c *Controller) SelectClip(idx int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.startClipLocked(idx, false)
}

// RestartClip forces the clip to its exact start regardless of state.
func (c *Controller) RestartClip(idx int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.startClipLocked(idx, true)
}

// SetOffset adjusts the manual audio offset added on top of the
// recorded alignment.
func (c *Controller) SetOffset(sec float64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.offsetSec = sec
	goapp.Log.Info().Float64("offset", sec).Msg("Manual audio offset")
	if c.ActiveClip >= 0 {
		if mix := c.elems[ElemMix]; mix != nil {
			c.setTime(mix, c.elementTarget(mix))
		}
	}
	c.pushState()
}

// Restore applies a saved position. It never resumes playing by itself.
func (c *Controller) Restore(res *domain.Resume) {
	if res == nil {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if m, ok := ParseMode(res.Mode); ok {
		c.Mode = m
	}
	if res.Clip >= 0 && res.Clip < len(c.data.Clips) {
		c.ActiveClip = res.Clip
	} else {
		c.ActiveClip = -1
	}
	c.epoch++
	c.seekLocked(res.LogicalMs)
	goapp.Log.Info().Float64("ms", res.LogicalMs).Int("clip", res.Clip).Msg("Restored position")
	c.pushState()
}

// Snapshot returns the current player state for state pushes and resume saves.
func (c *Controller) Snapshot() *api.PlayerState {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.playerStateLocked()
}

// Epoch returns the current source epoch.
func (c *Controller) Epoch() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.epoch
}

func (c *Controller) startClipLocked(idx int, restart bool) {
	if idx < 0 || idx >= len(c.data.Clips) {
		goapp.Log.Warn().Int("clip", idx).Msg("Unknown clip")
		return
	}
	video := c.elems[ClipElem(idx)]
	if video == nil {
		goapp.Log.Warn().Str("element", ClipElem(idx)).Msg("No element for clip")
		return
	}
	cl := c.data.Clips[idx]
	switched := idx != c.ActiveClip
	wasPlaying := c.State == Playing
	if switched || restart {
		c.epoch++
	}
	c.ActiveClip = idx
	pos := c.LogicalMs
	if switched || restart {
		pos = cl.StartSeconds * 1000
	}
	goapp.Log.Info().Int("clip", idx).Bool("restart", restart).Uint64("epoch", c.epoch).Msg("Starting clip")
	for _, el := range c.elems {
		if el.playing && !(wasPlaying && c.playsNow(el)) {
			c.emitPause(el)
		}
	}
	c.seekLocked(pos)
	if wasPlaying {
		for _, el := range c.elems {
			if c.playsNow(el) && el.ready && !el.playing {
				c.emitPlay(el)
			}
		}
	}
	c.pushState()
}

func (c *Controller) seekLocked(ms float64) {
	lo, hi := c.boundsMs()
	ms = clampMs(ms, lo, hi)
	c.LogicalMs = ms
	for _, el := range c.elems {
		if !c.participates(el) {
			continue
		}
		c.setTime(el, c.elementTarget(el))
	}
	if c.State == Ended && (hi <= lo || ms < hi) {
		c.State = Paused
	}
}

// syncFromPrimary folds the primary's native clock into the logical
// position, detects the end boundary and snaps drifted followers.
func (c *Controller) syncFromPrimary(p *element) {
	switch p.id {
	case ElemOriginal:
		c.LogicalMs = p.current * 1000
	case ElemSpeech:
		c.LogicalMs = c.data.Timeline.SpeechToOriginal(p.current * 1000)
	default:
		c.LogicalMs = frames.VideoToRecordingSeconds(p.current, p.duration, c.data.Samples) * 1000
	}
	if b := c.endBoundaryMs(); b > 0 && c.LogicalMs >= b {
		c.LogicalMs = b
		c.endLocked()
		return
	}
	c.correctFollowers(p)
	c.pushState()
}

func (c *Controller) correctFollowers(p *element) {
	for _, el := range c.elems {
		if el == p || !c.playsNow(el) {
			continue
		}
		if !el.ready || el.seeking || el.pending != 0 {
			continue
		}
		if _, bad := c.errors[el.id]; bad {
			continue
		}
		target := c.elementTarget(el)
		if math.Abs(el.current-target) > c.cfg.threshold(p.kind, el.kind) {
			goapp.Log.Debug().Str("element", el.id).Float64("diff", el.current-target).Msg("Snapping follower")
			c.emitSetTime(el, target)
		}
	}
}

// elementTarget maps the logical position into an element's native seconds.
func (c *Controller) elementTarget(el *element) float64 {
	switch el.id {
	case ElemOriginal:
		return c.LogicalMs / 1000
	case ElemSpeech:
		return c.data.Timeline.OriginalToSpeech(c.LogicalMs) / 1000
	case ElemMix:
		return c.LogicalMs/1000 + c.combinedOffset()
	default:
		return frames.RecordingToVideoSeconds(c.LogicalMs/1000, el.duration, c.data.Samples)
	}
}

func (c *Controller) combinedOffset() float64 {
	off := c.offsetSec
	if c.data.Alignment != nil {
		off += c.data.Alignment.AudioOffsetSeconds
	}
	return off
}

// primaryID is the single element whose clock drives the surface.
func (c *Controller) primaryID() string {
	if c.ActiveClip >= 0 {
		return ClipElem(c.ActiveClip)
	}
	return c.sessionPrimaryID()
}

func (c *Controller) sessionPrimaryID() string {
	if c.Mode == ModeSpeechOnly {
		return ElemSpeech
	}
	return ElemOriginal
}

// playsNow reports whether the element should be rolling while Playing.
// At most one audio and one video element qualify at any time.
func (c *Controller) playsNow(el *element) bool {
	if c.ActiveClip >= 0 {
		return el.id == ElemMix || el.id == ClipElem(c.ActiveClip)
	}
	return el.id == c.sessionPrimaryID()
}

// participates reports whether seeks retarget the element. The inactive
// session track is cued too, so mode toggles stay seamless.
func (c *Controller) participates(el *element) bool {
	if c.ActiveClip >= 0 {
		return el.id == ElemMix || el.id == ClipElem(c.ActiveClip)
	}
	return el.id == ElemOriginal || el.id == ElemSpeech
}

func (c *Controller) boundsMs() (float64, float64) {
	if c.ActiveClip >= 0 && c.ActiveClip < len(c.data.Clips) {
		cl := c.data.Clips[c.ActiveClip]
		return cl.StartSeconds * 1000, cl.EndSeconds * 1000
	}
	return 0, c.endBoundaryMs()
}

func (c *Controller) endBoundaryMs() float64 {
	if c.ActiveClip >= 0 && c.ActiveClip < len(c.data.Clips) {
		return c.data.Clips[c.ActiveClip].EndSeconds * 1000
	}
	if c.data.DurationMs > 0 {
		return c.data.DurationMs
	}
	if c.data.Timeline != nil {
		return c.data.Timeline.TotalOriginalMs
	}
	return 0
}

func (c *Controller) endLocked() {
	c.pauseAllLocked()
	c.State = Ended
	goapp.Log.Info().Float64("ms", c.LogicalMs).Msg("Playback ended")
	c.pushState()
}

func (c *Controller) pauseAllLocked() {
	for _, el := range c.elems {
		if el.playing {
			c.emitPause(el)
		}
	}
}

func (c *Controller) allReady() bool {
	if len(c.elems) == 0 {
		return false
	}
	for _, el := range c.elems {
		if !el.ready {
			if _, bad := c.errors[el.id]; !bad {
				return false
			}
		}
	}
	return true
}

// setTime seeks a ready element now or queues the seek until metadata
// arrives. Queued seeks die with their epoch.
func (c *Controller) setTime(el *element, seconds float64) {
	if el == nil {
		return
	}
	if !el.ready {
		el.pending = c.epoch
		return
	}
	c.emitSetTime(el, seconds)
}

func (c *Controller) emitSetTime(el *element, seconds float64) {
	el.current = seconds
	el.seeking = true
	c.write(&api.PlayerMessage{Event: api.EventSetTime, Element: el.id, Seconds: seconds, Epoch: c.epoch})
}

func (c *Controller) emitPlay(el *element) {
	el.playing = true
	c.write(&api.PlayerMessage{Event: api.EventElementPlay, Element: el.id, Epoch: c.epoch})
}

func (c *Controller) emitPause(el *element) {
	el.playing = false
	c.write(&api.PlayerMessage{Event: api.EventElementPause, Element: el.id, Epoch: c.epoch})
}

func (c *Controller) staleLocked(epoch uint64) bool {
	if epoch == c.epoch {
		return false
	}
	goapp.Log.Debug().Uint64("got", epoch).Uint64("want", c.epoch).Msg("Dropping stale signal")
	return true
}

func (c *Controller) playerStateLocked() *api.PlayerState {
	st := &api.PlayerState{State: c.State.String(), Mode: string(c.Mode), ActiveClip: c.ActiveClip,
		LogicalMs: c.LogicalMs, Playing: c.State == Playing, Epoch: c.epoch}
	if len(c.errors) > 0 {
		st.Errors = make(map[string]string, len(c.errors))
		for k, v := range c.errors {
			st.Errors[k] = v
		}
	}
	return st
}

func (c *Controller) pushState() {
	msg := &api.PlayerMessage{Event: api.EventState, Epoch: c.epoch, State: c.playerStateLocked()}
	if i := transcript.Active(c.data.Lines, c.LogicalMs); i >= 0 {
		msg.Line = &c.data.Lines[i]
	}
	c.write(msg)
}

func (c *Controller) write(msg *api.PlayerMessage) {
	if c.writeFunc == nil {
		return
	}
	if err := c.writeFunc(msg); err != nil {
		goapp.Log.Error().Err(err).Str("event", msg.Event).Msg("Can't send player event")
	}
}

func clampMs(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if hi > lo && v > hi {
		return hi
	}
	return v
}
