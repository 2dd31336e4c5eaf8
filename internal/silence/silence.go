package silence

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/session-replay-server/internal/timeline"
	"github.com/airenas/session-replay-server/internal/utils"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Params tunes the energy voice activity detector.
type Params struct {
	FrameMs       int
	MinSpeechMs   int
	MinSilenceMs  int
	PadMs         int
	EnergyFloor   float64
	ZCRLow        float64
	ZCRHigh       float64
	ConsecutiveOn int
	HangoverOff   int
}

func DefaultParams() Params {
	return Params{FrameMs: 20, MinSpeechMs: 150, MinSilenceMs: 220, PadMs: 60,
		EnergyFloor: 0.0020, ZCRLow: 0.02, ZCRHigh: 0.25, ConsecutiveOn: 3, HangoverOff: 2}
}

// Result summarizes one speech-only conversion.
type Result struct {
	InputPath       string `json:"input_path"`
	OutputAudioPath string `json:"output_audio_path"`
	SilenceMapPath  string `json:"silence_map_path"`
	SampleRate      int    `json:"sample_rate"`
	ChannelsIn      int    `json:"channels_in"`
	DurationMs      int    `json:"duration_ms"`
	SpeechMs        int    `json:"speech_ms"`
	RemovedMs       int    `json:"removed_ms"`
	SegmentCount    int    `json:"segment_count"`
}

// Outputs derives the speech-only WAV and silence map paths for an input WAV.
func Outputs(inputWav string) (string, string) {
	base := strings.TrimSuffix(inputWav, filepath.Ext(inputWav))
	return base + "-silenced.wav", base + "-silence_map.tsv"
}

// Build reads a 16-bit PCM WAV, detects speech, writes the concatenated
// speech-only mono WAV and the silence map TSV. The map holds the removed
// spans in original time, so the timeline can re-expand positions losslessly.
func Build(inputWav, outputWav, mapTSV string, p Params) (*Result, error) {
	defer utils.MeasureTime("speech_silence", time.Now())
	if outputWav == "" || mapTSV == "" {
		autoAudio, autoMap := Outputs(inputWav)
		if outputWav == "" {
			outputWav = autoAudio
		}
		if mapTSV == "" {
			mapTSV = autoMap
		}
	}
	samples, sr, chIn, err := readWavMono(inputWav)
	if err != nil {
		return nil, err
	}
	samples = dcBlock(samples, 0.995)
	totalMs := math.Round(float64(len(samples)) * 1000 / float64(sr))

	mask := speechMask(samples, sr, p)
	segs := spansFromMask(mask, float64(p.FrameMs))
	segs = mergeClose(segs, float64(p.MinSilenceMs))
	segs = dropShort(segs, float64(p.MinSpeechMs))
	segs = padAndClip(segs, float64(p.PadMs), totalMs)
	silences := complement(segs, totalMs)

	if err := writeSpeechWav(outputWav, samples, sr, segs); err != nil {
		return nil, err
	}
	mf, err := os.Create(mapTSV)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", mapTSV, err)
	}
	defer mf.Close()
	if err := timeline.WriteSilenceMap(mf, silences); err != nil {
		return nil, fmt.Errorf("write %s: %w", mapTSV, err)
	}

	res := &Result{InputPath: inputWav, OutputAudioPath: outputWav, SilenceMapPath: mapTSV,
		SampleRate: sr, ChannelsIn: chIn, DurationMs: int(totalMs),
		SpeechMs: int(sumMs(segs)), RemovedMs: int(sumMs(silences)), SegmentCount: len(segs)}
	goapp.Log.Info().Str("audio", res.OutputAudioPath).Str("map", res.SilenceMapPath).
		Float64("total_s", float64(res.DurationMs)/1000).Float64("speech_s", float64(res.SpeechMs)/1000).
		Float64("removed_s", float64(res.RemovedMs)/1000).Int("segments", res.SegmentCount).
		Msg("Speech-only created")
	return res, nil
}

// SpeechSpans runs only the detector and returns the kept speech spans.
func SpeechSpans(samples []float64, sr int, p Params) []timeline.Span {
	samples = dcBlock(samples, 0.995)
	totalMs := math.Round(float64(len(samples)) * 1000 / float64(sr))
	mask := speechMask(samples, sr, p)
	segs := spansFromMask(mask, float64(p.FrameMs))
	segs = mergeClose(segs, float64(p.MinSilenceMs))
	segs = dropShort(segs, float64(p.MinSpeechMs))
	return padAndClip(segs, float64(p.PadMs), totalMs)
}

func readWavMono(path string) ([]float64, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read wav %s: %w", path, err)
	}
	if dec.BitDepth != 16 {
		return nil, 0, 0, fmt.Errorf("only 16-bit PCM WAV supported: got %d bits", dec.BitDepth)
	}
	ch := int(dec.NumChans)
	if ch < 1 {
		ch = 1
	}
	res := make([]float64, 0, len(buf.Data)/ch)
	for i := 0; i+ch <= len(buf.Data); i += ch {
		sum := 0
		for j := 0; j < ch; j++ {
			sum += buf.Data[i+j]
		}
		res = append(res, float64(sum/ch)/32768.0)
	}
	return res, int(dec.SampleRate), ch, nil
}

func writeSpeechWav(path string, samples []float64, sr int, segs []timeline.Span) error {
	var pcm []int
	for _, s := range segs {
		a := int(s.StartMs * float64(sr) / 1000)
		b := int(s.EndMs * float64(sr) / 1000)
		if a < 0 {
			a = 0
		}
		if b > len(samples) {
			b = len(samples)
		}
		for _, v := range samples[a:b] {
			pcm = append(pcm, clipInt16(v))
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	enc := wav.NewEncoder(f, sr, 16, 1, 1)
	ibuf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: sr},
		Data: pcm, SourceBitDepth: 16}
	if err := enc.Write(ibuf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}

// WavDurationMs reads only the WAV header chain and returns the duration.
func WavDurationMs(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	d, err := wav.NewDecoder(f).Duration()
	if err != nil {
		return 0, fmt.Errorf("wav duration %s: %w", path, err)
	}
	return float64(d) / float64(time.Millisecond), nil
}

func clipInt16(v float64) int {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int(v * 32767)
}

// dcBlock is a one-pole high-pass removing DC offset and rumble.
func dcBlock(x []float64, r float64) []float64 {
	if len(x) == 0 {
		return x
	}
	y := make([]float64, len(x))
	prevX, prevY := 0.0, 0.0
	for i, cur := range x {
		yi := cur - prevX + r*prevY
		y[i] = yi
		prevY = yi
		prevX = cur
	}
	return y
}

// speechMask marks speech frames using RMS energy with a robust threshold
// and a zero-crossing-rate gate, then applies on/off hysteresis.
func speechMask(x []float64, sr int, p Params) []bool {
	frameLen := sr * p.FrameMs / 1000
	if frameLen <= 0 {
		return nil
	}
	n := len(x) / frameLen
	if n == 0 {
		return nil
	}
	rms := make([]float64, n)
	zcr := make([]float64, n)
	for i := 0; i < n; i++ {
		fr := x[i*frameLen : (i+1)*frameLen]
		rms[i] = rmsOf(fr)
		zcr[i] = zcrOf(fr)
	}
	med := median(rms)
	dev := make([]float64, n)
	for i, v := range rms {
		dev[i] = math.Abs(v - med)
	}
	thr := math.Max(p.EnergyFloor, med+1.5*median(dev))

	pre := make([]bool, n)
	for i := 0; i < n; i++ {
		pre[i] = rms[i] > thr*1.2 && zcr[i] >= p.ZCRLow && zcr[i] <= p.ZCRHigh
	}
	return hysteresis(pre, p.ConsecutiveOn, p.HangoverOff)
}

func rmsOf(frame []float64) float64 {
	sum := 0.0
	for _, v := range frame {
		sum += v * v
	}
	return math.Sqrt(sum/float64(len(frame)) + 1e-12)
}

// zcrOf counts sign changes, zeros count as positive to avoid fake crossings.
func zcrOf(frame []float64) float64 {
	if len(frame) < 2 {
		return 0
	}
	changes := 0
	prev := sign(frame[0])
	for _, v := range frame[1:] {
		s := sign(v)
		if s*prev < 0 {
			changes++
		}
		prev = s
	}
	return float64(changes) / float64(len(frame)-1)
}

func sign(v float64) int {
	if v < 0 {
		return -1
	}
	return 1
}

func hysteresis(pre []bool, on, off int) []bool {
	mask := make([]bool, len(pre))
	onCount, offCount := 0, 0
	inSpeech := false
	for i, v := range pre {
		if v {
			onCount++
			offCount = 0
		} else {
			offCount++
			onCount = 0
		}
		if !inSpeech && onCount >= on {
			inSpeech = true
		}
		if inSpeech {
			mask[i] = true
			if offCount > off {
				inSpeech = false
				onCount = 0
				offCount = 0
			}
		}
	}
	return mask
}

func spansFromMask(mask []bool, frameMs float64) []timeline.Span {
	var res []timeline.Span
	for i := 0; i < len(mask); {
		if !mask[i] {
			i++
			continue
		}
		start := i
		for i < len(mask) && mask[i] {
			i++
		}
		res = append(res, timeline.Span{StartMs: float64(start) * frameMs, EndMs: float64(i) * frameMs})
	}
	return res
}

func mergeClose(spans []timeline.Span, maxGapMs float64) []timeline.Span {
	if len(spans) == 0 {
		return nil
	}
	res := []timeline.Span{spans[0]}
	for _, s := range spans[1:] {
		last := &res[len(res)-1]
		if s.StartMs-last.EndMs <= maxGapMs {
			if s.EndMs > last.EndMs {
				last.EndMs = s.EndMs
			}
		} else {
			res = append(res, s)
		}
	}
	return res
}

func dropShort(spans []timeline.Span, minMs float64) []timeline.Span {
	var res []timeline.Span
	for _, s := range spans {
		if s.EndMs-s.StartMs >= minMs {
			res = append(res, s)
		}
	}
	return res
}

func padAndClip(spans []timeline.Span, padMs, totalMs float64) []timeline.Span {
	if len(spans) == 0 {
		return nil
	}
	padded := make([]timeline.Span, 0, len(spans))
	for _, s := range spans {
		padded = append(padded, timeline.Span{StartMs: math.Max(0, s.StartMs-padMs),
			EndMs: math.Min(totalMs, s.EndMs+padMs)})
	}
	sort.Slice(padded, func(i, j int) bool { return padded[i].StartMs < padded[j].StartMs })
	return mergeClose(padded, 0)
}

func complement(spans []timeline.Span, totalMs float64) []timeline.Span {
	var res []timeline.Span
	cur := 0.0
	for _, s := range spans {
		if s.StartMs > cur {
			res = append(res, timeline.Span{StartMs: cur, EndMs: s.StartMs, DurationMs: s.StartMs - cur})
		}
		if s.EndMs > cur {
			cur = s.EndMs
		}
	}
	if cur < totalMs {
		res = append(res, timeline.Span{StartMs: cur, EndMs: totalMs, DurationMs: totalMs - cur})
	}
	return res
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func sumMs(spans []timeline.Span) float64 {
	res := 0.0
	for _, s := range spans {
		if d := s.EndMs - s.StartMs; d > 0 {
			res += d
		}
	}
	return res
}
