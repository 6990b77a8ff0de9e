// Package vad classifies ordered 20ms PCM frames as voice or silence using
// an energy threshold calibrated against background noise, and assembles
// contiguous voiced spans into utterances.
package vad

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"dajeong/bridge/internal/audio"
)

// Gate is the echo-guard view the detector consults each frame. While the
// gate is closed, classification still runs for barge-in detection but no
// normal utterance is emitted.
type Gate interface {
	Advance()
	Gated() bool
	ObserveVoice(rms, threshold float64) bool
}

// Config carries the detector tuning. All thresholds are integer RMS values
// over 16-bit PCM samples.
type Config struct {
	WarmupFrames       int
	CalibrationFrames  int
	NoiseMargin        float64
	MinThreshold       float64
	MaxThreshold       float64
	SanityCap          float64
	VoiceConfirmFrames int
	MaxSilenceFrames   int
	MinUtteranceBytes  int
	NoiseHistory       int
	RecalInterval      int
}

// Utterance is a finalized span of user speech.
type Utterance struct {
	PCM   []byte
	Start time.Time
	End   time.Time
}

type phase int

const (
	phaseWarmup phase = iota
	phaseCalibrating
	phaseActive
)

// Detector consumes ordered frames and emits at most one utterance per call
// to Process. Not safe for concurrent use; the ingress reader owns it.
type Detector struct {
	cfg  Config
	log  *logrus.Entry
	gate Gate

	phase      phase
	frameCount int
	calCount   int

	rmsHistory []float64
	histIdx    int
	histFull   bool
	threshold  float64

	utterOpen     bool
	voiceConfirm  int
	silenceFrames int
	pending       []byte
	buf           []byte
	voicedBytes   int
	utterStart    time.Time
	silentRun     int
}

func NewDetector(cfg Config, gate Gate, log *logrus.Entry) *Detector {
	if cfg.NoiseHistory <= 0 {
		cfg.NoiseHistory = 100
	}
	if cfg.VoiceConfirmFrames < 1 {
		cfg.VoiceConfirmFrames = 1
	}
	return &Detector{
		cfg:        cfg,
		log:        log,
		gate:       gate,
		rmsHistory: make([]float64, 0, cfg.NoiseHistory),
		threshold:  cfg.MinThreshold,
	}
}

// Threshold returns the current dynamic silence threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Calibrated reports whether the warm-up and calibration phases are done.
func (d *Detector) Calibrated() bool { return d.phase == phaseActive }

// Process feeds one ordered 20ms PCM frame. It returns a finalized utterance
// when the silence window closes one, else nil.
func (d *Detector) Process(pcm []byte, now time.Time) *Utterance {
	d.gate.Advance()
	d.frameCount++

	if d.phase == phaseWarmup {
		if d.frameCount >= d.cfg.WarmupFrames {
			d.phase = phaseCalibrating
		}
		return nil
	}

	rms := audio.RMS(pcm)
	if d.cfg.SanityCap > 0 && rms > d.cfg.SanityCap {
		metricSanityDiscards.Inc()
		d.log.WithField("rms", rms).Debug("discarding transient above sanity cap")
		return nil
	}

	if d.phase == phaseCalibrating {
		d.pushHistory(rms)
		d.calCount++
		if d.calCount >= d.cfg.CalibrationFrames {
			d.recalibrate()
			d.phase = phaseActive
			metricCalibrations.Inc()
			d.log.WithFields(logrus.Fields{"threshold": d.threshold, "frames": d.calCount}).
				Info("noise calibration complete")
		}
		return nil
	}

	// Tie-break on rms == threshold: silence.
	isVoice := rms > d.threshold

	if d.gate.Gated() {
		if d.gate.ObserveVoice(rms, d.threshold) {
			// Barge-in: the gate just cleared itself; open a fresh window
			// starting at this frame.
			d.resetWindow()
			d.openUtterance(pcm, now)
		}
		return nil
	}

	if isVoice {
		return d.onVoiceFrame(pcm, now)
	}
	return d.onSilenceFrame(pcm, rms, now)
}

// Reset drops any in-progress window but keeps calibration state.
func (d *Detector) Reset() {
	d.resetWindow()
}

func (d *Detector) onVoiceFrame(pcm []byte, now time.Time) *Utterance {
	d.silenceFrames = 0
	d.silentRun = 0
	if d.utterOpen {
		d.append(pcm, true)
		return nil
	}
	d.voiceConfirm++
	d.pending = append(d.pending, pcm...)
	if d.voiceConfirm >= d.cfg.VoiceConfirmFrames {
		metricVoiceStarts.Inc()
		d.utterOpen = true
		d.utterStart = now
		d.buf = d.pending
		d.voicedBytes = len(d.pending)
		d.pending = nil
	}
	return nil
}

func (d *Detector) onSilenceFrame(pcm []byte, rms float64, now time.Time) *Utterance {
	if !d.utterOpen {
		d.voiceConfirm = 0
		d.pending = d.pending[:0]
		d.pushHistory(rms)
		d.silentRun++
		if d.cfg.RecalInterval > 0 && d.silentRun%d.cfg.RecalInterval == 0 {
			d.recalibrate()
		}
		return nil
	}

	d.append(pcm, false)
	d.silenceFrames++
	if d.silenceFrames < d.cfg.MaxSilenceFrames {
		return nil
	}

	if d.voicedBytes < d.cfg.MinUtteranceBytes {
		metricTooShort.Inc()
		d.log.WithField("voiced_bytes", d.voicedBytes).Debug("utterance below minimum length dropped")
		d.resetWindow()
		return nil
	}

	utt := &Utterance{PCM: d.buf, Start: d.utterStart, End: now}
	d.buf = nil
	d.resetWindow()
	metricUtterances.Inc()
	return utt
}

func (d *Detector) openUtterance(pcm []byte, now time.Time) {
	d.utterOpen = true
	d.utterStart = now
	d.buf = append([]byte(nil), pcm...)
	d.voicedBytes = len(pcm)
	d.silenceFrames = 0
}

func (d *Detector) append(pcm []byte, voiced bool) {
	d.buf = append(d.buf, pcm...)
	if voiced {
		d.voicedBytes = len(d.buf)
	}
}

func (d *Detector) resetWindow() {
	d.utterOpen = false
	d.voiceConfirm = 0
	d.silenceFrames = 0
	d.voicedBytes = 0
	d.pending = nil
	d.buf = nil
}

func (d *Detector) pushHistory(rms float64) {
	if len(d.rmsHistory) < d.cfg.NoiseHistory {
		d.rmsHistory = append(d.rmsHistory, rms)
		return
	}
	d.histFull = true
	d.rmsHistory[d.histIdx] = rms
	d.histIdx = (d.histIdx + 1) % d.cfg.NoiseHistory
}

// recalibrate sets threshold = clamp(median(history) + margin, min, max).
func (d *Detector) recalibrate() {
	if len(d.rmsHistory) == 0 {
		return
	}
	sorted := append([]float64(nil), d.rmsHistory...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (median + sorted[len(sorted)/2-1]) / 2
	}
	t := median + d.cfg.NoiseMargin
	if t < d.cfg.MinThreshold {
		t = d.cfg.MinThreshold
	}
	if t > d.cfg.MaxThreshold {
		t = d.cfg.MaxThreshold
	}
	d.threshold = t
	gaugeThreshold.Set(t)
}
