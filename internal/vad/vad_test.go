package vad

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"dajeong/bridge/internal/audio"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// fakeGate is an always-open (or scripted) echo guard.
type fakeGate struct {
	gated    bool
	observed int
	bargeAt  int // fire barge-in on the Nth ObserveVoice call, 0 = never
	advanced int
}

func (g *fakeGate) Advance() { g.advanced++ }
func (g *fakeGate) Gated() bool {
	return g.gated
}
func (g *fakeGate) ObserveVoice(rms, threshold float64) bool {
	g.observed++
	if g.bargeAt > 0 && g.observed >= g.bargeAt {
		g.gated = false
		return true
	}
	return false
}

// pcmFrame builds one 20ms frame of constant amplitude, so RMS == amplitude.
func pcmFrame(amp int16) []byte {
	out := make([]byte, audio.PCMFrameBytes)
	for i := 0; i < audio.FrameSamples; i++ {
		out[2*i] = byte(amp)
		out[2*i+1] = byte(amp >> 8)
	}
	return out
}

func testConfig() Config {
	return Config{
		WarmupFrames:       5,
		CalibrationFrames:  10,
		NoiseMargin:        300,
		MinThreshold:       300,
		MaxThreshold:       2500,
		SanityCap:          10000,
		VoiceConfirmFrames: 3,
		MaxSilenceFrames:   5,
		MinUtteranceBytes:  3 * audio.PCMFrameBytes,
		NoiseHistory:       100,
	}
}

// calibrated returns a detector driven through warm-up and calibration with
// background noise of the given amplitude.
func calibrated(t *testing.T, cfg Config, gate Gate, noise int16) *Detector {
	t.Helper()
	d := NewDetector(cfg, gate, testLog())
	now := time.Now()
	for i := 0; i < cfg.WarmupFrames+cfg.CalibrationFrames; i++ {
		if got := d.Process(pcmFrame(noise), now); got != nil {
			t.Fatal("no utterance may be emitted before calibration completes")
		}
	}
	if !d.Calibrated() {
		t.Fatal("detector should be calibrated")
	}
	return d
}

func TestWarmupDiscardsFrames(t *testing.T) {
	cfg := testConfig()
	d := NewDetector(cfg, &fakeGate{}, testLog())
	now := time.Now()
	// Loud frames during warm-up must not open an utterance or feed calibration.
	for i := 0; i < cfg.WarmupFrames; i++ {
		if d.Process(pcmFrame(8000), now) != nil {
			t.Fatal("warm-up frames must be discarded")
		}
	}
	if d.Calibrated() {
		t.Fatal("calibration should not be done yet")
	}
}

func TestCalibrationSetsThresholdFromMedian(t *testing.T) {
	cfg := testConfig()
	d := calibrated(t, cfg, &fakeGate{}, 200)
	if got := d.Threshold(); got != 500 {
		t.Fatalf("expected threshold 200+300=500, got %f", got)
	}
}

func TestThresholdClampedToBounds(t *testing.T) {
	cfg := testConfig()
	d := calibrated(t, cfg, &fakeGate{}, 0)
	if got := d.Threshold(); got != cfg.MinThreshold {
		t.Fatalf("silent room should clamp to min threshold, got %f", got)
	}

	d = calibrated(t, cfg, &fakeGate{}, 4000)
	if got := d.Threshold(); got != cfg.MaxThreshold {
		t.Fatalf("loud room should clamp to max threshold, got %f", got)
	}
}

func TestUtteranceEmission(t *testing.T) {
	cfg := testConfig()
	d := calibrated(t, cfg, &fakeGate{}, 200)
	now := time.Now()

	for i := 0; i < 10; i++ {
		if d.Process(pcmFrame(3000), now) != nil {
			t.Fatal("utterance must not complete while voice continues")
		}
	}
	var utt *Utterance
	for i := 0; i < cfg.MaxSilenceFrames; i++ {
		utt = d.Process(pcmFrame(100), now.Add(time.Duration(i)*20*time.Millisecond))
	}
	if utt == nil {
		t.Fatal("expected utterance after max-silence window")
	}
	if len(utt.PCM) < cfg.MinUtteranceBytes {
		t.Fatalf("utterance shorter than minimum: %d bytes", len(utt.PCM))
	}
	if !utt.End.After(utt.Start) {
		t.Fatal("utterance end must follow start")
	}

	// Window must be reusable without recalibration.
	for i := 0; i < 10; i++ {
		d.Process(pcmFrame(3000), now)
	}
	utt = nil
	for i := 0; i < cfg.MaxSilenceFrames; i++ {
		utt = d.Process(pcmFrame(100), now)
	}
	if utt == nil {
		t.Fatal("detector should emit again after reset")
	}
}

func TestShortBurstDropped(t *testing.T) {
	cfg := testConfig()
	cfg.MinUtteranceBytes = 8 * audio.PCMFrameBytes
	d := calibrated(t, cfg, &fakeGate{}, 200)
	now := time.Now()

	for i := 0; i < 4; i++ {
		d.Process(pcmFrame(3000), now)
	}
	for i := 0; i < cfg.MaxSilenceFrames; i++ {
		if d.Process(pcmFrame(100), now) != nil {
			t.Fatal("burst below min length must be dropped")
		}
	}
}

func TestUnconfirmedVoiceDoesNotOpen(t *testing.T) {
	cfg := testConfig()
	d := calibrated(t, cfg, &fakeGate{}, 200)
	now := time.Now()

	// Two voice frames, then silence: below the confirm count.
	d.Process(pcmFrame(3000), now)
	d.Process(pcmFrame(3000), now)
	for i := 0; i < cfg.MaxSilenceFrames*2; i++ {
		if d.Process(pcmFrame(100), now) != nil {
			t.Fatal("unconfirmed voice must not produce an utterance")
		}
	}
}

func TestTieBreaksToSilence(t *testing.T) {
	cfg := testConfig()
	d := calibrated(t, cfg, &fakeGate{}, 200)
	now := time.Now()
	amp := int16(d.Threshold())
	for i := 0; i < 20; i++ {
		if d.Process(pcmFrame(amp), now) != nil {
			t.Fatal("RMS equal to threshold must classify as silence")
		}
	}
}

func TestSanityCapDiscard(t *testing.T) {
	cfg := testConfig()
	d := calibrated(t, cfg, &fakeGate{}, 200)
	now := time.Now()
	// A transient above the cap must not count toward voice confirmation.
	for i := 0; i < 10; i++ {
		d.Process(pcmFrame(12000), now)
	}
	for i := 0; i < cfg.MaxSilenceFrames; i++ {
		if d.Process(pcmFrame(100), now) != nil {
			t.Fatal("sanity-capped frames must be discarded")
		}
	}
}

func TestGatedSuppressesUtterance(t *testing.T) {
	cfg := testConfig()
	gate := &fakeGate{}
	d := calibrated(t, cfg, gate, 200)
	gate.gated = true
	now := time.Now()

	for i := 0; i < 10; i++ {
		if d.Process(pcmFrame(3000), now) != nil {
			t.Fatal("gated voice must not emit an utterance")
		}
	}
	if gate.observed == 0 {
		t.Fatal("gated frames must still be observed for barge-in")
	}
}

func TestBargeInOpensFreshWindow(t *testing.T) {
	cfg := testConfig()
	gate := &fakeGate{gated: true, bargeAt: 3}
	d := calibrated(t, cfg, gate, 200)
	now := time.Now()

	for i := 0; i < 3; i++ {
		d.Process(pcmFrame(4000), now)
	}
	// Gate is now open and a window is accumulating; finish the utterance.
	for i := 0; i < 5; i++ {
		d.Process(pcmFrame(4000), now)
	}
	var utt *Utterance
	for i := 0; i < cfg.MaxSilenceFrames; i++ {
		utt = d.Process(pcmFrame(100), now)
	}
	if utt == nil {
		t.Fatal("barge-in should open a window that can complete normally")
	}
}

func TestRecalibrationDuringSustainedSilence(t *testing.T) {
	cfg := testConfig()
	cfg.RecalInterval = 10
	cfg.NoiseHistory = 10
	d := calibrated(t, cfg, &fakeGate{}, 200)
	before := d.Threshold()

	now := time.Now()
	// Background noise rises; sustained silence should pull the threshold up.
	for i := 0; i < 30; i++ {
		d.Process(pcmFrame(400), now)
	}
	after := d.Threshold()
	if after <= before {
		t.Fatalf("threshold should track rising noise floor: before=%f after=%f", before, after)
	}
	if after < cfg.MinThreshold || after > cfg.MaxThreshold {
		t.Fatalf("threshold out of bounds: %f", after)
	}
}
