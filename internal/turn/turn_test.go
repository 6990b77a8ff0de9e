package turn

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestGatedWhileBotSpeaking(t *testing.T) {
	c := NewController(1.5, 6, 5, testLog())
	if c.Gated() {
		t.Fatal("fresh controller should not be gated")
	}
	c.BotStarted()
	if !c.Gated() || !c.BotSpeaking() {
		t.Fatal("should be gated while bot speaks")
	}
}

func TestCooldownCountdown(t *testing.T) {
	c := NewController(1.5, 6, 3, testLog())
	c.BotStarted()
	c.BotFinished()
	if c.BotSpeaking() {
		t.Fatal("bot should not be speaking after finish")
	}
	for i := 0; i < 3; i++ {
		if !c.Gated() {
			t.Fatalf("should stay gated through cooldown frame %d", i)
		}
		c.Advance()
	}
	if c.Gated() {
		t.Fatal("gate should lift after cooldown frames elapse")
	}
}

func TestAdvanceDoesNotDrainDuringBotSpeech(t *testing.T) {
	c := NewController(1.5, 6, 3, testLog())
	c.BotStarted()
	for i := 0; i < 10; i++ {
		c.Advance()
	}
	c.BotFinished()
	if !c.Gated() {
		t.Fatal("cooldown must start only after bot finishes")
	}
}

func TestBargeInRequiresSustainedLoudVoice(t *testing.T) {
	c := NewController(1.5, 3, 5, testLog())
	c.BotStarted()

	// Normal-threshold voice (self-echo range) never triggers.
	for i := 0; i < 10; i++ {
		if c.ObserveVoice(1200, 1000) {
			t.Fatal("voice below barge threshold must not trigger")
		}
	}

	// Loud but interrupted voice resets the counter.
	c.ObserveVoice(2000, 1000)
	c.ObserveVoice(2000, 1000)
	c.ObserveVoice(500, 1000)
	if c.ObserveVoice(2000, 1000) {
		t.Fatal("barge counter should have reset on the quiet frame")
	}
}

func TestBargeInFiresAndClearsGate(t *testing.T) {
	c := NewController(1.5, 3, 5, testLog())
	fired := false
	c.SetBargeInHandler(func() { fired = true })
	c.BotStarted()

	triggered := false
	for i := 0; i < 3; i++ {
		triggered = c.ObserveVoice(3000, 1000)
	}
	if !triggered || !fired {
		t.Fatal("sustained loud voice should confirm barge-in")
	}
	if c.Gated() {
		t.Fatal("gate must clear on barge-in so a fresh utterance window opens")
	}
}

func TestBargeInDuringCooldown(t *testing.T) {
	c := NewController(1.5, 2, 5, testLog())
	c.BotStarted()
	c.BotFinished()
	if !c.Gated() {
		t.Fatal("expected cooldown gate")
	}
	c.ObserveVoice(3000, 1000)
	if !c.ObserveVoice(3000, 1000) {
		t.Fatal("barge-in must also fire during the cooldown window")
	}
	if c.Gated() {
		t.Fatal("cooldown must reset to zero on barge-in")
	}
}
