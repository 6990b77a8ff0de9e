// Package turn owns the speaking-floor state of one call: who holds the
// floor, the echo-guard window after the bot finishes, and barge-in
// detection while the bot is talking.
package turn

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Controller gates the VAD while the bot speaks and for a cooldown window
// afterwards. Voice classification keeps running while gated, but only
// sustained energy well above the normal threshold counts as barge-in;
// anything quieter is treated as self-echo.
type Controller struct {
	log           *logrus.Entry
	bargeFactor   float64
	bargeConfirm  int
	cooldownTotal int

	mu          sync.Mutex
	botSpeaking bool
	cooldown    int
	consecBarge int
	lastBotEnd  time.Time
	onBargeIn   func()
}

func NewController(bargeFactor float64, bargeConfirm, cooldownFrames int, log *logrus.Entry) *Controller {
	if bargeFactor <= 1 {
		bargeFactor = 1.5
	}
	if bargeConfirm < 1 {
		bargeConfirm = 1
	}
	return &Controller{
		log:           log,
		bargeFactor:   bargeFactor,
		bargeConfirm:  bargeConfirm,
		cooldownTotal: cooldownFrames,
	}
}

// SetBargeInHandler registers the callback fired when barge-in is confirmed.
// The handler runs on the ingress goroutine; it must not block.
func (c *Controller) SetBargeInHandler(fn func()) {
	c.mu.Lock()
	c.onBargeIn = fn
	c.mu.Unlock()
}

// BotStarted marks the bot as holding the floor.
func (c *Controller) BotStarted() {
	c.mu.Lock()
	c.botSpeaking = true
	c.cooldown = 0
	c.consecBarge = 0
	c.mu.Unlock()
}

// BotFinished releases the floor and opens the post-speech cooldown window.
func (c *Controller) BotFinished() {
	c.mu.Lock()
	if c.botSpeaking {
		c.botSpeaking = false
		c.cooldown = c.cooldownTotal
		c.lastBotEnd = time.Now()
	}
	c.mu.Unlock()
}

// Advance counts down the cooldown window. Called once per ordered frame.
func (c *Controller) Advance() {
	c.mu.Lock()
	if !c.botSpeaking && c.cooldown > 0 {
		c.cooldown--
	}
	c.mu.Unlock()
}

// Gated reports whether normal utterance emission is suppressed.
func (c *Controller) Gated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botSpeaking || c.cooldown > 0
}

// BotSpeaking reports whether the bot currently holds the floor.
func (c *Controller) BotSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botSpeaking
}

// LastBotEnd returns the instant the bot last finished speaking.
func (c *Controller) LastBotEnd() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBotEnd
}

// ObserveVoice feeds one gated frame's RMS against the current dynamic
// threshold. Returns true when barge-in is confirmed; the controller then
// clears the gate so the caller can open a fresh utterance window.
func (c *Controller) ObserveVoice(rms, threshold float64) bool {
	c.mu.Lock()
	metricGatedFrames.Inc()
	if rms > threshold*c.bargeFactor {
		c.consecBarge++
	} else {
		c.consecBarge = 0
	}
	if c.consecBarge < c.bargeConfirm {
		c.mu.Unlock()
		return false
	}
	c.consecBarge = 0
	c.botSpeaking = false
	c.cooldown = 0
	fn := c.onBargeIn
	c.mu.Unlock()

	metricBargeIns.Inc()
	c.log.WithFields(logrus.Fields{"rms": rms, "threshold": threshold}).Info("barge-in confirmed")
	if fn != nil {
		fn()
	}
	return true
}

// Reset clears all floor state. Used when a session ends.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.botSpeaking = false
	c.cooldown = 0
	c.consecBarge = 0
	c.mu.Unlock()
}
