// Package stt transcribes finalized utterances through Deepgram's
// prerecorded endpoint. Each call session owns its own Client; nothing in
// here is shared across calls.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dajeong/bridge/internal/audio"
)

// ErrEmptyTranscript marks a successful request that recognized nothing
// usable. The utterance is dropped without a reply.
var ErrEmptyTranscript = errors.New("stt: empty transcript")

// TransientError wraps failures worth retrying: network errors, 5xx, 429.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "stt: transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable STT failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	Retries       int
	MinConfidence float64
}

// Client posts linear16 8kHz PCM and returns the top transcript.
type Client struct {
	httpc *http.Client
	cfg   Config
	log   *logrus.Entry

	fails   []time.Time
	circuit time.Time
}

func NewClient(cfg Config, log *logrus.Entry) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepgram.com/v1/listen"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Client{
		httpc: &http.Client{},
		cfg:   cfg,
		log:   log,
	}
}

// Transcribe submits one utterance. The caller bounds the total time through
// ctx; retries with backoff stay inside that budget.
func (c *Client) Transcribe(ctx context.Context, pcm []byte, language string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			metricRetries.Inc()
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			t := time.NewTimer(backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			}
		}
		text, err := c.transcribeOnce(ctx, pcm, language)
		if err == nil {
			c.fails = nil
			return text, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return "", err
		}
		c.addFailure()
		c.log.WithError(err).WithField("attempt", attempt).Warn("stt request failed")
	}
	return "", lastErr
}

func (c *Client) transcribeOnce(ctx context.Context, pcm []byte, language string) (string, error) {
	if time.Now().Before(c.circuit) {
		return "", &TransientError{Err: errors.New("circuit open")}
	}

	q := url.Values{}
	q.Set("model", c.cfg.Model)
	q.Set("language", shortLanguage(language))
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", audio.SampleRate))
	q.Set("channels", "1")
	q.Set("smart_format", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"?"+q.Encode(), bytes.NewReader(pcm))
	if err != nil {
		return "", fmt.Errorf("stt: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "audio/raw")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &TransientError{Err: err}
	}
	defer resp.Body.Close()
	metricLatencyMS.Observe(float64(time.Since(start).Milliseconds()))

	switch {
	case resp.StatusCode/100 == 2:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", &TransientError{Err: fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))}
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("stt: status=%d body=%s", resp.StatusCode, string(b))
	}

	var parsed struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string  `json:"transcript"`
					Confidence float64 `json:"confidence"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", ErrEmptyTranscript
	}
	alt := parsed.Results.Channels[0].Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	if c.cfg.MinConfidence > 0 && alt.Confidence > 0 && alt.Confidence < c.cfg.MinConfidence {
		c.log.WithFields(logrus.Fields{"confidence": alt.Confidence, "text": text}).
			Debug("transcript below confidence floor")
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// addFailure records a failure; three inside 60s opens the circuit for 30s.
func (c *Client) addFailure() {
	now := time.Now()
	c.fails = append(c.fails, now)
	cutoff := now.Add(-60 * time.Second)
	j := 0
	for _, t := range c.fails {
		if t.After(cutoff) {
			c.fails[j] = t
			j++
		}
	}
	c.fails = c.fails[:j]
	if len(c.fails) >= 3 {
		c.circuit = now.Add(30 * time.Second)
		metricCircuitOpens.Inc()
	}
}

// shortLanguage maps a BCP-47 tag to Deepgram's language code ("ko-KR"→"ko",
// multi-region tags like "en-US" pass through).
func shortLanguage(tag string) string {
	switch strings.ToLower(tag) {
	case "", "ko", "ko-kr":
		return "ko"
	case "ja", "ja-jp":
		return "ja"
	default:
		return tag
	}
}
