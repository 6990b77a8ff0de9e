// Package tts synthesizes reply sentences through ElevenLabs. Audio comes
// back as raw 24kHz PCM16 and is downsampled to the carrier rate by the
// dialogue engine.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultBaseURL = "https://api.elevenlabs.io/v1"

type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	BaseURL string
	Retries int
}

// Client is a per-session ElevenLabs synthesizer.
type Client struct {
	httpc *http.Client
	cfg   Config
	log   *logrus.Entry
}

func NewClient(cfg Config, log *logrus.Entry) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	return &Client{httpc: &http.Client{}, cfg: cfg, log: log}
}

// Synthesize returns raw 24kHz 16-bit PCM for one sentence.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(time.Duration(attempt) * 500 * time.Millisecond)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}
		pcm, retryable, err := c.synthesizeOnce(ctx, text)
		if err == nil {
			return pcm, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.log.WithError(err).WithField("attempt", attempt).Warn("tts request failed")
	}
	return nil, lastErr
}

func (c *Client) synthesizeOnce(ctx context.Context, text string) ([]byte, bool, error) {
	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=pcm_24000", c.cfg.BaseURL, c.cfg.VoiceID)
	body, _ := json.Marshal(map[string]any{
		"text":     text,
		"model_id": c.cfg.ModelID,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("tts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		retryable := resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("tts: status=%d body=%s", resp.StatusCode, string(b))
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("tts: read audio: %w", err)
	}
	metricLatencyMS.Observe(float64(time.Since(start).Milliseconds()))
	metricAudioBytes.Add(float64(len(pcm)))
	return pcm, false, nil
}
