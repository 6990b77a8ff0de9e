// Package health probes the external services a call depends on. Wired to
// /healthz so operators can tell a misconfigured key from a dead vendor
// before a caller does.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/streadway/amqp"

	"dajeong/bridge/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type Status struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (s Status) String() string {
	status := "OK"
	if !s.OK {
		status = "FAIL"
	}
	out := fmt.Sprintf("Health: %s\n", status)
	for _, c := range s.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		out += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			out += fmt.Sprintf(" - %s", c.Error)
		}
		out += "\n"
	}
	return out
}

// CheckAll probes every configured dependency. The AMQP check is skipped
// when no broker is configured; the sink falls back to logging then.
func CheckAll(ctx context.Context, cfg config.Config) Status {
	checks := []CheckResult{
		checkDeepgram(ctx, cfg),
		checkOpenAI(ctx, cfg),
		checkElevenLabs(ctx, cfg),
	}
	if cfg.Sink.AMQPURL != "" {
		checks = append(checks, checkAMQP(cfg))
	}

	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}
	return Status{OK: allOK, Checks: checks, CheckedAt: time.Now().UTC()}
}

func checkDeepgram(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "deepgram"}

	if cfg.Deepgram.APIKey == "" {
		result.Error = "DEEPGRAM_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}

	base := cfg.Deepgram.BaseURL
	if base == "" {
		base = "https://api.deepgram.com"
	}
	req, err := http.NewRequestWithContext(ctx, "GET", base+"/v1/auth/token", nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("Authorization", "Token "+cfg.Deepgram.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()
	result.Latency = time.Since(start)

	if resp.StatusCode == 401 {
		result.Error = "invalid API key (401)"
		return result
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}
	result.OK = true
	return result
}

func checkOpenAI(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "openai"}

	if cfg.OpenAI.APIKey == "" {
		result.Error = "OPENAI_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}

	base := cfg.OpenAI.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, "GET", strings.TrimRight(base, "/")+"/models", nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("Authorization", "Bearer "+cfg.OpenAI.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()
	result.Latency = time.Since(start)

	if resp.StatusCode == 401 {
		result.Error = "invalid API key (401)"
		return result
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}
	result.OK = true
	return result
}

func checkElevenLabs(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "elevenlabs"}

	if cfg.Eleven.APIKey == "" {
		result.Error = "ELEVENLABS_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}
	if cfg.Eleven.VoiceID == "" {
		result.Error = "ELEVENLABS_VOICE_ID not set"
		result.Latency = time.Since(start)
		return result
	}

	base := cfg.Eleven.BaseURL
	if base == "" {
		base = "https://api.elevenlabs.io/v1"
	}
	// Minimal one-character synthesis; works with TTS-only keys that lack
	// user_read permission.
	url := fmt.Sprintf("%s/text-to-speech/%s/stream", strings.TrimRight(base, "/"), cfg.Eleven.VoiceID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(`{"text":"."}`))
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	req.Header.Set("xi-api-key", cfg.Eleven.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()
	result.Latency = time.Since(start)

	if resp.StatusCode == 401 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("invalid API key (401): %s", string(body))
		return result
	}
	if resp.StatusCode == 404 {
		result.Error = fmt.Sprintf("voice ID %q not found", cfg.Eleven.VoiceID)
		return result
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}
	io.Copy(io.Discard, resp.Body)

	result.OK = true
	return result
}

func checkAMQP(cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "amqp"}

	conn, err := amqp.Dial(cfg.Sink.AMQPURL)
	result.Latency = time.Since(start)
	if err != nil {
		result.Error = fmt.Sprintf("dial failed: %v", err)
		return result
	}
	conn.Close()
	result.OK = true
	return result
}
