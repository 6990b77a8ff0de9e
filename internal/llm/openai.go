// Package llm streams conversation replies from the OpenAI chat completions
// API. Replies are consumed as text deltas by the sentence segmenter so
// synthesis can start before the model finishes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
)

// Turn is one prior exchange entry in the rolling history.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	SystemPrompt string
}

// Client is a per-session completer.
type Client struct {
	client oai.Client
	cfg    Config
	log    *logrus.Entry
}

func NewClient(cfg Config, log *logrus.Entry) *Client {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{client: oai.NewClient(opts...), cfg: cfg, log: log}
}

// Stream sends the user text with the rolling history and returns a channel
// of reply deltas. The delta channel closes when the reply completes or ctx
// is cancelled; errs (buffered) carries at most one terminal error.
func (c *Client) Stream(ctx context.Context, history []Turn, userText string) (<-chan string, <-chan error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if c.cfg.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(c.cfg.SystemPrompt))
	}
	for _, t := range history {
		switch t.Role {
		case "assistant":
			msgs = append(msgs, oai.AssistantMessage(t.Content))
		default:
			msgs = append(msgs, oai.UserMessage(t.Content))
		}
	}
	msgs = append(msgs, oai.UserMessage(userText))

	deltas := make(chan string, 32)
	errs := make(chan error, 1)

	stream := c.client.Chat.Completions.NewStreaming(ctx, oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(c.cfg.Model),
		Messages: msgs,
	})

	go func() {
		defer close(deltas)
		defer stream.Close()
		start := time.Now()
		first := true
	read:
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if first {
				metricFirstTokenMS.Observe(float64(time.Since(start).Milliseconds()))
				first = false
			}
			select {
			case deltas <- content:
			case <-ctx.Done():
				break read
			}
		}
		// Deadline expiry is a terminal error the caller must hear about;
		// only a plain cancel (barge-in, call close) is silent.
		err := stream.Err()
		if err == nil {
			err = ctx.Err()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			metricErrors.Inc()
			errs <- fmt.Errorf("llm: stream: %w", err)
		}
	}()

	return deltas, errs
}
