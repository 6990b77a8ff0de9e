// Package dialogue drives one call's conversation: transcribe the caller's
// utterance, stream a reply from the model, synthesize it sentence by
// sentence, and pace the audio back out to the carrier with a playback mark
// after each sentence.
package dialogue

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dajeong/bridge/internal/audio"
	"dajeong/bridge/internal/llm"
	"dajeong/bridge/internal/marks"
	"dajeong/bridge/internal/stt"
	"dajeong/bridge/internal/transcript"
	"dajeong/bridge/internal/turn"
	"dajeong/bridge/internal/vad"
)

// Transcriber turns utterance PCM into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, language string) (string, error)
}

// Completer streams reply text deltas for a user turn.
type Completer interface {
	Stream(ctx context.Context, history []llm.Turn, userText string) (<-chan string, <-chan error)
}

// Synthesizer turns one sentence into 24kHz PCM16.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Egress writes outbound events onto the carrier stream.
type Egress interface {
	SendMedia(payloadB64 string) error
	SendMark(name string) error
	SendClear() error
}

type Config struct {
	CallID       string
	Language     string
	SentenceMin  int
	SentenceMax  int
	ChunkBytes   int
	ChunkDelay   time.Duration
	HistoryTurns int
	STTTimeout   time.Duration
	LLMTimeout   time.Duration
	TTSTimeout   time.Duration
	MarkTimeout  time.Duration
	Apology      string
}

// Engine runs the utterance→reply pipeline for one session. HandleUtterance
// and Speak are called from the dialogue driver goroutine, one at a time;
// Interrupt may arrive concurrently from the ingress reader.
type Engine struct {
	cfg    Config
	stt    Transcriber
	llm    Completer
	tts    Synthesizer
	egress Egress
	marks  *marks.Registry
	turns  *turn.Controller
	sink   transcript.Sink
	log    *logrus.Entry

	mu        sync.Mutex
	cancel    context.CancelFunc
	history   []llm.Turn
	userTurns int
	botTurns  int
	bargeIns  int
}

func NewEngine(cfg Config, stt Transcriber, llm Completer, tts Synthesizer,
	egress Egress, reg *marks.Registry, turns *turn.Controller,
	sink transcript.Sink, log *logrus.Entry) *Engine {
	if cfg.ChunkBytes < 1 {
		cfg.ChunkBytes = 4000
	}
	return &Engine{
		cfg: cfg, stt: stt, llm: llm, tts: tts,
		egress: egress, marks: reg, turns: turns, sink: sink, log: log,
	}
}

// HandleUtterance runs the full pipeline for one caller utterance. Transient
// upstream failures are absorbed with a spoken apology; only fatal errors
// propagate to the supervisor.
func (e *Engine) HandleUtterance(ctx context.Context, utt vad.Utterance) error {
	metricUtterances.Inc()

	sttCtx, cancel := context.WithTimeout(ctx, e.cfg.STTTimeout)
	text, err := e.stt.Transcribe(sttCtx, utt.PCM, e.cfg.Language)
	cancel()
	if errors.Is(err, stt.ErrEmptyTranscript) {
		metricEmptyTranscripts.Inc()
		return nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		e.log.WithError(err).Warn("transcription failed")
		e.speakApology(ctx)
		if stt.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}

	e.mu.Lock()
	e.userTurns++
	e.mu.Unlock()
	e.publishRow(ctx, transcript.SpeakerUser, text, utt.Start)

	return e.reply(ctx, text)
}

// Speak voices canned text (greeting, apology) outside the LLM path.
func (e *Engine) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	replyCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.setCancel(cancel)
	defer e.clearCancel()

	e.turns.BotStarted()
	seg := NewSegmenter(e.cfg.SentenceMin, e.cfg.SentenceMax)
	sentences := seg.Push(text)
	if t := seg.Flush(); t != "" {
		sentences = append(sentences, t)
	}
	var spoken []string
	for _, s := range sentences {
		if err := e.say(replyCtx, s); err != nil {
			if replyCtx.Err() == nil {
				e.log.WithError(err).Warn("canned speech failed")
			}
			break
		}
		spoken = append(spoken, s)
	}
	if replyCtx.Err() == nil {
		e.turns.BotFinished()
	}
	if len(spoken) > 0 {
		e.recordBotTurn(ctx, strings.Join(spoken, " "), false)
	}
	return nil
}

// Interrupt aborts the in-flight reply. Called on confirmed barge-in: stop
// producing chunks, tell the carrier to drop its queued audio, and release
// every pending mark waiter.
func (e *Engine) Interrupt() {
	e.mu.Lock()
	cancel := e.cancel
	e.bargeIns++
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := e.egress.SendClear(); err != nil {
		e.log.WithError(err).Warn("clear after barge-in failed")
	}
	e.marks.CancelAll()
	metricInterrupts.Inc()
}

// Stats returns turn counts for the call summary.
func (e *Engine) Stats() (userTurns, botTurns, bargeIns int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userTurns, e.botTurns, e.bargeIns
}

func (e *Engine) reply(ctx context.Context, userText string) error {
	replyCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.setCancel(cancel)
	defer e.clearCancel()

	e.turns.BotStarted()

	llmCtx, llmCancel := context.WithTimeout(replyCtx, e.cfg.LLMTimeout)
	defer llmCancel()
	deltas, errs := e.llm.Stream(llmCtx, e.snapshotHistory(), userText)

	seg := NewSegmenter(e.cfg.SentenceMin, e.cfg.SentenceMax)
	var spoken []string
	var sayErr error

stream:
	for delta := range deltas {
		for _, s := range seg.Push(delta) {
			if sayErr = e.say(replyCtx, s); sayErr != nil {
				llmCancel()
				break stream
			}
			spoken = append(spoken, s)
		}
	}
	if sayErr == nil && replyCtx.Err() == nil {
		if t := seg.Flush(); t != "" {
			if sayErr = e.say(replyCtx, t); sayErr == nil {
				spoken = append(spoken, t)
			}
		}
	}

	var llmErr error
	select {
	case llmErr = <-errs:
	default:
	}

	interrupted := replyCtx.Err() != nil && ctx.Err() == nil
	if !interrupted && replyCtx.Err() == nil {
		e.turns.BotFinished()
	}

	if len(spoken) > 0 {
		reply := strings.Join(spoken, " ")
		e.appendHistory(userText, reply)
		e.recordBotTurn(ctx, reply, true)
		metricReplies.Inc()
	}

	if interrupted {
		return nil
	}
	if llmErr != nil {
		e.log.WithError(llmErr).Warn("completion stream failed")
		e.speakApology(ctx)
		return nil
	}
	if sayErr != nil && !errors.Is(sayErr, context.Canceled) {
		e.log.WithError(sayErr).Warn("reply synthesis failed")
		e.speakApology(ctx)
	}
	return nil
}

// say synthesizes one sentence, paces its μ-law chunks onto the stream, and
// waits for the carrier to confirm playback via the trailing mark. A mark
// timeout is logged and treated as played.
func (e *Engine) say(ctx context.Context, sentence string) error {
	ttsCtx, cancel := context.WithTimeout(ctx, e.cfg.TTSTimeout)
	pcm24, err := e.tts.Synthesize(ttsCtx, sentence)
	cancel()
	if err != nil {
		return err
	}

	ulaw := audio.EncodeMuLaw(audio.Downsample24kTo8k(pcm24))
	for off := 0; off < len(ulaw); off += e.cfg.ChunkBytes {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + e.cfg.ChunkBytes
		if end > len(ulaw) {
			end = len(ulaw)
		}
		if err := e.egress.SendMedia(base64.StdEncoding.EncodeToString(ulaw[off:end])); err != nil {
			return err
		}
		metricChunksOut.Inc()
		if e.cfg.ChunkDelay > 0 {
			select {
			case <-time.After(e.cfg.ChunkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	name := "m-" + uuid.NewString()
	ch := e.marks.Register(name)
	if err := e.egress.SendMark(name); err != nil {
		return err
	}
	res := e.marks.Await(ctx, name, ch, e.cfg.MarkTimeout)
	metricMarkResults.WithLabelValues(res.String()).Inc()
	return ctx.Err()
}

func (e *Engine) speakApology(ctx context.Context) {
	metricApologies.Inc()
	if err := e.Speak(ctx, e.cfg.Apology); err != nil {
		e.log.WithError(err).Warn("apology failed")
	}
}

func (e *Engine) recordBotTurn(ctx context.Context, text string, countTurn bool) {
	e.mu.Lock()
	if countTurn {
		e.botTurns++
	}
	e.mu.Unlock()
	e.publishRow(ctx, transcript.SpeakerBot, text, time.Now())
}

func (e *Engine) publishRow(ctx context.Context, speaker, text string, at time.Time) {
	row := transcript.Row{
		ID:        uuid.NewString(),
		CallID:    e.cfg.CallID,
		Speaker:   speaker,
		Text:      text,
		Timestamp: at,
	}
	if err := e.sink.PublishRow(ctx, row); err != nil && ctx.Err() == nil {
		e.log.WithError(err).Warn("transcript publish failed")
	}
}

func (e *Engine) appendHistory(userText, reply string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history,
		llm.Turn{Role: "user", Content: userText},
		llm.Turn{Role: "assistant", Content: reply},
	)
	if max := e.cfg.HistoryTurns * 2; max > 0 && len(e.history) > max {
		e.history = e.history[len(e.history)-max:]
	}
}

func (e *Engine) snapshotHistory() []llm.Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]llm.Turn, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) setCancel(fn context.CancelFunc) {
	e.mu.Lock()
	e.cancel = fn
	e.mu.Unlock()
}

func (e *Engine) clearCancel() {
	e.mu.Lock()
	e.cancel = nil
	e.mu.Unlock()
}
