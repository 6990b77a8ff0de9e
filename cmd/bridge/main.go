package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"dajeong/bridge/internal/api"
	"dajeong/bridge/internal/carrier"
	"dajeong/bridge/internal/config"
	"dajeong/bridge/internal/dialogue"
	"dajeong/bridge/internal/llm"
	"dajeong/bridge/internal/marks"
	"dajeong/bridge/internal/reorder"
	"dajeong/bridge/internal/session"
	"dajeong/bridge/internal/stt"
	"dajeong/bridge/internal/transcript"
	"dajeong/bridge/internal/tts"
	"dajeong/bridge/internal/turn"
	"dajeong/bridge/internal/vad"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	root := logrus.NewEntry(logger)

	sink := buildSink(cfg, root)
	defer sink.Close()

	calls := session.NewRegistry()
	carrierClient := carrier.NewClient(cfg.Carrier.APIBase, cfg.Carrier.AccountSid,
		cfg.Carrier.AuthToken, cfg.Carrier.FromNumber)

	factory := func(call *session.Call, conn session.Conn) *session.Session {
		return buildSession(cfg, call, conn, calls, sink, root)
	}

	h := api.NewHandlers(cfg, calls, carrierClient, factory, root)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           logMiddleware(api.NewRouter(h), root),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM: stop live calls first so each
	// session runs its closing deadline, then drain HTTP.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		root.Info("shutdown signal received; stopping server")
		calls.StopAll()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	root.WithField("addr", srv.Addr).Info("bridge starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		root.WithError(err).Error("server error")
		os.Exit(1)
	}
}

// buildSession assembles the per-call pipeline around an accepted stream
// socket.
func buildSession(cfg config.Config, call *session.Call, conn session.Conn,
	calls *session.Registry, sink transcript.Sink, root *logrus.Entry) *session.Session {
	log := root.WithField("call_id", call.ID)

	markReg := marks.NewRegistry(log)
	turns := turn.NewController(cfg.Turn.BargeRMSFactor, cfg.Turn.BargeConfirmFactor,
		cfg.Turn.CooldownFrames, log)
	det := vad.NewDetector(vad.Config{
		WarmupFrames:       cfg.VAD.WarmupFrames,
		CalibrationFrames:  cfg.VAD.CalibrationFrames,
		NoiseMargin:        cfg.VAD.NoiseMargin,
		MinThreshold:       cfg.VAD.MinThreshold,
		MaxThreshold:       cfg.VAD.MaxThreshold,
		SanityCap:          cfg.VAD.SanityCap,
		VoiceConfirmFrames: cfg.VAD.VoiceConfirmFrames,
		MaxSilenceFrames:   cfg.MaxSilenceFrames(),
		MinUtteranceBytes:  cfg.MinUtteranceBytes(),
		NoiseHistory:       cfg.VAD.NoiseHistory,
		RecalInterval:      cfg.VAD.RecalInterval,
	}, turns, log)
	buf := reorder.New(cfg.Reorder.MaxGap, cfg.Reorder.GapTimeout, log)
	egress := session.NewEgress(256)

	sttClient := stt.NewClient(stt.Config{
		APIKey:        cfg.Deepgram.APIKey,
		BaseURL:       cfg.Deepgram.BaseURL,
		Model:         cfg.Deepgram.Model,
		Retries:       cfg.Deepgram.Retries,
		MinConfidence: cfg.Deepgram.MinConfidence,
	}, log)
	llmClient := llm.NewClient(llm.Config{
		APIKey:       cfg.OpenAI.APIKey,
		Model:        cfg.OpenAI.Model,
		BaseURL:      cfg.OpenAI.BaseURL,
		SystemPrompt: cfg.OpenAI.SystemPrompt,
	}, log)
	ttsClient := tts.NewClient(tts.Config{
		APIKey:  cfg.Eleven.APIKey,
		VoiceID: cfg.Eleven.VoiceID,
		ModelID: cfg.Eleven.ModelID,
		BaseURL: cfg.Eleven.BaseURL,
		Retries: cfg.Eleven.Retries,
	}, log)

	engine := dialogue.NewEngine(dialogue.Config{
		CallID:       call.ID,
		Language:     cfg.Call.Language,
		SentenceMin:  cfg.Dialogue.SentenceMin,
		SentenceMax:  cfg.Dialogue.SentenceMax,
		ChunkBytes:   cfg.Dialogue.ChunkBytes,
		ChunkDelay:   cfg.Dialogue.ChunkDelay,
		HistoryTurns: cfg.Dialogue.HistoryTurns,
		STTTimeout:   cfg.Timeouts.STT,
		LLMTimeout:   cfg.Timeouts.LLM,
		TTSTimeout:   cfg.Timeouts.TTS,
		MarkTimeout:  cfg.Timeouts.Mark,
		Apology:      cfg.Call.Apology,
	}, sttClient, llmClient, ttsClient, egress, markReg, turns, sink, log)
	turns.SetBargeInHandler(engine.Interrupt)

	return session.New(session.Config{
		CallID:       call.ID,
		Greeting:     cfg.Call.Greeting,
		Goodbye:      cfg.Call.Goodbye,
		PingInterval: cfg.Timeouts.PingInterval,
		PingTimeout:  cfg.Timeouts.PingTimeout,
		CloseFlush:   cfg.Timeouts.CloseFlush,
	}, conn, det, turns, markReg, buf, engine, egress, calls, sink, log)
}

func buildSink(cfg config.Config, root *logrus.Entry) transcript.Sink {
	if cfg.Sink.AMQPURL == "" {
		return transcript.NewLogSink(root.WithField("component", "transcript"))
	}
	s, err := transcript.NewAMQPSink(cfg.Sink.AMQPURL, cfg.Sink.AMQPExchange,
		root.WithField("component", "transcript"))
	if err != nil {
		root.WithError(err).Warn("amqp sink unavailable, falling back to log sink")
		return transcript.NewLogSink(root.WithField("component", "transcript"))
	}
	return s
}

func logMiddleware(next http.Handler, log *logrus.Entry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"elapsed": time.Since(start).String(),
		}).Debug("http request")
	})
}
