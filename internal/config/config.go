// Package config loads every tunable of the bridge from the environment.
// Loaded once in main and passed down by value.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string
		// PublicHost is the externally reachable host the carrier dials
		// back to for the media stream.
		PublicHost string
	}
	Call struct {
		Language string
		Greeting string
		Goodbye  string
		Apology  string
	}
	VAD struct {
		WarmupFrames       int
		CalibrationFrames  int
		NoiseMargin        float64
		MinThreshold       float64
		MaxThreshold       float64
		SanityCap          float64
		VoiceConfirmFrames int
		MaxSilence         time.Duration
		MinUtterance       time.Duration
		NoiseHistory       int
		RecalInterval      int
	}
	Turn struct {
		BargeRMSFactor     float64
		BargeConfirmFactor int
		CooldownFrames     int
	}
	Reorder struct {
		MaxGap     int
		GapTimeout time.Duration
	}
	Dialogue struct {
		SentenceMin  int
		SentenceMax  int
		ChunkBytes   int
		ChunkDelay   time.Duration
		HistoryTurns int
	}
	Timeouts struct {
		STT          time.Duration
		LLM          time.Duration
		TTS          time.Duration
		Mark         time.Duration
		PingInterval time.Duration
		PingTimeout  time.Duration
		CloseFlush   time.Duration
	}
	Deepgram struct {
		APIKey        string
		Model         string
		BaseURL       string
		Retries       int
		MinConfidence float64
	}
	OpenAI struct {
		APIKey       string
		Model        string
		BaseURL      string
		SystemPrompt string
	}
	Eleven struct {
		APIKey  string
		VoiceID string
		ModelID string
		BaseURL string
		Retries int
	}
	Carrier struct {
		AccountSid string
		AuthToken  string
		APIBase    string
		FromNumber string
	}
	Sink struct {
		AMQPURL      string
		AMQPExchange string
	}
	Stream struct {
		TokenSecret   string
		TokenTTL      time.Duration
		TokenSkewSecs int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.log_level", "info")

	v.SetDefault("call.language", "ko-KR")
	v.SetDefault("call.greeting", "안녕하세요, 다정이에요. 오늘 하루 어떻게 지내셨어요?")
	v.SetDefault("call.goodbye", "네, 알겠어요. 편안한 하루 보내세요.")
	v.SetDefault("call.apology", "죄송해요, 제가 잠시 잘 못 들었어요. 다시 한 번 말씀해 주시겠어요?")

	v.SetDefault("vad.warmup_frames", 25)
	v.SetDefault("vad.calibration_frames", 50)
	v.SetDefault("vad.noise_margin", 300)
	v.SetDefault("vad.min_threshold", 300)
	v.SetDefault("vad.max_threshold", 2500)
	v.SetDefault("vad.rms_sanity_cap", 10000)
	v.SetDefault("vad.voice_confirm_frames", 3)
	v.SetDefault("vad.max_silence_ms", 500)
	v.SetDefault("vad.min_utterance_ms", 200)
	v.SetDefault("vad.noise_history", 100)
	v.SetDefault("vad.recal_interval_frames", 100)

	v.SetDefault("turn.barge_rms_factor", 1.5)
	v.SetDefault("turn.barge_confirm_factor", 2)
	v.SetDefault("turn.cooldown_frames", 25)

	v.SetDefault("reorder.max_gap", 64)
	v.SetDefault("reorder.gap_timeout_ms", 1000)

	v.SetDefault("dialogue.sentence_min", 12)
	v.SetDefault("dialogue.sentence_max", 80)
	v.SetDefault("dialogue.chunk_bytes", 4000)
	v.SetDefault("dialogue.chunk_delay_ms", 20)
	v.SetDefault("dialogue.history_turns", 10)

	v.SetDefault("stt.timeout_ms", 10000)
	v.SetDefault("stt.retries", 2)
	v.SetDefault("llm.timeout_ms", 15000)
	v.SetDefault("tts.timeout_ms", 10000)
	v.SetDefault("tts.retries", 1)
	v.SetDefault("mark.timeout_ms", 5000)
	v.SetDefault("ping.interval_s", 20)
	v.SetDefault("ping.timeout_s", 10)
	v.SetDefault("close.flush_ms", 2000)

	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepgram.min_confidence", 0.4)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("elevenlabs.model_id", "eleven_multilingual_v2")

	v.SetDefault("stream.token_ttl_min", 120)
	v.SetDefault("stream.token_skew_secs", 30)

	// Map envs
	v.BindEnv("server.port", "BRIDGE_PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.public_host", "PUBLIC_HOST")

	v.BindEnv("call.language", "LANGUAGE")
	v.BindEnv("call.greeting", "GREETING_TEXT")
	v.BindEnv("call.goodbye", "GOODBYE_TEXT")
	v.BindEnv("call.apology", "APOLOGY_TEXT")

	v.BindEnv("vad.warmup_frames", "VAD_WARMUP_FRAMES")
	v.BindEnv("vad.calibration_frames", "VAD_CALIBRATION_FRAMES")
	v.BindEnv("vad.noise_margin", "VAD_NOISE_MARGIN")
	v.BindEnv("vad.min_threshold", "VAD_MIN_THRESHOLD")
	v.BindEnv("vad.max_threshold", "VAD_MAX_THRESHOLD")
	v.BindEnv("vad.rms_sanity_cap", "VAD_RMS_SANITY_CAP")
	v.BindEnv("vad.voice_confirm_frames", "VAD_VOICE_CONFIRM_FRAMES")
	v.BindEnv("vad.max_silence_ms", "VAD_MAX_SILENCE_MS")
	v.BindEnv("vad.min_utterance_ms", "VAD_MIN_UTTERANCE_MS")
	v.BindEnv("vad.noise_history", "VAD_NOISE_HISTORY")
	v.BindEnv("vad.recal_interval_frames", "VAD_RECAL_INTERVAL_FRAMES")

	v.BindEnv("turn.barge_rms_factor", "TURN_BARGE_RMS_FACTOR")
	v.BindEnv("turn.barge_confirm_factor", "TURN_BARGE_CONFIRM_FACTOR")
	v.BindEnv("turn.cooldown_frames", "TURN_COOLDOWN_FRAMES")

	v.BindEnv("reorder.max_gap", "REORDER_MAX_GAP")
	v.BindEnv("reorder.gap_timeout_ms", "REORDER_GAP_TIMEOUT_MS")

	v.BindEnv("dialogue.sentence_min", "DIALOGUE_SENTENCE_MIN")
	v.BindEnv("dialogue.sentence_max", "DIALOGUE_SENTENCE_MAX")
	v.BindEnv("dialogue.chunk_bytes", "DIALOGUE_CHUNK_BYTES")
	v.BindEnv("dialogue.chunk_delay_ms", "DIALOGUE_CHUNK_DELAY_MS")
	v.BindEnv("dialogue.history_turns", "DIALOGUE_HISTORY_TURNS")

	v.BindEnv("stt.timeout_ms", "STT_TIMEOUT_MS")
	v.BindEnv("stt.retries", "STT_RETRIES")
	v.BindEnv("llm.timeout_ms", "LLM_TIMEOUT_MS")
	v.BindEnv("tts.timeout_ms", "TTS_TIMEOUT_MS")
	v.BindEnv("tts.retries", "TTS_RETRIES")
	v.BindEnv("mark.timeout_ms", "MARK_TIMEOUT_MS")
	v.BindEnv("ping.interval_s", "PING_INTERVAL_S")
	v.BindEnv("ping.timeout_s", "PING_TIMEOUT_S")
	v.BindEnv("close.flush_ms", "CLOSE_FLUSH_MS")

	v.BindEnv("deepgram.api_key", "DEEPGRAM_API_KEY")
	v.BindEnv("deepgram.model", "DEEPGRAM_MODEL")
	v.BindEnv("deepgram.base_url", "DEEPGRAM_URL")
	v.BindEnv("deepgram.min_confidence", "DEEPGRAM_MIN_CONFIDENCE")

	v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("openai.model", "OPENAI_MODEL")
	v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("openai.system_prompt", "LLM_SYSTEM_PROMPT")

	v.BindEnv("elevenlabs.api_key", "ELEVENLABS_API_KEY")
	v.BindEnv("elevenlabs.voice_id", "ELEVENLABS_VOICE_ID")
	v.BindEnv("elevenlabs.model_id", "ELEVENLABS_MODEL_ID")
	v.BindEnv("elevenlabs.base_url", "ELEVENLABS_URL")

	v.BindEnv("carrier.account_sid", "CARRIER_ACCOUNT_SID")
	v.BindEnv("carrier.auth_token", "CARRIER_AUTH_TOKEN")
	v.BindEnv("carrier.api_base", "CARRIER_API_BASE")
	v.BindEnv("carrier.from_number", "CARRIER_FROM_NUMBER")

	v.BindEnv("sink.amqp_url", "AMQP_URL")
	v.BindEnv("sink.amqp_exchange", "AMQP_EXCHANGE")

	v.BindEnv("stream.token_secret", "STREAM_TOKEN_SECRET")
	v.BindEnv("stream.token_ttl_min", "STREAM_TOKEN_TTL_MIN")
	v.BindEnv("stream.token_skew_secs", "STREAM_TOKEN_SKEW_SECS")

	var c Config
	c.Server.Port = v.GetString("server.port")
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.PublicHost = v.GetString("server.public_host")

	c.Call.Language = v.GetString("call.language")
	c.Call.Greeting = v.GetString("call.greeting")
	c.Call.Goodbye = v.GetString("call.goodbye")
	c.Call.Apology = v.GetString("call.apology")

	c.VAD.WarmupFrames = v.GetInt("vad.warmup_frames")
	c.VAD.CalibrationFrames = v.GetInt("vad.calibration_frames")
	c.VAD.NoiseMargin = v.GetFloat64("vad.noise_margin")
	c.VAD.MinThreshold = v.GetFloat64("vad.min_threshold")
	c.VAD.MaxThreshold = v.GetFloat64("vad.max_threshold")
	c.VAD.SanityCap = v.GetFloat64("vad.rms_sanity_cap")
	c.VAD.VoiceConfirmFrames = v.GetInt("vad.voice_confirm_frames")
	c.VAD.MaxSilence = time.Duration(v.GetInt("vad.max_silence_ms")) * time.Millisecond
	c.VAD.MinUtterance = time.Duration(v.GetInt("vad.min_utterance_ms")) * time.Millisecond
	c.VAD.NoiseHistory = v.GetInt("vad.noise_history")
	c.VAD.RecalInterval = v.GetInt("vad.recal_interval_frames")

	c.Turn.BargeRMSFactor = v.GetFloat64("turn.barge_rms_factor")
	c.Turn.BargeConfirmFactor = v.GetInt("turn.barge_confirm_factor")
	c.Turn.CooldownFrames = v.GetInt("turn.cooldown_frames")

	c.Reorder.MaxGap = v.GetInt("reorder.max_gap")
	c.Reorder.GapTimeout = time.Duration(v.GetInt("reorder.gap_timeout_ms")) * time.Millisecond

	c.Dialogue.SentenceMin = v.GetInt("dialogue.sentence_min")
	c.Dialogue.SentenceMax = v.GetInt("dialogue.sentence_max")
	c.Dialogue.ChunkBytes = v.GetInt("dialogue.chunk_bytes")
	c.Dialogue.ChunkDelay = time.Duration(v.GetInt("dialogue.chunk_delay_ms")) * time.Millisecond
	c.Dialogue.HistoryTurns = v.GetInt("dialogue.history_turns")

	c.Timeouts.STT = time.Duration(v.GetInt("stt.timeout_ms")) * time.Millisecond
	c.Timeouts.LLM = time.Duration(v.GetInt("llm.timeout_ms")) * time.Millisecond
	c.Timeouts.TTS = time.Duration(v.GetInt("tts.timeout_ms")) * time.Millisecond
	c.Timeouts.Mark = time.Duration(v.GetInt("mark.timeout_ms")) * time.Millisecond
	c.Timeouts.PingInterval = time.Duration(v.GetInt("ping.interval_s")) * time.Second
	c.Timeouts.PingTimeout = time.Duration(v.GetInt("ping.timeout_s")) * time.Second
	c.Timeouts.CloseFlush = time.Duration(v.GetInt("close.flush_ms")) * time.Millisecond

	c.Deepgram.APIKey = v.GetString("deepgram.api_key")
	c.Deepgram.Model = v.GetString("deepgram.model")
	c.Deepgram.BaseURL = v.GetString("deepgram.base_url")
	c.Deepgram.Retries = v.GetInt("stt.retries")
	c.Deepgram.MinConfidence = v.GetFloat64("deepgram.min_confidence")

	c.OpenAI.APIKey = v.GetString("openai.api_key")
	c.OpenAI.Model = v.GetString("openai.model")
	c.OpenAI.BaseURL = v.GetString("openai.base_url")
	c.OpenAI.SystemPrompt = v.GetString("openai.system_prompt")

	c.Eleven.APIKey = v.GetString("elevenlabs.api_key")
	c.Eleven.VoiceID = v.GetString("elevenlabs.voice_id")
	c.Eleven.ModelID = v.GetString("elevenlabs.model_id")
	c.Eleven.BaseURL = v.GetString("elevenlabs.base_url")
	c.Eleven.Retries = v.GetInt("tts.retries")

	c.Carrier.AccountSid = v.GetString("carrier.account_sid")
	c.Carrier.AuthToken = v.GetString("carrier.auth_token")
	c.Carrier.APIBase = v.GetString("carrier.api_base")
	c.Carrier.FromNumber = v.GetString("carrier.from_number")

	c.Sink.AMQPURL = v.GetString("sink.amqp_url")
	c.Sink.AMQPExchange = v.GetString("sink.amqp_exchange")

	c.Stream.TokenSecret = v.GetString("stream.token_secret")
	c.Stream.TokenTTL = time.Duration(v.GetInt("stream.token_ttl_min")) * time.Minute
	c.Stream.TokenSkewSecs = v.GetInt("stream.token_skew_secs")

	return c
}

// MaxSilenceFrames converts the silence window to 20ms frame counts.
func (c Config) MaxSilenceFrames() int {
	return int(c.VAD.MaxSilence.Milliseconds() / 20)
}

// MinUtteranceBytes converts the minimum utterance length to PCM bytes at
// the carrier rate (8kHz, 16-bit).
func (c Config) MinUtteranceBytes() int {
	return int(c.VAD.MinUtterance.Milliseconds()) * 16
}
