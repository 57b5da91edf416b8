package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr       string
	PublicBaseURL  string
	Environment    string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	SentryDSN      string
	AllowedOrigins []string

	// JWT Authentication
	JWTSecret string

	// Language model
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	LLMModel       string
	LLMTemperature float64
	LLMMaxTokens   int
	LLMTimeout     time.Duration

	// Speech to text
	STTProvider    string // "openai" or "deepgram"
	STTModel       string
	STTLanguage    string
	STTTimeout     time.Duration
	DeepgramAPIKey string
	MaxAudioBytes  int

	// Text to speech
	ElevenLabsAPIKey string
	EnableServerTTS  bool
	TTSMinChunkChars int
	TTSMaxChunkChars int
	BreakerFailures  int
	BreakerCooldown  time.Duration

	// Audio pipeline
	EnableVAD          bool
	EnableAugmentation bool

	// Out-of-band transcription
	EnableWorkers     bool
	WorkerCount       int
	ResultTTL         time.Duration
	ResultWaitTimeout time.Duration

	// Websocket
	WSWriteTimeout time.Duration
	WSIdleTimeout  time.Duration

	TranscriptRetention time.Duration
}

func LoadConfigFromEnv() Config {
	env := getenv("ENVIRONMENT", "development")
	dbDefault := ""
	if env == "development" {
		dbDefault = "sqlite://coach.db"
	}

	return Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL:  getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		Environment:    env,
		LogLevel:       getenv("LOG_LEVEL", "info"),
		DatabaseURL:    getenv("DATABASE_URL", dbDefault),
		RedisURL:       getenv("REDIS_URL", ""),
		SentryDSN:      getenv("SENTRY_DSN", ""),
		AllowedOrigins: getenvList("ALLOWED_ORIGINS"),

		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security

		OpenAIAPIKey:   getenv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getenv("OPENAI_BASE_URL", ""),
		LLMModel:       getenv("LLM_MODEL", "gpt-4o-mini"),
		LLMTemperature: getenvFloatClamped("LLM_TEMPERATURE", 0.85, 0, 2),
		LLMMaxTokens:   getenvIntClamped("LLM_MAX_TOKENS", 250, 16, 4096),
		LLMTimeout:     getenvDuration("LLM_TIMEOUT", 30*time.Second),

		STTProvider:    strings.ToLower(getenv("STT_PROVIDER", "openai")),
		STTModel:       getenv("STT_MODEL", ""),
		STTLanguage:    getenv("STT_LANGUAGE", "en"),
		STTTimeout:     getenvDuration("STT_TIMEOUT", 30*time.Second),
		DeepgramAPIKey: getenv("DEEPGRAM_API_KEY", ""),
		MaxAudioBytes:  getenvIntClamped("MAX_AUDIO_BYTES", 5*1024*1024, 64*1024, 16*1024*1024),

		ElevenLabsAPIKey: getenv("ELEVENLABS_API_KEY", ""),
		EnableServerTTS:  getenvBool("ENABLE_SERVER_TTS", true),
		TTSMinChunkChars: getenvIntClamped("TTS_MIN_CHUNK_CHARS", 20, 1, 200),
		TTSMaxChunkChars: getenvIntClamped("TTS_MAX_CHUNK_CHARS", 300, 50, 2000),
		BreakerFailures:  getenvIntClamped("BREAKER_FAILURES", 5, 1, 100),
		BreakerCooldown:  getenvDuration("BREAKER_COOLDOWN", 60*time.Second),

		EnableVAD:          getenvBool("ENABLE_VAD", true),
		EnableAugmentation: getenvBool("ENABLE_AUGMENTATION", false),

		EnableWorkers:     getenvBool("ENABLE_WORKERS", false),
		WorkerCount:       getenvIntClamped("WORKER_COUNT", 2, 1, 64),
		ResultTTL:         getenvDuration("RESULT_TTL", 300*time.Second),
		ResultWaitTimeout: getenvDuration("RESULT_WAIT_TIMEOUT", 30*time.Second),

		WSWriteTimeout: getenvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
		WSIdleTimeout:  getenvDuration("WS_IDLE_TIMEOUT", 120*time.Second),

		TranscriptRetention: getenvDuration("TRANSCRIPT_RETENTION", time.Hour),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntClamped(k string, def, min, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func getenvFloatClamped(k string, def, min, max float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(k)), 64)
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func getenvBool(k string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return v
}

// getenvDuration accepts Go durations ("90s") or a bare number of seconds.
func getenvDuration(k string, def time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(k))
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func getenvList(k string) []string {
	s := os.Getenv(k)
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
