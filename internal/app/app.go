package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lukasbauer/coach/internal/augment"
	"github.com/lukasbauer/coach/internal/auth"
	"github.com/lukasbauer/coach/internal/catalog"
	"github.com/lukasbauer/coach/internal/conversation"
	"github.com/lukasbauer/coach/internal/eventlog"
	"github.com/lukasbauer/coach/internal/httpapi"
	"github.com/lukasbauer/coach/internal/jobs"
	"github.com/lukasbauer/coach/internal/llm"
	"github.com/lukasbauer/coach/internal/observability"
	"github.com/lukasbauer/coach/internal/resultcache"
	"github.com/lukasbauer/coach/internal/session"
	"github.com/lukasbauer/coach/internal/speech"
	"github.com/lukasbauer/coach/internal/store"
	"github.com/lukasbauer/coach/internal/stt"
	"github.com/lukasbauer/coach/internal/tts"
	"github.com/lukasbauer/coach/internal/vad"
)

type App struct {
	cfg         Config
	logger      *log.Logger
	store       store.Accounts
	redis       *redis.Client
	eventLog    *eventlog.Logger
	metrics     *observability.Metrics
	validator   *auth.Validator
	httpClient  *http.Client // Shared HTTP client with connection pooling for providers
	llm         llm.Client
	tts         tts.Client
	primaryTTS  bool
	transcriber session.Transcriber
	cache       resultcache.Cache
	pool        *jobs.TranscriptionPool
	sessions    *session.Registry
	transcripts *session.Transcripts
	janitor     *jobs.TranscriptJanitor
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(ctx, s, logger); err != nil {
		s.Close()
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		eventLog: eventlog.New(s),
		metrics:  observability.NewMetrics("coach"),
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}
	a.validator = auth.NewValidator(cfg.JWTSecret, s, a.redis)

	// Keeps TCP connections alive to the model and speech providers.
	// No client timeout: streamed completions are bounded by their context.
	a.httpClient = &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	a.llm = llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		Timeout:     cfg.LLMTimeout,
		HTTPClient:  a.httpClient,
	})
	a.tts = a.buildTTS()

	if err := a.buildTranscriber(); err != nil {
		a.Close()
		return nil, err
	}

	a.transcripts = session.NewTranscripts(cfg.TranscriptRetention)
	a.janitor = jobs.NewTranscriptJanitor(a.transcripts, logger, 0)
	a.janitor.Start()

	a.sessions = session.NewRegistry(a.newSession, logger)
	a.sessions.OnChange = func(active int) {
		a.metrics.ActiveSessions.Set(float64(active))
	}
	return a, nil
}

// buildTTS puts ElevenLabs behind a circuit breaker with OpenAI speech as
// fallback. Either side may be missing; nil means server speech is off.
func (a *App) buildTTS() tts.Client {
	if !a.cfg.EnableServerTTS {
		return nil
	}
	var primary, fallback tts.Client
	if a.cfg.ElevenLabsAPIKey != "" {
		primary = tts.NewElevenLabsClient(tts.ElevenLabsConfig{
			APIKey:     a.cfg.ElevenLabsAPIKey,
			Stability:  -1,
			Similarity: -1,
			HTTPClient: a.httpClient,
		})
		a.primaryTTS = true
	}
	if a.cfg.OpenAIAPIKey != "" {
		fallback = tts.NewOpenAIClient(tts.OpenAIConfig{
			APIKey:     a.cfg.OpenAIAPIKey,
			BaseURL:    a.cfg.OpenAIBaseURL,
			HTTPClient: a.httpClient,
		})
	}
	if primary == nil && fallback == nil {
		a.logger.Printf("tts: no provider keys configured, server speech disabled")
		return nil
	}

	breaker := tts.NewBreaker(a.cfg.BreakerFailures, a.cfg.BreakerCooldown)
	breaker.OnStateChange(func(from, to tts.BreakerState) {
		a.logger.Printf("tts: breaker %s -> %s", from, to)
		a.metrics.BreakerState.Set(float64(to))
	})
	router := tts.NewRouter(primary, fallback, breaker, a.logger)
	router.OnFallback = func(reason string) {
		a.metrics.ProviderError("elevenlabs", reason)
	}
	return router
}

func (a *App) buildTranscriber() error {
	var client stt.Client
	switch a.cfg.STTProvider {
	case "deepgram":
		client = stt.NewDeepgramClient(stt.DeepgramConfig{
			APIKey:      a.cfg.DeepgramAPIKey,
			Model:       a.cfg.STTModel,
			Punctuate:   true,
			SmartFormat: true,
			HTTPClient:  a.httpClient,
		})
	case "openai", "":
		client = stt.NewOpenAIClient(stt.OpenAIConfig{
			APIKey:     a.cfg.OpenAIAPIKey,
			BaseURL:    a.cfg.OpenAIBaseURL,
			Model:      a.cfg.STTModel,
			HTTPClient: a.httpClient,
		})
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q", a.cfg.STTProvider)
	}

	var gate *vad.Gate
	if a.cfg.EnableVAD {
		g, err := vad.Load(vad.DefaultConfig())
		if err != nil {
			a.logger.Printf("stt: vad unavailable, sending audio unfiltered: %v", err)
		} else {
			gate = g
		}
	}
	augCfg := augment.DefaultConfig()
	augCfg.Enabled = a.cfg.EnableAugmentation
	aug, err := augment.New(augCfg, nil)
	if err != nil {
		return fmt.Errorf("augmentation: %w", err)
	}

	sttCfg := stt.DefaultTranscriberConfig()
	sttCfg.MaxAudioBytes = a.cfg.MaxAudioBytes
	sttCfg.Language = a.cfg.STTLanguage
	sttCfg.Timeout = a.cfg.STTTimeout
	inner := stt.NewTranscriber(sttCfg, client, gate, aug, a.logger, func(stage string) {
		a.metrics.ProviderError(a.cfg.STTProvider, stage)
	})
	a.transcriber = inner

	if !a.cfg.EnableWorkers {
		return nil
	}
	kind := resultcache.TypeMemory
	if a.redis != nil {
		kind = resultcache.TypeRedis
	}
	cache, err := resultcache.New(kind,
		resultcache.WithTTL(a.cfg.ResultTTL),
		resultcache.WithRedisClient(a.redis),
		resultcache.WithKeyPrefix("coach:stt:"),
	)
	if err != nil {
		return fmt.Errorf("result cache: %w", err)
	}
	a.cache = cache
	a.pool = jobs.NewTranscriptionPool(jobs.TranscriptionPoolConfig{
		Workers:     a.cfg.WorkerCount,
		WaitTimeout: a.cfg.ResultWaitTimeout,
	}, inner, cache, a.logger)
	a.pool.Start()
	a.transcriber = a.pool
	return nil
}

// newSession is the registry factory: one synthesizer and one conversation
// per connection, sharing the process-wide provider clients.
func (a *App) newSession(id string, t session.Transport, sel conversation.Selection) (session.Components, error) {
	spCfg := speech.DefaultConfig()
	spCfg.Enabled = a.tts != nil
	spCfg.Rules.MinFlushChars = a.cfg.TTSMinChunkChars
	spCfg.Rules.MaxChunkChars = a.cfg.TTSMaxChunkChars
	sp := speech.New(id, spCfg, a.tts, t, catalog.PersonalityOrDefault(sel.PersonalityID), a.logger, speech.Hooks{
		ChunkSent: func(seq int, format string, sinceFirstToken time.Duration) {
			a.metrics.TTSChunks.WithLabelValues("sent").Inc()
			if sinceFirstToken > 0 {
				a.metrics.ObserveFirstAudioLatency(sinceFirstToken)
			}
			if a.primaryTTS && format != "mp3" {
				a.eventLog.LogAsync(id, eventlog.EventTTSFallback, map[string]any{"seq": seq, "format": format})
			}
		},
		ChunkDiscarded: func(int) {
			a.metrics.TTSChunks.WithLabelValues("discarded").Inc()
		},
		ChunkFailed: func(seq int, err error) {
			a.metrics.TTSChunks.WithLabelValues("failed").Inc()
		},
	})

	conv := conversation.New(conversation.Deps{
		SessionID: id,
		LLM:       a.llm,
		Sender:    t,
		Speaker:   sp,
		Logger:    a.logger,
		Hooks: conversation.Hooks{
			Completed: func(attempts int, firstToken time.Duration, ended bool) {
				a.metrics.ObserveFirstTokenLatency(firstToken)
				a.eventLog.LogAsync(id, eventlog.EventLLMCompleted, map[string]any{
					"attempts":       attempts,
					"first_token_ms": firstToken.Milliseconds(),
					"ended":          ended,
				})
			},
			Failed: func(err error) {
				a.metrics.ProviderError("openai", llmErrorCode(err))
				a.eventLog.LogAsync(id, eventlog.EventLLMError, map[string]any{"error": err.Error()})
			},
			Retried: func(int, error) {
				a.metrics.LLMRetries.Inc()
			},
		},
	}, sel)

	return session.Components{Speech: sp, Conversation: conv, Transcriber: a.transcriber}, nil
}

func llmErrorCode(err error) string {
	var apiErr *llm.APIError
	switch {
	case errors.As(err, &apiErr):
		return fmt.Sprintf("http_%d", apiErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "stream"
	}
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		AllowedOrigins:  a.cfg.AllowedOrigins,
		MaxMessageBytes: maxFrameBytes(a.cfg.MaxAudioBytes),
		WriteTimeout:    a.cfg.WSWriteTimeout,
		IdleTimeout:     a.cfg.WSIdleTimeout,
	}
	return httpapi.NewRouter(routerCfg, httpapi.Deps{
		Logger:      a.logger,
		Sessions:    a.sessions,
		Transcripts: a.transcripts,
		Auth:        a.validator,
		EventLog:    a.eventLog,
		Metrics:     a.metrics,
		DB:          a.store,
	})
}

// maxFrameBytes sizes the websocket read limit so that an audio payload
// over the cap still arrives whole and is rejected by the transcriber with
// an error event, instead of the frame tearing down the connection.
func maxFrameBytes(maxAudioBytes int) int64 {
	if maxAudioBytes <= 0 {
		return 0
	}
	encoded := (int64(maxAudioBytes) + 2) / 3 * 4
	return encoded*2 + 64<<10
}

// Drain stops accepting sessions, closes the live ones with 1001 and waits
// for their handlers to finish or ctx to expire.
func (a *App) Drain(ctx context.Context) error {
	a.sessions.StartDraining()
	n := a.sessions.ActiveCount()
	a.sessions.CloseAll(session.CloseGoingAway, "server shutting down")
	a.logger.Printf("draining %d sessions", n)
	return a.sessions.Wait(ctx)
}

func (a *App) Close() error {
	if a.janitor != nil {
		a.janitor.Stop()
	}
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	a.eventLog.Flush()
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// Migrate opens the configured store, applies pending migrations and closes
// it again.
func Migrate(ctx context.Context, cfg Config, logger *log.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	s, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()
	return store.Migrate(ctx, s, logger)
}
