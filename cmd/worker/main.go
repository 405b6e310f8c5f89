package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"dubber/internal/adapter/repo"
	"dubber/internal/compose"
	"dubber/internal/events"
	"dubber/internal/infra"
	"dubber/internal/infra/credentials"
	"dubber/internal/media"
	"dubber/internal/pipeline"
	"dubber/internal/providers/asr"
	"dubber/internal/providers/llm"
	"dubber/internal/providers/tts"
	"dubber/internal/publish"
	"dubber/internal/reconcile"
	"dubber/internal/retry"
	"dubber/internal/storage"
	"dubber/internal/synthesis"
	"dubber/internal/textgen"
	"dubber/internal/transcription"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg, "dubber-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	store := repo.NewPipelineStore(runner)
	creds := credentials.NewStore(runner)

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: storage init failed")
	}

	toolkit := media.New(media.Options{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		YTDLPPath:   cfg.YtDlpPath,
		Timeout:     cfg.MediaExecTimeout,
	})

	exec := retry.New(retry.Options{
		MaxAttempts:    cfg.RetryMaxAttempts,
		AttemptTimeout: cfg.ProviderTimeout,
		Logger:         &logger,
	})

	keys := resolveKeys(ctx, creds, cfg, logger)

	registry := llm.NewRegistry(buildGenerators(cfg, keys, logger)...)
	if len(registry.Available()) == 0 {
		logger.Warn().Msg("worker: no text provider configured; translation, summary and script stages will fail")
	}
	text := textgen.New(registry, exec, textgen.Providers{
		Translation: cfg.TranslationProvider,
		Summary:     cfg.SummaryProvider,
		Script:      cfg.ScriptProvider,
	}, cfg.TargetLanguage, &logger)

	var primary asr.Transcriber
	if cfg.TranscribePrimaryEnabled {
		remote, err := asr.NewOpenAI(asr.OpenAIOptions{
			APIKey:  keys[credentials.ProviderTranscribe],
			BaseURL: firstNonEmpty(cfg.TranscribeBaseURL, cfg.OpenAIBaseURL),
			Model:   cfg.TranscribeModel,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("worker: remote transcription disabled")
		} else {
			primary = remote
		}
	}
	local := asr.NewWhisper(asr.WhisperOptions{
		BinaryPath: cfg.WhisperCppPath,
		Model:      cfg.WhisperModelPath,
	})
	transcriber := transcription.New(toolkit, primary, local, exec, transcription.Options{
		PrimaryEnabled:      primary != nil,
		DualMode:            cfg.TranscribeDualMode,
		ConfidenceThreshold: cfg.TranscribeConfidenceThreshold,
		RetryLargerModel:    cfg.TranscribeRetryLargerModel,
		LargerModel:         cfg.WhisperLargerModelPath,
	}, &logger)

	speech, err := buildSpeech(cfg, keys)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.TTSProvider).Msg("worker: speech provider init failed")
	}
	engine := synthesis.NewEngine(store, speech, exec, synthesis.Options{
		ChunkMin:     cfg.SynthChunkMin,
		ChunkMax:     cfg.SynthChunkMax,
		ChunkTimeout: cfg.SynthChunkTimeout,
		ChunkDelay:   cfg.SynthChunkDelay,
	}, &logger)

	publishers := events.Fanout{}
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: redis config failed")
		}
		defer client.Close()
		publishers = append(publishers, events.NewRedisPublisher(client, events.DefaultChannel))
	}

	runners := pipeline.NewRunners(pipeline.Services{
		Jobs:           store,
		Artifacts:      store,
		Files:          files,
		Fetcher:        toolkit,
		Transcriber:    transcriber,
		Text:           text,
		Synthesizer:    engine,
		Reconciler:     reconcile.New(toolkit, cfg.AudioDurationTolerance, &logger),
		Compositor:     compose.New(toolkit, &logger),
		Publisher:      publish.NewOutbox(files),
		TargetLanguage: cfg.TargetLanguage,
	})

	orch := pipeline.New(pipeline.Options{
		Jobs:      store,
		Artifacts: store,
		Files:     files,
		Runners:   runners,
		Events:    publishers,
		Gate:      semaphore.NewWeighted(int64(cfg.MediaConcurrency)),
		WorkDir:   cfg.WorkDir,
		Logger:    &logger,
	})

	worker := pipeline.NewWorker(store, orch, pipeline.WorkerOptions{
		PoolSize:     cfg.WorkerPoolSize,
		PollInterval: cfg.WorkerPollInterval,
		Lease:        cfg.JobLease,
		Logger:       &logger,
	})

	logger.Info().
		Int("pool_size", cfg.WorkerPoolSize).
		Int("media_concurrency", cfg.MediaConcurrency).
		Strs("text_providers", registry.Available()).
		Msg("worker started")
	if err := worker.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("worker stopped")
}

// resolveKeys prefers keys from the environment and falls back to the
// integration_tokens table.
func resolveKeys(ctx context.Context, creds *credentials.Store, cfg *infra.Config, logger zerolog.Logger) map[string]string {
	fromEnv := map[string]string{
		credentials.ProviderOpenAI:     cfg.OpenAIAPIKey,
		credentials.ProviderGemini:     cfg.GeminiAPIKey,
		credentials.ProviderQwen:       cfg.QwenAPIKey,
		credentials.ProviderTranscribe: firstNonEmpty(cfg.TranscribeAPIKey, cfg.OpenAIAPIKey),
	}
	keys := make(map[string]string, len(fromEnv))
	for provider, envKey := range fromEnv {
		key, err := creds.Resolve(ctx, provider, envKey)
		if err != nil {
			logger.Warn().Err(err).Str("provider", provider).Msg("worker: stored key lookup failed")
			key = envKey
		}
		keys[provider] = key
	}
	if keys[credentials.ProviderTranscribe] == "" {
		keys[credentials.ProviderTranscribe] = keys[credentials.ProviderOpenAI]
	}
	return keys
}

// buildGenerators returns only the generators that configured successfully.
func buildGenerators(cfg *infra.Config, keys map[string]string, logger zerolog.Logger) []llm.Generator {
	var out []llm.Generator
	if g, err := llm.NewOpenAIGenerator(llm.OpenAIOptions{
		APIKey:       keys[credentials.ProviderOpenAI],
		Model:        cfg.OpenAIModel,
		BaseURL:      cfg.OpenAIBaseURL,
		Organization: cfg.OpenAIOrg,
	}); err == nil {
		out = append(out, g)
	} else {
		logger.Debug().Err(err).Msg("worker: openai text provider unavailable")
	}
	if g, err := llm.NewGeminiGenerator(llm.GeminiOptions{
		APIKey:  keys[credentials.ProviderGemini],
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
	}); err == nil {
		out = append(out, g)
	} else {
		logger.Debug().Err(err).Msg("worker: gemini text provider unavailable")
	}
	if g, err := llm.NewQwenGenerator(llm.QwenOptions{
		APIKey:         keys[credentials.ProviderQwen],
		Model:          cfg.QwenModel,
		BaseURL:        cfg.QwenBaseURL,
		Logger:         &logger,
		RequestTimeout: cfg.ProviderTimeout,
	}); err == nil {
		out = append(out, g)
	} else {
		logger.Debug().Err(err).Msg("worker: qwen text provider unavailable")
	}
	return out
}

func buildSpeech(cfg *infra.Config, keys map[string]string) (tts.Synthesizer, error) {
	if cfg.TTSProvider == "clone" {
		return tts.NewClone(tts.CloneOptions{Endpoint: cfg.TTSCloneURL})
	}
	return tts.NewOpenAI(tts.OpenAIOptions{
		APIKey:  keys[credentials.ProviderOpenAI],
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.TTSModel,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
