package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"8080" validate:"numeric"`
	DatabaseURL string `env:"DATABASE_URL" validate:"required"`
	DBMaxConns  int    `env:"DB_MAX_CONNS" envDefault:"10" validate:"gte=1"`
	StoragePath string `env:"STORAGE_PATH" envDefault:"./data" validate:"required"`
	WorkDir     string `env:"WORK_DIR"`
	LogFile     string `env:"LOG_FILE"`
	RedisURL    string `env:"REDIS_URL"`

	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	// APIRateLimit caps job-mutating requests per client per minute; 0 disables it.
	APIRateLimit       int      `env:"API_RATE_LIMIT" envDefault:"60" validate:"gte=0"`

	WorkerPoolSize     int           `env:"WORKER_POOL_SIZE" envDefault:"2" validate:"gte=1,lte=64"`
	MediaConcurrency   int           `env:"MEDIA_CONCURRENCY" envDefault:"1" validate:"gte=1,lte=64"`
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"2s" validate:"gt=0"`
	JobLease           time.Duration `env:"JOB_LEASE" envDefault:"10m" validate:"gte=1s"`

	FFmpegPath       string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath      string        `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	YtDlpPath        string        `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	MediaExecTimeout time.Duration `env:"MEDIA_EXEC_TIMEOUT" envDefault:"30m" validate:"gt=0"`

	TranscribePrimaryEnabled      bool    `env:"TRANSCRIBE_PRIMARY_ENABLED" envDefault:"true"`
	TranscribeDualMode            bool    `env:"TRANSCRIBE_DUAL_MODE" envDefault:"false"`
	TranscribeBaseURL             string  `env:"TRANSCRIBE_BASE_URL"`
	TranscribeAPIKey              string  `env:"TRANSCRIBE_API_KEY"`
	TranscribeModel               string  `env:"TRANSCRIBE_MODEL" envDefault:"whisper-1"`
	WhisperCppPath                string  `env:"WHISPER_CPP_PATH" envDefault:"whisper-cli"`
	WhisperModelPath              string  `env:"WHISPER_MODEL_PATH" envDefault:"./models/ggml-base.bin"`
	WhisperLargerModelPath        string  `env:"WHISPER_LARGER_MODEL_PATH" envDefault:"./models/ggml-small.bin"`
	TranscribeConfidenceThreshold float64 `env:"TRANSCRIBE_CONFIDENCE_THRESHOLD" envDefault:"0.6" validate:"gte=0,lte=1"`
	TranscribeRetryLargerModel    bool    `env:"TRANSCRIBE_RETRY_LARGER_MODEL" envDefault:"true"`

	TranslationProvider string `env:"TRANSLATION_PROVIDER" envDefault:"openai" validate:"oneof=openai gemini qwen"`
	SummaryProvider     string `env:"SUMMARY_PROVIDER" envDefault:"openai" validate:"oneof=openai gemini qwen"`
	ScriptProvider      string `env:"SCRIPT_PROVIDER" envDefault:"openai" validate:"oneof=openai gemini qwen"`
	TargetLanguage      string `env:"TARGET_LANGUAGE" envDefault:"id" validate:"required"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1" validate:"omitempty,url"`
	OpenAIOrg     string `env:"OPENAI_ORG"`

	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiModel   string `env:"GEMINI_MODEL" envDefault:"gemini-1.5-flash"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta" validate:"omitempty,url"`

	QwenAPIKey  string `env:"QWEN_API_KEY"`
	QwenModel   string `env:"QWEN_MODEL" envDefault:"qwen-plus"`
	QwenBaseURL string `env:"QWEN_BASE_URL" envDefault:"https://dashscope-intl.aliyuncs.com/api/v1" validate:"omitempty,url"`

	TTSProvider string `env:"TTS_PROVIDER" envDefault:"openai" validate:"oneof=openai clone"`
	TTSModel    string `env:"TTS_MODEL" envDefault:"tts-1"`
	TTSCloneURL string `env:"TTS_CLONE_URL" validate:"required_if=TTSProvider clone,omitempty,url"`

	SynthChunkMin     int           `env:"SYNTH_CHUNK_MIN" envDefault:"2000" validate:"gte=1,ltefield=SynthChunkMax"`
	SynthChunkMax     int           `env:"SYNTH_CHUNK_MAX" envDefault:"2500" validate:"gte=1"`
	SynthChunkTimeout time.Duration `env:"SYNTH_CHUNK_TIMEOUT" envDefault:"5m" validate:"gt=0"`
	SynthChunkDelay   time.Duration `env:"SYNTH_CHUNK_DELAY" envDefault:"2s" validate:"gte=0"`

	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3" validate:"gte=1,lte=10"`
	ProviderTimeout  time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"90s" validate:"gt=0"`

	AudioDurationTolerance float64 `env:"AUDIO_DURATION_TOLERANCE" envDefault:"0.5" validate:"gte=0"`
}

// IsDevelopment reports whether APP_ENV selects development defaults.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// LoadConfig reads an optional .env file, parses the environment and
// validates the result.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
