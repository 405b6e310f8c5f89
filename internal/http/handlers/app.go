package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"dubber/internal/audio"
	"dubber/internal/domain"
	"dubber/internal/events"
)

// DefaultMaxUploadBytes caps PUT /audio payloads.
const DefaultMaxUploadBytes = 512 << 20

// JobService is the orchestrator surface the API exposes.
type JobService interface {
	Create(ctx context.Context, job *domain.VideoJob) error
	Status(ctx context.Context, jobID string) (*domain.VideoJob, []domain.StageStatus, error)
	Start(ctx context.Context, jobID string) error
	RetryStage(ctx context.Context, jobID string, stage domain.Stage) error
	Reprocess(ctx context.Context, jobID string) error
	UpdateFields(ctx context.Context, jobID string, fields map[string]string) error
	UploadAudio(ctx context.Context, jobID string, data []byte) (*domain.SynthesizedAudio, error)
}

// EventSource serves stage events recorded after a sequence number.
type EventSource interface {
	Since(jobID string, seq int64) []events.Event
}

type App struct {
	Jobs           JobService
	Events         EventSource
	Validate       *validator.Validate
	Logger         zerolog.Logger
	MaxUploadBytes int64
	// Ready, when set, backs the health check.
	Ready func(ctx context.Context) error
}

func NewApp(jobs JobService, source EventSource, logger zerolog.Logger) *App {
	return &App{
		Jobs:           jobs,
		Events:         source,
		Validate:       validator.New(validator.WithRequiredStructEnabled()),
		Logger:         logger,
		MaxUploadBytes: DefaultMaxUploadBytes,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorResponse{Error: kind, Message: message})
}

// fail maps domain errors onto HTTP statuses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrJobBusy), errors.Is(err, domain.ErrStageConflict):
		a.error(w, http.StatusConflict, "job_busy", err.Error())
	case errors.Is(err, domain.ErrUnknownField),
		errors.Is(err, domain.ErrUnknownStage),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, audio.ErrInvalidWAV):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.As(err, &tooLarge):
		a.error(w, http.StatusRequestEntityTooLarge, "too_large", "payload too large")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}
