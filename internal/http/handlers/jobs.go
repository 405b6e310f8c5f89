package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"dubber/internal/domain"
	"dubber/internal/events"
	"dubber/internal/langtag"
)

type createJobRequest struct {
	// Local sources are dubctl only; the API never reads server paths.
	SourceURL      string `json:"source_url" validate:"required,url"`
	Title          string `json:"title" validate:"max=500"`
	Description    string `json:"description" validate:"max=10000"`
	VoiceProfile   string `json:"voice_profile" validate:"max=200"`
	TargetLanguage string `json:"target_language" validate:"max=35"`
	Start          bool   `json:"start"`
}

type stageView struct {
	Stage       domain.Stage      `json:"stage"`
	State       domain.StageState `json:"state"`
	Error       string            `json:"error,omitempty"`
	Suggestion  string            `json:"suggestion,omitempty"`
	Warning     string            `json:"warning,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

type jobView struct {
	ID                    string           `json:"id"`
	SourceURL             string           `json:"source_url"`
	Title                 string           `json:"title"`
	Description           string           `json:"description"`
	TranslatedTitle       string           `json:"translated_title"`
	TranslatedDescription string           `json:"translated_description"`
	DurationSeconds       float64          `json:"duration_seconds"`
	VoiceProfile          string           `json:"voice_profile"`
	TargetLanguage        string           `json:"target_language"`
	RunStatus             domain.RunStatus `json:"run_status"`
	CurrentStage          domain.Stage     `json:"current_stage,omitempty"`
	LastError             string           `json:"last_error,omitempty"`
	Suggestion            string           `json:"suggestion,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
	Stages                []stageView      `json:"stages,omitempty"`
}

func newJobView(job *domain.VideoJob, stages []domain.StageStatus) jobView {
	v := jobView{
		ID:                    job.ID,
		SourceURL:             job.SourceURL,
		Title:                 job.Title,
		Description:           job.Description,
		TranslatedTitle:       job.TranslatedTitle,
		TranslatedDescription: job.TranslatedDescription,
		DurationSeconds:       job.DurationSeconds,
		VoiceProfile:          job.VoiceProfile,
		TargetLanguage:        job.TargetLanguage,
		RunStatus:             job.RunStatus,
		CurrentStage:          job.CurrentStage,
		LastError:             job.LastError,
		Suggestion:            job.Suggestion,
		CreatedAt:             job.CreatedAt,
		UpdatedAt:             job.UpdatedAt,
	}
	for _, st := range stages {
		v.Stages = append(v.Stages, stageView{
			Stage:       st.Stage,
			State:       st.State,
			Error:       st.Error,
			Suggestion:  st.Suggestion,
			Warning:     st.Warning,
			StartedAt:   st.StartedAt,
			CompletedAt: st.CompletedAt,
		})
	}
	return v
}

func normalizeTarget(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	tag := langtag.Normalize(raw)
	if tag == "" {
		return "", fmt.Errorf("%w: unsupported target_language %q", domain.ErrInvalidInput, raw)
	}
	return tag, nil
}

func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", describeValidation(err))
		return
	}
	target, err := normalizeTarget(req.TargetLanguage)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	job := &domain.VideoJob{
		SourceURL:      strings.TrimSpace(req.SourceURL),
		Title:          req.Title,
		Description:    req.Description,
		VoiceProfile:   strings.TrimSpace(req.VoiceProfile),
		TargetLanguage: target,
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Start {
		if err := a.Jobs.Start(r.Context(), job.ID); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	a.status(w, r, job.ID, http.StatusCreated)
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	a.status(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

func (a *App) status(w http.ResponseWriter, r *http.Request, jobID string, code int) {
	job, stages, err := a.Jobs.Status(r.Context(), jobID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, code, newJobView(job, stages))
}

// UpdateJob applies the sparse status-update contract.
func (a *App) UpdateJob(w http.ResponseWriter, r *http.Request) {
	var fields map[string]string
	if !a.decode(w, r, &fields) {
		return
	}
	if len(fields) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "no fields to update")
		return
	}
	if raw, ok := fields["target_language"]; ok {
		target, err := normalizeTarget(raw)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		fields["target_language"] = target
	}
	jobID := chi.URLParam(r, "id")
	if err := a.Jobs.UpdateFields(r.Context(), jobID, fields); err != nil {
		a.fail(w, r, err)
		return
	}
	a.status(w, r, jobID, http.StatusOK)
}

type audioResponse struct {
	JobID           string  `json:"job_id"`
	DurationSeconds float64 `json:"duration_seconds"`
	Reconciled      bool    `json:"reconciled"`
}

// UploadAudio replaces the synthesized track with the raw WAV request body.
func (a *App) UploadAudio(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "empty audio payload")
		return
	}
	rec, err := a.Jobs.UploadAudio(r.Context(), chi.URLParam(r, "id"), data)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, audioResponse{JobID: rec.JobID, DurationSeconds: rec.DurationSeconds, Reconciled: rec.Reconciled})
}

func (a *App) StartJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := a.Jobs.Start(r.Context(), jobID); err != nil {
		a.fail(w, r, err)
		return
	}
	a.status(w, r, jobID, http.StatusAccepted)
}

func (a *App) RetryStage(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	stage, err := domain.ParseStage(chi.URLParam(r, "stage"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Jobs.RetryStage(r.Context(), jobID, stage); err != nil {
		a.fail(w, r, err)
		return
	}
	a.status(w, r, jobID, http.StatusAccepted)
}

func (a *App) Reprocess(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if err := a.Jobs.Reprocess(r.Context(), jobID); err != nil {
		a.fail(w, r, err)
		return
	}
	a.status(w, r, jobID, http.StatusAccepted)
}

type eventsResponse struct {
	Events []events.Event `json:"events"`
	Next   int64          `json:"next"`
}

// JobEvents returns events after ?since=<seq>. Clients poll with the
// returned next value.
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "since must be a non-negative integer")
			return
		}
		since = v
	}
	if _, _, err := a.Jobs.Status(r.Context(), jobID); err != nil {
		a.fail(w, r, err)
		return
	}
	resp := eventsResponse{Events: []events.Event{}, Next: since}
	if a.Events != nil {
		if evs := a.Events.Since(jobID, since); len(evs) > 0 {
			resp.Events = evs
			resp.Next = evs[len(evs)-1].Seq
		}
	}
	a.json(w, http.StatusOK, resp)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s is invalid (%s)", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
