package repo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"dubber/internal/domain"
	"dubber/internal/infra"
	"dubber/internal/sqlinline"
)

// PipelineStore implements the job, artifact and voice repositories on
// PostgreSQL. Every statement goes through a marked sqlinline query.
type PipelineStore struct {
	sql infra.SQLExecutor
}

// NewPipelineStore creates a store backed by the given executor.
func NewPipelineStore(sql infra.SQLExecutor) *PipelineStore {
	return &PipelineStore{sql: sql}
}

var (
	_ domain.JobRepository      = (*PipelineStore)(nil)
	_ domain.ArtifactRepository = (*PipelineStore)(nil)
	_ domain.VoiceRepository    = (*PipelineStore)(nil)
)

// CreateJob inserts the job together with a pending row for every stage.
func (s *PipelineStore) CreateJob(ctx context.Context, job *domain.VideoJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.RunStatus == "" {
		job.RunStatus = domain.RunNotStarted
	}
	stages := make([]string, len(domain.Stages))
	for i, st := range domain.Stages {
		stages[i] = string(st)
	}
	row := s.sql.QueryRow(ctx, sqlinline.QInsertVideoJob,
		job.ID,
		job.SourceURL,
		job.Title,
		job.Description,
		job.SourcePath,
		job.VoiceProfile,
		job.TargetLanguage,
		string(job.RunStatus),
		stages,
	)
	return row.Scan(&job.CreatedAt, &job.UpdatedAt)
}

func scanJob(row interface{ Scan(...any) error }) (*domain.VideoJob, error) {
	var (
		job          domain.VideoJob
		runStatus    string
		currentStage string
	)
	err := row.Scan(
		&job.ID,
		&job.SourceURL,
		&job.Title,
		&job.Description,
		&job.TranslatedTitle,
		&job.TranslatedDescription,
		&job.SourcePath,
		&job.DurationSeconds,
		&job.VoiceProfile,
		&job.TargetLanguage,
		&runStatus,
		&currentStage,
		&job.LastError,
		&job.Suggestion,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.RunStatus = domain.RunStatus(runStatus)
	job.CurrentStage = domain.Stage(currentStage)
	return &job, nil
}

// GetJob fetches a job by id.
func (s *PipelineStore) GetJob(ctx context.Context, jobID string) (*domain.VideoJob, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(s.sql.QueryRow(ctx, sqlinline.QSelectVideoJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListStages returns the persisted stage rows of a job.
func (s *PipelineStore) ListStages(ctx context.Context, jobID string) ([]domain.StageStatus, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListJobStages, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StageStatus
	for rows.Next() {
		var (
			st           domain.StageStatus
			stage, state string
		)
		if err := rows.Scan(&stage, &state, &st.Error, &st.Suggestion, &st.Warning, &st.StartedAt, &st.CompletedAt); err != nil {
			return nil, err
		}
		st.JobID = jobID
		st.Stage = domain.Stage(stage)
		st.State = domain.StageState(state)
		out = append(out, st)
	}
	return out, rows.Err()
}

// MarkStageRunning fails with ErrStageConflict unless the stage is pending.
func (s *PipelineStore) MarkStageRunning(ctx context.Context, jobID string, stage domain.Stage) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QMarkStageRunning, jobID, string(stage))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is not pending", domain.ErrStageConflict, stage)
	}
	return nil
}

func (s *PipelineStore) CompleteStage(ctx context.Context, jobID string, stage domain.Stage, warning string) error {
	return s.execOne(ctx, sqlinline.QCompleteStage, jobID, string(stage), warning)
}

func (s *PipelineStore) FailStage(ctx context.Context, jobID string, stage domain.Stage, message, suggestion string) error {
	return s.execOne(ctx, sqlinline.QFailStage, jobID, string(stage), message, suggestion)
}

// ResetStages resets stages in a single statement that refuses to touch a
// job a worker holds or one with a running stage.
func (s *PipelineStore) ResetStages(ctx context.Context, jobID string, stages []domain.Stage, queue bool) error {
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = string(st)
	}
	var busy, exists bool
	if err := s.sql.QueryRow(ctx, sqlinline.QResetStages, jobID, names, queue).Scan(&busy, &exists); err != nil {
		return err
	}
	switch {
	case !exists:
		return domain.ErrNotFound
	case busy:
		return domain.ErrJobBusy
	}
	return nil
}

// RecoverInterrupted resets stages left running by a dead worker.
func (s *PipelineStore) RecoverInterrupted(ctx context.Context, jobID string) (int64, error) {
	tag, err := s.sql.Exec(ctx, sqlinline.QRecoverInterruptedStages, jobID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PipelineStore) SetRunStatus(ctx context.Context, jobID string, status domain.RunStatus, stage domain.Stage, lastError, suggestion string) error {
	return s.execOne(ctx, sqlinline.QSetJobRunStatus, jobID, string(status), string(stage), lastError, suggestion)
}

func (s *PipelineStore) QueueJob(ctx context.Context, jobID string) error {
	return s.execOne(ctx, sqlinline.QQueueVideoJob, jobID)
}

// ClaimJob returns nil when nothing is claimable.
func (s *PipelineStore) ClaimJob(ctx context.Context, lease time.Duration) (*domain.VideoJob, error) {
	job, err := scanJob(s.sql.QueryRow(ctx, sqlinline.QWorkerClaimJob, lease.Seconds()))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func (s *PipelineStore) RenewLease(ctx context.Context, jobID string, lease time.Duration) error {
	_, err := s.sql.Exec(ctx, sqlinline.QWorkerRenewLease, jobID, lease.Seconds())
	return err
}

// jobColumns maps writable names to their QUpdateVideoJobFields parameter
// position, counted after the job id.
var jobColumns = map[string]int{
	"title":                  0,
	"description":            1,
	"translated_title":       2,
	"translated_description": 3,
	"voice_profile":          4,
	"target_language":        5,
	"source_path":            6,
	"duration_seconds":       7,
}

// UpdateJobFields writes only the named columns.
func (s *PipelineStore) UpdateJobFields(ctx context.Context, jobID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	params := make([]any, len(jobColumns))
	for i := range params {
		params[i] = (*string)(nil)
	}
	params[jobColumns["duration_seconds"]] = (*float64)(nil)
	for name, value := range fields {
		idx, ok := jobColumns[strings.ToLower(name)]
		if !ok {
			return fmt.Errorf("%w: %q", domain.ErrUnknownField, name)
		}
		if idx == jobColumns["duration_seconds"] {
			d, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil || d < 0 {
				return fmt.Errorf("%w: duration_seconds %q", domain.ErrInvalidInput, value)
			}
			params[idx] = &d
			continue
		}
		v := value
		params[idx] = &v
	}
	args := append([]any{jobID}, params...)
	return s.execOne(ctx, sqlinline.QUpdateVideoJobFields, args...)
}

// execOne runs a single-row update and maps zero affected rows to
// ErrNotFound.
func (s *PipelineStore) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := s.sql.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
