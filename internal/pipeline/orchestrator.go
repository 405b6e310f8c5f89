// Package pipeline drives a job through its stages in dependency order,
// persisting every transition so runs can resume after a restart.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dubber/internal/audio"
	"dubber/internal/domain"
	"dubber/internal/events"
	"dubber/internal/retry"
	"dubber/internal/storage"
)

// RunContext is handed to a stage runner.
type RunContext struct {
	Job       *domain.VideoJob
	Artifacts domain.Artifacts
	// WorkDir is private to this job run and removed when the run ends.
	WorkDir string
}

// Outcome is what a successful runner reports back.
type Outcome struct {
	Warning string
}

// StageRunner executes one stage. It must persist its outputs before
// returning so the stage is only marked completed once they are durable.
type StageRunner func(ctx context.Context, rc *RunContext) (Outcome, error)

// Gate bounds concurrent CPU-heavy stages across jobs.
type Gate interface {
	Acquire(ctx context.Context, n int64) error
	Release(n int64)
}

// cpuStages hold a Gate slot while running.
var cpuStages = map[domain.Stage]bool{
	domain.StageDownload:           true,
	domain.StageTranscription:      true,
	domain.StageDurationAdjustment: true,
	domain.StageComposition:        true,
}

// Options wires an Orchestrator.
type Options struct {
	Jobs      domain.JobRepository
	Artifacts domain.ArtifactRepository
	Files     *storage.FileStore
	Runners   map[domain.Stage]StageRunner
	Events    events.Publisher
	Gate      Gate
	WorkDir   string
	Logger    *zerolog.Logger
}

// Orchestrator owns stage sequencing for every job.
type Orchestrator struct {
	jobs      domain.JobRepository
	artifacts domain.ArtifactRepository
	files     *storage.FileStore
	runners   map[domain.Stage]StageRunner
	events    events.Publisher
	gate      Gate
	workDir   string
	logger    zerolog.Logger
}

// New constructs an Orchestrator.
func New(opts Options) *Orchestrator {
	l := zerolog.New(io.Discard)
	if opts.Logger != nil {
		l = *opts.Logger
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Orchestrator{
		jobs:      opts.Jobs,
		artifacts: opts.Artifacts,
		files:     opts.Files,
		runners:   opts.Runners,
		events:    opts.Events,
		gate:      opts.Gate,
		workDir:   workDir,
		logger:    l,
	}
}

// Create registers a new job. Either a source URL or a local source path
// is required.
func (o *Orchestrator) Create(ctx context.Context, job *domain.VideoJob) error {
	if strings.TrimSpace(job.SourceURL) == "" && strings.TrimSpace(job.SourcePath) == "" {
		return fmt.Errorf("%w: source_url is required", domain.ErrInvalidInput)
	}
	job.RunStatus = domain.RunNotStarted
	return o.jobs.CreateJob(ctx, job)
}

// Status returns the job with its stage board in canonical order.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*domain.VideoJob, []domain.StageStatus, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	statuses, err := o.jobs.ListStages(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, domain.NewStageBoard(statuses).Ordered(jobID), nil
}

// Start queues a job that is not running. A job with failed stages resumes
// from the earliest failed stage.
func (o *Orchestrator) Start(ctx context.Context, jobID string) error {
	job, board, err := o.load(ctx, jobID)
	if err != nil {
		return err
	}
	if _, running := board.Running(); running || job.RunStatus == domain.RunRunning {
		return domain.ErrJobBusy
	}
	for _, s := range domain.Stages {
		if board.State(s) == domain.StateFailed {
			return o.jobs.ResetStages(ctx, jobID, domain.StagesFrom(s), true)
		}
	}
	if job.RunStatus == domain.RunQueued {
		return nil
	}
	return o.jobs.QueueJob(ctx, jobID)
}

// RetryStage resets stage and every later stage to pending and queues the
// job. Upstream stages and their artifacts are untouched.
func (o *Orchestrator) RetryStage(ctx context.Context, jobID string, stage domain.Stage) error {
	if stage.Index() < 0 {
		return fmt.Errorf("%w: %q", domain.ErrUnknownStage, stage)
	}
	if _, err := o.jobs.GetJob(ctx, jobID); err != nil {
		return err
	}
	if err := o.jobs.ResetStages(ctx, jobID, domain.StagesFrom(stage), true); err != nil {
		return err
	}
	o.logger.Info().Str("job_id", jobID).Str("stage", string(stage)).Msg("pipeline: stage reset for retry")
	return nil
}

// Reprocess reruns the whole pipeline.
func (o *Orchestrator) Reprocess(ctx context.Context, jobID string) error {
	return o.RetryStage(ctx, jobID, domain.StageDownload)
}

// Run executes pending stages until the job completes, a stage fails or ctx
// is cancelled. Cancellation leaves the current stage running so the next
// claim recovers it.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	log := o.logger.With().Str("job_id", jobID).Logger()
	if n, err := o.jobs.RecoverInterrupted(ctx, jobID); err != nil {
		return fmt.Errorf("pipeline: recover interrupted: %w", err)
	} else if n > 0 {
		log.Warn().Int64("stages", n).Msg("pipeline: reset interrupted stages")
	}

	if err := os.MkdirAll(o.workDir, 0o755); err != nil {
		return fmt.Errorf("pipeline: prepare work dir: %w", err)
	}
	workDir, err := os.MkdirTemp(o.workDir, "job-"+jobID+"-")
	if err != nil {
		return fmt.Errorf("pipeline: create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := o.jobs.SetRunStatus(ctx, jobID, domain.RunRunning, "", "", ""); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, board, err := o.load(ctx, jobID)
		if err != nil {
			return err
		}
		if board.Done() {
			if err := o.jobs.SetRunStatus(ctx, jobID, domain.RunCompleted, "", "", ""); err != nil {
				return err
			}
			o.publish(ctx, events.Event{JobID: jobID, Type: events.TypeJobCompleted})
			log.Info().Msg("pipeline: job completed")
			return nil
		}
		stage, ok := board.Next()
		if !ok {
			return o.blocked(ctx, jobID, board)
		}
		artifacts, err := o.artifacts.GetArtifacts(ctx, jobID)
		if err != nil {
			return err
		}
		if err := o.jobs.MarkStageRunning(ctx, jobID, stage); err != nil {
			return err
		}
		if err := o.jobs.SetRunStatus(ctx, jobID, domain.RunRunning, stage, "", ""); err != nil {
			return err
		}
		o.publish(ctx, events.Event{JobID: jobID, Type: events.TypeStageRunning, Stage: stage})
		log.Info().Str("stage", string(stage)).Msg("pipeline: stage started")

		started := time.Now()
		outcome, runErr := o.runStage(ctx, stage, &RunContext{Job: job, Artifacts: artifacts, WorkDir: workDir})
		if runErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return o.fail(ctx, jobID, stage, runErr)
		}
		if err := o.jobs.CompleteStage(ctx, jobID, stage, outcome.Warning); err != nil {
			return err
		}
		o.publish(ctx, events.Event{JobID: jobID, Type: events.TypeStageCompleted, Stage: stage, Warning: outcome.Warning})
		ev := log.Info().Str("stage", string(stage)).Dur("elapsed", time.Since(started))
		if outcome.Warning != "" {
			ev = ev.Str("warning", outcome.Warning)
		}
		ev.Msg("pipeline: stage completed")
	}
}

func (o *Orchestrator) runStage(ctx context.Context, stage domain.Stage, rc *RunContext) (Outcome, error) {
	runner, ok := o.runners[stage]
	if !ok {
		return Outcome{}, retry.Permanent(fmt.Errorf("no runner configured for stage %s", stage))
	}
	if o.gate != nil && cpuStages[stage] {
		if err := o.gate.Acquire(ctx, 1); err != nil {
			return Outcome{}, err
		}
		defer o.gate.Release(1)
	}
	return runner(ctx, rc)
}

// fail records a stage failure on both the stage and the job.
func (o *Orchestrator) fail(ctx context.Context, jobID string, stage domain.Stage, runErr error) error {
	message, suggestion := DescribeFailure(runErr)
	o.logger.Error().
		Err(runErr).
		Str("job_id", jobID).
		Str("stage", string(stage)).
		Str("kind", string(FailureKind(runErr))).
		Msg("pipeline: stage failed")
	if err := o.jobs.FailStage(ctx, jobID, stage, message, suggestion); err != nil {
		return errors.Join(runErr, err)
	}
	if err := o.jobs.SetRunStatus(ctx, jobID, domain.RunFailed, stage, message, suggestion); err != nil {
		return errors.Join(runErr, err)
	}
	o.publish(ctx, events.Event{JobID: jobID, Type: events.TypeStageFailed, Stage: stage, Message: message, Suggestion: suggestion})
	o.publish(ctx, events.Event{JobID: jobID, Type: events.TypeJobFailed, Stage: stage, Message: message, Suggestion: suggestion})
	return &StageError{Stage: stage, Err: runErr}
}

// blocked handles a board with no runnable stage that is not done, which
// only happens when a failed stage was left in place.
func (o *Orchestrator) blocked(ctx context.Context, jobID string, board domain.StageBoard) error {
	for _, s := range domain.Stages {
		st := board[s]
		if st.State != domain.StateFailed {
			continue
		}
		suggestion := st.Suggestion
		if suggestion == "" {
			suggestion = fmt.Sprintf("retry the %s stage", s)
		}
		if err := o.jobs.SetRunStatus(ctx, jobID, domain.RunFailed, s, st.Error, suggestion); err != nil {
			return err
		}
		return &StageError{Stage: s, Err: errors.New(st.Error)}
	}
	err := errors.New("no runnable stage")
	_ = o.jobs.SetRunStatus(ctx, jobID, domain.RunFailed, "", err.Error(), "reprocess the job")
	return err
}

func (o *Orchestrator) load(ctx context.Context, jobID string) (*domain.VideoJob, domain.StageBoard, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	statuses, err := o.jobs.ListStages(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, domain.NewStageBoard(statuses), nil
}

func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Warn().Err(err).Str("job_id", event.JobID).Str("type", string(event.Type)).Msg("pipeline: publish event failed")
	}
}

// Editable fields of the status-update contract.
var (
	jobFields = map[string]bool{
		"title":                  true,
		"description":            true,
		"translated_title":       true,
		"translated_description": true,
		"voice_profile":          true,
		"target_language":        true,
	}
	artifactFields = map[string]domain.ArtifactKind{
		"transcript":            domain.ArtifactTranscript,
		"translated_transcript": domain.ArtifactTranslatedTranscript,
		"summary":               domain.ArtifactSummary,
		"script":                domain.ArtifactScript,
		"tags":                  domain.ArtifactTags,
	}
)

// UpdateFields writes only the given fields. Unknown names are rejected
// before anything is written.
func (o *Orchestrator) UpdateFields(ctx context.Context, jobID string, fields map[string]string) error {
	jobValues := make(map[string]string)
	artifactValues := make(domain.Artifacts)
	for name, value := range fields {
		key := strings.ToLower(strings.TrimSpace(name))
		switch {
		case jobFields[key]:
			jobValues[key] = value
		case artifactFields[key] != "":
			if key == "tags" {
				value = domain.JoinTags(domain.SplitTags(value))
			}
			artifactValues[artifactFields[key]] = value
		default:
			return fmt.Errorf("%w: %q", domain.ErrUnknownField, name)
		}
	}
	if _, err := o.jobs.GetJob(ctx, jobID); err != nil {
		return err
	}
	if len(jobValues) > 0 {
		if err := o.jobs.UpdateJobFields(ctx, jobID, jobValues); err != nil {
			return err
		}
	}
	if len(artifactValues) > 0 {
		if err := o.artifacts.SaveArtifacts(ctx, jobID, artifactValues); err != nil {
			return err
		}
	}
	return nil
}

// UploadAudio replaces the synthesized track with user-supplied WAV data,
// marks synthesis completed and resets every later stage.
func (o *Orchestrator) UploadAudio(ctx context.Context, jobID string, data []byte) (*domain.SynthesizedAudio, error) {
	job, board, err := o.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, running := board.Running(); running || job.RunStatus == domain.RunRunning {
		return nil, domain.ErrJobBusy
	}
	info, err := audio.ProbeReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	key := storage.StageKey(storage.KindAudio, jobID, domain.StageSynthesis, "wav")
	if _, err := o.files.Write(ctx, key, data); err != nil {
		return nil, err
	}
	path, err := o.files.Path(key)
	if err != nil {
		return nil, err
	}
	rec := &domain.SynthesizedAudio{
		JobID:           jobID,
		Path:            path,
		DurationSeconds: info.DurationSeconds,
		Reconciled:      false,
	}
	if err := o.artifacts.SaveAudio(ctx, rec); err != nil {
		return nil, err
	}
	if err := o.jobs.ResetStages(ctx, jobID, domain.StagesFrom(domain.StageDurationAdjustment), false); err != nil {
		return nil, err
	}
	if err := o.jobs.CompleteStage(ctx, jobID, domain.StageSynthesis, "audio uploaded manually"); err != nil {
		return nil, err
	}
	o.logger.Info().Str("job_id", jobID).Float64("duration", info.DurationSeconds).Msg("pipeline: audio uploaded")
	return rec, nil
}
