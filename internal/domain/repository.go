package domain

import (
	"context"
	"time"
)

// JobRepository persists video jobs and their stage board.
type JobRepository interface {
	CreateJob(ctx context.Context, job *VideoJob) error
	GetJob(ctx context.Context, jobID string) (*VideoJob, error)
	ListStages(ctx context.Context, jobID string) ([]StageStatus, error)
	// MarkStageRunning succeeds only if the stage is pending.
	MarkStageRunning(ctx context.Context, jobID string, stage Stage) error
	CompleteStage(ctx context.Context, jobID string, stage Stage, warning string) error
	FailStage(ctx context.Context, jobID string, stage Stage, message, suggestion string) error
	// ResetStages moves the given stages back to pending, clears the job
	// error and optionally queues the job in the same statement. It fails
	// with ErrJobBusy when any stage of the job is running.
	ResetStages(ctx context.Context, jobID string, stages []Stage, queue bool) error
	RecoverInterrupted(ctx context.Context, jobID string) (int64, error)
	SetRunStatus(ctx context.Context, jobID string, status RunStatus, stage Stage, lastError, suggestion string) error
	QueueJob(ctx context.Context, jobID string) error
	// ClaimJob locks the oldest queued job, or a running job whose lease
	// expired, and returns nil when there is none.
	ClaimJob(ctx context.Context, lease time.Duration) (*VideoJob, error)
	RenewLease(ctx context.Context, jobID string, lease time.Duration) error
	UpdateJobFields(ctx context.Context, jobID string, fields map[string]string) error
}

// ArtifactRepository persists text artifacts and the synthesized audio record.
type ArtifactRepository interface {
	GetArtifacts(ctx context.Context, jobID string) (Artifacts, error)
	SaveArtifacts(ctx context.Context, jobID string, values Artifacts) error
	GetAudio(ctx context.Context, jobID string) (*SynthesizedAudio, error)
	SaveAudio(ctx context.Context, audio *SynthesizedAudio) error
}

// VoiceRepository lists stored voice profiles.
type VoiceRepository interface {
	ListVoiceProfiles(ctx context.Context) ([]VoiceProfile, error)
}
