package domain

import "time"

// RunStatus enumerates the overall lifecycle of a video job.
type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunQueued     RunStatus = "queued"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// VideoJob is the aggregate root for one source video.
type VideoJob struct {
	ID                    string
	SourceURL             string
	Title                 string
	Description           string
	TranslatedTitle       string
	TranslatedDescription string
	SourcePath            string
	DurationSeconds       float64
	VoiceProfile          string
	TargetLanguage        string
	RunStatus             RunStatus
	CurrentStage          Stage
	LastError             string
	Suggestion            string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SynthesizedAudio is the dubbed audio track of a job.
type SynthesizedAudio struct {
	JobID           string
	Path            string
	DurationSeconds float64
	Reconciled      bool
	UpdatedAt       time.Time
}

// VoiceProfile names a stored reference sample used to condition speech.
type VoiceProfile struct {
	Name          string
	SamplePath    string
	ReferenceText string
	ProviderVoice string
}
