package domain

import (
	"fmt"
	"strings"
	"time"
)

// Stage identifies one independently retryable unit of pipeline work.
type Stage string

const (
	StageDownload           Stage = "download"
	StageTranscription      Stage = "transcription"
	StageTranslation        Stage = "translation"
	StageSummarization      Stage = "summarization"
	StageScript             Stage = "script"
	StageSynthesis          Stage = "synthesis"
	StageDurationAdjustment Stage = "duration_adjustment"
	StageComposition        Stage = "composition"
	StagePublish            Stage = "publish"
)

// Stages lists every stage in canonical order. Dependencies always precede
// their dependents in this order.
var Stages = []Stage{
	StageDownload,
	StageTranscription,
	StageTranslation,
	StageSummarization,
	StageScript,
	StageSynthesis,
	StageDurationAdjustment,
	StageComposition,
	StagePublish,
}

var stageDependencies = map[Stage][]Stage{
	StageDownload:           nil,
	StageTranscription:      {StageDownload},
	StageTranslation:        {StageTranscription},
	StageSummarization:      {StageTranscription},
	StageScript:             {StageTranslation, StageSummarization},
	StageSynthesis:          {StageScript},
	StageDurationAdjustment: {StageSynthesis},
	StageComposition:        {StageDurationAdjustment, StageDownload},
	StagePublish:            {StageComposition, StageSummarization},
}

// ParseStage resolves a stage name, accepting dashes in place of underscores.
func ParseStage(name string) (Stage, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	switch normalized {
	case "script_generation":
		normalized = string(StageScript)
	case "duration_adjust", "reconcile":
		normalized = string(StageDurationAdjustment)
	}
	s := Stage(normalized)
	if _, ok := stageDependencies[s]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return s, nil
}

// DependsOn returns the stages that must be completed before s may run.
func (s Stage) DependsOn() []Stage {
	return stageDependencies[s]
}

// Index returns the canonical position of s, or -1 when unknown.
func (s Stage) Index() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// StagesFrom returns s and every stage after it in canonical order.
func StagesFrom(s Stage) []Stage {
	idx := s.Index()
	if idx < 0 {
		return nil
	}
	out := make([]Stage, len(Stages)-idx)
	copy(out, Stages[idx:])
	return out
}

// StageState is the lifecycle of a single stage.
type StageState string

const (
	StatePending   StageState = "pending"
	StateRunning   StageState = "running"
	StateCompleted StageState = "completed"
	StateFailed    StageState = "failed"
)

// StageStatus is the persisted record of one stage for one job.
type StageStatus struct {
	JobID       string
	Stage       Stage
	State       StageState
	Error       string
	Suggestion  string
	Warning     string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// StageBoard indexes stage statuses by stage. Missing stages read as pending.
type StageBoard map[Stage]StageStatus

// NewStageBoard builds a board from persisted rows.
func NewStageBoard(statuses []StageStatus) StageBoard {
	board := make(StageBoard, len(statuses))
	for _, st := range statuses {
		board[st.Stage] = st
	}
	return board
}

// State returns the state of s, defaulting to pending.
func (b StageBoard) State(s Stage) StageState {
	if st, ok := b[s]; ok && st.State != "" {
		return st.State
	}
	return StatePending
}

// Ready reports whether every dependency of s is completed.
func (b StageBoard) Ready(s Stage) bool {
	for _, dep := range s.DependsOn() {
		if b.State(dep) != StateCompleted {
			return false
		}
	}
	return true
}

// Running returns the first stage currently marked running, if any.
func (b StageBoard) Running() (Stage, bool) {
	for _, s := range Stages {
		if b.State(s) == StateRunning {
			return s, true
		}
	}
	return "", false
}

// Next returns the first pending stage in canonical order whose
// dependencies are completed.
func (b StageBoard) Next() (Stage, bool) {
	for _, s := range Stages {
		if b.State(s) != StatePending {
			continue
		}
		if b.Ready(s) {
			return s, true
		}
	}
	return "", false
}

// Done reports whether every stage is completed.
func (b StageBoard) Done() bool {
	for _, s := range Stages {
		if b.State(s) != StateCompleted {
			return false
		}
	}
	return true
}

// Ordered returns statuses in canonical order, filling gaps with pending.
func (b StageBoard) Ordered(jobID string) []StageStatus {
	out := make([]StageStatus, 0, len(Stages))
	for _, s := range Stages {
		st, ok := b[s]
		if !ok {
			st = StageStatus{JobID: jobID, Stage: s, State: StatePending}
		}
		out = append(out, st)
	}
	return out
}
