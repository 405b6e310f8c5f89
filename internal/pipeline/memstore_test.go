package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"dubber/internal/domain"
)

// memStore is an in-memory JobRepository and ArtifactRepository with the
// same conditional semantics as the SQL repository.
type memStore struct {
	mu        sync.Mutex
	jobs      map[string]*domain.VideoJob
	stages    map[string]map[domain.Stage]domain.StageStatus
	artifacts map[string]domain.Artifacts
	audio     map[string]domain.SynthesizedAudio
	leases    map[string]time.Time
	now       func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      map[string]*domain.VideoJob{},
		stages:    map[string]map[domain.Stage]domain.StageStatus{},
		artifacts: map[string]domain.Artifacts{},
		audio:     map[string]domain.SynthesizedAudio{},
		leases:    map[string]time.Time{},
		now:       time.Now,
	}
}

func (m *memStore) CreateJob(_ context.Context, job *domain.VideoJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", len(m.jobs)+1)
	}
	cp := *job
	m.jobs[job.ID] = &cp
	board := map[domain.Stage]domain.StageStatus{}
	for _, s := range domain.Stages {
		board[s] = domain.StageStatus{JobID: job.ID, Stage: s, State: domain.StatePending}
	}
	m.stages[job.ID] = board
	return nil
}

func (m *memStore) GetJob(_ context.Context, jobID string) (*domain.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) ListStages(_ context.Context, jobID string) ([]domain.StageStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StageStatus
	for _, s := range domain.Stages {
		if st, ok := m.stages[jobID][s]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *memStore) setStage(jobID string, stage domain.Stage, fn func(*domain.StageStatus)) {
	st := m.stages[jobID][stage]
	st.JobID, st.Stage = jobID, stage
	fn(&st)
	m.stages[jobID][stage] = st
}

func (m *memStore) MarkStageRunning(_ context.Context, jobID string, stage domain.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stages[jobID][stage].State != domain.StatePending {
		return domain.ErrStageConflict
	}
	now := m.now()
	m.setStage(jobID, stage, func(st *domain.StageStatus) {
		st.State = domain.StateRunning
		st.StartedAt = &now
		st.CompletedAt = nil
		st.Error, st.Suggestion, st.Warning = "", "", ""
	})
	return nil
}

func (m *memStore) CompleteStage(_ context.Context, jobID string, stage domain.Stage, warning string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.setStage(jobID, stage, func(st *domain.StageStatus) {
		st.State = domain.StateCompleted
		st.Warning = warning
		st.Error, st.Suggestion = "", ""
		st.CompletedAt = &now
	})
	return nil
}

func (m *memStore) FailStage(_ context.Context, jobID string, stage domain.Stage, message, suggestion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.setStage(jobID, stage, func(st *domain.StageStatus) {
		st.State = domain.StateFailed
		st.Error, st.Suggestion = message, suggestion
		st.CompletedAt = &now
	})
	return nil
}

func (m *memStore) ResetStages(_ context.Context, jobID string, stages []domain.Stage, queue bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.RunStatus == domain.RunRunning {
		return domain.ErrJobBusy
	}
	for _, st := range m.stages[jobID] {
		if st.State == domain.StateRunning {
			return domain.ErrJobBusy
		}
	}
	for _, s := range stages {
		m.stages[jobID][s] = domain.StageStatus{JobID: jobID, Stage: s, State: domain.StatePending}
	}
	job.LastError, job.Suggestion = "", ""
	if queue {
		job.RunStatus = domain.RunQueued
	}
	return nil
}

func (m *memStore) RecoverInterrupted(_ context.Context, jobID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for s, st := range m.stages[jobID] {
		if st.State == domain.StateRunning {
			m.stages[jobID][s] = domain.StageStatus{JobID: jobID, Stage: s, State: domain.StatePending}
			n++
		}
	}
	return n, nil
}

func (m *memStore) SetRunStatus(_ context.Context, jobID string, status domain.RunStatus, stage domain.Stage, lastError, suggestion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.RunStatus = status
	job.CurrentStage = stage
	job.LastError, job.Suggestion = lastError, suggestion
	if status != domain.RunRunning {
		delete(m.leases, jobID)
	}
	return nil
}

func (m *memStore) QueueJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.RunStatus = domain.RunQueued
	return nil
}

func (m *memStore) ClaimJob(_ context.Context, lease time.Duration) (*domain.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var picked *domain.VideoJob
	for _, job := range m.jobs {
		expired := job.RunStatus == domain.RunRunning && now.After(m.leases[job.ID])
		if job.RunStatus != domain.RunQueued && !expired {
			continue
		}
		if picked == nil || job.CreatedAt.Before(picked.CreatedAt) {
			picked = job
		}
	}
	if picked == nil {
		return nil, nil
	}
	picked.RunStatus = domain.RunRunning
	m.leases[picked.ID] = now.Add(lease)
	cp := *picked
	return &cp, nil
}

func (m *memStore) RenewLease(_ context.Context, jobID string, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return domain.ErrNotFound
	}
	m.leases[jobID] = m.now().Add(lease)
	return nil
}

func (m *memStore) UpdateJobFields(_ context.Context, jobID string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "title":
			job.Title = v
		case "description":
			job.Description = v
		case "translated_title":
			job.TranslatedTitle = v
		case "translated_description":
			job.TranslatedDescription = v
		case "voice_profile":
			job.VoiceProfile = v
		case "target_language":
			job.TargetLanguage = v
		case "source_path":
			job.SourcePath = v
		case "duration_seconds":
			d, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			job.DurationSeconds = d
		default:
			return domain.ErrUnknownField
		}
	}
	return nil
}

func (m *memStore) GetArtifacts(_ context.Context, jobID string) (domain.Artifacts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := domain.Artifacts{}
	for k, v := range m.artifacts[jobID] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SaveArtifacts(_ context.Context, jobID string, values domain.Artifacts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.artifacts[jobID] == nil {
		m.artifacts[jobID] = domain.Artifacts{}
	}
	for k, v := range values {
		m.artifacts[jobID][k] = v
	}
	return nil
}

func (m *memStore) GetAudio(_ context.Context, jobID string) (*domain.SynthesizedAudio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.audio[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

func (m *memStore) SaveAudio(_ context.Context, rec *domain.SynthesizedAudio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audio[rec.JobID] = *rec
	return nil
}

func (m *memStore) state(jobID string, stage domain.Stage) domain.StageState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stages[jobID][stage].State
}

func (m *memStore) force(jobID string, stage domain.Stage, state domain.StageState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStage(jobID, stage, func(st *domain.StageStatus) { st.State = state })
}
