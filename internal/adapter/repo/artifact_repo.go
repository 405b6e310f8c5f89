package repo

import (
	"context"
	"slices"
	"strings"

	"dubber/internal/domain"
	"dubber/internal/infra"
	"dubber/internal/sqlinline"
)

// GetArtifacts returns every text artifact of a job.
func (s *PipelineStore) GetArtifacts(ctx context.Context, jobID string) (domain.Artifacts, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectJobArtifacts, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(domain.Artifacts)
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return nil, err
		}
		out[domain.ArtifactKind(kind)] = value
	}
	return out, rows.Err()
}

// SaveArtifacts upserts each value, replacing what was stored for its kind.
func (s *PipelineStore) SaveArtifacts(ctx context.Context, jobID string, values domain.Artifacts) error {
	if len(values) == 0 {
		return nil
	}
	kinds := make([]string, 0, len(values))
	for kind := range values {
		kinds = append(kinds, string(kind))
	}
	slices.Sort(kinds)
	texts := make([]string, len(kinds))
	for i, kind := range kinds {
		texts[i] = values[domain.ArtifactKind(kind)]
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertJobArtifacts, jobID, kinds, texts)
	return err
}

func (s *PipelineStore) GetAudio(ctx context.Context, jobID string) (*domain.SynthesizedAudio, error) {
	var rec domain.SynthesizedAudio
	err := s.sql.QueryRow(ctx, sqlinline.QSelectSynthesizedAudio, jobID).
		Scan(&rec.JobID, &rec.Path, &rec.DurationSeconds, &rec.Reconciled, &rec.UpdatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *PipelineStore) SaveAudio(ctx context.Context, rec *domain.SynthesizedAudio) error {
	return s.sql.QueryRow(ctx, sqlinline.QUpsertSynthesizedAudio,
		rec.JobID,
		rec.Path,
		rec.DurationSeconds,
		rec.Reconciled,
	).Scan(&rec.UpdatedAt)
}

// ListVoiceProfiles returns stored profiles ordered by name.
func (s *PipelineStore) ListVoiceProfiles(ctx context.Context) ([]domain.VoiceProfile, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListVoiceProfiles)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.VoiceProfile
	for rows.Next() {
		var p domain.VoiceProfile
		if err := rows.Scan(&p.Name, &p.SamplePath, &p.ReferenceText, &p.ProviderVoice); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveVoiceProfile creates or replaces a profile by name.
func (s *PipelineStore) SaveVoiceProfile(ctx context.Context, p domain.VoiceProfile) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return domain.ErrInvalidInput
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertVoiceProfile, name, p.SamplePath, p.ReferenceText, p.ProviderVoice)
	return err
}
