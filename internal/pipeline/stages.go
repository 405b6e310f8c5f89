package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"dubber/internal/compose"
	"dubber/internal/domain"
	"dubber/internal/media"
	"dubber/internal/reconcile"
	"dubber/internal/retry"
	"dubber/internal/storage"
	"dubber/internal/synthesis"
	"dubber/internal/textgen"
	"dubber/internal/transcription"
)

// Fetcher downloads the source video and reads its metadata.
type Fetcher interface {
	FetchMetadata(ctx context.Context, url string) (media.Metadata, error)
	Download(ctx context.Context, url, out string) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// Transcriber runs the transcription stage.
type Transcriber interface {
	Transcribe(ctx context.Context, videoPath, workDir, languageHint string) (*transcription.Result, error)
}

// TextGenerator runs the translation, summarization and script stages.
type TextGenerator interface {
	Translate(ctx context.Context, in textgen.TranslateInput) (*textgen.Translation, error)
	Summarize(ctx context.Context, transcript, targetLanguage string) (*textgen.Summary, error)
	WriteScript(ctx context.Context, in textgen.ScriptInput) (string, error)
}

// Synthesizer runs the synthesis stage.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synthesis.Request) (*synthesis.Result, error)
}

// Reconciler runs the duration adjustment stage.
type Reconciler interface {
	Reconcile(ctx context.Context, path string, target float64) (*reconcile.Result, error)
}

// Compositor runs the composition stage.
type Compositor interface {
	Compose(ctx context.Context, req compose.Request) error
}

// Publisher runs the publish stage.
type Publisher interface {
	Publish(ctx context.Context, job *domain.VideoJob, artifacts domain.Artifacts, videoPath string) (string, error)
}

// Services are the collaborators the stage runners call.
type Services struct {
	Jobs        domain.JobRepository
	Artifacts   domain.ArtifactRepository
	Files       *storage.FileStore
	Fetcher     Fetcher
	Transcriber Transcriber
	Text        TextGenerator
	Synthesizer Synthesizer
	Reconciler  Reconciler
	Compositor  Compositor
	Publisher   Publisher
	// TargetLanguage applies when a job does not set its own.
	TargetLanguage string
}

const (
	artifactSourceVideo    = "source_video"
	artifactSourceDuration = "source_duration"
	artifactAudio          = "synthesized_audio"
	artifactComposedVideo  = "composed_video"
)

// NewRunners builds the runner table for every stage.
func NewRunners(svc Services) map[domain.Stage]StageRunner {
	s := &stageSet{svc: svc}
	return map[domain.Stage]StageRunner{
		domain.StageDownload:           s.download,
		domain.StageTranscription:      s.transcription,
		domain.StageTranslation:        s.translation,
		domain.StageSummarization:      s.summarization,
		domain.StageScript:             s.script,
		domain.StageSynthesis:          s.synthesis,
		domain.StageDurationAdjustment: s.durationAdjustment,
		domain.StageComposition:        s.composition,
		domain.StagePublish:            s.publish,
	}
}

type stageSet struct {
	svc Services
}

func (s *stageSet) targetLanguage(job *domain.VideoJob) string {
	if job.TargetLanguage != "" {
		return job.TargetLanguage
	}
	return s.svc.TargetLanguage
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

func (s *stageSet) download(ctx context.Context, rc *RunContext) (Outcome, error) {
	job := rc.Job
	fields := map[string]string{}
	var warnings []string

	path := job.SourcePath
	if !fileExists(path) {
		if strings.TrimSpace(job.SourceURL) == "" {
			return Outcome{}, retry.Permanent(errors.New("download: job has neither a source url nor a local file"))
		}
		key := storage.StageKey(storage.KindVideo, job.ID, domain.StageDownload, "mp4")
		var err error
		path, err = s.svc.Files.Prepare(key)
		if err != nil {
			return Outcome{}, err
		}
		meta, err := s.svc.Fetcher.FetchMetadata(ctx, job.SourceURL)
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, err
			}
			warnings = append(warnings, fmt.Sprintf("metadata unavailable: %v", err))
		} else {
			if job.Title == "" && meta.Title != "" {
				fields["title"] = meta.Title
			}
			if job.Description == "" && meta.Description != "" {
				fields["description"] = meta.Description
			}
		}
		if err := s.svc.Fetcher.Download(ctx, job.SourceURL, path); err != nil {
			return Outcome{}, fmt.Errorf("download: %w", err)
		}
		fields["source_path"] = path
	}

	duration, err := s.svc.Fetcher.ProbeDuration(ctx, path)
	if err != nil {
		return Outcome{}, fmt.Errorf("download: probe duration: %w", err)
	}
	fields["duration_seconds"] = strconv.FormatFloat(duration, 'f', 3, 64)
	if err := s.svc.Jobs.UpdateJobFields(ctx, job.ID, fields); err != nil {
		return Outcome{}, err
	}
	return Outcome{Warning: strings.Join(warnings, "; ")}, nil
}

func (s *stageSet) transcription(ctx context.Context, rc *RunContext) (Outcome, error) {
	job := rc.Job
	if !fileExists(job.SourcePath) {
		return Outcome{}, &domain.MissingArtifactError{Artifact: artifactSourceVideo, Producer: domain.StageDownload}
	}
	res, err := s.svc.Transcriber.Transcribe(ctx, job.SourcePath, rc.WorkDir, "")
	if err != nil {
		return Outcome{}, err
	}
	if strings.TrimSpace(res.Text) == "" {
		return Outcome{}, errors.New("transcription: no speech recognised")
	}
	err = s.svc.Artifacts.SaveArtifacts(ctx, job.ID, domain.Artifacts{
		domain.ArtifactTranscript:          res.Text,
		domain.ArtifactTranscriptLanguage:  res.Language,
		domain.ArtifactTranscriptSecondary: res.Secondary,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Warning: res.Warning()}, nil
}

func (s *stageSet) translation(ctx context.Context, rc *RunContext) (Outcome, error) {
	transcript, err := rc.Artifacts.Require(domain.ArtifactTranscript)
	if err != nil {
		return Outcome{}, err
	}
	job := rc.Job
	out, err := s.svc.Text.Translate(ctx, textgen.TranslateInput{
		Transcript:     transcript,
		Title:          job.Title,
		Description:    job.Description,
		TargetLanguage: s.targetLanguage(job),
	})
	if err != nil {
		return Outcome{}, err
	}
	if err := s.svc.Artifacts.SaveArtifacts(ctx, job.ID, domain.Artifacts{domain.ArtifactTranslatedTranscript: out.Transcript}); err != nil {
		return Outcome{}, err
	}
	fields := map[string]string{}
	if out.Title != "" {
		fields["translated_title"] = out.Title
	}
	if out.Description != "" {
		fields["translated_description"] = out.Description
	}
	if len(fields) > 0 {
		if err := s.svc.Jobs.UpdateJobFields(ctx, job.ID, fields); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{}, nil
}

func (s *stageSet) summarization(ctx context.Context, rc *RunContext) (Outcome, error) {
	transcript, err := rc.Artifacts.Require(domain.ArtifactTranscript)
	if err != nil {
		return Outcome{}, err
	}
	sum, err := s.svc.Text.Summarize(ctx, transcript, s.targetLanguage(rc.Job))
	if err != nil {
		return Outcome{}, err
	}
	err = s.svc.Artifacts.SaveArtifacts(ctx, rc.Job.ID, domain.Artifacts{
		domain.ArtifactSummary: sum.Summary,
		domain.ArtifactTags:    domain.JoinTags(sum.Tags),
	})
	return Outcome{}, err
}

func (s *stageSet) script(ctx context.Context, rc *RunContext) (Outcome, error) {
	translated, err := rc.Artifacts.Require(domain.ArtifactTranslatedTranscript)
	if err != nil {
		return Outcome{}, err
	}
	summary, err := rc.Artifacts.Require(domain.ArtifactSummary)
	if err != nil {
		return Outcome{}, err
	}
	text, err := s.svc.Text.WriteScript(ctx, textgen.ScriptInput{
		TranslatedTranscript: translated,
		Summary:              summary,
		TargetLanguage:       s.targetLanguage(rc.Job),
		DurationSeconds:      rc.Job.DurationSeconds,
	})
	if err != nil {
		return Outcome{}, err
	}
	err = s.svc.Artifacts.SaveArtifacts(ctx, rc.Job.ID, domain.Artifacts{domain.ArtifactScript: text})
	return Outcome{}, err
}

func (s *stageSet) synthesis(ctx context.Context, rc *RunContext) (Outcome, error) {
	script, err := rc.Artifacts.Require(domain.ArtifactScript)
	if err != nil {
		return Outcome{}, err
	}
	job := rc.Job
	out, err := s.svc.Files.Prepare(storage.StageKey(storage.KindAudio, job.ID, domain.StageSynthesis, "wav"))
	if err != nil {
		return Outcome{}, err
	}
	res, err := s.svc.Synthesizer.Synthesize(ctx, synthesis.Request{
		Script:         script,
		Voice:          job.VoiceProfile,
		TargetDuration: job.DurationSeconds,
		OutPath:        out,
		WorkDir:        rc.WorkDir,
	})
	if err != nil {
		return Outcome{}, err
	}
	err = s.svc.Artifacts.SaveAudio(ctx, &domain.SynthesizedAudio{
		JobID:           job.ID,
		Path:            res.Path,
		DurationSeconds: res.DurationSeconds,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Warning: res.Warning}, nil
}

func (s *stageSet) requireAudio(ctx context.Context, jobID string) (*domain.SynthesizedAudio, error) {
	rec, err := s.svc.Artifacts.GetAudio(ctx, jobID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if rec == nil || !fileExists(rec.Path) {
		return nil, &domain.MissingArtifactError{Artifact: artifactAudio, Producer: domain.StageSynthesis}
	}
	return rec, nil
}

func (s *stageSet) durationAdjustment(ctx context.Context, rc *RunContext) (Outcome, error) {
	job := rc.Job
	if job.DurationSeconds <= 0 {
		return Outcome{}, &domain.MissingArtifactError{Artifact: artifactSourceDuration, Producer: domain.StageDownload}
	}
	rec, err := s.requireAudio(ctx, job.ID)
	if err != nil {
		return Outcome{}, err
	}
	res, err := s.svc.Reconciler.Reconcile(ctx, rec.Path, job.DurationSeconds)
	if err != nil {
		return Outcome{}, err
	}
	rec.DurationSeconds = res.After
	rec.Reconciled = true
	if err := s.svc.Artifacts.SaveAudio(ctx, rec); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, nil
}

func (s *stageSet) composition(ctx context.Context, rc *RunContext) (Outcome, error) {
	job := rc.Job
	if !fileExists(job.SourcePath) {
		return Outcome{}, &domain.MissingArtifactError{Artifact: artifactSourceVideo, Producer: domain.StageDownload}
	}
	rec, err := s.requireAudio(ctx, job.ID)
	if err != nil {
		return Outcome{}, err
	}
	silent, err := s.svc.Files.Prepare(storage.StageKeySuffix(storage.KindVideo, job.ID, domain.StageComposition, "silent", "mp4"))
	if err != nil {
		return Outcome{}, err
	}
	out, err := s.svc.Files.Prepare(storage.StageKey(storage.KindVideo, job.ID, domain.StageComposition, "mp4"))
	if err != nil {
		return Outcome{}, err
	}
	err = s.svc.Compositor.Compose(ctx, compose.Request{
		VideoPath:  job.SourcePath,
		AudioPath:  rec.Path,
		SilentPath: silent,
		OutPath:    out,
	})
	return Outcome{}, err
}

func (s *stageSet) publish(ctx context.Context, rc *RunContext) (Outcome, error) {
	path, err := s.svc.Files.Path(storage.StageKey(storage.KindVideo, rc.Job.ID, domain.StageComposition, "mp4"))
	if err != nil {
		return Outcome{}, err
	}
	if !fileExists(path) {
		return Outcome{}, &domain.MissingArtifactError{Artifact: artifactComposedVideo, Producer: domain.StageComposition}
	}
	if _, err := s.svc.Publisher.Publish(ctx, rc.Job, rc.Artifacts, path); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, nil
}
