// Package publish writes the finished video and its metadata into the
// published outbox directory for pickup by an external uploader.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"dubber/internal/domain"
	"dubber/internal/storage"
	"dubber/pkg/zip"
)

// Manifest is written next to the published video.
type Manifest struct {
	JobID          string    `json:"job_id"`
	SourceURL      string    `json:"source_url"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Summary        string    `json:"summary"`
	Tags           []string  `json:"tags"`
	TargetLanguage string    `json:"target_language"`
	Video          string    `json:"video"`
	Bundle         string    `json:"bundle"`
	Duration       float64   `json:"duration_seconds"`
	PublishedAt    time.Time `json:"published_at"`
}

// Outbox copies artifacts under published/<jobID>/.
type Outbox struct {
	files *storage.FileStore
	now   func() time.Time
}

// NewOutbox constructs the publisher.
func NewOutbox(files *storage.FileStore) *Outbox {
	return &Outbox{files: files, now: time.Now}
}

// Publish copies videoPath, writes manifest.json and packs both with the
// narration script into bundle.zip. It returns the storage key of the
// manifest.
func (o *Outbox) Publish(ctx context.Context, job *domain.VideoJob, artifacts domain.Artifacts, videoPath string) (string, error) {
	videoKey := storage.StageKey(storage.KindPublished, job.ID, domain.StagePublish, "mp4")
	if _, err := o.files.Import(ctx, videoKey, videoPath); err != nil {
		return "", fmt.Errorf("publish: copy video: %w", err)
	}
	bundleKey := fmt.Sprintf("%s/%s/bundle.zip", storage.KindPublished, job.ID)
	title := job.TranslatedTitle
	if title == "" {
		title = job.Title
	}
	description := job.TranslatedDescription
	if description == "" {
		description = job.Description
	}
	manifest := Manifest{
		JobID:          job.ID,
		SourceURL:      job.SourceURL,
		Title:          title,
		Description:    description,
		Summary:        artifacts.Get(domain.ArtifactSummary),
		Tags:           artifacts.Tags(),
		TargetLanguage: job.TargetLanguage,
		Video:          videoKey,
		Bundle:         bundleKey,
		Duration:       job.DurationSeconds,
		PublishedAt:    o.now().UTC(),
	}
	if manifest.Tags == nil {
		manifest.Tags = []string{}
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("publish: encode manifest: %w", err)
	}
	key := fmt.Sprintf("%s/%s/manifest.json", storage.KindPublished, job.ID)
	if _, err := o.files.Write(ctx, key, data); err != nil {
		return "", fmt.Errorf("publish: write manifest: %w", err)
	}

	entries := []zip.Entry{
		{Name: "manifest.json", Data: data},
		{Name: "video.mp4", Path: videoPath},
	}
	if script := artifacts.Get(domain.ArtifactScript); script != "" {
		entries = append(entries, zip.Entry{Name: "script.txt", Data: []byte(script)})
	}
	if err := o.writeBundle(bundleKey, entries, manifest.PublishedAt); err != nil {
		return "", err
	}
	return key, nil
}

func (o *Outbox) writeBundle(key string, entries []zip.Entry, modified time.Time) error {
	full, err := o.files.Prepare(key)
	if err != nil {
		return err
	}
	tmp := full + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("publish: create bundle: %w", err)
	}
	if err := zip.Write(f, entries, modified); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("publish: write bundle: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish: close bundle: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish: commit bundle: %w", err)
	}
	return nil
}
