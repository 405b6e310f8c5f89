// Package cli implements dubctl, the operator command line for the dubbing
// pipeline.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dubber/internal/adapter/repo"
	"dubber/internal/db"
	"dubber/internal/domain"
	"dubber/internal/infra"
	"dubber/internal/infra/credentials"
	"dubber/internal/pipeline"
	"dubber/internal/storage"
)

// JobControl is the orchestrator surface dubctl drives.
type JobControl interface {
	Create(ctx context.Context, job *domain.VideoJob) error
	Status(ctx context.Context, jobID string) (*domain.VideoJob, []domain.StageStatus, error)
	Start(ctx context.Context, jobID string) error
	RetryStage(ctx context.Context, jobID string, stage domain.Stage) error
	Reprocess(ctx context.Context, jobID string) error
	UpdateFields(ctx context.Context, jobID string, fields map[string]string) error
	UploadAudio(ctx context.Context, jobID string, data []byte) (*domain.SynthesizedAudio, error)
}

// KeyStore keeps provider API keys in the database.
type KeyStore interface {
	SetToken(ctx context.Context, provider, key string) error
	DeleteToken(ctx context.Context, provider string) error
}

// Deps are the collaborators a command may use.
type Deps struct {
	Jobs    JobControl
	Keys    KeyStore
	Voices  interface{ SaveVoiceProfile(ctx context.Context, p domain.VoiceProfile) error }
	Files   *storage.FileStore
	Migrate func(ctx context.Context) error
}

// Opener connects the dependencies. The returned func releases them.
type Opener func(ctx context.Context) (*Deps, func(), error)

func Main() {
	root := NewRootCommand(openDatabase)
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand assembles dubctl around open.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "dubctl",
		Short:         "Operate the short-video dubbing pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Duration("timeout", 2*time.Minute, "Timeout for the whole command")

	c := &commands{open: open}
	root.AddCommand(
		c.create(),
		c.start(),
		c.retry(),
		c.reprocess(),
		c.status(),
		c.set(),
		c.uploadAudio(),
		c.setKey(),
		c.unsetKey(),
		c.addVoice(),
		c.migrate(),
	)
	return root
}

func openDatabase(ctx context.Context) (*Deps, func(), error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogFile).With().Str("cmd", "dubctl").Logger()

	pool, err := infra.NewDBPool(ctx, cfg, "dubctl")
	if err != nil {
		return nil, nil, err
	}
	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	runner := infra.NewSQLRunner(pool, logger)
	store := repo.NewPipelineStore(runner)
	orch := pipeline.New(pipeline.Options{
		Jobs:      store,
		Artifacts: store,
		Files:     files,
		WorkDir:   cfg.WorkDir,
		Logger:    &logger,
	})
	deps := &Deps{
		Jobs:   orch,
		Keys:   credentials.NewStore(runner),
		Voices: store,
		Files:  files,
		Migrate: func(ctx context.Context) error {
			return db.Migrate(ctx, runner)
		},
	}
	return deps, pool.Close, nil
}
