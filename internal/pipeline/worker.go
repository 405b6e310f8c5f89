package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dubber/internal/domain"
	"dubber/internal/retry"
)

// Runner executes one claimed job.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// WorkerOptions configures the claim loops.
type WorkerOptions struct {
	PoolSize     int
	PollInterval time.Duration
	Lease        time.Duration
	Logger       *zerolog.Logger
}

// Worker runs PoolSize claim loops against the job queue.
type Worker struct {
	jobs   domain.JobRepository
	runner Runner
	opts   WorkerOptions
	logger zerolog.Logger
}

// NewWorker constructs a Worker.
func NewWorker(jobs domain.JobRepository, runner Runner, opts WorkerOptions) *Worker {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Lease <= 0 {
		opts.Lease = 10 * time.Minute
	}
	l := zerolog.New(io.Discard)
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Worker{jobs: jobs, runner: runner, opts: opts, logger: l}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.PoolSize; i++ {
		slot := i
		g.Go(func() error {
			return w.loop(ctx, slot)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) error {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if ctx.Err() != nil {
			return nil
		}
		claimed, err := w.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("worker: claim failed")
		}
		if claimed {
			continue
		}
		if err := retry.Sleep(ctx, w.opts.PollInterval); err != nil {
			return nil
		}
	}
}

// ProcessNext claims and runs at most one job. It reports whether a job was
// claimed. Stage failures are recorded on the job and not returned.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimJob(ctx, w.opts.Lease)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	log := w.logger.With().Str("job_id", job.ID).Logger()
	log.Info().Msg("worker: picked job")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.heartbeat(runCtx, job.ID)

	runErr := w.runner.Run(runCtx, job.ID)
	var stageErr *StageError
	switch {
	case runErr == nil:
		log.Info().Msg("worker: job finished")
	case errors.As(runErr, &stageErr):
		log.Warn().Err(runErr).Str("stage", string(stageErr.Stage)).Msg("worker: job failed")
	case ctx.Err() != nil:
		log.Info().Msg("worker: job interrupted by shutdown")
	default:
		log.Error().Err(runErr).Msg("worker: job aborted")
	}
	return true, nil
}

// heartbeat extends the lease while the job runs.
func (w *Worker) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.opts.Lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.jobs.RenewLease(ctx, jobID, w.opts.Lease); err != nil && ctx.Err() == nil {
				w.logger.Warn().Err(err).Str("job_id", jobID).Msg("worker: lease renewal failed")
			}
		}
	}
}
