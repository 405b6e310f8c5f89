// Package reconcile stretches synthesized audio so its duration matches
// the source video within a tolerance.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultTolerance is the accepted duration difference in seconds.
const DefaultTolerance = 0.5

// Media is the subset of the media toolkit the reconciler needs.
type Media interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	StretchAudio(ctx context.Context, in, out string, speed float64) error
}

// Result reports what the reconciler did.
type Result struct {
	Before   float64
	After    float64
	Target   float64
	Speed    float64
	Adjusted bool
}

// Reconciler adjusts audio tempo without changing pitch.
type Reconciler struct {
	media     Media
	tolerance float64
	logger    zerolog.Logger
}

// New constructs a Reconciler. A non-positive tolerance uses the default.
func New(media Media, tolerance float64, logger *zerolog.Logger) *Reconciler {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &Reconciler{media: media, tolerance: tolerance, logger: l}
}

// Reconcile rewrites path in place when its duration is outside the
// tolerance of target.
func (r *Reconciler) Reconcile(ctx context.Context, path string, target float64) (*Result, error) {
	if target <= 0 || math.IsNaN(target) {
		return nil, fmt.Errorf("reconcile: invalid target duration %v", target)
	}
	measured, err := r.media.ProbeDuration(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reconcile: measure: %w", err)
	}
	res := &Result{Before: measured, After: measured, Target: target, Speed: 1}
	if measured <= 0 {
		return nil, errors.New("reconcile: audio has no duration")
	}
	if math.Abs(measured-target) <= r.tolerance {
		return res, nil
	}

	res.Speed = measured / target
	tmp := strings.TrimSuffix(path, filepath.Ext(path)) + ".stretch" + filepath.Ext(path)
	if err := r.media.StretchAudio(ctx, path, tmp, res.Speed); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("reconcile: stretch: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("reconcile: replace audio: %w", err)
	}
	after, err := r.media.ProbeDuration(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("reconcile: re-measure: %w", err)
	}
	res.After = after
	res.Adjusted = true
	r.logger.Info().
		Float64("before", measured).
		Float64("after", after).
		Float64("target", target).
		Float64("speed", res.Speed).
		Msg("reconcile: audio stretched")
	return res, nil
}
