// Package compose muxes the dubbed audio track onto the source video.
package compose

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"dubber/internal/retry"
)

// Media is the subset of the media toolkit the compositor needs.
type Media interface {
	StripAudio(ctx context.Context, in, out string) error
	Mux(ctx context.Context, video, audio, out string) error
}

// Request names the inputs and outputs of one composition.
type Request struct {
	VideoPath  string
	AudioPath  string
	SilentPath string
	OutPath    string
}

// Compositor produces the final dubbed video.
type Compositor struct {
	media  Media
	logger zerolog.Logger
}

// New constructs a Compositor.
func New(media Media, logger *zerolog.Logger) *Compositor {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &Compositor{media: media, logger: l}
}

// Compose strips the original audio and muxes in the dubbed track. Any
// failure is permanent; there is no automatic fallback.
func (c *Compositor) Compose(ctx context.Context, req Request) error {
	for _, p := range []string{req.VideoPath, req.AudioPath} {
		if _, err := os.Stat(p); err != nil {
			return retry.Permanent(fmt.Errorf("compose: input %s: %w", p, err))
		}
	}
	if err := c.media.StripAudio(ctx, req.VideoPath, req.SilentPath); err != nil {
		return retry.Permanent(fmt.Errorf("compose: strip audio: %w", err))
	}
	if err := c.media.Mux(ctx, req.SilentPath, req.AudioPath, req.OutPath); err != nil {
		_ = os.Remove(req.OutPath)
		return retry.Permanent(fmt.Errorf("compose: mux: %w", err))
	}
	c.logger.Info().Str("out", req.OutPath).Msg("compose: video ready")
	return nil
}
