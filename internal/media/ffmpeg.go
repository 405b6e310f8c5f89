package media

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Options configures the Toolkit binaries and per-command timeout.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	YTDLPPath   string
	Timeout     time.Duration
	Runner      Runner
}

// Toolkit wraps the media binaries used by the pipeline.
type Toolkit struct {
	ffmpeg  string
	ffprobe string
	ytdlp   string
	timeout time.Duration
	runner  Runner
}

// New constructs a Toolkit, defaulting binaries to $PATH lookups.
func New(opts Options) *Toolkit {
	t := &Toolkit{
		ffmpeg:  coalesce(opts.FFmpegPath, "ffmpeg"),
		ffprobe: coalesce(opts.FFprobePath, "ffprobe"),
		ytdlp:   coalesce(opts.YTDLPPath, "yt-dlp"),
		timeout: opts.Timeout,
		runner:  opts.Runner,
	}
	if t.runner == nil {
		t.runner = ExecRunner{}
	}
	return t
}

func (t *Toolkit) run(ctx context.Context, tool, bin string, args ...string) (Result, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	res, err := t.runner.Run(ctx, bin, args...)
	if err != nil {
		return res, &CommandError{Tool: tool, Args: args, ExitCode: res.ExitCode, Output: res.Stderr + res.Stdout, Err: err}
	}
	return res, nil
}

// ExtractAudio writes a 16 kHz mono PCM WAV suitable for speech recognition.
func (t *Toolkit) ExtractAudio(ctx context.Context, in, out string) error {
	_, err := t.run(ctx, "ffmpeg extract audio", t.ffmpeg,
		"-hide_banner", "-nostdin", "-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		out,
	)
	return err
}

// ProbeDuration returns the container duration in seconds.
func (t *Toolkit) ProbeDuration(ctx context.Context, path string) (float64, error) {
	res, err := t.run(ctx, "ffprobe duration", t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(res.Stdout)
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return sec, nil
}

// StretchAudio changes tempo by speed without altering pitch. A speed above
// one shortens the audio.
func (t *Toolkit) StretchAudio(ctx context.Context, in, out string, speed float64) error {
	filter, err := AtempoFilter(speed)
	if err != nil {
		return err
	}
	_, err = t.run(ctx, "ffmpeg atempo", t.ffmpeg,
		"-hide_banner", "-nostdin", "-y",
		"-i", in,
		"-filter:a", filter,
		"-c:a", "pcm_s16le",
		out,
	)
	return err
}

// StripAudio copies the video stream of in to out without any audio.
func (t *Toolkit) StripAudio(ctx context.Context, in, out string) error {
	_, err := t.run(ctx, "ffmpeg strip audio", t.ffmpeg,
		"-hide_banner", "-nostdin", "-y",
		"-i", in,
		"-an",
		"-c:v", "copy",
		out,
	)
	return err
}

// Mux combines the first video stream of video with the first audio stream
// of audio, both starting at zero, trimmed to the shorter stream.
func (t *Toolkit) Mux(ctx context.Context, video, audio, out string) error {
	_, err := t.run(ctx, "ffmpeg mux", t.ffmpeg,
		"-hide_banner", "-nostdin", "-y",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-avoid_negative_ts", "make_zero",
		out,
	)
	return err
}

// AtempoChain splits speed into factors inside the [0.5, 2.0] range accepted
// by every ffmpeg build. The product of the factors equals speed.
func AtempoChain(speed float64) ([]float64, error) {
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return nil, fmt.Errorf("media: invalid tempo %v", speed)
	}
	var factors []float64
	for speed > 2.0 {
		factors = append(factors, 2.0)
		speed /= 2.0
	}
	for speed < 0.5 {
		factors = append(factors, 0.5)
		speed /= 0.5
	}
	return append(factors, speed), nil
}

// AtempoFilter renders the atempo chain for speed as an audio filter.
func AtempoFilter(speed float64) (string, error) {
	factors, err := AtempoChain(speed)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(factors))
	for i, f := range factors {
		parts[i] = "atempo=" + strconv.FormatFloat(f, 'f', 6, 64)
	}
	return strings.Join(parts, ","), nil
}

// Metadata is the subset of yt-dlp's info JSON the pipeline uses.
type Metadata struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	Extractor   string  `json:"extractor"`
}

// FetchMetadata asks yt-dlp for the info JSON of url without downloading.
func (t *Toolkit) FetchMetadata(ctx context.Context, url string) (Metadata, error) {
	res, err := t.run(ctx, "yt-dlp metadata", t.ytdlp, "--no-playlist", "--no-warnings", "-J", url)
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(res.Stdout), &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode yt-dlp metadata: %w", err)
	}
	return meta, nil
}

// Download fetches url into out as mp4.
func (t *Toolkit) Download(ctx context.Context, url, out string) error {
	_, err := t.run(ctx, "yt-dlp download", t.ytdlp,
		"--no-playlist", "--no-warnings", "--no-part",
		"-f", "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/b",
		"--merge-output-format", "mp4",
		"--force-overwrites",
		"-o", out,
		url,
	)
	return err
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
