// Package audio concatenates and measures PCM WAV files.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	ErrInvalidWAV     = errors.New("audio: not a valid wav file")
	ErrFormatMismatch = errors.New("audio: wav format mismatch")
	ErrNoInputs       = errors.New("audio: no input files")
)

// Format describes the PCM layout of a WAV file.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitDepth)
}

// Info is the format and duration of a WAV file.
type Info struct {
	Format
	Frames          int
	DurationSeconds float64
}

// Probe reads the header and sample count of the WAV at path.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()
	return probe(f, path)
}

// ProbeReader is Probe for in-memory payloads.
func ProbeReader(r io.ReadSeeker) (Info, error) {
	return probe(r, "payload")
}

func probe(r io.ReadSeeker, name string) (Info, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("%w: %s", ErrInvalidWAV, name)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Info{}, fmt.Errorf("audio: decode %s: %w", name, err)
	}
	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans), BitDepth: int(dec.BitDepth)}
	return infoFor(format, len(buf.Data)), nil
}

func infoFor(format Format, samples int) Info {
	frames := 0
	if format.Channels > 0 {
		frames = samples / format.Channels
	}
	info := Info{Format: format, Frames: frames}
	if format.SampleRate > 0 {
		info.DurationSeconds = float64(frames) / float64(format.SampleRate)
	}
	return info
}

// Concat writes the inputs, in order, into a single WAV at out. Every input
// must share the sample rate, channel count and bit depth of the first one;
// samples are copied without resampling.
func Concat(out string, inputs []string) (Info, error) {
	if len(inputs) == 0 {
		return Info{}, ErrNoInputs
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return Info{}, fmt.Errorf("audio: ensure directory: %w", err)
	}
	tmp := out + ".partial"
	dst, err := os.Create(tmp)
	if err != nil {
		return Info{}, fmt.Errorf("audio: create output: %w", err)
	}
	defer os.Remove(tmp)

	var (
		enc     *wav.Encoder
		format  Format
		samples int
	)
	for i, in := range inputs {
		buf, inFormat, err := decodeFile(in)
		if err != nil {
			dst.Close()
			return Info{}, err
		}
		if enc == nil {
			format = inFormat
			enc = wav.NewEncoder(dst, format.SampleRate, format.BitDepth, format.Channels, 1)
		} else if inFormat != format {
			dst.Close()
			return Info{}, fmt.Errorf("%w: input %d is %s, expected %s", ErrFormatMismatch, i, inFormat, format)
		}
		if err := enc.Write(buf); err != nil {
			dst.Close()
			return Info{}, fmt.Errorf("audio: write input %d: %w", i, err)
		}
		samples += len(buf.Data)
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		return Info{}, fmt.Errorf("audio: finalize: %w", err)
	}
	if err := dst.Close(); err != nil {
		return Info{}, fmt.Errorf("audio: close output: %w", err)
	}
	if err := os.Rename(tmp, out); err != nil {
		return Info{}, fmt.Errorf("audio: replace output: %w", err)
	}
	return infoFor(format, samples), nil
}

func decodeFile(path string) (*goaudio.IntBuffer, Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, Format{}, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans), BitDepth: int(dec.BitDepth)}
	return buf, format, nil
}

// WriteSilence writes a silent 16-bit WAV of the given length. It backs test
// fixtures and placeholder tracks.
func WriteSilence(path string, format Format, seconds float64) error {
	if format.BitDepth == 0 {
		format.BitDepth = 16
	}
	if format.Channels == 0 {
		format.Channels = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	frames := int(seconds * float64(format.SampleRate))
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           make([]int, frames*format.Channels),
		SourceBitDepth: format.BitDepth,
	}
	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, 1)
	if err := enc.Write(buf); err != nil {
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
