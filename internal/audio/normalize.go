package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Normalizer converts uploaded recordings to canonical mono 16 kHz PCM.
// WAV input is decoded in-process; anything else is piped through ffmpeg
// when transcoding is enabled. Nothing is written to disk.
type Normalizer struct {
	ffmpegPath string
	transcode  bool

	once      sync.Once
	available bool
}

// NewNormalizer creates a normalizer. ffmpegPath may be a bare command name
// resolved through PATH.
func NewNormalizer(ffmpegPath string, transcode bool) *Normalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Normalizer{ffmpegPath: ffmpegPath, transcode: transcode}
}

// TranscodeAvailable reports whether non-WAV input can be handled. The PATH
// lookup happens once per normalizer.
func (n *Normalizer) TranscodeAvailable() bool {
	if !n.transcode {
		return false
	}
	n.once.Do(func() {
		_, err := exec.LookPath(n.ffmpegPath)
		n.available = err == nil
	})
	return n.available
}

// Normalize decodes b into canonical PCM. It is deterministic for a given
// input and leaves b untouched.
func (n *Normalizer) Normalize(ctx context.Context, b *Buffer) (*PCM, error) {
	if b.IsWAV() {
		buf, bitDepth, err := DecodeWAV(b.Bytes())
		if err == nil {
			return ToCanonical(buf, bitDepth), nil
		}
		// Float or compressed WAV payloads still go to ffmpeg if we have it.
		if !errors.Is(err, ErrUnsupportedFormat) || !n.TranscodeAvailable() {
			return nil, err
		}
	}

	if !n.TranscodeAvailable() {
		return nil, fmt.Errorf("%w: %q needs ffmpeg transcoding, which is unavailable", ErrUnsupportedFormat, b.Container())
	}
	return n.ffmpeg(ctx, b.Bytes())
}

// ffmpeg streams data through ffmpeg's stdin and reads raw s16le mono 16 kHz
// from stdout. Raw output avoids the unseekable-WAV header problem on pipes.
func (n *Normalizer) ffmpeg(ctx context.Context, data []byte) (*PCM, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, n.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", CanonicalSampleRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrCorruptAudio, err, msg)
	}
	if stdout.Len() < 2 {
		return nil, fmt.Errorf("%w: ffmpeg produced no audio", ErrCorruptAudio)
	}

	return &PCM{
		Samples:    DecodeRawS16LE(stdout.Bytes()),
		SampleRate: CanonicalSampleRate,
	}, nil
}
