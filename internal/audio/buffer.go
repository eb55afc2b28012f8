package audio

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
)

// ErrEmptyAudio is returned when an upload carries no audio bytes.
var ErrEmptyAudio = errors.New("empty audio")

// Buffer is an uploaded recording plus the metadata probed at ingestion.
// It is never modified after NewBuffer returns.
type Buffer struct {
	data       []byte
	filename   string
	container  string
	sampleRate int
	channels   int
}

// NewBuffer wraps raw upload bytes. WAV headers are probed for sample rate
// and channel count; other containers report zero for both and are left to
// the transcoder.
func NewBuffer(data []byte, filename string) (*Buffer, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	b := &Buffer{
		data:      data,
		filename:  filename,
		container: strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
	}

	if isRIFF(data) {
		d := wav.NewDecoder(bytes.NewReader(data))
		d.ReadInfo()
		if err := d.Err(); err != nil {
			return nil, fmt.Errorf("read wav header: %w", err)
		}
		if !d.IsValidFile() {
			return nil, fmt.Errorf("invalid wav file %q", filename)
		}
		b.container = "wav"
		b.sampleRate = int(d.SampleRate)
		b.channels = int(d.NumChans)
	}

	return b, nil
}

// Bytes returns the encoded audio. Callers must not modify it.
func (b *Buffer) Bytes() []byte { return b.data }

// Filename returns the upload's original filename.
func (b *Buffer) Filename() string { return b.filename }

// Container returns "wav" for RIFF/WAVE input, otherwise the lowercased file extension.
func (b *Buffer) Container() string { return b.container }

// SampleRate returns the probed sample rate, or 0 if unknown.
func (b *Buffer) SampleRate() int { return b.sampleRate }

// Channels returns the probed channel count, or 0 if unknown.
func (b *Buffer) Channels() int { return b.channels }

// IsWAV reports whether the buffer holds a RIFF/WAVE file.
func (b *Buffer) IsWAV() bool { return b.container == "wav" && isRIFF(b.data) }

func isRIFF(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
