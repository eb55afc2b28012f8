package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// CanonicalSampleRate is the rate every segment is sent to recognizers at.
const CanonicalSampleRate = 16000

var (
	// ErrUnsupportedFormat is returned for encodings that cannot be decoded
	// natively and cannot be transcoded.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrCorruptAudio is returned when audio data fails to decode.
	ErrCorruptAudio = errors.New("corrupt audio")
)

// PCM is mono 16-bit linear PCM.
type PCM struct {
	Samples    []int16
	SampleRate int
}

// DurationMs returns the PCM duration in milliseconds, rounded down.
func (p *PCM) DurationMs() int64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return int64(len(p.Samples)) * 1000 / int64(p.SampleRate)
}

// SampleToMs converts a sample offset to milliseconds.
func (p *PCM) SampleToMs(n int) int64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return int64(n) * 1000 / int64(p.SampleRate)
}

// wavFormatPCM and wavFormatExtensible are the WAVE format tags go-audio can
// decode as integer PCM.
const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// DecodeWAV decodes integer PCM WAV data. It returns the interleaved buffer
// (format carries rate and channel count) and the source bit depth.
func DecodeWAV(data []byte) (*goaudio.IntBuffer, int, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: invalid wav header", ErrCorruptAudio)
	}
	if d.WavAudioFormat != wavFormatPCM && d.WavAudioFormat != wavFormatExtensible {
		return nil, 0, fmt.Errorf("%w: wav format tag %d", ErrUnsupportedFormat, d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorruptAudio, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, 0, fmt.Errorf("%w: missing format", ErrCorruptAudio)
	}
	return buf, int(d.BitDepth), nil
}

// ToCanonical downmixes an interleaved integer buffer to mono, rescales it to
// 16 bits and resamples it to CanonicalSampleRate.
func ToCanonical(buf *goaudio.IntBuffer, bitDepth int) *PCM {
	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels

	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int64
		for c := 0; c < channels; c++ {
			sum += int64(scaleTo16(buf.Data[i*channels+c], bitDepth))
		}
		mono[i] = clamp16(sum / int64(channels))
	}

	return &PCM{
		Samples:    Resample(mono, buf.Format.SampleRate, CanonicalSampleRate),
		SampleRate: CanonicalSampleRate,
	}
}

// Resample converts mono samples between rates with linear interpolation.
func Resample(in []int16, from, to int) []int16 {
	if from == to || len(in) == 0 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}

	n := int(int64(len(in)) * int64(to) / int64(from))
	if n == 0 {
		n = 1
	}
	out := make([]int16, n)
	ratio := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(j)
		v := float64(in[j])*(1-frac) + float64(in[j+1])*frac
		out[i] = clamp16(int64(v))
	}
	return out
}

// DecodeRawS16LE interprets little-endian signed 16-bit mono bytes.
func DecodeRawS16LE(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

func scaleTo16(v, bitDepth int) int {
	switch {
	case bitDepth == 8:
		// 8-bit WAV is unsigned.
		return (v - 128) << 8
	case bitDepth > 16:
		return v >> (bitDepth - 16)
	default:
		return v
	}
}

func clamp16(v int64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
