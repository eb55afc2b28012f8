// Package segment cuts canonical PCM into bounded, ordered segments for
// per-segment recognition.
package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/snarg/speech-bridge/internal/audio"
)

// Mode selects how cut points are chosen.
type Mode int

const (
	// ModeSilence cuts inside silence gaps, force-cutting speech that runs
	// longer than the segment limit.
	ModeSilence Mode = iota
	// ModeFixed cuts every MaxSegment regardless of content.
	ModeFixed
)

func (m Mode) String() string {
	switch m {
	case ModeSilence:
		return "silence"
	case ModeFixed:
		return "fixed"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a config value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "silence", "":
		return ModeSilence, nil
	case "fixed":
		return ModeFixed, nil
	}
	return 0, fmt.Errorf("unknown segment mode %q", s)
}

// Options controls segmentation.
type Options struct {
	Mode               Mode
	MaxSegment         time.Duration
	SilenceThresholdDB float64
	MinSilence         time.Duration
}

// DefaultOptions returns silence-aware segmentation with 20 s segments,
// a -40 dBFS threshold and 700 ms minimum gaps.
func DefaultOptions() Options {
	return Options{
		Mode:               ModeSilence,
		MaxSegment:         20 * time.Second,
		SilenceThresholdDB: -40,
		MinSilence:         700 * time.Millisecond,
	}
}

// Segment is a slice of the source audio with an immutable ordinal.
type Segment struct {
	Index      int
	StartMs    int64
	EndMs      int64
	SampleRate int
	// Samples aliases the source PCM and must be treated as read-only.
	Samples []int16
}

// DurationMs returns EndMs - StartMs.
func (s Segment) DurationMs() int64 { return s.EndMs - s.StartMs }

// WAV encodes the segment as a standalone mono 16-bit WAV file.
func (s Segment) WAV() ([]byte, error) {
	return audio.EncodeWAV(s.Samples, s.SampleRate)
}

// ErrInvalidOptions is returned for non-positive limits or missing input.
var ErrInvalidOptions = errors.New("invalid segment options")

// Split cuts pcm into ordered segments that together cover the whole input
// without gaps or overlap. No segment is longer than MaxSegment, rounded to
// whole samples. A fully silent input yields no segments.
func Split(pcm *audio.PCM, opts Options) ([]Segment, error) {
	if pcm == nil || pcm.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: missing pcm or sample rate", ErrInvalidOptions)
	}
	if opts.MaxSegment <= 0 {
		return nil, fmt.Errorf("%w: max segment %s", ErrInvalidOptions, opts.MaxSegment)
	}

	n := len(pcm.Samples)
	if n == 0 {
		return nil, nil
	}

	rate := pcm.SampleRate
	maxSamples := max(durationToSamples(opts.MaxSegment, rate), 1)
	frameLen := max(rate*frameMs/1000, 1)

	voiced := voicedFrames(pcm.Samples, frameLen, opts.SilenceThresholdDB)
	if !anyVoiced(voiced) {
		return nil, nil
	}

	var cuts []int
	if opts.Mode == ModeSilence {
		minSilence := max(durationToSamples(opts.MinSilence, rate), 1)
		cuts = cutCandidates(voiced, frameLen, n, minSilence)
	}

	bounds := pack(n, maxSamples, cuts)
	segs := make([]Segment, len(bounds)-1)
	for i := range segs {
		lo, hi := bounds[i], bounds[i+1]
		segs[i] = Segment{
			Index:      i,
			StartMs:    pcm.SampleToMs(lo),
			EndMs:      pcm.SampleToMs(hi),
			SampleRate: rate,
			Samples:    pcm.Samples[lo:hi],
		}
	}
	return segs, nil
}

// pack walks from sample 0 to n, ending each segment at the furthest cut
// candidate within maxSamples, or exactly at maxSamples when none fits.
// It returns the boundary offsets, starting with 0 and ending with n.
func pack(n, maxSamples int, cuts []int) []int {
	bounds := []int{0}
	start, ci := 0, 0
	for start < n {
		end := n
		if n-start > maxSamples {
			limit := start + maxSamples
			end = limit
			for ci < len(cuts) && cuts[ci] <= start {
				ci++
			}
			for j := ci; j < len(cuts) && cuts[j] <= limit; j++ {
				end = cuts[j]
			}
		}
		bounds = append(bounds, end)
		start = end
	}
	return bounds
}

func durationToSamples(d time.Duration, rate int) int {
	return int(int64(d) * int64(rate) / int64(time.Second))
}
