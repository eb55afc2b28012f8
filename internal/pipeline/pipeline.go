// Package pipeline turns one uploaded recording into translated text:
// normalize, segment, transcribe each segment concurrently, merge.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/speech-bridge/internal/audio"
	"github.com/snarg/speech-bridge/internal/segment"
	"github.com/snarg/speech-bridge/internal/transcribe"
)

// Normalizer converts uploaded audio into canonical PCM.
type Normalizer interface {
	Normalize(ctx context.Context, b *audio.Buffer) (*audio.PCM, error)
}

// Options configures a Pipeline.
type Options struct {
	Segment    segment.Options
	Dispatch   DispatchOptions
	MinOverlap int
}

// DefaultOptions returns silence-aware segmentation, unbounded fan-out and a
// 10 character overlap threshold.
func DefaultOptions() Options {
	return Options{
		Segment:    segment.DefaultOptions(),
		Dispatch:   DefaultDispatchOptions(),
		MinOverlap: DefaultMinOverlap,
	}
}

// Outcome is a successful run. Degraded is set when some segment calls failed
// and their audio is missing from Text.
type Outcome struct {
	RunID          string `json:"run_id"`
	Text           string `json:"translated_text"`
	Degraded       bool   `json:"degraded"`
	Segments       int    `json:"segments"`
	FailedSegments int    `json:"failed_segments"`
}

// Pipeline is safe for concurrent use. Runs share no mutable state; the
// observer is the only shared collaborator.
type Pipeline struct {
	norm       Normalizer
	dispatcher *Dispatcher
	opts       Options
	obs        Observer
	log        zerolog.Logger
}

// New creates a pipeline. A nil observer records nothing.
func New(client transcribe.Client, norm Normalizer, opts Options, obs Observer, log zerolog.Logger) *Pipeline {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Pipeline{
		norm:       norm,
		dispatcher: NewDispatcher(client, opts.Dispatch, obs, log),
		opts:       opts,
		obs:        obs,
		log:        log,
	}
}

// Run translates buf from source to target. Language codes are checked
// before the audio is touched.
func (p *Pipeline) Run(ctx context.Context, buf *audio.Buffer, source, target string) (out *Outcome, err error) {
	runID := uuid.NewString()
	log := p.log.With().Str("run_id", runID).Str("source", source).Str("target", target).Logger()

	start := time.Now()
	p.obs.RunStarted()
	defer func() {
		p.obs.RunFinished(runLabel(out, err), time.Since(start))
	}()

	if err := ValidateLanguages(source, target); err != nil {
		return nil, err
	}

	segs, err := p.segment(ctx, buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Msg("segmentation failed")
		return nil, err
	}
	log.Debug().Int("segments", len(segs)).Str("mode", p.opts.Segment.Mode.String()).Msg("audio segmented")

	results, err := p.dispatcher.Dispatch(ctx, segs, source, target)
	if err != nil {
		if KindOf(err) == KindAllSegmentsFailed {
			log.Error().Err(err).Int("segments", len(segs)).Msg("no segment could be transcribed")
		}
		return nil, err
	}

	if err := checkSlots(results, segs); err != nil {
		log.Error().Err(err).
			Int("segments", len(segs)).
			Int("results", len(results)).
			Interface("spans", spans(segs)).
			Msg("merge aborted")
		return nil, err
	}

	out = &Outcome{
		RunID:    runID,
		Text:     Merge(results, p.opts.MinOverlap),
		Segments: len(segs),
	}
	for _, r := range results {
		if r.Err != nil {
			out.FailedSegments++
		}
	}
	out.Degraded = out.FailedSegments > 0
	if out.Degraded {
		log.Warn().Int("failed", out.FailedSegments).Int("segments", out.Segments).Msg("partial recognition")
	}
	log.Info().Int("segments", out.Segments).Dur("elapsed", time.Since(start)).Msg("run complete")
	return out, nil
}

// segment normalizes and splits the audio. Every failure, including an empty
// split, is a SegmentationFailure.
func (p *Pipeline) segment(ctx context.Context, buf *audio.Buffer) ([]segment.Segment, error) {
	if buf == nil || len(buf.Bytes()) == 0 {
		return nil, newError(KindSegmentationFailure, audio.ErrEmptyAudio, "no audio provided")
	}
	pcm, err := p.norm.Normalize(ctx, buf)
	if err != nil {
		return nil, newError(KindSegmentationFailure, err, "could not decode %s audio", buf.Container())
	}
	segs, err := segment.Split(pcm, p.opts.Segment)
	if err != nil {
		return nil, newError(KindSegmentationFailure, err, "could not segment audio")
	}
	if len(segs) == 0 {
		return nil, newError(KindSegmentationFailure, nil, "no speech detected in %dms of audio", pcm.DurationMs())
	}
	return segs, nil
}

// checkSlots verifies one result per segment in index order.
func checkSlots(results []Result, segs []segment.Segment) error {
	if len(results) != len(segs) {
		return newError(KindInternalMerge, nil, "%d results for %d segments", len(results), len(segs))
	}
	for i := range results {
		if results[i].Index != segs[i].Index || segs[i].Index != i {
			return newError(KindInternalMerge, nil, "slot %d holds result %d for segment %d", i, results[i].Index, segs[i].Index)
		}
	}
	return nil
}

func spans(segs []segment.Segment) [][2]int64 {
	out := make([][2]int64, len(segs))
	for i, s := range segs {
		out[i] = [2]int64{s.StartMs, s.EndMs}
	}
	return out
}

// runLabel names a run outcome for metrics.
func runLabel(out *Outcome, err error) string {
	if err == nil {
		if out != nil && out.Degraded {
			return string(KindDegraded)
		}
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}
