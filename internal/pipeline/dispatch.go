package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/speech-bridge/internal/segment"
	"github.com/snarg/speech-bridge/internal/transcribe"
)

// Result is the outcome of one segment call. Recognized is false when the
// call failed or returned no text; the slot is kept either way.
type Result struct {
	Index      int
	Text       string
	Recognized bool
	Err        error
}

// DispatchOptions bounds the fan-out.
type DispatchOptions struct {
	MaxInFlight int           // 0 = one goroutine per segment
	Timeout     time.Duration // per call attempt
	Attempts    int           // 1 or 2
	Backoff     time.Duration // wait before the second attempt

	// RetryUnavailable also retries ErrUnavailable (5xx, transport errors).
	// Rate-limited calls are always eligible.
	RetryUnavailable bool
}

// DefaultDispatchOptions returns no in-flight cap, a 30s call timeout and no retry.
func DefaultDispatchOptions() DispatchOptions {
	return DispatchOptions{
		Timeout:          30 * time.Second,
		Attempts:         1,
		Backoff:          500 * time.Millisecond,
		RetryUnavailable: true,
	}
}

// maxAttempts caps retries regardless of configuration.
const maxAttempts = 2

// Dispatcher sends segments to a transcription client concurrently and
// collects results by segment index.
type Dispatcher struct {
	client transcribe.Client
	opts   DispatchOptions
	obs    Observer
	log    zerolog.Logger
}

// NewDispatcher creates a dispatcher. A nil observer records nothing.
func NewDispatcher(client transcribe.Client, opts DispatchOptions, obs Observer, log zerolog.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDispatchOptions().Timeout
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Attempts > maxAttempts {
		opts.Attempts = maxAttempts
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Dispatcher{client: client, opts: opts, obs: obs, log: log}
}

// Dispatch transcribes every segment and returns one Result per segment in
// index order. Individual failures are recorded in their slot. If every call
// fails the results are still returned alongside an AllSegmentsFailed error.
// If ctx ends first, ctx.Err() is returned and the results are discarded.
func (d *Dispatcher) Dispatch(ctx context.Context, segs []segment.Segment, source, target string) ([]Result, error) {
	results := make([]Result, len(segs))
	if len(segs) == 0 {
		return results, nil
	}

	limit := d.opts.MaxInFlight
	if limit <= 0 || limit > len(segs) {
		limit = len(segs)
	}

	// Goroutines never return an error: one segment must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range segs {
		seg := segs[i]
		g.Go(func() error {
			results[i] = d.transcribe(ctx, seg, source, target)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	var lastErr error
	for _, r := range results {
		if r.Err != nil {
			failed++
			lastErr = r.Err
		}
	}
	if failed == len(results) {
		return results, newError(KindAllSegmentsFailed, lastErr, "all %d segment calls failed", failed)
	}
	return results, nil
}

// transcribe runs one segment through the client with at most maxAttempts
// tries. Only rate-limit failures, and availability failures when enabled,
// are retried.
func (d *Dispatcher) transcribe(ctx context.Context, seg segment.Segment, source, target string) Result {
	res := Result{Index: seg.Index}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	wav, err := seg.WAV()
	if err != nil {
		res.Err = err
		return res
	}
	req := transcribe.Request{
		Audio:          wav,
		SampleRate:     seg.SampleRate,
		SourceLanguage: source,
		TargetLanguage: target,
	}

	log := d.log.With().Int("segment", seg.Index).Int64("start_ms", seg.StartMs).Int64("end_ms", seg.EndMs).Logger()
	backoff := d.opts.Backoff

	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
		start := time.Now()
		d.obs.CallStarted()
		resp, err := d.client.Transcribe(callCtx, req)
		cancel()
		d.obs.CallFinished(callStatus(resp, err), time.Since(start))

		if err == nil {
			res.Text = strings.TrimSpace(resp.Text)
			res.Recognized = res.Text != ""
			if !res.Recognized {
				log.Debug().Msg("segment returned no text")
			}
			return res
		}

		if attempt >= d.opts.Attempts || !d.retryable(err) || ctx.Err() != nil {
			res.Err = err
			log.Warn().Err(err).Int("attempt", attempt).Str("status", callStatus(nil, err)).Msg("segment call failed")
			return res
		}

		d.obs.CallRetried()
		log.Debug().Err(err).Dur("backoff", backoff).Msg("retrying segment call")
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (d *Dispatcher) retryable(err error) bool {
	if errors.Is(err, transcribe.ErrRateLimited) {
		return true
	}
	return d.opts.RetryUnavailable && transcribe.Retryable(err)
}

// callStatus labels a call outcome for metrics and logs.
func callStatus(resp *transcribe.Response, err error) string {
	switch {
	case err == nil && resp != nil && strings.TrimSpace(resp.Text) != "":
		return "ok"
	case err == nil:
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return string(KindTimeout)
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, transcribe.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, transcribe.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, transcribe.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, transcribe.ErrInvalidAudio):
		return "invalid_audio"
	default:
		return "error"
	}
}
