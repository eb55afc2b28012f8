package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/speech-bridge/internal/audio"
	"github.com/snarg/speech-bridge/internal/segment"
	"github.com/snarg/speech-bridge/internal/transcribe"
)

const rate = audio.CanonicalSampleRate

// tone returns a square wave whose first sample is +amp.
func tone(d time.Duration, amp int16) []int16 {
	n := int(d.Seconds() * rate)
	out := make([]int16, n)
	for i := range out {
		if (i/8)%2 == 0 {
			out[i] = amp
		} else {
			out[i] = -amp
		}
	}
	return out
}

func silence(d time.Duration) []int16 {
	return make([]int16, int(d.Seconds()*rate))
}

func wavBuffer(t *testing.T, parts ...[]int16) *audio.Buffer {
	t.Helper()
	var samples []int16
	for _, p := range parts {
		samples = append(samples, p...)
	}
	data, err := audio.EncodeWAV(samples, rate)
	require.NoError(t, err)
	buf, err := audio.NewBuffer(data, "upload.wav")
	require.NoError(t, err)
	return buf
}

// firstSample returns the first non-zero sample of a segment, used to tell
// segments apart inside the fake client.
func firstSample(req transcribe.Request) int16 {
	for i := wavHeader; i+1 < len(req.Audio); i += 2 {
		if v := int16(binary.LittleEndian.Uint16(req.Audio[i:])); v != 0 {
			return v
		}
	}
	return 0
}

type ampClient struct {
	calls atomic.Int32
	fn    func(amp int16) (*transcribe.Response, error)
}

func (c *ampClient) Name() string { return "amp" }

func (c *ampClient) Transcribe(_ context.Context, req transcribe.Request) (*transcribe.Response, error) {
	c.calls.Add(1)
	return c.fn(firstSample(req))
}

type countingNormalizer struct {
	calls atomic.Int32
	inner Normalizer
}

func (n *countingNormalizer) Normalize(ctx context.Context, b *audio.Buffer) (*audio.PCM, error) {
	n.calls.Add(1)
	return n.inner.Normalize(ctx, b)
}

func fixedOptions(maxSeg time.Duration) Options {
	opts := DefaultOptions()
	opts.Segment.Mode = segment.ModeFixed
	opts.Segment.MaxSegment = maxSeg
	return opts
}

func newTestPipeline(c transcribe.Client, opts Options, obs Observer) (*Pipeline, *countingNormalizer) {
	norm := &countingNormalizer{inner: audio.NewNormalizer("ffmpeg", false)}
	return New(c, norm, opts, obs, zerolog.Nop()), norm
}

func TestRun_InvalidLanguageRejectedBeforeAudio(t *testing.T) {
	client := &ampClient{fn: func(int16) (*transcribe.Response, error) { return &transcribe.Response{Text: "x"}, nil }}
	obs := &countingObserver{}
	p, norm := newTestPipeline(client, DefaultOptions(), obs)

	for _, pair := range [][2]string{{"xx", "en"}, {"hi", "xx"}, {"", "en"}} {
		out, err := p.Run(context.Background(), wavBuffer(t, tone(time.Second, 8000)), pair[0], pair[1])
		assert.Nil(t, out)
		assert.Equal(t, KindInvalidLanguage, KindOf(err), "pair %v", pair)
	}
	// A nil buffer proves the audio is never touched.
	_, err := p.Run(context.Background(), nil, "xx", "en")
	assert.Equal(t, KindInvalidLanguage, KindOf(err))

	assert.Equal(t, int32(0), norm.calls.Load())
	assert.Equal(t, int32(0), client.calls.Load())
	assert.Equal(t, string(KindInvalidLanguage), obs.runs[0])
}

func TestRun_SingleSegmentPassthrough(t *testing.T) {
	client := &ampClient{fn: func(int16) (*transcribe.Response, error) {
		return &transcribe.Response{Text: "  hello world \n"}, nil
	}}
	obs := &countingObserver{}
	p, _ := newTestPipeline(client, DefaultOptions(), obs)

	out, err := p.Run(context.Background(), wavBuffer(t, tone(2*time.Second, 8000)), "hi", "en")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.Text)
	assert.Equal(t, 1, out.Segments)
	assert.False(t, out.Degraded)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, int32(1), client.calls.Load())
	assert.Equal(t, []string{"ok"}, obs.runs)
}

func TestRun_AllSilentNeverDispatches(t *testing.T) {
	client := &ampClient{fn: func(int16) (*transcribe.Response, error) { return &transcribe.Response{Text: "x"}, nil }}
	for _, mode := range []segment.Mode{segment.ModeSilence, segment.ModeFixed} {
		t.Run(mode.String(), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Segment.Mode = mode
			p, _ := newTestPipeline(client, opts, nil)

			out, err := p.Run(context.Background(), wavBuffer(t, silence(3*time.Second)), "hi", "en")
			assert.Nil(t, out)
			assert.Equal(t, KindSegmentationFailure, KindOf(err))
		})
	}
	assert.Equal(t, int32(0), client.calls.Load())
}

func TestRun_UnreadableAudio(t *testing.T) {
	client := &ampClient{fn: func(int16) (*transcribe.Response, error) { return &transcribe.Response{Text: "x"}, nil }}
	p, _ := newTestPipeline(client, DefaultOptions(), nil)

	buf, err := audio.NewBuffer([]byte("definitely not audio"), "clip.mp3")
	require.NoError(t, err)
	_, err = p.Run(context.Background(), buf, "hi", "en")
	assert.Equal(t, KindSegmentationFailure, KindOf(err))
	assert.ErrorIs(t, err, audio.ErrUnsupportedFormat)

	_, err = p.Run(context.Background(), nil, "hi", "en")
	assert.Equal(t, KindSegmentationFailure, KindOf(err))
	assert.Equal(t, int32(0), client.calls.Load())
}

func TestRun_AllSegmentsFailed(t *testing.T) {
	client := &ampClient{fn: func(int16) (*transcribe.Response, error) {
		return nil, fmt.Errorf("down: %w", transcribe.ErrUnavailable)
	}}
	obs := &countingObserver{}
	p, _ := newTestPipeline(client, fixedOptions(time.Second), obs)

	buf := wavBuffer(t, tone(time.Second, 1000), tone(time.Second, 2000), tone(500*time.Millisecond, 3000))
	out, err := p.Run(context.Background(), buf, "hi", "en")
	assert.Nil(t, out)
	assert.Equal(t, KindAllSegmentsFailed, KindOf(err))
	assert.True(t, errors.Is(err, &Error{Kind: KindAllSegmentsFailed}))
	assert.Equal(t, int32(3), client.calls.Load())
	assert.Equal(t, []string{string(KindAllSegmentsFailed)}, obs.runs)
}

func TestRun_DegradedKeepsOrder(t *testing.T) {
	words := map[int16]string{1000: "one", 2000: "two", 3000: "three"}
	client := &ampClient{fn: func(amp int16) (*transcribe.Response, error) {
		if amp == 2000 {
			return nil, fmt.Errorf("bad: %w", transcribe.ErrInvalidAudio)
		}
		return &transcribe.Response{Text: words[amp]}, nil
	}}
	obs := &countingObserver{}
	p, _ := newTestPipeline(client, fixedOptions(time.Second), obs)

	buf := wavBuffer(t, tone(time.Second, 1000), tone(time.Second, 2000), tone(time.Second, 3000))
	out, err := p.Run(context.Background(), buf, "hi", "en")
	require.NoError(t, err)
	assert.Equal(t, "one three", out.Text)
	assert.True(t, out.Degraded)
	assert.Equal(t, 3, out.Segments)
	assert.Equal(t, 1, out.FailedSegments)
	assert.Equal(t, []string{string(KindDegraded)}, obs.runs)
}

func TestRun_SilenceAwareSegmentsMergeWithOverlap(t *testing.T) {
	client := &ampClient{fn: func(amp int16) (*transcribe.Response, error) {
		switch amp {
		case 1000:
			return &transcribe.Response{Text: "the quick brown fox"}, nil
		case 2000:
			return &transcribe.Response{Text: "brown fox jumps"}, nil
		}
		return nil, fmt.Errorf("unexpected amplitude %d: %w", amp, transcribe.ErrInvalidAudio)
	}}
	opts := DefaultOptions()
	opts.Segment.MaxSegment = 3 * time.Second
	p, _ := newTestPipeline(client, opts, nil)

	// Cut lands at 2.5s, in the middle of the gap.
	buf := wavBuffer(t, tone(2*time.Second, 1000), silence(time.Second), tone(2*time.Second, 2000))
	out, err := p.Run(context.Background(), buf, "hi", "en")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Segments)
	assert.Equal(t, "the quick brown fox jumps", out.Text)
}

func TestRun_CancelledContext(t *testing.T) {
	client := &ampClient{fn: func(int16) (*transcribe.Response, error) { return &transcribe.Response{Text: "x"}, nil }}
	obs := &countingObserver{}
	p, _ := newTestPipeline(client, DefaultOptions(), obs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := p.Run(ctx, wavBuffer(t, tone(time.Second, 8000)), "hi", "en")
	assert.Nil(t, out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"cancelled"}, obs.runs)
}

func TestCheckSlots(t *testing.T) {
	segs := makeSegments(2)
	assert.NoError(t, checkSlots([]Result{{Index: 0}, {Index: 1}}, segs))
	assert.Equal(t, KindInternalMerge, KindOf(checkSlots([]Result{{Index: 0}}, segs)))
	assert.Equal(t, KindInternalMerge, KindOf(checkSlots([]Result{{Index: 1}, {Index: 0}}, segs)))
}

func TestLanguages(t *testing.T) {
	langs := Languages()
	assert.Len(t, langs, 23)
	assert.Equal(t, "as", langs[0].Code)
	for _, code := range []string{"hi", "gom", "sat", "mni", "en"} {
		assert.True(t, ValidLanguage(code), code)
	}
	assert.False(t, ValidLanguage("xx"))
	assert.False(t, ValidLanguage("HI"))
}
