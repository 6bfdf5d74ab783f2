package playback

import (
	"context"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Sink renders decoded audio. Play must return promptly once ctx is
// cancelled; it returns nil when the buffer was rendered completely.
type Sink interface {
	Play(ctx context.Context, buf *audio.Buffer) error
}

// Flusher is implemented by sinks that queue audio downstream (for example
// on a client). Flush discards anything queued but not yet heard. The player
// calls it whenever playback is interrupted rather than completed.
type Flusher interface {
	Flush()
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, buf *audio.Buffer) error

// Play calls f.
func (f SinkFunc) Play(ctx context.Context, buf *audio.Buffer) error { return f(ctx, buf) }

// PacedSink writes a buffer in fixed-duration chunks, waiting one chunk
// duration between writes so that playback on the far side stays roughly in
// step with the server. Interrupting ctx therefore stops the remainder of the
// utterance instead of an already delivered whole clip.
type PacedSink struct {
	write func(ctx context.Context, samples []int16) error
	flush func()
	chunk time.Duration
	lead  int
}

// PacedOption configures a [PacedSink].
type PacedOption func(*PacedSink)

// WithLead sends the first n chunks without waiting so the client can build a
// small jitter buffer. Default: 2.
func WithLead(n int) PacedOption {
	return func(s *PacedSink) {
		if n >= 0 {
			s.lead = n
		}
	}
}

// WithFlush sets the function called by [PacedSink.Flush].
func WithFlush(fn func()) PacedOption {
	return func(s *PacedSink) { s.flush = fn }
}

// NewPacedSink returns a PacedSink writing chunk-sized slices through write.
// A non-positive chunk selects 100ms.
func NewPacedSink(write func(ctx context.Context, samples []int16) error, chunk time.Duration, opts ...PacedOption) *PacedSink {
	if chunk <= 0 {
		chunk = 100 * time.Millisecond
	}
	s := &PacedSink{write: write, chunk: chunk, lead: 2}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Play implements [Sink].
func (s *PacedSink) Play(ctx context.Context, buf *audio.Buffer) error {
	n := int(int64(buf.SampleRate) * int64(s.chunk) / int64(time.Second))
	timer := time.NewTimer(s.chunk)
	timer.Stop()
	defer timer.Stop()

	for i, c := range buf.Chunks(max(n, 1)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.write(ctx, c); err != nil {
			return err
		}
		if i < s.lead {
			continue
		}
		timer.Reset(audio.SamplesDuration(len(c), buf.SampleRate))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Flush implements [Flusher].
func (s *PacedSink) Flush() {
	if s.flush != nil {
		s.flush()
	}
}
