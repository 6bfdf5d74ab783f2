package audio

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	// DefaultBufferSize is the number of samples per emitted frame.
	DefaultBufferSize = 4096

	// DefaultCaptureRate is the assumed input sample rate when none is set.
	DefaultCaptureRate = 16000

	// DefaultQueueDepth is the number of frames the delivery channel holds
	// before the overflow policy applies.
	DefaultQueueDepth = 32
)

// OverflowPolicy decides what a [Capturer] does when its consumer falls
// behind and the delivery queue is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued frame to make room for the new
	// one. The capture path never blocks.
	DropOldest OverflowPolicy = iota

	// Block applies backpressure: Process waits until the consumer drains a
	// frame or the capturer is closed.
	Block
)

// String returns the configuration name of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy parses a policy name as written in configuration.
// The empty string selects [DropOldest].
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop_oldest":
		return DropOldest, nil
	case "block":
		return Block, nil
	default:
		return DropOldest, fmt.Errorf("audio: unknown overflow policy %q; valid values: drop_oldest, block", s)
	}
}

// CaptureOption configures a [Capturer].
type CaptureOption func(*Capturer)

// WithSampleRate records the sample rate of the incoming stream on emitted
// frames. Default: 16000.
func WithSampleRate(rate int) CaptureOption {
	return func(c *Capturer) {
		if rate > 0 {
			c.rate = rate
		}
	}
}

// WithQueueDepth sets the capacity of the frame delivery channel.
// Default: 32.
func WithQueueDepth(n int) CaptureOption {
	return func(c *Capturer) {
		if n > 0 {
			c.depth = n
		}
	}
}

// WithOverflowPolicy selects the behaviour when the delivery channel is full.
// Default: [DropOldest].
func WithOverflowPolicy(p OverflowPolicy) CaptureOption {
	return func(c *Capturer) {
		c.policy = p
	}
}

// Capturer turns a continuous stream of floating-point samples into
// fixed-size PCM16 frames.
//
// Samples are accumulated into a buffer of the configured size; every time the
// buffer fills, a frame is emitted on [Capturer.Frames] and accumulation
// continues with the rest of the input block. Frame size is constant, so no
// framing header is needed downstream.
//
// Process is intended to be called from a single producer goroutine. Frames
// and Close may be used from any goroutine.
type Capturer struct {
	size   int
	rate   int
	depth  int
	policy OverflowPolicy

	mu     sync.Mutex
	buf    []int16
	cursor int
	seq    uint64
	closed bool

	frames    chan AudioFrame
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewCapturer creates a Capturer emitting frames of bufferSize samples.
// A non-positive bufferSize selects [DefaultBufferSize].
func NewCapturer(bufferSize int, opts ...CaptureOption) *Capturer {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	c := &Capturer{
		size:  bufferSize,
		rate:  DefaultCaptureRate,
		depth: DefaultQueueDepth,
	}
	for _, o := range opts {
		o(c)
	}
	c.buf = make([]int16, c.size)
	c.frames = make(chan AudioFrame, c.depth)
	c.done = make(chan struct{})
	return c
}

// BufferSize returns the number of samples in every emitted frame.
func (c *Capturer) BufferSize() int { return c.size }

// SampleRate returns the sample rate stamped on emitted frames.
func (c *Capturer) SampleRate() int { return c.rate }

// Frames returns the delivery channel. It is closed by [Capturer.Close].
func (c *Capturer) Frames() <-chan AudioFrame { return c.frames }

// Dropped reports how many frames the [DropOldest] policy has discarded.
func (c *Capturer) Dropped() uint64 { return c.dropped.Load() }

// Process appends one block of samples, emitting a frame each time the
// accumulation buffer fills. An empty block is a no-op. Process never fails;
// after Close it silently discards input.
func (c *Capturer) Process(block []float32) {
	if len(block) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	for _, s := range block {
		c.buf[c.cursor] = FloatToPCM16(s)
		c.cursor++
		if c.cursor == c.size {
			frame := AudioFrame{
				Samples:    c.buf,
				SampleRate: c.rate,
				Seq:        c.seq,
				Timestamp:  SamplesDuration(int(c.seq)*c.size, c.rate),
			}
			c.seq++
			c.buf = make([]int16, c.size)
			c.cursor = 0
			c.emitLocked(frame)
		}
	}
}

// emitLocked delivers frame according to the overflow policy.
// Must be called with c.mu held.
func (c *Capturer) emitLocked(frame AudioFrame) {
	if c.policy == Block {
		select {
		case c.frames <- frame:
		case <-c.done:
		}
		return
	}

	for {
		select {
		case c.frames <- frame:
			return
		default:
		}
		// Queue is full: evict the oldest frame. The consumer may have
		// drained it concurrently, in which case the next send succeeds.
		select {
		case <-c.frames:
			c.dropped.Add(1)
		default:
		}
	}
}

// Close stops frame delivery and closes the [Capturer.Frames] channel. Frames
// still queued remain readable. Samples accumulated in a partial frame are
// discarded. Close is idempotent.
func (c *Capturer) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		close(c.frames)
		c.mu.Unlock()
	})
	return nil
}
